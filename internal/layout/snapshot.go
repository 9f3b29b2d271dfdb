package layout

import "github.com/user/agentmux/internal/id"

// NodeSnapshot is a serializable copy of one layout tree node, used by
// internal/persistence to checkpoint a window's split structure and to
// rebuild it on recovery without replaying every Split call.
type NodeSnapshot struct {
	IsLeaf      bool
	Pane        id.ID `json:"-"`
	PaneID      string
	Orientation Orientation
	Ratio       float64
	First       *NodeSnapshot
	Second      *NodeSnapshot
}

// Snapshot returns a serializable copy of the tree.
func (t *Tree) Snapshot() *NodeSnapshot {
	return snapshotNode(t.root)
}

func snapshotNode(n *node) *NodeSnapshot {
	if n == nil {
		return nil
	}
	if n.isLeaf {
		return &NodeSnapshot{IsLeaf: true, Pane: n.pane, PaneID: n.pane.String()}
	}
	return &NodeSnapshot{
		IsLeaf:      false,
		Orientation: n.orientation,
		Ratio:       n.ratio,
		First:       snapshotNode(n.first),
		Second:      snapshotNode(n.second),
	}
}

// FromSnapshot rebuilds a Tree from a NodeSnapshot produced by Snapshot.
func FromSnapshot(snap *NodeSnapshot) *Tree {
	leaves := make(map[id.ID]*node)
	root := buildNode(snap, nil, leaves)
	return &Tree{root: root, leaves: leaves}
}

func buildNode(snap *NodeSnapshot, parent *node, leaves map[id.ID]*node) *node {
	if snap == nil {
		return nil
	}
	n := &node{parent: parent}
	if snap.IsLeaf {
		n.isLeaf = true
		n.pane = snap.Pane
		leaves[n.pane] = n
		return n
	}
	n.orientation = snap.Orientation
	n.ratio = snap.Ratio
	n.first = buildNode(snap.First, n, leaves)
	n.second = buildNode(snap.Second, n, leaves)
	return n
}
