package hierarchy

import (
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/detector"
	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/vtscreen"
	"github.com/user/agentmux/internal/wire"
)

// SplitPaneParams configures SplitPane.
type SplitPaneParams struct {
	SourcePane  string
	Orientation layout.Orientation
	Ratio       float64
	Command     []string
	Cwd         string
	Env         map[string]string
	Sandbox     *pty.SandboxConfig
	// Preset names a presets.<name> spawn template supplying Command/Env/
	// Sandbox/HarnessKind defaults for the split's new pane, same as
	// CreateWindowParams.Preset.
	Preset string
}

// SplitPane inserts a new leaf in the layout tree adjacent to the source
// pane, spawns a new PTY, resizes every affected sibling, and emits a
// PaneCreated broadcast (spec §4.5).
func (m *Manager) SplitPane(p SplitPaneParams) (*Pane, error) {
	source, err := m.ResolvePane(p.SourcePane)
	if err != nil {
		return nil, err
	}
	win, err := m.windowOf(source.WindowID)
	if err != nil {
		return nil, err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return nil, err
	}

	newPaneID := id.New()

	sess.mu.Lock()
	if err := win.Layout.Split(source.ID, newPaneID, p.Orientation, p.Ratio); err != nil {
		sess.mu.Unlock()
		return nil, daemonerr.Wrap(daemonerr.InvalidParams, p.SourcePane, err)
	}
	areas := win.Layout.Areas(layout.Rect{Cols: win.Cols, Rows: win.Rows})
	sess.mu.Unlock()

	area := areas[newPaneID]
	pane := &Pane{
		ID:                newPaneID,
		WindowID:          win.ID,
		Cols:              area.Cols,
		Rows:              area.Rows,
		CreatedAt:         time.Now(),
		LastStateChangeAt: time.Now(),
		Screen:            vtscreen.NewWithOptions(area.Cols, area.Rows, m.scrollbackLines, m.logger),
	}
	if preset := m.resolvePreset(p.Preset); preset != nil {
		pane.HarnessKind = preset.Harness
	}
	m.spawnPane(sess, pane, windowParams{
		Command: p.Command, Cwd: firstNonEmpty(p.Cwd, sess.Cwd), Env: p.Env,
		Cols: area.Cols, Rows: area.Rows, Sandbox: p.Sandbox, Preset: p.Preset,
	})

	m.mu.Lock()
	m.panes[newPaneID] = pane
	m.mu.Unlock()

	sess.mu.Lock()
	win.Panes = append(win.Panes, pane)
	win.CurrentPane = newPaneID
	siblings := append([]*Pane(nil), win.Panes...)
	sess.mu.Unlock()

	for _, other := range siblings {
		if other.ID == newPaneID {
			continue
		}
		if a, ok := areas[other.ID]; ok {
			if err := m.resizePaneTo(sess, other, a.Cols, a.Rows); err != nil {
				return nil, err
			}
		}
	}

	env, encErr := wire.EncodeBody(wire.KindPaneCreated, 0, wire.PaneCreatedBroadcast{
		SessionID: sess.ID.String(), WindowID: win.ID.String(), PaneID: newPaneID.String(),
	})
	if encErr == nil {
		m.registry.Broadcast(sess.ID, env)
	}

	if err := m.recorder.Record(RecordPaneCreated, PaneCreatedRecord{
		SessionID: sess.ID, WindowID: win.ID, PaneID: newPaneID, SourcePaneID: source.ID,
		Orientation: p.Orientation, Cols: area.Cols, Rows: area.Rows,
	}); err != nil {
		return nil, m.fatalOnRecordFailure("record pane created", err)
	}

	return pane, nil
}

// ResizePane resizes a pane. Multi-pane windows derive every pane's
// dimensions from the layout tree, so resizing one pane in isolation is
// only well-defined when it is the window's sole pane; otherwise it returns
// InvalidParams and callers must use ResizeWindow.
func (m *Manager) ResizePane(ref string, cols, rows int) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	win, err := m.windowOf(pane.WindowID)
	if err != nil {
		return err
	}

	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	single := win.Layout.PaneCount() == 1
	sess.mu.Unlock()
	if !single {
		return daemonerr.New(daemonerr.InvalidParams, "resize a multi-pane window with ResizeWindow, not ResizePane")
	}
	return m.ResizeWindow(win.ID.String(), cols, rows)
}

// FocusPane marks a pane as its window's current pane, the MCP tool
// surface's "focus" verb (spec.md §4.9). It is purely a bookkeeping update:
// the pane's PTY and screen are untouched, and every attached client keeps
// receiving output from every pane in the window regardless of focus.
func (m *Manager) FocusPane(ref string) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	win, err := m.windowOf(pane.WindowID)
	if err != nil {
		return err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	win.CurrentPane = pane.ID
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordPaneFocused, PaneFocusedRecord{
		SessionID: sess.ID, WindowID: win.ID, PaneID: pane.ID,
	}); err != nil {
		return m.fatalOnRecordFailure("record pane focused", err)
	}
	return nil
}

// RenamePane sets a pane's display name (spec §4.9's "rename ... panes"
// tool), independent of the session/window naming path.
func (m *Manager) RenamePane(ref, newName string) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	win, err := m.windowOf(pane.WindowID)
	if err != nil {
		return err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	pane.Name = newName
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordPaneRenamed, PaneRenamedRecord{
		SessionID: sess.ID, WindowID: win.ID, PaneID: pane.ID, NewName: newName,
	}); err != nil {
		return m.fatalOnRecordFailure("record pane renamed", err)
	}
	return nil
}

// DestroyPane terminates the pane's child, collapses the layout tree,
// resizes surviving siblings, and removes the pane from its window (spec
// §4.5).
func (m *Manager) DestroyPane(ref string) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	win, err := m.windowOf(pane.WindowID)
	if err != nil {
		return err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if err := win.Layout.Close(pane.ID); err != nil {
		sess.mu.Unlock()
		return daemonerr.Wrap(daemonerr.InvalidParams, ref, err)
	}
	for i, p := range win.Panes {
		if p.ID == pane.ID {
			win.Panes = append(win.Panes[:i], win.Panes[i+1:]...)
			break
		}
	}
	if win.CurrentPane == pane.ID && len(win.Panes) > 0 {
		win.CurrentPane = win.Panes[0].ID
	}
	areas := win.Layout.Areas(layout.Rect{Cols: win.Cols, Rows: win.Rows})
	remaining := append([]*Pane(nil), win.Panes...)
	sess.mu.Unlock()

	_ = m.ptys.Destroy(pane.ID)
	m.detector.Forget(pane.ID.String())

	m.mu.Lock()
	delete(m.panes, pane.ID)
	m.mu.Unlock()

	for _, other := range remaining {
		if a, ok := areas[other.ID]; ok {
			if err := m.resizePaneTo(sess, other, a.Cols, a.Rows); err != nil {
				return err
			}
		}
	}

	env, encErr := wire.EncodeBody(wire.KindPaneDestroyed, 0, wire.PaneDestroyedBroadcast{
		SessionID: sess.ID.String(), PaneID: pane.ID.String(),
	})
	if encErr == nil {
		m.registry.Broadcast(sess.ID, env)
	}

	if err := m.recorder.Record(RecordPaneDestroyed, PaneDestroyedRecord{SessionID: sess.ID, WindowID: win.ID, PaneID: pane.ID}); err != nil {
		return m.fatalOnRecordFailure("record pane destroyed", err)
	}
	return nil
}

// WritePaneInput writes bytes to a pane's PTY, optionally issuing a
// separate carriage-return write for "submit" semantics (spec §4.2).
func (m *Manager) WritePaneInput(ref string, data []byte, submit bool) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	if err := m.ptys.Write(pane.ID, data, submit); err != nil {
		return daemonerr.Wrap(daemonerr.PtyClosed, ref, err)
	}
	return nil
}

// PastePane writes bracketed-paste-wrapped bytes to a pane's PTY.
func (m *Manager) PastePane(ref string, data []byte) error {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return err
	}
	if err := m.ptys.Paste(pane.ID, data); err != nil {
		return daemonerr.Wrap(daemonerr.PtyClosed, ref, err)
	}
	return nil
}

// ReadPane returns up to n trailing lines of a pane's scrollback-plus-
// visible-screen (spec §4.3), optionally ANSI-stripped.
func (m *Manager) ReadPane(ref string, lines int, stripANSI bool) ([]string, error) {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return nil, err
	}
	tail := pane.Screen.Tail(lines)
	if !stripANSI {
		return tail, nil
	}
	out := make([]string, len(tail))
	for i, l := range tail {
		out[i] = detector.StripANSI(l)
	}
	return out, nil
}

// AgentSummary is the agent-detector snapshot for one pane, surfaced by the
// MCP "agent-summary" tool (spec §4.9).
type AgentSummary struct {
	PaneID      string
	State       detector.State
	HarnessKind string
}

// AgentSummaryFor returns the detector's current classification for a pane.
func (m *Manager) AgentSummaryFor(ref string) (AgentSummary, error) {
	pane, err := m.ResolvePane(ref)
	if err != nil {
		return AgentSummary{}, err
	}
	return AgentSummary{
		PaneID:      pane.ID.String(),
		State:       m.detector.State(pane.ID.String()),
		HarnessKind: pane.HarnessKind,
	}, nil
}

// runDetectorBroadcaster turns detector state transitions into
// PaneStateChanged broadcasts on the owning session. It runs for the
// lifetime of the Manager.
func (m *Manager) runDetectorBroadcaster() {
	for t := range m.detector.Transitions() {
		pid, err := id.Parse(t.PaneID)
		if err != nil {
			continue
		}

		m.mu.RLock()
		pane, ok := m.panes[pid]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		win, err := m.windowOf(pane.WindowID)
		if err != nil {
			continue
		}
		sess, err := m.sessionOf(win.SessionID)
		if err != nil {
			continue
		}

		sess.mu.Lock()
		pane.LastStateChangeAt = time.Now()
		sess.mu.Unlock()

		detail := t.Description
		if t.State == detector.Custom {
			detail = t.CustomTag
		}

		env, encErr := wire.EncodeBody(wire.KindPaneStateChanged, 0, wire.PaneStateChangedBroadcast{
			SessionID: sess.ID.String(), PaneID: pane.ID.String(), State: string(t.State), Detail: detail,
		})
		if encErr == nil {
			m.registry.Broadcast(sess.ID, env)
		}
	}
}
