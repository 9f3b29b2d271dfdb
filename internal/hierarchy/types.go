// Package hierarchy owns the session → window → pane tree (spec §4.5),
// wiring each pane to a PTY (internal/pty), a VT screen (internal/vtscreen),
// a layout tree (internal/layout), and the agent detector
// (internal/detector), and broadcasting lifecycle events through the client
// registry (internal/registry). It generalizes the shape of the teacher's
// internal/session.Manager (a map of entities behind a mutex, a registry
// reference, an errNotFound/IsNotFound helper pair) but replaces its
// sql.DB-backed task/project/worktree model with the spec's pure in-memory
// arena of sessions/windows/panes, addressed by id the way spec §9's
// "Arenas over pointer graphs" design note prescribes: structs hold ids of
// what they reference, not pointers, and a manager-level concurrent index
// resolves any id to its current struct in O(1).
package hierarchy

import (
	"sync"
	"time"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/vtscreen"
)

// Pane is a terminal viewport backed by one PTY child (spec §3).
type Pane struct {
	ID       id.ID
	WindowID id.ID

	Cols, Rows int
	Name       string

	Screen *vtscreen.Screen
	Live   bool // true iff a PTY child is currently attached

	// HarnessKind is copied from the preset that spawned this pane
	// (claude/gemini/codex/shell/custom), or "" when spawned without a
	// preset. It is exposed through the agent-summary MCP tool so a
	// caller does not have to re-derive it from the command line.
	HarnessKind string

	CreatedAt         time.Time
	LastStateChangeAt time.Time
}

// Window is a session's layout-tree container of panes (spec §3).
type Window struct {
	ID        id.ID
	SessionID id.ID

	Index int
	Name  string

	Panes       []*Pane
	CurrentPane id.ID
	Layout      *layout.Tree

	// Cols/Rows is the window's last-known full area, used to recompute
	// per-pane areas from the layout tree on resize and split.
	Cols, Rows int
}

// Session is the top-level routing unit (spec §3). All mutation of a
// Session and its Windows/Panes is serialized through mu, per spec §5's
// "each session has its own mutex" requirement.
type Session struct {
	mu sync.Mutex

	ID         id.ID
	Name       string
	Cwd        string
	Env        map[string]string
	Tags       map[string]struct{}
	Metadata   map[string]string
	TaskListID string

	Windows       []*Window
	CurrentWindow id.ID

	CreatedAt    time.Time
	LastActivity time.Time
}

func (s *Session) findWindowLocked(windowID id.ID) *Window {
	for _, w := range s.Windows {
		if w.ID == windowID {
			return w
		}
	}
	return nil
}

// PaneSnapshot is a point-in-time, lock-free copy of a pane's observable
// state, safe to hand to callers outside this package.
type PaneSnapshot struct {
	ID          id.ID
	Cols        int
	Rows        int
	Name        string
	Live        bool
	HarnessKind string
	CreatedAt   time.Time
}

// WindowSnapshot is a point-in-time copy of a window's observable state.
type WindowSnapshot struct {
	ID          id.ID
	Index       int
	Name        string
	CurrentPane id.ID
	Cols, Rows  int
	Panes       []PaneSnapshot
}

// SessionSnapshot is a point-in-time copy of a session's observable state,
// including its derived AttachedClients count (spec §3: "the registry is
// authoritative; the count is derived").
type SessionSnapshot struct {
	ID              id.ID
	Name            string
	Cwd             string
	Env             map[string]string
	Tags            []string
	Metadata        map[string]string
	TaskListID      string
	CreatedAt       time.Time
	LastActivity    time.Time
	AttachedClients int
	Windows         []WindowSnapshot
}
