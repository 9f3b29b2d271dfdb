package hierarchy

import (
	"time"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/vtscreen"
)

// PaneCheckpoint is the recoverable portion of a pane: everything except its
// live PTY handle and VT screen contents, which spec §4.10 explicitly does
// not recover ("PTYs are not respawned... recovered panes exist without a
// live child handle until the client requests respawn").
type PaneCheckpoint struct {
	ID          id.ID
	Cols, Rows  int
	Name        string
	HarnessKind string
	CreatedAt   time.Time
}

// WindowCheckpoint is the recoverable portion of a window, including its
// layout tree structure so a recovered window's splits match pre-restart
// exactly rather than only its leaf set.
type WindowCheckpoint struct {
	ID          id.ID
	Index       int
	Name        string
	Cols, Rows  int
	CurrentPane id.ID
	Layout      *layout.NodeSnapshot
	Panes       []PaneCheckpoint
}

// SessionCheckpoint is the recoverable portion of a session.
type SessionCheckpoint struct {
	ID            id.ID
	Name          string
	Cwd           string
	Env           map[string]string
	Tags          []string
	Metadata      map[string]string
	TaskListID    string
	CreatedAt     time.Time
	LastActivity  time.Time
	CurrentWindow id.ID
	Windows       []WindowCheckpoint
}

// Checkpoint returns a serializable copy of the full hierarchy, suitable
// for internal/persistence to write to a checkpoint file.
func (m *Manager) Checkpoint() []SessionCheckpoint {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionCheckpoint, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		sc := SessionCheckpoint{
			ID: s.ID, Name: s.Name, Cwd: s.Cwd, Env: cloneStringMap(s.Env),
			Metadata: cloneStringMap(s.Metadata), TaskListID: s.TaskListID,
			CreatedAt: s.CreatedAt, LastActivity: s.LastActivity, CurrentWindow: s.CurrentWindow,
		}
		for t := range s.Tags {
			sc.Tags = append(sc.Tags, t)
		}
		for _, w := range s.Windows {
			wc := WindowCheckpoint{
				ID: w.ID, Index: w.Index, Name: w.Name, Cols: w.Cols, Rows: w.Rows,
				CurrentPane: w.CurrentPane, Layout: w.Layout.Snapshot(),
			}
			for _, p := range w.Panes {
				wc.Panes = append(wc.Panes, PaneCheckpoint{
					ID: p.ID, Cols: p.Cols, Rows: p.Rows, Name: p.Name,
					HarnessKind: p.HarnessKind, CreatedAt: p.CreatedAt,
				})
			}
			sc.Windows = append(sc.Windows, wc)
		}
		s.mu.Unlock()
		out = append(out, sc)
	}
	return out
}

// Restore rebuilds the hierarchy's in-memory arenas from a checkpoint plus
// any WAL records replayed after it, without spawning PTYs (spec §4.10).
// It must be called on a freshly constructed, still-empty Manager.
func (m *Manager) Restore(sessions []SessionCheckpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sc := range sessions {
		sess := &Session{
			ID: sc.ID, Name: sc.Name, Cwd: sc.Cwd, Env: cloneStringMap(sc.Env),
			Tags: newTagSet(sc.Tags), Metadata: cloneStringMap(sc.Metadata), TaskListID: sc.TaskListID,
			CreatedAt: sc.CreatedAt, LastActivity: sc.LastActivity, CurrentWindow: sc.CurrentWindow,
		}
		for _, wc := range sc.Windows {
			win := &Window{
				ID: wc.ID, SessionID: sess.ID, Index: wc.Index, Name: wc.Name,
				CurrentPane: wc.CurrentPane, Cols: wc.Cols, Rows: wc.Rows,
				Layout: layout.FromSnapshot(wc.Layout),
			}
			for _, pc := range wc.Panes {
				pane := &Pane{
					ID: pc.ID, WindowID: win.ID, Cols: pc.Cols, Rows: pc.Rows, Name: pc.Name,
					HarnessKind: pc.HarnessKind, CreatedAt: pc.CreatedAt, Live: false,
					Screen: vtscreen.NewWithOptions(pc.Cols, pc.Rows, m.scrollbackLines, m.logger),
				}
				win.Panes = append(win.Panes, pane)
				m.panes[pane.ID] = pane
			}
			sess.Windows = append(sess.Windows, win)
			m.windows[win.ID] = win
		}
		m.sessions[sess.ID] = sess
		m.names[sess.Name] = sess.ID
	}
}

// ApplyRecord replays one durable WAL record against the hierarchy, used by
// internal/persistence during recovery to bring a restored checkpoint
// forward to the log's tail. It intentionally does not call the recorder
// again (that would re-append the very record being replayed) and does not
// spawn PTYs, matching Restore's no-live-handle guarantee.
func (m *Manager) ApplyRecord(kind RecordKind, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case RecordSessionCreated:
		r := payload.(SessionCreatedRecord)
		sess := &Session{
			ID: r.SessionID, Name: r.Name, Cwd: r.Cwd, Env: cloneStringMap(r.Env),
			Tags: newTagSet(r.Tags), Metadata: cloneStringMap(r.Metadata), TaskListID: r.TaskListID,
			CreatedAt: r.CreatedAt, LastActivity: r.CreatedAt,
		}
		pane := &Pane{ID: r.PaneID, Cols: r.Cols, Rows: r.Rows, CreatedAt: r.CreatedAt,
			Screen: vtscreen.NewWithOptions(r.Cols, r.Rows, m.scrollbackLines, m.logger)}
		win := &Window{ID: r.WindowID, SessionID: sess.ID, Cols: r.Cols, Rows: r.Rows,
			CurrentPane: r.PaneID, Panes: []*Pane{pane}, Layout: layout.NewTree(r.PaneID)}
		pane.WindowID = win.ID
		sess.Windows = []*Window{win}
		sess.CurrentWindow = win.ID
		m.sessions[sess.ID] = sess
		m.names[sess.Name] = sess.ID
		m.windows[win.ID] = win
		m.panes[pane.ID] = pane

	case RecordSessionRenamed:
		r := payload.(SessionRenamedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			delete(m.names, sess.Name)
			sess.Name = r.NewName
			m.names[sess.Name] = sess.ID
		}

	case RecordSessionDestroyed:
		r := payload.(SessionDestroyedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			for _, w := range sess.Windows {
				for _, p := range w.Panes {
					delete(m.panes, p.ID)
				}
				delete(m.windows, w.ID)
			}
			delete(m.names, sess.Name)
			delete(m.sessions, r.SessionID)
		}

	case RecordWindowCreated:
		r := payload.(WindowCreatedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			pane := &Pane{ID: r.PaneID, Cols: r.Cols, Rows: r.Rows,
				Screen: vtscreen.NewWithOptions(r.Cols, r.Rows, m.scrollbackLines, m.logger)}
			win := &Window{ID: r.WindowID, SessionID: sess.ID, Name: r.Name, Cols: r.Cols, Rows: r.Rows,
				CurrentPane: r.PaneID, Panes: []*Pane{pane}, Layout: layout.NewTree(r.PaneID),
				Index: len(sess.Windows)}
			pane.WindowID = win.ID
			sess.Windows = append(sess.Windows, win)
			sess.CurrentWindow = win.ID
			m.windows[win.ID] = win
			m.panes[pane.ID] = pane
		}

	case RecordWindowDestroyed:
		r := payload.(WindowDestroyedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			if win, ok := m.windows[r.WindowID]; ok {
				for _, p := range win.Panes {
					delete(m.panes, p.ID)
				}
				delete(m.windows, r.WindowID)
			}
			for i, w := range sess.Windows {
				if w.ID == r.WindowID {
					sess.Windows = append(sess.Windows[:i], sess.Windows[i+1:]...)
					break
				}
			}
		}

	case RecordWindowRenamed:
		r := payload.(WindowRenamedRecord)
		if win, ok := m.windows[r.WindowID]; ok {
			win.Name = r.NewName
		}

	case RecordPaneCreated:
		r := payload.(PaneCreatedRecord)
		if win, ok := m.windows[r.WindowID]; ok {
			_ = win.Layout.Split(r.SourcePaneID, r.PaneID, r.Orientation, 0.5)
			pane := &Pane{ID: r.PaneID, WindowID: r.WindowID, Cols: r.Cols, Rows: r.Rows,
				Screen: vtscreen.NewWithOptions(r.Cols, r.Rows, m.scrollbackLines, m.logger)}
			win.Panes = append(win.Panes, pane)
			win.CurrentPane = r.PaneID
			m.panes[r.PaneID] = pane
		}

	case RecordPaneDestroyed:
		r := payload.(PaneDestroyedRecord)
		if win, ok := m.windows[r.WindowID]; ok {
			_ = win.Layout.Close(r.PaneID)
			for i, p := range win.Panes {
				if p.ID == r.PaneID {
					win.Panes = append(win.Panes[:i], win.Panes[i+1:]...)
					break
				}
			}
		}
		delete(m.panes, r.PaneID)

	case RecordPaneResized:
		r := payload.(PaneResizedRecord)
		if pane, ok := m.panes[r.PaneID]; ok {
			pane.Cols, pane.Rows = r.Cols, r.Rows
		}

	case RecordWindowResized:
		r := payload.(WindowResizedRecord)
		if win, ok := m.windows[r.WindowID]; ok {
			win.Cols, win.Rows = r.Cols, r.Rows
		}

	case RecordPaneFocused:
		r := payload.(PaneFocusedRecord)
		if win, ok := m.windows[r.WindowID]; ok {
			win.CurrentPane = r.PaneID
		}

	case RecordPaneRenamed:
		r := payload.(PaneRenamedRecord)
		if pane, ok := m.panes[r.PaneID]; ok {
			pane.Name = r.NewName
		}

	case RecordTagsUpdated:
		r := payload.(TagsUpdatedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			sess.Tags = newTagSet(r.Tags)
		}

	case RecordMetadataUpdated:
		r := payload.(MetadataUpdatedRecord)
		if sess, ok := m.sessions[r.SessionID]; ok {
			sess.Metadata = cloneStringMap(r.Metadata)
		}
	}
}
