package hierarchy

import (
	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/registry"
)

// ResolveSession resolves ref to a session: a parseable identifier is
// looked up by id, otherwise by name; an empty ref resolves to the active
// session (spec §4.5, §4.6).
func (m *Manager) ResolveSession(ref string) (*Session, error) {
	if ref == "" {
		return m.activeSession()
	}
	if sid, err := id.Parse(ref); err == nil {
		m.mu.RLock()
		sess, ok := m.sessions[sid]
		m.mu.RUnlock()
		if !ok {
			return nil, daemonerr.New(daemonerr.SessionNotFound, ref)
		}
		return sess, nil
	}

	m.mu.RLock()
	sid, ok := m.names[ref]
	var sess *Session
	if ok {
		sess = m.sessions[sid]
	}
	m.mu.RUnlock()
	if !ok || sess == nil {
		return nil, daemonerr.New(daemonerr.SessionNotFound, ref)
	}
	return sess, nil
}

// ResolveWindow resolves ref to a window: a parseable identifier is looked
// up by id, otherwise by matching window name across all sessions (window
// names are a per-session convenience, not a routing guarantee — the first
// match in map iteration order wins).
func (m *Manager) ResolveWindow(ref string) (*Window, error) {
	if wid, err := id.Parse(ref); err == nil {
		m.mu.RLock()
		win, ok := m.windows[wid]
		m.mu.RUnlock()
		if !ok {
			return nil, daemonerr.New(daemonerr.WindowNotFound, ref)
		}
		return win, nil
	}
	if ref == "" {
		return nil, daemonerr.New(daemonerr.WindowNotFound, ref)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, win := range m.windows {
		if win.Name == ref {
			return win, nil
		}
	}
	return nil, daemonerr.New(daemonerr.WindowNotFound, ref)
}

// ResolvePane resolves ref to a pane: a parseable identifier is looked up
// by id, otherwise by matching pane name across all windows.
func (m *Manager) ResolvePane(ref string) (*Pane, error) {
	if pid, err := id.Parse(ref); err == nil {
		m.mu.RLock()
		pane, ok := m.panes[pid]
		m.mu.RUnlock()
		if !ok {
			return nil, daemonerr.New(daemonerr.PaneNotFound, ref)
		}
		return pane, nil
	}
	if ref == "" {
		return nil, daemonerr.New(daemonerr.PaneNotFound, ref)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pane := range m.panes {
		if pane.Name == ref {
			return pane, nil
		}
	}
	return nil, daemonerr.New(daemonerr.PaneNotFound, ref)
}

func (m *Manager) sessionOf(sessionID id.ID) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, daemonerr.New(daemonerr.SessionNotFound, sessionID.String())
	}
	return sess, nil
}

func (m *Manager) windowOf(windowID id.ID) (*Window, error) {
	m.mu.RLock()
	win, ok := m.windows[windowID]
	m.mu.RUnlock()
	if !ok {
		return nil, daemonerr.New(daemonerr.WindowNotFound, windowID.String())
	}
	return win, nil
}

// activeSession implements the §4.6 heuristic: the greatest attached-client
// count, ties broken by most-recent last-activity; NoSession if no sessions
// exist.
func (m *Manager) activeSession() (*Session, error) {
	m.mu.RLock()
	candidates := make([]registry.SessionActivity, 0, len(m.sessions))
	bySession := make(map[id.ID]*Session, len(m.sessions))
	for sid, sess := range m.sessions {
		sess.mu.Lock()
		last := sess.LastActivity
		sess.mu.Unlock()
		candidates = append(candidates, registry.SessionActivity{
			ID:              sid,
			AttachedClients: m.registry.AttachedCount(sid),
			LastActivity:    last,
		})
		bySession[sid] = sess
	}
	m.mu.RUnlock()

	sid, ok := registry.ResolveActive(candidates)
	if !ok {
		return nil, daemonerr.New(daemonerr.NoSession, "")
	}
	return bySession[sid], nil
}
