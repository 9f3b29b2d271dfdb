package hierarchy

import (
	"os"
	"path/filepath"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/presets"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/vtscreen"
	"github.com/user/agentmux/internal/wire"
)

// windowParams is the spawn configuration shared by CreateSession's default
// window, CreateWindow, and SplitPane's new leaf.
type windowParams struct {
	Name    string
	Command []string
	Cwd     string
	Env     map[string]string
	Cols    int
	Rows    int
	Sandbox *pty.SandboxConfig
	Preset  string
}

// CreateWindowParams configures CreateWindow.
type CreateWindowParams struct {
	Session string // id, name, or empty for the active session
	Name    string
	Command []string
	Cwd     string
	Env     map[string]string
	Cols    int
	Rows    int
	Sandbox *pty.SandboxConfig
	Preset  string
}

// CreateWindow creates a window with one default pane with a spawned PTY,
// defaulting the session to the caller's active session (spec §4.5).
func (m *Manager) CreateWindow(p CreateWindowParams) (*Session, *Window, *Pane, error) {
	sess, err := m.ResolveSession(p.Session)
	if err != nil {
		return nil, nil, nil, err
	}

	cols, rows := p.Cols, p.Rows
	sess.mu.Lock()
	if cols <= 0 || rows <= 0 {
		if cw := sess.findWindowLocked(sess.CurrentWindow); cw != nil {
			cols, rows = cw.Cols, cw.Rows
		}
	}
	index := len(sess.Windows)
	sess.mu.Unlock()
	cols, rows = normalizeDims(cols, rows)

	win, pane, err := m.buildWindow(sess, windowParams{
		Name: p.Name, Command: p.Command, Cwd: p.Cwd, Env: p.Env,
		Cols: cols, Rows: rows, Sandbox: p.Sandbox, Preset: p.Preset,
	}, index)
	if err != nil {
		return nil, nil, nil, err
	}

	sess.mu.Lock()
	sess.Windows = append(sess.Windows, win)
	sess.CurrentWindow = win.ID
	sess.mu.Unlock()

	// KindWindowCreated is the direct request/response reply only (spec
	// §4.1); other attached clients learn of the new window through the
	// PaneCreated broadcast for its default pane, same as any other split.
	env, encErr := wire.EncodeBody(wire.KindPaneCreated, 0, wire.PaneCreatedBroadcast{
		SessionID: sess.ID.String(), WindowID: win.ID.String(), PaneID: pane.ID.String(),
	})
	if encErr == nil {
		m.registry.Broadcast(sess.ID, env)
	}

	if err := m.recorder.Record(RecordWindowCreated, WindowCreatedRecord{
		SessionID: sess.ID, WindowID: win.ID, PaneID: pane.ID, Name: win.Name, Cols: cols, Rows: rows,
	}); err != nil {
		return nil, nil, nil, m.fatalOnRecordFailure("record window created", err)
	}

	return sess, win, pane, nil
}

// DestroyWindow cascades destruction to every pane in the window and
// terminates their PTYs. A session's last window cannot be destroyed
// (destroy the session instead); that case returns InvalidParams.
func (m *Manager) DestroyWindow(ref string) error {
	win, err := m.ResolveWindow(ref)
	if err != nil {
		return err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if len(sess.Windows) <= 1 {
		sess.mu.Unlock()
		return daemonerr.New(daemonerr.InvalidParams, "cannot destroy a session's last window")
	}
	idx := -1
	for i, w := range sess.Windows {
		if w.ID == win.ID {
			idx = i
			break
		}
	}
	if idx == -1 {
		sess.mu.Unlock()
		return daemonerr.New(daemonerr.WindowNotFound, ref)
	}
	sess.Windows = append(sess.Windows[:idx], sess.Windows[idx+1:]...)
	if sess.CurrentWindow == win.ID && len(sess.Windows) > 0 {
		sess.CurrentWindow = sess.Windows[0].ID
	}
	sess.mu.Unlock()

	m.destroyWindowInternal(sess, win)

	env, encErr := wire.EncodeBody(wire.KindWindowDestroyed, 0, wire.WindowDestroyedBroadcast{
		SessionID: sess.ID.String(), WindowID: win.ID.String(),
	})
	if encErr == nil {
		m.registry.Broadcast(sess.ID, env)
	}

	if err := m.recorder.Record(RecordWindowDestroyed, WindowDestroyedRecord{SessionID: sess.ID, WindowID: win.ID}); err != nil {
		return m.fatalOnRecordFailure("record window destroyed", err)
	}
	return nil
}

// ResizeWindow recomputes the layout tree for the window's new full area
// and resizes every affected pane's PTY and screen to match (spec §4.5).
// Recovery fidelity (spec §4.10) needs the window's own new dimensions
// durable too, not just its panes', so this records a WindowResizedRecord
// in addition to whatever PaneResizedRecord each resized pane produces.
func (m *Manager) ResizeWindow(ref string, cols, rows int) error {
	win, err := m.ResolveWindow(ref)
	if err != nil {
		return err
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}
	cols, rows = normalizeDims(cols, rows)

	sess.mu.Lock()
	win.Cols, win.Rows = cols, rows
	areas := win.Layout.Areas(layout.Rect{Cols: cols, Rows: rows})
	panes := append([]*Pane(nil), win.Panes...)
	sess.mu.Unlock()

	for _, pane := range panes {
		if area, ok := areas[pane.ID]; ok {
			if err := m.resizePaneTo(sess, pane, area.Cols, area.Rows); err != nil {
				return err
			}
		}
	}

	if err := m.recorder.Record(RecordWindowResized, WindowResizedRecord{
		SessionID: sess.ID, WindowID: win.ID, Cols: cols, Rows: rows,
	}); err != nil {
		return m.fatalOnRecordFailure("record window resized", err)
	}
	return nil
}

// RenameWindow renames a window; window names are a per-session convenience
// with no uniqueness requirement, so this never conflicts (spec.md §4.9's
// MCP tool surface lists "rename" windows alongside sessions).
func (m *Manager) RenameWindow(ref, newName string) error {
	win, err := m.ResolveWindow(ref)
	if err != nil {
		return err
	}
	if newName == "" {
		return daemonerr.New(daemonerr.InvalidParams, "new name must not be empty")
	}
	sess, err := m.sessionOf(win.SessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	win.Name = newName
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordWindowRenamed, WindowRenamedRecord{
		SessionID: sess.ID, WindowID: win.ID, NewName: newName,
	}); err != nil {
		return m.fatalOnRecordFailure("record window renamed", err)
	}
	return nil
}

// buildWindow allocates a fresh window id and default pane, spawns the
// pane's PTY (a spawn failure is non-fatal per spec §7: the pane exists
// with an empty handle), and indexes both into the manager's arenas.
func (m *Manager) buildWindow(sess *Session, params windowParams, index int) (*Window, *Pane, error) {
	winID := id.New()
	paneID := id.New()
	cols, rows := normalizeDims(params.Cols, params.Rows)

	pane := &Pane{
		ID:                paneID,
		WindowID:          winID,
		Cols:              cols,
		Rows:              rows,
		Screen:            vtscreen.NewWithOptions(cols, rows, m.scrollbackLines, m.logger),
		CreatedAt:         time.Now(),
		LastStateChangeAt: time.Now(),
	}
	if preset := m.resolvePreset(params.Preset); preset != nil {
		pane.HarnessKind = preset.Harness
	}
	win := &Window{
		ID:          winID,
		SessionID:   sess.ID,
		Index:       index,
		Name:        params.Name,
		Panes:       []*Pane{pane},
		CurrentPane: paneID,
		Layout:      layout.NewTree(paneID),
		Cols:        cols,
		Rows:        rows,
	}

	m.spawnPane(sess, pane, params)

	m.mu.Lock()
	m.windows[winID] = win
	m.panes[paneID] = pane
	m.mu.Unlock()

	return win, pane, nil
}

// destroyWindowInternal terminates every pane's PTY and removes the window
// and its panes from the manager's arenas. It does not touch the owning
// session's Windows slice — callers update that under the session lock
// before or after, depending on whether this is a single-window or a
// cascading session destroy.
func (m *Manager) destroyWindowInternal(sess *Session, win *Window) {
	sess.mu.Lock()
	panes := append([]*Pane(nil), win.Panes...)
	sess.mu.Unlock()

	for _, pane := range panes {
		_ = m.ptys.Destroy(pane.ID)
		m.detector.Forget(pane.ID.String())
		m.mu.Lock()
		delete(m.panes, pane.ID)
		m.mu.Unlock()
	}

	m.mu.Lock()
	delete(m.windows, win.ID)
	m.mu.Unlock()
}

// teardownWindow destroys a just-built window's PTYs, used to roll back a
// CreateSession call that lost a name-collision race.
func (m *Manager) teardownWindow(win *Window) {
	for _, pane := range win.Panes {
		_ = m.ptys.Destroy(pane.ID)
		m.mu.Lock()
		delete(m.panes, pane.ID)
		m.mu.Unlock()
	}
	m.mu.Lock()
	delete(m.windows, win.ID)
	m.mu.Unlock()
}

// spawnPane builds the pane's environment and asks the PTY manager to
// spawn it. A spawn failure leaves the pane present with Live=false rather
// than failing the caller's operation (spec §7).
func (m *Manager) spawnPane(sess *Session, pane *Pane, params windowParams) {
	preset := m.resolvePreset(params.Preset)
	command := params.Command
	sandbox := params.Sandbox
	if preset != nil {
		if len(command) == 0 {
			command = preset.Command
		}
		if sandbox == nil {
			sandbox = preset.Sandbox.ToPTY()
		}
		m.writePresetMCPConfig(preset, pane.ID)
	}

	cfg := pty.SpawnConfig{
		Command: command,
		Cols:    uint16(pane.Cols),
		Rows:    uint16(pane.Rows),
		Cwd:     firstNonEmpty(params.Cwd, sess.Cwd),
		Env:     m.buildEnv(sess, pane.ID, params, preset),
		Sandbox: sandbox,
	}
	if err := m.ptys.Spawn(pane.ID, cfg); err != nil {
		m.logger.Error("pty spawn failed", "pane", pane.ID, "error", err)
		pane.Live = false
		return
	}
	pane.Live = true
	m.pumpPane(sess, pane)
}

// buildEnv merges preset, session, and per-call environment overrides (in
// that priority order, each layer on top of the last) onto the daemon's own
// environment, then injects the per-pane Claude isolation directory and
// task-list id.
func (m *Manager) buildEnv(sess *Session, paneID id.ID, params windowParams, preset *presets.AgentConfig) []string {
	merged := map[string]string{}
	if preset != nil {
		for k, v := range preset.Env {
			merged[k] = v
		}
	}
	for k, v := range sess.Env {
		merged[k] = v
	}
	for k, v := range params.Env {
		merged[k] = v
	}
	if m.claudeConfigRoot != "" {
		merged["CLAUDE_CONFIG_DIR"] = filepath.Join(m.claudeConfigRoot, paneID.String())
	}
	if sess.TaskListID != "" {
		merged["CLAUDE_CODE_TASK_LIST_ID"] = sess.TaskListID
	}

	env := os.Environ()
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// pumpPane starts the goroutine that drains a pane's PTY event stream into
// its VT screen, the agent detector, and session-scoped output broadcasts
// (spec §2 data flow: "Child PTYs produce bytes -> PTY reader tasks -> VT
// parser updates screen + scrollback -> agent detector updates state ->
// events broadcast to attached clients").
func (m *Manager) pumpPane(sess *Session, pane *Pane) {
	events, ok := m.ptys.Events(pane.ID)
	if !ok {
		return
	}
	go func() {
		for ev := range events {
			switch ev.Type {
			case pty.EventOutput:
				pane.Screen.Write(ev.Data)
				m.detector.Feed(pane.ID.String(), ev.Data)

				sess.mu.Lock()
				sess.LastActivity = time.Now()
				sess.mu.Unlock()

				env, err := wire.EncodeBody(wire.KindPaneOutput, 0, wire.PaneOutputBroadcast{
					SessionID: sess.ID.String(),
					PaneID:    pane.ID.String(),
					Data:      ev.Data,
				})
				if err == nil {
					m.registry.Broadcast(sess.ID, env)
				}
			case pty.EventExit:
				sess.mu.Lock()
				pane.Live = false
				sess.mu.Unlock()
			}
		}
	}()
}

// resolvePreset looks up a presets.<name> spawn template, returning nil
// when no id is given or the manager was built without a preset registry.
func (m *Manager) resolvePreset(presetID string) *presets.AgentConfig {
	if presetID == "" || m.presets == nil {
		return nil
	}
	return m.presets.Get(presetID)
}

// writePresetMCPConfig filters the preset's mcpServers by its MCPMode and
// writes the result to the pane's Claude config directory, logging rather
// than failing the spawn if the write fails (spec §7: a non-fatal
// degradation, matching a spawn failure's own non-fatal treatment).
func (m *Manager) writePresetMCPConfig(preset *presets.AgentConfig, paneID id.ID) {
	if m.claudeConfigRoot == "" {
		return
	}
	if err := presets.WriteMCPConfig(preset, m.claudeConfigRoot, paneID.String(), m.mcpMinimalAllowlist); err != nil {
		m.logger.Error("write mcp config failed", "pane", paneID, "preset", preset.ID, "error", err)
	}
}

// resizePaneTo applies a new size to one pane's in-memory state, screen,
// and PTY, and durably records it (spec §4.10: recovery must reproduce a
// resized pane's dimensions). It is the single choke point every caller
// that changes a pane's dimensions goes through — ResizeWindow directly,
// SplitPane and DestroyPane for siblings whose area shifts as a side
// effect of the layout tree changing — so none of them can resize a pane
// without that resize surviving a crash.
func (m *Manager) resizePaneTo(sess *Session, pane *Pane, cols, rows int) error {
	sess.mu.Lock()
	pane.Cols, pane.Rows = cols, rows
	sess.mu.Unlock()
	pane.Screen.Resize(cols, rows)
	_ = m.ptys.Resize(pane.ID, uint16(cols), uint16(rows))

	if err := m.recorder.Record(RecordPaneResized, PaneResizedRecord{
		SessionID: sess.ID, PaneID: pane.ID, Cols: cols, Rows: rows,
	}); err != nil {
		return m.fatalOnRecordFailure("record pane resized", err)
	}
	return nil
}
