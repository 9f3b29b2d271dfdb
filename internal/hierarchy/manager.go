package hierarchy

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/detector"
	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/presets"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/repoinfo"
	"github.com/user/agentmux/internal/vtscreen"
	"github.com/user/agentmux/internal/wire"
)

// Options configures a Manager.
type Options struct {
	// ClaudeConfigRoot is the directory under which each pane gets an
	// isolated CLAUDE_CONFIG_DIR (spec §6): <root>/<pane-id>/. Empty
	// disables the injection.
	ClaudeConfigRoot string
	// ScrollbackLines bounds each pane's scrollback (spec §6
	// scrollback.default); 0 uses vtscreen's package default.
	ScrollbackLines int
	Recorder        Recorder
	Logger          *slog.Logger

	// Presets resolves a CreateSessionParams/CreateWindowParams/
	// SplitPaneParams Preset field into a harness/command/env/sandbox
	// template (spec §6: "presets.<name>"). Nil disables preset
	// resolution; callers must then supply Command directly.
	Presets *presets.Registry
	// MCPMinimalAllowlist is the mcp_mode.minimal.allowlist config (spec
	// §6), applied when a resolved preset's MCPMode is "minimal".
	MCPMinimalAllowlist []string

	// Fatal is invoked, instead of returning an error to the caller, when a
	// durable WAL write fails (spec §7: "WAL write failure is fatal: the
	// daemon aborts rather than accept operations it cannot durably
	// record"). Nil defaults to logging and os.Exit(1). Tests that need to
	// exercise a failing Recorder without killing the test binary should
	// supply their own.
	Fatal func(error)
}

// Manager owns the full session/window/pane arena and drives it from PTY
// output (spec §4.5). It is the single front door other components use to
// reach panes: dispatch and the MCP bridge never touch internal/pty or
// internal/layout directly.
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.ID]*Session
	names    map[string]id.ID
	windows  map[id.ID]*Window
	panes    map[id.ID]*Pane

	ptys     *pty.Manager
	detector *detector.Detector
	registry *registry.Registry
	recorder Recorder

	claudeConfigRoot    string
	scrollbackLines     int
	logger              *slog.Logger
	presets             *presets.Registry
	mcpMinimalAllowlist []string
	fatal               func(error)
}

// NewManager creates a Manager wired to the given PTY manager, agent
// detector, and client registry, and starts the background task that turns
// detector transitions into PaneStateChanged broadcasts.
func NewManager(ptys *pty.Manager, det *detector.Detector, reg *registry.Registry, opts Options) *Manager {
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}
	if opts.ScrollbackLines <= 0 {
		opts.ScrollbackLines = vtscreen.DefaultMaxScrollbackLines
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Fatal == nil {
		opts.Fatal = func(error) { os.Exit(1) }
	}

	m := &Manager{
		sessions:            make(map[id.ID]*Session),
		names:               make(map[string]id.ID),
		windows:             make(map[id.ID]*Window),
		panes:               make(map[id.ID]*Pane),
		ptys:                ptys,
		detector:            det,
		registry:            reg,
		recorder:            opts.Recorder,
		claudeConfigRoot:    opts.ClaudeConfigRoot,
		scrollbackLines:     opts.ScrollbackLines,
		logger:              opts.Logger,
		presets:             opts.Presets,
		mcpMinimalAllowlist: opts.MCPMinimalAllowlist,
		fatal:               opts.Fatal,
	}

	go m.runDetectorBroadcaster()
	return m
}

// CreateSessionParams configures CreateSession.
type CreateSessionParams struct {
	Name       string
	Cwd        string
	Env        map[string]string
	Tags       []string
	Metadata   map[string]string
	Cols, Rows int
	TaskListID string
	Command    []string
	Sandbox    *pty.SandboxConfig
	// Preset names a presets.<name> spawn template (spec §6); when set,
	// it supplies Command/Env/Sandbox/HarnessKind/MCPMode for any of
	// those left unset above.
	Preset string
}

// CreateSession creates a session with one default window and one default
// pane with a spawned PTY (spec §4.5): a session is never observably empty.
// It returns the default window and pane alongside the session so callers
// never need to read sess.Windows without holding sess.mu.
func (m *Manager) CreateSession(p CreateSessionParams) (*Session, *Window, *Pane, error) {
	cols, rows := normalizeDims(p.Cols, p.Rows)

	m.mu.Lock()
	if p.Name != "" {
		if _, exists := m.names[p.Name]; exists {
			m.mu.Unlock()
			return nil, nil, nil, daemonerr.New(daemonerr.SessionExists, p.Name)
		}
	} else {
		p.Name = m.generateNameLocked()
	}
	m.mu.Unlock()

	sess := &Session{
		ID:           id.New(),
		Name:         p.Name,
		Cwd:          p.Cwd,
		Env:          cloneStringMap(p.Env),
		Tags:         newTagSet(p.Tags),
		Metadata:     cloneStringMap(p.Metadata),
		TaskListID:   p.TaskListID,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	win, pane, err := m.buildWindow(sess, windowParams{
		Command: p.Command,
		Cwd:     p.Cwd,
		Cols:    cols,
		Rows:    rows,
		Sandbox: p.Sandbox,
		Preset:  p.Preset,
	}, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	sess.Windows = []*Window{win}
	sess.CurrentWindow = win.ID

	m.mu.Lock()
	if _, exists := m.names[sess.Name]; exists {
		m.mu.Unlock()
		m.teardownWindow(win)
		return nil, nil, nil, daemonerr.New(daemonerr.SessionExists, sess.Name)
	}
	m.sessions[sess.ID] = sess
	m.names[sess.Name] = sess.ID
	m.mu.Unlock()

	if err := m.recorder.Record(RecordSessionCreated, SessionCreatedRecord{
		SessionID: sess.ID, Name: sess.Name, Cwd: sess.Cwd, Env: sess.Env,
		Tags: p.Tags, Metadata: sess.Metadata, TaskListID: sess.TaskListID,
		WindowID: win.ID, PaneID: pane.ID, Cols: cols, Rows: rows, CreatedAt: sess.CreatedAt,
	}); err != nil {
		return nil, nil, nil, m.fatalOnRecordFailure("record session created", err)
	}

	return sess, win, pane, nil
}

// RenameSession renames a session, rejecting a name already used by another
// live session; renaming to the current name is a no-op success (spec
// §4.5).
func (m *Manager) RenameSession(ref, newName string) error {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return err
	}
	if newName == "" {
		return daemonerr.New(daemonerr.InvalidParams, "new name must not be empty")
	}

	sess.mu.Lock()
	oldName := sess.Name
	sess.mu.Unlock()
	if newName == oldName {
		return nil
	}

	m.mu.Lock()
	if _, exists := m.names[newName]; exists {
		m.mu.Unlock()
		return daemonerr.New(daemonerr.SessionExists, newName)
	}
	delete(m.names, oldName)
	m.names[newName] = sess.ID
	m.mu.Unlock()

	sess.mu.Lock()
	sess.Name = newName
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordSessionRenamed, SessionRenamedRecord{SessionID: sess.ID, NewName: newName}); err != nil {
		return m.fatalOnRecordFailure("record session renamed", err)
	}
	return nil
}

// DestroySession cascades destruction to every window and pane, terminates
// their PTYs, detaches every attached client, and removes the session.
func (m *Manager) DestroySession(ref string) error {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	windows := append([]*Window(nil), sess.Windows...)
	sess.mu.Unlock()

	env, encErr := wire.EncodeBody(wire.KindSessionDestroyed, 0, wire.SessionDestroyedBroadcast{SessionID: sess.ID.String()})
	if encErr == nil {
		m.registry.Broadcast(sess.ID, env)
	}

	for _, win := range windows {
		m.destroyWindowInternal(sess, win)
	}

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	delete(m.names, sess.Name)
	m.mu.Unlock()

	m.registry.DetachAll(sess.ID)

	if err := m.recorder.Record(RecordSessionDestroyed, SessionDestroyedRecord{SessionID: sess.ID}); err != nil {
		return m.fatalOnRecordFailure("record session destroyed", err)
	}
	return nil
}

// SetSessionTags replaces a session's tag set.
func (m *Manager) SetSessionTags(ref string, tags []string) error {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.Tags = newTagSet(tags)
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordTagsUpdated, TagsUpdatedRecord{SessionID: sess.ID, Tags: tags}); err != nil {
		return m.fatalOnRecordFailure("record tags updated", err)
	}
	return nil
}

// SessionTags returns a session's tags, sorted for stable output.
func (m *Manager) SessionTags(ref string) ([]string, error) {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]string, 0, len(sess.Tags))
	for t := range sess.Tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// SetSessionMetadata replaces a session's metadata map.
func (m *Manager) SetSessionMetadata(ref string, metadata map[string]string) error {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.Metadata = cloneStringMap(metadata)
	sess.mu.Unlock()

	if err := m.recorder.Record(RecordMetadataUpdated, MetadataUpdatedRecord{SessionID: sess.ID, Metadata: metadata}); err != nil {
		return m.fatalOnRecordFailure("record metadata updated", err)
	}
	return nil
}

// SessionMetadata returns a copy of a session's metadata map.
func (m *Manager) SessionMetadata(ref string) (map[string]string, error) {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return cloneStringMap(sess.Metadata), nil
}

// Snapshot returns a point-in-time copy of one session's observable state.
func (m *Manager) Snapshot(ref string) (SessionSnapshot, error) {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return SessionSnapshot{}, err
	}
	return m.snapshotSession(sess), nil
}

// ListSessions returns every live session's observable state, ordered by
// creation time.
func (m *Manager) ListSessions() []SessionSnapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, m.snapshotSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SessionsWithTag returns every live session whose tag set contains tag,
// used by the orchestration router's tag-target selector (spec §4.11).
func (m *Manager) SessionsWithTag(tag string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		s.mu.Lock()
		_, has := s.Tags[tag]
		s.mu.Unlock()
		if has {
			out = append(out, s)
		}
	}
	return out
}

// AllSessions returns every live session.
func (m *Manager) AllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// WorktreeLabel resolves a session's worktree/repo label on demand from its
// cwd (internal/repoinfo), never cached: a session outside any git
// repository simply has no worktree label, which is not an error.
func (m *Manager) WorktreeLabel(ref string) (string, error) {
	sess, err := m.ResolveSession(ref)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	cwd := sess.Cwd
	sess.mu.Unlock()
	if cwd == "" {
		return "", nil
	}
	return repoinfo.Label(cwd), nil
}

func (m *Manager) snapshotSession(s *Session) SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.Tags))
	for t := range s.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	windows := make([]WindowSnapshot, 0, len(s.Windows))
	for _, w := range s.Windows {
		panes := make([]PaneSnapshot, 0, len(w.Panes))
		for _, p := range w.Panes {
			panes = append(panes, PaneSnapshot{ID: p.ID, Cols: p.Cols, Rows: p.Rows, Name: p.Name, Live: p.Live, HarnessKind: p.HarnessKind, CreatedAt: p.CreatedAt})
		}
		windows = append(windows, WindowSnapshot{ID: w.ID, Index: w.Index, Name: w.Name, CurrentPane: w.CurrentPane, Cols: w.Cols, Rows: w.Rows, Panes: panes})
	}

	return SessionSnapshot{
		ID: s.ID, Name: s.Name, Cwd: s.Cwd, Env: cloneStringMap(s.Env),
		Tags: tags, Metadata: cloneStringMap(s.Metadata), TaskListID: s.TaskListID,
		CreatedAt: s.CreatedAt, LastActivity: s.LastActivity,
		AttachedClients: m.registry.AttachedCount(s.ID),
		Windows:         windows,
	}
}

// fatalOnRecordFailure handles a failed durable record write (spec §7): it
// logs the failure and invokes m.fatal, which aborts the process by
// default. The in-memory mutation above the failed Record call has already
// happened, so returning an ordinary error and continuing to serve would
// leave the daemon's state diverging from its own log; callers return the
// wrapped error from this function only so a Fatal override that does not
// exit (tests) still produces a well-formed return value.
func (m *Manager) fatalOnRecordFailure(op string, err error) error {
	wrapped := daemonerr.Wrap(daemonerr.IOError, op, err)
	m.logger.Error("durable record write failed, aborting", "op", op, "error", err)
	m.fatal(wrapped)
	return wrapped
}

func (m *Manager) generateNameLocked() string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("session-%d", i)
		if _, exists := m.names[name]; !exists {
			return name
		}
	}
}

func normalizeDims(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return cols, rows
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newTagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
