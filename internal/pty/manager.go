package pty

import (
	"fmt"
	"os"
	"sync"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/user/agentmux/internal/id"
)

// Manager tracks all live pane PTYs, keyed by pane id. It generalizes the
// teacher's pty.Manager (internal/pty/manager.go) from a string-keyed
// session map to an id.ID-keyed pane map, and grows sandbox-wrapper command
// rewriting (spec §4.2) on top of the teacher's plain argv spawn.
type Manager struct {
	mu      sync.RWMutex
	handles map[id.ID]*handle
}

// NewManager creates a new, empty Manager.
func NewManager() *Manager {
	return &Manager{handles: make(map[id.ID]*handle)}
}

// Spawn starts a new pane PTY under paneID. It returns an error if paneID is
// already tracked.
func (m *Manager) Spawn(paneID id.ID, cfg SpawnConfig) error {
	resolved, err := resolveCommand(cfg)
	if err != nil {
		return err
	}
	cfg.Command = resolved

	m.mu.Lock()
	if _, exists := m.handles[paneID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("pty: pane %s already has a live handle", paneID)
	}
	m.mu.Unlock()

	h, err := newHandle(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.handles[paneID] = h
	m.mu.Unlock()
	return nil
}

// Events returns the pane's event channel, or false if the pane has no live
// handle.
func (m *Manager) Events(paneID id.ID) (<-chan Event, bool) {
	m.mu.RLock()
	h, ok := m.handles[paneID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.Events(), true
}

// Write sends input to a pane's PTY.
func (m *Manager) Write(paneID id.ID, data []byte, submit bool) error {
	h, err := m.get(paneID)
	if err != nil {
		return err
	}
	return h.Write(data, submit)
}

// Paste sends bracketed-paste input to a pane's PTY.
func (m *Manager) Paste(paneID id.ID, data []byte) error {
	h, err := m.get(paneID)
	if err != nil {
		return err
	}
	return h.Paste(data)
}

// Resize adjusts a pane's PTY window size.
func (m *Manager) Resize(paneID id.ID, cols, rows uint16) error {
	h, err := m.get(paneID)
	if err != nil {
		return err
	}
	return h.Resize(cols, rows)
}

// Info returns a snapshot of a pane's PTY metadata.
func (m *Manager) Info(paneID id.ID) (Info, error) {
	h, err := m.get(paneID)
	if err != nil {
		return Info{}, err
	}
	return h.Info(), nil
}

// Destroy terminates and forgets a pane's PTY.
func (m *Manager) Destroy(paneID id.ID) error {
	m.mu.Lock()
	h, ok := m.handles[paneID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("pty: pane %s has no live handle", paneID)
	}
	delete(m.handles, paneID)
	m.mu.Unlock()

	return h.Close()
}

// CloseAll terminates and forgets every live pane PTY. It is used on daemon
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[id.ID]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}

func (m *Manager) get(paneID id.ID) (*handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[paneID]
	if !ok {
		return nil, fmt.Errorf("pty: pane %s has no live handle", paneID)
	}
	return h, nil
}

// resolveCommand parses cfg.Command into argv, defaulting to the user's
// shell, then wraps it in the sandbox wrapper if configured.
func resolveCommand(cfg SpawnConfig) ([]string, error) {
	argv := cfg.Command
	if len(argv) == 1 {
		// A single-element command is treated as a shell command line and
		// split with shell quoting rules, rather than handed verbatim to
		// exec.Command (which would not honor quotes or escapes).
		split, err := shellquote.Split(argv[0])
		if err != nil {
			return nil, fmt.Errorf("pty: parse command line %q: %w", argv[0], err)
		}
		if len(split) > 0 {
			argv = split
		}
	}
	if len(argv) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		argv = []string{shell}
	}

	if cfg.Sandbox == nil || !cfg.Sandbox.Enabled {
		return argv, nil
	}
	return wrapSandbox(argv, cfg.Sandbox)
}

// wrapSandbox rewrites argv to invoke it through the configured sandbox
// wrapper binary with read-only/read-write path arguments (spec §4.2).
func wrapSandbox(argv []string, sb *SandboxConfig) ([]string, error) {
	wrapper := sb.Wrapper
	if wrapper == "" {
		return nil, fmt.Errorf("pty: sandbox enabled but no wrapper binary configured")
	}

	wrapped := []string{wrapper}
	for _, p := range sb.ReadOnlyPaths {
		wrapped = append(wrapped, "--ro-bind", p, p)
	}
	for _, p := range sb.ReadWritePaths {
		wrapped = append(wrapped, "--bind", p, p)
	}
	if sb.CwdWritable {
		wrapped = append(wrapped, "--cwd-writable")
	}
	wrapped = append(wrapped, "--")
	wrapped = append(wrapped, argv...)
	return wrapped, nil
}
