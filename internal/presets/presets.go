// Package presets loads and live-reloads the daemon's named spawn
// templates (spec §6: "presets.<name>"), generalizing the teacher's
// internal/registry (internal/registry/registry.go: Registry, AgentConfig,
// ensureDefaults) from a flat per-agent-capability catalog to the spec's
// harness/command/env/mcp_mode/sandbox/scrollback template shape, and adds
// fsnotify-driven live reload (grounded on the fsnotify watch-loop pattern
// used elsewhere in the retrieved corpus for exactly this
// "watch a directory, reload on write" shape) on top of the teacher's
// manual Reload() call.
package presets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/user/agentmux/configs"
	"github.com/user/agentmux/internal/pty"
)

var presetIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var defaultPresetFiles = []string{
	"claude-code.yaml",
	"codex.yaml",
	"gemini-cli.yaml",
	"shell.yaml",
}

// MCPMode is the filtering mode applied to a spawned pane's mcp.json (spec
// §6).
type MCPMode string

const (
	MCPFull    MCPMode = "full"
	MCPMinimal MCPMode = "minimal"
	MCPNone    MCPMode = "none"
)

// SandboxSpec is the on-disk shape of pty.SandboxConfig.
type SandboxSpec struct {
	Enabled        bool     `yaml:"enabled"`
	Wrapper        string   `yaml:"wrapper,omitempty"`
	ReadOnlyPaths  []string `yaml:"read_only_paths,omitempty"`
	ReadWritePaths []string `yaml:"read_write_paths,omitempty"`
	CwdWritable    bool     `yaml:"cwd_writable,omitempty"`
}

// ToPTY converts a SandboxSpec to the pty package's runtime config.
func (s *SandboxSpec) ToPTY() *pty.SandboxConfig {
	if s == nil {
		return nil
	}
	return &pty.SandboxConfig{
		Enabled:        s.Enabled,
		Wrapper:        s.Wrapper,
		ReadOnlyPaths:  s.ReadOnlyPaths,
		ReadWritePaths: s.ReadWritePaths,
		CwdWritable:    s.CwdWritable,
	}
}

// AgentConfig is one preset: a reusable spawn template (spec §4.2, §6),
// extending the teacher's registry.AgentConfig shape (id/name/command)
// with the harness/mcp_mode/sandbox/scrollback fields the spec requires.
type AgentConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Harness    string            `yaml:"harness"` // claude | gemini | codex | shell | custom
	Command    []string          `yaml:"command"`
	Env        map[string]string `yaml:"env,omitempty"`
	MCPMode    MCPMode           `yaml:"mcp_mode"`
	MCPServers map[string]any    `yaml:"mcp_servers,omitempty"`
	Sandbox    *SandboxSpec      `yaml:"sandbox,omitempty"`
	Scrollback int               `yaml:"scrollback,omitempty"`
}

func cloneConfig(c *AgentConfig) *AgentConfig {
	out := *c
	out.Env = make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		out.Env[k] = v
	}
	out.Command = append([]string(nil), c.Command...)
	return &out
}

func validate(c *AgentConfig) error {
	if !presetIDPattern.MatchString(c.ID) {
		return fmt.Errorf("preset id %q must be lowercase alphanumeric with hyphens", c.ID)
	}
	switch c.MCPMode {
	case MCPFull, MCPMinimal, MCPNone, "":
	default:
		return fmt.Errorf("preset %q: invalid mcp_mode %q", c.ID, c.MCPMode)
	}
	return nil
}

// Registry is the live, file-backed table of presets.
type Registry struct {
	dir     string
	presets map[string]*AgentConfig
	mu      sync.RWMutex
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads dir (seeding it with the embedded defaults on first
// run, mirroring the teacher's ensureDefaults) and starts a background
// fsnotify watch that reloads when a .yaml/.yml file under dir is written,
// created, removed or renamed.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("presets dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create presets dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{dir: dir, presets: make(map[string]*AgentConfig), logger: logger, done: make(chan struct{})}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("presets: fsnotify unavailable, live reload disabled", "error", err)
		return r, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.Warn("presets: failed to watch directory, live reload disabled", "dir", dir, "error", err)
		return r, nil
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

// Close stops the background watch, if any.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Error("presets: reload after fs event failed", "error", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("presets: watch error", "error", err)
		}
	}
}

// Get returns a copy of one preset, or nil if unknown.
func (r *Registry) Get(id string) *AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.presets[id]
	if !ok {
		return nil
	}
	return cloneConfig(cfg)
}

// List returns every preset, sorted by name then id.
func (r *Registry) List() []*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentConfig, 0, len(r.presets))
	for _, c := range r.presets {
		out = append(out, cloneConfig(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reload re-reads every *.yaml/*.yml file under dir from scratch.
func (r *Registry) Reload() error {
	loaded, err := loadDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.presets = loaded
	r.mu.Unlock()
	return nil
}

// Save validates and writes one preset back to <dir>/<id>.yaml.
func (r *Registry) Save(cfg *AgentConfig) error {
	if cfg == nil {
		return errors.New("preset is required")
	}
	clean := cloneConfig(cfg)
	if err := validate(clean); err != nil {
		return err
	}
	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("marshal preset: %w", err)
	}
	path := filepath.Join(r.dir, clean.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write preset %q: %w", path, err)
	}
	r.mu.Lock()
	r.presets[clean.ID] = clean
	r.mu.Unlock()
	return nil
}

func loadDir(dir string) (map[string]*AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read presets dir: %w", err)
	}
	out := make(map[string]*AgentConfig, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read preset %q: %w", entry.Name(), err)
		}
		var cfg AgentConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse preset %q: %w", entry.Name(), err)
		}
		if cfg.ID == "" {
			cfg.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if err := validate(&cfg); err != nil {
			return nil, err
		}
		out[cfg.ID] = &cfg
	}
	return out, nil
}

func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read presets dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			return nil
		}
	}

	for _, file := range defaultPresetFiles {
		content, err := configs.AgentDefaults.ReadFile(filepath.Join("agents", file))
		if err != nil {
			return fmt.Errorf("read embedded default preset %q: %w", file, err)
		}
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write default preset %q: %w", path, err)
		}
	}
	return nil
}
