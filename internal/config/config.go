// Package config loads the daemon's configuration tree (spec §6): socket
// and TCP transport options, scrollback limits, the WAL/checkpoint policy,
// MCP bridge reconnection/heartbeat tuning, and named spawn presets. It
// keeps the teacher's layered load-then-flag-override shape
// (config.Load(), a generated token persisted back to disk) but moves the
// on-disk format from the teacher's ad hoc "Key=Value" lines
// (internal/config/config.go: loadFromFile/saveToFile) to YAML via
// gopkg.in/yaml.v3 — the same library the teacher already uses for
// internal/registry — since the nested option tree below (persistence.*,
// mcp.reconnect.*, presets.<name>) cannot be represented as flat lines.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Name is the product name used to derive on-disk paths (spec §6:
// "~/.<name>/<name>.sock").
const Name = "agentmux"

// TCPConfig is the optional authenticated TCP transport (spec §4.7, §6).
type TCPConfig struct {
	Bind      string `yaml:"bind"`
	AuthToken string `yaml:"auth_token"`
}

// ScrollbackConfig bounds per-pane history by session type (spec §6:
// "scrollback.default / scrollback.<session-type>").
type ScrollbackConfig struct {
	Default  int            `yaml:"default"`
	ByHarness map[string]int `yaml:"by_harness,omitempty"`
}

// ForHarness returns the configured scrollback line limit for a harness
// kind, falling back to Default when no per-harness override exists.
func (s ScrollbackConfig) ForHarness(harness string) int {
	if n, ok := s.ByHarness[harness]; ok && n > 0 {
		return n
	}
	return s.Default
}

// TerminalConfig bounds the wire codec (spec §4.1, §6).
type TerminalConfig struct {
	MaxMessageSize uint32 `yaml:"max_message_size"`
}

// PersistenceConfig tunes the WAL and checkpointer (spec §4.10, §6).
type PersistenceConfig struct {
	CheckpointIntervalSecs int    `yaml:"checkpoint_interval_secs"`
	WALFlushPolicy         string `yaml:"wal_flush_policy"` // "always" | "100ms"
	WALMaxSegmentBytes     int64  `yaml:"wal_max_segment_bytes"`
}

// AgentDetectorConfig tunes the activity classifier (spec §4.4, §6).
type AgentDetectorConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// MCPReconnectConfig tunes the bridge's backoff (spec §4.9, §6).
type MCPReconnectConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
}

// MCPConfig tunes the MCP bridge (spec §4.9, §6).
type MCPConfig struct {
	Reconnect     MCPReconnectConfig `yaml:"reconnect"`
	HeartbeatMs   int                `yaml:"heartbeat_ms"`
	CallTimeoutMs int                `yaml:"call_timeout_ms"`
}

// MCPModeMinimalConfig lists servers preserved under a preset's "minimal"
// MCP mode (spec §6: "mcp_mode.minimal.allowlist").
type MCPModeMinimalConfig struct {
	Allowlist []string `yaml:"allowlist"`
}

// MCPModeConfig is the top-level mcp_mode.* tree.
type MCPModeConfig struct {
	Minimal MCPModeMinimalConfig `yaml:"minimal"`
}

// SandboxPreset mirrors pty.SandboxConfig in the YAML config tree (spec
// §4.2, §6).
type SandboxPreset struct {
	Enabled        bool     `yaml:"enabled"`
	Wrapper        string   `yaml:"wrapper"`
	ReadOnlyPaths  []string `yaml:"read_only_paths"`
	ReadWritePaths []string `yaml:"read_write_paths"`
	CwdWritable    bool     `yaml:"cwd_writable"`
}

// Preset is one entry under presets.<name>: a reusable spawn template
// specifying harness type, command/args/env, MCP filtering mode, sandbox
// policy, and a scrollback override (spec §6).
type Preset struct {
	Harness    string            `yaml:"harness"` // claude | gemini | codex | shell | custom
	Command    []string          `yaml:"command"`
	Env        map[string]string `yaml:"env"`
	MCPMode    string            `yaml:"mcp_mode"` // full | minimal | none
	Sandbox    *SandboxPreset    `yaml:"sandbox,omitempty"`
	Scrollback int               `yaml:"scrollback,omitempty"`
}

// Config is the full daemon configuration tree (spec §6).
type Config struct {
	SocketPath string `yaml:"socket_path"`
	RootDir    string `yaml:"root_dir"`

	TCP              TCPConfig              `yaml:"tcp"`
	Scrollback       ScrollbackConfig       `yaml:"scrollback"`
	Terminal         TerminalConfig         `yaml:"terminal"`
	Persistence      PersistenceConfig      `yaml:"persistence"`
	AgentDetector    AgentDetectorConfig    `yaml:"agent_detector"`
	MCP              MCPConfig              `yaml:"mcp"`
	Presets          map[string]Preset      `yaml:"presets"`
	MCPMode          MCPModeConfig          `yaml:"mcp_mode"`

	// Token is the daemon's shared token, used as the default webmirror
	// token (TCP clients authenticate against TCP.AuthToken instead). It is
	// regenerated and persisted on first run when empty, the way the
	// teacher's Load generates and saves one (internal/config/config.go:
	// generateToken + saveToFile).
	Token string `yaml:"token"`

	// ConfigPath is where this tree was loaded from/will be saved to; not
	// itself serialized.
	ConfigPath string `yaml:"-"`
}

// DefaultConfigPath returns the default config file location (spec SPEC_FULL
// §7: "~/.config/agentmux/config.yaml").
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", Name, "config.yaml"), nil
}

// DefaultRootDir returns the default on-disk state root (spec §6:
// "~/.<name>/").
func DefaultRootDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "."+Name), nil
}

// Default returns a Config populated with every spec §6 default.
func Default() (*Config, error) {
	root, err := DefaultRootDir()
	if err != nil {
		return nil, err
	}
	configPath, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return &Config{
		SocketPath: filepath.Join(root, Name+".sock"),
		RootDir:    root,
		Scrollback: ScrollbackConfig{Default: 1000},
		Terminal:   TerminalConfig{MaxMessageSize: 16 << 20},
		Persistence: PersistenceConfig{
			CheckpointIntervalSecs: 300,
			WALFlushPolicy:         "always",
			WALMaxSegmentBytes:     64 << 20,
		},
		AgentDetector: AgentDetectorConfig{DebounceMs: 100},
		MCP: MCPConfig{
			Reconnect:     MCPReconnectConfig{MaxAttempts: 5, InitialBackoffMs: 100},
			HeartbeatMs:   3000,
			CallTimeoutMs: 30000,
		},
		Presets:    map[string]Preset{},
		ConfigPath: configPath,
	}, nil
}

// Load reads and merges a YAML config file on top of Default(), creating
// the file (with a freshly generated token) on first run the way the
// teacher's Load does for its flat-file format.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		cfg.ConfigPath = path
	}

	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %q: %w", cfg.ConfigPath, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", cfg.ConfigPath, err)
	}

	if strings.TrimSpace(cfg.Token) == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("save config file: %w", err)
		}
	}

	return cfg, nil
}

// Save writes the config tree back to ConfigPath, creating parent
// directories as needed (mirrors internal/config/config.go: saveToFile).
func (c *Config) Save() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

// WALFlushInterval translates WALFlushPolicy into a concrete duration; the
// zero duration means "flush after every record" (spec §4.10). An
// unparseable policy string falls back to the spec's 100ms high-throughput
// default rather than failing daemon startup.
func (c *Config) WALFlushInterval() (alwaysFlush bool, interval time.Duration) {
	policy := c.Persistence.WALFlushPolicy
	if policy == "" || policy == "always" {
		return true, 0
	}
	d, err := time.ParseDuration(policy)
	if err != nil {
		return false, 100 * time.Millisecond
	}
	return false, d
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
