package presets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// mcpServers is the on-disk shape of a pane's mcp.json (spec §6).
type mcpServers struct {
	MCPServers map[string]any `json:"mcpServers"`
}

// WriteMCPConfig populates <configRoot>/<paneID>/mcp.json from a preset's
// MCPServers according to its MCPMode (spec §6: "MCP-mode filtering of
// mcp.json"). Source configuration (cfg.MCPServers) is never mutated — a
// fresh filtered copy is written every call.
func WriteMCPConfig(cfg *AgentConfig, configRoot, paneID string, minimalAllowlist []string) error {
	if configRoot == "" {
		return nil
	}
	dir := filepath.Join(configRoot, paneID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pane config dir: %w", err)
	}

	var filtered mcpServers
	switch cfg.MCPMode {
	case MCPNone:
		filtered.MCPServers = map[string]any{}
	case MCPMinimal:
		filtered.MCPServers = map[string]any{}
		allow := make(map[string]struct{}, len(minimalAllowlist))
		for _, name := range minimalAllowlist {
			allow[name] = struct{}{}
		}
		for name, server := range cfg.MCPServers {
			if _, ok := allow[name]; ok {
				filtered.MCPServers[name] = server
			}
		}
	default: // MCPFull and unset default to an unfiltered copy
		filtered.MCPServers = make(map[string]any, len(cfg.MCPServers))
		for name, server := range cfg.MCPServers {
			filtered.MCPServers[name] = server
		}
	}

	data, err := json.MarshalIndent(filtered, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mcp.json: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "mcp.json"), data, 0o644)
}
