// Command agentmuxd is the daemon described in spec.md §1: a single
// long-lived process hosting sessions → windows → panes over PTYs, serving
// thin clients over a local socket and MCP tool clients over JSON-RPC.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "agentmuxd",
		Short:   "agentmux core daemon",
		Version: version,
	}
	root.PersistentFlags().String("config", "", "path to config.yaml (default ~/.config/agentmux/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRecoverCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("agentmuxd v%s\n", version)
			return nil
		},
	}
}
