package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentmux/internal/config"
	"github.com/user/agentmux/internal/detector"
	"github.com/user/agentmux/internal/dispatch"
	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/history"
	"github.com/user/agentmux/internal/mcpbridge"
	"github.com/user/agentmux/internal/orchestration"
	"github.com/user/agentmux/internal/persistence"
	"github.com/user/agentmux/internal/presets"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/transport"
	"github.com/user/agentmux/internal/webmirror"
)

func newServeCmd() *cobra.Command {
	var mcpSocket string
	var mcpStdio bool
	var webmirrorAddr string
	var webmirrorToken string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the agentmux daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(configPath, mcpSocket, mcpStdio, webmirrorAddr, webmirrorToken)
		},
	}
	cmd.Flags().StringVar(&mcpSocket, "mcp-socket", "", "also serve the MCP JSON-RPC bridge on this unix socket path")
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "serve the MCP JSON-RPC bridge on stdio (blocks; run as the sole foreground command)")
	cmd.Flags().StringVar(&webmirrorAddr, "webmirror-addr", "", "serve the read-only event mirror on this host:port (empty disables it)")
	cmd.Flags().StringVar(&webmirrorToken, "webmirror-token", "", "required ?token= query param for webmirror connections (default: the daemon's shared token)")
	return cmd
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("AGENTMUX_LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runServe(configPath, mcpSocket string, mcpStdio bool, webmirrorAddr, webmirrorToken string) error {
	logger := setupLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return fmt.Errorf("create root dir: %w", err)
	}
	if webmirrorToken == "" {
		webmirrorToken = cfg.Token
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := registry.New()

	presetsDir := filepath.Join(cfg.RootDir, "presets")
	presetsReg, err := presets.NewRegistry(presetsDir, logger)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	defer presetsReg.Close()
	seedPresetsFromConfig(presetsReg, cfg, logger)

	ptys := pty.NewManager()
	det := detector.NewWithDebounce(time.Duration(cfg.AgentDetector.DebounceMs) * time.Millisecond)

	alwaysFlush, flushInterval := cfg.WALFlushInterval()
	store, err := persistence.Open(persistence.Config{
		RootDir:                cfg.RootDir,
		CheckpointIntervalSecs: cfg.Persistence.CheckpointIntervalSecs,
		WALFlushAlways:         alwaysFlush,
		WALFlushInterval:       flushInterval,
		WALMaxSegmentBytes:     cfg.Persistence.WALMaxSegmentBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close persistence store", "error", err)
		}
	}()

	mgr := hierarchy.NewManager(ptys, det, reg, hierarchy.Options{
		ClaudeConfigRoot:    filepath.Join(cfg.RootDir, "claude-config"),
		ScrollbackLines:     cfg.Scrollback.Default,
		Recorder:            store,
		Logger:              logger,
		Presets:             presetsReg,
		MCPMinimalAllowlist: cfg.MCPMode.Minimal.Allowlist,
	})

	if err := store.Recover(mgr); err != nil {
		return fmt.Errorf("recover from WAL/checkpoint: %w", err)
	}
	go store.RunCheckpointLoop(ctx, mgr, time.Duration(cfg.Persistence.CheckpointIntervalSecs)*time.Second)

	historyDB, err := history.Open(ctx, filepath.Join(cfg.RootDir, "history.db"))
	if err != nil {
		return fmt.Errorf("open history db: %w", err)
	}
	defer func() {
		if err := historyDB.Close(); err != nil {
			logger.Error("failed to close history database", "error", err)
		}
	}()
	deliveryRepo := history.NewDeliveryRepo(historyDB.SQL())

	router := orchestration.NewRouter(mgr, reg, deliveryRepo)
	mailbox := orchestration.NewMailbox(cfg.RootDir)

	mirror := webmirror.New(webmirrorToken, logger)
	mirror.Attach(reg)
	go mirror.Run(ctx)
	if webmirrorAddr != "" {
		go serveWebmirror(ctx, mirror, webmirrorAddr, logger)
	}

	disp := dispatch.New(mgr, reg, logger)

	ln, err := transport.New(transport.Options{
		SocketPath:   cfg.SocketPath,
		TCPAddr:      cfg.TCP.Bind,
		TCPAuthToken: cfg.TCP.AuthToken,
		MaxPayload:   cfg.Terminal.MaxMessageSize,
		Logger:       logger,
	}, reg, disp)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}

	if mcpSocket != "" || mcpStdio {
		bridge := mcpbridge.New(mcpbridge.Config{
			Network:              "unix",
			Addr:                 cfg.SocketPath,
			MaxReconnectAttempts: cfg.MCP.Reconnect.MaxAttempts,
			CallTimeout:          time.Duration(cfg.MCP.CallTimeoutMs) * time.Millisecond,
			Router:               router,
			Mailbox:              mailbox,
			Logger:               logger,
		})
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("mcpbridge: supervisor exited", "error", err)
			}
		}()
		if mcpSocket != "" {
			go func() {
				if err := bridge.ListenAndServeSocket(ctx, mcpSocket); err != nil && ctx.Err() == nil {
					logger.Error("mcpbridge: socket server exited", "error", err)
				}
			}()
		}
		if mcpStdio {
			go func() {
				if err := bridge.RPC.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
					logger.Error("mcpbridge: stdio server exited", "error", err)
				}
			}()
		}
	}

	logger.Info("agentmuxd listening",
		"socket", cfg.SocketPath,
		"tcp", cfg.TCP.Bind,
		"root", cfg.RootDir,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("transport listener exited", "error", err)
		}
	}

	logger.Info("shutting down")
	ln.Close()
	if err := store.CheckpointNow(mgr); err != nil {
		logger.Error("final checkpoint failed", "error", err)
	}
	return nil
}

func serveWebmirror(ctx context.Context, mirror *webmirror.Hub, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/mirror", mirror)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("webmirror listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("webmirror: listen failed", "error", err)
	}
}

func seedPresetsFromConfig(reg *presets.Registry, cfg *config.Config, logger *slog.Logger) {
	for name, p := range cfg.Presets {
		if reg.Get(name) != nil {
			continue
		}
		ac := &presets.AgentConfig{
			ID:         name,
			Name:       name,
			Harness:    p.Harness,
			Command:    p.Command,
			Env:        p.Env,
			MCPMode:    presets.MCPMode(p.MCPMode),
			Scrollback: p.Scrollback,
		}
		if p.Sandbox != nil {
			ac.Sandbox = &presets.SandboxSpec{
				Enabled:        p.Sandbox.Enabled,
				Wrapper:        p.Sandbox.Wrapper,
				ReadOnlyPaths:  p.Sandbox.ReadOnlyPaths,
				ReadWritePaths: p.Sandbox.ReadWritePaths,
				CwdWritable:    p.Sandbox.CwdWritable,
			}
		}
		if err := reg.Save(ac); err != nil {
			logger.Warn("config: failed to seed preset into presets registry", "preset", name, "error", err)
		}
	}
}
