package mcpbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/user/agentmux/internal/orchestration"
	"github.com/user/agentmux/internal/wire"
)

// Config configures a Bridge.
type Config struct {
	// Network/Addr dial the daemon's own wire-protocol listener ("unix",
	// socket path, or "tcp", host:port).
	Network string
	Addr    string
	// MaxReconnectAttempts caps the supervisor's consecutive failures
	// before Run gives up (spec §4.9 default 5).
	MaxReconnectAttempts int
	// CallTimeout bounds every tool's wire request (spec §6:
	// mcp.call_timeout_ms). Zero keeps Tools' 30s default.
	CallTimeout time.Duration
	// Router and Mailbox back the orchestration tools. Either may be nil
	// to disable those tools.
	Router  *orchestration.Router
	Mailbox *orchestration.Mailbox
	Logger  *slog.Logger
}

// Bridge wires a DaemonClient, its connection Supervisor, the Tools
// surface, and the JSON-RPC Server into one unit a daemon main can start
// and stop.
type Bridge struct {
	Client     *DaemonClient
	Supervisor *Supervisor
	Tools      *Tools
	RPC        *Server

	logger *slog.Logger
}

// New builds a Bridge and registers every tool method on its JSON-RPC
// server. Run must be called to actually dial the daemon.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := NewDaemonClient(cfg.Network, cfg.Addr)
	sup := NewSupervisor(client, cfg.MaxReconnectAttempts)
	tools := NewTools(client, sup, cfg.Router, cfg.Mailbox)
	tools.SetCallTimeout(cfg.CallTimeout)
	rpc := NewServer(cfg.Logger)

	b := &Bridge{Client: client, Supervisor: sup, Tools: tools, RPC: rpc, logger: cfg.Logger}
	b.registerMethods()
	return b
}

// Run starts the connection supervisor. It blocks until ctx is cancelled or
// the reconnect budget is exhausted; callers typically run it in its own
// goroutine alongside ServeStdio/ServeListener.
func (b *Bridge) Run(ctx context.Context) error {
	return b.Supervisor.Run(ctx)
}

func (b *Bridge) registerMethods() {
	t := b.Tools

	b.RPC.Handle("sessions.list", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return t.ListSessions(ctx)
	})
	b.RPC.Handle("sessions.create", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[wire.CreateSessionReq](p)
		if err != nil {
			return nil, err
		}
		return t.CreateSession(ctx, req)
	})
	b.RPC.Handle("sessions.rename", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session string `json:"session"`
			NewName string `json:"newName"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.RenameSession(ctx, req.Session, req.NewName)
	})
	b.RPC.Handle("sessions.kill", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session string `json:"session"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.KillSession(ctx, req.Session)
	})
	b.RPC.Handle("sessions.getTags", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session string `json:"session"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.GetSessionTags(ctx, req.Session)
	})
	b.RPC.Handle("sessions.setTags", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session string   `json:"session"`
			Tags    []string `json:"tags"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.SetSessionTags(ctx, req.Session, req.Tags)
	})
	b.RPC.Handle("sessions.getMetadata", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session string `json:"session"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.GetSessionMetadata(ctx, req.Session)
	})
	b.RPC.Handle("sessions.setMetadata", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Session  string            `json:"session"`
			Metadata map[string]string `json:"metadata"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.SetSessionMetadata(ctx, req.Session, req.Metadata)
	})

	b.RPC.Handle("windows.create", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[wire.CreateWindowReq](p)
		if err != nil {
			return nil, err
		}
		return t.CreateWindow(ctx, req)
	})
	b.RPC.Handle("windows.rename", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Window  string `json:"window"`
			NewName string `json:"newName"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.RenameWindow(ctx, req.Window, req.NewName)
	})
	b.RPC.Handle("windows.close", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Window string `json:"window"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.CloseWindow(ctx, req.Window)
	})
	b.RPC.Handle("windows.resize", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Window string `json:"window"`
			Cols   int    `json:"cols"`
			Rows   int    `json:"rows"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.ResizeWindow(ctx, req.Window, req.Cols, req.Rows)
	})

	b.RPC.Handle("panes.split", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[wire.SplitPaneReq](p)
		if err != nil {
			return nil, err
		}
		paneID, err := t.SplitPane(ctx, req)
		if err != nil {
			return nil, err
		}
		return struct {
			PaneID string `json:"paneId"`
		}{paneID}, nil
	})
	b.RPC.Handle("panes.rename", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane    string `json:"pane"`
			NewName string `json:"newName"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.RenamePane(ctx, req.Pane, req.NewName)
	})
	b.RPC.Handle("panes.focus", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane string `json:"pane"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.FocusPane(ctx, req.Pane)
	})
	b.RPC.Handle("panes.read", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane      string `json:"pane"`
			Lines     int    `json:"lines"`
			StripANSI bool   `json:"stripAnsi"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.ReadPane(ctx, req.Pane, req.Lines, req.StripANSI)
	})
	b.RPC.Handle("panes.write", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane   string `json:"pane"`
			Text   string `json:"text"`
			Submit bool   `json:"submit"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.WritePaneInput(ctx, req.Pane, []byte(req.Text), req.Submit)
	})
	b.RPC.Handle("panes.resize", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane string `json:"pane"`
			Cols int    `json:"cols"`
			Rows int    `json:"rows"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.ResizePane(ctx, req.Pane, req.Cols, req.Rows)
	})
	b.RPC.Handle("panes.kill", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane string `json:"pane"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.KillPane(ctx, req.Pane)
	})
	b.RPC.Handle("panes.agentSummary", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Pane string `json:"pane"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.AgentSummary(ctx, req.Pane)
	})

	b.RPC.Handle("messages.send", func(_ context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			From       string          `json:"from"`
			MsgType    string          `json:"msgType"`
			Payload    json.RawMessage `json:"payload"`
			TargetKind string          `json:"targetKind"`
			TargetVal  string          `json:"targetValue"`
		}](p)
		if err != nil {
			return nil, err
		}
		delivered, err := t.SendOrchestrationMessage(req.From, req.MsgType, req.Payload,
			orchestration.Target{Kind: orchestration.TargetKind(req.TargetKind), Value: req.TargetVal})
		return struct {
			Delivered int `json:"delivered"`
		}{delivered}, err
	})
	b.RPC.Handle("messages.next", func(ctx context.Context, p json.RawMessage) (any, error) {
		req, _ := unmarshalParams[struct {
			TimeoutMs int `json:"timeoutMs"`
		}](p)
		callCtx := ctx
		if req.TimeoutMs > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		return t.SubscribeNext(callCtx)
	})
	b.RPC.Handle("messages.drain", func(_ context.Context, p json.RawMessage) (any, error) {
		req, _ := unmarshalParams[struct {
			TimeoutMs int `json:"timeoutMs"`
		}](p)
		timeout := 100 * time.Millisecond
		if req.TimeoutMs > 0 {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		return t.DrainMessages(timeout), nil
	})

	b.RPC.Handle("mail.send", func(_ context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Recipient     string                   `json:"recipient"`
			From          string                   `json:"from"`
			Type          string                   `json:"type"`
			Priority      orchestration.Priority   `json:"priority"`
			NeedsResponse bool                     `json:"needsResponse"`
			Body          string                   `json:"body"`
		}](p)
		if err != nil {
			return nil, err
		}
		return nil, t.SendMail(req.Recipient, orchestration.MailMessage{
			From: req.From, To: req.Recipient, Type: req.Type,
			Priority: req.Priority, NeedsResponse: req.NeedsResponse, Body: req.Body,
		})
	})
	b.RPC.Handle("mail.read", func(_ context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			Recipient     string                 `json:"recipient"`
			Type          string                 `json:"type"`
			Priority      orchestration.Priority `json:"priority"`
			NeedsResponse *bool                  `json:"needsResponse"`
			MarkRead      bool                   `json:"markRead"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.ReadMail(req.Recipient, orchestration.Filter{
			Type: req.Type, Priority: req.Priority, NeedsResponse: req.NeedsResponse,
		}, req.MarkRead)
	})

	b.RPC.Handle("tasks.read", func(_ context.Context, p json.RawMessage) (any, error) {
		req, err := unmarshalParams[struct {
			ListID string       `json:"listId"`
			Status []TaskStatus `json:"status"`
		}](p)
		if err != nil {
			return nil, err
		}
		return t.ReadTaskList(req.ListID, req.Status)
	})

	b.RPC.Handle("connection.status", func(_ context.Context, _ json.RawMessage) (any, error) {
		return t.ConnectionStatus(), nil
	})
}

// ListenAndServeSocket starts a secondary JSON-RPC listener on a Unix
// socket, for MCP clients that prefer a persistent socket over stdio.
func (b *Bridge) ListenAndServeSocket(ctx context.Context, socketPath string) error {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	return b.RPC.ServeListener(ctx, ln)
}
