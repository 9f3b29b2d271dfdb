package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/orchestration"
	"github.com/user/agentmux/internal/wire"
)

// Tools is the bridge's full tool surface (spec §4.9): every call goes
// through the supervised DaemonClient, so it inherits request-id
// correlation and the DaemonUnavailable behavior while disconnected.
// Orchestration send/mailbox tools bypass the wire protocol and call
// internal/orchestration directly, matching internal/dispatch.Dispatcher's
// documented split (it never routes orchestration messages itself).
type Tools struct {
	client  *DaemonClient
	sup     *Supervisor
	router  *orchestration.Router
	mailbox *orchestration.Mailbox

	callTimeout time.Duration
}

// NewTools builds a Tools surface. router and mailbox may be nil if this
// bridge instance does not expose orchestration tools.
func NewTools(client *DaemonClient, sup *Supervisor, router *orchestration.Router, mailbox *orchestration.Mailbox) *Tools {
	return &Tools{client: client, sup: sup, router: router, mailbox: mailbox, callTimeout: 30 * time.Second}
}

// SetCallTimeout overrides the per-request timeout applied to every wire
// call a tool makes (spec §6: mcp.call_timeout_ms). A non-positive d is
// ignored.
func (t *Tools) SetCallTimeout(d time.Duration) {
	if d > 0 {
		t.callTimeout = d
	}
}

// unavailable builds the structured DaemonUnavailable error the spec
// requires while disconnected: state, attempt number, and a last-known
// summary are all surfaced to the caller (spec §4.9).
func (t *Tools) unavailable(summary string) error {
	state, attempt, lastErr, lastSeen := t.sup.State()
	msg := fmt.Sprintf("state=%s attempt=%d last_seen=%s", state, attempt, lastSeen.Format(time.RFC3339))
	if lastErr != nil {
		msg += fmt.Sprintf(" last_error=%v", lastErr)
	}
	if summary != "" {
		msg += " " + summary
	}
	return daemonerr.Wrap(daemonerr.DaemonUnavail, msg, lastErr)
}

func (t *Tools) request(ctx context.Context, kind wire.Kind, body any) (wire.Envelope, error) {
	if t.sup != nil {
		if state, _, _, _ := t.sup.State(); state != StateConnected && state != StateDegraded {
			return wire.Envelope{}, t.unavailable("")
		}
	}
	ctx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()
	env, err := t.client.Request(ctx, kind, body)
	if err != nil {
		if daemonerr.Is(err, daemonerr.Timeout) {
			return wire.Envelope{}, err
		}
		return wire.Envelope{}, t.unavailable(err.Error())
	}
	if env.Kind == wire.KindError {
		var resp wire.ErrorResp
		if decErr := wire.DecodeBody(env, &resp); decErr == nil {
			return wire.Envelope{}, daemonerr.New(daemonerr.Code(resp.Code), resp.Message)
		}
	}
	return env, nil
}

// --- sessions ---

func (t *Tools) ListSessions(ctx context.Context) (wire.SessionListResp, error) {
	env, err := t.request(ctx, wire.KindListSessions, wire.ListSessionsReq{})
	if err != nil {
		return wire.SessionListResp{}, err
	}
	var resp wire.SessionListResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (t *Tools) CreateSession(ctx context.Context, req wire.CreateSessionReq) (wire.SessionCreatedResp, error) {
	env, err := t.request(ctx, wire.KindCreateSession, req)
	if err != nil {
		return wire.SessionCreatedResp{}, err
	}
	var resp wire.SessionCreatedResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (t *Tools) RenameSession(ctx context.Context, session, newName string) (wire.SessionRenamedResp, error) {
	env, err := t.request(ctx, wire.KindRenameSession, wire.RenameSessionReq{Session: session, NewName: newName})
	if err != nil {
		return wire.SessionRenamedResp{}, err
	}
	var resp wire.SessionRenamedResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (t *Tools) KillSession(ctx context.Context, session string) error {
	_, err := t.request(ctx, wire.KindDestroySession, wire.DestroySessionReq{Session: session})
	return err
}

func (t *Tools) GetSessionTags(ctx context.Context, session string) ([]string, error) {
	env, err := t.request(ctx, wire.KindGetSessionTags, wire.GetSessionTagsReq{Session: session})
	if err != nil {
		return nil, err
	}
	var resp wire.SessionTagsResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

func (t *Tools) SetSessionTags(ctx context.Context, session string, tags []string) error {
	_, err := t.request(ctx, wire.KindSetSessionTags, wire.SetSessionTagsReq{Session: session, Tags: tags})
	return err
}

func (t *Tools) GetSessionMetadata(ctx context.Context, session string) (map[string]string, error) {
	env, err := t.request(ctx, wire.KindGetSessionMetadata, wire.GetSessionMetadataReq{Session: session})
	if err != nil {
		return nil, err
	}
	var resp wire.SessionMetadataResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

func (t *Tools) SetSessionMetadata(ctx context.Context, session string, metadata map[string]string) error {
	_, err := t.request(ctx, wire.KindSetSessionMetadata, wire.SetSessionMetadataReq{Session: session, Metadata: metadata})
	return err
}

// --- windows ---

func (t *Tools) CreateWindow(ctx context.Context, req wire.CreateWindowReq) (wire.WindowCreatedResp, error) {
	env, err := t.request(ctx, wire.KindCreateWindow, req)
	if err != nil {
		return wire.WindowCreatedResp{}, err
	}
	var resp wire.WindowCreatedResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (t *Tools) RenameWindow(ctx context.Context, window, newName string) error {
	_, err := t.request(ctx, wire.KindRenameWindow, wire.RenameWindowReq{Window: window, NewName: newName})
	return err
}

func (t *Tools) CloseWindow(ctx context.Context, window string) error {
	_, err := t.request(ctx, wire.KindDestroyWindow, wire.DestroyWindowReq{Window: window})
	return err
}

func (t *Tools) ResizeWindow(ctx context.Context, window string, cols, rows int) error {
	_, err := t.request(ctx, wire.KindResizeWindow, wire.ResizeWindowReq{Window: window, Cols: cols, Rows: rows})
	return err
}

// --- panes ---

func (t *Tools) SplitPane(ctx context.Context, req wire.SplitPaneReq) (string, error) {
	env, err := t.request(ctx, wire.KindSplitPane, req)
	if err != nil {
		return "", err
	}
	var resp wire.PaneSplitResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return "", err
	}
	return resp.PaneID, nil
}

func (t *Tools) RenamePane(ctx context.Context, pane, newName string) error {
	_, err := t.request(ctx, wire.KindRenamePane, wire.RenamePaneReq{Pane: pane, NewName: newName})
	return err
}

func (t *Tools) FocusPane(ctx context.Context, pane string) error {
	_, err := t.request(ctx, wire.KindFocusPane, wire.FocusPaneReq{Pane: pane})
	return err
}

func (t *Tools) ReadPane(ctx context.Context, pane string, lines int, stripANSI bool) ([]string, error) {
	env, err := t.request(ctx, wire.KindReadPane, wire.ReadPaneReq{Pane: pane, Lines: lines, StripANSI: stripANSI})
	if err != nil {
		return nil, err
	}
	var resp wire.PaneReadResultResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

func (t *Tools) WritePaneInput(ctx context.Context, pane string, data []byte, submit bool) error {
	_, err := t.request(ctx, wire.KindWritePaneInput, wire.WritePaneInputReq{Pane: pane, Bytes: data, Submit: submit})
	return err
}

func (t *Tools) ResizePane(ctx context.Context, pane string, cols, rows int) error {
	_, err := t.request(ctx, wire.KindResizePane, wire.ResizePaneReq{Pane: pane, Cols: cols, Rows: rows})
	return err
}

func (t *Tools) KillPane(ctx context.Context, pane string) error {
	_, err := t.request(ctx, wire.KindDestroyPane, wire.DestroyPaneReq{Pane: pane})
	return err
}

func (t *Tools) AgentSummary(ctx context.Context, pane string) (wire.AgentSummaryResp, error) {
	env, err := t.request(ctx, wire.KindGetAgentSummary, wire.GetAgentSummaryReq{Pane: pane})
	if err != nil {
		return wire.AgentSummaryResp{}, err
	}
	var resp wire.AgentSummaryResp
	if err := wire.DecodeBody(env, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// --- messages / subscription ---

// SubscribeNext blocks until a broadcast event arrives, ctx is done, or the
// supervised connection is lost.
func (t *Tools) SubscribeNext(ctx context.Context) (wire.Envelope, error) {
	select {
	case env, ok := <-t.client.Events():
		if !ok {
			return wire.Envelope{}, t.unavailable("event stream closed")
		}
		return env, nil
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

// DrainResult is drain_messages' diagnostic payload (spec §4.9).
type DrainResult struct {
	Count          int            `json:"count"`
	TypeDistribution map[string]int `json:"typeDistribution"`
}

// DrainMessages discards every broadcast event currently queued (or
// arriving within timeout) and reports how many of each Kind were
// discarded, for diagnostic recovery after a reconnect.
func (t *Tools) DrainMessages(timeout time.Duration) DrainResult {
	result := DrainResult{TypeDistribution: make(map[string]int)}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case env, ok := <-t.client.Events():
			if !ok {
				return result
			}
			result.Count++
			result.TypeDistribution[kindName(env.Kind)]++
		case <-deadline.C:
			return result
		}
	}
}

func kindName(k wire.Kind) string {
	return fmt.Sprintf("kind_%d", k)
}

// ConnectionStatus answers the bridge's connection_status tool (spec
// §4.9).
type ConnectionStatus struct {
	State    ConnectionState `json:"state"`
	Attempt  int             `json:"attempt"`
	LastSeen time.Time       `json:"lastSeen"`
	LastErr  string          `json:"lastError,omitempty"`
}

func (t *Tools) ConnectionStatus() ConnectionStatus {
	state, attempt, lastErr, lastSeen := t.sup.State()
	status := ConnectionStatus{State: state, Attempt: attempt, LastSeen: lastSeen}
	if lastErr != nil {
		status.LastErr = lastErr.Error()
	}
	return status
}

// --- orchestration ---

// SendOrchestrationMessage routes a message via the in-process router
// (spec §4.11). NoRecipients is returned to the caller as a normal error
// value, not panicked or swallowed: the tool surface reports it, never
// treats it as fatal to the bridge connection.
func (t *Tools) SendOrchestrationMessage(from, msgType string, payload json.RawMessage, target orchestration.Target) (int, error) {
	if t.router == nil {
		return 0, fmt.Errorf("mcpbridge: orchestration router not configured")
	}
	return t.router.Route(orchestration.Message{From: from, MsgType: msgType, Payload: payload, Target: target})
}

func (t *Tools) SendMail(recipient string, msg orchestration.MailMessage) error {
	if t.mailbox == nil {
		return fmt.Errorf("mcpbridge: mailbox not configured")
	}
	return t.mailbox.Send(recipient, msg)
}

func (t *Tools) ReadMail(recipient string, filter orchestration.Filter, markRead bool) ([]orchestration.MailMessage, error) {
	if t.mailbox == nil {
		return nil, fmt.Errorf("mcpbridge: mailbox not configured")
	}
	return t.mailbox.Read(recipient, filter, markRead)
}

// --- task lists ---

func (t *Tools) ReadTaskList(listID string, statusFilter []TaskStatus) (TaskGraph, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return TaskGraph{}, fmt.Errorf("mcpbridge: resolve home dir: %w", err)
	}
	return ReadTaskList(home, listID, statusFilter)
}
