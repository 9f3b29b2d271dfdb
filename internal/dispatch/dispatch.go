// Package dispatch maps decoded wire requests to internal/hierarchy
// operations (spec §4.8). It mirrors the teacher's explicit separation
// between session-level bookkeeping and the actual I/O path: dispatch never
// touches a PTY or the layout tree directly, it only calls exported
// internal/hierarchy.Manager methods, which themselves release any session
// lock before reaching into internal/pty — the same split the teacher draws
// between internal/session.Manager.dispatchCommand (bookkeeping) and the
// tmux gateway's serialized SendRaw/SendKeys (the actual write).
package dispatch

import (
	"context"
	"log/slog"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/wire"
)

// Dispatcher implements transport.Handler against a hierarchy.Manager.
// Orchestration messages (spec §4.11) are not routed here: they arrive
// exclusively through the MCP bridge's tool surface, which calls
// internal/orchestration directly, so Dispatcher has no dependency on it.
type Dispatcher struct {
	hierarchy *hierarchy.Manager
	registry  *registry.Registry
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(mgr *hierarchy.Manager, reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{hierarchy: mgr, registry: reg, logger: logger}
}

// Handle implements transport.Handler. Every reply preserves env.RequestID
// (spec §4.1); a handler error becomes a KindError/ErrorResp carrying the
// daemonerr taxonomy code (spec §7).
func (d *Dispatcher) Handle(ctx context.Context, client *registry.Client, env wire.Envelope) wire.Envelope {
	resp, err := d.route(client, env)
	if err != nil {
		d.logger.Debug("request failed", "kind", env.Kind, "client", client.ID, "error", err)
		return errorEnvelope(env.RequestID, err)
	}
	return resp
}

func (d *Dispatcher) route(client *registry.Client, env wire.Envelope) (wire.Envelope, error) {
	switch env.Kind {
	case wire.KindCreateSession:
		return d.createSession(env)
	case wire.KindRenameSession:
		return d.renameSession(env)
	case wire.KindDestroySession:
		return d.destroySession(env)
	case wire.KindCreateWindow:
		return d.createWindow(env)
	case wire.KindDestroyWindow:
		return d.destroyWindow(env)
	case wire.KindRenameWindow:
		return d.renameWindow(env)
	case wire.KindFocusPane:
		return d.focusPane(env)
	case wire.KindSplitPane:
		return d.splitPane(env)
	case wire.KindResizePane:
		return d.resizePane(env)
	case wire.KindResizeWindow:
		return d.resizeWindow(env)
	case wire.KindDestroyPane:
		return d.destroyPane(env)
	case wire.KindWritePaneInput:
		return d.writePaneInput(env)
	case wire.KindPaste:
		return d.paste(env)
	case wire.KindSetSessionTags:
		return d.setSessionTags(env)
	case wire.KindSetSessionMetadata:
		return d.setSessionMetadata(env)
	case wire.KindReadPane:
		return d.readPane(env)
	case wire.KindListSessions:
		return d.listSessions(env)
	case wire.KindAttach:
		return d.attach(client, env)
	case wire.KindDetach:
		return d.detach(client, env)
	case wire.KindPing:
		return d.ping(env)
	case wire.KindGetSessionTags:
		return d.getSessionTags(env)
	case wire.KindGetSessionMetadata:
		return d.getSessionMetadata(env)
	case wire.KindGetAgentSummary:
		return d.getAgentSummary(env)
	case wire.KindRenamePane:
		return d.renamePane(env)
	default:
		return wire.Envelope{}, daemonerr.New(daemonerr.InvalidParams, "unknown request kind")
	}
}

func errorEnvelope(requestID uint64, err error) wire.Envelope {
	code := daemonerr.CodeOf(err)
	if code == "" {
		code = daemonerr.IOError
	}
	env, encErr := wire.EncodeBody(wire.KindError, requestID, wire.ErrorResp{
		Code:    string(code),
		Message: err.Error(),
	})
	if encErr != nil {
		// EncodeBody on a plain struct of strings cannot fail; this branch
		// exists only so errorEnvelope never panics on a malformed gob.
		return wire.Envelope{Kind: wire.KindError, RequestID: requestID}
	}
	return env
}

func ok(requestID uint64) wire.Envelope {
	env, _ := wire.EncodeBody(wire.KindOK, requestID, wire.OKResp{})
	return env
}

func decode[T any](env wire.Envelope) (T, error) {
	var out T
	if err := wire.DecodeBody(env, &out); err != nil {
		return out, daemonerr.Wrap(daemonerr.InvalidParams, "malformed request body", err)
	}
	return out, nil
}

func (d *Dispatcher) createSession(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.CreateSessionReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	sess, win, pane, err := d.hierarchy.CreateSession(hierarchy.CreateSessionParams{
		Name: req.Name, Cwd: req.Cwd, Env: req.Env, Tags: req.Tags, Metadata: req.Metadata,
		Cols: req.Cols, Rows: req.Rows, TaskListID: req.TaskListID, Preset: req.Preset,
	})
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindSessionCreated, env.RequestID, wire.SessionCreatedResp{
		SessionID: sess.ID.String(), WindowID: win.ID.String(), PaneID: pane.ID.String(),
	})
}

func (d *Dispatcher) renameSession(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.RenameSessionReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	sess, err := d.hierarchy.ResolveSession(req.Session)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.RenameSession(req.Session, req.NewName); err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindSessionRenamed, env.RequestID, wire.SessionRenamedResp{
		SessionID: sess.ID.String(), Name: req.NewName,
	})
}

func (d *Dispatcher) destroySession(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.DestroySessionReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.DestroySession(req.Session); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) createWindow(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.CreateWindowReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	var command []string
	if req.Command != "" {
		command = []string{"sh", "-c", req.Command}
	}
	_, win, pane, err := d.hierarchy.CreateWindow(hierarchy.CreateWindowParams{
		Session: req.Session, Name: req.Name, Command: command, Preset: req.Preset,
	})
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindWindowCreated, env.RequestID, wire.WindowCreatedResp{
		WindowID: win.ID.String(), PaneID: pane.ID.String(),
	})
}

func (d *Dispatcher) destroyWindow(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.DestroyWindowReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.DestroyWindow(req.Window); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) renameWindow(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.RenameWindowReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.RenameWindow(req.Window, req.NewName); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) focusPane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.FocusPaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.FocusPane(req.Pane); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) splitPane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.SplitPaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	orientation := layout.Horizontal
	if req.Direction == "vertical" {
		orientation = layout.Vertical
	}
	var command []string
	if req.Command != "" {
		command = []string{"sh", "-c", req.Command}
	}
	pane, err := d.hierarchy.SplitPane(hierarchy.SplitPaneParams{
		SourcePane: req.SourcePane, Orientation: orientation, Command: command, Cwd: req.Cwd, Preset: req.Preset,
	})
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindPaneSplit, env.RequestID, wire.PaneSplitResp{PaneID: pane.ID.String()})
}

func (d *Dispatcher) resizePane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.ResizePaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.ResizePane(req.Pane, req.Cols, req.Rows); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) resizeWindow(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.ResizeWindowReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.ResizeWindow(req.Window, req.Cols, req.Rows); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) destroyPane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.DestroyPaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.DestroyPane(req.Pane); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) writePaneInput(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.WritePaneInputReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.WritePaneInput(req.Pane, req.Bytes, req.Submit); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) paste(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.PasteReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.PastePane(req.Pane, req.Bytes); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) setSessionTags(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.SetSessionTagsReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.SetSessionTags(req.Session, req.Tags); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) setSessionMetadata(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.SetSessionMetadataReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.SetSessionMetadata(req.Session, req.Metadata); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) getSessionTags(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.GetSessionTagsReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	tags, err := d.hierarchy.SessionTags(req.Session)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindSessionTags, env.RequestID, wire.SessionTagsResp{Tags: tags})
}

func (d *Dispatcher) getSessionMetadata(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.GetSessionMetadataReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	metadata, err := d.hierarchy.SessionMetadata(req.Session)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindSessionMetadata, env.RequestID, wire.SessionMetadataResp{Metadata: metadata})
}

func (d *Dispatcher) getAgentSummary(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.GetAgentSummaryReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	summary, err := d.hierarchy.AgentSummaryFor(req.Pane)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindAgentSummary, env.RequestID, wire.AgentSummaryResp{
		PaneID: summary.PaneID, State: string(summary.State), HarnessKind: summary.HarnessKind,
	})
}

func (d *Dispatcher) renamePane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.RenamePaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	if err := d.hierarchy.RenamePane(req.Pane, req.NewName); err != nil {
		return wire.Envelope{}, err
	}
	return ok(env.RequestID), nil
}

func (d *Dispatcher) readPane(env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.ReadPaneReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	lines, err := d.hierarchy.ReadPane(req.Pane, req.Lines, req.StripANSI)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.EncodeBody(wire.KindPaneReadResult, env.RequestID, wire.PaneReadResultResp{Lines: lines})
}

func (d *Dispatcher) listSessions(env wire.Envelope) (wire.Envelope, error) {
	snapshots := d.hierarchy.ListSessions()
	summaries := make([]wire.SessionSummary, 0, len(snapshots))
	for _, s := range snapshots {
		summaries = append(summaries, wire.SessionSummary{
			ID: s.ID.String(), Name: s.Name, Tags: s.Tags,
			AttachedClients: s.AttachedClients, LastActivity: s.LastActivity, CreatedAt: s.CreatedAt,
		})
	}
	return wire.EncodeBody(wire.KindSessionList, env.RequestID, wire.SessionListResp{Sessions: summaries})
}

// ping answers an internal client's liveness check (spec §4.9), used by the
// MCP bridge's connection supervisor to detect a dead or degraded link
// without touching session state.
func (d *Dispatcher) ping(env wire.Envelope) (wire.Envelope, error) {
	reply, err := wire.EncodeBody(wire.KindPong, env.RequestID, wire.OKResp{})
	if err != nil {
		return wire.Envelope{}, err
	}
	return reply, nil
}

func (d *Dispatcher) attach(client *registry.Client, env wire.Envelope) (wire.Envelope, error) {
	req, err := decode[wire.AttachReq](env)
	if err != nil {
		return wire.Envelope{}, err
	}
	sess, err := d.hierarchy.ResolveSession(req.Session)
	if err != nil {
		return wire.Envelope{}, err
	}
	d.registry.Attach(client.ID, sess.ID)
	return ok(env.RequestID), nil
}

func (d *Dispatcher) detach(client *registry.Client, env wire.Envelope) (wire.Envelope, error) {
	d.registry.Detach(client.ID, client.AttachedSession())
	return ok(env.RequestID), nil
}
