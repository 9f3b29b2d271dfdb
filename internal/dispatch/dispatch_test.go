package dispatch

import (
	"context"
	"testing"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/detector"
	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/wire"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	mgr := hierarchy.NewManager(pty.NewManager(), detector.New(), reg, hierarchy.Options{})
	return New(mgr, reg, nil), reg
}

func mustEncode(t *testing.T, kind wire.Kind, requestID uint64, body any) wire.Envelope {
	t.Helper()
	env, err := wire.EncodeBody(kind, requestID, body)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	return env
}

func TestHandleCreateSessionPreservesRequestID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := &registry.Client{}

	req := mustEncode(t, wire.KindCreateSession, 42, wire.CreateSessionReq{Name: "dev", Cols: 80, Rows: 24})
	resp := d.Handle(context.Background(), client, req)

	if resp.Kind != wire.KindSessionCreated {
		t.Fatalf("resp.Kind = %v, want KindSessionCreated", resp.Kind)
	}
	if resp.RequestID != 42 {
		t.Fatalf("resp.RequestID = %d, want 42", resp.RequestID)
	}

	var body wire.SessionCreatedResp
	if err := wire.DecodeBody(resp, &body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.SessionID == "" || body.WindowID == "" || body.PaneID == "" {
		t.Fatalf("SessionCreatedResp has empty fields: %+v", body)
	}
}

func TestHandleUnknownKindReturnsInvalidParamsError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := &registry.Client{}

	resp := d.Handle(context.Background(), client, wire.Envelope{Kind: wire.Kind(9999), RequestID: 5})
	if resp.Kind != wire.KindError {
		t.Fatalf("resp.Kind = %v, want KindError", resp.Kind)
	}
	var body wire.ErrorResp
	if err := wire.DecodeBody(resp, &body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Code != string(daemonerr.InvalidParams) {
		t.Fatalf("error code = %q, want %q", body.Code, daemonerr.InvalidParams)
	}
	if resp.RequestID != 5 {
		t.Fatalf("resp.RequestID = %d, want 5", resp.RequestID)
	}
}

func TestHandleDestroySessionOnUnknownSessionReturnsError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := &registry.Client{}

	req := mustEncode(t, wire.KindDestroySession, 1, wire.DestroySessionReq{Session: "no-such-session"})
	resp := d.Handle(context.Background(), client, req)

	if resp.Kind != wire.KindError {
		t.Fatalf("resp.Kind = %v, want KindError", resp.Kind)
	}
	var body wire.ErrorResp
	if err := wire.DecodeBody(resp, &body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Code != string(daemonerr.SessionNotFound) {
		t.Fatalf("error code = %q, want %q", body.Code, daemonerr.SessionNotFound)
	}
}

func TestHandleAttachAndDetach(t *testing.T) {
	d, reg := newTestDispatcher(t)
	client := reg.Register(8)

	createReq := mustEncode(t, wire.KindCreateSession, 1, wire.CreateSessionReq{Name: "dev", Cols: 80, Rows: 24})
	createResp := d.Handle(context.Background(), client, createReq)
	var created wire.SessionCreatedResp
	if err := wire.DecodeBody(createResp, &created); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}

	attachReq := mustEncode(t, wire.KindAttach, 2, wire.AttachReq{Session: created.SessionID})
	attachResp := d.Handle(context.Background(), client, attachReq)
	if attachResp.Kind != wire.KindOK {
		t.Fatalf("attach resp.Kind = %v, want KindOK", attachResp.Kind)
	}
	if client.AttachedSession().String() != created.SessionID {
		t.Fatalf("client.AttachedSession = %s, want %s", client.AttachedSession(), created.SessionID)
	}

	detachReq := mustEncode(t, wire.KindDetach, 3, wire.DetachReq{})
	detachResp := d.Handle(context.Background(), client, detachReq)
	if detachResp.Kind != wire.KindOK {
		t.Fatalf("detach resp.Kind = %v, want KindOK", detachResp.Kind)
	}
	if !client.AttachedSession().IsNil() {
		t.Fatalf("client.AttachedSession after detach = %s, want nil", client.AttachedSession())
	}
}

func TestHandleListSessionsReflectsCreatedSessions(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := &registry.Client{}

	createReq := mustEncode(t, wire.KindCreateSession, 1, wire.CreateSessionReq{Name: "alpha", Cols: 80, Rows: 24})
	d.Handle(context.Background(), client, createReq)

	listReq := mustEncode(t, wire.KindListSessions, 2, wire.ListSessionsReq{})
	resp := d.Handle(context.Background(), client, listReq)
	if resp.Kind != wire.KindSessionList {
		t.Fatalf("resp.Kind = %v, want KindSessionList", resp.Kind)
	}
	var body wire.SessionListResp
	if err := wire.DecodeBody(resp, &body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].Name != "alpha" {
		t.Fatalf("Sessions = %+v, want one session named alpha", body.Sessions)
	}
}

func TestHandleSplitPaneAndDestroyPane(t *testing.T) {
	d, _ := newTestDispatcher(t)
	client := &registry.Client{}

	createReq := mustEncode(t, wire.KindCreateSession, 1, wire.CreateSessionReq{Name: "dev", Cols: 80, Rows: 24})
	createResp := d.Handle(context.Background(), client, createReq)
	var created wire.SessionCreatedResp
	if err := wire.DecodeBody(createResp, &created); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}

	splitReq := mustEncode(t, wire.KindSplitPane, 2, wire.SplitPaneReq{SourcePane: created.PaneID, Direction: "vertical"})
	splitResp := d.Handle(context.Background(), client, splitReq)
	if splitResp.Kind != wire.KindPaneSplit {
		t.Fatalf("resp.Kind = %v, want KindPaneSplit", splitResp.Kind)
	}
	var split wire.PaneSplitResp
	if err := wire.DecodeBody(splitResp, &split); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if split.PaneID == "" {
		t.Fatal("expected a non-empty PaneID from split")
	}

	destroyReq := mustEncode(t, wire.KindDestroyPane, 3, wire.DestroyPaneReq{Pane: split.PaneID})
	destroyResp := d.Handle(context.Background(), client, destroyReq)
	if destroyResp.Kind != wire.KindOK {
		t.Fatalf("destroy resp.Kind = %v, want KindOK", destroyResp.Kind)
	}
}
