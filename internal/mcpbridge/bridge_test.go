package mcpbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func waitConnected(t *testing.T, sup *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if state, _, _, _ := sup.State(); state == StateConnected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("supervisor never reached Connected")
}

func TestBridgeListSessionsOverJSONRPC(t *testing.T) {
	sockPath := newTestDaemon(t)
	b := New(Config{Network: "unix", Addr: sockPath, MaxReconnectAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	waitConnected(t, b.Supervisor)

	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"sessions.list"}` + "\n")
	if err := b.RPC.ServeStdio(ctx, in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatal("expected one response line")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestBridgeUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := NewServer(nil)
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"nonexistent.method"}` + "\n")
	if err := s.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("resp.Error = %+v, want method-not-found", resp.Error)
	}
}

func TestBridgeMalformedJSONReturnsParseError(t *testing.T) {
	s := NewServer(nil)
	var out bytes.Buffer
	in := strings.NewReader(`not json` + "\n")
	if err := s.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("resp.Error = %+v, want parse error", resp.Error)
	}
}

func TestBridgeNotificationGetsNoResponse(t *testing.T) {
	s := NewServer(nil)
	s.Handle("noop", func(ctx context.Context, p json.RawMessage) (any, error) {
		return "ok", nil
	})
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"noop"}` + "\n")
	if err := s.ServeStdio(context.Background(), in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for a notification, got %q", out.String())
	}
}
