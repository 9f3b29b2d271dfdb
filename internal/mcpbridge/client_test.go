package mcpbridge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/transport"
	"github.com/user/agentmux/internal/wire"
)

func echoHandler() transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, client *registry.Client, env wire.Envelope) wire.Envelope {
		reply, _ := wire.EncodeBody(wire.KindPong, env.RequestID, wire.OKResp{})
		return reply
	})
}

func newTestDaemon(t *testing.T) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "agentmux.sock")
	ln, err := transport.New(transport.Options{SocketPath: sockPath}, registry.New(), echoHandler())
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ln.Serve(ctx)
	return sockPath
}

func TestDaemonClientRequestCorrelatesByRequestID(t *testing.T) {
	sockPath := newTestDaemon(t)
	client := NewDaemonClient("unix", sockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	reply, err := client.Request(ctx, wire.KindPing, wire.OKResp{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply.Kind != wire.KindPong {
		t.Fatalf("reply.Kind = %v, want KindPong", reply.Kind)
	}
}

func TestDaemonClientConcurrentRequestsDoNotCrossWires(t *testing.T) {
	sockPath := newTestDaemon(t)
	client := NewDaemonClient("unix", sockPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			reply, err := client.Request(ctx, wire.KindPing, wire.OKResp{})
			if err != nil {
				errs <- err
				return
			}
			if reply.Kind != wire.KindPong {
				errs <- fmt.Errorf("reply.Kind = %v, want KindPong", reply.Kind)
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Request() error = %v", err)
		}
	}
}

func TestDaemonClientRequestFailsWhenNotDialed(t *testing.T) {
	client := NewDaemonClient("unix", "/nonexistent.sock")
	_, err := client.Request(context.Background(), wire.KindPing, wire.OKResp{})
	if err == nil {
		t.Fatal("expected error when requesting before Dial")
	}
}

func TestDaemonClientDialFailsOnBadAddr(t *testing.T) {
	client := NewDaemonClient("unix", filepath.Join(t.TempDir(), "nope.sock"))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Dial(ctx); err == nil {
		t.Fatal("expected Dial to fail for a socket with no listener")
	}
}
