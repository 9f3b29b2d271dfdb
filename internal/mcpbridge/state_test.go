package mcpbridge

import (
	"context"
	"testing"
	"time"
)

func TestSupervisorConnectsAndReachesConnected(t *testing.T) {
	sockPath := newTestDaemon(t)
	client := NewDaemonClient("unix", sockPath)
	sup := NewSupervisor(client, 3)

	var states []ConnectionState
	sup.OnStateChange(func(s ConnectionState) { states = append(states, s) })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sup.Run(ctx)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if state, _, _, _ := sup.State(); state == StateConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("supervisor never reached Connected, states observed: %v", states)
}

func TestSupervisorExhaustsBudgetWhenDaemonNeverUp(t *testing.T) {
	client := NewDaemonClient("unix", "/nonexistent-agentmux.sock")
	sup := NewSupervisor(client, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to fail once the reconnect budget is exhausted")
	}
	state, attempt, _, _ := sup.State()
	if state != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected", state)
	}
	if attempt < 2 {
		t.Fatalf("attempt = %d, want >= 2", attempt)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 1600*time.Millisecond)
	want := []time.Duration{100, 200, 400, 800, 1600, 1600}
	for i, w := range want {
		got := b.next()
		if got != w*time.Millisecond {
			t.Fatalf("next()[%d] = %v, want %v", i, got, w*time.Millisecond)
		}
	}
	b.reset()
	if got := b.next(); got != 100*time.Millisecond {
		t.Fatalf("after reset, next() = %v, want 100ms", got)
	}
}
