package registry

import (
	"testing"
	"time"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/wire"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	c := r.Register(8)

	got, ok := r.Get(c.ID)
	if !ok || got != c {
		t.Fatalf("Get returned (%v, %v), want (%v, true)", got, ok, c)
	}
}

func TestAttachAndCount(t *testing.T) {
	r := New()
	c1 := r.Register(8)
	c2 := r.Register(8)
	sess := id.New()

	r.Attach(c1.ID, sess)
	r.Attach(c2.ID, sess)

	if got := r.AttachedCount(sess); got != 2 {
		t.Fatalf("AttachedCount = %d, want 2", got)
	}
	if got := c1.AttachedSession(); got != sess {
		t.Fatalf("c1.AttachedSession = %s, want %s", got, sess)
	}
}

func TestAttachMovesClientBetweenSessions(t *testing.T) {
	r := New()
	c := r.Register(8)
	sessA := id.New()
	sessB := id.New()

	r.Attach(c.ID, sessA)
	r.Attach(c.ID, sessB)

	if r.AttachedCount(sessA) != 0 {
		t.Errorf("AttachedCount(sessA) = %d, want 0", r.AttachedCount(sessA))
	}
	if r.AttachedCount(sessB) != 1 {
		t.Errorf("AttachedCount(sessB) = %d, want 1", r.AttachedCount(sessB))
	}
}

func TestDetach(t *testing.T) {
	r := New()
	c := r.Register(8)
	sess := id.New()

	r.Attach(c.ID, sess)
	r.Detach(c.ID, sess)

	if got := r.AttachedCount(sess); got != 0 {
		t.Fatalf("AttachedCount after Detach = %d, want 0", got)
	}
	if got := c.AttachedSession(); !got.IsNil() {
		t.Fatalf("AttachedSession after Detach = %s, want nil", got)
	}
}

func TestUnregisterDetachesAndClosesSend(t *testing.T) {
	r := New()
	c := r.Register(8)
	sess := id.New()
	r.Attach(c.ID, sess)

	r.Unregister(c.ID)

	if _, ok := r.Get(c.ID); ok {
		t.Fatal("expected client to be gone after Unregister")
	}
	if r.AttachedCount(sess) != 0 {
		t.Fatal("expected session to have no attached clients after Unregister")
	}
	if _, ok := <-c.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestBroadcastDeliversToAttachedClientsOnly(t *testing.T) {
	r := New()
	c1 := r.Register(8)
	c2 := r.Register(8)
	c3 := r.Register(8)
	sess := id.New()
	other := id.New()

	r.Attach(c1.ID, sess)
	r.Attach(c2.ID, sess)
	r.Attach(c3.ID, other)

	env := wire.Envelope{Kind: wire.KindOK}
	r.Broadcast(sess, env)

	select {
	case <-c1.Send:
	default:
		t.Error("expected c1 to receive broadcast")
	}
	select {
	case <-c2.Send:
	default:
		t.Error("expected c2 to receive broadcast")
	}
	select {
	case <-c3.Send:
		t.Error("c3 should not receive broadcast for a different session")
	default:
	}
}

func TestBroadcastExceptSkipsOriginator(t *testing.T) {
	r := New()
	c1 := r.Register(8)
	c2 := r.Register(8)
	sess := id.New()
	r.Attach(c1.ID, sess)
	r.Attach(c2.ID, sess)

	r.BroadcastExcept(sess, c1.ID, wire.Envelope{Kind: wire.KindOK})

	select {
	case <-c1.Send:
		t.Error("c1 should have been excluded")
	default:
	}
	select {
	case <-c2.Send:
	default:
		t.Error("expected c2 to receive broadcast")
	}
}

func TestDetachAllDetachesEveryClient(t *testing.T) {
	r := New()
	c1 := r.Register(8)
	c2 := r.Register(8)
	sess := id.New()
	r.Attach(c1.ID, sess)
	r.Attach(c2.ID, sess)

	detached := r.DetachAll(sess)

	if len(detached) != 2 {
		t.Fatalf("DetachAll returned %d ids, want 2", len(detached))
	}
	if r.AttachedCount(sess) != 0 {
		t.Fatalf("AttachedCount after DetachAll = %d, want 0", r.AttachedCount(sess))
	}
	if got := c1.AttachedSession(); !got.IsNil() {
		t.Errorf("c1.AttachedSession after DetachAll = %s, want nil", got)
	}
}

func TestDetachAllUnknownSessionIsNoop(t *testing.T) {
	r := New()
	if detached := r.DetachAll(id.New()); detached != nil {
		t.Fatalf("DetachAll on unknown session = %v, want nil", detached)
	}
}

func TestResolveActivePrefersGreatestAttachedCount(t *testing.T) {
	a := id.New()
	b := id.New()
	now := time.Now()

	got, ok := ResolveActive([]SessionActivity{
		{ID: a, AttachedClients: 1, LastActivity: now},
		{ID: b, AttachedClients: 3, LastActivity: now.Add(-time.Hour)},
	})
	if !ok || got != b {
		t.Fatalf("ResolveActive = (%s, %v), want (%s, true)", got, ok, b)
	}
}

func TestResolveActiveBreaksTiesByLastActivity(t *testing.T) {
	a := id.New()
	b := id.New()
	now := time.Now()

	got, ok := ResolveActive([]SessionActivity{
		{ID: a, AttachedClients: 2, LastActivity: now.Add(-time.Minute)},
		{ID: b, AttachedClients: 2, LastActivity: now},
	})
	if !ok || got != b {
		t.Fatalf("ResolveActive = (%s, %v), want (%s, true)", got, ok, b)
	}
}

func TestResolveActiveEmpty(t *testing.T) {
	if _, ok := ResolveActive(nil); ok {
		t.Fatal("expected ResolveActive(nil) to report no active session")
	}
}
