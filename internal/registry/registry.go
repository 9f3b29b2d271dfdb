// Package registry tracks attached clients and resolves the "active"
// session when a client omits one (spec §4.6). It generalizes the
// teacher's internal/hub.Hub client bookkeeping (map[string]*Client behind
// a sync.RWMutex, per-client buffered send channel, broadcast-by-session)
// from a websocket-hub-with-background-goroutine shape into a plain
// concurrent-map registry: lookups and registration are lock-free per
// entry via sync.Map, and the reverse session→clients index uses
// per-session concurrent sets, per spec §6.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/wire"
)

// Client is one attached connection.
type Client struct {
	ID   id.ID
	Send chan wire.Envelope

	mu              sync.Mutex
	attachedSession id.ID
	lastActivity    time.Time
}

// AttachedSession returns the session this client is currently attached
// to, or id.Nil if none.
func (c *Client) AttachedSession() id.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedSession
}

// Touch updates the client's last-activity timestamp.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the client's last recorded activity time.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Registry is the process-wide client table and reverse session index.
type Registry struct {
	clients sync.Map // id.ID -> *Client

	mu        sync.RWMutex
	bySession map[id.ID]*sessionSet

	nextClientSeq atomic.Uint64

	mirrorMu sync.RWMutex
	mirror   func(sessionID id.ID, env wire.Envelope)
}

// SetMirror installs fn as an observer of every broadcast this registry
// fans out, regardless of whether any ordinary client is attached to the
// session (internal/webmirror uses this to feed its read-only websocket
// event stream without itself occupying a registry.Client slot).
func (r *Registry) SetMirror(fn func(sessionID id.ID, env wire.Envelope)) {
	r.mirrorMu.Lock()
	r.mirror = fn
	r.mirrorMu.Unlock()
}

type sessionSet struct {
	mu  sync.RWMutex
	ids map[id.ID]struct{}
}

func newSessionSet() *sessionSet {
	return &sessionSet{ids: make(map[id.ID]struct{})}
}

func (s *sessionSet) add(clientID id.ID) {
	s.mu.Lock()
	s.ids[clientID] = struct{}{}
	s.mu.Unlock()
}

func (s *sessionSet) remove(clientID id.ID) int {
	s.mu.Lock()
	delete(s.ids, clientID)
	n := len(s.ids)
	s.mu.Unlock()
	return n
}

func (s *sessionSet) snapshot() []id.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]id.ID, 0, len(s.ids))
	for clientID := range s.ids {
		out = append(out, clientID)
	}
	return out
}

func (s *sessionSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{bySession: make(map[id.ID]*sessionSet)}
}

// Register creates and tracks a new Client with a bounded outgoing queue
// (the writer task drains it; a full queue means the client is too slow
// and Send will drop rather than block broadcast).
func (r *Registry) Register(sendDepth int) *Client {
	if sendDepth <= 0 {
		sendDepth = 32
	}
	c := &Client{
		ID:           id.New(),
		Send:         make(chan wire.Envelope, sendDepth),
		lastActivity: time.Now(),
	}
	r.clients.Store(c.ID, c)
	return c
}

// Unregister removes a client and detaches it from any session, closing
// its send channel so the writer task can exit.
func (r *Registry) Unregister(clientID id.ID) {
	v, ok := r.clients.LoadAndDelete(clientID)
	if !ok {
		return
	}
	c := v.(*Client)
	r.Detach(clientID, c.AttachedSession())
	close(c.Send)
}

// Get returns the tracked client, or false if not found.
func (r *Registry) Get(clientID id.ID) (*Client, bool) {
	v, ok := r.clients.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

// Attach marks clientID as attached to sessionID, detaching it from any
// previous session first (a client is attached to at most one session).
func (r *Registry) Attach(clientID, sessionID id.ID) {
	v, ok := r.clients.Load(clientID)
	if !ok {
		return
	}
	c := v.(*Client)

	prev := c.AttachedSession()
	if !prev.IsNil() && prev != sessionID {
		r.Detach(clientID, prev)
	}

	c.mu.Lock()
	c.attachedSession = sessionID
	c.mu.Unlock()

	r.mu.Lock()
	set, ok := r.bySession[sessionID]
	if !ok {
		set = newSessionSet()
		r.bySession[sessionID] = set
	}
	r.mu.Unlock()
	set.add(clientID)
}

// Detach removes clientID from sessionID's attached set. It is a no-op if
// the client was not attached to that session.
func (r *Registry) Detach(clientID, sessionID id.ID) {
	if sessionID.IsNil() {
		return
	}
	r.mu.RLock()
	set, ok := r.bySession[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if remaining := set.remove(clientID); remaining == 0 {
		r.mu.Lock()
		if s, ok := r.bySession[sessionID]; ok && s.count() == 0 {
			delete(r.bySession, sessionID)
		}
		r.mu.Unlock()
	}

	if v, ok := r.clients.Load(clientID); ok {
		c := v.(*Client)
		c.mu.Lock()
		if c.attachedSession == sessionID {
			c.attachedSession = id.Nil
		}
		c.mu.Unlock()
	}
}

// AttachedCount returns how many clients are currently attached to
// sessionID. This is the authoritative source for a session's
// attached-client count (spec §3 invariant).
func (r *Registry) AttachedCount(sessionID id.ID) int {
	r.mu.RLock()
	set, ok := r.bySession[sessionID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return set.count()
}

// Broadcast sends env to every client attached to sessionID. A send
// failure (full queue) is tolerated per recipient: registry removal on
// true disconnect is the writer task's responsibility, not this call's.
func (r *Registry) Broadcast(sessionID id.ID, env wire.Envelope) {
	r.BroadcastExcept(sessionID, id.Nil, env)
}

// BroadcastExcept sends env to every client attached to sessionID other
// than exclude.
func (r *Registry) BroadcastExcept(sessionID, exclude id.ID, env wire.Envelope) {
	r.mirrorMu.RLock()
	mirror := r.mirror
	r.mirrorMu.RUnlock()
	if mirror != nil {
		mirror(sessionID, env)
	}

	r.mu.RLock()
	set, ok := r.bySession[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	for _, clientID := range set.snapshot() {
		if clientID == exclude {
			continue
		}
		v, ok := r.clients.Load(clientID)
		if !ok {
			continue
		}
		c := v.(*Client)
		select {
		case c.Send <- env:
		default:
		}
	}
}

// DetachAll detaches every client currently attached to sessionID, used
// when a session is destroyed. It returns the detached client ids.
func (r *Registry) DetachAll(sessionID id.ID) []id.ID {
	r.mu.RLock()
	set, ok := r.bySession[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	ids := set.snapshot()
	for _, clientID := range ids {
		r.Detach(clientID, sessionID)
	}
	return ids
}

// SessionActivity is the subset of session data the active-session
// heuristic needs; hierarchy supplies these, since attached-client counts
// and last-activity are session-hierarchy concerns, not registry state.
type SessionActivity struct {
	ID              id.ID
	AttachedClients int
	LastActivity    time.Time
}

// ResolveActive picks the active session per spec §4.6: the greatest
// attached-client count, ties broken by most recent last-activity. It
// returns false if candidates is empty.
func ResolveActive(candidates []SessionActivity) (id.ID, bool) {
	if len(candidates) == 0 {
		return id.Nil, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.AttachedClients > best.AttachedClients {
			best = c
			continue
		}
		if c.AttachedClients == best.AttachedClients && c.LastActivity.After(best.LastActivity) {
			best = c
		}
	}
	return best.ID, true
}
