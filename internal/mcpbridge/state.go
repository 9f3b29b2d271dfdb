package mcpbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/wire"
)

// ConnectionState is the bridge's view of its link to the daemon (spec
// §4.9). Supervisor.Run moves Disconnected -> Connecting -> Connected; a
// failed heartbeat moves Connected -> Degraded, and a later successful one
// moves it back to Connected. Repeated heartbeat failures, or a failed
// dial, lead to Reconnecting -> Connecting, and an exhausted reconnect
// budget ends in Disconnected.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateReconnecting ConnectionState = "reconnecting"
)

const (
	heartbeatInterval    = 5 * time.Second
	missedHeartbeatLimit = 3
	backoffBase          = 100 * time.Millisecond
	backoffMax           = 1600 * time.Millisecond
	defaultMaxAttempts   = 5
)

// backoff produces the capped exponential sequence 100ms, 200ms, 400ms,
// 800ms, 1600ms, ... capped at backoffMax (spec §4.9), grounded on
// ehrlich-b-wingthing/internal/ws/backoff.go's doubling-with-cap shape.
type backoff struct {
	base, max time.Duration
	attempt   int
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	d := b.base << b.attempt
	if d > b.max || d <= 0 {
		d = b.max
	}
	b.attempt++
	return d
}

func (b *backoff) reset() { b.attempt = 0 }

// Supervisor owns a DaemonClient's connection lifecycle: initial dial,
// periodic heartbeats, degrade-on-missed-heartbeat, and a capped
// exponential-backoff reconnect loop. Grounded on
// ehrlich-b-wingthing/internal/ws/client.go's connectAndServe/Run split,
// generalized from a websocket relay link to the bridge's own wire-protocol
// link to the daemon.
type Supervisor struct {
	client      *DaemonClient
	maxAttempts int

	mu           sync.RWMutex
	state        ConnectionState
	attempt      int
	lastErr      error
	lastSeen     time.Time
	onStateChange func(ConnectionState)
}

// NewSupervisor builds a Supervisor around client. maxAttempts <= 0 uses
// the spec default of 5.
func NewSupervisor(client *DaemonClient, maxAttempts int) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Supervisor{
		client:      client,
		maxAttempts: maxAttempts,
		state:       StateDisconnected,
	}
}

// OnStateChange registers a callback invoked on every transition. It is not
// invoked for the initial Disconnected state.
func (s *Supervisor) OnStateChange(fn func(ConnectionState)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// State returns the current connection state and, when in Degraded or
// Reconnecting, the reconnect attempt number and last known error, matching
// the shape of the bridge's connection_status tool (spec §4.9).
func (s *Supervisor) State() (state ConnectionState, attempt int, lastErr error, lastSeen time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.attempt, s.lastErr, s.lastSeen
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	cb := s.onStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

func (s *Supervisor) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) touchLastSeen() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Run dials the daemon and keeps the connection alive until ctx is
// cancelled, reconnecting with backoff on failure. It returns only when ctx
// is done or the reconnect budget (maxAttempts consecutive failures) is
// exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := newBackoff(backoffBase, backoffMax)

	for {
		s.setState(StateConnecting)
		if err := s.client.Dial(ctx); err != nil {
			s.setErr(err)
			s.mu.Lock()
			s.attempt++
			attempt := s.attempt
			s.mu.Unlock()
			if attempt >= s.maxAttempts {
				s.setState(StateDisconnected)
				return daemonerr.Wrap(daemonerr.DaemonUnavail, fmt.Sprintf("attempt %d/%d", attempt, s.maxAttempts), err)
			}
			s.setState(StateReconnecting)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bo.next()):
			}
			continue
		}

		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
		bo.reset()
		s.touchLastSeen()
		s.setState(StateConnected)

		err := s.heartbeatLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setErr(err)
		s.client.Close()

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()
		if attempt >= s.maxAttempts {
			s.setState(StateDisconnected)
			return daemonerr.Wrap(daemonerr.DaemonUnavail, fmt.Sprintf("attempt %d/%d", attempt, s.maxAttempts), err)
		}
		s.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.next()):
		}
	}
}

// heartbeatLoop sends a heartbeat every heartbeatInterval and returns once
// missedHeartbeatLimit consecutive heartbeats fail, transitioning through
// Degraded first so callers see the distinction between "slow" and "down".
func (s *Supervisor) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, heartbeatInterval)
			_, err := s.client.Request(hbCtx, wire.KindPing, wire.OKResp{})
			cancel()
			if err != nil {
				missed++
				if missed == 1 {
					s.setState(StateDegraded)
				}
				if missed >= missedHeartbeatLimit {
					return fmt.Errorf("mcpbridge: %d consecutive heartbeats failed: %w", missed, err)
				}
				continue
			}
			if missed > 0 {
				s.setState(StateConnected)
			}
			missed = 0
			s.touchLastSeen()
		}
	}
}
