// Package mcpbridge implements the Model Context Protocol bridge (spec
// §4.9): a JSON-RPC tool surface for external agent frameworks, backed by
// an internal connection to the daemon's own wire protocol. It generalizes
// the teacher's internal/hub.Client readPump/writePump split
// (internal/hub/client.go) from a websocket-facing fan-out to a
// request/response-correlated internal client, and its reconnect/backoff
// shape from internal/session/manager.go's monitor loop.
package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/wire"
)

// DaemonClient is the bridge's own connection to the daemon, dialed the
// same way any other client dials the Unix socket (spec §4.9: "connects to
// the daemon as an internal client"). Responses are demultiplexed by
// request id, never by Kind, so concurrent tool calls never cross wires
// (spec §4.9 "Request correlation").
type DaemonClient struct {
	addr    string
	network string

	mu     sync.Mutex
	conn   net.Conn
	codec  *wire.Codec
	closed bool

	nextReqID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan wire.Envelope

	events chan wire.Envelope

	logger func(format string, args ...any)
}

// NewDaemonClient builds a client that dials network/addr on Dial. network
// is "unix" for the default socket transport or "tcp" for an
// authenticated-loopback transport.
func NewDaemonClient(network, addr string) *DaemonClient {
	return &DaemonClient{
		network: network,
		addr:    addr,
		pending: make(map[uint64]chan wire.Envelope),
		events:  make(chan wire.Envelope, 256),
		logger:  func(string, ...any) {},
	}
}

// Events returns the channel broadcast-class frames (RequestID == 0) are
// delivered to, used by subscribe/drain-style tools (spec §4.9).
func (c *DaemonClient) Events() <-chan wire.Envelope {
	return c.events
}

// Dial connects to the daemon and starts the reader loop. Calling Dial
// again after a successful Dial redials, replacing the prior connection.
func (c *DaemonClient) Dial(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.addr)
	if err != nil {
		return daemonerr.Wrap(daemonerr.DaemonUnavail, c.addr, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.codec = wire.NewCodec(conn, conn, 0)
	c.closed = false
	codec := c.codec
	c.mu.Unlock()

	go c.readLoop(codec)
	return nil
}

// Close releases the underlying connection. Pending requests are failed.
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return err
}

func (c *DaemonClient) readLoop(codec *wire.Codec) {
	for {
		env, err := codec.Decode()
		if err != nil {
			c.failAllPending()
			return
		}
		if env.RequestID == 0 {
			select {
			case c.events <- env:
			default:
				c.logger("mcpbridge: event channel full, dropping broadcast kind=%d", env.Kind)
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- env
			close(ch)
		}
	}
}

func (c *DaemonClient) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Request sends a request-class frame and blocks until the matching
// response arrives, ctx is done, or the connection drops. An expired ctx
// deadline is reported as a Timeout error; a ctx without a deadline is
// bounded by a 30s fallback that also reports Timeout.
func (c *DaemonClient) Request(ctx context.Context, kind wire.Kind, body any) (wire.Envelope, error) {
	c.mu.Lock()
	codec := c.codec
	closed := c.closed
	c.mu.Unlock()
	if codec == nil || closed {
		return wire.Envelope{}, daemonerr.New(daemonerr.DaemonUnavail, "not connected")
	}

	reqID := c.nextReqID.Add(1)
	env, err := wire.EncodeBody(kind, reqID, body)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("mcpbridge: encode request: %w", err)
	}

	replyCh := make(chan wire.Envelope, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = replyCh
	c.pendingMu.Unlock()

	c.mu.Lock()
	sendErr := codec.Encode(env)
	c.mu.Unlock()
	if sendErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return wire.Envelope{}, daemonerr.Wrap(daemonerr.DaemonUnavail, c.addr, sendErr)
	}

	var fallback <-chan time.Time
	if _, ok := ctx.Deadline(); !ok {
		fallback = time.After(30 * time.Second)
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return wire.Envelope{}, daemonerr.New(daemonerr.DaemonUnavail, "connection closed while waiting for reply")
		}
		return reply, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wire.Envelope{}, daemonerr.Wrap(daemonerr.Timeout, fmt.Sprintf("kind=%d", kind), ctx.Err())
		}
		return wire.Envelope{}, ctx.Err()
	case <-fallback:
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return wire.Envelope{}, daemonerr.New(daemonerr.Timeout, fmt.Sprintf("kind=%d", kind))
	}
}
