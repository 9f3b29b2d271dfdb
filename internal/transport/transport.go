// Package transport implements the daemon's listener and per-connection
// plumbing (spec §4.7): a Unix domain socket at 0600 plus an optional TCP
// listener guarded by a token-hash handshake for non-loopback binds. It
// generalizes the teacher's internal/server.Server accept-loop shape
// (goroutine + error channel + ctx.Done shutdown in server.go's Start) from
// a single http.Server to N raw listeners, and reuses the teacher's
// internal/hub.Client readPump/writePump split (hub/client.go) adapted from
// websocket frames to internal/wire's length-framed binary frames.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/wire"
)

// DefaultSendDepth is the bounded writer-channel depth per connection (spec
// §4.7, §5 "Backpressure").
const DefaultSendDepth = 32

// Handler processes one decoded request frame and returns the response
// frame to send back with the same RequestID. It never blocks on a PTY
// write directly (spec §4.8) — concrete handlers route those through
// internal/pty's per-pane channel.
type Handler interface {
	Handle(ctx context.Context, client *registry.Client, env wire.Envelope) wire.Envelope
}

// HandlerFunc adapts a plain function to Handler, mirroring the
// net/http.HandlerFunc idiom the teacher already relies on in
// internal/server/server.go's http.HandlerFunc-wrapped routes.
type HandlerFunc func(ctx context.Context, client *registry.Client, env wire.Envelope) wire.Envelope

func (f HandlerFunc) Handle(ctx context.Context, client *registry.Client, env wire.Envelope) wire.Envelope {
	return f(ctx, client, env)
}

// Options configures a Listener.
type Options struct {
	// SocketPath is the Unix domain socket path. Required.
	SocketPath string
	// TCPAddr optionally starts a second listener on this address (spec
	// §4.7, §6). Empty disables TCP.
	TCPAddr string
	// TCPAuthToken is the shared secret TCP clients must hash and present.
	// Required when TCPAddr does not resolve to a loopback address.
	TCPAuthToken string
	MaxPayload   uint32
	SendDepth    int
	Logger       *slog.Logger
}

// Listener owns the daemon's Unix and (optional) TCP sockets and the client
// registry they populate.
type Listener struct {
	opts     Options
	registry *registry.Registry
	handler  Handler
	logger   *slog.Logger

	unixLn net.Listener
	tcpLn  net.Listener

	wg sync.WaitGroup
}

// New binds the Unix domain socket immediately (so startup failures surface
// before Serve is called) and, if configured, the TCP listener. The Unix
// socket path's parent directory is created if missing and an existing
// stale socket file is removed before binding.
func New(opts Options, reg *registry.Registry, handler Handler) (*Listener, error) {
	if opts.SendDepth <= 0 {
		opts.SendDepth = DefaultSendDepth
	}
	if opts.MaxPayload == 0 {
		opts.MaxPayload = wire.DefaultMaxPayload
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	l := &Listener{opts: opts, registry: reg, handler: handler, logger: opts.Logger}

	unixLn, err := bindUnixSocket(opts.SocketPath)
	if err != nil {
		return nil, daemonerr.Wrap(daemonerr.IOError, opts.SocketPath, err)
	}
	l.unixLn = unixLn

	if opts.TCPAddr != "" {
		if !isLoopbackAddr(opts.TCPAddr) && opts.TCPAuthToken == "" {
			unixLn.Close()
			return nil, daemonerr.New(daemonerr.InvalidParams, "tcp.bind to a non-loopback address requires tcp.auth_token")
		}
		tcpLn, err := net.Listen("tcp", opts.TCPAddr)
		if err != nil {
			unixLn.Close()
			return nil, daemonerr.Wrap(daemonerr.IOError, opts.TCPAddr, err)
		}
		l.tcpLn = tcpLn
	}

	return l, nil
}

func bindUnixSocket(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve runs the accept loops until ctx is cancelled. Each accepted
// connection is handed to a background goroutine; a failure on one
// connection never stops the accept loop (spec §4.7: "Connection tear-down
// never blocks the accept loop").
func (l *Listener) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		errCh <- l.acceptLoop(ctx, l.unixLn, false)
	}()

	if l.tcpLn != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			errCh <- l.acceptLoop(ctx, l.tcpLn, true)
		}()
	}

	select {
	case err := <-errCh:
		l.Close()
		l.wg.Wait()
		return err
	case <-ctx.Done():
		l.Close()
		l.wg.Wait()
		return nil
	}
}

// Close stops accepting new connections on both listeners.
func (l *Listener) Close() {
	if l.unixLn != nil {
		l.unixLn.Close()
	}
	if l.tcpLn != nil {
		l.tcpLn.Close()
	}
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener, requireAuth bool) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}
		go l.handleConn(ctx, conn, requireAuth)
	}
}

// handleConn implements spec §4.7 steps 1-4: allocate a client id, wrap the
// socket in the codec, optionally authenticate, then spawn the reader and
// writer tasks.
func (l *Listener) handleConn(ctx context.Context, conn net.Conn, requireAuth bool) {
	defer conn.Close()

	codec := wire.NewCodec(conn, conn, l.opts.MaxPayload)

	if requireAuth && l.opts.TCPAuthToken != "" {
		if !authenticate(codec, l.opts.TCPAuthToken) {
			l.logger.Warn("tcp client failed authentication", "remote", conn.RemoteAddr())
			return
		}
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(30 * time.Second)
	}

	client := l.registry.Register(l.opts.SendDepth)
	defer l.registry.Unregister(client.ID)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.writeLoop(connCtx, codec, client)
	}()

	l.readLoop(connCtx, codec, client)
	cancel()
	wg.Wait()
}

// authenticate implements the §6 TCP handshake: the first frame must be
// KindAuth with a matching sha256(token); the server replies KindAuthOK or
// KindAuthFail. A constant-time comparison avoids leaking the token length
// through timing.
func authenticate(codec *wire.Codec, token string) bool {
	env, err := codec.Decode()
	if err != nil || env.Kind != wire.KindAuth {
		_ = codec.Encode(wire.Envelope{Kind: wire.KindAuthFail})
		return false
	}
	var req wire.AuthReq
	if err := wire.DecodeBody(env, &req); err != nil {
		_ = codec.Encode(wire.Envelope{Kind: wire.KindAuthFail})
		return false
	}

	want := sha256.Sum256([]byte(token))
	ok := len(req.TokenHash) == len(want) && subtle.ConstantTimeCompare(req.TokenHash, want[:]) == 1
	if !ok {
		_ = codec.Encode(wire.Envelope{Kind: wire.KindAuthFail})
		return false
	}
	return codec.Encode(wire.Envelope{Kind: wire.KindAuthOK}) == nil
}

// readLoop decodes frames and dispatches them to the handler, writing
// replies onto the client's bounded send channel. It returns when the
// connection is closed or a frame fails to decode.
func (l *Listener) readLoop(ctx context.Context, codec *wire.Codec, client *registry.Client) {
	for {
		env, err := codec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.logger.Debug("connection read ended", "client", client.ID, "error", err)
			}
			return
		}
		client.Touch()

		resp := l.handler.Handle(ctx, client, env)
		select {
		case client.Send <- resp:
		default:
			l.logger.Warn("client send buffer full, dropping response", "client", client.ID)
		}
	}
}

// writeLoop drains the client's send channel onto the wire. It exits when
// the channel is closed (on Unregister) or ctx is cancelled.
func (l *Listener) writeLoop(ctx context.Context, codec *wire.Codec, client *registry.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-client.Send:
			if !ok {
				return
			}
			if err := codec.Encode(env); err != nil {
				l.logger.Debug("connection write failed", "client", client.ID, "error", err)
				return
			}
		}
	}
}
