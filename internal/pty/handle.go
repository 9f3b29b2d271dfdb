package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
)

// Bracketed-paste escape brackets (spec §4.2).
const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// handle wraps one child process running inside a PTY. It generalizes the
// teacher's pty.Session (internal/pty/session.go): the read pump and
// wait-for-exit goroutines are unchanged in shape, but Write grows
// submit-as-a-separate-write and paste-wrapping semantics, and Close grows
// a graceful-then-forceful two-stage terminate.
type handle struct {
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	events chan Event
	exited chan struct{}

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	closed bool

	closeOnce   sync.Once
	gracePeriod time.Duration
}

const defaultGracePeriod = 5 * time.Second

func newHandle(cfg SpawnConfig) (*handle, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("pty: command must not be empty")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Cwd
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	h := &handle{
		createdAt:   time.Now(),
		cmd:         cmd,
		ptmx:        ptmx,
		events:      make(chan Event, 1024),
		exited:      make(chan struct{}),
		cols:        cols,
		rows:        rows,
		gracePeriod: defaultGracePeriod,
	}

	go h.readPump()
	go h.waitExit()

	return h, nil
}

func (h *handle) readPump() {
	buf := make([]byte, 4096)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.events <- Event{Type: EventOutput, Data: chunk}
		}
		if err != nil {
			return
		}
	}
}

func (h *handle) waitExit() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	close(h.exited)

	h.events <- Event{Type: EventExit, Err: err}
	close(h.events)
}

// Events returns the read-only channel of output/exit events.
func (h *handle) Events() <-chan Event { return h.events }

// Write delivers byte-identical input to the child. When submit is true, a
// carriage return is written as a second, distinct Write call — a fused
// write is observed to fail to trigger an "enter" event in some TUI
// children (spec §4.2, scenario 7).
func (h *handle) Write(data []byte, submit bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("pty: handle is closed")
	}
	if len(data) > 0 {
		if _, err := h.ptmx.Write(data); err != nil {
			return err
		}
	}
	if submit {
		if _, err := h.ptmx.Write([]byte("\r")); err != nil {
			return err
		}
	}
	return nil
}

// Paste wraps bytes in the bracketed-paste escape brackets: one write for
// the opener, the payload byte-identical, then one write for the closer
// (spec §4.2, scenario 6).
func (h *handle) Paste(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("pty: handle is closed")
	}
	if _, err := h.ptmx.Write([]byte(pasteStart)); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := h.ptmx.Write(data); err != nil {
			return err
		}
	}
	if _, err := h.ptmx.Write([]byte(pasteEnd)); err != nil {
		return err
	}
	return nil
}

// Resize adjusts the PTY window size and signals the child.
func (h *handle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("pty: handle is closed")
	}
	if err := creackpty.Setsize(h.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return err
	}
	h.cols, h.rows = cols, rows
	return nil
}

func (h *handle) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{Cols: h.cols, Rows: h.rows, Live: !h.closed, CreatedAt: h.createdAt}
}

// Close terminates the child: SIGTERM first, then SIGKILL if it has not
// exited within the grace period (default 5s, spec §4.2 Cleanup).
func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		if h.cmd.Process != nil {
			_ = h.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-h.exited:
			case <-time.After(h.gracePeriod):
				_ = h.cmd.Process.Kill()
				<-h.exited
			}
		}

		err = h.ptmx.Close()
	})
	return err
}
