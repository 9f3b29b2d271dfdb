// Package pty spawns and drives child processes on pseudo-terminals
// (spec §4.2), generalizing the teacher's internal/pty (session.go +
// manager.go + backend.go) from a flat string-keyed session map into the
// full contract: sandboxed spawn, resize, write-with-submit-as-separate-
// write, bracketed paste, and an event stream per pane.
package pty

import "time"

// EventType distinguishes the kind of event produced by a pane's PTY.
type EventType int

const (
	// EventOutput indicates new bytes were read from the PTY.
	EventOutput EventType = iota
	// EventExit indicates the child process exited.
	EventExit
)

// Event is a single notification emitted by a pane's PTY reader.
type Event struct {
	Type EventType
	Data []byte
	Err  error // set on EventExit if the wait returned an error
}

// SandboxConfig mirrors spec §4.2's sandbox wrapper options: the spawned
// command becomes a sandboxer invoking the original command.
type SandboxConfig struct {
	Enabled      bool
	ReadOnlyPaths []string
	ReadWritePaths []string
	CwdWritable   bool
	// Wrapper is the sandboxer binary (e.g. "sandbox-exec", "bwrap",
	// "landlock-wrapper"); left to configuration since the actual sandbox
	// binary is host-specific and outside this package's concern.
	Wrapper string
}

// SpawnConfig configures Manager.Spawn.
type SpawnConfig struct {
	Command []string // argv; defaults to the user's shell if empty
	Cols    uint16
	Rows    uint16
	Cwd     string
	Env     []string
	Sandbox *SandboxConfig
}

// Info is a read-only snapshot of a pane's PTY metadata.
type Info struct {
	Cols      uint16
	Rows      uint16
	Live      bool
	CreatedAt time.Time
}
