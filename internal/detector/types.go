package detector

import "time"

// State is the closed set of agent activity classes from spec §4.4.
type State string

const (
	Idle                 State = "idle"
	Thinking             State = "thinking"
	Coding               State = "coding"
	ToolUse              State = "tool_use"
	AwaitingConfirmation State = "awaiting_confirmation"
	Custom               State = "custom"
)

// Transition is reported only when the classified state changes, and
// carries whatever fields were opportunistically extracted from the
// triggering output window.
type Transition struct {
	PaneID      string
	State       State
	CustomTag   string
	SessionID   string
	Model       string
	TokenCount  int
	Description string
	Timestamp   time.Time
}
