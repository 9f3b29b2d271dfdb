// Package detector classifies agent activity from a pane's recent output
// (spec §4.4). It generalizes the teacher's internal/parser classifier
// (parser.go + patterns.go: a per-window text buffer, a 1500ms debounce
// flush timer, and a regex-pattern classify step feeding a prompt/error/
// code/normal MessageClass) into the closed Idle/Thinking/Coding/ToolUse/
// AwaitingConfirmation/Custom state machine of spec §4.4, keeping the
// teacher's "pattern-match the ANSI-stripped tail, debounce with a timer"
// approach but reporting only on state transitions rather than every flush.
package detector

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the default transition-suppression window (spec §4.4).
const DefaultDebounce = 100 * time.Millisecond

// tailWindow is how many trailing bytes of raw output are considered for
// classification on each Feed call — enough to see a spinner line plus a
// little context without re-scanning the whole scrollback. The window only
// spans output received since the last Feed that produced a signal.
const tailWindow = 4096

type paneState struct {
	mu sync.Mutex

	tail         strings.Builder
	current      State
	customTag    string
	debounceUntil time.Time
}

// Detector classifies per-pane activity and reports state transitions,
// debounced to suppress spinner-animation flicker.
type Detector struct {
	debounce time.Duration

	mu    sync.Mutex
	panes map[string]*paneState

	out chan Transition
}

// New creates a Detector with the default debounce window.
func New() *Detector {
	return NewWithDebounce(DefaultDebounce)
}

// NewWithDebounce creates a Detector with an explicit debounce window.
func NewWithDebounce(debounce time.Duration) *Detector {
	return &Detector{
		debounce: debounce,
		panes:    make(map[string]*paneState),
		out:      make(chan Transition, 256),
	}
}

// Transitions returns the channel of reported state transitions.
func (d *Detector) Transitions() <-chan Transition { return d.out }

// Feed supplies newly read PTY output for paneID. It updates the
// classification and, on a debounce-surviving state transition, emits a
// Transition.
func (d *Detector) Feed(paneID string, data []byte) {
	ps := d.paneFor(paneID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.tail.Write(data)
	text := ps.tail.String()
	if len(text) > tailWindow {
		text = text[len(text)-tailWindow:]
		ps.tail.Reset()
		ps.tail.WriteString(text)
	}

	clean := StripANSI(text)
	state, customTag, matched := classify(clean)
	if !matched {
		// No recognizable signal in the window: leave the pane in its last
		// classified state rather than forcing a spurious Idle transition.
		return
	}
	// The window has produced a signal: start the next window after it, so a
	// line that has already been classified cannot outrank newer output.
	ps.tail.Reset()

	now := time.Now()
	if state == ps.current {
		return
	}
	if now.Before(ps.debounceUntil) {
		// Suppressed: a transition already fired within this debounce
		// window, but the underlying state has in fact changed — track it
		// silently so the next Feed after the window reports correctly
		// rather than staying stuck comparing against a stale value.
		ps.current = state
		ps.customTag = customTag
		return
	}

	ps.current = state
	ps.customTag = customTag
	ps.debounceUntil = now.Add(d.debounce)

	t := Transition{
		PaneID:    paneID,
		State:     state,
		CustomTag: customTag,
		Timestamp: now,
	}
	extractFields(clean, &t)

	select {
	case d.out <- t:
	default:
	}
}

// State returns the pane's current classified state.
func (d *Detector) State(paneID string) State {
	d.mu.Lock()
	ps, ok := d.panes[paneID]
	d.mu.Unlock()
	if !ok {
		return Idle
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.current
}

// Forget drops tracked state for a destroyed pane.
func (d *Detector) Forget(paneID string) {
	d.mu.Lock()
	delete(d.panes, paneID)
	d.mu.Unlock()
}

func (d *Detector) paneFor(paneID string) *paneState {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, ok := d.panes[paneID]
	if !ok {
		ps = &paneState{current: Idle}
		d.panes[paneID] = ps
	}
	return ps
}

// classify applies the spec §4.4 recognition rules, in priority order:
// AwaitingConfirmation and ToolUse are unambiguous regardless of spinner
// presence, so they are checked before the spinner-gated Thinking/Coding
// classes, and Idle (a quiescent prompt line) is checked last since any
// other signal supersedes it.
func classify(text string) (state State, customTag string, matched bool) {
	if confirmationPattern.MatchString(text) {
		return AwaitingConfirmation, "", true
	}
	if toolUsePattern.MatchString(text) {
		return ToolUse, "", true
	}
	if hasSpinner(text) {
		if codingVerbPattern.MatchString(text) {
			return Coding, "", true
		}
		if thinkingVerbPattern.MatchString(text) {
			return Thinking, "", true
		}
	}
	if idlePromptPattern.MatchString(lastNonEmptyLine(text)) {
		return Idle, "", true
	}
	return Idle, "", false
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// extractFields opportunistically populates session id, model name, token
// count, and a short activity description from the classified text.
func extractFields(text string, t *Transition) {
	if m := sessionIDPattern.FindStringSubmatch(text); len(m) == 2 {
		t.SessionID = m[1]
	}
	if m := modelNamePattern.FindStringSubmatch(text); len(m) == 2 {
		t.Model = m[1]
	}
	if m := tokenCountPattern.FindStringSubmatch(text); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			t.TokenCount = n
		}
	}
	if m := spinnerDescPattern.FindStringSubmatch(text); len(m) == 2 {
		t.Description = strings.TrimSpace(m[1])
	}
}
