package detector

import (
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no ANSI codes", input: "plain text", expected: "plain text"},
		{name: "color codes SGR", input: "\x1b[31mred text\x1b[0m", expected: "red text"},
		{name: "cursor movement", input: "\x1b[2J\x1b[Hclear screen", expected: "clear screen"},
		{name: "OSC sequence with bell", input: "\x1b]0;window title\x07text", expected: "text"},
		{name: "carriage return removal", input: "line1\r\nline2\r", expected: "line1\nline2"},
		{name: "backspace cleanup", input: "e\becho", expected: "echo"},
		{name: "remove other control bytes", input: "a\x00b\x1fc", expected: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.input); got != tt.expected {
				t.Errorf("StripANSI() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    State
		matched bool
	}{
		{name: "confirmation Y/n", input: "Proceed? [Y/n]", want: AwaitingConfirmation, matched: true},
		{name: "allow question", input: "Allow?", want: AwaitingConfirmation, matched: true},
		{name: "tool use Bash", input: "Bash(ls -la)", want: ToolUse, matched: true},
		{name: "tool use Running", input: "Running: go build ./...", want: ToolUse, matched: true},
		{name: "coding with spinner", input: "⠋ Writing auth.go", want: Coding, matched: true},
		{name: "thinking with spinner", input: "⠙ Thinking about the plan", want: Thinking, matched: true},
		{name: "spinner alone does not classify", input: "⠋ just spinning", want: Idle, matched: false},
		{name: "idle prompt glyph", input: "some output\n> ", want: Idle, matched: true},
		{name: "idle prompt arrow glyph", input: "some output\n❯ ", want: Idle, matched: true},
		{name: "no signal at all", input: "plain output with nothing recognizable", want: Idle, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, _, matched := classify(tt.input)
			if matched != tt.matched {
				t.Fatalf("classify() matched = %v, want %v", matched, tt.matched)
			}
			if matched && state != tt.want {
				t.Errorf("classify() state = %v, want %v", state, tt.want)
			}
		})
	}
}

func TestDetectorReportsTransitionOnChange(t *testing.T) {
	d := New()

	d.Feed("pane1", []byte("Bash(go test ./...)"))

	select {
	case tr := <-d.Transitions():
		if tr.PaneID != "pane1" {
			t.Errorf("PaneID = %q, want %q", tr.PaneID, "pane1")
		}
		if tr.State != ToolUse {
			t.Errorf("State = %v, want %v", tr.State, ToolUse)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func TestDetectorSuppressesRepeatedSameState(t *testing.T) {
	d := New()

	d.Feed("pane1", []byte("Bash(ls)"))
	<-d.Transitions()

	d.Feed("pane1", []byte("Bash(ls -la)"))

	select {
	case tr := <-d.Transitions():
		t.Fatalf("unexpected second transition for unchanged state: %+v", tr)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDetectorDebounceSuppressesFlicker(t *testing.T) {
	d := NewWithDebounce(500 * time.Millisecond)

	d.Feed("pane1", []byte("Bash(ls)"))
	<-d.Transitions()

	// A same-window flip back to a spinner/thinking state should be
	// suppressed by the debounce window even though the class differs from
	// the last reported one.
	d.Feed("pane1", []byte("⠋ Thinking hard"))

	select {
	case tr := <-d.Transitions():
		t.Fatalf("unexpected transition within debounce window: %+v", tr)
	case <-time.After(100 * time.Millisecond):
	}

	if got := d.State("pane1"); got != Thinking {
		t.Errorf("State() = %v, want %v (should still track the real class)", got, Thinking)
	}
}

func TestDetectorExtractsSessionModelTokens(t *testing.T) {
	d := New()

	d.Feed("pane1", []byte("session: abc-123\nmodel: claude-opus\n⠋ Thinking\n4200 tokens\n"))

	select {
	case tr := <-d.Transitions():
		if tr.SessionID != "abc-123" {
			t.Errorf("SessionID = %q, want %q", tr.SessionID, "abc-123")
		}
		if tr.Model != "claude-opus" {
			t.Errorf("Model = %q, want %q", tr.Model, "claude-opus")
		}
		if tr.TokenCount != 4200 {
			t.Errorf("TokenCount = %d, want 4200", tr.TokenCount)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func TestDetectorForgetResetsState(t *testing.T) {
	d := New()
	d.Feed("pane1", []byte("Bash(ls)"))
	<-d.Transitions()

	d.Forget("pane1")

	if got := d.State("pane1"); got != Idle {
		t.Errorf("State() after Forget = %v, want %v", got, Idle)
	}
}

func TestDetectorIndependentPanes(t *testing.T) {
	d := New()

	d.Feed("pane1", []byte("Bash(ls)"))
	d.Feed("pane2", []byte("⠋ Writing main.go"))

	seen := map[string]State{}
	for i := 0; i < 2; i++ {
		select {
		case tr := <-d.Transitions():
			seen[tr.PaneID] = tr.State
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for transitions")
		}
	}

	if seen["pane1"] != ToolUse {
		t.Errorf("pane1 state = %v, want %v", seen["pane1"], ToolUse)
	}
	if seen["pane2"] != Coding {
		t.Errorf("pane2 state = %v, want %v", seen["pane2"], Coding)
	}
}
