package orchestration

import (
	"testing"
)

func TestMailboxSendListFilterAndMarkRead(t *testing.T) {
	dir := t.TempDir()
	mb := NewMailbox(dir)

	if err := mb.Send("reviewer", MailMessage{
		From: "coder", To: "reviewer", Type: "review_request",
		Priority: PriorityHigh, NeedsResponse: true, Body: "# Please review\n\nSee commit abc123.\n",
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := mb.Send("reviewer", MailMessage{
		From: "coder", To: "reviewer", Type: "status_update",
		Priority: PriorityLow, Body: "# FYI\n\nStill working.\n",
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	all, err := mb.List("reviewer", Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() len = %d, want 2", len(all))
	}

	needsResponse := true
	filtered, err := mb.List("reviewer", Filter{NeedsResponse: &needsResponse})
	if err != nil {
		t.Fatalf("List(needsResponse) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].Type != "review_request" {
		t.Fatalf("List(needsResponse) = %+v", filtered)
	}

	read, err := mb.Read("reviewer", Filter{Type: "review_request"}, true)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(read) != 1 {
		t.Fatalf("Read() len = %d, want 1", len(read))
	}

	remaining, err := mb.List("reviewer", Filter{})
	if err != nil {
		t.Fatalf("List() after read error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Type != "status_update" {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestMailboxListMissingDirReturnsEmpty(t *testing.T) {
	mb := NewMailbox(t.TempDir())
	msgs, err := mb.List("nobody", Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if msgs != nil {
		t.Fatalf("List() = %+v, want nil", msgs)
	}
}

func TestMailMessageRoundTripsHeaderAndBody(t *testing.T) {
	dir := t.TempDir()
	mb := NewMailbox(dir)
	if err := mb.Send("agent-x", MailMessage{
		From: "agent-y", To: "agent-x", Type: "handoff", Priority: PriorityUrgent,
		NeedsResponse: true, Body: "# Handoff\n\nTake over task-42.\n",
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs, err := mb.List("agent-x", Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("List() len = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.From != "agent-y" || got.To != "agent-x" || got.Priority != PriorityUrgent || !got.NeedsResponse {
		t.Fatalf("got = %+v", got)
	}
	if got.Body != "# Handoff\n\nTake over task-42.\n" {
		t.Fatalf("body = %q", got.Body)
	}
}
