package orchestration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/agentmux/internal/id"
)

// Priority is a mailbox message's urgency, used as a read-side filter.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// MailMessage is one filesystem mailbox entry (spec §4.11): a typed header
// plus a markdown body.
type MailMessage struct {
	From          string
	To            string
	Type          string
	Priority      Priority
	NeedsResponse bool
	CreatedAt     time.Time
	Body          string

	// filename is set on read, used by Read's markRead step to locate the
	// file on disk without re-deriving its name.
	filename string
}

// Filter narrows List/Read by header fields. A zero-value
// field means "don't filter on this".
type Filter struct {
	Type          string
	Priority      Priority
	NeedsResponse *bool
}

// Mailbox is a filesystem-backed message store rooted at
// <repoDir>/.mail/<recipient>/. It tolerates a missing directory tree:
// reads of one return an empty list, writes create it on demand (grounded
// on internal/playbook/playbook.go's NewRegistry/ensureDefaults
// discipline).
type Mailbox struct {
	repoDir string
}

// NewMailbox returns a Mailbox rooted at repoDir's .mail subdirectory.
func NewMailbox(repoDir string) *Mailbox {
	return &Mailbox{repoDir: repoDir}
}

func (m *Mailbox) recipientDir(recipient string) string {
	return filepath.Join(m.repoDir, ".mail", recipient)
}

// Send atomically writes msg into the recipient's mailbox directory using
// a temp-file-then-rename sequence so a concurrent reader never observes a
// partially written file.
func (m *Mailbox) Send(recipient string, msg MailMessage) error {
	if recipient == "" {
		return fmt.Errorf("orchestration: mailbox recipient is required")
	}
	if msg.Type == "" {
		return fmt.Errorf("orchestration: mailbox message type is required")
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	dir := m.recipientDir(recipient)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestration: create mailbox dir: %w", err)
	}

	name := mailFilename(msg.CreatedAt)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".mail-*.tmp")
	if err != nil {
		return fmt.Errorf("orchestration: create mailbox temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(encodeMailMessage(msg)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestration: write mailbox message: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestration: sync mailbox message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestration: close mailbox temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestration: commit mailbox message: %w", err)
	}
	return nil
}

// List returns every unread message in recipient's mailbox matching
// filter, oldest first. A missing mailbox directory yields an empty list,
// not an error.
func (m *Mailbox) List(recipient string, filter Filter) ([]MailMessage, error) {
	return m.listDir(m.recipientDir(recipient), filter)
}

func (m *Mailbox) listDir(dir string, filter Filter) ([]MailMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestration: list mailbox dir: %w", err)
	}

	var out []MailMessage
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		msg, err := readMailFile(path)
		if err != nil {
			continue
		}
		msg.filename = e.Name()
		if matchesFilter(msg, filter) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Read returns every message matching filter and, if markRead is true,
// moves each returned file into the recipient's read/ subdirectory so a
// later List call no longer surfaces it.
func (m *Mailbox) Read(recipient string, filter Filter, markRead bool) ([]MailMessage, error) {
	dir := m.recipientDir(recipient)
	msgs, err := m.listDir(dir, filter)
	if err != nil {
		return nil, err
	}
	if !markRead {
		return msgs, nil
	}

	readDir := filepath.Join(dir, "read")
	if err := os.MkdirAll(readDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestration: create mailbox read dir: %w", err)
	}
	for _, msg := range msgs {
		src := filepath.Join(dir, msg.filename)
		dst := filepath.Join(readDir, msg.filename)
		if err := os.Rename(src, dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("orchestration: move mailbox message to read: %w", err)
		}
	}
	return msgs, nil
}

func matchesFilter(msg MailMessage, filter Filter) bool {
	if filter.Type != "" && msg.Type != filter.Type {
		return false
	}
	if filter.Priority != "" && msg.Priority != filter.Priority {
		return false
	}
	if filter.NeedsResponse != nil && msg.NeedsResponse != *filter.NeedsResponse {
		return false
	}
	return true
}

// mailFilename builds a timestamp-prefixed, collision-resistant name so
// concurrent senders never clobber each other (spec §4.11).
func mailFilename(ts time.Time) string {
	return fmt.Sprintf("%s-%s.md", ts.Format("20060102T150405.000000000"), id.New().String()[:8])
}

func encodeMailMessage(msg MailMessage) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "from: %s\n", msg.From)
	fmt.Fprintf(&b, "to: %s\n", msg.To)
	fmt.Fprintf(&b, "type: %s\n", msg.Type)
	fmt.Fprintf(&b, "priority: %s\n", msg.Priority)
	fmt.Fprintf(&b, "needs_response: %t\n", msg.NeedsResponse)
	fmt.Fprintf(&b, "created_at: %s\n", msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	b.WriteString("---\n")
	b.WriteString(msg.Body)
	return b.String()
}

func readMailFile(path string) (MailMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MailMessage{}, err
	}
	return parseMailMessage(string(data))
}

func parseMailMessage(raw string) (MailMessage, error) {
	const delim = "---\n"
	if !strings.HasPrefix(raw, delim) {
		return MailMessage{}, fmt.Errorf("orchestration: mailbox message missing header")
	}
	rest := raw[len(delim):]
	end := strings.Index(rest, delim)
	if end < 0 {
		return MailMessage{}, fmt.Errorf("orchestration: mailbox message header not terminated")
	}
	header := rest[:end]
	body := rest[end+len(delim):]

	msg := MailMessage{Body: body}
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "from":
			msg.From = value
		case "to":
			msg.To = value
		case "type":
			msg.Type = value
		case "priority":
			msg.Priority = Priority(value)
		case "needs_response":
			msg.NeedsResponse = value == "true"
		case "created_at":
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				msg.CreatedAt = ts
			}
		}
	}
	return msg, nil
}
