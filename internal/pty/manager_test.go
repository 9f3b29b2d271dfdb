package pty

import (
	"testing"
	"time"

	"github.com/user/agentmux/internal/id"
)

// TestManagerSpawnAndDestroy spawns a pane running "sleep 10", verifies a
// second Spawn under the same id fails, then destroys it.
func TestManagerSpawnAndDestroy(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	paneID := id.New()
	if err := m.Spawn(paneID, SpawnConfig{Command: []string{"sleep", "10"}}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := m.Spawn(paneID, SpawnConfig{Command: []string{"sleep", "10"}}); err == nil {
		t.Fatal("expected error spawning a duplicate pane id")
	}

	if _, err := m.Info(paneID); err != nil {
		t.Fatalf("Info: %v", err)
	}

	if err := m.Destroy(paneID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := m.Info(paneID); err == nil {
		t.Fatal("expected error after destroy")
	}
}

// TestManagerUnknownPane verifies every operation against an untracked pane
// id returns an error instead of panicking.
func TestManagerUnknownPane(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	unknown := id.New()
	if _, err := m.Info(unknown); err == nil {
		t.Error("expected error from Info on unknown pane")
	}
	if err := m.Write(unknown, []byte("x"), false); err == nil {
		t.Error("expected error from Write on unknown pane")
	}
	if err := m.Resize(unknown, 80, 24); err == nil {
		t.Error("expected error from Resize on unknown pane")
	}
	if err := m.Destroy(unknown); err == nil {
		t.Error("expected error from Destroy on unknown pane")
	}
}

// TestManagerShellCommandLineSplitting verifies a single-string command is
// parsed with shell quoting rules rather than handed to exec verbatim.
func TestManagerShellCommandLineSplitting(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	paneID := id.New()
	if err := m.Spawn(paneID, SpawnConfig{Command: []string{"echo 'hello world'"}}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	events, ok := m.Events(paneID)
	if !ok {
		t.Fatal("expected events channel for live pane")
	}

	var got string
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if ev.Type == EventOutput {
				got += string(ev.Data)
			}
			if ev.Type == EventExit {
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	if got == "" {
		t.Fatal("expected output from shell-split command")
	}
}

// TestManagerSandboxWrapsCommand verifies a sandbox-enabled spawn rewrites
// argv to invoke the configured wrapper rather than the bare command.
func TestManagerSandboxWrapsCommand(t *testing.T) {
	argv, err := resolveCommand(SpawnConfig{
		Command: []string{"my-agent", "--flag"},
		Sandbox: &SandboxConfig{
			Enabled:        true,
			Wrapper:        "bwrap",
			ReadOnlyPaths:  []string{"/usr"},
			ReadWritePaths: []string{"/tmp/work"},
			CwdWritable:    true,
		},
	})
	if err != nil {
		t.Fatalf("resolveCommand: %v", err)
	}

	if argv[0] != "bwrap" {
		t.Fatalf("expected wrapped argv to start with wrapper binary, got %v", argv)
	}
	if argv[len(argv)-2] != "my-agent" || argv[len(argv)-1] != "--flag" {
		t.Fatalf("expected original command preserved at tail, got %v", argv)
	}
}

// TestResolveCommandDefaultsToShell verifies an empty command resolves to a
// shell rather than failing.
func TestResolveCommandDefaultsToShell(t *testing.T) {
	argv, err := resolveCommand(SpawnConfig{})
	if err != nil {
		t.Fatalf("resolveCommand: %v", err)
	}
	if len(argv) == 0 {
		t.Fatal("expected a nonempty default argv")
	}
}
