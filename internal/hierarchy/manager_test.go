package hierarchy

import (
	"strings"
	"testing"
	"time"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/detector"
	"github.com/user/agentmux/internal/layout"
	"github.com/user/agentmux/internal/pty"
	"github.com/user/agentmux/internal/registry"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(pty.NewManager(), detector.New(), registry.New(), Options{})
}

func catSession(t *testing.T, m *Manager, name string) *Session {
	t.Helper()
	sess, _, _, err := m.CreateSession(CreateSessionParams{Name: name, Command: []string{"cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestCreateSessionHasOneWindowOnePane(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	snap := m.snapshotSession(sess)
	if len(snap.Windows) != 1 {
		t.Fatalf("Windows = %d, want 1", len(snap.Windows))
	}
	if len(snap.Windows[0].Panes) != 1 {
		t.Fatalf("Panes = %d, want 1", len(snap.Windows[0].Panes))
	}
	if !snap.Windows[0].Panes[0].Live {
		t.Error("expected default pane to have a live PTY")
	}
}

func TestCreateSessionRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	catSession(t, m, "dev")

	_, _, _, err := m.CreateSession(CreateSessionParams{Name: "dev", Command: []string{"cat"}})
	if !daemonerr.Is(err, daemonerr.SessionExists) {
		t.Fatalf("CreateSession duplicate name error = %v, want SessionExists", err)
	}
}

func TestCreateSessionGeneratesNameWhenEmpty(t *testing.T) {
	m := newTestManager(t)
	sess, _, _, err := m.CreateSession(CreateSessionParams{Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.Name == "" {
		t.Error("expected a generated session name")
	}
}

func TestResolveSessionByIDAndName(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	byName, err := m.ResolveSession("dev")
	if err != nil || byName.ID != sess.ID {
		t.Fatalf("ResolveSession(name) = (%v, %v), want %v", byName, err, sess.ID)
	}

	byID, err := m.ResolveSession(sess.ID.String())
	if err != nil || byID.ID != sess.ID {
		t.Fatalf("ResolveSession(id) = (%v, %v), want %v", byID, err, sess.ID)
	}

	if _, err := m.ResolveSession("nope"); !daemonerr.Is(err, daemonerr.SessionNotFound) {
		t.Fatalf("ResolveSession(unknown) error = %v, want SessionNotFound", err)
	}
}

func TestRenameSessionConflictAndNoop(t *testing.T) {
	m := newTestManager(t)
	a := catSession(t, m, "alpha")
	catSession(t, m, "beta")

	if err := m.RenameSession(a.ID.String(), "beta"); !daemonerr.Is(err, daemonerr.SessionExists) {
		t.Fatalf("RenameSession to existing name error = %v, want SessionExists", err)
	}

	if err := m.RenameSession(a.ID.String(), "alpha"); err != nil {
		t.Fatalf("same-name rename should be a no-op success, got %v", err)
	}

	if err := m.RenameSession(a.ID.String(), "gamma"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if _, err := m.ResolveSession("alpha"); !daemonerr.Is(err, daemonerr.SessionNotFound) {
		t.Error("expected old name to no longer resolve")
	}
	if _, err := m.ResolveSession("gamma"); err != nil {
		t.Error("expected new name to resolve")
	}
}

func TestActiveSessionResolvesByAttachedCount(t *testing.T) {
	m := newTestManager(t)
	a := catSession(t, m, "alpha")
	b := catSession(t, m, "beta")

	reg := m.registry
	c1 := reg.Register(8)
	c2 := reg.Register(8)
	reg.Attach(c1.ID, b.ID)
	reg.Attach(c2.ID, b.ID)
	reg.Attach(reg.Register(8).ID, a.ID)

	active, err := m.ResolveSession("")
	if err != nil {
		t.Fatalf("ResolveSession(active): %v", err)
	}
	if active.ID != b.ID {
		t.Errorf("active session = %s, want %s (greatest attached count)", active.ID, b.ID)
	}
}

func TestActiveSessionNoSessions(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ResolveSession(""); !daemonerr.Is(err, daemonerr.NoSession) {
		t.Fatalf("ResolveSession(active) with no sessions error = %v, want NoSession", err)
	}
}

func TestCreateWindowAddsSecondWindow(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	_, win, pane, err := m.CreateWindow(CreateWindowParams{Session: sess.ID.String(), Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}
	if win.SessionID != sess.ID {
		t.Error("window's SessionID does not match the owning session")
	}

	snap := m.snapshotSession(sess)
	if len(snap.Windows) != 2 {
		t.Fatalf("Windows = %d, want 2", len(snap.Windows))
	}
	if !pane.Live {
		t.Error("expected new window's default pane to have a live PTY")
	}
}

func TestDestroyWindowRejectsLastWindow(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	if err := m.DestroyWindow(sess.CurrentWindow.String()); !daemonerr.Is(err, daemonerr.InvalidParams) {
		t.Fatalf("DestroyWindow(last window) error = %v, want InvalidParams", err)
	}
}

func TestDestroyWindowRemovesSecondWindow(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	_, win2, _, err := m.CreateWindow(CreateWindowParams{Session: sess.ID.String(), Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}

	if err := m.DestroyWindow(win2.ID.String()); err != nil {
		t.Fatalf("DestroyWindow: %v", err)
	}

	snap := m.snapshotSession(sess)
	if len(snap.Windows) != 1 {
		t.Fatalf("Windows after destroy = %d, want 1", len(snap.Windows))
	}
	if _, err := m.ResolveWindow(win2.ID.String()); !daemonerr.Is(err, daemonerr.WindowNotFound) {
		t.Error("expected destroyed window to no longer resolve")
	}
}

func TestSplitPaneAddsPaneAndResizesSibling(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	win, err := m.ResolveWindow(sess.CurrentWindow.String())
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	sourcePane := win.Panes[0]

	newPane, err := m.SplitPane(SplitPaneParams{
		SourcePane:  sourcePane.ID.String(),
		Orientation: layout.Vertical,
		Command:     []string{"cat"},
	})
	if err != nil {
		t.Fatalf("SplitPane: %v", err)
	}
	if !newPane.Live {
		t.Error("expected split pane to have a live PTY")
	}

	if win.Layout.PaneCount() != 2 {
		t.Fatalf("PaneCount = %d, want 2", win.Layout.PaneCount())
	}
	if sourcePane.Rows >= 24 {
		t.Errorf("expected source pane to shrink after vertical split, got Rows=%d", sourcePane.Rows)
	}
}

func TestSplitPaneUnknownSourceFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SplitPane(SplitPaneParams{SourcePane: "no-such-pane", Command: []string{"cat"}})
	if !daemonerr.Is(err, daemonerr.PaneNotFound) {
		t.Fatalf("SplitPane(unknown source) error = %v, want PaneNotFound", err)
	}
}

func TestDestroyPaneCollapsesToSibling(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	win, _ := m.ResolveWindow(sess.CurrentWindow.String())
	sourcePane := win.Panes[0]

	newPane, err := m.SplitPane(SplitPaneParams{SourcePane: sourcePane.ID.String(), Orientation: layout.Horizontal, Command: []string{"cat"}})
	if err != nil {
		t.Fatalf("SplitPane: %v", err)
	}

	if err := m.DestroyPane(newPane.ID.String()); err != nil {
		t.Fatalf("DestroyPane: %v", err)
	}
	if win.Layout.PaneCount() != 1 {
		t.Fatalf("PaneCount after destroy = %d, want 1", win.Layout.PaneCount())
	}
	if sourcePane.Cols != win.Cols || sourcePane.Rows != win.Rows {
		t.Errorf("expected surviving pane to reclaim full window area, got %dx%d want %dx%d",
			sourcePane.Cols, sourcePane.Rows, win.Cols, win.Rows)
	}
	if _, err := m.ResolvePane(newPane.ID.String()); !daemonerr.Is(err, daemonerr.PaneNotFound) {
		t.Error("expected destroyed pane to no longer resolve")
	}
}

func TestDestroyPaneLastInWindowFails(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	win, _ := m.ResolveWindow(sess.CurrentWindow.String())

	if err := m.DestroyPane(win.Panes[0].ID.String()); !daemonerr.Is(err, daemonerr.InvalidParams) {
		t.Fatalf("DestroyPane(last pane) error = %v, want InvalidParams", err)
	}
}

func TestDestroySessionCascadesAndDetachesClients(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	reg := m.registry
	c := reg.Register(8)
	reg.Attach(c.ID, sess.ID)

	if err := m.DestroySession(sess.ID.String()); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
	if _, err := m.ResolveSession("dev"); !daemonerr.Is(err, daemonerr.SessionNotFound) {
		t.Error("expected destroyed session to no longer resolve")
	}
	if reg.AttachedCount(sess.ID) != 0 {
		t.Error("expected clients to be detached on session destroy")
	}
}

func TestWritePaneInputAndReadPane(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	win, _ := m.ResolveWindow(sess.CurrentWindow.String())
	pane := win.Panes[0]

	if err := m.WritePaneInput(pane.ID.String(), []byte("hello-hierarchy"), true); err != nil {
		t.Fatalf("WritePaneInput: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines, err := m.ReadPane(pane.ID.String(), 50, true)
		if err != nil {
			t.Fatalf("ReadPane: %v", err)
		}
		if strings.Contains(strings.Join(lines, "\n"), "hello-hierarchy") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for echoed input to appear in pane output")
}

func TestSetAndGetSessionTagsAndMetadata(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")

	if err := m.SetSessionTags(sess.ID.String(), []string{"b", "a"}); err != nil {
		t.Fatalf("SetSessionTags: %v", err)
	}
	tags, err := m.SessionTags(sess.ID.String())
	if err != nil || len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("SessionTags = (%v, %v), want sorted [a b]", tags, err)
	}

	if err := m.SetSessionMetadata(sess.ID.String(), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("SetSessionMetadata: %v", err)
	}
	meta, err := m.SessionMetadata(sess.ID.String())
	if err != nil || meta["k"] != "v" {
		t.Fatalf("SessionMetadata = (%v, %v), want {k: v}", meta, err)
	}
}

func TestSessionsWithTag(t *testing.T) {
	m := newTestManager(t)
	a := catSession(t, m, "alpha")
	catSession(t, m, "beta")

	if err := m.SetSessionTags(a.ID.String(), []string{"frontend"}); err != nil {
		t.Fatalf("SetSessionTags: %v", err)
	}

	matches := m.SessionsWithTag("frontend")
	if len(matches) != 1 || matches[0].ID != a.ID {
		t.Fatalf("SessionsWithTag = %v, want only %s", matches, a.ID)
	}
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	m := newTestManager(t)
	catSession(t, m, "first")
	catSession(t, m, "second")

	list := m.ListSessions()
	if len(list) != 2 {
		t.Fatalf("ListSessions = %d entries, want 2", len(list))
	}
	if list[0].Name != "first" || list[1].Name != "second" {
		t.Errorf("ListSessions order = [%s %s], want [first second]", list[0].Name, list[1].Name)
	}
}

func TestAgentSummaryForUnknownPane(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AgentSummaryFor("no-such-pane"); !daemonerr.Is(err, daemonerr.PaneNotFound) {
		t.Fatalf("AgentSummaryFor(unknown) error = %v, want PaneNotFound", err)
	}
}

func TestResizeWindowResizesAllPanes(t *testing.T) {
	m := newTestManager(t)
	sess := catSession(t, m, "dev")
	win, _ := m.ResolveWindow(sess.CurrentWindow.String())

	if _, err := m.SplitPane(SplitPaneParams{SourcePane: win.Panes[0].ID.String(), Orientation: layout.Horizontal, Command: []string{"cat"}}); err != nil {
		t.Fatalf("SplitPane: %v", err)
	}

	if err := m.ResizeWindow(win.ID.String(), 200, 60); err != nil {
		t.Fatalf("ResizeWindow: %v", err)
	}

	if win.Cols != 200 {
		t.Errorf("win.Cols = %d, want 200", win.Cols)
	}
	var totalCols int
	for _, p := range win.Panes {
		totalCols += p.Cols
		if p.Rows != 60 {
			t.Errorf("pane %s Rows = %d, want 60 (horizontal split keeps full height)", p.ID, p.Rows)
		}
	}
	if totalCols != 200 {
		t.Errorf("sum of pane cols = %d, want 200", totalCols)
	}
}

func TestSessionCreatePtySpawnFailureIsNonFatal(t *testing.T) {
	m := newTestManager(t)
	sess, _, _, err := m.CreateSession(CreateSessionParams{Name: "bad", Command: []string{"/no/such/binary-agentmux-test"}})
	if err != nil {
		t.Fatalf("CreateSession with unspawnable command should still succeed: %v", err)
	}
	snap := m.snapshotSession(sess)
	if snap.Windows[0].Panes[0].Live {
		t.Error("expected the default pane to be non-live after a spawn failure")
	}
}

func TestResizeWindowRecordsWindowAndPaneResize(t *testing.T) {
	src := NewManager(pty.NewManager(), detector.New(), registry.New(), Options{})
	sess := catSession(t, src, "dev")
	win, _ := src.ResolveWindow(sess.CurrentWindow.String())
	paneID := win.Panes[0].ID

	var kinds []RecordKind
	src.recorder = recordingRecorder{seen: &kinds}

	if err := src.ResizeWindow(win.ID.String(), 100, 40); err != nil {
		t.Fatalf("ResizeWindow: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != RecordPaneResized || kinds[1] != RecordWindowResized {
		t.Fatalf("recorded kinds = %v, want [pane_resized window_resized]", kinds)
	}

	// A fresh manager, built the way internal/persistence.Recover builds one
	// after an ungraceful crash: no checkpoint, just WAL replay from the
	// session's creation forward, reproducing scenario 5 (resize then crash,
	// recover exact dimensions).
	dst := NewManager(pty.NewManager(), detector.New(), registry.New(), Options{})
	dst.ApplyRecord(RecordSessionCreated, SessionCreatedRecord{
		SessionID: sess.ID, Name: sess.Name, WindowID: win.ID, PaneID: paneID, Cols: 80, Rows: 24, CreatedAt: sess.CreatedAt,
	})
	dst.ApplyRecord(RecordWindowResized, WindowResizedRecord{SessionID: sess.ID, WindowID: win.ID, Cols: 100, Rows: 40})
	dst.ApplyRecord(RecordPaneResized, PaneResizedRecord{SessionID: sess.ID, PaneID: paneID, Cols: 100, Rows: 40})

	snap, err := dst.Snapshot(sess.ID.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Windows[0].Cols != 100 || snap.Windows[0].Rows != 40 {
		t.Fatalf("recovered window dims = %dx%d, want 100x40", snap.Windows[0].Cols, snap.Windows[0].Rows)
	}
	if snap.Windows[0].Panes[0].Cols != 100 || snap.Windows[0].Panes[0].Rows != 40 {
		t.Fatalf("recovered pane dims = %dx%d, want 100x40", snap.Windows[0].Panes[0].Cols, snap.Windows[0].Panes[0].Rows)
	}
}

func TestRecordFailureAbortsInsteadOfContinuing(t *testing.T) {
	var fatalErr error
	m := NewManager(pty.NewManager(), detector.New(), registry.New(), Options{
		Recorder: failingRecorder{},
		Fatal:    func(err error) { fatalErr = err },
	})

	if _, _, _, err := m.CreateSession(CreateSessionParams{Name: "dev", Command: []string{"cat"}}); !daemonerr.Is(err, daemonerr.IOError) {
		t.Fatalf("CreateSession error = %v, want IoError", err)
	}
	if fatalErr == nil {
		t.Fatal("expected Fatal to be invoked when the durable record write fails")
	}
}

type recordingRecorder struct {
	seen *[]RecordKind
}

func (r recordingRecorder) Record(kind RecordKind, _ any) error {
	*r.seen = append(*r.seen, kind)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) Record(RecordKind, any) error {
	return errRecordWriteFailed
}

var errRecordWriteFailed = daemonerr.New(daemonerr.IOError, "simulated disk full")
