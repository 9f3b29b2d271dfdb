package hierarchy

import (
	"time"

	"github.com/user/agentmux/internal/id"
	"github.com/user/agentmux/internal/layout"
)

// RecordKind tags a durable WAL record produced by a hierarchy mutation
// (spec §4.10: "typed payload: session created/renamed/destroyed, window
// created/destroyed, pane created/destroyed/resized, metadata/tag update").
type RecordKind string

const (
	RecordSessionCreated   RecordKind = "session_created"
	RecordSessionRenamed   RecordKind = "session_renamed"
	RecordSessionDestroyed RecordKind = "session_destroyed"
	RecordWindowCreated    RecordKind = "window_created"
	RecordWindowDestroyed  RecordKind = "window_destroyed"
	RecordWindowRenamed    RecordKind = "window_renamed"
	RecordPaneCreated      RecordKind = "pane_created"
	RecordPaneDestroyed    RecordKind = "pane_destroyed"
	RecordPaneResized      RecordKind = "pane_resized"
	RecordWindowResized    RecordKind = "window_resized"
	RecordPaneFocused      RecordKind = "pane_focused"
	RecordPaneRenamed      RecordKind = "pane_renamed"
	RecordTagsUpdated      RecordKind = "tags_updated"
	RecordMetadataUpdated  RecordKind = "metadata_updated"
)

// Recorder durably records one hierarchy mutation before Manager reports it
// to the caller as successful (spec §4.10). internal/persistence implements
// this against the WAL; Manager depends only on this interface so the
// hierarchy package never imports the concrete log, avoiding an import
// cycle (persistence's checkpoint snapshot walks the hierarchy back).
type Recorder interface {
	Record(kind RecordKind, payload any) error
}

// NopRecorder discards every record. It is the default when no persistence
// layer is wired (unit tests, or a future debug mode that runs without a
// WAL).
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(RecordKind, any) error { return nil }

// SessionCreatedRecord is the RecordSessionCreated payload.
type SessionCreatedRecord struct {
	SessionID  id.ID
	Name       string
	Cwd        string
	Env        map[string]string
	Tags       []string
	Metadata   map[string]string
	TaskListID string
	WindowID   id.ID
	PaneID     id.ID
	Cols, Rows int
	CreatedAt  time.Time
}

// SessionRenamedRecord is the RecordSessionRenamed payload.
type SessionRenamedRecord struct {
	SessionID id.ID
	NewName   string
}

// SessionDestroyedRecord is the RecordSessionDestroyed payload.
type SessionDestroyedRecord struct {
	SessionID id.ID
}

// WindowCreatedRecord is the RecordWindowCreated payload.
type WindowCreatedRecord struct {
	SessionID  id.ID
	WindowID   id.ID
	PaneID     id.ID
	Name       string
	Cols, Rows int
}

// WindowDestroyedRecord is the RecordWindowDestroyed payload.
type WindowDestroyedRecord struct {
	SessionID id.ID
	WindowID  id.ID
}

// WindowRenamedRecord is the RecordWindowRenamed payload.
type WindowRenamedRecord struct {
	SessionID id.ID
	WindowID  id.ID
	NewName   string
}

// PaneCreatedRecord is the RecordPaneCreated payload.
type PaneCreatedRecord struct {
	SessionID, WindowID, PaneID, SourcePaneID id.ID
	Orientation                               layout.Orientation
	Cols, Rows                                int
}

// PaneDestroyedRecord is the RecordPaneDestroyed payload.
type PaneDestroyedRecord struct {
	SessionID, WindowID, PaneID id.ID
}

// PaneResizedRecord is the RecordPaneResized payload.
type PaneResizedRecord struct {
	SessionID, PaneID id.ID
	Cols, Rows        int
}

// WindowResizedRecord is the RecordWindowResized payload. ResizeWindow
// emits exactly one of these per call, alongside one PaneResizedRecord for
// every pane whose area the new window size produced (spec §4.5, §4.10:
// recovery must reproduce a resized window's own dimensions, not just its
// panes').
type WindowResizedRecord struct {
	SessionID, WindowID id.ID
	Cols, Rows          int
}

// PaneFocusedRecord is the RecordPaneFocused payload.
type PaneFocusedRecord struct {
	SessionID, WindowID, PaneID id.ID
}

// PaneRenamedRecord is the RecordPaneRenamed payload.
type PaneRenamedRecord struct {
	SessionID, WindowID, PaneID id.ID
	NewName                     string
}

// TagsUpdatedRecord is the RecordTagsUpdated payload.
type TagsUpdatedRecord struct {
	SessionID id.ID
	Tags      []string
}

// MetadataUpdatedRecord is the RecordMetadataUpdated payload.
type MetadataUpdatedRecord struct {
	SessionID id.ID
	Metadata  map[string]string
}
