package wire

import "time"

// Message kinds. Request-class kinds carry a nonzero RequestID and expect a
// matching response-class reply; broadcast-class kinds carry RequestID 0
// and are fanned out to attached clients (spec §4.1).
const (
	KindCreateSession Kind = iota + 1
	KindRenameSession
	KindDestroySession
	KindCreateWindow
	KindDestroyWindow
	KindSplitPane
	KindResizePane
	KindResizeWindow
	KindDestroyPane
	KindWritePaneInput
	KindPaste
	KindSetSessionTags
	KindSetSessionMetadata
	KindReadPane
	KindListSessions
	KindAttach
	KindDetach

	KindOK
	KindError
	KindSessionCreated
	KindSessionRenamed
	KindWindowCreated
	KindPaneReadResult
	KindSessionList

	KindPaneOutput
	KindPaneStateChanged
	KindPaneCreated
	KindPaneDestroyed
	KindWindowDestroyed
	KindSessionDestroyed

	// KindAuth through KindAuthFail implement the TCP handshake of spec
	// §4.7/§6: when a TCP auth token is configured, the first frame on a
	// freshly accepted TCP connection must be KindAuth carrying a sha256
	// token hash; the server replies KindAuthOK or KindAuthFail before any
	// other frame is processed. A TCP listener without a token (allowed only
	// on loopback) and Unix socket connections skip this handshake entirely
	// (for the socket, filesystem permissions are the access control).
	KindAuth
	KindAuthOK
	KindAuthFail

	// KindPaneSplit is the direct request/response reply for KindSplitPane;
	// the window-wide PaneCreated broadcast is what other attached clients
	// observe.
	KindPaneSplit

	KindRenameWindow
	KindFocusPane

	// KindOrchestrationMessage is a broadcast-class kind: the orchestration
	// router fans a message out to every client attached to each resolved
	// recipient session (spec §4.11).
	KindOrchestrationMessage

	// KindPing is a request-class liveness check used by internal clients
	// (the MCP bridge's connection supervisor, spec §4.9) to detect a dead
	// or degraded link without exercising session state.
	KindPing
	KindPong

	// KindGetSessionTags/KindGetSessionMetadata/KindAgentSummary back the
	// MCP bridge's read-side tools (spec §4.9): "set/get session tags",
	// "set/get session metadata", and "agent-summary for a pane".
	KindGetSessionTags
	KindSessionTags
	KindGetSessionMetadata
	KindSessionMetadata
	KindGetAgentSummary
	KindAgentSummary
	KindRenamePane
)

// PaneSplitResp is the direct reply to a KindSplitPane request.
type PaneSplitResp struct {
	PaneID string
}

// AuthReq is the first frame a TCP client must send (spec §6): the shared
// token, hashed with sha256 before transmission so the token itself never
// crosses the wire.
type AuthReq struct {
	TokenHash []byte
}

// --- request-class payloads ---

type CreateSessionReq struct {
	Name     string
	Cwd      string
	Env      map[string]string
	Tags     []string
	Metadata map[string]string
	Cols     int
	Rows     int
	Preset   string
	TaskListID string
}

type RenameSessionReq struct {
	Session string // id or name
	NewName string
}

type DestroySessionReq struct {
	Session string
}

type CreateWindowReq struct {
	Session string
	Name    string
	Command string
	Preset  string
}

type DestroyWindowReq struct {
	Window string
}

type RenameWindowReq struct {
	Window  string
	NewName string
}

type FocusPaneReq struct {
	Pane string
}

type SplitPaneReq struct {
	SourcePane string
	Direction  string // "horizontal" | "vertical"
	Command    string
	Cwd        string
	Preset     string
}

type ResizePaneReq struct {
	Pane string
	Cols int
	Rows int
}

type ResizeWindowReq struct {
	Window string
	Cols   int
	Rows   int
}

type DestroyPaneReq struct {
	Pane string
}

type WritePaneInputReq struct {
	Pane   string
	Bytes  []byte
	Submit bool
}

type PasteReq struct {
	Pane  string
	Bytes []byte
}

type SetSessionTagsReq struct {
	Session string
	Tags    []string
}

type SetSessionMetadataReq struct {
	Session  string
	Metadata map[string]string
}

type ReadPaneReq struct {
	Pane       string
	Lines      int
	StripANSI  bool
}

type GetSessionTagsReq struct {
	Session string
}

type GetSessionMetadataReq struct {
	Session string
}

type GetAgentSummaryReq struct {
	Pane string
}

type RenamePaneReq struct {
	Pane    string
	NewName string
}

type ListSessionsReq struct{}

type AttachReq struct {
	Session string
}

type DetachReq struct{}

// --- response-class payloads ---

type OKResp struct{}

type ErrorResp struct {
	Code    string
	Message string
}

type SessionCreatedResp struct {
	SessionID string
	WindowID  string
	PaneID    string
}

type SessionRenamedResp struct {
	SessionID string
	Name      string
}

type WindowCreatedResp struct {
	WindowID string
	PaneID   string
}

type PaneReadResultResp struct {
	Lines []string
}

type SessionSummary struct {
	ID              string
	Name            string
	Tags            []string
	AttachedClients int
	LastActivity    time.Time
	CreatedAt       time.Time
}

type SessionListResp struct {
	Sessions []SessionSummary
}

type SessionTagsResp struct {
	Tags []string
}

type SessionMetadataResp struct {
	Metadata map[string]string
}

type AgentSummaryResp struct {
	PaneID      string
	State       string
	HarnessKind string
}

// --- broadcast-class payloads (no request id) ---

type PaneOutputBroadcast struct {
	SessionID string
	PaneID    string
	Data      []byte
}

type PaneStateChangedBroadcast struct {
	SessionID string
	PaneID    string
	State     string
	Detail    string
}

type PaneCreatedBroadcast struct {
	SessionID string
	WindowID  string
	PaneID    string
}

type PaneDestroyedBroadcast struct {
	SessionID string
	PaneID    string
}

type WindowDestroyedBroadcast struct {
	SessionID string
	WindowID  string
}

type SessionDestroyedBroadcast struct {
	SessionID string
}

// OrchestrationMessageBroadcast carries a routed orchestration message
// (spec §4.11) to every client attached to a recipient session. Payload is
// kept as raw JSON so the router never needs to know the shape of any
// particular msg_type.
type OrchestrationMessageBroadcast struct {
	From      string
	SessionID string
	MsgType   string
	Payload   []byte
}
