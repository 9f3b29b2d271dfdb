// Package persistence implements the daemon's write-ahead log and
// checkpoint snapshot (spec §4.10). It has no direct teacher analog — the
// teacher persists session rows transactionally to SQLite and never replays
// a log — so the append-only segment shape is new, but it reuses
// internal/wire's length-framed, gob-encoded Envelope byte-for-byte (the
// same way the teacher reuses one message shape across its hub and API
// layers) and generalizes the atomic temp-file-then-rename idiom the
// teacher already applies to its config token file and registry YAML
// writes (internal/config/config.go: saveToFile; internal/registry/
// registry.go: Save) from "only ever write one known-good file" to "make
// the rename itself the commit point" for checkpoints.
package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/wire"
)

// FormatVersion is carried by every WAL segment and checkpoint file.
// Recovery refuses to interpret a higher version than it understands rather
// than silently skipping unknown fields (spec §4.10).
const FormatVersion = 1

// recordKind is the wire.Kind used to frame WAL records and segment/
// checkpoint headers. It is scoped to files this package writes and never
// appears on the network protocol, so it does not need to avoid collision
// with internal/wire/messages.go's Kind space.
const recordKind wire.Kind = 1

// segmentHeader is the first frame of every WAL segment file.
type segmentHeader struct {
	FormatVersion int
	CreatedAt     time.Time
}

// walRecord is one WAL entry: a durable hierarchy mutation with its
// sequence number carried in the wrapping wire.Envelope's RequestID field
// (monotonic across every segment in one WAL, spec §4.10: "a sequence
// number monotonic across records in one log").
type walRecord struct {
	Timestamp time.Time
	Kind      hierarchy.RecordKind
	Payload   []byte // gob-encoded concrete *Record struct for Kind
}

// checkpointFile is the full content of one checkpoint snapshot.
type checkpointFile struct {
	FormatVersion int
	CreatedAt     time.Time
	// CoveredSeq is the highest WAL sequence number reflected in Sessions;
	// recovery replays only records strictly after this number.
	CoveredSeq uint64
	Sessions   []hierarchy.SessionCheckpoint
}

// encodePayload gob-encodes a concrete record payload, mirroring
// internal/wire.EncodeBody's "encode the concrete type directly, no
// gob.Register needed" approach.
func encodePayload(payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("persistence: encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// decodePayload decodes a record's payload into the concrete struct
// registered for kind (hierarchy.RecordXxxRecord), returning it as the same
// "any" shape hierarchy.Manager.ApplyRecord expects.
func decodePayload(kind hierarchy.RecordKind, data []byte) (any, error) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	switch kind {
	case hierarchy.RecordSessionCreated:
		var r hierarchy.SessionCreatedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordSessionRenamed:
		var r hierarchy.SessionRenamedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordSessionDestroyed:
		var r hierarchy.SessionDestroyedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordWindowCreated:
		var r hierarchy.WindowCreatedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordWindowDestroyed:
		var r hierarchy.WindowDestroyedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordWindowRenamed:
		var r hierarchy.WindowRenamedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordPaneCreated:
		var r hierarchy.PaneCreatedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordPaneDestroyed:
		var r hierarchy.PaneDestroyedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordPaneResized:
		var r hierarchy.PaneResizedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordWindowResized:
		var r hierarchy.WindowResizedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordPaneFocused:
		var r hierarchy.PaneFocusedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordPaneRenamed:
		var r hierarchy.PaneRenamedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordTagsUpdated:
		var r hierarchy.TagsUpdatedRecord
		err := dec.Decode(&r)
		return r, err
	case hierarchy.RecordMetadataUpdated:
		var r hierarchy.MetadataUpdatedRecord
		err := dec.Decode(&r)
		return r, err
	default:
		return nil, fmt.Errorf("persistence: unknown record kind %q", kind)
	}
}
