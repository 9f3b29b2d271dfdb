package persistence

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/wire"
)

// ApplyFunc receives one replayed WAL record in sequence order.
type ApplyFunc func(seq uint64, kind hierarchy.RecordKind, payload any)

// Replay reads every WAL segment under dir in order and invokes apply for
// each record whose sequence number is strictly greater than afterSeq (spec
// §4.10: "replay WAL records strictly after the covered sequence number").
// It returns the highest sequence number actually replayed (or afterSeq if
// nothing was). A segment whose header declares an unrecognized format
// version fails recovery outright; a segment that decodes cleanly up to
// some point and then hits corrupt bytes stops there, is quarantined by
// renaming it with a ".corrupt" suffix, and replay continues with the next
// segment as if the current one ended early.
func Replay(dir string, afterSeq uint64, logger *slog.Logger, apply ApplyFunc) (uint64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nums, err := listSegmentNumbers(dir)
	if err != nil {
		return afterSeq, err
	}

	highest := afterSeq
	for _, num := range nums {
		path := segmentPath(dir, num)
		n, err := replaySegment(path, afterSeq, logger, apply)
		if err != nil {
			return highest, err
		}
		if n > highest {
			highest = n
		}
		if n > afterSeq {
			afterSeq = n
		}
	}
	return highest, nil
}

func replaySegment(path string, afterSeq uint64, logger *slog.Logger, apply ApplyFunc) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("persistence: open segment %q: %w", path, err)
	}
	defer f.Close()

	codec := wire.NewCodec(f, f, 0)

	headerEnv, err := codec.Decode()
	if err != nil {
		logger.Error("persistence: segment has no readable header, quarantining", "path", path, "error", err)
		quarantine(path, logger)
		return 0, nil
	}
	var header segmentHeader
	if err := wire.DecodeBody(headerEnv, &header); err != nil {
		logger.Error("persistence: segment header undecodable, quarantining", "path", path, "error", err)
		quarantine(path, logger)
		return 0, nil
	}
	if header.FormatVersion > FormatVersion {
		return 0, fmt.Errorf("persistence: segment %q has unsupported format version %d", path, header.FormatVersion)
	}

	var highest uint64
	for {
		env, err := codec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Error("persistence: corrupt WAL tail, quarantining remainder", "path", path, "after_seq", highest, "error", err)
			quarantine(path, logger)
			break
		}
		if env.RequestID <= afterSeq {
			continue
		}
		var rec walRecord
		if err := wire.DecodeBody(env, &rec); err != nil {
			logger.Error("persistence: corrupt WAL record body, stopping replay of segment", "path", path, "seq", env.RequestID, "error", err)
			break
		}
		payload, err := decodePayload(rec.Kind, rec.Payload)
		if err != nil {
			logger.Error("persistence: corrupt WAL record payload, stopping replay of segment", "path", path, "seq", env.RequestID, "error", err)
			break
		}
		apply(env.RequestID, rec.Kind, payload)
		highest = env.RequestID
	}
	return highest, nil
}

// quarantine renames an unreadable segment aside so future recovery runs
// don't keep tripping over it.
func quarantine(path string, logger *slog.Logger) {
	dest := path + fmt.Sprintf(".corrupt-%d", time.Now().UnixNano())
	if err := os.Rename(path, dest); err != nil {
		logger.Error("persistence: failed to quarantine segment", "path", path, "error", err)
	}
}
