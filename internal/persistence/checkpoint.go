package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/wire"
)

var checkpointFilePattern = regexp.MustCompile(`^snapshot-(\d+)$`)

// Checkpointer writes and loads atomic hierarchy snapshots (spec §4.10).
type Checkpointer struct {
	dir    string
	logger *slog.Logger
}

// NewCheckpointer creates (if necessary) dir and returns a Checkpointer
// rooted there.
func NewCheckpointer(dir string, logger *slog.Logger) (*Checkpointer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create checkpoint dir: %w", err)
	}
	return &Checkpointer{dir: dir, logger: logger}, nil
}

// Write snapshots sessions to a new checkpoint file named after coveredSeq,
// via the temp-file-then-rename idiom so a reader never observes a partial
// file (spec §4.10: "written atomically (temp file -> rename)").
func (c *Checkpointer) Write(sessions []hierarchy.SessionCheckpoint, coveredSeq uint64) error {
	data := checkpointFile{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now(),
		CoveredSeq:    coveredSeq,
		Sessions:      sessions,
	}
	env, err := wire.EncodeBody(recordKind, coveredSeq, data)
	if err != nil {
		return fmt.Errorf("persistence: encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("persistence: create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	codec := wire.NewCodec(tmp, tmp, 0)
	if err := codec.Encode(env); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: close checkpoint temp file: %w", err)
	}

	finalPath := filepath.Join(c.dir, fmt.Sprintf("snapshot-%012d", coveredSeq))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the most recent valid checkpoint, falling back to
// progressively older ones on parse failure (spec §4.10: "If checkpoint
// parsing fails, attempt the previous checkpoint"). It returns (nil, 0, nil)
// when no checkpoint exists or every one present is corrupt, signaling
// callers to start from empty state.
func (c *Checkpointer) Load() ([]hierarchy.SessionCheckpoint, uint64, error) {
	seqs, err := c.listSeqsDescending()
	if err != nil {
		return nil, 0, err
	}

	for _, seq := range seqs {
		path := filepath.Join(c.dir, fmt.Sprintf("snapshot-%012d", seq))
		sessions, coveredSeq, err := loadCheckpointFile(path)
		if err == nil {
			return sessions, coveredSeq, nil
		}
		c.logger.Error("persistence: checkpoint failed to parse, trying an older one", "path", path, "error", err)
	}
	return nil, 0, nil
}

func loadCheckpointFile(path string) ([]hierarchy.SessionCheckpoint, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("persistence: open checkpoint %q: %w", path, err)
	}
	defer f.Close()

	codec := wire.NewCodec(f, f, 0)
	env, err := codec.Decode()
	if err != nil {
		return nil, 0, fmt.Errorf("persistence: decode checkpoint frame %q: %w", path, err)
	}
	var data checkpointFile
	if err := wire.DecodeBody(env, &data); err != nil {
		return nil, 0, fmt.Errorf("persistence: decode checkpoint body %q: %w", path, err)
	}
	if data.FormatVersion > FormatVersion {
		return nil, 0, fmt.Errorf("persistence: checkpoint %q has unsupported format version %d", path, data.FormatVersion)
	}
	return data.Sessions, data.CoveredSeq, nil
}

func (c *Checkpointer) listSeqsDescending() ([]uint64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list checkpoint dir: %w", err)
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := checkpointFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	return seqs, nil
}

// PruneOlderThan removes every checkpoint strictly older than keepSeq,
// retaining at least the most recent one even if it is itself older than
// keepSeq (a checkpoint must never be deleted out from under a concurrent
// Load).
func (c *Checkpointer) PruneOlderThan(keepSeq uint64) error {
	seqs, err := c.listSeqsDescending()
	if err != nil {
		return err
	}
	if len(seqs) <= 1 {
		return nil
	}
	for _, seq := range seqs[1:] {
		if seq >= keepSeq {
			continue
		}
		path := filepath.Join(c.dir, fmt.Sprintf("snapshot-%012d", seq))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Error("persistence: prune old checkpoint failed", "path", path, "error", err)
		}
	}
	return nil
}
