package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/user/agentmux/internal/hierarchy"
)

// Store is the daemon's full persistence layer: a WAL implementing
// hierarchy.Recorder plus a Checkpointer, wired together for recovery and
// periodic snapshotting.
type Store struct {
	WAL          *WAL
	Checkpointer *Checkpointer
	logger       *slog.Logger
}

// Config mirrors internal/config.PersistenceConfig's tunables, kept as a
// separate type so this package has no import dependency on internal/config.
type Config struct {
	RootDir                string
	CheckpointIntervalSecs int
	WALFlushAlways         bool
	WALFlushInterval       time.Duration
	WALMaxSegmentBytes     int64
}

// Open opens (or creates) the WAL and checkpoint directories under
// cfg.RootDir, ready for Recover.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("persistence: root dir is required")
	}

	wal, err := OpenWAL(Options{
		Dir:             filepath.Join(cfg.RootDir, "wal"),
		MaxSegmentBytes: cfg.WALMaxSegmentBytes,
		FlushAlways:     cfg.WALFlushAlways,
		FlushInterval:   cfg.WALFlushInterval,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	chk, err := NewCheckpointer(filepath.Join(cfg.RootDir, "checkpoints"), logger)
	if err != nil {
		wal.Close()
		return nil, err
	}

	return &Store{WAL: wal, Checkpointer: chk, logger: logger}, nil
}

// Record implements hierarchy.Recorder by delegating to the WAL.
func (s *Store) Record(kind hierarchy.RecordKind, payload any) error {
	return s.WAL.Record(kind, payload)
}

// Recover loads the most recent valid checkpoint into mgr, replays every
// WAL record after the checkpoint's covered sequence number, and leaves the
// WAL's sequence counter positioned to continue from there (spec §4.10). It
// must be called before mgr is exposed to dispatch/transport, since
// ApplyRecord mutates the hierarchy without taking the usual per-session
// locks.
func (s *Store) Recover(mgr *hierarchy.Manager) error {
	sessions, coveredSeq, err := s.Checkpointer.Load()
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		mgr.Restore(sessions)
	}

	walDir := filepath.Join(s.WAL.dir)
	highest, err := Replay(walDir, coveredSeq, s.logger, func(seq uint64, kind hierarchy.RecordKind, payload any) {
		mgr.ApplyRecord(kind, payload)
	})
	if err != nil {
		return fmt.Errorf("persistence: replay WAL: %w", err)
	}

	s.WAL.SetSeq(highest)
	return nil
}

// RunCheckpointLoop periodically snapshots mgr until ctx is canceled. It is
// meant to run in its own goroutine for the daemon's lifetime.
func (s *Store) RunCheckpointLoop(ctx context.Context, mgr *hierarchy.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CheckpointNow(mgr); err != nil {
				s.logger.Error("persistence: periodic checkpoint failed", "error", err)
			}
		}
	}
}

// CheckpointNow snapshots mgr's current state and prunes WAL segments and
// older checkpoints now fully covered by it.
func (s *Store) CheckpointNow(mgr *hierarchy.Manager) error {
	seq := s.WAL.Seq()
	sessions := mgr.Checkpoint()
	if err := s.Checkpointer.Write(sessions, seq); err != nil {
		return err
	}
	if err := s.WAL.PruneCoveredSegments(seq); err != nil {
		s.logger.Error("persistence: prune covered WAL segments failed", "error", err)
	}
	if err := s.Checkpointer.PruneOlderThan(seq); err != nil {
		s.logger.Error("persistence: prune older checkpoints failed", "error", err)
	}
	return nil
}

// Close flushes and closes the WAL.
func (s *Store) Close() error {
	return s.WAL.Close()
}
