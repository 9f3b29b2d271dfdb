package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/wire"
)

var segmentFilePattern = regexp.MustCompile(`^segment-(\d+)\.log$`)

// WAL is an append-only, segment-rotated log of hierarchy mutations. It
// implements hierarchy.Recorder. Callers must call Close on shutdown to
// flush and release the active segment file.
type WAL struct {
	mu sync.Mutex

	dir             string
	maxSegmentBytes int64
	flushAlways     bool

	seq     uint64
	segNum  int
	file    *os.File
	codec   *wire.Codec
	written int64

	logger *slog.Logger

	done      chan struct{}
	flushOnce sync.Once
}

// Options configures a WAL.
type Options struct {
	Dir             string
	MaxSegmentBytes int64
	FlushAlways     bool
	FlushInterval   time.Duration // used only when FlushAlways is false
	Logger          *slog.Logger
}

// OpenWAL opens (creating if necessary) the WAL directory and its latest
// segment for append, positioned after whatever segments already exist.
// Callers that are recovering should call Replay before issuing new writes
// so seq continues monotonically; OpenWAL itself does not replay.
func OpenWAL(opts Options) (*WAL, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("persistence: WAL dir is required")
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = 64 << 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create WAL dir: %w", err)
	}

	w := &WAL{
		dir:             opts.Dir,
		maxSegmentBytes: opts.MaxSegmentBytes,
		flushAlways:     opts.FlushAlways,
		logger:          opts.Logger,
		done:            make(chan struct{}),
	}

	nums, err := listSegmentNumbers(opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		if err := w.openSegment(1); err != nil {
			return nil, err
		}
	} else {
		last := nums[len(nums)-1]
		if err := w.appendToSegment(last); err != nil {
			return nil, err
		}
	}

	if !opts.FlushAlways {
		interval := opts.FlushInterval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		go w.flushLoop(interval)
	}

	return w, nil
}

// SetSeq sets the WAL's last-used sequence number (the next Record writes
// seq+1), used after recovery replay determines the highest sequence
// number already durable.
func (w *WAL) SetSeq(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq = seq
}

func (w *WAL) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.file != nil {
				if err := w.file.Sync(); err != nil {
					w.logger.Error("wal: periodic flush failed", "error", err)
				}
			}
			w.mu.Unlock()
		}
	}
}

// Record implements hierarchy.Recorder.
func (w *WAL) Record(kind hierarchy.RecordKind, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}
	rec := walRecord{Timestamp: time.Now(), Kind: kind, Payload: payloadBytes}

	nextSeq := w.seq + 1
	env, err := wire.EncodeBody(recordKind, nextSeq, rec)
	if err != nil {
		return fmt.Errorf("persistence: encode WAL record: %w", err)
	}
	if err := w.codec.Encode(env); err != nil {
		return fmt.Errorf("persistence: write WAL record: %w", err)
	}
	w.seq = nextSeq
	w.written += estimatedFrameSize(env)

	if w.flushAlways {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("persistence: sync WAL segment: %w", err)
		}
	}

	if w.written >= w.maxSegmentBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// Seq returns the last sequence number written.
func (w *WAL) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close flushes and closes the active segment and stops the background
// flush loop, if any.
func (w *WAL) Close() error {
	w.flushOnce.Do(func() { close(w.done) })
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("persistence: sync WAL segment on close: %w", err)
	}
	return w.file.Close()
}

// PruneCoveredSegments removes every fully-written segment whose highest
// sequence number is at or below coveredSeq, called after a successful
// checkpoint (spec §4.10: "older WAL segments fully covered by a valid
// checkpoint may be pruned"). The active (currently open) segment is never
// pruned even if fully covered, since Record keeps appending to it.
func (w *WAL) PruneCoveredSegments(coveredSeq uint64) error {
	w.mu.Lock()
	activeSeg := w.segNum
	w.mu.Unlock()

	segments, err := segmentHighestSeqs(w.dir)
	if err != nil {
		return err
	}
	for _, s := range segments {
		if s.num == activeSeg {
			continue
		}
		if s.highestSeq != 0 && s.highestSeq <= coveredSeq {
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
				w.logger.Error("wal: prune covered segment failed", "path", s.path, "error", err)
			}
		}
	}
	return nil
}

func (w *WAL) rotate() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("persistence: sync segment before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("persistence: close segment before rotate: %w", err)
	}
	return w.openSegment(w.segNum + 1)
}

func (w *WAL) openSegment(num int) error {
	path := segmentPath(w.dir, num)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: create WAL segment %q: %w", path, err)
	}
	codec := wire.NewCodec(f, f, 0)
	header, err := wire.EncodeBody(recordKind, 0, segmentHeader{FormatVersion: FormatVersion, CreatedAt: time.Now()})
	if err != nil {
		f.Close()
		return err
	}
	if err := codec.Encode(header); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write segment header: %w", err)
	}
	w.file = f
	w.codec = codec
	w.segNum = num
	w.written = estimatedFrameSize(header)
	return nil
}

// appendToSegment reopens an existing segment for append, used when
// resuming a WAL that already has segments on disk (recovery has already
// read them for replay by this point).
func (w *WAL) appendToSegment(num int) error {
	path := segmentPath(w.dir, num)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: reopen WAL segment %q: %w", path, err)
	}
	w.file = f
	w.codec = wire.NewCodec(f, f, 0)
	w.segNum = num
	if info, err := f.Stat(); err == nil {
		w.written = info.Size()
	}
	return nil
}

func segmentPath(dir string, num int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.log", num))
}

func listSegmentNumbers(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list WAL dir: %w", err)
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// estimatedFrameSize approximates the on-disk size of an encoded frame for
// segment-rotation bookkeeping: exact to within gob's small per-value
// overhead, which is acceptable for a size threshold rather than an exact
// accounting.
func estimatedFrameSize(env wire.Envelope) int64 {
	return int64(4 + len(env.Body) + 16)
}

type segmentInfo struct {
	num        int
	path       string
	highestSeq uint64
}

func segmentHighestSeqs(dir string) ([]segmentInfo, error) {
	nums, err := listSegmentNumbers(dir)
	if err != nil {
		return nil, err
	}
	out := make([]segmentInfo, 0, len(nums))
	for _, n := range nums {
		path := segmentPath(dir, n)
		highest, err := highestSeqInSegment(path)
		if err != nil {
			return nil, err
		}
		out = append(out, segmentInfo{num: n, path: path, highestSeq: highest})
	}
	return out, nil
}

func highestSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("persistence: open segment %q: %w", path, err)
	}
	defer f.Close()
	codec := wire.NewCodec(f, f, 0)
	var highest uint64
	for {
		env, err := codec.Decode()
		if err != nil {
			break
		}
		if env.RequestID > highest {
			highest = env.RequestID
		}
	}
	return highest, nil
}
