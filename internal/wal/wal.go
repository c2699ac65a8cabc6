// ABOUTME: WAL file management: segment rotation, group commit, archival
// ABOUTME: mirrors the indexed-segment-file layout with snappy-compressed archives

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/snappy"

	"github.com/nainya/tdb/internal/logger"
	"github.com/nainya/tdb/internal/metrics"
)

// WriteConcern controls how aggressively Append forces data to disk.
type WriteConcern int

const (
	// WriteNone buffers in the OS page cache only; fastest, least durable.
	WriteNone WriteConcern = iota
	// WriteJournaled fsyncs the WAL file after every Append.
	WriteJournaled
	// WriteSynced fsyncs before a commit is considered durable, using
	// group commit to amortize the fsync cost across concurrent commits.
	WriteSynced
)

const defaultMaxSegmentSize = 64 << 20 // 64 MiB
const segmentFilePattern = "%s.wal.%06d"

// Options configures a WAL instance.
type Options struct {
	Dir             string
	BaseName        string
	WriteConcern    WriteConcern
	FlushDelay      time.Duration // group-commit coalescing window
	MaxSegmentBytes int64
	KeepArchived    bool // compress+retain checkpointed segments instead of deleting
	Metrics         *metrics.Metrics
	Logger          *logger.Logger
}

// WAL owns the on-disk segment files for one database.
type WAL struct {
	dir          string
	baseName     string
	concern      WriteConcern
	flushDelay   time.Duration
	maxSegment   int64
	keepArchived bool
	metrics      *metrics.Metrics
	log          *logger.Logger

	mu      sync.Mutex
	file    *os.File
	segSize int64
	segIdx  int
	lsn     uint64
	closed  bool

	flushMu      sync.Mutex
	flushing     bool
	flushWaiters []chan error
}

// Open opens or creates the WAL in opts.Dir, recovering the highest LSN
// seen across existing segments.
func Open(opts Options) (*WAL, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = defaultMaxSegmentSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir: %w", err)
	}

	w := &WAL{
		dir:          opts.Dir,
		baseName:     opts.BaseName,
		concern:      opts.WriteConcern,
		flushDelay:   opts.FlushDelay,
		maxSegment:   opts.MaxSegmentBytes,
		keepArchived: opts.KeepArchived,
		metrics:      opts.Metrics,
		log:          opts.Logger.Scoped("wal"),
	}

	segments, err := w.segmentFiles()
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		if err := w.openSegment(0); err != nil {
			return nil, err
		}
		return w, nil
	}

	lastIdx := segments[len(segments)-1]
	maxLSN, err := w.scanHighestLSN(segments)
	if err != nil {
		return nil, err
	}
	w.lsn = maxLSN

	path := w.segmentPath(lastIdx)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %d: %w", lastIdx, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	w.segIdx = lastIdx
	w.segSize = info.Size()
	return w, nil
}

// NextLSN allocates and returns the next log sequence number.
func (w *WAL) NextLSN() uint64 { return atomic.AddUint64(&w.lsn, 1) }

// Append writes rec to the current segment. For WriteSynced, call Sync
// after appending a commit record to force durability.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	buf := rec.Encode()
	if w.segSize+int64(len(buf)) > w.maxSegment {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(buf)
	if err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	w.segSize += int64(n)
	if w.metrics != nil {
		w.metrics.WalAppendsTotal.Inc()
	}

	if w.concern == WriteJournaled {
		return w.file.Sync()
	}
	return nil
}

// Sync forces durability of everything appended so far for a commit,
// coalescing concurrent callers into a single fsync (group commit). Under
// WriteJournaled it is a no-op because Append has already fsynced each
// record; under WriteNone it is a no-op and nothing is fsynced.
func (w *WAL) Sync() error {
	if w.concern != WriteSynced {
		return nil
	}
	return w.groupFsync()
}

// Fsync unconditionally forces durability, regardless of write concern.
// Checkpoints use this: the checkpoint's job is to bound how much WAL a
// crash needs to replay, which only holds if it is itself durable.
func (w *WAL) Fsync() error {
	return w.groupFsync()
}

func (w *WAL) groupFsync() error {
	w.flushMu.Lock()
	if w.flushing {
		ch := make(chan error, 1)
		w.flushWaiters = append(w.flushWaiters, ch)
		w.flushMu.Unlock()
		return <-ch
	}
	w.flushing = true
	w.flushMu.Unlock()

	if w.flushDelay > 0 {
		time.Sleep(w.flushDelay)
	}

	w.flushMu.Lock()
	waiters := w.flushWaiters
	w.flushWaiters = nil
	w.flushing = false
	w.flushMu.Unlock()

	start := time.Now()
	w.mu.Lock()
	err := w.file.Sync()
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.ObserveFsync(time.Since(start))
		w.metrics.WalGroupCommitSize.Observe(float64(len(waiters) + 1))
	}

	for _, ch := range waiters {
		ch <- err
	}
	return err
}

// Close fsyncs and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *WAL) rotateLocked() error {
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.segIdx++
	if err := w.openSegment(w.segIdx); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.WalRotationsTotal.Inc()
	}
	w.log.Debug().Int("segment", w.segIdx).Msg("wal segment rotated")
	return nil
}

func (w *WAL) openSegment(idx int) error {
	path := w.segmentPath(idx)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create segment %d: %w", idx, err)
	}
	w.file = f
	w.segIdx = idx
	w.segSize = 0
	return nil
}

func (w *WAL) segmentPath(idx int) string {
	return filepath.Join(w.dir, fmt.Sprintf(segmentFilePattern, w.baseName, idx))
}

// segmentFiles returns the indices of live (uncompressed) segment files,
// sorted ascending.
func (w *WAL) segmentFiles() ([]int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var indices []int
	prefix := w.baseName + ".wal."
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(name[len(prefix):], "%06d", &idx); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

func (w *WAL) scanHighestLSN(segments []int) (uint64, error) {
	var maxLSN uint64
	for _, idx := range segments {
		recs, err := ReadSegment(w.segmentPath(idx))
		if err != nil {
			return 0, err
		}
		for _, r := range recs {
			if r.LSN > maxLSN {
				maxLSN = r.LSN
			}
		}
	}
	return maxLSN, nil
}

// ArchiveSegment snappy-compresses a checkpointed segment instead of
// deleting it, when KeepArchived is set; otherwise it removes the file.
func (w *WAL) ArchiveSegment(idx int) error {
	path := w.segmentPath(idx)
	if !w.keepArchived {
		return os.Remove(path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, raw)
	archivePath := path + ".snappy"
	if err := os.WriteFile(archivePath, compressed, 0o644); err != nil {
		return err
	}
	return os.Remove(path)
}
