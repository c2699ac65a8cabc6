// ABOUTME: Page manager: owns the data file, the LRU cache and the WAL
// ABOUTME: implements btree.Pager; mark_dirty captures a WAL before-image exactly once per txn

package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nainya/tdb/internal/cache"
	"github.com/nainya/tdb/internal/logger"
	"github.com/nainya/tdb/internal/metrics"
	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/tdberr"
	"github.com/nainya/tdb/internal/wal"
)

// Options configures a Store.
type Options struct {
	Path          string
	PageSize      int
	CacheSize     int
	WriteConcern  wal.WriteConcern
	Journaling    bool
	FlushDelay    time.Duration
	FlushInterval time.Duration
	KeepArchived  bool
	ReadOnly      bool
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

// headerPageID is the reserved page id of the file header (page 0). Alloc
// never hands it out as a data page id since TotalPages starts at 1.
const headerPageID uint32 = 0

// Store is the page manager: the single owner of the on-disk file, the
// page cache and the write-ahead log. It implements btree.Pager so B+tree
// indexes can mutate pages through it directly.
type Store struct {
	opts Options
	log  *logger.Logger
	met  *metrics.Metrics

	mu       sync.Mutex
	file     *os.File
	header   page.FileHeader
	cache    *cache.Cache
	wal      *wal.WAL
	checkpt  *wal.Checkpointer
	flusher  *flushScheduler
	freeHead uint32
	closed   bool

	// current transaction's before-image bookkeeping: pages already
	// captured this transaction are not re-captured on a later MarkDirty.
	txnID     uint64
	dirtyPrev map[uint32][]byte
	// headerPrev is the encoded header as of the first Alloc/Free in the
	// current transaction, nil if the header hasn't been touched yet.
	headerPrev []byte

	// pendingFlush holds the ids of pages (and headerPageID) whose
	// after-image has been durably WAL-fsynced by CommitTxn but not yet
	// written to the main file. flushDirtyLocked may only write a page
	// that is both cache-dirty and present here, so a background flush
	// can never overtake an in-flight, not-yet-committed transaction's
	// before-image write.
	pendingFlush map[uint32]struct{}
}

// Open opens an existing database file or bootstraps a new one.
func Open(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if !opts.Journaling {
		opts.WriteConcern = wal.WriteNone
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(opts.Path, flags, 0644)
	if err != nil {
		return nil, tdberr.Wrap(tdberr.IoError, "open data file", err)
	}

	s := &Store{
		opts:         opts,
		log:          opts.Logger.Scoped("storage"),
		met:          opts.Metrics,
		file:         f,
		dirtyPrev:    make(map[uint32][]byte),
		pendingFlush: make(map[uint32]struct{}),
	}
	s.cache = cache.New(opts.CacheSize, cache.WithMetrics(opts.Metrics))

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tdberr.Wrap(tdberr.IoError, "stat data file", err)
	}

	if info.Size() == 0 {
		if opts.ReadOnly {
			f.Close()
			return nil, tdberr.New(tdberr.ReadOnly, "cannot create database in read-only mode")
		}
		if err := s.bootstrap(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := s.loadHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if opts.Journaling && !opts.ReadOnly {
		w, err := wal.Open(wal.Options{
			Dir:          dirOf(opts.Path),
			BaseName:     baseOf(opts.Path),
			WriteConcern: opts.WriteConcern,
			FlushDelay:   opts.FlushDelay,
			KeepArchived: opts.KeepArchived,
			Metrics:      opts.Metrics,
			Logger:       opts.Logger,
		})
		if err != nil {
			f.Close()
			return nil, tdberr.Wrap(tdberr.IoError, "open wal", err)
		}
		s.wal = w

		result, err := wal.Recover(dirOf(opts.Path), baseOf(opts.Path), s)
		if err != nil {
			f.Close()
			return nil, tdberr.Wrap(tdberr.Corruption, "wal recovery", err)
		}
		if result.RedoneImages > 0 || result.UndoneImages > 0 {
			s.log.Info().Int("redone", result.RedoneImages).Int("undone", result.UndoneImages).Msg("recovery applied")
		}
		// Recovery may have redone or undone a header page-image (page 0)
		// straight against the file; the in-memory header loaded above can
		// be stale, so reload it from the now-reconciled on-disk bytes.
		if err := s.loadHeader(); err != nil {
			f.Close()
			return nil, err
		}

		interval := opts.FlushInterval
		if interval <= 0 {
			interval = wal.DefaultCheckpointInterval
		}
		s.checkpt = wal.NewCheckpointer(w, interval, s.Flush)
		s.checkpt.Start()
	} else if !opts.ReadOnly && opts.FlushInterval > 0 {
		// No WAL: the flush scheduler is the only path by which None-durability
		// writes reach disk outside an explicit Flush call.
		s.flusher = newFlushScheduler(opts.FlushInterval, s.Flush)
		s.flusher.Start()
	}

	return s, nil
}

func (s *Store) bootstrap() error {
	pageSize := s.opts.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	if !page.IsValidPageSize(pageSize) {
		return tdberr.Newf(tdberr.InvalidArgument, "invalid page_size %d", pageSize)
	}
	now := time.Now()
	s.header = page.FileHeader{
		Version:      1,
		PageSize:     uint32(pageSize),
		TotalPages:   1,
		UsedPages:    1,
		DBName:       baseOf(s.opts.Path),
		CreatedAt:    now,
		ModifiedAt:   now,
		FreeListHead: 0,
	}
	buf := make([]byte, pageSize)
	copy(buf, page.EncodeFileHeader(s.header))
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return tdberr.Wrap(tdberr.IoError, "bootstrap header", err)
	}
	return s.file.Sync()
}

func (s *Store) loadHeader() error {
	buf := make([]byte, page.FileHeaderSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return tdberr.Wrap(tdberr.Corruption, "read header", err)
	}
	h, err := page.DecodeFileHeader(buf)
	if err != nil {
		return tdberr.Wrap(tdberr.Corruption, "decode header", err)
	}
	s.header = h
	s.freeHead = h.FreeListHead
	return nil
}

// PageSize implements btree.Pager.
func (s *Store) PageSize() int { return int(s.header.PageSize) }

// WritePage implements wal.PageWriter for crash recovery, applied directly
// against the file (the cache is empty at this point).
func (s *Store) WritePage(id uint32, data []byte) error {
	off := int64(id) * int64(s.header.PageSize)
	_, err := s.file.WriteAt(data, off)
	return err
}

// Get implements btree.Pager: fetch a page, populating the cache on miss.
func (s *Store) Get(id uint32) (*page.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id uint32) (*page.Page, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}
	buf := make([]byte, s.header.PageSize)
	off := int64(id) * int64(s.header.PageSize)
	if _, err := s.file.ReadAt(buf, off); err != nil {
		return nil, tdberr.Wrap(tdberr.Corruption, fmt.Sprintf("read page %d", id), err)
	}
	p := page.Wrap(buf)
	s.cache.Put(id, p)
	return p, nil
}

// Alloc implements btree.Pager: take from the free list, or extend the file.
func (s *Store) Alloc(typ page.Type) (*page.Page, error) {
	if s.opts.ReadOnly {
		return nil, tdberr.New(tdberr.ReadOnly, "alloc on read-only store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markHeaderDirtyLocked()
	var id uint32
	if s.freeHead != 0 {
		freePage, err := s.getLocked(s.freeHead)
		if err != nil {
			return nil, err
		}
		id = s.freeHead
		s.freeHead = freePage.Header().Next
		s.header.FreeListHead = s.freeHead
	} else {
		id = s.header.TotalPages
		s.header.TotalPages++
	}
	s.header.UsedPages++

	p := page.New(int(s.header.PageSize), page.Header{Type: typ, PageID: id})
	s.cache.Put(id, p)
	if err := s.markDirtyLocked(id, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Free implements btree.Pager: push the page onto the free list.
func (s *Store) Free(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markHeaderDirtyLocked()
	p, err := s.getLocked(id)
	if err != nil {
		return err
	}
	if err := s.markDirtyLocked(id, p); err != nil {
		return err
	}
	p.SetHeader(page.Header{Type: page.TypeEmpty, PageID: id, Next: s.freeHead, Flags: page.FlagDirty})
	s.freeHead = id
	s.header.FreeListHead = id
	s.header.UsedPages--
	return nil
}

// MarkDirty implements btree.Pager: captures the before-image for the WAL
// the first time a page is touched within the current transaction.
func (s *Store) MarkDirty(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.getLocked(id)
	if err != nil {
		return err
	}
	return s.markDirtyLocked(id, p)
}

func (s *Store) markDirtyLocked(id uint32, p *page.Page) error {
	p.SetFlag(page.FlagDirty)
	if _, captured := s.dirtyPrev[id]; !captured {
		s.dirtyPrev[id] = p.Clone().Bytes()
	}
	return nil
}

// markHeaderDirtyLocked captures the header's encoded before-image the
// first time Alloc or Free touches it within the current transaction, so
// TotalPages/UsedPages/FreeListHead get the same before/after-image WAL
// treatment as any other page instead of only ever reaching disk via
// flushDirtyLocked.
func (s *Store) markHeaderDirtyLocked() {
	if s.headerPrev == nil {
		s.headerPrev = page.EncodeFileHeader(s.header)
	}
}

// BeginTxn resets the before-image bookkeeping for a new transaction.
func (s *Store) BeginTxn(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txnID = id
	s.dirtyPrev = make(map[uint32][]byte)
	s.headerPrev = nil
}

// CommitTxn appends one WAL page-image record per page dirtied this
// transaction (including the header, if Alloc/Free touched it), then a
// commit record, then fsyncs per WriteConcern. Only once that sync
// succeeds are the touched pages added to pendingFlush, the set
// flushDirtyLocked is allowed to write from — so a background flush or
// checkpoint can never observe a page ahead of its own WAL record.
func (s *Store) CommitTxn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		for id, before := range s.dirtyPrev {
			p, err := s.getLocked(id)
			if err != nil {
				return err
			}
			rec := wal.Record{Kind: wal.KindPageImage, LSN: s.wal.NextLSN(), TxnID: s.txnID, PageID: id, Before: before, After: append([]byte{}, p.Bytes()...)}
			if err := s.wal.Append(rec); err != nil {
				return tdberr.Wrap(tdberr.IoError, "append page image", err)
			}
		}
		if s.headerPrev != nil {
			rec := wal.Record{Kind: wal.KindPageImage, LSN: s.wal.NextLSN(), TxnID: s.txnID, PageID: headerPageID, Before: s.headerPrev, After: page.EncodeFileHeader(s.header)}
			if err := s.wal.Append(rec); err != nil {
				return tdberr.Wrap(tdberr.IoError, "append header image", err)
			}
		}
		commitRec := wal.Record{Kind: wal.KindCommit, LSN: s.wal.NextLSN(), TxnID: s.txnID}
		if err := s.wal.Append(commitRec); err != nil {
			return tdberr.Wrap(tdberr.IoError, "append commit", err)
		}
		if err := s.wal.Sync(); err != nil {
			return tdberr.Wrap(tdberr.IoError, "sync wal", err)
		}
		for id := range s.dirtyPrev {
			s.pendingFlush[id] = struct{}{}
		}
		if s.headerPrev != nil {
			s.pendingFlush[headerPageID] = struct{}{}
		}
	}

	if s.opts.WriteConcern == wal.WriteSynced {
		if err := s.flushDirtyLocked(); err != nil {
			return err
		}
	}

	s.dirtyPrev = make(map[uint32][]byte)
	s.headerPrev = nil
	return nil
}

// AbortTxn appends an abort record and restores both the dirtied pages and
// the header to their pre-transaction bytes. The restored pages are
// re-marked dirty: pendingFlush gating means a WAL-backed flush could never
// have written them early, but under a WriteNone/no-journaling store a
// background flush has no such gate and may already have written the
// half-applied bytes to disk, so a later flush must still get a chance to
// overwrite them with the restored, correct copy.
func (s *Store) AbortTxn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, before := range s.dirtyPrev {
		p, err := s.getLocked(id)
		if err != nil {
			continue
		}
		copy(p.Bytes(), before)
		p.SetFlag(page.FlagDirty)
	}
	if s.headerPrev != nil {
		if h, err := page.DecodeFileHeader(s.headerPrev); err == nil {
			s.header = h
			s.freeHead = h.FreeListHead
		}
	}
	if s.wal != nil {
		rec := wal.Record{Kind: wal.KindAbort, LSN: s.wal.NextLSN(), TxnID: s.txnID}
		if err := s.wal.Append(rec); err != nil {
			return tdberr.Wrap(tdberr.IoError, "append abort", err)
		}
	}
	s.dirtyPrev = make(map[uint32][]byte)
	s.headerPrev = nil
	return nil
}

// Flush writes dirty cached pages to the data file: every dirty page when
// no WAL is enabled, and with a WAL only the pages whose records are
// already synced (pendingFlush). Called by the flush scheduler and by Close.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushDirtyLocked()
}

// flushDirtyLocked writes dirty pages to the main file. When a WAL is
// attached, a page may only be written once its after-image has been
// durably fsynced by CommitTxn (tracked in pendingFlush) — satisfying the
// rule that a page's pre-image must reach the WAL before the page itself
// reaches the data file. Without a WAL there is no such ordering to
// respect, so every dirty page is eligible.
func (s *Store) flushDirtyLocked() error {
	walGated := s.wal != nil
	var ferr error
	s.cache.Each(func(id uint32, p *page.Page) {
		if ferr != nil || !p.HasFlag(page.FlagDirty) {
			return
		}
		if walGated {
			if _, synced := s.pendingFlush[id]; !synced {
				return
			}
		}
		off := int64(id) * int64(s.header.PageSize)
		if _, err := s.file.WriteAt(p.Bytes(), off); err != nil {
			ferr = tdberr.Wrap(tdberr.IoError, fmt.Sprintf("flush page %d", id), err)
			return
		}
		p.ClearFlag(page.FlagDirty)
		delete(s.pendingFlush, id)
	})
	if ferr != nil {
		return ferr
	}
	_, headerSynced := s.pendingFlush[headerPageID]
	if !walGated || headerSynced {
		s.header.ModifiedAt = time.Now()
		hdrBuf := page.EncodeFileHeader(s.header)
		if _, err := s.file.WriteAt(hdrBuf, 0); err != nil {
			return tdberr.Wrap(tdberr.IoError, "flush header", err)
		}
		delete(s.pendingFlush, headerPageID)
	}
	return s.file.Sync()
}

// Close flushes, stops the checkpointer, and closes the WAL and file.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.checkpt != nil {
		s.checkpt.Stop()
	}
	if s.flusher != nil {
		s.flusher.Stop()
	}
	if !s.opts.ReadOnly {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			return tdberr.Wrap(tdberr.IoError, "close wal", err)
		}
	}
	if err := s.file.Close(); err != nil {
		return tdberr.Wrap(tdberr.IoError, "close data file", err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
