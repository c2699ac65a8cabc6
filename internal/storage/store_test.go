package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/wal"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}
	if opts.PageSize == 0 {
		opts.PageSize = 4096
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 16
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBootstrapsFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	s, err := Open(Options{Path: path, PageSize: 4096, CacheSize: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.PageSize() != 4096 {
		t.Fatalf("PageSize = %d, want 4096", s.PageSize())
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	// Reopening must preserve the page size recorded in the header.
	s2, err := Open(Options{Path: path, CacheSize: 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.PageSize() != 4096 {
		t.Fatalf("reopened PageSize = %d, want 4096", s2.PageSize())
	}
}

func TestAllocCommitPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alloc.db")
	s := openTestStore(t, Options{Path: path, Journaling: true, WriteConcern: wal.WriteSynced})

	s.BeginTxn(1)
	p, err := s.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	id := p.PageID()
	copy(p.Payload()[:5], []byte("hello"))
	if err := s.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := s.CommitTxn(); err != nil {
		t.Fatalf("CommitTxn: %v", err)
	}
	s.Close()

	s2, err := Open(Options{Path: path, CacheSize: 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload()[:5]) != "hello" {
		t.Fatalf("data = %q, want %q", got.Payload()[:5], "hello")
	}
}

func TestAbortTxnRestoresBeforeImage(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	p, err := s.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	id := p.PageID()
	copy(p.Payload()[:3], []byte("aaa"))
	s.MarkDirty(id)
	s.CommitTxn()

	s.BeginTxn(2)
	p2, _ := s.Get(id)
	copy(p2.Payload()[:3], []byte("bbb"))
	s.MarkDirty(id)
	if err := s.AbortTxn(); err != nil {
		t.Fatalf("AbortTxn: %v", err)
	}

	after, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(after.Payload()[:3]) != "aaa" {
		t.Fatalf("data after abort = %q, want %q", after.Payload()[:3], "aaa")
	}
}

func TestFreeAndReallocReusesPage(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	p, _ := s.Alloc(page.TypeData)
	id := p.PageID()
	s.MarkDirty(id)
	if err := s.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	s.CommitTxn()

	s.BeginTxn(2)
	p2, err := s.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.MarkDirty(p2.PageID())
	s.CommitTxn()
	if p2.PageID() != id {
		t.Fatalf("expected freed page %d to be reused, got %d", id, p2.PageID())
	}
}

// TestHeaderSurvivesCrashUnderWriteJournaled guards against a stale on-disk
// header after a commit that never reaches a checkpoint/flush tick: Alloc
// bumps TotalPages/FreeListHead in memory, and under WriteJournaled those
// bytes must be recoverable from the WAL alone, not just from a later
// flushDirtyLocked call.
func TestHeaderSurvivesCrashUnderWriteJournaled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.db")
	s, err := Open(Options{Path: path, PageSize: 4096, CacheSize: 16, Journaling: true, WriteConcern: wal.WriteJournaled})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.BeginTxn(1)
	p, err := s.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	id := p.PageID()
	copy(p.Payload()[:5], []byte("hello"))
	if err := s.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := s.CommitTxn(); err != nil {
		t.Fatalf("CommitTxn: %v", err)
	}

	// Simulate a crash: drop the file handles directly, bypassing Close
	// (which would flush the header and page and mask the bug this test
	// guards against).
	s.wal.Close()
	s.file.Close()

	s2, err := Open(Options{Path: path, PageSize: 4096, CacheSize: 16, Journaling: true, WriteConcern: wal.WriteJournaled})
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(id)
	if err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if string(got.Payload()[:5]) != "hello" {
		t.Fatalf("payload after recovery = %q, want %q", got.Payload()[:5], "hello")
	}

	s2.BeginTxn(2)
	p2, err := s2.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc after recovery: %v", err)
	}
	if p2.PageID() == id {
		t.Fatalf("recovered header handed out colliding page id %d", id)
	}
	s2.MarkDirty(p2.PageID())
	if err := s2.CommitTxn(); err != nil {
		t.Fatalf("CommitTxn after recovery: %v", err)
	}
}

// TestFlushSkipsPageNotYetWalSynced ensures a background-style Flush call
// mid-transaction cannot write a page to the main file ahead of its WAL
// record, and that the page becomes flush-eligible once CommitTxn succeeds.
func TestFlushSkipsPageNotYetWalSynced(t *testing.T) {
	s := openTestStore(t, Options{Journaling: true, WriteConcern: wal.WriteJournaled})

	s.BeginTxn(1)
	p, err := s.Alloc(page.TypeData)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	id := p.PageID()
	copy(p.Payload()[:5], []byte("dirty"))
	if err := s.MarkDirty(id); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}

	// A checkpoint/flush tick landing mid-transaction must not write this
	// page: its WAL record has not been appended yet. The page was never
	// on disk before this Alloc, so the file must still end at the
	// header page until the page is actually flush-eligible.
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	info, err := s.file.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() > 4096 {
		t.Fatalf("Flush wrote a page before its WAL record was synced (file size %d)", info.Size())
	}

	if err := s.CommitTxn(); err != nil {
		t.Fatalf("CommitTxn: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush after commit: %v", err)
	}
	onDisk := make([]byte, 5)
	if _, err := s.file.ReadAt(onDisk, int64(id)*4096); err != nil {
		t.Fatalf("ReadAt after commit: %v", err)
	}
	if string(onDisk) != "dirty" {
		t.Fatalf("expected committed page flushed after WAL sync, got %q", onDisk)
	}
}
