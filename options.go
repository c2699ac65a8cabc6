// ABOUTME: Engine configuration: functional options over storage/lock/txn
// ABOUTME: defaults, validated together in Open per the configuration table

package tdb

import (
	"time"

	"github.com/nainya/tdb/internal/logger"
	"github.com/nainya/tdb/internal/tdberr"
	"github.com/nainya/tdb/internal/wal"
)

// WriteConcern controls how aggressively a commit forces data to disk.
type WriteConcern = wal.WriteConcern

const (
	WriteNone      = wal.WriteNone
	WriteJournaled = wal.WriteJournaled
	WriteSynced    = wal.WriteSynced
)

type config struct {
	pageSize                int
	cacheSize               int
	writeConcern            WriteConcern
	enableJournaling        bool
	backgroundFlushInterval time.Duration
	journalFlushDelay       time.Duration
	keepArchivedWAL         bool
	lockTimeout             time.Duration
	maxTransactions         int
	readOnly                bool
	logger                  *logger.Logger
}

func defaultConfig() config {
	return config{
		pageSize:                4096,
		cacheSize:               1000,
		writeConcern:            WriteSynced,
		enableJournaling:        true,
		backgroundFlushInterval: 30 * time.Second,
		journalFlushDelay:       5 * time.Millisecond,
		lockTimeout:             5 * time.Second,
		maxTransactions:         0,
	}
}

// Option configures an Engine at Open time.
type Option func(*config)

// WithPageSize fixes the page size for a newly created database; ignored
// when opening an existing file, which declares its own page size in the
// header. Must be one of 4096, 8192, 16384, 32768.
func WithPageSize(n int) Option { return func(c *config) { c.pageSize = n } }

// WithCacheSize bounds the number of pages held resident in the LRU cache.
func WithCacheSize(n int) Option { return func(c *config) { c.cacheSize = n } }

// WithWriteConcern selects None, Journaled, or Synced durability.
func WithWriteConcern(w WriteConcern) Option { return func(c *config) { c.writeConcern = w } }

// WithJournaling enables or disables the write-ahead log. Disabling it
// forces WriteConcern to None at Open.
func WithJournaling(enabled bool) Option { return func(c *config) { c.enableJournaling = enabled } }

// WithBackgroundFlushInterval sets the flush scheduler's period; zero
// disables background flushing (callers must call Flush explicitly).
func WithBackgroundFlushInterval(d time.Duration) Option {
	return func(c *config) { c.backgroundFlushInterval = d }
}

// WithJournalFlushDelay sets the group-commit window: commits arriving
// within this window of the first share one fsync.
func WithJournalFlushDelay(d time.Duration) Option {
	return func(c *config) { c.journalFlushDelay = d }
}

// WithKeepArchivedWAL snappy-compresses checkpointed WAL segments instead
// of deleting them outright.
func WithKeepArchivedWAL(keep bool) Option { return func(c *config) { c.keepArchivedWAL = keep } }

// WithLockTimeout sets the default lock-acquisition timeout.
func WithLockTimeout(d time.Duration) Option { return func(c *config) { c.lockTimeout = d } }

// WithMaxTransactions caps concurrently active transactions; 0 means
// unbounded.
func WithMaxTransactions(n int) Option { return func(c *config) { c.maxTransactions = n } }

// WithReadOnly opens the database such that every mutating operation fails
// with ReadOnly.
func WithReadOnly(ro bool) Option { return func(c *config) { c.readOnly = ro } }

// WithLogger supplies a pre-configured logger; Open scopes it per subsystem.
func WithLogger(l *logger.Logger) Option { return func(c *config) { c.logger = l } }

// resolve validates the page size and applies the enable_journaling=false
// ⇒ write_concern=None rule (§9 Open Question resolution): journaling off
// forces None rather than rejecting the combination.
func (c config) resolve() (config, error) {
	if !isValidPageSize(c.pageSize) {
		return c, tdberr.Newf(tdberr.InvalidArgument, "invalid page_size %d", c.pageSize)
	}
	if !c.enableJournaling {
		c.writeConcern = WriteNone
	}
	return c, nil
}

func isValidPageSize(n int) bool {
	switch n {
	case 4096, 8192, 16384, 32768:
		return true
	default:
		return false
	}
}
