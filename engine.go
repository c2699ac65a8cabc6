// ABOUTME: Engine: opens a database file and owns the store/catalog/lock
// ABOUTME: manager/transaction manager wiring every collection shares

package tdb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nainya/tdb/internal/btree"
	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/lock"
	"github.com/nainya/tdb/internal/logger"
	"github.com/nainya/tdb/internal/metrics"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/tdberr"
	internaltxn "github.com/nainya/tdb/internal/txn"
)

// schemaTxnBase separates catalog/index bootstrap transactions (create
// collection, ensure index) from the user-visible transaction id space
// internal/txn.Manager hands out, so WAL records from the two sources never
// share an id.
const schemaTxnBase = 1 << 62

// Engine owns one open database file: the page store, catalog, lock
// manager, and transaction manager, plus every collection opened from the
// catalog on demand.
type Engine struct {
	cfg   config
	store *storage.Store
	cat   *storage.Catalog
	locks *lock.Manager
	txns  *internaltxn.Manager
	met   *metrics.Metrics
	log   *logger.Logger

	schemaTxnSeq uint64 // atomic

	mu          sync.RWMutex
	collections map[string]*Collection
}

// withSchemaTxn brackets a catalog/index structural change (outside any
// user transaction) with the same WAL before-image discipline a document
// transaction gets, so schema changes are crash-safe too.
func (e *Engine) withSchemaTxn(fn func() error) error {
	id := schemaTxnBase + atomic.AddUint64(&e.schemaTxnSeq, 1)
	e.store.BeginTxn(id)
	if err := fn(); err != nil {
		_ = e.store.AbortTxn()
		return err
	}
	if err := e.store.CommitTxn(); err != nil {
		_ = e.store.AbortTxn()
		return err
	}
	return nil
}

// Open opens path, bootstrapping a fresh database if it doesn't exist.
func Open(path string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if cfg.logger == nil {
		cfg.logger = logger.Nop()
	}

	met := metrics.New()
	store, err := storage.Open(storage.Options{
		Path:          path,
		PageSize:      cfg.pageSize,
		CacheSize:     cfg.cacheSize,
		WriteConcern:  cfg.writeConcern,
		Journaling:    cfg.enableJournaling,
		FlushDelay:    cfg.journalFlushDelay,
		FlushInterval: cfg.backgroundFlushInterval,
		KeepArchived:  cfg.keepArchivedWAL,
		ReadOnly:      cfg.readOnly,
		Metrics:       met,
		Logger:        cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	cat, err := storage.OpenCatalog(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		store:       store,
		cat:         cat,
		locks:       lock.NewManager(cfg.lockTimeout, met),
		met:         met,
		log:         cfg.logger,
		collections: make(map[string]*Collection),
	}
	e.txns = internaltxn.NewManager(e, store, e.locks, cfg.maxTransactions, cfg.logger, met)

	for _, entry := range cat.All() {
		coll, err := e.openCollection(entry)
		if err != nil {
			store.Close()
			return nil, err
		}
		e.collections[entry.Name] = coll
	}

	e.log.LogOpen(path, cfg.pageSize, cfg.cacheSize)
	return e, nil
}

// Metrics exposes the engine's Prometheus registry for scraping.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// Close flushes and releases the underlying file.
func (e *Engine) Close() error {
	e.log.LogClose()
	return e.store.Close()
}

// CollectionOptions declares a new collection's _id policy and foreign keys
// at creation time.
type CollectionOptions struct {
	IDPolicy    storage.IDPolicy
	ForeignKeys []storage.ForeignKey
}

// CreateCollection declares a new collection with an implicit unique index
// on _id, failing with InvalidArgument if name is already declared.
func (e *Engine) CreateCollection(name string, opts CollectionOptions) (*Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.readOnly {
		return nil, tdberr.New(tdberr.ReadOnly, "create_collection on read-only engine")
	}
	if _, exists := e.cat.Get(name); exists {
		return nil, tdberr.Newf(tdberr.InvalidArgument, "collection %q already declared", name)
	}
	if opts.IDPolicy == "" {
		opts.IDPolicy = storage.IDPolicyObjectID
	}

	var phys *storage.Collection
	var idTree *btree.Tree
	err := e.withSchemaTxn(func() error {
		var err error
		phys, err = storage.CreateCollection(e.store, name)
		if err != nil {
			return err
		}
		idTree, err = btree.Create(e.store)
		if err != nil {
			return err
		}
		entry := &storage.CatalogEntry{
			Name:         name,
			HeadPageID:   phys.HeadPageID,
			OriginPageID: phys.OriginPageID,
			IDPolicy:     opts.IDPolicy,
			ForeignKeys:  opts.ForeignKeys,
			Indexes: []storage.IndexDescriptor{
				{Name: index.PrimaryIndexName, Fields: []string{"_id"}, Unique: true, RootPageID: idTree.RootID},
			},
		}
		return e.cat.Put(entry)
	})
	if err != nil {
		return nil, err
	}

	coll := &Collection{
		engine: e,
		name:   name,
		phys:   phys,
		idxMgr: index.NewManager([]*index.Index{{
			Descriptor: index.Descriptor{Name: index.PrimaryIndexName, Fields: []string{"_id"}, Unique: true},
			Tree:       idTree,
		}}),
		idGen:       storage.NewIDGenerator(opts.IDPolicy, 0),
		foreignKeys: opts.ForeignKeys,
	}
	e.collections[name] = coll
	return coll, nil
}

// Collection returns an already-declared collection.
func (e *Engine) Collection(name string) (*Collection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[name]
	return c, ok
}

// Collections lists every declared collection's name.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.collections))
	for name := range e.collections {
		out = append(out, name)
	}
	return out
}

// Begin starts a new transaction against this engine.
func (e *Engine) Begin(ctx context.Context) (*Txn, error) {
	t, err := e.txns.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Txn{engine: e, inner: t}, nil
}

// Handle implements internaltxn.Registry.
func (e *Engine) Handle(name string) (internaltxn.CollectionHandle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.collections[name]
	if !ok {
		return nil, false
	}
	return c, true
}

func (e *Engine) openCollection(entry *storage.CatalogEntry) (*Collection, error) {
	phys := storage.OpenCollection(e.store, entry.Name, entry.HeadPageID, entry.OriginPageID, entry.DocCount)

	indexes := make([]*index.Index, 0, len(entry.Indexes))
	for _, d := range entry.Indexes {
		tree := btree.Open(e.store, d.RootPageID)
		indexes = append(indexes, &index.Index{
			Descriptor: index.Descriptor{Name: d.Name, Fields: d.Fields, Unique: d.Unique, Sparse: d.Sparse},
			Tree:       tree,
		})
	}

	return &Collection{
		engine:      e,
		name:        entry.Name,
		phys:        phys,
		idxMgr:      index.NewManager(indexes),
		idGen:       storage.NewIDGenerator(entry.IDPolicy, entry.IDCounter),
		foreignKeys: entry.ForeignKeys,
	}, nil
}
