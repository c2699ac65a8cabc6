// ABOUTME: Transaction manager: buffered ops, savepoints, canonical lock
// ABOUTME: ordering at commit, FK validation at commit time only

package txn

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nainya/tdb/internal/lock"
	"github.com/nainya/tdb/internal/logger"
	"github.com/nainya/tdb/internal/metrics"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/tdberr"
	"github.com/nainya/tdb/internal/value"
)

// OpKind names one buffered operation's effect.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one buffered operation: insert carries After only, delete carries
// Before only, update carries both.
type Op struct {
	Kind       OpKind
	Collection string
	Before     *value.Document
	After      *value.Document
}

// State is a transaction's lifecycle stage.
type State int

const (
	Active State = iota
	Committing
	Committed
	RollingBack
	RolledBack
)

func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case RollingBack:
		return "RollingBack"
	case RolledBack:
		return "RolledBack"
	default:
		return "Unknown"
	}
}

// ForeignKeyDecl is one foreign-key constraint declared on a collection.
type ForeignKeyDecl struct {
	Field            string
	TargetCollection string
}

// CollectionHandle is the surface the transaction manager needs from one
// open collection to apply buffered ops and validate foreign keys at
// commit time. The root package's Engine implements this over
// internal/storage and internal/index.
type CollectionHandle interface {
	Name() string
	NextID() value.Value
	Insert(doc *value.Document) error
	Update(old, newDoc *value.Document) error
	Delete(doc *value.Document) error
	Get(id value.Value) (*value.Document, bool, error)
	ForeignKeys() []ForeignKeyDecl
}

// Registry resolves a collection name to its handle.
type Registry interface {
	Handle(name string) (CollectionHandle, bool)
}

// Manager is the single owner of transaction lifecycle: it enforces the
// concurrent-transaction cap, brackets every commit with the page
// manager's BeginTxn/CommitTxn/AbortTxn, and acquires commit-time locks in
// a canonical (sorted collection name) order to forestall cyclic waits.
type Manager struct {
	registry  Registry
	store     *storage.Store
	locks     *lock.Manager
	maxActive int64

	active int64 // atomic
	nextID uint64 // atomic

	log *logger.Logger
	met *metrics.Metrics
}

// NewManager constructs a transaction manager. maxActive <= 0 means
// unbounded.
func NewManager(registry Registry, store *storage.Store, locks *lock.Manager, maxActive int, log *logger.Logger, met *metrics.Metrics) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		registry:  registry,
		store:     store,
		locks:     locks,
		maxActive: int64(maxActive),
		log:       log.Scoped("txn"),
		met:       met,
	}
}

// Begin starts a new transaction, failing with InvalidArgument if the
// configured concurrent-transaction cap is already reached.
func (m *Manager) Begin(ctx context.Context) (*Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, tdberr.Wrap(tdberr.Cancelled, "begin", err)
	}
	if m.maxActive > 0 {
		if atomic.AddInt64(&m.active, 1) > m.maxActive {
			atomic.AddInt64(&m.active, -1)
			return nil, tdberr.New(tdberr.InvalidArgument, "max concurrent transactions exceeded")
		}
	} else {
		atomic.AddInt64(&m.active, 1)
	}
	id := atomic.AddUint64(&m.nextID, 1)
	if m.met != nil {
		m.met.TxnActive.Inc()
	}
	m.log.Debug().Uint64("txn_id", id).Msg("begin")
	return &Txn{
		id:        id,
		state:     Active,
		startedAt: time.Now(),
		mgr:       m,
		buffered:  make(map[bufKey]*bufEntry),
	}, nil
}

type heldLock struct {
	key  lock.Key
	mode lock.Mode
}

type savepoint struct {
	name  string
	opLen int
}

type bufKey struct {
	collection string
	idKey      string
}

func bufKeyFor(collection string, id value.Value) bufKey {
	return bufKey{collection: collection, idKey: string(value.EncodeValue(id))}
}

type bufEntry struct {
	doc     *value.Document
	deleted bool
}

// Txn buffers operations against one or more collections and applies them
// atomically on Commit. A Txn is not safe for concurrent use by multiple
// goroutines.
type Txn struct {
	id        uint64
	state     State
	startedAt time.Time
	mgr       *Manager

	mu         sync.Mutex
	ops        []Op
	savepoints []savepoint
	buffered   map[bufKey]*bufEntry
	heldLocks  []heldLock
}

func (t *Txn) ID() uint64   { return t.id }
func (t *Txn) State() State { return t.state }

// Insert buffers an insert, assigning _id via the collection's id policy if
// the document doesn't already carry one, and makes the document visible
// to this transaction's subsequent reads (read-your-writes).
func (t *Txn) Insert(collection string, doc *value.Document) (value.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return value.Value{}, tdberr.Newf(tdberr.InvalidArgument, "transaction is %s, not Active", t.state)
	}
	h, ok := t.mgr.registry.Handle(collection)
	if !ok {
		return value.Value{}, tdberr.Newf(tdberr.NotFound, "collection %q not declared", collection)
	}
	doc = doc.Clone()
	id, hasID := doc.ID()
	if !hasID {
		id = h.NextID()
		doc.Set("_id", id)
	}
	key := bufKeyFor(collection, id)
	if e, exists := t.buffered[key]; exists && !e.deleted {
		return value.Value{}, tdberr.Newf(tdberr.UniqueConstraint, "duplicate _id %v within transaction", id)
	}
	t.ops = append(t.ops, Op{Kind: OpInsert, Collection: collection, After: doc})
	t.buffered[key] = &bufEntry{doc: doc}
	return id, nil
}

// Update buffers an update against the document currently visible at id
// (this transaction's own buffered write, if any, else the committed
// document), replacing it with newDoc.
func (t *Txn) Update(collection string, id value.Value, newDoc *value.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return tdberr.Newf(tdberr.InvalidArgument, "transaction is %s, not Active", t.state)
	}
	old, found, err := t.findByIDLocked(collection, id)
	if err != nil {
		return err
	}
	if !found {
		return tdberr.Newf(tdberr.NotFound, "document %v not found in %q", id, collection)
	}
	newDoc = newDoc.Clone()
	newDoc.Set("_id", id)
	t.ops = append(t.ops, Op{Kind: OpUpdate, Collection: collection, Before: old, After: newDoc})
	t.buffered[bufKeyFor(collection, id)] = &bufEntry{doc: newDoc}
	return nil
}

// Delete buffers a delete of the document currently visible at id.
func (t *Txn) Delete(collection string, id value.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return tdberr.Newf(tdberr.InvalidArgument, "transaction is %s, not Active", t.state)
	}
	old, found, err := t.findByIDLocked(collection, id)
	if err != nil {
		return err
	}
	if !found {
		return tdberr.Newf(tdberr.NotFound, "document %v not found in %q", id, collection)
	}
	t.ops = append(t.ops, Op{Kind: OpDelete, Collection: collection, Before: old})
	t.buffered[bufKeyFor(collection, id)] = &bufEntry{deleted: true}
	return nil
}

// FindByID reads the merge of committed state and this transaction's
// buffered ops (last-write-wins by document id within the buffer).
func (t *Txn) FindByID(collection string, id value.Value) (*value.Document, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findByIDLocked(collection, id)
}

func (t *Txn) findByIDLocked(collection string, id value.Value) (*value.Document, bool, error) {
	if e, ok := t.buffered[bufKeyFor(collection, id)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.doc.Clone(), true, nil
	}
	h, ok := t.mgr.registry.Handle(collection)
	if !ok {
		return nil, false, tdberr.Newf(tdberr.NotFound, "collection %q not declared", collection)
	}
	return h.Get(id)
}

// CreateSavepoint snapshots the current length of the op list and returns
// an id to later pass to RollbackTo or Release.
func (t *Txn) CreateSavepoint(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepoints = append(t.savepoints, savepoint{name: name, opLen: len(t.ops)})
	return len(t.savepoints) - 1
}

// RollbackTo truncates the op list back to id's snapshot point and
// rebuilds buffered visibility accordingly. Savepoints nest as a stack:
// rolling back to an outer savepoint also discards any inner savepoints
// created after it.
func (t *Txn) RollbackTo(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.savepoints) {
		return tdberr.Newf(tdberr.InvalidArgument, "no such savepoint %d", id)
	}
	t.ops = t.ops[:t.savepoints[id].opLen]
	t.savepoints = t.savepoints[:id+1]
	t.rebuildBuffered()
	return nil
}

// ReleaseSavepoint discards id and any savepoint nested inside it, without
// undoing buffered operations.
func (t *Txn) ReleaseSavepoint(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.savepoints) {
		return tdberr.Newf(tdberr.InvalidArgument, "no such savepoint %d", id)
	}
	t.savepoints = t.savepoints[:id]
	return nil
}

func (t *Txn) rebuildBuffered() {
	t.buffered = make(map[bufKey]*bufEntry)
	for _, op := range t.ops {
		switch op.Kind {
		case OpInsert, OpUpdate:
			id, _ := op.After.ID()
			t.buffered[bufKeyFor(op.Collection, id)] = &bufEntry{doc: op.After}
		case OpDelete:
			id, _ := op.Before.ID()
			t.buffered[bufKeyFor(op.Collection, id)] = &bufEntry{deleted: true}
		}
	}
}

// Commit acquires a canonical-order lock on every collection this
// transaction touched, applies buffered ops to physical storage in order,
// validates declared foreign keys, and fsyncs a WAL commit record. Any
// failure along the way is undone via the page manager's before-image
// rollback and the transaction ends RolledBack.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return tdberr.Newf(tdberr.InvalidArgument, "transaction is %s, not Active", t.state)
	}

	colls := distinctCollections(t.ops)
	sort.Strings(colls)
	for _, c := range colls {
		k := lock.Key{Granularity: lock.CollectionLevel, Collection: c}
		if err := t.mgr.locks.Acquire(ctx, k, lock.Exclusive); err != nil {
			t.releaseLocksLocked()
			return err
		}
		t.heldLocks = append(t.heldLocks, heldLock{key: k, mode: lock.Exclusive})
	}

	t.state = Committing
	start := time.Now()
	t.mgr.store.BeginTxn(t.id)

	var opErr error
	for _, op := range t.ops {
		if err := ctx.Err(); err != nil {
			opErr = err
			break
		}
		if opErr = t.applyOp(op); opErr != nil {
			break
		}
	}
	if opErr == nil {
		opErr = t.validateForeignKeys(colls)
	}
	if opErr != nil {
		_ = t.mgr.store.AbortTxn()
		t.releaseLocksLocked()
		t.state = RolledBack
		t.finish(false, start)
		return opErr
	}

	if err := t.mgr.store.CommitTxn(); err != nil {
		_ = t.mgr.store.AbortTxn()
		t.releaseLocksLocked()
		t.state = RolledBack
		t.finish(false, start)
		return err
	}

	t.releaseLocksLocked()
	t.state = Committed
	t.finish(true, start)
	t.mgr.log.Debug().Uint64("txn_id", t.id).Int("ops", len(t.ops)).Msg("commit")
	return nil
}

// Rollback discards every buffered operation without touching physical
// storage (nothing was applied to shared pages before Commit is called).
func (t *Txn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return tdberr.Newf(tdberr.InvalidArgument, "transaction is %s, not Active", t.state)
	}
	t.state = RollingBack
	t.ops = nil
	t.buffered = make(map[bufKey]*bufEntry)
	t.releaseLocksLocked()
	t.state = RolledBack
	t.finish(false, t.startedAt)
	t.mgr.log.Debug().Uint64("txn_id", t.id).Msg("rollback")
	return nil
}

func (t *Txn) finish(ok bool, start time.Time) {
	atomic.AddInt64(&t.mgr.active, -1)
	if t.mgr.met != nil {
		t.mgr.met.TxnActive.Dec()
		t.mgr.met.ObserveCommit(time.Since(start), ok)
	}
}

func (t *Txn) releaseLocksLocked() {
	for i := len(t.heldLocks) - 1; i >= 0; i-- {
		t.mgr.locks.Release(t.heldLocks[i].key, t.heldLocks[i].mode)
	}
	t.heldLocks = nil
}

func (t *Txn) applyOp(op Op) error {
	h, ok := t.mgr.registry.Handle(op.Collection)
	if !ok {
		return tdberr.Newf(tdberr.NotFound, "collection %q not declared", op.Collection)
	}
	switch op.Kind {
	case OpInsert:
		return h.Insert(op.After)
	case OpUpdate:
		return h.Update(op.Before, op.After)
	case OpDelete:
		return h.Delete(op.Before)
	default:
		return tdberr.Newf(tdberr.Unknown, "unhandled op kind %d", op.Kind)
	}
}

// validateForeignKeys checks, for every insert/update op touching a
// collection with declared foreign keys, that the referenced document
// exists. It runs after every op has been applied to physical storage, so
// a foreign key satisfied by another op earlier in the same transaction
// (e.g. inserting the parent before the child) is already visible here.
func (t *Txn) validateForeignKeys(colls []string) error {
	for _, c := range colls {
		h, ok := t.mgr.registry.Handle(c)
		if !ok {
			continue
		}
		fks := h.ForeignKeys()
		if len(fks) == 0 {
			continue
		}
		for _, op := range t.ops {
			if op.Collection != c || op.Kind == OpDelete {
				continue
			}
			for _, fk := range fks {
				v, present := op.After.Get(fk.Field)
				if !present {
					continue
				}
				target, ok := t.mgr.registry.Handle(fk.TargetCollection)
				if !ok {
					return tdberr.Newf(tdberr.ForeignKeyViolation, "fk target collection %q not declared", fk.TargetCollection)
				}
				if _, found, err := target.Get(v); err != nil {
					return err
				} else if !found {
					return tdberr.Newf(tdberr.ForeignKeyViolation, "%s.%s references missing %s document %v", c, fk.Field, fk.TargetCollection, v)
				}
			}
		}
	}
	return nil
}

func distinctCollections(ops []Op) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		if !seen[op.Collection] {
			seen[op.Collection] = true
			out = append(out, op.Collection)
		}
	}
	return out
}
