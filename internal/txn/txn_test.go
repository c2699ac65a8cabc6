package txn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/tdb/internal/lock"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/value"
)

// fakeCollection is an in-memory CollectionHandle double: the transaction
// manager only needs Insert/Update/Delete/Get/NextID/ForeignKeys, none of
// which require real page storage to exercise commit/rollback semantics.
type fakeCollection struct {
	name    string
	docs    map[string]*value.Document
	nextSeq int64
	fks     []ForeignKeyDecl
	failOn  string // _id (as string) that Insert/Update/Delete should fail on
}

func newFakeCollection(name string) *fakeCollection {
	return &fakeCollection{name: name, docs: make(map[string]*value.Document)}
}

func (f *fakeCollection) Name() string { return f.name }

func (f *fakeCollection) NextID() value.Value {
	f.nextSeq++
	return value.Int64(f.nextSeq)
}

func (f *fakeCollection) keyOf(id value.Value) string { return string(value.EncodeValue(id)) }

func (f *fakeCollection) Insert(doc *value.Document) error {
	id, _ := doc.ID()
	if f.keyOf(id) == f.failOn {
		return errInjected
	}
	f.docs[f.keyOf(id)] = doc.Clone()
	return nil
}

func (f *fakeCollection) Update(old, newDoc *value.Document) error {
	id, _ := newDoc.ID()
	if f.keyOf(id) == f.failOn {
		return errInjected
	}
	f.docs[f.keyOf(id)] = newDoc.Clone()
	return nil
}

func (f *fakeCollection) Delete(doc *value.Document) error {
	id, _ := doc.ID()
	if f.keyOf(id) == f.failOn {
		return errInjected
	}
	delete(f.docs, f.keyOf(id))
	return nil
}

func (f *fakeCollection) Get(id value.Value) (*value.Document, bool, error) {
	d, ok := f.docs[f.keyOf(id)]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (f *fakeCollection) ForeignKeys() []ForeignKeyDecl { return f.fks }

type errInjectedType struct{}

func (errInjectedType) Error() string { return "injected failure" }

var errInjected error = errInjectedType{}

type fakeRegistry struct {
	colls map[string]CollectionHandle
}

func newFakeRegistry(colls ...*fakeCollection) *fakeRegistry {
	r := &fakeRegistry{colls: make(map[string]CollectionHandle)}
	for _, c := range colls {
		r.colls[c.name] = c
	}
	return r
}

func (r *fakeRegistry) Handle(name string) (CollectionHandle, bool) {
	c, ok := r.colls[name]
	return c, ok
}

func newTestManager(t *testing.T, reg *fakeRegistry, maxActive int) *Manager {
	t.Helper()
	s, err := storage.Open(storage.Options{
		Path:      filepath.Join(t.TempDir(), "txn.db"),
		PageSize:  4096,
		CacheSize: 16,
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	locks := lock.NewManager(time.Second, nil)
	return NewManager(reg, s, locks, maxActive, nil, nil)
}

func TestInsertThenCommitIsVisible(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc := value.NewDocument()
	doc.Set("name", value.String("gizmo"))
	id, err := txn.Insert("widgets", doc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, found, err := widgets.Get(id)
	if err != nil || !found {
		t.Fatalf("Get after commit: found=%v err=%v", found, err)
	}
	name, _ := got.Get("name")
	s, _ := name.AsString()
	if s != "gizmo" {
		t.Fatalf("name = %q, want gizmo", s)
	}
}

func TestRollbackDiscardsBufferedOps(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc := value.NewDocument()
	doc.Set("name", value.String("gizmo"))
	id, err := txn.Insert("widgets", doc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if _, found, _ := widgets.Get(id); found {
		t.Fatalf("expected insert to be discarded after rollback")
	}
}

func TestReadYourOwnWritesWithinTransaction(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc := value.NewDocument()
	doc.Set("name", value.String("gizmo"))
	id, err := txn.Insert("widgets", doc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, found, err := txn.FindByID("widgets", id)
	if err != nil || !found {
		t.Fatalf("FindByID: found=%v err=%v", found, err)
	}
	name, _ := got.Get("name")
	s, _ := name.AsString()
	if s != "gizmo" {
		t.Fatalf("name = %q, want gizmo", s)
	}

	// Not yet visible outside the transaction.
	if _, found, _ := widgets.Get(id); found {
		t.Fatalf("expected uncommitted insert to be invisible outside the transaction")
	}
}

func TestSavepointRollbackDiscardsOnlyLaterOps(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc1 := value.NewDocument()
	doc1.Set("name", value.String("first"))
	id1, err := txn.Insert("widgets", doc1)
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}

	sp := txn.CreateSavepoint("after-first")

	doc2 := value.NewDocument()
	doc2.Set("name", value.String("second"))
	id2, err := txn.Insert("widgets", doc2)
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}

	if err := txn.RollbackTo(sp); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	if _, found, _ := txn.FindByID("widgets", id1); !found {
		t.Fatalf("expected doc1 to survive RollbackTo")
	}
	if _, found, _ := txn.FindByID("widgets", id2); found {
		t.Fatalf("expected doc2 to be discarded by RollbackTo")
	}

	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, found, _ := widgets.Get(id1); !found {
		t.Fatalf("expected doc1 committed")
	}
	if _, found, _ := widgets.Get(id2); found {
		t.Fatalf("expected doc2 never committed")
	}
}

func TestCommitFailureRollsBackEntireTransaction(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc1 := value.NewDocument()
	doc1.Set("name", value.String("ok"))
	id1, err := txn.Insert("widgets", doc1)
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}

	doc2 := value.NewDocument()
	doc2.Set("_id", value.Int64(999))
	doc2.Set("name", value.String("boom"))
	widgets.failOn = widgets.keyOf(value.Int64(999))
	if _, err := txn.Insert("widgets", doc2); err != nil {
		t.Fatalf("buffering a to-be-failing insert should not itself fail: %v", err)
	}

	if err := txn.Commit(context.Background()); err == nil {
		t.Fatalf("expected Commit to fail")
	}
	if txn.State() != RolledBack {
		t.Fatalf("state = %v, want RolledBack", txn.State())
	}
	if _, found, _ := widgets.Get(id1); found {
		t.Fatalf("expected doc1 to be rolled back alongside the failing op")
	}
}

func TestForeignKeyViolationFailsCommit(t *testing.T) {
	orgs := newFakeCollection("orgs")
	users := newFakeCollection("users")
	users.fks = []ForeignKeyDecl{{Field: "org_id", TargetCollection: "orgs"}}
	mgr := newTestManager(t, newFakeRegistry(orgs, users), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	doc := value.NewDocument()
	doc.Set("org_id", value.Int64(404))
	if _, err := txn.Insert("users", doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := txn.Commit(context.Background()); err == nil {
		t.Fatalf("expected foreign key violation to fail commit")
	}
}

func TestForeignKeySatisfiedByEarlierOpInSameTransaction(t *testing.T) {
	orgs := newFakeCollection("orgs")
	users := newFakeCollection("users")
	users.fks = []ForeignKeyDecl{{Field: "org_id", TargetCollection: "orgs"}}
	mgr := newTestManager(t, newFakeRegistry(orgs, users), 0)

	txn, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	orgDoc := value.NewDocument()
	orgID, err := txn.Insert("orgs", orgDoc)
	if err != nil {
		t.Fatalf("Insert org: %v", err)
	}
	userDoc := value.NewDocument()
	userDoc.Set("org_id", orgID)
	if _, err := txn.Insert("users", userDoc); err != nil {
		t.Fatalf("Insert user: %v", err)
	}
	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestMaxActiveTransactionsEnforced(t *testing.T) {
	widgets := newFakeCollection("widgets")
	mgr := newTestManager(t, newFakeRegistry(widgets), 1)

	txn1, err := mgr.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin 1: %v", err)
	}
	if _, err := mgr.Begin(context.Background()); err == nil {
		t.Fatalf("expected second Begin to fail at the concurrency cap")
	}
	if err := txn1.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := mgr.Begin(context.Background()); err != nil {
		t.Fatalf("expected Begin to succeed after the first transaction finished: %v", err)
	}
}
