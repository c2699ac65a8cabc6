package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nainya/tdb/internal/btree"
	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/value"
)

type testFixture struct {
	store  *storage.Store
	coll   *storage.Collection
	idxMgr *index.Manager
}

// insertDoc runs doc through the same insert path Collection.Insert in the
// root package uses: insert the record, then index it.
func (f *testFixture) insertDoc(t *testing.T, doc *value.Document) {
	t.Helper()
	f.store.BeginTxn(nextTxnID())
	rid, err := f.coll.Insert(doc.Encode())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.idxMgr.OnInsert(doc, rid.Encode()); err != nil {
		t.Fatalf("OnInsert: %v", err)
	}
	f.store.CommitTxn()
}

var txnSeq uint64

func nextTxnID() uint64 {
	txnSeq++
	return txnSeq
}

func newFixture(t *testing.T, secondary ...index.Descriptor) *testFixture {
	t.Helper()
	s, err := storage.Open(storage.Options{
		Path:      filepath.Join(t.TempDir(), "cursor.db"),
		PageSize:  4096,
		CacheSize: 32,
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	s.BeginTxn(nextTxnID())
	coll, err := storage.CreateCollection(s, "people")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	primaryTree, err := btree.Create(s)
	if err != nil {
		t.Fatalf("btree.Create: %v", err)
	}
	indexes := []*index.Index{{
		Descriptor: index.Descriptor{Name: index.PrimaryIndexName, Fields: []string{"_id"}, Unique: true},
		Tree:       primaryTree,
	}}
	for _, d := range secondary {
		tree, err := btree.Create(s)
		if err != nil {
			t.Fatalf("btree.Create: %v", err)
		}
		indexes = append(indexes, &index.Index{Descriptor: d, Tree: tree})
	}
	s.CommitTxn()

	return &testFixture{store: s, coll: coll, idxMgr: index.NewManager(indexes)}
}

func personDoc(id int64, name string, age int32) *value.Document {
	d := value.NewDocument()
	d.Set("_id", value.Int64(id))
	d.Set("name", value.String(name))
	d.Set("age", value.Int32(age))
	return d
}

func TestCursorFullScanWithoutIndex(t *testing.T) {
	f := newFixture(t)
	f.insertDoc(t, personDoc(1, "alice", 30))
	f.insertDoc(t, personDoc(2, "bob", 25))

	cur := NewCursor(f.coll, f.idxMgr, Cmp{Field: "name", Op: OpEq, Value: value.String("bob")})
	if cur.Plan().Kind != FullScan {
		t.Fatalf("Plan = %v, want FullScan", cur.Plan().Kind)
	}
	docs, err := cur.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	name, _ := docs[0].Get("name")
	s, _ := name.AsString()
	if s != "bob" {
		t.Fatalf("name = %q, want bob", s)
	}
}

func TestCursorIndexSeekOnUniqueSecondary(t *testing.T) {
	f := newFixture(t, index.Descriptor{Name: "by_name", Fields: []string{"name"}, Unique: true})
	f.insertDoc(t, personDoc(1, "alice", 30))
	f.insertDoc(t, personDoc(2, "bob", 25))

	cur := NewCursor(f.coll, f.idxMgr, Cmp{Field: "name", Op: OpEq, Value: value.String("alice")})
	plan := cur.Plan()
	if plan.Kind != IndexSeek || plan.IndexName != "by_name" {
		t.Fatalf("plan = %+v, want IndexSeek on by_name", plan)
	}
	docs, err := cur.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	id, _ := docs[0].ID()
	n, _ := id.AsInt64()
	if n != 1 {
		t.Fatalf("resolved id = %d, want 1", n)
	}
}

func TestCursorIndexRangeOnSecondary(t *testing.T) {
	f := newFixture(t, index.Descriptor{Name: "by_age", Fields: []string{"age"}})
	f.insertDoc(t, personDoc(1, "alice", 30))
	f.insertDoc(t, personDoc(2, "bob", 25))
	f.insertDoc(t, personDoc(3, "carol", 40))

	cur := NewCursor(f.coll, f.idxMgr, Range{Field: "age", Lo: value.Int32(26), HasLo: true, LoInclusive: true})
	plan := cur.Plan()
	if plan.Kind != IndexRange || plan.IndexName != "by_age" {
		t.Fatalf("plan = %+v, want IndexRange on by_age", plan)
	}
	docs, err := cur.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2 (alice, carol)", len(docs))
	}
}

func TestCursorOrderBySkipTake(t *testing.T) {
	f := newFixture(t)
	f.insertDoc(t, personDoc(1, "alice", 30))
	f.insertDoc(t, personDoc(2, "bob", 25))
	f.insertDoc(t, personDoc(3, "carol", 40))

	cur := NewCursor(f.coll, f.idxMgr, nil).OrderBy("age", Asc).Skip(1).Take(1)
	docs, err := cur.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	name, _ := docs[0].Get("name")
	s, _ := name.AsString()
	if s != "alice" {
		t.Fatalf("name = %q, want alice (second-youngest)", s)
	}
}

func TestCursorNilPredicateMatchesEverything(t *testing.T) {
	f := newFixture(t)
	f.insertDoc(t, personDoc(1, "alice", 30))
	f.insertDoc(t, personDoc(2, "bob", 25))

	docs, err := NewCursor(f.coll, f.idxMgr, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}
}

func TestCursorPlanIsMemoized(t *testing.T) {
	f := newFixture(t, index.Descriptor{Name: "by_name", Fields: []string{"name"}})
	cur := NewCursor(f.coll, f.idxMgr, Cmp{Field: "name", Op: OpEq, Value: value.String("alice")})
	p1 := cur.Plan()
	p2 := cur.Plan()
	if p1.Kind != p2.Kind || p1.IndexName != p2.IndexName {
		t.Fatalf("Plan() not stable across calls: %+v vs %+v", p1, p2)
	}
}
