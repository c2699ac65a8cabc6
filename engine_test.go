package tdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nainya/tdb/internal/query"
	"github.com/nainya/tdb/internal/value"
)

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.data")
	e, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateCollectionDeclaresPrimaryIndex(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("widgets", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	idxs := coll.Indexes()
	if len(idxs) != 1 || idxs[0].Name != "_id" || !idxs[0].Unique {
		t.Fatalf("Indexes = %+v, want a single unique _id index", idxs)
	}
}

func TestCreateCollectionRejectsDuplicateName(t *testing.T) {
	e := openTestEngine(t)
	if _, err := e.CreateCollection("widgets", CollectionOptions{}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := e.CreateCollection("widgets", CollectionOptions{}); err == nil {
		t.Fatalf("expected error declaring widgets twice")
	}
}

func TestEngineSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.data")
	e, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	coll, err := e.CreateCollection("widgets", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	doc := value.NewDocument()
	doc.Set("name", value.String("gizmo"))
	id, err := coll.InsertOne(context.Background(), doc)
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()
	coll2, ok := e2.Collection("widgets")
	if !ok {
		t.Fatalf("expected widgets to survive reopen")
	}
	got, found, err := coll2.FindByID(id)
	if err != nil || !found {
		t.Fatalf("FindByID after reopen: found=%v err=%v", found, err)
	}
	name, _ := got.Get("name")
	s, _ := name.AsString()
	if s != "gizmo" {
		t.Fatalf("name = %q, want gizmo", s)
	}
}

func TestJournalingDisabledForcesWriteConcernNone(t *testing.T) {
	e := openTestEngine(t, WithJournaling(false))
	if e.cfg.writeConcern != WriteNone {
		t.Fatalf("writeConcern = %v, want WriteNone when journaling disabled", e.cfg.writeConcern)
	}
}

func TestReadOnlyEngineRejectsCreateCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.data")
	e, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.CreateCollection("widgets", CollectionOptions{}); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	e.Close()

	ro, err := Open(path, WithReadOnly(true))
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()
	if _, err := ro.CreateCollection("gadgets", CollectionOptions{}); err == nil {
		t.Fatalf("expected CreateCollection to fail on a read-only engine")
	}
}

func TestInvalidPageSizeRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badsize.data")
	if _, err := Open(path, WithPageSize(123)); err == nil {
		t.Fatalf("expected Open to reject an invalid page size")
	}
}

func TestEnsureIndexBackfillsExistingDocuments(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("people", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		doc := value.NewDocument()
		doc.Set("name", value.String(name))
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}

	if err := coll.EnsureIndex("by_name", []string{"name"}, true, false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	cur := coll.Find(query.Cmp{Field: "name", Op: query.OpEq, Value: value.String("bob")})
	if cur.Plan().Kind != query.IndexSeek {
		t.Fatalf("Plan = %v, want IndexSeek after backfill", cur.Plan().Kind)
	}
	docs, err := cur.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
}

func TestEnsureIndexRejectsDuplicateOnUniqueBackfill(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("people", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		doc := value.NewDocument()
		doc.Set("name", value.String("dup"))
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}

	if err := coll.EnsureIndex("by_name", []string{"name"}, true, false); err == nil {
		t.Fatalf("expected EnsureIndex backfill to fail on a unique-constraint violation")
	}
}
