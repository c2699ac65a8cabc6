package tdb

import (
	"context"
	"testing"

	"github.com/nainya/tdb/internal/value"
)

func TestInsertOneUpdateOneDeleteOne(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("widgets", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	ctx := context.Background()

	doc := value.NewDocument()
	doc.Set("name", value.String("gizmo"))
	id, err := coll.InsertOne(ctx, doc)
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	got, found, err := coll.FindByID(id)
	if err != nil || !found {
		t.Fatalf("FindByID: found=%v err=%v", found, err)
	}
	name, _ := got.Get("name")
	s, _ := name.AsString()
	if s != "gizmo" {
		t.Fatalf("name = %q, want gizmo", s)
	}

	updated := value.NewDocument()
	updated.Set("name", value.String("widget"))
	if err := coll.UpdateOne(ctx, id, updated); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	got, found, err = coll.FindByID(id)
	if err != nil || !found {
		t.Fatalf("FindByID after update: found=%v err=%v", found, err)
	}
	name, _ = got.Get("name")
	s, _ = name.AsString()
	if s != "widget" {
		t.Fatalf("name after update = %q, want widget", s)
	}

	if err := coll.DeleteOne(ctx, id); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if _, found, err := coll.FindByID(id); err != nil || found {
		t.Fatalf("expected document gone after DeleteOne: found=%v err=%v", found, err)
	}
}

func TestCollectionIDPolicyInt64AssignsSequentialIDs(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("counters", CollectionOptions{IDPolicy: "int64-identity"})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		doc := value.NewDocument()
		doc.Set("v", value.Int32(int32(i)))
		id, err := coll.InsertOne(ctx, doc)
		if err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
		n, ok := id.AsInt64()
		if !ok {
			t.Fatalf("expected an int64-identity _id, got %v", id)
		}
		ids = append(ids, n)
	}
	if ids[0] == ids[1] || ids[1] == ids[2] {
		t.Fatalf("expected sequential distinct ids, got %v", ids)
	}
}

func TestStatsReflectsInsertedDocuments(t *testing.T) {
	e := openTestEngine(t)
	coll, err := e.CreateCollection("widgets", CollectionOptions{})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		doc := value.NewDocument()
		doc.Set("v", value.Int32(int32(i)))
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}
	stats, err := coll.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocCount != 4 {
		t.Fatalf("DocCount = %d, want 4", stats.DocCount)
	}
}
