package storage

import (
	"testing"
)

func TestCollectionInsertGetUpdateDelete(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	coll, err := CreateCollection(s, "widgets")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	s.CommitTxn()

	s.BeginTxn(2)
	rid, err := coll.Insert([]byte("first-record"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.CommitTxn()

	data, found, err := coll.Get(rid)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(data) != "first-record" {
		t.Fatalf("data = %q", data)
	}

	s.BeginTxn(3)
	newRID, err := coll.Update(rid, []byte("updated-record-with-more-bytes"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	s.CommitTxn()

	data, found, err = coll.Get(newRID)
	if err != nil || !found {
		t.Fatalf("Get after update: found=%v err=%v", found, err)
	}
	if string(data) != "updated-record-with-more-bytes" {
		t.Fatalf("data after update = %q", data)
	}

	s.BeginTxn(4)
	if err := coll.Delete(newRID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	s.CommitTxn()

	_, found, err = coll.Get(newRID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if found {
		t.Fatalf("expected record gone after delete")
	}
}

func TestCollectionEachVisitsEveryLiveRecord(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	coll, err := CreateCollection(s, "items")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	s.CommitTxn()

	want := map[string]bool{}
	s.BeginTxn(2)
	for i := 0; i < 20; i++ {
		rec := []byte{byte('a' + i)}
		if _, err := coll.Insert(rec); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		want[string(rec)] = true
	}
	s.CommitTxn()

	got := map[string]bool{}
	err = coll.Each(func(_ RecordID, data []byte) error {
		got[string(data)] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Each visited %d records, want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("Each missed record %q", k)
		}
	}
}

func TestCollectionStatsTracksDocCount(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	coll, err := CreateCollection(s, "counted")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	s.CommitTxn()

	s.BeginTxn(2)
	for i := 0; i < 5; i++ {
		if _, err := coll.Insert([]byte("x")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	s.CommitTxn()

	stats, err := coll.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DocCount != 5 {
		t.Fatalf("DocCount = %d, want 5", stats.DocCount)
	}
	if stats.PageCount < 1 {
		t.Fatalf("PageCount = %d, want >= 1", stats.PageCount)
	}
}
