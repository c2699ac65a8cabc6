package storage

import "testing"

func TestCatalogPutGetAllRoundTrip(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	cat, err := OpenCatalog(s)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	entry := &CatalogEntry{
		Name:      "users",
		IDPolicy:  IDPolicyObjectID,
		IDCounter: 0,
		Indexes: []IndexDescriptor{
			{Name: "_id_", Fields: []string{"_id"}, Unique: true, RootPageID: 7},
		},
		ForeignKeys: []ForeignKey{{Field: "org_id", TargetCollection: "orgs"}},
	}
	if err := cat.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.CommitTxn()

	got, ok := cat.Get("users")
	if !ok {
		t.Fatalf("Get: not found")
	}
	if got.Name != "users" || got.IDPolicy != IDPolicyObjectID {
		t.Fatalf("got = %+v", got)
	}
	if len(got.Indexes) != 1 || got.Indexes[0].RootPageID != 7 {
		t.Fatalf("Indexes = %+v", got.Indexes)
	}
	if len(got.ForeignKeys) != 1 || got.ForeignKeys[0].TargetCollection != "orgs" {
		t.Fatalf("ForeignKeys = %+v", got.ForeignKeys)
	}

	all := cat.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(all))
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/catalog.db"
	s, err := Open(Options{Path: path, PageSize: 4096, CacheSize: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.BeginTxn(1)
	cat, err := OpenCatalog(s)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	if err := cat.Put(&CatalogEntry{Name: "accounts", IDPolicy: IDPolicyInt64}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.CommitTxn()
	s.Close()

	s2, err := Open(Options{Path: path, CacheSize: 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	cat2, err := OpenCatalog(s2)
	if err != nil {
		t.Fatalf("OpenCatalog after reopen: %v", err)
	}
	entry, ok := cat2.Get("accounts")
	if !ok {
		t.Fatalf("expected accounts to survive reopen")
	}
	if entry.IDPolicy != IDPolicyInt64 {
		t.Fatalf("IDPolicy = %v, want int64-identity", entry.IDPolicy)
	}
}

func TestCatalogDrop(t *testing.T) {
	s := openTestStore(t, Options{})

	s.BeginTxn(1)
	cat, err := OpenCatalog(s)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	if err := cat.Put(&CatalogEntry{Name: "temp"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.CommitTxn()

	s.BeginTxn(2)
	if err := cat.Drop("temp"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	s.CommitTxn()

	if _, ok := cat.Get("temp"); ok {
		t.Fatalf("expected temp to be gone after Drop")
	}
}
