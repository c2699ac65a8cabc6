// ABOUTME: Index manager: maintains a collection's declared B+tree indexes
// ABOUTME: on_insert/on_update/on_delete keep each tree in sync with documents

package index

import (
	"bytes"

	"github.com/nainya/tdb/internal/btree"
	"github.com/nainya/tdb/internal/tdberr"
	"github.com/nainya/tdb/internal/value"
)

// PrimaryIndexName is the implicit unique index every collection carries on
// its _id field. Unlike a secondary index, its leaf value is the document's
// physical RecordID (encoded), not its _id — that pointer is the whole point
// of the index, there is nothing more authoritative to store. Secondary
// indexes instead store the document's _id (see Key/OnInsert), so they stay
// valid across a document relocating to a new slot; only the primary index's
// single entry needs to move when that happens.
const PrimaryIndexName = "_id"

// Descriptor declares one index: its field list (composite if len>1), and
// whether it is unique and/or sparse.
type Descriptor struct {
	Name   string
	Fields []string
	Unique bool
	Sparse bool
}

// Index wraps one B+tree together with its declaration.
type Index struct {
	Descriptor
	Tree *btree.Tree
}

// Manager owns every index declared on one collection, including the
// implicit unique index on _id.
type Manager struct {
	indexes map[string]*Index
}

// NewManager wraps already-open trees (loaded from the catalog's
// persisted root page ids) into a Manager.
func NewManager(indexes []*Index) *Manager {
	m := &Manager{indexes: make(map[string]*Index)}
	for _, idx := range indexes {
		m.indexes[idx.Name] = idx
	}
	return m
}

// Indexes returns every declared index, including "_id".
func (m *Manager) Indexes() []*Index {
	out := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		out = append(out, idx)
	}
	return out
}

func (m *Manager) Get(name string) (*Index, bool) {
	idx, ok := m.indexes[name]
	return idx, ok
}

func (m *Manager) Add(idx *Index) { m.indexes[idx.Name] = idx }

func (m *Manager) Drop(name string) { delete(m.indexes, name) }

// Key builds the index key for doc: the single field's value for a simple
// index, or an array of per-field values (positional) for a composite one.
// A missing field contributes Null unless the index is sparse, in which
// case ok is false and the caller must skip indexing this document.
func Key(fields []string, sparse bool, doc *value.Document) (value.Value, bool) {
	if len(fields) == 1 {
		v, present := doc.Get(fields[0])
		if !present {
			if sparse {
				return value.Value{}, false
			}
			return value.Null(), true
		}
		return v, true
	}
	vals := make([]value.Value, len(fields))
	anyPresent := false
	for i, f := range fields {
		v, present := doc.Get(f)
		if present {
			anyPresent = true
			vals[i] = v
		} else {
			vals[i] = value.Null()
		}
	}
	if sparse && !anyPresent {
		return value.Value{}, false
	}
	return value.Arr(vals), true
}

// ResolveID looks up id in the implicit primary index and returns the
// document's physical RecordID, still encoded (internal/storage decodes it;
// this package has no reason to import storage for a 6-byte struct).
func (m *Manager) ResolveID(id value.Value) ([]byte, bool, error) {
	idx, ok := m.indexes[PrimaryIndexName]
	if !ok {
		return nil, false, tdberr.New(tdberr.Corruption, "collection has no primary index")
	}
	return idx.Tree.FindExact(id)
}

// OnInsert builds every index's key for doc and inserts it. The primary
// index's leaf value is loc (doc's encoded RecordID); every other index
// stores doc's encoded _id. If a unique index would be violated, every
// index already updated in this call is undone in reverse order and
// UniqueConstraint is returned.
func (m *Manager) OnInsert(doc *value.Document, loc []byte) error {
	id, ok := doc.ID()
	if !ok {
		return tdberr.New(tdberr.InvalidArgument, "document has no _id")
	}
	idBytes := value.EncodeValue(id)

	applied := make([]*Index, 0, len(m.indexes))
	for _, idx := range m.indexes {
		key, present := Key(idx.Fields, idx.Sparse, doc)
		if !present {
			continue
		}
		val := idBytes
		if idx.Name == PrimaryIndexName {
			val = loc
		}
		if idx.Unique {
			if _, found, err := idx.Tree.FindExact(key); err != nil {
				return err
			} else if found {
				m.undo(applied, doc, loc)
				return tdberr.Newf(tdberr.UniqueConstraint, "duplicate key for index %q", idx.Name)
			}
		}
		if err := idx.Tree.Insert(key, val); err != nil {
			m.undo(applied, doc, loc)
			return err
		}
		applied = append(applied, idx)
	}
	return nil
}

func (m *Manager) undo(applied []*Index, doc *value.Document, loc []byte) {
	id, ok := doc.ID()
	if !ok {
		return
	}
	idBytes := value.EncodeValue(id)
	for i := len(applied) - 1; i >= 0; i-- {
		idx := applied[i]
		key, present := Key(idx.Fields, idx.Sparse, doc)
		if !present {
			continue
		}
		val := idBytes
		if idx.Name == PrimaryIndexName {
			val = loc
		}
		idx.Tree.Delete(key, val)
	}
}

// OnUpdate re-indexes every field whose key changed between old and new;
// indexes whose key is unchanged are left untouched, except the primary
// index, which is repointed whenever the document moved to a new physical
// slot (oldLoc != newLoc) even though its key (_id) never changes.
func (m *Manager) OnUpdate(oldDoc, newDoc *value.Document, oldLoc, newLoc []byte) error {
	id, ok := newDoc.ID()
	if !ok {
		return tdberr.New(tdberr.InvalidArgument, "document has no _id")
	}
	idBytes := value.EncodeValue(id)

	for _, idx := range m.indexes {
		if idx.Name == PrimaryIndexName {
			if bytes.Equal(oldLoc, newLoc) {
				continue
			}
			if _, err := idx.Tree.Delete(id, oldLoc); err != nil {
				return err
			}
			if err := idx.Tree.Insert(id, newLoc); err != nil {
				return err
			}
			continue
		}

		oldKey, oldPresent := Key(idx.Fields, idx.Sparse, oldDoc)
		newKey, newPresent := Key(idx.Fields, idx.Sparse, newDoc)
		if oldPresent && newPresent && value.Equal(oldKey, newKey) {
			continue
		}
		if newPresent && idx.Unique {
			if _, found, err := idx.Tree.FindExact(newKey); err != nil {
				return err
			} else if found {
				return tdberr.Newf(tdberr.UniqueConstraint, "duplicate key for index %q", idx.Name)
			}
		}
		if oldPresent {
			if _, err := idx.Tree.Delete(oldKey, idBytes); err != nil {
				return err
			}
		}
		if newPresent {
			if err := idx.Tree.Insert(newKey, idBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnDelete removes doc's entry from every index, including loc from the
// primary index.
func (m *Manager) OnDelete(doc *value.Document, loc []byte) error {
	id, ok := doc.ID()
	if !ok {
		return tdberr.New(tdberr.InvalidArgument, "document has no _id")
	}
	idBytes := value.EncodeValue(id)
	for _, idx := range m.indexes {
		key, present := Key(idx.Fields, idx.Sparse, doc)
		if !present {
			continue
		}
		val := idBytes
		if idx.Name == PrimaryIndexName {
			val = loc
		}
		if _, err := idx.Tree.Delete(key, val); err != nil {
			return err
		}
	}
	return nil
}
