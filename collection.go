// ABOUTME: Collection: the CollectionHandle the transaction manager applies
// ABOUTME: buffered ops against, plus single-op convenience wrappers

package tdb

import (
	"context"

	"github.com/nainya/tdb/internal/btree"
	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/query"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/tdberr"
	internaltxn "github.com/nainya/tdb/internal/txn"
	"github.com/nainya/tdb/internal/value"
)

// Collection is one named, declared collection: a physical data-page chain,
// its index manager, and its _id generator.
type Collection struct {
	engine *Engine
	name   string

	phys        *storage.Collection
	idxMgr      *index.Manager
	idGen       *storage.IDGenerator
	foreignKeys []storage.ForeignKey
}

// Name implements internaltxn.CollectionHandle.
func (c *Collection) Name() string { return c.name }

// NextID implements internaltxn.CollectionHandle.
func (c *Collection) NextID() value.Value {
	v, _ := c.idGen.Next()
	return v
}

// ForeignKeys implements internaltxn.CollectionHandle.
func (c *Collection) ForeignKeys() []internaltxn.ForeignKeyDecl {
	out := make([]internaltxn.ForeignKeyDecl, len(c.foreignKeys))
	for i, fk := range c.foreignKeys {
		out[i] = internaltxn.ForeignKeyDecl{Field: fk.Field, TargetCollection: fk.TargetCollection}
	}
	return out
}

// Get resolves id through the primary index to a physical record and
// decodes it.
func (c *Collection) Get(id value.Value) (*value.Document, bool, error) {
	loc, found, err := c.idxMgr.ResolveID(id)
	if err != nil || !found {
		return nil, false, err
	}
	rid, err := storage.DecodeRecordID(loc)
	if err != nil {
		return nil, false, err
	}
	data, found, err := c.phys.Get(rid)
	if err != nil || !found {
		return nil, false, err
	}
	doc, _, err := value.DecodeDocument(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Insert implements internaltxn.CollectionHandle: doc already carries its
// final _id, assigned by the transaction manager before buffering.
func (c *Collection) Insert(doc *value.Document) error {
	rid, err := c.phys.Insert(doc.Encode())
	if err != nil {
		return err
	}
	if err := c.idxMgr.OnInsert(doc, rid.Encode()); err != nil {
		return err
	}
	return c.persistCatalog()
}

// Update implements internaltxn.CollectionHandle.
func (c *Collection) Update(old, newDoc *value.Document) error {
	id, _ := old.ID()
	oldLoc, found, err := c.idxMgr.ResolveID(id)
	if err != nil {
		return err
	}
	if !found {
		return tdberr.Newf(tdberr.NotFound, "document %v not found in %q", id, c.name)
	}
	oldRID, err := storage.DecodeRecordID(oldLoc)
	if err != nil {
		return err
	}
	newRID, err := c.phys.Update(oldRID, newDoc.Encode())
	if err != nil {
		return err
	}
	if err := c.idxMgr.OnUpdate(old, newDoc, oldLoc, newRID.Encode()); err != nil {
		return err
	}
	return c.persistCatalog()
}

// Delete implements internaltxn.CollectionHandle.
func (c *Collection) Delete(doc *value.Document) error {
	id, _ := doc.ID()
	loc, found, err := c.idxMgr.ResolveID(id)
	if err != nil {
		return err
	}
	if !found {
		return tdberr.Newf(tdberr.NotFound, "document %v not found in %q", id, c.name)
	}
	rid, err := storage.DecodeRecordID(loc)
	if err != nil {
		return err
	}
	if err := c.phys.Delete(rid); err != nil {
		return err
	}
	if err := c.idxMgr.OnDelete(doc, loc); err != nil {
		return err
	}
	return c.persistCatalog()
}

// persistCatalog writes the collection's current physical and index layout
// back to its catalog record: head page, doc count, _id counter, and every
// index's (possibly just-split or -collapsed) root page id.
func (c *Collection) persistCatalog() error {
	entry, ok := c.engine.cat.Get(c.name)
	if !ok {
		return tdberr.Newf(tdberr.Corruption, "collection %q missing its own catalog record", c.name)
	}
	entry.HeadPageID = c.phys.HeadPageID
	entry.OriginPageID = c.phys.OriginPageID
	entry.DocCount = c.phys.DocCount
	entry.IDCounter = c.idGen.Counter()

	for i, d := range entry.Indexes {
		idx, ok := c.idxMgr.Get(d.Name)
		if !ok {
			continue
		}
		entry.Indexes[i].RootPageID = idx.Tree.RootID
	}
	return c.engine.cat.Put(entry)
}

// EnsureIndex declares a secondary index and backfills it from every
// existing document. If an index with that name already exists it returns
// nil without comparing the definitions.
func (c *Collection) EnsureIndex(name string, fields []string, unique, sparse bool) error {
	if _, exists := c.idxMgr.Get(name); exists {
		return nil
	}
	return c.engine.withSchemaTxn(func() error {
		tree, err := btree.Create(c.engine.store)
		if err != nil {
			return err
		}
		idx := &index.Index{
			Descriptor: index.Descriptor{Name: name, Fields: fields, Unique: unique, Sparse: sparse},
			Tree:       tree,
		}

		var backfillErr error
		err = c.phys.Each(func(_ storage.RecordID, data []byte) error {
			doc, _, derr := value.DecodeDocument(data)
			if derr != nil {
				return derr
			}
			id, _ := doc.ID()
			key, present := index.Key(fields, sparse, doc)
			if !present {
				return nil
			}
			if unique {
				if _, found, ferr := tree.FindExact(key); ferr != nil {
					return ferr
				} else if found {
					backfillErr = tdberr.Newf(tdberr.UniqueConstraint, "duplicate key for index %q", name)
					return backfillErr
				}
			}
			return tree.Insert(key, value.EncodeValue(id))
		})
		if err != nil {
			return err
		}
		if backfillErr != nil {
			return backfillErr
		}

		c.idxMgr.Add(idx)
		entry, ok := c.engine.cat.Get(c.name)
		if !ok {
			return tdberr.Newf(tdberr.Corruption, "collection %q missing its own catalog record", c.name)
		}
		entry.Indexes = append(entry.Indexes, storage.IndexDescriptor{
			Name: name, Fields: fields, Unique: unique, Sparse: sparse, RootPageID: tree.RootID,
		})
		return c.engine.cat.Put(entry)
	})
}

// Indexes lists every declared index, including the implicit primary one.
func (c *Collection) Indexes() []index.Descriptor {
	idxs := c.idxMgr.Indexes()
	out := make([]index.Descriptor, len(idxs))
	for i, idx := range idxs {
		out[i] = idx.Descriptor
	}
	return out
}

// Stats reports document and page counts.
func (c *Collection) Stats() (storage.Stats, error) { return c.phys.Stats() }

// --- single-operation convenience wrappers, each its own transaction ---

// InsertOne assigns an _id if doc doesn't carry one and commits a
// single-operation transaction.
func (c *Collection) InsertOne(ctx context.Context, doc *value.Document) (value.Value, error) {
	txn, err := c.engine.Begin(ctx)
	if err != nil {
		return value.Value{}, err
	}
	id, err := txn.Insert(c.name, doc)
	if err != nil {
		txn.Rollback()
		return value.Value{}, err
	}
	if err := txn.Commit(ctx); err != nil {
		return value.Value{}, err
	}
	return id, nil
}

// FindByID reads committed state directly, outside any transaction.
func (c *Collection) FindByID(id value.Value) (*value.Document, bool, error) {
	return c.Get(id)
}

// UpdateOne commits a single-operation update transaction.
func (c *Collection) UpdateOne(ctx context.Context, id value.Value, newDoc *value.Document) error {
	txn, err := c.engine.Begin(ctx)
	if err != nil {
		return err
	}
	if err := txn.Update(c.name, id, newDoc); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit(ctx)
}

// DeleteOne commits a single-operation delete transaction.
func (c *Collection) DeleteOne(ctx context.Context, id value.Value) error {
	txn, err := c.engine.Begin(ctx)
	if err != nil {
		return err
	}
	if err := txn.Delete(c.name, id); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit(ctx)
}

// Find starts a query cursor over this collection's committed state.
func (c *Collection) Find(pred query.Predicate) *query.Cursor {
	return query.NewCursor(c.phys, c.idxMgr, pred)
}
