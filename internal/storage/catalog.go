// ABOUTME: Catalog: a bootstrapped collection (page id 1) holding one
// ABOUTME: document per user collection — its data-page chain, indexes, FKs

package storage

import (
	"github.com/nainya/tdb/internal/tdberr"
	"github.com/nainya/tdb/internal/value"
)

// catalogPageID is fixed: the catalog is the first collection created in a
// fresh database, always occupying page 1 (page 0 is the file header).
const catalogPageID = 1

// IndexDescriptor is one declared index, persisted in the owning
// collection's catalog record.
type IndexDescriptor struct {
	Name       string
	Fields     []string
	Unique     bool
	Sparse     bool
	RootPageID uint32
}

// ForeignKey declares that Field must, at commit time, equal the _id of a
// live document in TargetCollection.
type ForeignKey struct {
	Field            string
	TargetCollection string
}

// CatalogEntry is one user collection's persisted metadata.
type CatalogEntry struct {
	Name         string
	HeadPageID   uint32
	OriginPageID uint32
	DocCount     uint64
	IDPolicy     IDPolicy
	IDCounter    uint64
	Indexes      []IndexDescriptor
	ForeignKeys  []ForeignKey
}

// Catalog owns the reserved catalog collection and the in-memory index of
// its entries, keyed by collection name. Entries are small and few enough
// (one per user collection) that the catalog itself uses a linear scan
// rather than its own B+tree index.
type Catalog struct {
	store *Store
	coll  *Collection
	byRID map[string]RecordID
	byNom map[string]*CatalogEntry
}

// OpenCatalog loads (or bootstraps, on a fresh database) the catalog
// collection and every entry it holds.
func OpenCatalog(s *Store) (*Catalog, error) {
	c := &Catalog{store: s, byRID: make(map[string]RecordID), byNom: make(map[string]*CatalogEntry)}

	if s.header.UsedPages <= 1 {
		// Fresh database: page 1 doesn't exist yet, allocate it now so it
		// lands at the fixed catalogPageID.
		coll, err := CreateCollection(s, "__catalog")
		if err != nil {
			return nil, err
		}
		if coll.HeadPageID != catalogPageID {
			return nil, tdberr.Newf(tdberr.Corruption, "catalog expected at page %d, got %d", catalogPageID, coll.HeadPageID)
		}
		c.coll = coll
		return c, nil
	}

	c.coll = OpenCollection(s, "__catalog", catalogPageID, catalogPageID, 0)
	var count uint64
	err := c.coll.Each(func(rid RecordID, data []byte) error {
		doc, _, err := value.DecodeDocument(data)
		if err != nil {
			return err
		}
		entry := decodeCatalogEntry(doc)
		c.byNom[entry.Name] = entry
		c.byRID[entry.Name] = rid
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.coll.DocCount = count
	return c, nil
}

// Get returns the entry for name, if declared.
func (c *Catalog) Get(name string) (*CatalogEntry, bool) {
	e, ok := c.byNom[name]
	return e, ok
}

// All returns every declared collection's entry.
func (c *Catalog) All() []*CatalogEntry {
	out := make([]*CatalogEntry, 0, len(c.byNom))
	for _, e := range c.byNom {
		out = append(out, e)
	}
	return out
}

// Put inserts or overwrites the catalog record for entry.Name.
func (c *Catalog) Put(entry *CatalogEntry) error {
	data := encodeCatalogEntry(entry).Encode()
	if rid, ok := c.byRID[entry.Name]; ok {
		newRID, err := c.coll.Update(rid, data)
		if err != nil {
			return err
		}
		c.byRID[entry.Name] = newRID
	} else {
		rid, err := c.coll.Insert(data)
		if err != nil {
			return err
		}
		c.byRID[entry.Name] = rid
	}
	c.byNom[entry.Name] = entry
	return nil
}

// Drop removes name's catalog record.
func (c *Catalog) Drop(name string) error {
	rid, ok := c.byRID[name]
	if !ok {
		return tdberr.Newf(tdberr.NotFound, "collection %q not declared", name)
	}
	if err := c.coll.Delete(rid); err != nil {
		return err
	}
	delete(c.byRID, name)
	delete(c.byNom, name)
	return nil
}

func encodeCatalogEntry(e *CatalogEntry) *value.Document {
	doc := value.NewDocument()
	doc.Set("_id", value.String(e.Name))
	doc.Set("head", value.Int64(int64(e.HeadPageID)))
	doc.Set("origin", value.Int64(int64(e.OriginPageID)))
	doc.Set("doc_count", value.Int64(int64(e.DocCount)))
	doc.Set("id_policy", value.String(string(e.IDPolicy)))
	doc.Set("id_counter", value.Int64(int64(e.IDCounter)))

	idxs := make([]value.Value, len(e.Indexes))
	for i, idx := range e.Indexes {
		d := value.NewDocument()
		d.Set("name", value.String(idx.Name))
		fields := make([]value.Value, len(idx.Fields))
		for j, f := range idx.Fields {
			fields[j] = value.String(f)
		}
		d.Set("fields", value.Arr(fields))
		d.Set("unique", value.Bool(idx.Unique))
		d.Set("sparse", value.Bool(idx.Sparse))
		d.Set("root", value.Int64(int64(idx.RootPageID)))
		idxs[i] = value.Doc(d)
	}
	doc.Set("indexes", value.Arr(idxs))

	fks := make([]value.Value, len(e.ForeignKeys))
	for i, fk := range e.ForeignKeys {
		d := value.NewDocument()
		d.Set("field", value.String(fk.Field))
		d.Set("target", value.String(fk.TargetCollection))
		fks[i] = value.Doc(d)
	}
	doc.Set("fks", value.Arr(fks))
	return doc
}

func decodeCatalogEntry(doc *value.Document) *CatalogEntry {
	e := &CatalogEntry{}
	if v, ok := doc.Get("_id"); ok {
		e.Name, _ = v.AsString()
	}
	if v, ok := doc.Get("head"); ok {
		n, _ := v.AsInt64()
		e.HeadPageID = uint32(n)
	}
	if v, ok := doc.Get("origin"); ok {
		n, _ := v.AsInt64()
		e.OriginPageID = uint32(n)
	}
	if v, ok := doc.Get("doc_count"); ok {
		n, _ := v.AsInt64()
		e.DocCount = uint64(n)
	}
	if v, ok := doc.Get("id_policy"); ok {
		s, _ := v.AsString()
		e.IDPolicy = IDPolicy(s)
	}
	if v, ok := doc.Get("id_counter"); ok {
		n, _ := v.AsInt64()
		e.IDCounter = uint64(n)
	}
	if v, ok := doc.Get("indexes"); ok {
		arr, _ := v.AsArray()
		for _, iv := range arr {
			d, ok := iv.AsDocument()
			if !ok {
				continue
			}
			idx := IndexDescriptor{}
			if nv, ok := d.Get("name"); ok {
				idx.Name, _ = nv.AsString()
			}
			if fv, ok := d.Get("fields"); ok {
				farr, _ := fv.AsArray()
				for _, f := range farr {
					s, _ := f.AsString()
					idx.Fields = append(idx.Fields, s)
				}
			}
			if uv, ok := d.Get("unique"); ok {
				idx.Unique, _ = uv.AsBool()
			}
			if sv, ok := d.Get("sparse"); ok {
				idx.Sparse, _ = sv.AsBool()
			}
			if rv, ok := d.Get("root"); ok {
				n, _ := rv.AsInt64()
				idx.RootPageID = uint32(n)
			}
			e.Indexes = append(e.Indexes, idx)
		}
	}
	if v, ok := doc.Get("fks"); ok {
		arr, _ := v.AsArray()
		for _, fv := range arr {
			d, ok := fv.AsDocument()
			if !ok {
				continue
			}
			fk := ForeignKey{}
			if f, ok := d.Get("field"); ok {
				fk.Field, _ = f.AsString()
			}
			if t, ok := d.Get("target"); ok {
				fk.TargetCollection, _ = t.AsString()
			}
			e.ForeignKeys = append(e.ForeignKeys, fk)
		}
	}
	return e
}
