// ABOUTME: Cursor: fluent order_by/skip/take builder and plan-then-execute
// ABOUTME: runner; Plan() exposes the chosen strategy for test inspection

package query

import (
	"context"
	"sort"

	"github.com/nainya/tdb/internal/btree"
	"github.com/nainya/tdb/internal/index"
	"github.com/nainya/tdb/internal/storage"
	"github.com/nainya/tdb/internal/value"
)

// SortOrder names ascending or descending for one OrderBy field.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

type sortKey struct {
	Field string
	Order SortOrder
}

// Cursor builds and runs one query against a collection: a predicate plus
// ordering and pagination, planned against the collection's indexes.
type Cursor struct {
	coll    *storage.Collection
	idxMgr  *index.Manager
	pred    Predicate
	orderBy []sortKey
	skip    int
	take    int // 0 means unbounded

	plan     *Plan
	planOnce bool
}

// NewCursor starts a query over coll using idxMgr's declared indexes. A nil
// pred matches every document.
func NewCursor(coll *storage.Collection, idxMgr *index.Manager, pred Predicate) *Cursor {
	if pred == nil {
		pred = And{}
	}
	return &Cursor{coll: coll, idxMgr: idxMgr, pred: pred}
}

// OrderBy appends a sort key; ties are broken by subsequent OrderBy calls
// and finally by _id, per §4.8.
func (c *Cursor) OrderBy(field string, order SortOrder) *Cursor {
	c.orderBy = append(c.orderBy, sortKey{Field: field, Order: order})
	return c
}

// Skip discards the first n results after ordering.
func (c *Cursor) Skip(n int) *Cursor {
	c.skip = n
	return c
}

// Take limits the result to at most n documents after Skip.
func (c *Cursor) Take(n int) *Cursor {
	c.take = n
	return c
}

// Plan returns the execution strategy this cursor will use (or did use),
// computed once and memoized so repeated inspection doesn't re-plan.
func (c *Cursor) Plan() Plan {
	if !c.planOnce {
		p := ChoosePlan(c.pred, c.idxMgr)
		c.plan = &p
		c.planOnce = true
	}
	return *c.plan
}

// Run executes the planned strategy, applies the full predicate as an
// in-memory post-filter (the chosen plan may only cover part of it), then
// sorts and paginates.
func (c *Cursor) Run(ctx context.Context) ([]*value.Document, error) {
	plan := c.Plan()

	var docs []*value.Document
	var err error
	switch plan.Kind {
	case IndexSeek:
		docs, err = c.runSeek(plan)
	case IndexRange:
		docs, err = c.runRange(plan)
	default:
		docs, err = c.runFullScan()
	}
	if err != nil {
		return nil, err
	}

	filtered := docs[:0]
	for _, d := range docs {
		if c.pred.Eval(d) {
			filtered = append(filtered, d)
		}
	}
	docs = filtered

	c.sortDocs(docs)

	if c.skip > 0 {
		if c.skip >= len(docs) {
			return nil, nil
		}
		docs = docs[c.skip:]
	}
	if c.take > 0 && c.take < len(docs) {
		docs = docs[:c.take]
	}
	return docs, nil
}

func (c *Cursor) runFullScan() ([]*value.Document, error) {
	var out []*value.Document
	err := c.coll.Each(func(_ storage.RecordID, data []byte) error {
		doc, _, err := value.DecodeDocument(data)
		if err != nil {
			return err
		}
		out = append(out, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cursor) runSeek(plan Plan) ([]*value.Document, error) {
	idx, ok := c.idxMgr.Get(plan.IndexName)
	if !ok {
		return c.runFullScan()
	}
	entries, err := idx.Tree.FindAll(plan.SeekKey)
	if err != nil {
		return nil, err
	}
	return c.resolve(idx, entries)
}

func (c *Cursor) runRange(plan Plan) ([]*value.Document, error) {
	idx, ok := c.idxMgr.Get(plan.IndexName)
	if !ok {
		return c.runFullScan()
	}
	lo := plan.Lo
	loIncl := plan.LoIncl
	if !plan.HasLo {
		lo = value.MinKey()
		loIncl = true
	}
	entries, err := idx.Tree.Range(lo, loIncl, plan.Hi, plan.HiIncl, plan.HasHi)
	if err != nil {
		return nil, err
	}
	return c.resolve(idx, entries)
}

// resolve turns an index's leaf entries into documents: the primary index's
// value is already a physical RecordID, a secondary index's value is the
// document's _id and needs one more hop through the primary index.
func (c *Cursor) resolve(idx *index.Index, entries []btree.Entry) ([]*value.Document, error) {
	out := make([]*value.Document, 0, len(entries))
	for _, e := range entries {
		var loc []byte
		if idx.Name == index.PrimaryIndexName {
			loc = e.Value
		} else {
			id, _, err := value.DecodeValue(e.Value)
			if err != nil {
				return nil, err
			}
			l, found, err := c.idxMgr.ResolveID(id)
			if err != nil {
				return nil, err
			}
			if !found {
				continue // index entry outlived its document; skip rather than fail the whole query
			}
			loc = l
		}
		rid, err := storage.DecodeRecordID(loc)
		if err != nil {
			return nil, err
		}
		data, found, err := c.coll.Get(rid)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		doc, _, err := value.DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Cursor) sortDocs(docs []*value.Document) {
	if len(c.orderBy) == 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			return lessByID(docs[i], docs[j])
		})
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range c.orderBy {
			a, aok := docs[i].Get(k.Field)
			b, bok := docs[j].Get(k.Field)
			if !aok {
				a = value.Null()
			}
			if !bok {
				b = value.Null()
			}
			cmp := value.Compare(a, b)
			if cmp == 0 {
				continue
			}
			if k.Order == Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return lessByID(docs[i], docs[j])
	})
}

func lessByID(a, b *value.Document) bool {
	aid, aok := a.ID()
	bid, bok := b.ID()
	if !aok || !bok {
		return false
	}
	return value.Compare(aid, bid) < 0
}
