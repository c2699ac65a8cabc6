// ABOUTME: Collection: a chain of data pages holding encoded documents
// ABOUTME: insert seeks a best-fit slot in the head page, else appends a new page

package storage

import (
	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/tdberr"
)

// Collection is the physical document store for one named collection: a
// singly forward-linked chain of TypeData pages starting at OriginPageID;
// HeadPageID is the newest page, the one inserts go to.
type Collection struct {
	store        *Store
	Name         string
	HeadPageID   uint32
	OriginPageID uint32
	DocCount     uint64
}

// CreateCollection allocates the first data page for a new collection.
func CreateCollection(s *Store, name string) (*Collection, error) {
	p, err := s.Alloc(page.TypeData)
	if err != nil {
		return nil, err
	}
	return &Collection{store: s, Name: name, HeadPageID: p.PageID(), OriginPageID: p.PageID()}, nil
}

// OpenCollection wraps an already-allocated chain (loaded from the catalog).
func OpenCollection(s *Store, name string, head, tail uint32, count uint64) *Collection {
	return &Collection{store: s, Name: name, HeadPageID: head, OriginPageID: tail, DocCount: count}
}

// Insert places data in the head page if it fits, otherwise appends a new
// head page and retries there, per §4.5's best-fit-then-append rule.
func (c *Collection) Insert(data []byte) (RecordID, error) {
	p, err := c.store.Get(c.HeadPageID)
	if err != nil {
		return RecordID{}, err
	}
	dp := wrapDataPage(p)
	if idx, ok := dp.put(data); ok {
		if err := c.store.MarkDirty(p.PageID()); err != nil {
			return RecordID{}, err
		}
		c.DocCount++
		return RecordID{PageID: p.PageID(), Slot: idx}, nil
	}

	newPage, err := c.store.Alloc(page.TypeData)
	if err != nil {
		return RecordID{}, err
	}
	h := p.Header()
	h.Next = newPage.PageID()
	p.SetHeader(h)
	if err := c.store.MarkDirty(p.PageID()); err != nil {
		return RecordID{}, err
	}
	c.HeadPageID = newPage.PageID()

	dp2 := wrapDataPage(newPage)
	idx, ok := dp2.put(data)
	if !ok {
		return RecordID{}, tdberr.New(tdberr.InvalidArgument, "document too large for an empty page")
	}
	if err := c.store.MarkDirty(newPage.PageID()); err != nil {
		return RecordID{}, err
	}
	c.DocCount++
	return RecordID{PageID: newPage.PageID(), Slot: idx}, nil
}

// Get fetches the raw encoded document at rid.
func (c *Collection) Get(rid RecordID) ([]byte, bool, error) {
	p, err := c.store.Get(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	return wrapDataPage(p).get(rid.Slot)
}

// Update overwrites rid's slot in place if it fits, otherwise deletes the
// old slot and inserts fresh (the caller must update any index entries
// that reference the now-stale RecordID).
func (c *Collection) Update(rid RecordID, data []byte) (RecordID, error) {
	p, err := c.store.Get(rid.PageID)
	if err != nil {
		return RecordID{}, err
	}
	dp := wrapDataPage(p)
	if dp.update(rid.Slot, data) {
		if err := c.store.MarkDirty(rid.PageID); err != nil {
			return RecordID{}, err
		}
		return rid, nil
	}

	dp.delete(rid.Slot)
	if err := c.store.MarkDirty(rid.PageID); err != nil {
		return RecordID{}, err
	}
	c.DocCount--
	return c.Insert(data)
}

// Delete frees rid's slot.
func (c *Collection) Delete(rid RecordID) error {
	p, err := c.store.Get(rid.PageID)
	if err != nil {
		return err
	}
	wrapDataPage(p).delete(rid.Slot)
	if err := c.store.MarkDirty(rid.PageID); err != nil {
		return err
	}
	c.DocCount--
	return nil
}

// Compact reclaims fragmented space in a specific page on demand.
func (c *Collection) Compact(pageID uint32) error {
	p, err := c.store.Get(pageID)
	if err != nil {
		return err
	}
	wrapDataPage(p).compact()
	return c.store.MarkDirty(pageID)
}

// Each walks every live document across the chain, head first, calling fn
// with its RecordID and encoded bytes. fn returning an error stops the
// walk and the error is returned.
func (c *Collection) Each(fn func(RecordID, []byte) error) error {
	id := firstChainPage(c)
	for id != 0 {
		p, err := c.store.Get(id)
		if err != nil {
			return err
		}
		dp := wrapDataPage(p)
		n := dp.slotCount()
		for i := uint16(0); i < n; i++ {
			data, ok, err := dp.get(i)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := fn(RecordID{PageID: id, Slot: i}, data); err != nil {
				return err
			}
		}
		id = p.Header().Next
	}
	return nil
}

// Stats reports document count and the number of pages in the chain.
type Stats struct {
	DocCount  uint64
	PageCount int
}

func (c *Collection) Stats() (Stats, error) {
	st := Stats{DocCount: c.DocCount}
	id := firstChainPage(c)
	for id != 0 {
		p, err := c.store.Get(id)
		if err != nil {
			return st, err
		}
		st.PageCount++
		id = p.Header().Next
	}
	return st, nil
}

// firstChainPage returns the page a full scan must start from: the very
// first page ever allocated for the collection. HeadPageID instead tracks
// whichever page is currently accepting inserts, which moves forward as
// the chain grows.
func firstChainPage(c *Collection) uint32 {
	return c.OriginPageID
}
