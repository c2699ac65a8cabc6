// ABOUTME: Insert path: build the new node in a scratch buffer, split on overflow

package btree

import (
	"fmt"

	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/value"
)

// Insert adds (key, val) as a new leaf entry. Duplicate keys are permitted
// (non-unique indexes); the new entry is placed after any existing entries
// with the same key.
func (t *Tree) Insert(key value.Value, val []byte) error {
	kb := keyOf(key)
	path, err := t.descend(kb)
	if err != nil {
		return err
	}

	leafID := path[len(path)-1]
	leafPage, err := t.pager.Get(leafID)
	if err != nil {
		return err
	}
	old := node(leafPage.Payload())
	idx := findLeafIndex(old, kb)
	for idx < old.nkeys() && compareKeyBytes(old.getKey(idx), kb) == 0 {
		idx++
	}

	split, err := t.insertAt(leafPage, idx, 0, kb, val, true)
	if err != nil {
		return err
	}
	return t.propagateSplit(path[:len(path)-1], split)
}

// insertAt builds the post-insert node, writes it back if it fits in one
// page, or splits it across the original page and a freshly allocated
// sibling (chaining leaf siblings via Next/Prev) if it does not.
func (t *Tree) insertAt(p *page.Page, idx uint16, ptr uint32, key, val []byte, leaf bool) (*splitInfo, error) {
	old := node(p.Payload())
	built := buildInsert(old, t.maxPayload(), idx, ptr, key, val)

	if built.nbytes() <= t.maxPayload() {
		t.commit(p, built, leaf)
		return nil, t.pager.MarkDirty(p.PageID())
	}

	return t.split(p, built, leaf)
}

func buildInsert(old node, maxPayload int, idx uint16, ptr uint32, key, val []byte) node {
	n := scratchNode(maxPayload)
	n.setNkeys(old.nkeys() + 1)
	appendRange(n, old, 0, 0, idx)
	n.appendKV(idx, ptr, key, val)
	appendRange(n, old, idx+1, idx, old.nkeys()-idx)
	return n
}

type splitInfo struct {
	sepKey  []byte
	rightID uint32
}

func (t *Tree) split(p *page.Page, built node, leaf bool) (*splitInfo, error) {
	mid := built.nkeys() / 2
	if mid == 0 {
		return nil, fmt.Errorf("btree: key too large to fit in a page")
	}

	left := scratchNode(t.maxPayload())
	left.setNkeys(mid)
	appendRange(left, built, 0, 0, mid)

	right := scratchNode(t.maxPayload())
	right.setNkeys(built.nkeys() - mid)
	appendRange(right, built, 0, mid, built.nkeys()-mid)

	if left.nbytes() > t.maxPayload() || right.nbytes() > t.maxPayload() {
		return nil, fmt.Errorf("btree: key too large to fit in a page even after split")
	}

	rightPage, err := t.pager.Alloc(page.TypeIndex)
	if err != nil {
		return nil, err
	}

	oldHeader := p.Header()
	if leaf {
		rightPage.SetHeader(withLeaf(page.Header{PageID: rightPage.PageID(), Next: oldHeader.Next, Prev: p.PageID()}, true, int(right.nkeys()), right.nbytes()))
		copy(rightPage.Payload(), right)

		if oldHeader.Next != 0 {
			nextPage, err := t.pager.Get(oldHeader.Next)
			if err != nil {
				return nil, err
			}
			h := nextPage.Header()
			h.Prev = rightPage.PageID()
			nextPage.SetHeader(h)
			if err := t.pager.MarkDirty(nextPage.PageID()); err != nil {
				return nil, err
			}
		}

		newLeftHeader := withLeaf(oldHeader, true, int(left.nkeys()), left.nbytes())
		newLeftHeader.Next = rightPage.PageID()
		p.SetHeader(newLeftHeader)
		copy(p.Payload(), left)
	} else {
		rightPage.SetHeader(withLeaf(page.Header{PageID: rightPage.PageID()}, false, int(right.nkeys()), right.nbytes()))
		copy(rightPage.Payload(), right)

		newLeftHeader := withLeaf(oldHeader, false, int(left.nkeys()), left.nbytes())
		p.SetHeader(newLeftHeader)
		copy(p.Payload(), left)
	}

	if err := t.pager.MarkDirty(p.PageID()); err != nil {
		return nil, err
	}
	if err := t.pager.MarkDirty(rightPage.PageID()); err != nil {
		return nil, err
	}

	return &splitInfo{sepKey: append([]byte{}, right.getKey(0)...), rightID: rightPage.PageID()}, nil
}

func (t *Tree) commit(p *page.Page, built node, leaf bool) {
	h := withLeaf(p.Header(), leaf, int(built.nkeys()), built.nbytes())
	p.SetHeader(h)
	copy(p.Payload(), built)
}

// propagateSplit walks back up path (leaf's ancestors, nearest first),
// inserting the new separator into each parent until one absorbs it
// without overflowing, or the root itself splits and grows the tree by
// one level.
func (t *Tree) propagateSplit(path []uint32, split *splitInfo) error {
	if split == nil {
		return nil
	}

	for i := len(path) - 1; i >= 0; i-- {
		parentPage, err := t.pager.Get(path[i])
		if err != nil {
			return err
		}
		n := node(parentPage.Payload())
		idx := findChildIndex(n, split.sepKey) + 1

		split, err = t.insertAt(parentPage, idx, split.rightID, split.sepKey, nil, false)
		if err != nil {
			return err
		}
		if split == nil {
			return nil
		}
	}

	// The split propagated past the root: grow the tree by one level.
	oldRootID := t.RootID
	newRoot, err := t.pager.Alloc(page.TypeIndex)
	if err != nil {
		return err
	}
	n := scratchNode(t.maxPayload())
	n.setNkeys(2)
	n.appendKV(0, oldRootID, minKeyBytes(), nil)
	n.appendKV(1, split.rightID, split.sepKey, nil)
	newRoot.SetHeader(withLeaf(page.Header{PageID: newRoot.PageID()}, false, 2, n.nbytes()))
	copy(newRoot.Payload(), n)
	if err := t.pager.MarkDirty(newRoot.PageID()); err != nil {
		return err
	}
	t.RootID = newRoot.PageID()
	return nil
}

func minKeyBytes() []byte { return keyOf(value.MinKey()) }
