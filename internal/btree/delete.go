// ABOUTME: Delete path: remove the exact (key, value) entry, then rebalance
// ABOUTME: merge with a sibling when occupancy drops too low, borrow otherwise

package btree

import (
	"bytes"

	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/value"
)

// mergeThreshold is the occupancy (as a fraction of a full page) below
// which a node is considered underfull and a candidate for borrowing from
// or merging with a sibling. Byte-based rather than key-count-based
// because index keys vary in size.
const mergeThresholdNum, mergeThresholdDen = 1, 4

func underfull(n node, maxPayload int) bool {
	return n.nbytes()*mergeThresholdDen < maxPayload*mergeThresholdNum
}

// Delete removes the leaf entry matching both key and val exactly (val
// disambiguates duplicates under a non-unique index). It reports whether a
// matching entry was found and removed.
func (t *Tree) Delete(key value.Value, val []byte) (bool, error) {
	kb := keyOf(key)
	path, err := t.descend(kb)
	if err != nil {
		return false, err
	}
	leafID := path[len(path)-1]
	leafPage, err := t.pager.Get(leafID)
	if err != nil {
		return false, err
	}
	n := node(leafPage.Payload())

	idx := findLeafIndex(n, kb)
	for idx < n.nkeys() && compareKeyBytes(n.getKey(idx), kb) == 0 {
		if bytes.Equal(n.getVal(idx), val) {
			break
		}
		idx++
	}
	if idx >= n.nkeys() || compareKeyBytes(n.getKey(idx), kb) != 0 {
		return false, nil
	}

	built := buildDelete(n, idx)
	t.commit(leafPage, built, true)
	if err := t.pager.MarkDirty(leafPage.PageID()); err != nil {
		return false, err
	}

	if err := t.rebalance(path, leafPage, true); err != nil {
		return false, err
	}
	return true, nil
}

func buildDelete(old node, idx uint16) node {
	n := make(node, len(old))
	n.setNkeys(old.nkeys() - 1)
	appendRange(n, old, 0, 0, idx)
	appendRange(n, old, idx, idx+1, old.nkeys()-idx-1)
	return n
}

// rebalance checks whether p (at the tail of path) is underfull and, if
// so, borrows from or merges with an adjacent sibling, propagating the
// resulting separator change up path. The root is exempt: a root with a
// single child is collapsed separately by collapseRootIfNeeded.
func (t *Tree) rebalance(path []uint32, p *page.Page, leaf bool) error {
	if p.PageID() == t.RootID {
		return t.collapseRootIfNeeded()
	}
	n := node(p.Payload())
	if !underfull(n, t.maxPayload()) {
		return nil
	}
	if len(path) < 2 {
		return nil
	}

	parentID := path[len(path)-2]
	parentPage, err := t.pager.Get(parentID)
	if err != nil {
		return err
	}
	parent := node(parentPage.Payload())

	myIdx := childIndexOf(parent, p.PageID())
	if myIdx < 0 {
		return nil
	}

	if myIdx > 0 {
		leftID := parent.getPtr(uint16(myIdx - 1))
		leftPage, err := t.pager.Get(leftID)
		if err != nil {
			return err
		}
		if merged, err := t.tryMergeOrBorrow(parentPage, uint16(myIdx-1), leftPage, p, leaf); err != nil {
			return err
		} else if merged {
			return t.rebalance(path[:len(path)-1], parentPage, false)
		}
	}
	if int(myIdx)+1 < int(parent.nkeys()) {
		rightID := parent.getPtr(uint16(myIdx + 1))
		rightPage, err := t.pager.Get(rightID)
		if err != nil {
			return err
		}
		if merged, err := t.tryMergeOrBorrow(parentPage, uint16(myIdx), p, rightPage, leaf); err != nil {
			return err
		} else if merged {
			return t.rebalance(path[:len(path)-1], parentPage, false)
		}
	}
	return nil
}

func childIndexOf(parent node, id uint32) int {
	for i := uint16(0); i < parent.nkeys(); i++ {
		if parent.getPtr(i) == id {
			return int(i)
		}
	}
	return -1
}

// tryMergeOrBorrow combines left and right (adjacent children at parent
// slots leftIdx and leftIdx+1) into one node if they fit together,
// otherwise shifts a single entry across to relieve the underfull side.
// Returns true if a merge happened (removing one separator from parent,
// which the caller must then check for underflow of its own).
func (t *Tree) tryMergeOrBorrow(parentPage *page.Page, leftIdx uint16, leftPage, rightPage *page.Page, leaf bool) (bool, error) {
	left := node(leftPage.Payload())
	right := node(rightPage.Payload())

	combined := scratchNode(t.maxPayload())
	combined.setNkeys(left.nkeys() + right.nkeys())
	appendRange(combined, left, 0, 0, left.nkeys())
	appendRange(combined, right, left.nkeys(), 0, right.nkeys())

	if combined.nbytes() <= t.maxPayload() {
		rightHeader := rightPage.Header()
		leftHeader := withLeaf(leftPage.Header(), leaf, int(combined.nkeys()), combined.nbytes())
		if leaf {
			leftHeader.Next = rightHeader.Next
		}
		leftPage.SetHeader(leftHeader)
		copy(leftPage.Payload(), combined)
		if err := t.pager.MarkDirty(leftPage.PageID()); err != nil {
			return false, err
		}

		if leaf && rightHeader.Next != 0 {
			nextPage, err := t.pager.Get(rightHeader.Next)
			if err != nil {
				return false, err
			}
			h := nextPage.Header()
			h.Prev = leftPage.PageID()
			nextPage.SetHeader(h)
			if err := t.pager.MarkDirty(nextPage.PageID()); err != nil {
				return false, err
			}
		}

		if err := t.pager.Free(rightPage.PageID()); err != nil {
			return false, err
		}

		parent := node(parentPage.Payload())
		built := buildDelete(parent, leftIdx+1)
		t.commit(parentPage, built, false)
		return true, t.pager.MarkDirty(parentPage.PageID())
	}

	return false, t.borrow(parentPage, leftIdx, leftPage, rightPage, leaf)
}

// borrow moves a single entry from the larger sibling to the smaller one
// and fixes up the parent's separator key accordingly.
func (t *Tree) borrow(parentPage *page.Page, leftIdx uint16, leftPage, rightPage *page.Page, leaf bool) error {
	left := node(leftPage.Payload())
	right := node(rightPage.Payload())

	if underfull(left, t.maxPayload()) && right.nkeys() > 1 {
		// Move right's first entry onto the end of left.
		moved := buildInsert(left, t.maxPayload()*4, left.nkeys(), right.getPtr(0), right.getKey(0), right.getVal(0))
		t.commit(leftPage, moved, leaf)
		shrunk := buildDelete(right, 0)
		t.commit(rightPage, shrunk, leaf)
	} else if underfull(right, t.maxPayload()) && left.nkeys() > 1 {
		// Move left's last entry onto the front of right.
		lastIdx := left.nkeys() - 1
		moved := buildInsert(right, t.maxPayload()*4, 0, left.getPtr(lastIdx), left.getKey(lastIdx), left.getVal(lastIdx))
		t.commit(rightPage, moved, leaf)
		shrunk := buildDelete(left, lastIdx)
		t.commit(leftPage, shrunk, leaf)
	} else {
		return nil
	}

	if err := t.pager.MarkDirty(leftPage.PageID()); err != nil {
		return err
	}
	if err := t.pager.MarkDirty(rightPage.PageID()); err != nil {
		return err
	}

	newRight := node(rightPage.Payload())
	sep := append([]byte{}, newRight.getKey(0)...)
	overwriteKey(parentPage, leftIdx+1, sep)
	return t.pager.MarkDirty(parentPage.PageID())
}

// overwriteKey replaces the separator key at idx without touching any
// other slot, rebuilding the node since keys are variable length.
func overwriteKey(p *page.Page, idx uint16, newKey []byte) {
	n := node(p.Payload())
	rebuilt := scratchNode(len(p.Payload()))
	rebuilt.setNkeys(n.nkeys())
	for i := uint16(0); i < n.nkeys(); i++ {
		if i == idx {
			rebuilt.appendKV(i, n.getPtr(i), newKey, n.getVal(i))
		} else {
			rebuilt.appendKV(i, n.getPtr(i), n.getKey(i), n.getVal(i))
		}
	}
	h := withLeaf(p.Header(), p.HasFlag(page.FlagLeaf), int(rebuilt.nkeys()), rebuilt.nbytes())
	p.SetHeader(h)
	copy(p.Payload(), rebuilt)
}

// collapseRootIfNeeded shrinks the tree by one level when the root is an
// internal node with a single child.
func (t *Tree) collapseRootIfNeeded() error {
	rootPage, err := t.pager.Get(t.RootID)
	if err != nil {
		return err
	}
	if isLeaf(rootPage) {
		return nil
	}
	n := node(rootPage.Payload())
	if n.nkeys() != 1 {
		return nil
	}
	onlyChild := n.getPtr(0)
	oldRootID := t.RootID
	t.RootID = onlyChild
	return t.pager.Free(oldRootID)
}
