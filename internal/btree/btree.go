// ABOUTME: Disk-resident B+tree: in-place page mutation through a Pager
// ABOUTME: split on insert overflow, merge/borrow on delete underflow

package btree

import (
	"fmt"

	"github.com/nainya/tdb/internal/page"
	"github.com/nainya/tdb/internal/value"
)

// Tree is a B+tree rooted at RootID. The owner (a collection's index
// metadata) is responsible for persisting RootID across Tree-mutating
// calls; it changes whenever the root splits or collapses.
type Tree struct {
	pager  Pager
	RootID uint32
}

// Open wraps an existing root page as a Tree.
func Open(p Pager, rootID uint32) *Tree {
	return &Tree{pager: p, RootID: rootID}
}

// Create allocates a fresh, empty leaf root and returns a Tree over it.
func Create(p Pager) (*Tree, error) {
	root, err := p.Alloc(page.TypeIndex)
	if err != nil {
		return nil, err
	}
	n := node(root.Payload())
	n.setNkeys(0)
	root.SetHeader(withLeaf(root.Header(), true, 0, 0))
	if err := p.MarkDirty(root.PageID()); err != nil {
		return nil, err
	}
	return &Tree{pager: p, RootID: root.PageID()}, nil
}

func (t *Tree) maxPayload() int { return t.pager.PageSize() - page.HeaderSize }

func withLeaf(h page.Header, leaf bool, nkeys, payloadSize int) page.Header {
	if leaf {
		h.Flags |= page.FlagLeaf
	} else {
		h.Flags &^= page.FlagLeaf
	}
	h.SlotCount = uint16(nkeys)
	h.PayloadSize = uint16(payloadSize)
	return h
}

func isLeaf(p *page.Page) bool { return p.HasFlag(page.FlagLeaf) }

func keyOf(v value.Value) []byte { return value.EncodeValue(v) }

func decodeKey(b []byte) value.Value {
	v, _, err := value.DecodeValue(b)
	if err != nil {
		// A key that fails to decode means the page is corrupt; the tree
		// has no recovery path of its own, the caller's integrity checks
		// (WAL recovery, Validate) are what catch this.
		panic(fmt.Sprintf("btree: corrupt key: %v", err))
	}
	return v
}

func compareKeyBytes(a, b []byte) int {
	return value.Compare(decodeKey(a), decodeKey(b))
}

// Entry is one leaf (key, value) pair, returned by lookups and range scans.
type Entry struct {
	Key   value.Value
	Value []byte
}

// findChildIndex returns the largest i such that internal node n's key i is
// <= key (entry 0's key is the subtree's lower sentinel and always matches).
func findChildIndex(n node, key []byte) uint16 {
	var found uint16
	nk := n.nkeys()
	for i := uint16(1); i < nk; i++ {
		if compareKeyBytes(n.getKey(i), key) <= 0 {
			found = i
		} else {
			break
		}
	}
	return found
}

// findLeafIndex returns the slot where key would be inserted in a leaf: the
// first index whose key is >= key.
func findLeafIndex(n node, key []byte) uint16 {
	nk := n.nkeys()
	var i uint16
	for i = 0; i < nk; i++ {
		if compareKeyBytes(n.getKey(i), key) >= 0 {
			break
		}
	}
	return i
}

// descend walks from the root to the leaf that should contain key,
// returning the page id at every level, root first.
func (t *Tree) descend(key []byte) ([]uint32, error) {
	path := []uint32{t.RootID}
	id := t.RootID
	for {
		p, err := t.pager.Get(id)
		if err != nil {
			return nil, err
		}
		if isLeaf(p) {
			return path, nil
		}
		n := node(p.Payload())
		idx := findChildIndex(n, key)
		id = n.getPtr(idx)
		path = append(path, id)
	}
}

// FindExact returns the first leaf entry matching key exactly, if any.
func (t *Tree) FindExact(key value.Value) ([]byte, bool, error) {
	kb := keyOf(key)
	path, err := t.descend(kb)
	if err != nil {
		return nil, false, err
	}
	p, err := t.pager.Get(path[len(path)-1])
	if err != nil {
		return nil, false, err
	}
	n := node(p.Payload())
	idx := findLeafIndex(n, kb)
	if idx < n.nkeys() && compareKeyBytes(n.getKey(idx), kb) == 0 {
		return append([]byte{}, n.getVal(idx)...), true, nil
	}
	return nil, false, nil
}

// FindAll returns every leaf entry whose key equals key (for non-unique
// indexes, where duplicates occupy adjacent slots, possibly across pages).
func (t *Tree) FindAll(key value.Value) ([]Entry, error) {
	kb := keyOf(key)
	// Descend to the leftmost leaf that can hold key: a run of duplicates
	// may start in a leaf to the left of a separator equal to key.
	leafID := t.RootID
	for {
		p, err := t.pager.Get(leafID)
		if err != nil {
			return nil, err
		}
		if isLeaf(p) {
			break
		}
		n := node(p.Payload())
		var idx uint16
		for i := uint16(1); i < n.nkeys() && compareKeyBytes(n.getKey(i), kb) < 0; i++ {
			idx = i
		}
		leafID = n.getPtr(idx)
	}

	var out []Entry
	for leafID != 0 {
		p, err := t.pager.Get(leafID)
		if err != nil {
			return nil, err
		}
		n := node(p.Payload())
		idx := findLeafIndex(n, kb)
		for idx < n.nkeys() && compareKeyBytes(n.getKey(idx), kb) == 0 {
			out = append(out, Entry{Key: decodeKey(n.getKey(idx)), Value: append([]byte{}, n.getVal(idx)...)})
			idx++
		}
		if idx < n.nkeys() {
			break // ran past the matching run without hitting the page end
		}
		leafID = p.Header().Next
	}
	return out, nil
}

// Range returns every entry with lo <= key <= hi. The lower bound is always
// applied (value.MinKey() with loInclusive=true admits every key); the upper
// bound is applied only when hasHi is true.
func (t *Tree) Range(lo value.Value, loInclusive bool, hi value.Value, hiInclusive, hasHi bool) ([]Entry, error) {
	var startID uint32
	var startIdx uint16

	loBytes := keyOf(lo)
	path, err := t.descend(loBytes)
	if err != nil {
		return nil, err
	}
	startID = path[len(path)-1]
	p, err := t.pager.Get(startID)
	if err != nil {
		return nil, err
	}
	n := node(p.Payload())
	startIdx = findLeafIndex(n, loBytes)
	if !loInclusive {
		for startIdx < n.nkeys() && compareKeyBytes(n.getKey(startIdx), loBytes) == 0 {
			startIdx++
		}
	}

	var out []Entry
	leafID, idx := startID, startIdx
	for leafID != 0 {
		p, err := t.pager.Get(leafID)
		if err != nil {
			return nil, err
		}
		n := node(p.Payload())
		for ; idx < n.nkeys(); idx++ {
			k := n.getKey(idx)
			if hasHi {
				c := compareKeyBytes(k, keyOf(hi))
				if c > 0 || (c == 0 && !hiInclusive) {
					return out, nil
				}
			}
			out = append(out, Entry{Key: decodeKey(k), Value: append([]byte{}, n.getVal(idx)...)})
		}
		leafID = p.Header().Next
		idx = 0
	}
	return out, nil
}
