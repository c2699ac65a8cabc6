// ABOUTME: Structural invariant checking: sorted keys, separators against child
// ABOUTME: minimums; the leaf sibling chain is not checked — used by tests

package btree

import "fmt"

// Validate walks the whole tree and reports the first structural invariant
// violation found, or nil if the tree is well-formed.
func (t *Tree) Validate() error {
	_, _, err := t.validateNode(t.RootID, true)
	return err
}

// validateNode returns the node's minimum and maximum keys for the parent
// to cross-check against its own separators.
func (t *Tree) validateNode(id uint32, isRoot bool) (min, max []byte, err error) {
	p, err := t.pager.Get(id)
	if err != nil {
		return nil, nil, err
	}
	n := node(p.Payload())

	if n.nkeys() == 0 {
		if !isRoot {
			return nil, nil, fmt.Errorf("btree: non-root page %d has zero keys", id)
		}
		return nil, nil, nil
	}

	for i := uint16(1); i < n.nkeys(); i++ {
		if compareKeyBytes(n.getKey(i-1), n.getKey(i)) > 0 {
			return nil, nil, fmt.Errorf("btree: page %d keys out of order at slot %d", id, i)
		}
	}

	if isLeaf(p) {
		return n.getKey(0), n.getKey(n.nkeys() - 1), nil
	}

	for i := uint16(0); i < n.nkeys(); i++ {
		childMin, _, err := t.validateNode(n.getPtr(i), false)
		if err != nil {
			return nil, nil, err
		}
		if childMin != nil && compareKeyBytes(childMin, n.getKey(i)) < 0 {
			return nil, nil, fmt.Errorf("btree: page %d separator %d is above child's minimum key", id, i)
		}
	}
	return n.getKey(0), n.getKey(n.nkeys() - 1), nil
}
