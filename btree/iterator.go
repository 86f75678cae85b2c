package btree

import (
	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

// Iterator produces (key, value) pairs in ascending key order. It holds a
// pinned leaf page (its read latch is released once the iterator is
// positioned) and a slot index; advancing past the
// leaf's last entry releases it and fetches next_page_id. Grounded on the
// original's IndexIterator (original_source/src/index/b_plus_tree.cpp
// Begin/Begin(key)/End) with Go's explicit Close() standing in for its
// destructor-driven unpin (spec.md §9 "Iterator destruction": callers must
// guarantee scoped release on every exit path).
type Iterator struct {
	tree *Tree
	leaf leafNode
	slot int
	done bool
}

// Begin returns an iterator positioned at the tree's first entry.
func (t *Tree) Begin() (*Iterator, error) {
	root, err := t.rootPageID()
	if err != nil {
		return nil, err
	}
	if root == disk.InvalidPageID {
		return &Iterator{done: true}, nil
	}
	f, err := t.findLeftmostLeaf(root)
	if err != nil {
		return nil, err
	}
	l := wrapLeaf(f.Data(), t.keySize)
	it := &Iterator{tree: t, leaf: l, slot: 0, done: l.size() == 0}
	f.Latch.RUnlock()
	if it.done {
		t.pool.UnpinPage(l.pageID(), false)
	}
	return it, nil
}

// findLeftmostLeaf descends via child index 0 at every internal node,
// read-latching and crab-releasing ancestors the same way findLeafRead
// does for a keyed descent.
func (t *Tree) findLeftmostLeaf(root disk.PageID) (*buffer.Frame, error) {
	cur, err := t.pool.FetchPage(root)
	if err != nil {
		return nil, err
	}
	cur.Latch.RLock()
	for {
		nd := node{buf: cur.Data()}
		if nd.isLeaf() {
			return cur, nil
		}
		in := wrapInternal(cur.Data(), t.keySize)
		childID := in.childAt(0)
		child, err := t.pool.FetchPage(childID)
		if err != nil {
			cur.Latch.RUnlock()
			t.pool.UnpinPage(nd.pageID(), false)
			return nil, err
		}
		child.Latch.RLock()
		cur.Latch.RUnlock()
		t.pool.UnpinPage(nd.pageID(), false)
		cur = child
	}
}

// BeginAt returns an iterator positioned at the first entry with key ≥ key.
func (t *Tree) BeginAt(key []byte) (*Iterator, error) {
	if err := t.checkKeySize(key); err != nil {
		return nil, err
	}
	root, err := t.rootPageID()
	if err != nil {
		return nil, err
	}
	if root == disk.InvalidPageID {
		return &Iterator{done: true}, nil
	}
	f, err := t.findLeafRead(root, key)
	if err != nil {
		return nil, err
	}
	l := wrapLeaf(f.Data(), t.keySize)
	idx, _ := l.find(key, t.cmp)
	it := &Iterator{tree: t, leaf: l, slot: idx}
	f.Latch.RUnlock()
	if idx >= l.size() {
		it.advanceToNextLeaf()
	}
	return it, nil
}

// End returns an already-exhausted iterator, equal to any other End().
func (t *Tree) End() *Iterator { return &Iterator{done: true} }

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return !it.done }

// Key returns the current entry's key. Only valid when Valid() is true.
func (it *Iterator) Key() []byte {
	return append([]byte(nil), it.leaf.keyAt(it.slot)...)
}

// Value returns the current entry's RowID. Only valid when Valid() is true.
func (it *Iterator) Value() RowID {
	return it.leaf.valueAt(it.slot)
}

// Next advances to the next entry in key order.
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.slot++
	if it.slot >= it.leaf.size() {
		return it.advanceToNextLeafChecked()
	}
	return nil
}

func (it *Iterator) advanceToNextLeafChecked() error {
	prevID := it.leaf.pageID()
	next := it.leaf.nextPageID()
	if next == disk.InvalidPageID {
		it.done = true
		it.leaf = leafNode{}
		return it.tree.pool.UnpinPage(prevID, false)
	}
	f, err := it.tree.pool.FetchPage(next)
	if err != nil {
		it.done = true
		it.leaf = leafNode{}
		it.tree.pool.UnpinPage(prevID, false)
		return err
	}
	f.Latch.RLock()
	l := wrapLeaf(f.Data(), it.tree.keySize)
	f.Latch.RUnlock()
	if err := it.tree.pool.UnpinPage(prevID, false); err != nil {
		return err
	}
	it.leaf = l
	it.slot = 0
	if l.size() == 0 {
		it.done = true
		id := it.leaf.pageID()
		it.leaf = leafNode{}
		return it.tree.pool.UnpinPage(id, false)
	}
	return nil
}

// advanceToNextLeaf is the error-swallowing variant used right after
// BeginAt positions past the end of a leaf; a fetch failure here simply
// ends the iteration, matching End()'s zero-value meaning "exhausted".
func (it *Iterator) advanceToNextLeaf() {
	_ = it.advanceToNextLeafChecked()
}

// Close releases the iterator's currently-held leaf page, if any. Safe to
// call multiple times and on an already-exhausted iterator.
func (it *Iterator) Close() error {
	if it.done || it.leaf.buf == nil {
		return nil
	}
	id := it.leaf.pageID()
	it.done = true
	it.leaf = leafNode{}
	return it.tree.pool.UnpinPage(id, false)
}
