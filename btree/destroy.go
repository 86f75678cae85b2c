package btree

import "github.com/arborkv/enginecore/disk"

// Destroy frees every page owned by this index and removes its entry from
// the index-roots page (spec.md §4.3). The Tree must not be used afterward.
func (t *Tree) Destroy() error {
	root, err := t.rootPageID()
	if err != nil {
		return err
	}
	if root != disk.InvalidPageID {
		if err := t.destroySubtree(root); err != nil {
			return err
		}
	}

	f, err := ensureIndexRootsPage(t.pool)
	if err != nil {
		return err
	}
	f.Latch.Lock()
	deleteRoot(f.Data(), t.indexID)
	disk.SetCRC(f.Data())
	f.Latch.Unlock()
	return t.pool.UnpinPage(disk.IndexRootsPageID, true)
}

// destroySubtree recursively frees id and, if it is an internal node, every
// page in its subtree, depth-first so children are freed before their
// parent.
func (t *Tree) destroySubtree(id disk.PageID) error {
	f, err := t.pool.FetchPage(id)
	if err != nil {
		return err
	}
	f.Latch.RLock()
	nd := node{buf: f.Data()}
	isLeaf := nd.isLeaf()
	var children []disk.PageID
	if !isLeaf {
		in := wrapInternal(f.Data(), t.keySize)
		for i := 0; i < in.size(); i++ {
			children = append(children, in.childAt(i))
		}
	}
	f.Latch.RUnlock()
	if err := t.pool.UnpinPage(id, false); err != nil {
		return err
	}

	for _, child := range children {
		if err := t.destroySubtree(child); err != nil {
			return err
		}
	}
	return t.pool.DeletePage(id)
}
