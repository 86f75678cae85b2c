package btree

import (
	"fmt"

	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

// Remove deletes key if present; a no-op if absent (spec.md §4.3).
func (t *Tree) Remove(key []byte) error {
	if err := t.checkKeySize(key); err != nil {
		return err
	}
	root, err := t.rootPageID()
	if err != nil {
		return err
	}
	if root == disk.InvalidPageID {
		return nil
	}

	path, err := t.descendWrite(root, key, func(nd node, isRoot bool) bool { return safeForDelete(nd, isRoot) })
	if err != nil {
		return err
	}

	leafFrame := path.leaf()
	l := wrapLeaf(leafFrame.Data(), t.keySize)
	idx, found := l.find(key, t.cmp)
	if !found {
		path.releaseAll(t.pool, false)
		return nil
	}
	wasFirst := idx == 0
	l.removeAt(idx)
	t.setLastPageID(l.pageID())

	if wasFirst && l.size() > 0 {
		t.updateAncestorKeys(path, l.pageID(), append([]byte(nil), l.keyAt(0)...))
	}

	if len(path.frames) == 1 {
		// only the leaf is retained: either it is the root (handled via
		// AdjustRoot's leaf case, since coalesce/redistribute need a
		// parent), or it proved safe and cannot underflow.
		if l.size() == 0 {
			id := l.pageID()
			path.releaseAll(t.pool, true)
			if err := t.setRootPageID(disk.InvalidPageID); err != nil {
				return err
			}
			return t.pool.DeletePage(id)
		}
		path.releaseAll(t.pool, true)
		return nil
	}

	if l.size() >= l.minSize() {
		path.releaseAll(t.pool, true)
		return nil
	}
	return t.coalesceOrRedistribute(path)
}

// updateAncestorKeys rewrites every ancestor's separator key that routes to
// childID, for as long as childID is the ancestor's child at index 0
// (spec.md §4.3 "Deletion"): the routing key for index 0 is a dummy that
// is never itself compared, so the fix propagates to the next ancestor up.
// Only ancestors still held in path are rewritten; an ancestor whose latch
// was released during the descent because it proved safe keeps its old
// separator key.
func (t *Tree) updateAncestorKeys(path *writePath, childID disk.PageID, newFirstKey []byte) {
	for i := len(path.frames) - 2; i >= 0; i-- {
		in := wrapInternal(path.frames[i].Data(), t.keySize)
		idx := in.indexOfChild(childID)
		if idx < 0 {
			return
		}
		if idx != 0 {
			in.setEntryAt(idx, newFirstKey, childID)
			return
		}
		childID = in.pageID()
	}
}

// coalesceOrRedistribute handles an underflowing non-root node at the tail
// of path: find a sibling through the parent, and either merge into it or
// borrow one entry from it (spec.md §4.3). Consumes (unlocks/unpins)
// everything in path before returning.
func (t *Tree) coalesceOrRedistribute(path *writePath) error {
	idx := len(path.frames) - 1
	nodeFrame := path.frames[idx]
	parentFrame := path.frames[idx-1]
	parentID := path.ids[idx-1]
	in := wrapInternal(parentFrame.Data(), t.keySize)

	childID := nodeFrame.PageID()
	myIndex := in.indexOfChild(childID)
	if myIndex < 0 {
		path.releaseAll(t.pool, true)
		return fmt.Errorf("btree: node %d missing from parent %d", childID, parentID)
	}

	var siblingIndex int
	if myIndex == 0 {
		siblingIndex = 1
	} else {
		siblingIndex = myIndex - 1
	}

	siblingID := in.childAt(siblingIndex)
	sibFrame, err := t.pool.FetchPage(siblingID)
	if err != nil {
		path.releaseAll(t.pool, true)
		return err
	}
	sibFrame.Latch.Lock()

	if isBTreeLeafData(nodeFrame.Data()) {
		l := wrapLeaf(nodeFrame.Data(), t.keySize)
		sib := wrapLeaf(sibFrame.Data(), t.keySize)
		if l.size()+sib.size() <= l.maxSize() {
			return t.coalesceLeaves(path, myIndex, siblingIndex, l, sib, sibFrame)
		}
		return t.redistributeLeaves(path, myIndex, siblingIndex, l, sib, sibFrame)
	}

	in2 := wrapInternal(nodeFrame.Data(), t.keySize)
	sib2 := wrapInternal(sibFrame.Data(), t.keySize)
	if in2.size()+sib2.size() <= in2.maxSize() {
		return t.coalesceInternals(path, myIndex, siblingIndex, in2, sib2, sibFrame)
	}
	return t.redistributeInternals(path, myIndex, siblingIndex, in2, sib2, sibFrame)
}

func isBTreeLeafData(buf []byte) bool {
	return disk.UnmarshalHeader(buf).Type == disk.PageTypeBTreeLeaf
}

// finishParentAfterMerge runs after a child of path.frames[idx-1] was just
// removed by a merge: if the parent now underflows, recurse
// coalesceOrRedistribute one level up; if the parent is the root and has
// shrunk to one child, AdjustRoot; otherwise release the remaining path.
func (t *Tree) finishParentAfterMerge(path *writePath, idx int) error {
	parentFrame := path.frames[idx-1]
	parent := wrapInternal(parentFrame.Data(), t.keySize)
	parentIsRoot := parent.parentPageID() == disk.InvalidPageID

	if !parentIsRoot && parent.size() < parent.minSize() {
		path.frames = path.frames[:idx]
		path.ids = path.ids[:idx]
		return t.coalesceOrRedistribute(path)
	}
	if parentIsRoot && parent.size() <= 1 {
		path.frames = path.frames[:idx]
		path.ids = path.ids[:idx]
		return t.adjustRoot(path)
	}
	for i := 0; i < idx; i++ {
		path.frames[i].Latch.Unlock()
		t.pool.UnpinPage(path.ids[i], true)
	}
	return nil
}

// coalesceLeaves merges the right leaf into the left one, fixes the
// sibling chain, and removes the parent's separator.
func (t *Tree) coalesceLeaves(path *writePath, myIndex, sibIndex int, l, sib leafNode, sibFrame *buffer.Frame) error {
	idx := len(path.frames) - 1
	parentFrame := path.frames[idx-1]
	in := wrapInternal(parentFrame.Data(), t.keySize)
	nodeFrame := path.frames[idx]

	var left, right leafNode
	var leftFrame, rightFrame *buffer.Frame
	var rightIndex int
	if myIndex < sibIndex {
		left, right = l, sib
		leftFrame, rightFrame = nodeFrame, sibFrame
		rightIndex = sibIndex
	} else {
		left, right = sib, l
		leftFrame, rightFrame = sibFrame, nodeFrame
		rightIndex = myIndex
	}

	right.moveAllTo(left)
	left.setNextPageID(right.nextPageID())
	in.removeAt(rightIndex)

	rightID := rightFrame.PageID()
	leftID := leftFrame.PageID()
	leftFrame.Latch.Unlock()
	rightFrame.Latch.Unlock()
	t.pool.UnpinPage(leftID, true)
	t.pool.UnpinPage(rightID, true)

	if err := t.pool.DeletePage(rightID); err != nil {
		for i := 0; i < idx-1; i++ {
			path.frames[i].Latch.Unlock()
			t.pool.UnpinPage(path.ids[i], true)
		}
		return err
	}

	return t.finishParentAfterMerge(path, idx)
}

// redistributeLeaves borrows one entry from sib into the underflowing leaf
// and updates the parent's separator key.
func (t *Tree) redistributeLeaves(path *writePath, myIndex, sibIndex int, l, sib leafNode, sibFrame *buffer.Frame) error {
	idx := len(path.frames) - 1
	parentFrame := path.frames[idx-1]
	in := wrapInternal(parentFrame.Data(), t.keySize)

	if sibIndex < myIndex {
		sib.moveLastToFrontOf(l)
		in.setEntryAt(myIndex, append([]byte(nil), l.keyAt(0)...), l.pageID())
	} else {
		sib.moveFirstToEndOf(l)
		in.setEntryAt(sibIndex, append([]byte(nil), sib.keyAt(0)...), sib.pageID())
	}

	sibFrame.Latch.Unlock()
	t.pool.UnpinPage(sib.pageID(), true)
	path.releaseAll(t.pool, true)
	return nil
}

func (t *Tree) coalesceInternals(path *writePath, myIndex, sibIndex int, in, sib internalNode, sibFrame *buffer.Frame) error {
	idx := len(path.frames) - 1
	parentFrame := path.frames[idx-1]
	parent := wrapInternal(parentFrame.Data(), t.keySize)
	nodeFrame := path.frames[idx]

	var left, right internalNode
	var leftFrame, rightFrame *buffer.Frame
	var rightIndex int
	if myIndex < sibIndex {
		left, right = in, sib
		leftFrame, rightFrame = nodeFrame, sibFrame
		rightIndex = sibIndex
	} else {
		left, right = sib, in
		leftFrame, rightFrame = sibFrame, nodeFrame
		rightIndex = myIndex
	}

	// right's slot 0 key is a dummy within right itself, but once merged it
	// lands at the junction slot inside left, where it is a real separator:
	// seed it with the parent key that used to route to right before it
	// gets carried over by moveAllTo.
	right.setEntryAt(0, append([]byte(nil), parent.keyAt(rightIndex)...), right.childAt(0))
	right.moveAllTo(left)
	reparentChildren(t.pool, left, t.keySize, left.pageID())
	parent.removeAt(rightIndex)

	rightID := rightFrame.PageID()
	leftID := leftFrame.PageID()
	leftFrame.Latch.Unlock()
	rightFrame.Latch.Unlock()
	t.pool.UnpinPage(leftID, true)
	t.pool.UnpinPage(rightID, true)

	if err := t.pool.DeletePage(rightID); err != nil {
		for i := 0; i < idx-1; i++ {
			path.frames[i].Latch.Unlock()
			t.pool.UnpinPage(path.ids[i], true)
		}
		return err
	}

	return t.finishParentAfterMerge(path, idx)
}

func (t *Tree) redistributeInternals(path *writePath, myIndex, sibIndex int, in, sib internalNode, sibFrame *buffer.Frame) error {
	idx := len(path.frames) - 1
	parentFrame := path.frames[idx-1]
	parent := wrapInternal(parentFrame.Data(), t.keySize)

	// The slot-0 key that moves into a compared slot (in's own on a borrow
	// from the left, sib's on a borrow from the right) is first seeded with
	// the parent's separator between the two nodes, as in coalesceInternals.
	if sibIndex < myIndex {
		movedChild := sib.childAt(sib.size() - 1)
		in.setEntryAt(0, append([]byte(nil), parent.keyAt(myIndex)...), in.childAt(0))
		sib.moveLastToFrontOf(in)
		reparentOne(t.pool, movedChild, in.pageID())
		parent.setEntryAt(myIndex, append([]byte(nil), in.keyAt(0)...), in.pageID())
	} else {
		movedChild := sib.childAt(0)
		sib.setEntryAt(0, append([]byte(nil), parent.keyAt(sibIndex)...), movedChild)
		sib.moveFirstToEndOf(in)
		reparentOne(t.pool, movedChild, in.pageID())
		parent.setEntryAt(sibIndex, append([]byte(nil), sib.keyAt(0)...), sib.pageID())
	}

	sibFrame.Latch.Unlock()
	t.pool.UnpinPage(sib.pageID(), true)
	path.releaseAll(t.pool, true)
	return nil
}

func reparentOne(pool *buffer.Pool, childID disk.PageID, newParent disk.PageID) {
	f, err := pool.FetchPage(childID)
	if err != nil {
		return
	}
	f.Latch.Lock()
	node{buf: f.Data()}.setParentPageID(newParent)
	f.Latch.Unlock()
	pool.UnpinPage(childID, true)
}

// adjustRoot handles a root that has shrunk to the point of needing
// replacement (spec.md §4.3 "AdjustRoot"): an internal root with one child
// promotes that child to be the new root.
func (t *Tree) adjustRoot(path *writePath) error {
	idx := len(path.frames) - 1
	rootFrame := path.frames[idx]
	in := wrapInternal(rootFrame.Data(), t.keySize)

	newRootID := in.childAt(0)
	oldRootID := rootFrame.PageID()

	for i := 0; i < idx; i++ {
		path.frames[i].Latch.Unlock()
		t.pool.UnpinPage(path.ids[i], true)
	}
	rootFrame.Latch.Unlock()
	t.pool.UnpinPage(oldRootID, true)

	if err := t.setRootPageID(newRootID); err != nil {
		return err
	}
	reparentOne(t.pool, newRootID, disk.InvalidPageID)
	return t.pool.DeletePage(oldRootID)
}
