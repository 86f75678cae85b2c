package btree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

// ErrKeyTooLarge is returned when a caller passes a key whose length does
// not match the tree's configured key size.
var ErrKeyTooLarge = errors.New("btree: key length does not match index key size")

// Tree is a persistent B+ tree index: an ordered map from fixed-width keys
// to RowIDs, with every node a buffer-pool page. Grounded on the original's
// BPlusTree (original_source/src/index/b_plus_tree.cpp).
type Tree struct {
	pool            *buffer.Pool
	indexID         uint32
	keySize         int
	leafMaxSize     int
	internalMaxSize int
	cmp             Comparator

	mu         sync.Mutex
	lastPageID disk.PageID
}

// Options configures a Tree's node capacities and key comparison.
type Options struct {
	KeySize         int
	LeafMaxSize     int
	InternalMaxSize int
	Comparator      Comparator
}

// Open binds a Tree to indexID's entry in the index-roots page, creating
// the entry (with an empty/invalid root) if this is the first use of
// indexID.
func Open(pool *buffer.Pool, indexID uint32, opts Options) (*Tree, error) {
	if opts.Comparator == nil {
		opts.Comparator = ByteComparator{}
	}
	t := &Tree{
		pool:            pool,
		indexID:         indexID,
		keySize:         opts.KeySize,
		leafMaxSize:     opts.LeafMaxSize,
		internalMaxSize: opts.InternalMaxSize,
		cmp:             opts.Comparator,
		lastPageID:      disk.InvalidPageID,
	}
	f, err := ensureIndexRootsPage(pool)
	if err != nil {
		return nil, err
	}
	f.Latch.Lock()
	if lookupRoot(f.Data(), indexID) == disk.InvalidPageID && rootsCount(f.Data()) < maxRootsEntries {
		if err := setRoot(f.Data(), indexID, disk.InvalidPageID); err == nil {
			disk.SetCRC(f.Data())
		}
	}
	f.Latch.Unlock()
	if err := pool.UnpinPage(disk.IndexRootsPageID, true); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) rootPageID() (disk.PageID, error) {
	f, err := ensureIndexRootsPage(t.pool)
	if err != nil {
		return disk.InvalidPageID, err
	}
	f.Latch.RLock()
	root := lookupRoot(f.Data(), t.indexID)
	f.Latch.RUnlock()
	if err := t.pool.UnpinPage(disk.IndexRootsPageID, false); err != nil {
		return disk.InvalidPageID, err
	}
	return root, nil
}

func (t *Tree) setRootPageID(root disk.PageID) error {
	f, err := ensureIndexRootsPage(t.pool)
	if err != nil {
		return err
	}
	f.Latch.Lock()
	setErr := setRoot(f.Data(), t.indexID, root)
	if setErr == nil {
		disk.SetCRC(f.Data())
	}
	f.Latch.Unlock()
	if err := t.pool.UnpinPage(disk.IndexRootsPageID, true); err != nil {
		return err
	}
	return setErr
}

func (t *Tree) getLastPageID() disk.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPageID
}

func (t *Tree) setLastPageID(id disk.PageID) {
	t.mu.Lock()
	t.lastPageID = id
	t.mu.Unlock()
}

// IsEmpty reports whether the tree currently has no root.
func (t *Tree) IsEmpty() (bool, error) {
	root, err := t.rootPageID()
	if err != nil {
		return false, err
	}
	return root == disk.InvalidPageID, nil
}

// hotPathLeaf implements the §4.3 "hot path" shortcut: if the
// last-touched leaf's key range covers key, return it directly instead of
// descending from the root. Returns (nil, false, nil) on any miss,
// including a stale last_page_id_ that no longer names a leaf.
func (t *Tree) hotPathLeaf(key []byte) (*buffer.Frame, bool, error) {
	last := t.getLastPageID()
	if last == disk.InvalidPageID {
		return nil, false, nil
	}
	f, err := t.pool.FetchPage(last)
	if err != nil {
		return nil, false, nil
	}
	f.Latch.RLock()
	if disk.UnmarshalHeader(f.Data()).Type != disk.PageTypeBTreeLeaf {
		f.Latch.RUnlock()
		t.pool.UnpinPage(last, false)
		return nil, false, nil
	}
	l := wrapLeaf(f.Data(), t.keySize)
	if l.size() == 0 || t.cmp.Compare(key, l.keyAt(0)) < 0 || t.cmp.Compare(key, l.keyAt(l.size()-1)) > 0 {
		f.Latch.RUnlock()
		t.pool.UnpinPage(last, false)
		return nil, false, nil
	}
	// in range: since leaf keys are strictly increasing and the next
	// sibling's minimum key exceeds ours, containment in [first,last]
	// already proves key belongs here.
	return f, true, nil
}

// findLeafRead descends from root with read latches, releasing each
// ancestor as soon as its child is latched (spec.md §5 crab-latching).
func (t *Tree) findLeafRead(root disk.PageID, key []byte) (*buffer.Frame, error) {
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
		childID := in.childAt(in.childIndexFor(key, t.cmp))
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

// GetValue looks up key, trying the hot path first.
func (t *Tree) GetValue(key []byte) (RowID, bool, error) {
	if err := t.checkKeySize(key); err != nil {
		return RowID{}, false, err
	}
	if f, ok, err := t.hotPathLeaf(key); err != nil {
		return RowID{}, false, err
	} else if ok {
		l := wrapLeaf(f.Data(), t.keySize)
		idx, found := l.find(key, t.cmp)
		v := InvalidRowID
		if found {
			v = l.valueAt(idx)
		}
		f.Latch.RUnlock()
		t.pool.UnpinPage(l.pageID(), false)
		return v, found, nil
	}

	root, err := t.rootPageID()
	if err != nil {
		return RowID{}, false, err
	}
	if root == disk.InvalidPageID {
		return InvalidRowID, false, nil
	}
	leaf, err := t.findLeafRead(root, key)
	if err != nil {
		return RowID{}, false, err
	}
	l := wrapLeaf(leaf.Data(), t.keySize)
	idx, found := l.find(key, t.cmp)
	v := InvalidRowID
	if found {
		v = l.valueAt(idx)
	}
	t.setLastPageID(l.pageID())
	leaf.Latch.RUnlock()
	t.pool.UnpinPage(l.pageID(), false)
	return v, found, nil
}

func (t *Tree) checkKeySize(key []byte) error {
	if len(key) != t.keySize {
		return fmt.Errorf("%w: got %d want %d", ErrKeyTooLarge, len(key), t.keySize)
	}
	return nil
}

// writePath is the chain of write-latched, pinned ancestor frames retained
// during a structural insert/delete because an earlier safety check could
// not rule out a split/merge reaching them.
type writePath struct {
	frames []*buffer.Frame
	ids    []disk.PageID
}

func (p *writePath) push(f *buffer.Frame, id disk.PageID) {
	p.frames = append(p.frames, f)
	p.ids = append(p.ids, id)
}

// pruneSafe drops every ancestor except the most recently pushed one,
// releasing their write latches and unpinning them — the crab-latching
// release step, run once the newly pushed node proves safe.
func (p *writePath) pruneSafe(pool *buffer.Pool) {
	for i := 0; i < len(p.frames)-1; i++ {
		p.frames[i].Latch.Unlock()
		pool.UnpinPage(p.ids[i], false)
	}
	if len(p.frames) > 0 {
		p.frames = p.frames[len(p.frames)-1:]
		p.ids = p.ids[len(p.ids)-1:]
	}
}

func (p *writePath) releaseAll(pool *buffer.Pool, dirty bool) {
	for i := range p.frames {
		p.frames[i].Latch.Unlock()
		pool.UnpinPage(p.ids[i], dirty)
	}
	p.frames = nil
	p.ids = nil
}

func (p *writePath) leaf() *buffer.Frame { return p.frames[len(p.frames)-1] }

// parentOf returns the frame retained just above path.frames[idx], or nil
// and false if idx is 0 (the node at idx is the root, or its true parent's
// latch was already released because it was safe).
func (p *writePath) parentOf(idx int) (*buffer.Frame, disk.PageID, bool) {
	if idx == 0 {
		return nil, disk.InvalidPageID, false
	}
	return p.frames[idx-1], p.ids[idx-1], true
}

func safeForInsert(nd node) bool {
	return nd.size() < nd.maxSize()
}

func safeForDelete(nd node, isRoot bool) bool {
	if isRoot {
		if nd.isLeaf() {
			return nd.size() > 1
		}
		return nd.size() > 2
	}
	return nd.size() > nd.minSize()
}

// descendWrite walks from root to the target leaf, write-latching each
// node and pruning ancestors proven safe along the way, per safe.
func (t *Tree) descendWrite(root disk.PageID, key []byte, safe func(node, bool) bool) (*writePath, error) {
	path := &writePath{}
	curID := root
	isRoot := true
	for {
		f, err := t.pool.FetchPage(curID)
		if err != nil {
			path.releaseAll(t.pool, false)
			return nil, err
		}
		f.Latch.Lock()
		path.push(f, curID)
		nd := node{buf: f.Data()}
		if safe(nd, isRoot) {
			path.pruneSafe(t.pool)
		}
		if nd.isLeaf() {
			return path, nil
		}
		in := wrapInternal(f.Data(), t.keySize)
		curID = in.childAt(in.childIndexFor(key, t.cmp))
		isRoot = false
	}
}

// Insert inserts (key, value) if key is not already present. Returns false
// without modification if key is a duplicate.
func (t *Tree) Insert(key []byte, value RowID) (bool, error) {
	if err := t.checkKeySize(key); err != nil {
		return false, err
	}

	t.mu.Lock()
	root, err := t.rootPageID()
	if err != nil {
		t.mu.Unlock()
		return false, err
	}
	if root == disk.InvalidPageID {
		newRoot, err := t.startNewTree(key, value)
		t.mu.Unlock()
		if err != nil {
			return false, err
		}
		t.setLastPageID(newRoot)
		return true, nil
	}
	t.mu.Unlock()

	path, err := t.descendWrite(root, key, func(nd node, isRoot bool) bool { return safeForInsert(nd) })
	if err != nil {
		return false, err
	}

	leafFrame := path.leaf()
	l := wrapLeaf(leafFrame.Data(), t.keySize)
	idx, found := l.find(key, t.cmp)
	if found {
		path.releaseAll(t.pool, false)
		return false, nil
	}
	l.insertAt(idx, key, value)
	t.setLastPageID(l.pageID())

	if !l.isOverflowing() {
		path.releaseAll(t.pool, true)
		return true, nil
	}
	if err := t.splitLeafAndInsertParent(path); err != nil {
		return false, err
	}
	return true, nil
}

// startNewTree creates the tree's first page, a leaf root holding (key,
// value) alone.
func (t *Tree) startNewTree(key []byte, value RowID) (disk.PageID, error) {
	root, err := t.rootPageID()
	if err != nil {
		return disk.InvalidPageID, err
	}
	if root != disk.InvalidPageID {
		// another goroutine created the root first under the window
		// between the unlocked rootPageID check and startNewTree; fall
		// back to a normal insert against the now-existing root.
		path, err := t.descendWrite(root, key, func(nd node, isRoot bool) bool { return safeForInsert(nd) })
		if err != nil {
			return disk.InvalidPageID, err
		}
		l := wrapLeaf(path.leaf().Data(), t.keySize)
		idx, found := l.find(key, t.cmp)
		if found {
			path.releaseAll(t.pool, false)
			return l.pageID(), nil
		}
		l.insertAt(idx, key, value)
		if !l.isOverflowing() {
			path.releaseAll(t.pool, true)
			return l.pageID(), nil
		}
		if err := t.splitLeafAndInsertParent(path); err != nil {
			return disk.InvalidPageID, err
		}
		return l.pageID(), nil
	}

	f, id, err := t.pool.NewPage()
	if err != nil {
		return disk.InvalidPageID, fmt.Errorf("btree: out of memory creating root leaf: %w", err)
	}
	l := initLeaf(f.Data(), id, disk.InvalidPageID, t.leafMaxSize, t.keySize)
	l.insertAt(0, key, value)
	if err := t.pool.UnpinPage(id, true); err != nil {
		return disk.InvalidPageID, err
	}
	if err := t.setRootPageID(id); err != nil {
		return disk.InvalidPageID, err
	}
	return id, nil
}

// splitLeafAndInsertParent splits the overflowing leaf at the tail of path,
// then inserts the sibling's first key into the parent, recursing upward
// through internal overflows and creating a new root if needed.
func (t *Tree) splitLeafAndInsertParent(path *writePath) error {
	leafFrame := path.frames[len(path.frames)-1]
	l := wrapLeaf(leafFrame.Data(), t.keySize)

	sibFrame, sibID, err := t.pool.NewPage()
	if err != nil {
		path.releaseAll(t.pool, true)
		return fmt.Errorf("btree: out of memory splitting leaf: %w", err)
	}
	sib := initLeaf(sibFrame.Data(), sibID, l.parentPageID(), t.leafMaxSize, t.keySize)
	l.moveHalfTo(sib)
	sib.setNextPageID(l.nextPageID())
	l.setNextPageID(sibID)
	separator := append([]byte(nil), sib.keyAt(0)...)

	return t.insertIntoParent(path, len(path.frames)-1, l.pageID(), sibID, sibFrame, separator)
}

// insertIntoParent inserts (separator, rightID) into the parent of the node
// at path.frames[idx] (which just split into (leftID, rightID)). If idx is
// 0, the node being split was the root, so a brand-new internal root is
// created instead.
func (t *Tree) insertIntoParent(path *writePath, idx int, leftID, rightID disk.PageID, rightFrame *buffer.Frame, separator []byte) error {
	parentFrame, parentID, hasParent := path.parentOf(idx)
	if !hasParent {
		// leftID's node was the root: create a new internal root.
		newRootFrame, newRootID, err := t.pool.NewPage()
		if err != nil {
			t.pool.UnpinPage(rightID, true)
			path.releaseAll(t.pool, true)
			return fmt.Errorf("btree: out of memory creating new root: %w", err)
		}
		newRoot := initInternal(newRootFrame.Data(), newRootID, disk.InvalidPageID, t.internalMaxSize, t.keySize)
		newRoot.setFirstChild(leftID)
		newRoot.insertAt(1, separator, rightID)

		setParent(path.frames[idx], t.keySize, newRootID)
		setChildParent(t.pool, rightFrame, rightID, t.keySize, newRootID)

		if err := t.pool.UnpinPage(newRootID, true); err != nil {
			t.pool.UnpinPage(rightID, true)
			path.releaseAll(t.pool, true)
			return err
		}
		if err := t.setRootPageID(newRootID); err != nil {
			t.pool.UnpinPage(rightID, true)
			path.releaseAll(t.pool, true)
			return err
		}
		t.pool.UnpinPage(rightID, true)
		path.releaseAll(t.pool, true)
		return nil
	}

	in := wrapInternal(parentFrame.Data(), t.keySize)
	insertPos := in.indexOfChild(leftID) + 1
	in.insertAt(insertPos, separator, rightID)
	setChildParent(t.pool, rightFrame, rightID, t.keySize, parentID)
	t.pool.UnpinPage(rightID, true)
	// leftID's own frame (path.frames[idx]) is released here and dropped
	// from path, since its parent pointer never changes on a split.
	path.frames[idx].Latch.Unlock()
	t.pool.UnpinPage(leftID, true)
	path.frames = path.frames[:idx]
	path.ids = path.ids[:idx]

	if !in.isOverflowing() {
		// parent absorbed the new separator without overflowing; release
		// the remaining retained ancestors (parent and anything above it
		// that was kept because parent itself might have needed them —
		// none do, since parent proved safe by not overflowing).
		for i := 0; i <= idx-1; i++ {
			path.frames[i].Latch.Unlock()
			t.pool.UnpinPage(path.ids[i], true)
		}
		return nil
	}

	// Parent overflowed: split it too and recurse one level up.
	parentSibFrame, parentSibID, err := t.pool.NewPage()
	if err != nil {
		for i := 0; i <= idx-1; i++ {
			path.frames[i].Latch.Unlock()
			t.pool.UnpinPage(path.ids[i], true)
		}
		return fmt.Errorf("btree: out of memory splitting internal node: %w", err)
	}
	parentSib := initInternal(parentSibFrame.Data(), parentSibID, in.parentPageID(), t.internalMaxSize, t.keySize)
	in.moveHalfTo(parentSib)
	parentSeparator := append([]byte(nil), parentSib.keyAt(0)...)
	reparentChildren(t.pool, parentSib, t.keySize, parentSibID)

	return t.insertIntoParent(path, idx-1, parentID, parentSibID, parentSibFrame, parentSeparator)
}

func setParent(f *buffer.Frame, keySize int, parent disk.PageID) {
	node{buf: f.Data()}.setParentPageID(parent)
}

// setChildParent updates a child's parent pointer through the buffer pool,
// fetching it if it isn't the frame already in hand (spec.md §4.3
// "Parent-pointer persistence").
func setChildParent(pool *buffer.Pool, childFrame *buffer.Frame, childID disk.PageID, keySize int, parent disk.PageID) {
	node{buf: childFrame.Data()}.setParentPageID(parent)
}

// reparentChildren rewrites the parent pointer of every child referenced
// by an internal node that just received entries via a split or merge.
func reparentChildren(pool *buffer.Pool, in internalNode, keySize int, newParent disk.PageID) {
	for i := 0; i < in.size(); i++ {
		childID := in.childAt(i)
		f, err := pool.FetchPage(childID)
		if err != nil {
			continue
		}
		f.Latch.Lock()
		node{buf: f.Data()}.setParentPageID(newParent)
		f.Latch.Unlock()
		pool.UnpinPage(childID, true)
	}
}
