package buffer

import (
	"fmt"
	"sync"

	"github.com/arborkv/enginecore/disk"
)

// PinLeak describes a page that was still pinned when CheckAllUnpinned was
// called — supplementing the original's CheckAllUnpinned, which only
// returned a bool, with enough detail to find the leaking caller.
type PinLeak struct {
	PageID   disk.PageID
	PinCount int
}

// Pool is the bounded-memory buffer pool manager: a fixed number of frames
// backing pages fetched from a disk.Manager, evicted under a pluggable
// Replacer policy. Grounded on the original's BufferPoolManager
// (original_source/src/buffer/buffer_pool_manager.cpp).
type Pool struct {
	disk     *disk.Manager
	replacer Replacer

	mu        sync.Mutex
	frames    []*Frame
	pageTable map[disk.PageID]int
	freeList  []int
}

// NewPool creates a pool of poolSize frames backed by d, evicting under
// replacer's policy.
func NewPool(d *disk.Manager, poolSize int, replacer Replacer) *Pool {
	p := &Pool{
		disk:      d,
		replacer:  replacer,
		frames:    make([]*Frame, poolSize),
		pageTable: make(map[disk.PageID]int, poolSize),
		freeList:  make([]int, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		p.frames[i] = &Frame{id: i, data: make([]byte, disk.PageSize), pageID: disk.InvalidPageID}
		p.freeList[i] = poolSize - 1 - i
	}
	return p
}

// Size returns the number of frames in the pool.
func (p *Pool) Size() int { return len(p.frames) }

// victimFrame returns a frame id ready to be reused: one from the free
// list if available, otherwise the replacer's chosen victim. The caller
// must hold p.mu. Returns ok=false if the pool is exhausted (all frames
// pinned).
func (p *Pool) victimFrame() (int, bool) {
	if n := len(p.freeList); n > 0 {
		id := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return id, true
	}
	return p.replacer.Victim()
}

// flushFrameLocked writes a dirty frame's contents to disk. Caller must
// hold p.mu and the frame's write latch is not required since only the
// pool touches dirty/pageID bookkeeping while unpinned.
func (p *Pool) flushFrameLocked(f *Frame) error {
	if !f.dirty {
		return nil
	}
	if err := p.disk.WritePage(f.pageID, f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// FetchPage returns the frame holding id, reading it from disk if it is
// not already resident, and pins it. Callers must Unpin it when done.
func (p *Pool) FetchPage(id disk.PageID) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fid, ok := p.pageTable[id]; ok {
		f := p.frames[fid]
		if f.pinCount == 0 {
			p.replacer.Pin(fid)
		}
		f.pinCount++
		return f, nil
	}

	fid, ok := p.victimFrame()
	if !ok {
		return nil, fmt.Errorf("buffer: pool exhausted fetching page %d", id)
	}
	f := p.frames[fid]
	if err := p.evictLocked(f); err != nil {
		return nil, err
	}
	if err := p.disk.ReadPage(id, f.data); err != nil {
		p.freeList = append(p.freeList, fid)
		return nil, err
	}
	f.pageID = id
	f.pinCount = 1
	f.dirty = false
	p.pageTable[id] = fid
	return f, nil
}

// NewPage allocates a fresh logical page on disk, binds it to a pinned
// frame zero-initialized for the caller to populate, and returns both.
func (p *Pool) NewPage() (*Frame, disk.PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.victimFrame()
	if !ok {
		return nil, disk.InvalidPageID, fmt.Errorf("buffer: pool exhausted allocating new page")
	}
	f := p.frames[fid]
	if err := p.evictLocked(f); err != nil {
		return nil, disk.InvalidPageID, err
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		p.freeList = append(p.freeList, fid)
		return nil, disk.InvalidPageID, err
	}

	for i := range f.data {
		f.data[i] = 0
	}
	f.pageID = id
	f.pinCount = 1
	f.dirty = true
	p.pageTable[id] = fid
	return f, id, nil
}

// evictLocked removes f from the page table, flushing it first if dirty.
// Caller must hold p.mu. A no-op if f is not currently bound to a page.
func (p *Pool) evictLocked(f *Frame) error {
	if f.pageID == disk.InvalidPageID {
		return nil
	}
	if err := p.flushFrameLocked(f); err != nil {
		return err
	}
	delete(p.pageTable, f.pageID)
	f.pageID = disk.InvalidPageID
	return nil
}

// UnpinPage decrements id's pin count and, if isDirty, marks the frame
// dirty — the dirty bit is only ever set here, never cleared; a caller
// that already wrote through does not un-dirty a page another writer is
// still touching. A page reaches zero pins becomes eligible for eviction
// under the replacer, but is not flushed until evicted or FlushPage'd:
// UnpinPage never itself triggers a disk write.
func (p *Pool) UnpinPage(id disk.PageID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[id]
	if !ok {
		return fmt.Errorf("buffer: unpin of page %d not in pool", id)
	}
	f := p.frames[fid]
	if f.pinCount == 0 {
		return fmt.Errorf("buffer: unpin of page %d with zero pin count", id)
	}
	if isDirty {
		f.dirty = true
	}
	f.pinCount--
	if f.pinCount == 0 {
		p.replacer.Unpin(fid)
	}
	return nil
}

// FlushPage writes id's frame to disk immediately if it is resident.
func (p *Pool) FlushPage(id disk.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	fid, ok := p.pageTable[id]
	if !ok {
		return nil
	}
	return p.flushFrameLocked(p.frames[fid])
}

// FlushAll writes every dirty resident frame to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.frames {
		if err := p.flushFrameLocked(f); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage drops id from the pool without writing it back (its dirty
// flag is discarded), returns the frame to the free list, and frees its
// logical page on disk. Returns an error if the page is still pinned.
func (p *Pool) DeletePage(id disk.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[id]
	if !ok {
		return p.disk.DeAllocatePage(id)
	}
	f := p.frames[fid]
	if f.pinCount > 0 {
		return fmt.Errorf("buffer: delete of pinned page %d (pin count %d)", id, f.pinCount)
	}
	p.replacer.Pin(fid)
	delete(p.pageTable, id)
	f.pageID = disk.InvalidPageID
	f.dirty = false
	p.freeList = append(p.freeList, fid)
	return p.disk.DeAllocatePage(id)
}

// CheckAllUnpinned reports every page still pinned, for tests and the
// diagnostic CLI to catch pin leaks before close.
func (p *Pool) CheckAllUnpinned() []PinLeak {
	p.mu.Lock()
	defer p.mu.Unlock()
	var leaks []PinLeak
	for id, fid := range p.pageTable {
		if pc := p.frames[fid].pinCount; pc > 0 {
			leaks = append(leaks, PinLeak{PageID: id, PinCount: pc})
		}
	}
	return leaks
}
