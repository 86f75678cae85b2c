package buffer

import (
	"sync"

	"github.com/arborkv/enginecore/disk"
)

// Frame is one in-memory slot of the buffer pool: a page-sized byte buffer
// plus the bookkeeping the pool needs to track what's in it.
//
// Latch is the frame's crab-latch: the B+ tree coordinates concurrent
// descents by RLock-ing frames it merely reads and Lock-ing frames it may
// split, merge, or otherwise mutate, releasing ancestors' latches once a
// child proves safe.
type Frame struct {
	Latch sync.RWMutex

	id       int
	data     []byte
	pageID   disk.PageID
	pinCount int
	dirty    bool
}

// Data returns the frame's page-sized buffer. Callers must hold Latch.
func (f *Frame) Data() []byte { return f.data }

// PageID returns the logical page currently held in this frame.
func (f *Frame) PageID() disk.PageID { return f.pageID }

// Dirty reports whether the frame has unflushed writes.
func (f *Frame) Dirty() bool { return f.dirty }

// PinCount reports the frame's current pin count.
func (f *Frame) PinCount() int { return f.pinCount }
