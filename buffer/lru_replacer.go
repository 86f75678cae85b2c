package buffer

import (
	"container/list"
	"sync"
)

// LRUReplacer evicts the least-recently-unpinned frame first, the way the
// original's LRUReplacer (original_source/src/buffer/lru_replacer.cpp)
// maintains an ordered list of unpinned frames — oldest at the back,
// freshest at the front.
//
// LRUReplacer holds its own mutex (spec.md §5: "each replacer holds its own
// mutex covering its internal structures") so it is independently safe to
// call even though Pool also serializes its own callers.
type LRUReplacer struct {
	mu    sync.Mutex
	order *list.List
	pos   map[int]*list.Element
}

// NewLRUReplacer returns a replacer with room to track up to capacity frames.
func NewLRUReplacer(capacity int) *LRUReplacer {
	return &LRUReplacer{
		order: list.New(),
		pos:   make(map[int]*list.Element, capacity),
	}
}

func (r *LRUReplacer) Victim() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	back := r.order.Back()
	if back == nil {
		return 0, false
	}
	r.order.Remove(back)
	frameID := back.Value.(int)
	delete(r.pos, frameID)
	return frameID, true
}

func (r *LRUReplacer) Pin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.pos[frameID]; ok {
		r.order.Remove(el)
		delete(r.pos, frameID)
	}
}

func (r *LRUReplacer) Unpin(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pos[frameID]; ok {
		return
	}
	r.pos[frameID] = r.order.PushFront(frameID)
}

func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
