// Package buffer implements the bounded-memory buffer pool that sits between
// the B+ tree and the disk manager: a fixed number of in-memory frames, a
// page table mapping page ids to frames, and a pluggable eviction policy.
package buffer

// Replacer tracks which unpinned frames are eligible for eviction and
// chooses a victim among them. Implementations are grounded on the
// original's LRUReplacer/ClockReplacer (original_source/src/buffer/
// lru_replacer.cpp, clock_replacer.cpp): frames become trackable via
// Unpin and stop being trackable — because they were evicted or re-pinned
// — via Victim/Pin.
type Replacer interface {
	// Victim selects a frame to evict, removes it from tracking, and
	// returns its id. Returns false if no frame is currently evictable.
	Victim() (frameID int, ok bool)

	// Pin marks a frame as no longer evictable (a caller has pinned its
	// page). A no-op if the frame isn't currently tracked.
	Pin(frameID int)

	// Unpin marks a frame as evictable. A no-op if already tracked.
	Unpin(frameID int)

	// Size reports how many frames are currently evictable.
	Size() int
}
