package disk

import "errors"

// Sentinel errors for four of the five error kinds spec.md §7 names (kinds
// 1, 3, 4 and 5); kind 2, "not found", has no sentinel here: a never-written
// page reads as zeros and freeing an already-free page is a no-op. Callers
// use errors.Is against these rather than matching message strings.
var (
	// ErrSpaceExhausted is kind 1: the allocator has no free page slot left
	// in the address space it is willing to grow to.
	ErrSpaceExhausted = errors.New("disk: address space exhausted")

	// ErrInvalidPageID is kind 3: a precondition violation — the caller
	// passed a negative page id (InvalidPageID included).
	ErrInvalidPageID = errors.New("disk: invalid page id")

	// ErrCorrupt is kind 4: a magic-number or CRC mismatch on deserialization.
	ErrCorrupt = errors.New("disk: corrupt page")

	// ErrIO is kind 5: the underlying file read/write failed.
	ErrIO = errors.New("disk: i/o error")
)
