package engine

import "github.com/google/uuid"

// The core deliberately does not implement transactions, locking, or
// logging (spec.md §1: "the core exposes hooks... but does not implement
// them"). These three handle types are that contract: opaque correlation
// identifiers a real transaction manager, lock manager, and log manager
// built on top of this engine can stamp onto their own records so that
// buffer-pool activity (which page, which frame) can be tied back to the
// operation that caused it — without the core importing, or depending on,
// any particular implementation of those three collaborators.
//
// Grounded on the teacher's own row/tuple correlation ids
// (internal/storage/uuid_helpers.go ParseUUID/UUIDToBytes), generalized
// here from "identify a row" to "identify an in-flight transaction, lock
// request, or log record" — the same `github.com/google/uuid` dependency,
// a different correlation target.

// TxHandle correlates buffer-pool and index activity with an in-flight
// transaction. The core never inspects or validates it; callers that build
// a transaction manager on top of this engine pass one through to Engine
// methods that accept it once they exist, purely for bookkeeping on their
// side.
type TxHandle struct {
	ID uuid.UUID
}

// NewTxHandle mints a fresh, randomly-identified transaction handle.
func NewTxHandle() TxHandle { return TxHandle{ID: uuid.New()} }

func (h TxHandle) String() string { return h.ID.String() }

// LockHandle correlates a granted (or requested) lock with the holder that
// asked for it. Like TxHandle, this is an inert correlation id: the core
// has no lock manager and never blocks a caller on one.
type LockHandle struct {
	ID uuid.UUID
}

// NewLockHandle mints a fresh lock handle.
func NewLockHandle() LockHandle { return LockHandle{ID: uuid.New()} }

func (h LockHandle) String() string { return h.ID.String() }

// LogHandle correlates an operation with the log record a real write-ahead
// log implementation would emit for it. The core performs synchronous page
// writes (spec.md §5 "Ordering guarantees") but does not itself write a
// log; a LogHandle lets a log manager built on top associate its own
// records with the buffer-pool/B+Tree call that produced them.
type LogHandle struct {
	ID uuid.UUID
}

// NewLogHandle mints a fresh log handle.
func NewLogHandle() LogHandle { return LogHandle{ID: uuid.New()} }

func (h LogHandle) String() string { return h.ID.String() }
