// Package btree implements the persistent, order-preserving B+ tree index
// that maps fixed-width keys to row identifiers. Every node is a
// buffer-pool page; structural changes (split, coalesce, redistribute)
// thread through fetch/unpin calls, grounded on the original's BPlusTree
// (original_source/src/index/b_plus_tree.cpp) and its leaf/internal node
// pages.
package btree

import (
	"encoding/binary"

	"github.com/arborkv/enginecore/disk"
)

// RowIDSize is the on-disk width of a RowID: a page id plus a slot index.
const RowIDSize = 8

// RowID identifies a tuple in an external table heap: a page and a slot
// within it. The B+ tree stores these as leaf values without interpreting
// them further.
type RowID struct {
	PageID disk.PageID
	Slot   uint32
}

// InvalidRowID is the sentinel GetValue returns when a lookup misses.
var InvalidRowID = RowID{PageID: disk.InvalidPageID}

func (r RowID) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], r.Slot)
}

func unmarshalRowID(buf []byte) RowID {
	return RowID{
		PageID: disk.PageID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Slot:   binary.LittleEndian.Uint32(buf[4:8]),
	}
}
