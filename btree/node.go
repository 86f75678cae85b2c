package btree

import (
	"encoding/binary"

	"github.com/arborkv/enginecore/disk"
)

// Node header layout, common to leaf and internal pages, immediately after
// the common disk.PageHeader (spec.md §6 "Serialized index-node layout"):
//
//	[16:20] ParentPageID (int32 LE)
//	[20:22] Size         (uint16 LE)
//	[22:24] MaxSize      (uint16 LE)
//	[24:26] KeySize      (uint16 LE)
//	[26:28] reserved
//
// Leaf pages additionally carry NextPageID at [28:32], with entries
// starting at 32; internal pages have no NextPageID and entries start at 28.
const (
	nodeParentOff  = disk.PageHeaderSize // 16
	nodeSizeOff    = nodeParentOff + 4   // 20
	nodeMaxSizeOff = nodeSizeOff + 2     // 22
	nodeKeySizeOff = nodeMaxSizeOff + 2  // 24

	leafNextPageOff    = 28
	leafEntriesOff     = 32
	internalEntriesOff = 28
)

// node wraps a page buffer with the header fields shared by leaf and
// internal pages.
type node struct {
	buf []byte
}

func (n node) pageType() disk.PageType {
	return disk.UnmarshalHeader(n.buf).Type
}

func (n node) pageID() disk.PageID {
	return disk.UnmarshalHeader(n.buf).ID
}

func (n node) isLeaf() bool {
	return n.pageType() == disk.PageTypeBTreeLeaf
}

func (n node) parentPageID() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(n.buf[nodeParentOff:])))
}

func (n node) setParentPageID(id disk.PageID) {
	binary.LittleEndian.PutUint32(n.buf[nodeParentOff:], uint32(id))
}

func (n node) size() int {
	return int(binary.LittleEndian.Uint16(n.buf[nodeSizeOff:]))
}

func (n node) setSize(sz int) {
	binary.LittleEndian.PutUint16(n.buf[nodeSizeOff:], uint16(sz))
}

func (n node) maxSize() int {
	return int(binary.LittleEndian.Uint16(n.buf[nodeMaxSizeOff:]))
}

func (n node) setMaxSize(sz int) {
	binary.LittleEndian.PutUint16(n.buf[nodeMaxSizeOff:], uint16(sz))
}

func (n node) keySize() int {
	return int(binary.LittleEndian.Uint16(n.buf[nodeKeySizeOff:]))
}

func (n node) setKeySize(sz int) {
	binary.LittleEndian.PutUint16(n.buf[nodeKeySizeOff:], uint16(sz))
}

// minSize is ⌈max_size/2⌉ for both leaves and internals (spec.md §3).
func (n node) minSize() int {
	m := n.maxSize()
	return (m + 1) / 2
}

// isOverflowing reports whether the node, after an insert, exceeds its
// capacity and must split.
func (n node) isOverflowing() bool {
	return n.size() > n.maxSize()
}

// leafEntrySize / internalEntrySize are the per-entry byte widths given a
// key size (spec.md §6): leaf entries are key+RowID, internal entries are
// key+child page id.
func leafEntrySize(keySize int) int     { return keySize + RowIDSize }
func internalEntrySize(keySize int) int { return keySize + 4 }
