package btree

import (
	"encoding/binary"

	"github.com/arborkv/enginecore/disk"
)

// leafNode is a node wrapper exposing the leaf-specific entry array and
// sibling pointer. Entries are (key_bytes[keySize], row_id[8]) pairs
// sorted by key (spec.md §3, §6).
type leafNode struct {
	node
	keySize int
}

func wrapLeaf(buf []byte, keySize int) leafNode {
	return leafNode{node: node{buf: buf}, keySize: keySize}
}

func initLeaf(buf []byte, id, parent disk.PageID, maxSize, keySize int) leafNode {
	disk.MarshalHeader(disk.PageHeader{Type: disk.PageTypeBTreeLeaf, ID: id}, buf)
	l := leafNode{node: node{buf: buf}, keySize: keySize}
	l.setParentPageID(parent)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setKeySize(keySize)
	l.setNextPageID(disk.InvalidPageID)
	return l
}

func (l leafNode) nextPageID() disk.PageID {
	return disk.PageID(int32(binary.LittleEndian.Uint32(l.buf[leafNextPageOff:])))
}

func (l leafNode) setNextPageID(id disk.PageID) {
	binary.LittleEndian.PutUint32(l.buf[leafNextPageOff:], uint32(id))
}

func (l leafNode) entryOffset(i int) int {
	return leafEntriesOff + i*leafEntrySize(l.keySize)
}

func (l leafNode) keyAt(i int) []byte {
	off := l.entryOffset(i)
	return l.buf[off : off+l.keySize]
}

func (l leafNode) valueAt(i int) RowID {
	off := l.entryOffset(i) + l.keySize
	return unmarshalRowID(l.buf[off : off+RowIDSize])
}

func (l leafNode) setEntryAt(i int, key []byte, v RowID) {
	off := l.entryOffset(i)
	copy(l.buf[off:off+l.keySize], key)
	v.marshal(l.buf[off+l.keySize : off+l.keySize+RowIDSize])
}

// find returns the first index i with keyAt(i) >= key (binary search, per
// spec.md §4.3 "Lookup"), and whether that slot is an exact match.
func (l leafNode) find(key []byte, cmp Comparator) (int, bool) {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(l.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < l.size() && cmp.Compare(l.keyAt(lo), key) == 0
}

// insertAt shifts entries [i, size) right by one and writes (key,v) at i.
func (l leafNode) insertAt(i int, key []byte, v RowID) {
	sz := l.size()
	entrySize := leafEntrySize(l.keySize)
	src := l.buf[l.entryOffset(i):l.entryOffset(sz)]
	dst := l.buf[l.entryOffset(i+1):l.entryOffset(sz+1)]
	copy(dst, src)
	_ = entrySize
	l.setEntryAt(i, key, v)
	l.setSize(sz + 1)
}

// removeAt deletes entry i, shifting later entries left by one.
func (l leafNode) removeAt(i int) {
	sz := l.size()
	copy(l.buf[l.entryOffset(i):l.entryOffset(sz-1)], l.buf[l.entryOffset(i+1):l.entryOffset(sz)])
	l.setSize(sz - 1)
}

// moveHalfTo moves the upper half of l's entries to sibling, which must be
// empty. Resolves the original's off-by-one split arithmetic (spec.md §9
// open question) by giving the origin ⌈size/2⌉ entries and the sibling the
// remaining ⌊size/2⌋, so the two halves always sum to the original size.
func (l leafNode) moveHalfTo(sibling leafNode) {
	total := l.size()
	keep := (total + 1) / 2
	moveCount := total - keep
	entrySize := leafEntrySize(l.keySize)
	src := l.buf[l.entryOffset(keep):l.entryOffset(total)]
	dst := sibling.buf[sibling.entryOffset(0) : sibling.entryOffset(0)+moveCount*entrySize]
	copy(dst, src)
	sibling.setSize(moveCount)
	l.setSize(keep)
}

// moveAllTo appends all of l's entries to the end of sibling (used when
// coalescing a right sibling into a left one).
func (l leafNode) moveAllTo(sibling leafNode) {
	n := l.size()
	entrySize := leafEntrySize(l.keySize)
	src := l.buf[l.entryOffset(0):l.entryOffset(n)]
	dstStart := sibling.size()
	dst := sibling.buf[sibling.entryOffset(dstStart) : sibling.entryOffset(dstStart)+n*entrySize]
	copy(dst, src)
	sibling.setSize(dstStart + n)
	l.setSize(0)
}

// moveFirstToEndOf moves l's first entry to the end of sibling (redistribute
// from a right sibling into a left, underflowing node).
func (l leafNode) moveFirstToEndOf(sibling leafNode) {
	key := append([]byte(nil), l.keyAt(0)...)
	val := l.valueAt(0)
	l.removeAt(0)
	sibling.insertAt(sibling.size(), key, val)
}

// moveLastToFrontOf moves l's last entry to the front of sibling
// (redistribute from a left sibling into a right, underflowing node).
func (l leafNode) moveLastToFrontOf(sibling leafNode) {
	last := l.size() - 1
	key := append([]byte(nil), l.keyAt(last)...)
	val := l.valueAt(last)
	l.removeAt(last)
	sibling.insertAt(0, key, val)
}
