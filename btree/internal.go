package btree

import (
	"encoding/binary"

	"github.com/arborkv/enginecore/disk"
)

// internalNode is a node wrapper exposing the internal-page entry array:
// (key_bytes[keySize], child_page_id[4]) pairs. Index 0's key is a dummy,
// never compared (spec.md §3, §6); child at index 0 roots the subtree for
// keys strictly less than keyAt(1).
type internalNode struct {
	node
	keySize int
}

func wrapInternal(buf []byte, keySize int) internalNode {
	return internalNode{node: node{buf: buf}, keySize: keySize}
}

func initInternal(buf []byte, id, parent disk.PageID, maxSize, keySize int) internalNode {
	disk.MarshalHeader(disk.PageHeader{Type: disk.PageTypeBTreeInternal, ID: id}, buf)
	n := internalNode{node: node{buf: buf}, keySize: keySize}
	n.setParentPageID(parent)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setKeySize(keySize)
	return n
}

func (n internalNode) entryOffset(i int) int {
	return internalEntriesOff + i*internalEntrySize(n.keySize)
}

func (n internalNode) keyAt(i int) []byte {
	off := n.entryOffset(i)
	return n.buf[off : off+n.keySize]
}

func (n internalNode) childAt(i int) disk.PageID {
	off := n.entryOffset(i) + n.keySize
	return disk.PageID(int32(binary.LittleEndian.Uint32(n.buf[off : off+4])))
}

func (n internalNode) setEntryAt(i int, key []byte, child disk.PageID) {
	off := n.entryOffset(i)
	copy(n.buf[off:off+n.keySize], key)
	binary.LittleEndian.PutUint32(n.buf[off+n.keySize:off+n.keySize+4], uint32(child))
}

// setFirstChild populates index 0, whose key is never compared.
func (n internalNode) setFirstChild(child disk.PageID) {
	zero := make([]byte, n.keySize)
	n.setEntryAt(0, zero, child)
	if n.size() == 0 {
		n.setSize(1)
	}
}

// childIndexFor returns the greatest index i such that keyAt(i) <= key
// (spec.md §4.3 "Lookup"): the subtree to descend into for key.
func (n internalNode) childIndexFor(key []byte, cmp Comparator) int {
	lo, hi := 1, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(n.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// indexOfChild returns the slot holding childID, or -1 if absent.
func (n internalNode) indexOfChild(childID disk.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == childID {
			return i
		}
	}
	return -1
}

// insertAt shifts entries [i, size) right by one and writes (key, child) at i.
func (n internalNode) insertAt(i int, key []byte, child disk.PageID) {
	sz := n.size()
	src := n.buf[n.entryOffset(i):n.entryOffset(sz)]
	dst := n.buf[n.entryOffset(i+1):n.entryOffset(sz+1)]
	copy(dst, src)
	n.setEntryAt(i, key, child)
	n.setSize(sz + 1)
}

func (n internalNode) removeAt(i int) {
	sz := n.size()
	copy(n.buf[n.entryOffset(i):n.entryOffset(sz-1)], n.buf[n.entryOffset(i+1):n.entryOffset(sz)])
	n.setSize(sz - 1)
}

// moveHalfTo moves the upper half of n's entries (including their children)
// to sibling, matching leafNode.moveHalfTo's corrected split arithmetic.
func (n internalNode) moveHalfTo(sibling internalNode) {
	total := n.size()
	keep := (total + 1) / 2
	moveCount := total - keep
	entrySize := internalEntrySize(n.keySize)
	src := n.buf[n.entryOffset(keep):n.entryOffset(total)]
	dst := sibling.buf[sibling.entryOffset(0) : sibling.entryOffset(0)+moveCount*entrySize]
	copy(dst, src)
	sibling.setSize(moveCount)
	n.setSize(keep)
}

func (n internalNode) moveAllTo(sibling internalNode) {
	cnt := n.size()
	entrySize := internalEntrySize(n.keySize)
	src := n.buf[n.entryOffset(0):n.entryOffset(cnt)]
	dstStart := sibling.size()
	dst := sibling.buf[sibling.entryOffset(dstStart) : sibling.entryOffset(dstStart)+cnt*entrySize]
	copy(dst, src)
	sibling.setSize(dstStart + cnt)
	n.setSize(0)
}

func (n internalNode) moveFirstToEndOf(sibling internalNode) {
	key := append([]byte(nil), n.keyAt(0)...)
	child := n.childAt(0)
	n.removeAt(0)
	sibling.insertAt(sibling.size(), key, child)
}

func (n internalNode) moveLastToFrontOf(sibling internalNode) {
	last := n.size() - 1
	key := append([]byte(nil), n.keyAt(last)...)
	child := n.childAt(last)
	n.removeAt(last)
	sibling.insertAt(0, key, child)
}
