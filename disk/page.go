// Package disk implements the storage engine's page-addressed disk manager:
// fixed-size pages, a file-metadata page, and a chain of bitmap pages used
// to allocate and free data pages. It is the only component that touches
// the database's OS file.
package disk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// PageSize is the fixed size of every page in the database file, in bytes.
const PageSize = 4096

// PageID is a stable logical page identifier. It is signed so that
// InvalidPageID can be represented as a sentinel below the valid range.
type PageID int32

// Sentinel page identifiers (spec.md §6).
const (
	InvalidPageID    PageID = -1
	MetaPageID       PageID = 0
	IndexRootsPageID PageID = 1
)

// PageType identifies the kind of data stored in a page.
type PageType uint8

const (
	PageTypeInvalid PageType = iota
	PageTypeMeta
	PageTypeBitmap
	PageTypeBTreeInternal
	PageTypeBTreeLeaf
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeMeta:
		return "Meta"
	case PageTypeBitmap:
		return "Bitmap"
	case PageTypeBTreeInternal:
		return "BTree-Internal"
	case PageTypeBTreeLeaf:
		return "BTree-Leaf"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageHeaderSize is the size, in bytes, of the common header written at the
// start of every page.
//
// Layout:
//
//	[0]     Type   (1 byte)
//	[1:4]   Reserved
//	[4:8]   ID     (4 bytes, int32 LE) — the page's own logical/physical id
//	[8:12]  CRC32  (4 bytes LE, Castagnoli) — covers the rest of the page
//	[12:16] Reserved
const PageHeaderSize = 16

// crcTable is the CRC32-C table used to detect on-disk corruption.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PageHeader is the common header present at the start of every page.
type PageHeader struct {
	Type PageType
	ID   PageID
	CRC  uint32
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h PageHeader, buf []byte) {
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC)
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	return PageHeader{
		Type: PageType(buf[0]),
		ID:   PageID(int32(binary.LittleEndian.Uint32(buf[4:8]))),
		CRC:  binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// ComputeCRC computes the CRC32-C of a page, treating the CRC field
// (bytes 8..12) as zero during computation.
func ComputeCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:8])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[12:])
	return h.Sum32()
}

// SetCRC recomputes and stores the page's CRC.
func SetCRC(page []byte) {
	binary.LittleEndian.PutUint32(page[8:12], ComputeCRC(page))
}

// VerifyCRC reports a corruption error if the stored CRC does not match the
// computed one.
func VerifyCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[8:12])
	computed := ComputeCRC(page)
	if stored != computed {
		id := PageID(int32(binary.LittleEndian.Uint32(page[4:8])))
		return fmt.Errorf("%w: page %d stored=%08x computed=%08x", ErrCorrupt, id, stored, computed)
	}
	return nil
}

// NewZeroPage allocates a zeroed page buffer with its header pre-filled.
func NewZeroPage(pt PageType, id PageID) []byte {
	buf := make([]byte, PageSize)
	MarshalHeader(PageHeader{Type: pt, ID: id}, buf)
	SetCRC(buf)
	return buf
}
