package disk

import (
	"encoding/binary"
	"fmt"
)

// MaxExtents bounds the fixed-size per-extent usage counter array stored in
// the file-metadata page, matching the original's fixed-capacity
// DiskFileMetaPage layout. With BitmapMaxSupportedSize() data pages per
// extent this supports a multi-gigabyte database; growing past it reports
// ErrSpaceExhausted rather than silently wrapping.
const MaxExtents = 1000

// metaMagic identifies a valid database file, the way the teacher's
// Superblock magic bytes do (internal/storage/pager/superblock.go).
const metaMagic = "ENGCORE\x00"

const (
	metaMagicOff          = PageHeaderSize          // 16
	metaNumAllocatedOff   = metaMagicOff + 8        // 24
	metaNumExtentsOff     = metaNumAllocatedOff + 4 // 28
	metaExtentUsedPageOff = metaNumExtentsOff + 4   // 32
)

// FileMeta holds the parsed contents of physical page 0 (spec.md §3
// "File metadata page" / §6 "File layout").
type FileMeta struct {
	NumAllocatedPages uint32
	NumExtents        uint32
	ExtentUsedPage    [MaxExtents]uint32
}

// NewFileMeta returns the metadata for a brand-new, empty database file.
func NewFileMeta() *FileMeta {
	return &FileMeta{}
}

// MarshalFileMeta serializes m into a full page buffer.
func MarshalFileMeta(m *FileMeta) []byte {
	buf := make([]byte, PageSize)
	MarshalHeader(PageHeader{Type: PageTypeMeta, ID: MetaPageID}, buf)
	copy(buf[metaMagicOff:metaMagicOff+8], metaMagic)
	binary.LittleEndian.PutUint32(buf[metaNumAllocatedOff:], m.NumAllocatedPages)
	binary.LittleEndian.PutUint32(buf[metaNumExtentsOff:], m.NumExtents)
	for i, v := range m.ExtentUsedPage {
		off := metaExtentUsedPageOff + i*4
		binary.LittleEndian.PutUint32(buf[off:], v)
	}
	SetCRC(buf)
	return buf
}

// UnmarshalFileMeta parses physical page 0, verifying its CRC and magic.
func UnmarshalFileMeta(buf []byte) (*FileMeta, error) {
	if len(buf) < PageSize {
		return nil, fmt.Errorf("%w: meta page too small: %d bytes", ErrCorrupt, len(buf))
	}
	if err := VerifyCRC(buf); err != nil {
		return nil, err
	}
	magic := string(buf[metaMagicOff : metaMagicOff+8])
	if magic != metaMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, magic)
	}
	m := &FileMeta{
		NumAllocatedPages: binary.LittleEndian.Uint32(buf[metaNumAllocatedOff:]),
		NumExtents:        binary.LittleEndian.Uint32(buf[metaNumExtentsOff:]),
	}
	for i := range m.ExtentUsedPage {
		off := metaExtentUsedPageOff + i*4
		m.ExtentUsedPage[i] = binary.LittleEndian.Uint32(buf[off:])
	}
	return m, nil
}
