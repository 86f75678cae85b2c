package disk

import "encoding/binary"

// Bitmap page layout (spec.md §3 "Bitmap page"):
//
//	[0:16]   Common PageHeader (Type=Bitmap)
//	[16:20]  PageAllocated  (uint32 LE) — count of set bits
//	[20:24]  NextFreePage   (uint32 LE) — hint: next offset likely free
//	[24:...] bit array, one bit per data page in the extent
const (
	bitmapAllocatedOff = PageHeaderSize         // 16
	bitmapNextFreeOff  = bitmapAllocatedOff + 4 // 20
	bitmapBitsOff      = bitmapNextFreeOff + 4  // 24
)

// BitmapMaxSupportedSize returns N, the number of data pages one bitmap page
// can describe: the bits that fit after the bitmap page's own header.
//
// spec.md §3 writes the simplified "N = PAGE_SIZE·8"; a real bitmap page
// must reserve room for its own header, so (as original_source's
// BitmapPage<PageSize>::GetMaxSupportedSize does) this computes N from the
// bytes actually available for the bit array.
func BitmapMaxSupportedSize() int {
	return (PageSize - bitmapBitsOff) * 8
}

// bitmapPage wraps a page buffer as a bitmap page.
type bitmapPage struct {
	buf []byte
}

func wrapBitmapPage(buf []byte) *bitmapPage {
	return &bitmapPage{buf: buf}
}

func initBitmapPage(buf []byte, id PageID) *bitmapPage {
	MarshalHeader(PageHeader{Type: PageTypeBitmap, ID: id}, buf)
	binary.LittleEndian.PutUint32(buf[bitmapAllocatedOff:], 0)
	binary.LittleEndian.PutUint32(buf[bitmapNextFreeOff:], 0)
	return &bitmapPage{buf: buf}
}

func (bp *bitmapPage) pageAllocated() uint32 {
	return binary.LittleEndian.Uint32(bp.buf[bitmapAllocatedOff:])
}

func (bp *bitmapPage) setPageAllocated(n uint32) {
	binary.LittleEndian.PutUint32(bp.buf[bitmapAllocatedOff:], n)
}

func (bp *bitmapPage) nextFreePage() uint32 {
	return binary.LittleEndian.Uint32(bp.buf[bitmapNextFreeOff:])
}

func (bp *bitmapPage) setNextFreePage(off uint32) {
	binary.LittleEndian.PutUint32(bp.buf[bitmapNextFreeOff:], off)
}

func (bp *bitmapPage) isFree(offset uint32) bool {
	byteIdx := bitmapBitsOff + int(offset/8)
	bitIdx := offset % 8
	return bp.buf[byteIdx]&(1<<bitIdx) == 0
}

func (bp *bitmapPage) setBit(offset uint32) {
	byteIdx := bitmapBitsOff + int(offset/8)
	bitIdx := offset % 8
	bp.buf[byteIdx] |= 1 << bitIdx
}

func (bp *bitmapPage) clearBit(offset uint32) {
	byteIdx := bitmapBitsOff + int(offset/8)
	bitIdx := offset % 8
	bp.buf[byteIdx] &^= 1 << bitIdx
}

// allocate finds a free offset, marks it used, and re-seeds the locality
// hint. Returns (offset, false) if the extent is full.
//
// Grounded on original_source/src/page/bitmap_page.cpp BitmapPage::AllocatePage:
// the hinted next_free_page_ is handed out directly, then the bitmap is
// scanned forward to re-seed the hint for the next call.
func (bp *bitmapPage) allocate() (uint32, bool) {
	n := uint32(BitmapMaxSupportedSize())
	if bp.pageAllocated() >= n {
		return 0, false
	}
	offset := bp.nextFreePage()
	bp.setPageAllocated(bp.pageAllocated() + 1)
	bp.setBit(offset)
	for i := uint32(0); i < n; i++ {
		if bp.isFree(i) {
			bp.setNextFreePage(i)
			break
		}
	}
	return offset, true
}

// deallocate clears offset's bit and re-seeds the locality hint toward it.
// A no-op (idempotent) if the offset is already free.
func (bp *bitmapPage) deallocate(offset uint32) bool {
	if bp.isFree(offset) {
		return false
	}
	bp.setPageAllocated(bp.pageAllocated() - 1)
	bp.clearBit(offset)
	bp.setNextFreePage(offset)
	return true
}
