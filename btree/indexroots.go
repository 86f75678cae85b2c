package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

// The index-roots page (spec.md §3 "Index roots page", §6 sentinel
// INDEX_ROOTS_PAGE_ID) holds a small map: index id -> current root page id.
//
//	[16:18] Count (uint16 LE)
//	[18:..] Count entries of (index_id[4], root_page_id[4])
const (
	rootsCountOff   = disk.PageHeaderSize // 16
	rootsEntriesOff = rootsCountOff + 2   // 18
	rootsEntrySize  = 8
	maxRootsEntries = (disk.PageSize - rootsEntriesOff) / rootsEntrySize
)

// ensureIndexRootsPage fetches the well-known index-roots page, initializing
// it on first use if it reads back as all-zero (never written). On first use
// it also takes logical pages up to IndexRootsPageID from the allocator, so
// that no tree node is later handed the index-roots page's id.
func ensureIndexRootsPage(pool *buffer.Pool) (*buffer.Frame, error) {
	f, err := pool.FetchPage(disk.IndexRootsPageID)
	if err != nil {
		return nil, err
	}
	f.Latch.Lock()
	if disk.UnmarshalHeader(f.Data()).Type == disk.PageTypeInvalid {
		f.Latch.Unlock()
		pool.UnpinPage(disk.IndexRootsPageID, false)
		if err := pool.DeletePage(disk.IndexRootsPageID); err != nil {
			return nil, err
		}
		for id := disk.InvalidPageID; id != disk.IndexRootsPageID; {
			if f, id, err = pool.NewPage(); err != nil {
				return nil, err
			}
			if id > disk.IndexRootsPageID {
				return nil, fmt.Errorf("btree: allocator returned page %d, index-roots page %d is taken", id, disk.IndexRootsPageID)
			} else if id < disk.IndexRootsPageID {
				pool.UnpinPage(id, true)
			}
		}
		f.Latch.Lock()
		disk.MarshalHeader(disk.PageHeader{Type: disk.PageTypeMeta, ID: disk.IndexRootsPageID}, f.Data())
		binary.LittleEndian.PutUint16(f.Data()[rootsCountOff:], 0)
		disk.SetCRC(f.Data())
	}
	f.Latch.Unlock()
	return f, nil
}

func rootsCount(buf []byte) int {
	return int(binary.LittleEndian.Uint16(buf[rootsCountOff:]))
}

func rootsEntryOffset(i int) int { return rootsEntriesOff + i*rootsEntrySize }

// lookupRoot returns the root page id recorded for indexID, or
// disk.InvalidPageID if absent.
func lookupRoot(buf []byte, indexID uint32) disk.PageID {
	n := rootsCount(buf)
	for i := 0; i < n; i++ {
		off := rootsEntryOffset(i)
		if binary.LittleEndian.Uint32(buf[off:]) == indexID {
			return disk.PageID(int32(binary.LittleEndian.Uint32(buf[off+4:])))
		}
	}
	return disk.InvalidPageID
}

// setRoot records or updates indexID's root page id.
func setRoot(buf []byte, indexID uint32, root disk.PageID) error {
	n := rootsCount(buf)
	for i := 0; i < n; i++ {
		off := rootsEntryOffset(i)
		if binary.LittleEndian.Uint32(buf[off:]) == indexID {
			binary.LittleEndian.PutUint32(buf[off+4:], uint32(root))
			return nil
		}
	}
	if n >= maxRootsEntries {
		return fmt.Errorf("btree: index-roots page full (max %d indexes)", maxRootsEntries)
	}
	off := rootsEntryOffset(n)
	binary.LittleEndian.PutUint32(buf[off:], indexID)
	binary.LittleEndian.PutUint32(buf[off+4:], uint32(root))
	binary.LittleEndian.PutUint16(buf[rootsCountOff:], uint16(n+1))
	return nil
}

// deleteRoot removes indexID's entry entirely (used by Destroy).
func deleteRoot(buf []byte, indexID uint32) {
	n := rootsCount(buf)
	for i := 0; i < n; i++ {
		off := rootsEntryOffset(i)
		if binary.LittleEndian.Uint32(buf[off:]) == indexID {
			last := rootsEntryOffset(n - 1)
			copy(buf[off:off+rootsEntrySize], buf[last:last+rootsEntrySize])
			binary.LittleEndian.PutUint16(buf[rootsCountOff:], uint16(n-1))
			return
		}
	}
}
