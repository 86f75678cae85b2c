package disk

import (
	"fmt"
	"os"
	"sync"
)

// Manager owns one database file and carves it into fixed-size pages,
// allocating and freeing data pages through a chain of bitmap pages
// (spec.md §4.1). It is the only component that touches the OS file; the
// buffer pool is its only caller for page reads, writes, and allocation.
//
// All reads/writes serialize at the file layer behind a single mutex, the
// way the teacher's Pager (internal/storage/pager/pager.go) and the
// original's DiskManager (original_source/src/storage/disk_manager.cpp,
// via a std::recursive_mutex) both do — Go has no recursive mutex, so
// internal helpers assume the lock is already held and are never called
// through the public, locking entry points recursively.
type Manager struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
	meta   *FileMeta
}

// Open opens an existing database file or creates a new one at path.
func Open(path string) (*Manager, error) {
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	m := &Manager{file: f, path: path}
	if isNew {
		m.meta = NewFileMeta()
		if err := m.writeMetaLocked(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, PageSize)
		if err := m.readPhysicalLocked(0, buf); err != nil {
			f.Close()
			return nil, err
		}
		meta, err := UnmarshalFileMeta(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		m.meta = meta
	}
	return m, nil
}

// Path returns the database file path.
func (m *Manager) Path() string { return m.path }

// Close flushes the file-metadata page and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.writeMetaLocked(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// N is the number of data pages described by one bitmap page.
func N() int { return BitmapMaxSupportedSize() }

// MapPageID converts a logical page id to its physical page number
// (spec.md §3 "Logical vs. physical page numbering"):
//
//	physical(logical) = (logical/N)*(N+1) + logical%N + 1 + 1
func MapPageID(logical PageID) int64 {
	n := int64(N())
	l := int64(logical)
	return (l/n)*(n+1) + l%n + 2
}

// bitmapPhysicalPage returns the physical page number of the bitmap page
// governing the extent that logical belongs to.
func bitmapPhysicalPage(logical PageID) int64 {
	n := int64(N())
	return (int64(logical)/n)*(n+1) + 1
}

func (m *Manager) readPhysicalLocked(physical int64, buf []byte) error {
	off := physical * PageSize
	info, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	if off >= info.Size() {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n, err := m.file.ReadAt(buf, off)
	if err != nil && n == 0 {
		return fmt.Errorf("%w: read physical page %d: %v", ErrIO, physical, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (m *Manager) writePhysicalLocked(physical int64, buf []byte) error {
	off := physical * PageSize
	if _, err := m.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: write physical page %d: %v", ErrIO, physical, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIO, err)
	}
	return nil
}

func (m *Manager) writeMetaLocked() error {
	return m.writePhysicalLocked(0, MarshalFileMeta(m.meta))
}

// ReadPage reads PageSize bytes of logical page id into out. A read past
// end-of-file is zero-filled (spec.md §4.1 "Short reads... are zero-filled").
func (m *Manager) ReadPage(id PageID, out []byte) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readPhysicalLocked(MapPageID(id), out)
}

// WritePage writes PageSize bytes to logical page id and flushes before
// returning (spec.md §4.1, §5 "Ordering guarantees").
func (m *Manager) WritePage(id PageID, buf []byte) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writePhysicalLocked(MapPageID(id), buf)
}

// AllocatePage scans bitmap pages in order for the first free slot, sets its
// bit, and updates the file-metadata counters. Returns InvalidPageID if the
// address space (MaxExtents worth of bitmap pages) is exhausted.
func (m *Manager) AllocatePage() (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(N())
	buf := make([]byte, PageSize)
	for extent := int64(0); extent < MaxExtents; extent++ {
		bitmapPhys := extent*(n+1) + 1
		if err := m.readPhysicalLocked(bitmapPhys, buf); err != nil {
			return InvalidPageID, err
		}
		bm := wrapBitmapPage(buf)
		if bm.pageAllocated() == 0 && bitmapAllExtentUnused(buf) {
			// Freshly-read zero page (never initialized) — initialize it.
			bm = initBitmapPage(buf, PageID(bitmapPhys))
		}
		wasEmpty := bm.pageAllocated() == 0
		offset, ok := bm.allocate()
		if !ok {
			continue
		}
		SetCRC(buf)
		if err := m.writePhysicalLocked(bitmapPhys, buf); err != nil {
			return InvalidPageID, err
		}
		m.meta.NumAllocatedPages++
		m.meta.ExtentUsedPage[extent]++
		if wasEmpty {
			m.meta.NumExtents++
		}
		if err := m.writeMetaLocked(); err != nil {
			return InvalidPageID, err
		}
		return PageID(extent*n + int64(offset)), nil
	}
	return InvalidPageID, ErrSpaceExhausted
}

// bitmapAllExtentUnused reports whether buf looks like an unwritten
// (all-zero) page rather than an initialized, empty bitmap page — both read
// as pageAllocated()==0, but only the former needs its header stamped.
func bitmapAllExtentUnused(buf []byte) bool {
	for _, b := range buf[:PageHeaderSize] {
		if b != 0 {
			return false
		}
	}
	return true
}

// DeAllocatePage clears logical id's bit and zero-wipes its bytes. A no-op
// on an already-free page.
func (m *Manager) DeAllocatePage(id PageID) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	free, err := m.isPageFreeLocked(id)
	if err != nil {
		return err
	}
	if free {
		return nil
	}

	if err := m.writePhysicalLocked(MapPageID(id), make([]byte, PageSize)); err != nil {
		return err
	}

	n := int64(N())
	extent := int64(id) / n
	offset := uint32(int64(id) % n)
	bitmapPhys := extent*(n+1) + 1

	buf := make([]byte, PageSize)
	if err := m.readPhysicalLocked(bitmapPhys, buf); err != nil {
		return err
	}
	bm := wrapBitmapPage(buf)
	bm.deallocate(offset)
	SetCRC(buf)
	if err := m.writePhysicalLocked(bitmapPhys, buf); err != nil {
		return err
	}

	m.meta.NumAllocatedPages--
	m.meta.ExtentUsedPage[extent]--
	if bm.pageAllocated() == 0 {
		m.meta.NumExtents--
	}
	return m.writeMetaLocked()
}

func (m *Manager) isPageFreeLocked(id PageID) (bool, error) {
	n := int64(N())
	extent := int64(id) / n
	offset := uint32(int64(id) % n)
	bitmapPhys := extent*(n+1) + 1

	buf := make([]byte, PageSize)
	if err := m.readPhysicalLocked(bitmapPhys, buf); err != nil {
		return false, err
	}
	if bitmapAllExtentUnused(buf) {
		return true, nil
	}
	bm := wrapBitmapPage(buf)
	return bm.isFree(offset), nil
}

// IsPageFree reports whether logical id's bit is currently clear.
func (m *Manager) IsPageFree(id PageID) (bool, error) {
	if id < 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPageFreeLocked(id)
}

// Stats returns a copy of the current file-metadata counters (spec.md §8
// scenario 1, "Allocator density").
func (m *Manager) Stats() FileMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.meta
}
