package disk

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAllocatePage_Density(t *testing.T) {
	// spec.md §8 scenario 1: after allocating 100 pages, ids are 0..99
	// contiguous, and num_allocated_pages/num_extents reflect it.
	m := openTestManager(t)
	for i := 0; i < 100; i++ {
		id, err := m.AllocatePage()
		if err != nil {
			t.Fatalf("AllocatePage %d: %v", i, err)
		}
		if id != PageID(i) {
			t.Fatalf("AllocatePage %d: got id %d, want %d", i, id, i)
		}
	}
	stats := m.Stats()
	if stats.NumAllocatedPages != 100 {
		t.Errorf("NumAllocatedPages = %d, want 100", stats.NumAllocatedPages)
	}
	if stats.NumExtents != 1 {
		t.Errorf("NumExtents = %d, want 1", stats.NumExtents)
	}
}

func TestReadWritePage_RoundTrip(t *testing.T) {
	m := openTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	want := bytes.Repeat([]byte{0xAB}, PageSize)
	if err := m.WritePage(id, want); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got := make([]byte, PageSize)
	if err := m.ReadPage(id, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("ReadPage did not return what was written")
	}
}

func TestReadPage_NeverWritten_ZeroFilled(t *testing.T) {
	m := openTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	buf := make([]byte, PageSize)
	if err := m.ReadPage(id, buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0 (never-written page)", i, b)
		}
	}
}

func TestReadPage_NegativeID(t *testing.T) {
	m := openTestManager(t)
	buf := make([]byte, PageSize)
	if err := m.ReadPage(InvalidPageID, buf); err == nil {
		t.Fatal("expected error reading negative page id")
	}
}

func TestDeAllocatePage_Idempotent(t *testing.T) {
	m := openTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := m.DeAllocatePage(id); err != nil {
		t.Fatalf("first DeAllocatePage: %v", err)
	}
	if err := m.DeAllocatePage(id); err != nil {
		t.Fatalf("second DeAllocatePage (should be a no-op): %v", err)
	}
	free, err := m.IsPageFree(id)
	if err != nil {
		t.Fatalf("IsPageFree: %v", err)
	}
	if !free {
		t.Fatal("page should be free after DeAllocatePage")
	}
}

func TestDeAllocatePage_ZeroWipes(t *testing.T) {
	m := openTestManager(t)
	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := m.WritePage(id, bytes.Repeat([]byte{0xFF}, PageSize)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := m.DeAllocatePage(id); err != nil {
		t.Fatalf("DeAllocatePage: %v", err)
	}
	buf := make([]byte, PageSize)
	if err := m.ReadPage(id, buf); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, PageSize)) {
		t.Fatal("expected zero-wiped bytes after DeAllocatePage")
	}
}

func TestAllocatePage_ReusesFreedSlot(t *testing.T) {
	m := openTestManager(t)
	first, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if _, err := m.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := m.DeAllocatePage(first); err != nil {
		t.Fatalf("DeAllocatePage: %v", err)
	}
	// locality hint should re-seed toward the freed offset.
	next, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if next != first {
		t.Fatalf("AllocatePage after free: got %d, want reused slot %d", next, first)
	}
}

func TestMapPageID_SkipsBitmapPages(t *testing.T) {
	n := int64(N())
	// The first logical page of extent 0 lands just after the file-meta
	// and extent-0 bitmap physical pages.
	if got := MapPageID(0); got != 2 {
		t.Errorf("MapPageID(0) = %d, want 2", got)
	}
	// The first logical page of extent 1 skips extent 0's data pages and
	// extent 1's own bitmap page.
	want := n + 3
	if got := MapPageID(PageID(n)); got != want {
		t.Errorf("MapPageID(%d) = %d, want %d", n, got, want)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	m1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := m1.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := m1.WritePage(id, bytes.Repeat([]byte{0x42}, PageSize)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	buf := make([]byte, PageSize)
	if err := m2.ReadPage(id, buf); err != nil {
		t.Fatalf("ReadPage after reopen: %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0x42}, PageSize)) {
		t.Fatal("page contents did not survive reopen")
	}
	if stats := m2.Stats(); stats.NumAllocatedPages != 1 {
		t.Errorf("NumAllocatedPages after reopen = %d, want 1", stats.NumAllocatedPages)
	}
}

func TestDeAllocatePage_AddressSpaceBoundary(t *testing.T) {
	// Filling every extent up to MaxExtents (tens of thousands of pages
	// per extent) is too slow for a unit test, so this does not drive the
	// allocator to exhaustion. It checks the last addressable logical page
	// instead, at the boundary offset of the final extent: DeAllocatePage
	// on it succeeds as a no-op and IsPageFree reports it free.
	m := openTestManager(t)
	last := PageID(int64(MaxExtents)*int64(N()) - 1)
	if err := m.DeAllocatePage(last); err != nil {
		t.Fatalf("DeAllocatePage at address-space boundary: %v", err)
	}
	if free, err := m.IsPageFree(last); err != nil || !free {
		t.Fatalf("boundary page free=%v err=%v, want free=true", free, err)
	}
}
