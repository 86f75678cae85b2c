package buffer

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/arborkv/enginecore/disk"
)

func openTestPool(t *testing.T, poolSize int, replacer Replacer) (*Pool, *disk.Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dm, err := disk.Open(path)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	return NewPool(dm, poolSize, replacer), dm
}

func TestNewPageFetchUnpin_RoundTrip(t *testing.T) {
	pool, _ := openTestPool(t, 3, NewLRUReplacer(3))
	f, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	copy(f.Data(), bytes.Repeat([]byte{0x7A}, disk.PageSize))
	if err := pool.UnpinPage(id, true); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}

	f2, err := pool.FetchPage(id)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !bytes.Equal(f2.Data(), bytes.Repeat([]byte{0x7A}, disk.PageSize)) {
		t.Fatal("FetchPage did not return the previously written content")
	}
	if err := pool.UnpinPage(id, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
}

func TestFetchPage_LRUEviction(t *testing.T) {
	// spec.md §8 scenario 2 shape: pool size 3; three pages created and
	// unpinned once each; fetching a fourth page evicts the first under LRU.
	pool, _ := openTestPool(t, 3, NewLRUReplacer(3))
	ids := make([]disk.PageID, 0, 4)
	for i := 0; i < 3; i++ {
		_, id, err := pool.NewPage()
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		ids = append(ids, id)
		if err := pool.UnpinPage(id, false); err != nil {
			t.Fatalf("UnpinPage: %v", err)
		}
	}

	fourth := ids[2] + 1
	if _, err := pool.FetchPage(fourth); err != nil {
		t.Fatalf("FetchPage (fourth): %v", err)
	}
	if err := pool.UnpinPage(fourth, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}

	// ids[0] (the LRU victim) should no longer be resident; the other two
	// should remain resident.
	if _, ok := pool.pageTable[ids[0]]; ok {
		t.Fatalf("expected page %d to have been evicted", ids[0])
	}
	for _, id := range ids[1:] {
		if _, ok := pool.pageTable[id]; !ok {
			t.Fatalf("expected page %d to remain resident", id)
		}
	}
}

func TestUnpinPage_DirtyOnlySetsNeverClears(t *testing.T) {
	pool, _ := openTestPool(t, 2, NewLRUReplacer(2))
	f, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	_ = f
	// NewPage pins with pinCount=1; pin again so two unpins are needed,
	// the second of which passes isDirty=false and must not clear it.
	if _, err := pool.FetchPage(id); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if err := pool.UnpinPage(id, true); err != nil {
		t.Fatalf("UnpinPage(dirty=true): %v", err)
	}
	if err := pool.UnpinPage(id, false); err != nil {
		t.Fatalf("UnpinPage(dirty=false): %v", err)
	}
	fid := pool.pageTable[id]
	if !pool.frames[fid].Dirty() {
		t.Fatal("dirty flag must not be cleared by an UnpinPage(id, false) call")
	}
}

func TestDeletePage_RefusesPinned(t *testing.T) {
	pool, _ := openTestPool(t, 2, NewLRUReplacer(2))
	_, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := pool.DeletePage(id); err == nil {
		t.Fatal("expected DeletePage to refuse a pinned page")
	}
	if err := pool.UnpinPage(id, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if err := pool.DeletePage(id); err != nil {
		t.Fatalf("DeletePage after unpin: %v", err)
	}
}

func TestFetchPage_PoolExhausted(t *testing.T) {
	pool, _ := openTestPool(t, 1, NewLRUReplacer(1))
	_, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	// the sole frame is pinned and not in the free list or replacer.
	if _, err := pool.FetchPage(id + 1); err == nil {
		t.Fatal("expected pool-exhausted error with all frames pinned")
	}
}

func TestCheckAllUnpinned_ReportsLeaks(t *testing.T) {
	pool, _ := openTestPool(t, 2, NewLRUReplacer(2))
	_, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	leaks := pool.CheckAllUnpinned()
	if len(leaks) != 1 || leaks[0].PageID != id {
		t.Fatalf("CheckAllUnpinned = %+v, want one leak for page %d", leaks, id)
	}
	if err := pool.UnpinPage(id, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if leaks := pool.CheckAllUnpinned(); len(leaks) != 0 {
		t.Fatalf("CheckAllUnpinned after unpin = %+v, want none", leaks)
	}
}

func TestFreeListXorPageTable(t *testing.T) {
	pool, _ := openTestPool(t, 3, NewLRUReplacer(3))
	_, id, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	fid := pool.pageTable[id]
	for _, free := range pool.freeList {
		if free == fid {
			t.Fatal("frame bound to a page must not also be on the free list")
		}
	}
}
