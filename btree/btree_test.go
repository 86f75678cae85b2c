package btree

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/arborkv/enginecore/buffer"
	"github.com/arborkv/enginecore/disk"
)

const testKeySize = 8

func encodeKey(v uint64) []byte {
	b := make([]byte, testKeySize)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func openTestTree(t *testing.T, leafMax, internalMax int) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.db")
	dm, err := disk.Open(path)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { dm.Close() })
	pool := buffer.NewPool(dm, 64, buffer.NewLRUReplacer(64))
	tr, err := Open(pool, 1, Options{
		KeySize:         testKeySize,
		LeafMaxSize:     leafMax,
		InternalMaxSize: internalMax,
		Comparator:      ByteComparator{},
	})
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return tr
}

func rowFor(v uint64) RowID { return RowID{PageID: disk.PageID(v), Slot: uint32(v)} }

func TestInsertGetValue_Basic(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	for _, v := range []uint64{5, 3, 8, 1, 9, 2} {
		ok, err := tr.Insert(encodeKey(v), rowFor(v))
		if err != nil {
			t.Fatalf("Insert(%d): %v", v, err)
		}
		if !ok {
			t.Fatalf("Insert(%d) reported duplicate on first insert", v)
		}
	}
	for _, v := range []uint64{5, 3, 8, 1, 9, 2} {
		got, found, err := tr.GetValue(encodeKey(v))
		if err != nil {
			t.Fatalf("GetValue(%d): %v", v, err)
		}
		if !found {
			t.Fatalf("GetValue(%d): not found", v)
		}
		if got != rowFor(v) {
			t.Fatalf("GetValue(%d) = %+v, want %+v", v, got, rowFor(v))
		}
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestInsert_DuplicateRejected(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	if ok, err := tr.Insert(encodeKey(7), rowFor(7)); err != nil || !ok {
		t.Fatalf("first Insert: ok=%v err=%v", ok, err)
	}
	ok, err := tr.Insert(encodeKey(7), rowFor(70))
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if ok {
		t.Fatal("second Insert of the same key reported success, want duplicate")
	}
	got, found, err := tr.GetValue(encodeKey(7))
	if err != nil || !found {
		t.Fatalf("GetValue: found=%v err=%v", found, err)
	}
	if got != rowFor(7) {
		t.Fatalf("GetValue(7) = %+v, want original value unmodified", got)
	}
}

func TestGetValue_Absent(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	if _, found, err := tr.GetValue(encodeKey(42)); err != nil || found {
		t.Fatalf("GetValue on empty tree: found=%v err=%v", found, err)
	}
	if ok, _ := tr.Insert(encodeKey(1), rowFor(1)); !ok {
		t.Fatal("Insert failed")
	}
	if _, found, err := tr.GetValue(encodeKey(99)); err != nil || found {
		t.Fatalf("GetValue(99): found=%v err=%v, want absent", found, err)
	}
}

func TestInsertSplit_LeafCapacity(t *testing.T) {
	// spec.md §8 scenario 3 shape, with this module's corrected split
	// arithmetic (SPEC_FULL.md "Open question resolutions" #1): leaf
	// capacity 4, insert 1..5; after key 5 the leaf splits into a left
	// half of ceil(5/2)=3 entries and a right half of 2, summing to the
	// pre-split count, with a new internal root of one key and two
	// children.
	tr := openTestTree(t, 4, 4)
	for v := uint64(1); v <= 5; v++ {
		if ok, err := tr.Insert(encodeKey(v), rowFor(v)); err != nil || !ok {
			t.Fatalf("Insert(%d): ok=%v err=%v", v, ok, err)
		}
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate after split: %v", err)
	}

	root, err := tr.rootPageID()
	if err != nil {
		t.Fatalf("rootPageID: %v", err)
	}
	f, err := tr.pool.FetchPage(root)
	if err != nil {
		t.Fatalf("FetchPage(root): %v", err)
	}
	in := wrapInternal(f.Data(), testKeySize)
	if in.size() != 2 {
		t.Fatalf("root size = %d, want 2 (one dummy + one separator)", in.size())
	}
	tr.pool.UnpinPage(root, false)

	for v := uint64(1); v <= 5; v++ {
		if _, found, err := tr.GetValue(encodeKey(v)); err != nil || !found {
			t.Fatalf("GetValue(%d) after split: found=%v err=%v", v, found, err)
		}
	}
}

func TestRemove_Absent_NoOp(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	if ok, _ := tr.Insert(encodeKey(1), rowFor(1)); !ok {
		t.Fatal("Insert failed")
	}
	if err := tr.Remove(encodeKey(99)); err != nil {
		t.Fatalf("Remove of absent key: %v", err)
	}
	if _, found, _ := tr.GetValue(encodeKey(1)); !found {
		t.Fatal("unrelated key disappeared after removing an absent key")
	}
}

func TestRemove_LastKey_TreeBecomesEmpty(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	if ok, _ := tr.Insert(encodeKey(1), rowFor(1)); !ok {
		t.Fatal("Insert failed")
	}
	if err := tr.Remove(encodeKey(1)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	empty, err := tr.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatal("tree should be empty after removing its only key")
	}
	if _, found, err := tr.GetValue(encodeKey(1)); err != nil || found {
		t.Fatalf("GetValue after tree emptied: found=%v err=%v", found, err)
	}
	// Insert again: the state machine must support empty -> single-leaf-root.
	if ok, err := tr.Insert(encodeKey(2), rowFor(2)); err != nil || !ok {
		t.Fatalf("re-Insert into emptied tree: ok=%v err=%v", ok, err)
	}
}

func TestInsertDeleteManyKeys_PreservesInvariants(t *testing.T) {
	// Several (insert-seed, delete-seed) pairs, not just one: a single seed
	// may never drive an underflowing internal node to borrow from its left
	// sibling (as opposed to its right, or a merge), so a bug specific to
	// that branch can hide behind a single-seed run. Sweeping several seeds
	// makes it much more likely at least one run takes every branch of
	// coalesceOrRedistribute.
	for seed := int64(1); seed <= 6; seed++ {
		tr := openTestTree(t, 4, 4)
		n := 200
		values := rand.New(rand.NewSource(seed)).Perm(n)
		for _, v := range values {
			if ok, err := tr.Insert(encodeKey(uint64(v)), rowFor(uint64(v))); err != nil || !ok {
				t.Fatalf("seed %d: Insert(%d): ok=%v err=%v", seed, v, ok, err)
			}
		}
		if err := tr.Validate(); err != nil {
			t.Fatalf("seed %d: Validate after inserts: %v", seed, err)
		}

		// Remove half of the keys, in a different shuffled order.
		removeOrder := rand.New(rand.NewSource(seed + 100)).Perm(n)
		removed := make(map[int]bool)
		for i, v := range removeOrder {
			if i >= n/2 {
				break
			}
			if err := tr.Remove(encodeKey(uint64(v))); err != nil {
				t.Fatalf("seed %d: Remove(%d): %v", seed, v, err)
			}
			removed[v] = true
			if err := tr.Validate(); err != nil {
				t.Fatalf("seed %d: Validate after removing %d: %v", seed, v, err)
			}
		}

		for v := 0; v < n; v++ {
			_, found, err := tr.GetValue(encodeKey(uint64(v)))
			if err != nil {
				t.Fatalf("seed %d: GetValue(%d): %v", seed, v, err)
			}
			if removed[v] && found {
				t.Fatalf("seed %d: GetValue(%d): still found after Remove", seed, v)
			}
			if !removed[v] && !found {
				t.Fatalf("seed %d: GetValue(%d): missing but was never removed", seed, v)
			}
		}
	}
}

func TestIterator_OrderedTraversal(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	n := 100
	perm := rand.New(rand.NewSource(3)).Perm(n)
	for _, v := range perm {
		if ok, err := tr.Insert(encodeKey(uint64(v+1)), rowFor(uint64(v+1))); err != nil || !ok {
			t.Fatalf("Insert(%d): ok=%v err=%v", v+1, ok, err)
		}
	}

	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer it.Close()
	var got []uint64
	for it.Valid() {
		got = append(got, decodeKey(it.Key()))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(got) != n {
		t.Fatalf("iterated %d entries, want %d", len(got), n)
	}
	for i, v := range got {
		if v != uint64(i+1) {
			t.Fatalf("entry %d = %d, want %d (not strictly increasing)", i, v, i+1)
		}
	}
}

func TestIterator_BeginAt(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	for v := uint64(1); v <= 100; v++ {
		if ok, _ := tr.Insert(encodeKey(v), rowFor(v)); !ok {
			t.Fatalf("Insert(%d) failed", v)
		}
	}
	it, err := tr.BeginAt(encodeKey(50))
	if err != nil {
		t.Fatalf("BeginAt: %v", err)
	}
	defer it.Close()
	if !it.Valid() {
		t.Fatal("BeginAt(50) produced an invalid iterator")
	}
	if decodeKey(it.Key()) != 50 {
		t.Fatalf("BeginAt(50) first key = %d, want 50", decodeKey(it.Key()))
	}
	count := 0
	for it.Valid() {
		count++
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != 51 {
		t.Fatalf("BeginAt(50) iterated %d entries, want 51 (50..100)", count)
	}
}

func TestIterator_PastEndIsEnd(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	if ok, _ := tr.Insert(encodeKey(1), rowFor(1)); !ok {
		t.Fatal("Insert failed")
	}
	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := it.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if it.Valid() {
		t.Fatal("iterator should be exhausted after its only entry")
	}
	end := tr.End()
	if it.Valid() != end.Valid() {
		t.Fatal("exhausted iterator should compare equal to End()")
	}
}

func TestIterator_Close_ReleasesPin(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	for v := uint64(1); v <= 20; v++ {
		if ok, _ := tr.Insert(encodeKey(v), rowFor(v)); !ok {
			t.Fatalf("Insert(%d) failed", v)
		}
	}
	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if leaks := tr.pool.CheckAllUnpinned(); len(leaks) != 0 {
		t.Fatalf("pin leaked after Close: %+v", leaks)
	}
	// Close is safe to call again.
	if err := it.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestIterator_FullScan_NoLeaks(t *testing.T) {
	// Regression test: advancing across leaf boundaries must unpin the
	// leaf being left behind, and running off the end of the last leaf
	// must unpin that leaf too.
	tr := openTestTree(t, 4, 4)
	for v := uint64(1); v <= 50; v++ {
		if ok, _ := tr.Insert(encodeKey(v), rowFor(v)); !ok {
			t.Fatalf("Insert(%d) failed", v)
		}
	}
	it, err := tr.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for it.Valid() {
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if leaks := tr.pool.CheckAllUnpinned(); len(leaks) != 0 {
		t.Fatalf("pin leaked after full scan to End: %+v", leaks)
	}
}

func TestDestroy_FreesAllPagesAndRootEntry(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	for v := uint64(1); v <= 50; v++ {
		if ok, _ := tr.Insert(encodeKey(v), rowFor(v)); !ok {
			t.Fatalf("Insert(%d) failed", v)
		}
	}
	if err := tr.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if leaks := tr.pool.CheckAllUnpinned(); len(leaks) != 0 {
		t.Fatalf("pin leaked after Destroy: %+v", leaks)
	}
}

func TestKeySizeMismatch_Rejected(t *testing.T) {
	tr := openTestTree(t, 4, 4)
	_, err := tr.Insert([]byte{1, 2, 3}, rowFor(1))
	if err == nil {
		t.Fatal("expected an error for a key of the wrong size")
	}
}
