package buffer

import "testing"

func TestLRUReplacer_EvictsOldestUnpinnedFirst(t *testing.T) {
	r := NewLRUReplacer(3)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	if got, ok := r.Victim(); !ok || got != 1 {
		t.Fatalf("Victim() = (%d, %v), want (1, true)", got, ok)
	}
	if got, ok := r.Victim(); !ok || got != 2 {
		t.Fatalf("Victim() = (%d, %v), want (2, true)", got, ok)
	}
}

func TestLRUReplacer_PinRemovesFromPool(t *testing.T) {
	r := NewLRUReplacer(2)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	if got, ok := r.Victim(); !ok || got != 2 {
		t.Fatalf("Victim() = (%d, %v), want (2, true) after pinning 1", got, ok)
	}
	if _, ok := r.Victim(); ok {
		t.Fatal("expected replacer to be empty")
	}
}

func TestLRUReplacer_UnpinIdempotent(t *testing.T) {
	r := NewLRUReplacer(2)
	r.Unpin(1)
	r.Unpin(1)
	if r.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (Unpin of an already-tracked frame is a no-op)", r.Size())
	}
}

func TestClockReplacer_ClearsRefBitBeforeEvicting(t *testing.T) {
	r := NewClockReplacer(3)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	// Re-reference 1 and 2 so their ref bits are set; the hand must
	// sweep past them once (clearing the bit) before evicting 3.
	r.Unpin(1)
	r.Unpin(2)
	victim, ok := r.Victim()
	if !ok {
		t.Fatal("expected a victim")
	}
	if victim != 3 {
		t.Fatalf("Victim() = %d, want 3 (only frame without a set ref bit)", victim)
	}
}

func TestClockReplacer_PinRemovesOutright(t *testing.T) {
	r := NewClockReplacer(2)
	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	if r.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", r.Size())
	}
	victim, ok := r.Victim()
	if !ok || victim != 2 {
		t.Fatalf("Victim() = (%d, %v), want (2, true)", victim, ok)
	}
}

func TestClockReplacer_EmptyReportsNoVictim(t *testing.T) {
	r := NewClockReplacer(2)
	if _, ok := r.Victim(); ok {
		t.Fatal("expected no victim from an empty replacer")
	}
}

func TestReplacer_SizeTracksEvictablePool(t *testing.T) {
	for _, r := range []Replacer{NewLRUReplacer(4), NewClockReplacer(4)} {
		r.Unpin(1)
		r.Unpin(2)
		if r.Size() != 2 {
			t.Fatalf("%T: Size() = %d, want 2", r, r.Size())
		}
		r.Pin(1)
		if r.Size() != 1 {
			t.Fatalf("%T: Size() after Pin = %d, want 1", r, r.Size())
		}
	}
}
