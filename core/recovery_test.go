package core

import "testing"

func TestRecoverReplaysWalWithNoSnapshot(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()

	w, err := NewWalWriter(WalWriterConfig{Dir: walDir}, 0)
	if err != nil {
		t.Fatalf("NewWalWriter: %v", err)
	}
	lsn1 := w.NextLSN()
	if err := w.Submit(lsn1, []RedoOp{{SpaceID: 1, Next: mkTuple("a", "1")}}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	lsn2 := w.NextLSN()
	if err := w.Submit(lsn2, []RedoOp{{SpaceID: 1, Next: mkTuple("b", "2")}}); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sp, err := NewSpace(1, "test", 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	lookup := func(id uint32) *Space {
		if id == 1 {
			return sp
		}
		return nil
	}

	lastLSN, err := Recover(RecoveryConfig{WalDir: walDir, SnapshotDir: snapDir}, nil, lookup)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if lastLSN != lsn2 {
		t.Fatalf("lastLSN = %d, want %d", lastLSN, lsn2)
	}
	if sp.Size() != 2 {
		t.Fatalf("sp.Size() = %d, want 2", sp.Size())
	}
}

// TestRecoverReplaysSnapshotThenWal mirrors the restart scenario spec.md
// §8 describes: some rows land in a snapshot, later rows land only in the
// WAL, and recovery must reconstruct both halves by loading the snapshot
// before replaying WAL rows whose LSN is newer than it.
func TestRecoverReplaysSnapshotThenWal(t *testing.T) {
	walDir := t.TempDir()
	snapDir := t.TempDir()

	seed, err := NewSpace(7, "seeded", 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	if err := seed.Replace(nil, mkTuple("snap-1", "x")); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if err := seed.Replace(nil, mkTuple("snap-2", "y")); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	manifest, err := WriteSnapshot(SnapshotConfig{Dir: snapDir}, 10, map[uint32]*Space{seed.ID: seed})
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	w, err := NewWalWriter(WalWriterConfig{Dir: walDir}, manifest.LSN)
	if err != nil {
		t.Fatalf("NewWalWriter: %v", err)
	}
	lsn := w.NextLSN()
	if err := w.Submit(lsn, []RedoOp{{SpaceID: 7, Next: mkTuple("wal-1", "z")}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fresh, err := NewSpace(7, "seeded", 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	lookup := func(id uint32) *Space {
		if id == 7 {
			return fresh
		}
		return nil
	}

	lastLSN, err := Recover(RecoveryConfig{WalDir: walDir, SnapshotDir: snapDir}, manifest, lookup)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if lastLSN != lsn {
		t.Fatalf("lastLSN = %d, want %d", lastLSN, lsn)
	}
	if fresh.Size() != 3 {
		t.Fatalf("fresh.Size() = %d, want 3 (2 from snapshot + 1 from wal)", fresh.Size())
	}
	for _, k := range []string{"snap-1", "snap-2", "wal-1"} {
		key, _ := keyOf(mkTuple(k, ""), []int{0})
		if fresh.Primary().Find([]byte(key)) == nil {
			t.Fatalf("key %q missing after recovery", k)
		}
	}
}

func TestRecoverWithNoWalOrSnapshotIsNoop(t *testing.T) {
	sp, err := NewSpace(1, "empty", 0, []IndexSpec{{Kind: IndexHash, Fields: []int{0}, Unique: true}})
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	lookup := func(id uint32) *Space { return sp }
	lastLSN, err := Recover(RecoveryConfig{WalDir: t.TempDir(), SnapshotDir: t.TempDir()}, nil, lookup)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if lastLSN != 0 {
		t.Fatalf("lastLSN = %d, want 0", lastLSN)
	}
	if sp.Size() != 0 {
		t.Fatalf("sp.Size() = %d, want 0", sp.Size())
	}
}
