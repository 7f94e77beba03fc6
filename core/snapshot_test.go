package core

import (
	"testing"
)

func TestWriteSnapshotThenReadSnapshotFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	sp := newTestSpace(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := sp.Replace(nil, mkTuple(k, "v-"+k)); err != nil {
			t.Fatalf("seed insert %q: %v", k, err)
		}
	}
	spaces := map[uint32]*Space{sp.ID: sp}

	manifest, err := WriteSnapshot(SnapshotConfig{Dir: dir}, 42, spaces)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if manifest.LSN != 42 {
		t.Fatalf("manifest.LSN = %d, want 42", manifest.LSN)
	}
	if len(manifest.SpaceIDs) != 1 || manifest.SpaceIDs[0] != sp.ID {
		t.Fatalf("manifest.SpaceIDs = %v, want [%d]", manifest.SpaceIDs, sp.ID)
	}

	loaded, err := LoadLatestManifest(dir)
	if err != nil {
		t.Fatalf("LoadLatestManifest: %v", err)
	}
	if loaded == nil || loaded.FileName != manifest.FileName {
		t.Fatalf("LoadLatestManifest = %+v, want FileName %q", loaded, manifest.FileName)
	}

	fresh := newTestSpace(t)
	lookup := func(id uint32) *Space {
		if id == sp.ID {
			return fresh
		}
		return nil
	}
	path := dir + "/" + loaded.FileName
	if err := ReadSnapshotFile(path, lookup); err != nil {
		t.Fatalf("ReadSnapshotFile: %v", err)
	}
	if fresh.Size() != 3 {
		t.Fatalf("fresh.Size() = %d, want 3", fresh.Size())
	}
	for _, k := range []string{"a", "b", "c"} {
		key, _ := keyOf(mkTuple(k, ""), []int{0})
		if fresh.Primary().Find([]byte(key)) == nil {
			t.Fatalf("key %q missing after ReadSnapshotFile", k)
		}
	}
}

func TestLoadLatestManifestMissingDirReturnsNil(t *testing.T) {
	m, err := LoadLatestManifest(t.TempDir() + "/does-not-exist")
	if err != nil {
		t.Fatalf("LoadLatestManifest: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil manifest for a fresh instance, got %+v", m)
	}
}

func TestReadSnapshotFileUnknownSpaceErrors(t *testing.T) {
	dir := t.TempDir()
	sp := newTestSpace(t)
	if err := sp.Replace(nil, mkTuple("x", "y")); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	_, err := WriteSnapshot(SnapshotConfig{Dir: dir}, 1, map[uint32]*Space{sp.ID: sp})
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	manifest, err := LoadLatestManifest(dir)
	if err != nil || manifest == nil {
		t.Fatalf("LoadLatestManifest: %v, %+v", err, manifest)
	}
	err = ReadSnapshotFile(dir+"/"+manifest.FileName, func(uint32) *Space { return nil })
	if err == nil {
		t.Fatal("expected error resolving a space the snapshot names but lookup can't find")
	}
}
