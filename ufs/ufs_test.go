package ufs

import (
	"os"
	"path/filepath"
	"testing"

	"nucleus/mem"
	"nucleus/pmm"
)

func setup(t *testing.T) {
	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 16 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem.Init(a)
}

func TestRamDiskReadWriteRoundTrip(t *testing.T) {
	setup(t)
	disk := NewRamDisk(8)
	bm := PmmBlockmem{}

	b := MkBlock_newpage(3, "t", bm, disk, nil)
	copy(b.Data[:], []byte("hello block"))
	b.Write()
	b.Free_page()

	b2 := MkBlock_newpage(3, "t", bm, disk, nil)
	b2.Read()
	if string(b2.Data[:11]) != "hello block" {
		t.Fatalf("got %q", b2.Data[:11])
	}
	b2.Free_page()
}

func TestFileDiskPersists(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := OpenFileDisk(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	bm := PmmBlockmem{}

	b := MkBlock_newpage(1, "t", bm, d, nil)
	copy(b.Data[:], []byte("persisted"))
	b.Write()
	b.Free_page()
	d.Close()

	d2, err := OpenFileDisk(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer d2.Close()
	b2 := MkBlock_newpage(1, "t", bm, d2, nil)
	b2.Read()
	if string(b2.Data[:9]) != "persisted" {
		t.Fatalf("got %q", b2.Data[:9])
	}
	b2.Free_page()

	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestCacheHitAvoidsDiskRead(t *testing.T) {
	setup(t)
	disk := NewRamDisk(4)
	bm := PmmBlockmem{}
	c := NewCache(bm, disk, 4)

	b := c.Get(0)
	copy(b.Data[:], []byte("cached"))
	c.MarkDirty(0)

	b2 := c.Get(0)
	if b2 != b {
		t.Fatal("expected cache hit to return the same block object")
	}
	if string(b2.Data[:6]) != "cached" {
		t.Fatalf("got %q", b2.Data[:6])
	}
}

func TestCacheSyncWritesBackDirtyBlocks(t *testing.T) {
	setup(t)
	disk := NewRamDisk(4)
	bm := PmmBlockmem{}
	c := NewCache(bm, disk, 4)

	b := c.Get(2)
	copy(b.Data[:], []byte("dirty-data"))
	c.MarkDirty(2)
	c.Sync()

	fresh := MkBlock_newpage(2, "t", bm, disk, nil)
	fresh.Read()
	if string(fresh.Data[:10]) != "dirty-data" {
		t.Fatalf("sync did not persist to disk: got %q", fresh.Data[:10])
	}
	fresh.Free_page()
}

func TestCacheEvictsLRUWhenFull(t *testing.T) {
	setup(t)
	disk := NewRamDisk(8)
	bm := PmmBlockmem{}
	c := NewCache(bm, disk, 2)

	c.Get(0)
	c.Get(1)
	c.Get(2) // evicts block 0 (clean, least recently used)

	c.mu.Lock()
	_, stillCached := c.blks[0]
	c.mu.Unlock()
	if stillCached {
		t.Fatal("expected block 0 to be evicted")
	}
}

func TestSuperblockFields(t *testing.T) {
	setup(t)
	var d mem.Bytepg_t
	sb := MkSuperblock(&d, 1024, 16, 32)
	if sb.Loglen() != 16 {
		t.Fatalf("loglen = %d, want 16", sb.Loglen())
	}
	if sb.Inodelen() != 32 {
		t.Fatalf("inodelen = %d, want 32", sb.Inodelen())
	}
	if sb.Lastblock() != 1023 {
		t.Fatalf("lastblock = %d, want 1023", sb.Lastblock())
	}
	sb.SetFreeblocklen(7)
	if sb.Freeblocklen() != 7 {
		t.Fatalf("freeblocklen = %d, want 7", sb.Freeblocklen())
	}
}
