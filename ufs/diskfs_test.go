package ufs

import (
	"fmt"
	"path/filepath"
	"testing"

	"nucleus/defs"
	"nucleus/fs"
	"nucleus/mem"
)

type byteUio struct {
	buf []byte
	pos int
}

func (u *byteUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.pos:])
	u.pos += n
	return n, 0
}
func (u *byteUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.pos:], src)
	u.pos += n
	return n, 0
}
func (u *byteUio) Remain() int  { return len(u.buf) - u.pos }
func (u *byteUio) Totalsz() int { return len(u.buf) }

// buildTestImage formats a disk image exactly the way cmd/mkfs does: a
// superblock, a manifest in block 1, and file contents packed after it.
func buildTestImage(t *testing.T, path string, files map[string]string) {
	t.Helper()
	const manifestBlks = 1
	dataStart := 1 + manifestBlks

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	type entry struct {
		name  string
		block int
		size  int
	}
	entries := make([]entry, 0, len(names))
	block := dataStart
	for _, name := range names {
		data := files[name]
		nblks := (len(data) + BSIZE - 1) / BSIZE
		if nblks == 0 {
			nblks = 1
		}
		entries = append(entries, entry{name: name, block: block, size: len(data)})
		block += nblks
	}
	nblocks := block

	disk, err := OpenFileDisk(path, nblocks)
	if err != nil {
		t.Fatal(err)
	}
	cache := NewCache(PmmBlockmem{}, disk, 64)

	sb := &Superblock_t{Data: &mem.Bytepg_t{}}
	sb.SetInodelen(manifestBlks)
	sb.SetFreeblock(dataStart)
	sb.SetFreeblocklen(nblocks - dataStart)
	sb.SetLastblock(nblocks - 1)
	sbBlk := cache.Get(0)
	*sbBlk.Data = *sb.Data
	cache.MarkDirty(0)

	manifest := ""
	for _, e := range entries {
		manifest += fmt.Sprintf("%s %d %d\n", e.name, e.block, e.size)
	}
	mb := cache.Get(1)
	copy(mb.Data[:], manifest)
	cache.MarkDirty(1)

	for _, e := range entries {
		data := files[e.name]
		for off := 0; off < len(data); off += BSIZE {
			end := off + BSIZE
			if end > len(data) {
				end = len(data)
			}
			b := cache.Get(e.block + off/BSIZE)
			copy(b.Data[:], data[off:end])
			cache.MarkDirty(e.block + off/BSIZE)
		}
	}
	cache.Sync()
	disk.Close()
}

func mountDiskfs(t *testing.T, path string) {
	t.Helper()
	fs.ResetForTest()
	fs.Unregister(fsName)
	if err := Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := fs.Mnt(path, "/", fsName, 0, nil); err != 0 {
		t.Fatalf("Mnt root: %d", err)
	}
}

func TestDiskfsRegistersAsSecondFilesystemType(t *testing.T) {
	setup(t)
	fs.ResetForTest()
	fs.Unregister(fsName)
	fs.Unregister("tmpfs")
	if err := Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(); err == nil {
		t.Fatal("expected duplicate Register to fail")
	}
}

func TestDiskfsLookupAndRead(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	buildTestImage(t, path, map[string]string{
		"hello.txt": "hello from disk",
		"empty.txt": "",
	})
	mountDiskfs(t, path)

	v, err := fs.Lookup("/hello.txt", true)
	if err != 0 {
		t.Fatalf("lookup /hello.txt: %d", err)
	}
	defer v.Unref()
	if v.Type != fs.VREG {
		t.Fatal("expected a regular file")
	}

	buf := &byteUio{buf: make([]byte, 16)}
	n, rerr := v.Ops.Read(v, buf, 0)
	if rerr != 0 {
		t.Fatalf("read: %d", rerr)
	}
	if string(buf.buf[:n]) != "hello from disk" {
		t.Fatalf("got %q", buf.buf[:n])
	}

	if _, err := fs.Lookup("/missing.txt", true); err != -defs.ENOTFOUND {
		t.Fatalf("lookup of missing file = %d, want ENOTFOUND", err)
	}
}

func TestDiskfsOpenThroughFsPackage(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	buildTestImage(t, path, map[string]string{"a.txt": "contents of a"})
	mountDiskfs(t, path)

	of, err := fs.Open("/a.txt", defs.O_RDONLY, 0)
	if err != 0 {
		t.Fatalf("Open: %d", err)
	}
	defer of.Close()

	buf := &byteUio{buf: make([]byte, 32)}
	n, rerr := of.Read(buf)
	if rerr != 0 {
		t.Fatalf("Read: %d", rerr)
	}
	if string(buf.buf[:n]) != "contents of a" {
		t.Fatalf("got %q", buf.buf[:n])
	}
}

func TestDiskfsReaddirListsManifestEntries(t *testing.T) {
	setup(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	buildTestImage(t, path, map[string]string{"one.txt": "1", "two.txt": "22"})
	mountDiskfs(t, path)

	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	defer root.Unref()
	ents, derr := root.Ops.Readdir(root)
	if derr != 0 {
		t.Fatalf("Readdir: %d", derr)
	}
	if len(ents) != 2 {
		t.Fatalf("got %d entries, want 2", len(ents))
	}
}
