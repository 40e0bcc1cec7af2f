package tmpfs

import (
	"testing"

	"nucleus/defs"
	"nucleus/fs"
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
	if cap(u.buf)-u.pos < len(src) {
		grown := make([]byte, u.pos, u.pos+len(src))
		copy(grown, u.buf[:u.pos])
		u.buf = grown
	}
	u.buf = u.buf[:u.pos+len(src)]
	n := copy(u.buf[u.pos:], src)
	u.pos += n
	return n, 0
}

func (u *byteUio) Remain() int  { return len(u.buf) - u.pos }
func (u *byteUio) Totalsz() int { return len(u.buf) }

func mustMount(t *testing.T) {
	t.Helper()
	fs.ResetForTest()
	fs.Unregister("tmpfs")
	if err := Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := fs.Mnt("none", "/", "tmpfs", 0, nil); err != 0 {
		t.Fatalf("Mnt root: %d", err)
	}
}

func TestRootLookup(t *testing.T) {
	mustMount(t)
	v, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	if v.Type != fs.VDIR {
		t.Fatalf("root is not a directory")
	}
	v.Unref()
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/hello", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}

	wr := &byteUio{buf: []byte("hello, tmpfs")}
	n, err := of.Write(wr)
	if err != 0 || n != len(wr.buf) {
		t.Fatalf("write: n=%d err=%d", n, err)
	}

	of.Offset = 0
	rd := &byteUio{buf: make([]byte, 0, 64)}
	n, err = of.Read(rd)
	if err != 0 {
		t.Fatalf("read: %d", err)
	}
	if string(rd.buf[:n]) != "hello, tmpfs" {
		t.Fatalf("got %q", rd.buf[:n])
	}
	of.Close()
}

func TestWriteGrowsBeyondInitialCapacity(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/big", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	wr := &byteUio{buf: payload}
	n, err := of.Write(wr)
	if err != 0 || n != len(payload) {
		t.Fatalf("write: n=%d err=%d", n, err)
	}

	of.Offset = 0
	rd := &byteUio{buf: make([]byte, 0, len(payload))}
	n, err = of.Read(rd)
	if err != 0 || n != len(payload) {
		t.Fatalf("read back: n=%d err=%d", n, err)
	}
	for i, b := range rd.buf[:n] {
		if b != byte(i) {
			t.Fatalf("mismatch at %d", i)
		}
	}
	of.Close()
}

func TestMkdirAndLookupNested(t *testing.T) {
	mustMount(t)
	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	sub, err := root.Ops.Mkdir(root, "sub", 0755)
	if err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	root.Unref()
	sub.Unref()

	of, err := fs.Open("/sub/leaf", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open nested: %d", err)
	}
	of.Close()

	v, err := fs.Lookup("/sub/leaf", true)
	if err != 0 {
		t.Fatalf("lookup nested: %d", err)
	}
	if v.Type != fs.VREG {
		t.Fatalf("expected regular file")
	}
	v.Unref()
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	mustMount(t)
	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	defer root.Unref()

	sub, err := root.Ops.Mkdir(root, "d", 0755)
	if err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	if _, err := sub.Ops.Create(sub, "f", 0644); err != 0 {
		t.Fatalf("create: %d", err)
	}
	sub.Unref()

	if err := root.Ops.Rmdir(root, "d"); err != -defs.ENOTEMPTY {
		t.Fatalf("expected ENOTEMPTY, got %d", err)
	}
}

func TestSymlinkFollowedByLookup(t *testing.T) {
	mustMount(t)
	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}

	of, err := fs.Open("/target", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open target: %d", err)
	}
	of.Close()

	lv, err := root.Ops.Symlink(root, "link", "/target")
	root.Unref()
	if err != 0 {
		t.Fatalf("symlink: %d", err)
	}
	lv.Unref()

	v, err := fs.Lookup("/link", true)
	if err != 0 {
		t.Fatalf("lookup through symlink: %d", err)
	}
	if v.Type != fs.VREG {
		t.Fatalf("expected regular file through symlink")
	}
	v.Unref()
}

func TestUnlinkRemovesEntry(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/gone", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	of.Close()

	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	if err := root.Ops.Unlink(root, "gone"); err != 0 {
		t.Fatalf("unlink: %d", err)
	}
	root.Unref()

	if _, err := fs.Lookup("/gone", true); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND after unlink, got %d", err)
	}
}

func TestReaddirListsEntries(t *testing.T) {
	mustMount(t)
	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	defer root.Unref()

	names := []string{"a", "b", "c"}
	for _, n := range names {
		v, err := root.Ops.Create(root, n, 0644)
		if err != 0 {
			t.Fatalf("create %s: %d", n, err)
		}
		v.Unref()
	}

	ents, err := root.Ops.Readdir(root)
	if err != 0 {
		t.Fatalf("readdir: %d", err)
	}
	if len(ents) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(ents))
	}
}

func TestRenameMovesEntrySameDirectory(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/old", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	if _, err := of.Write(&byteUio{buf: []byte("hi")}); err != 0 {
		t.Fatalf("write: %d", err)
	}
	of.Close()

	if err := fs.Rename("/old", "/new"); err != 0 {
		t.Fatalf("rename: %d", err)
	}
	if _, err := fs.Lookup("/old", true); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND for /old, got %d", err)
	}
	v, err := fs.Lookup("/new", true)
	if err != 0 {
		t.Fatalf("lookup /new: %d", err)
	}
	v.Unref()
}

func TestRenameAcrossDirectories(t *testing.T) {
	mustMount(t)
	root, err := fs.Lookup("/", true)
	if err != 0 {
		t.Fatalf("lookup /: %d", err)
	}
	dv, err := root.Ops.Mkdir(root, "dir", 0755)
	if err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	dv.Unref()
	root.Unref()

	of, err := fs.Open("/src", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	of.Close()

	if err := fs.Rename("/src", "/dir/dst"); err != 0 {
		t.Fatalf("rename: %d", err)
	}
	if _, err := fs.Lookup("/src", true); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND for /src, got %d", err)
	}
	v, err := fs.Lookup("/dir/dst", true)
	if err != 0 {
		t.Fatalf("lookup /dir/dst: %d", err)
	}
	v.Unref()
}

func TestRenameOverwritesExistingTarget(t *testing.T) {
	mustMount(t)
	for _, p := range []string{"/a", "/b"} {
		of, err := fs.Open(p, defs.O_CREAT|defs.O_RDWR, 0644)
		if err != 0 {
			t.Fatalf("open %s: %d", p, err)
		}
		of.Close()
	}
	if err := fs.Rename("/a", "/b"); err != 0 {
		t.Fatalf("rename: %d", err)
	}
	if _, err := fs.Lookup("/a", true); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND for /a, got %d", err)
	}
	v, err := fs.Lookup("/b", true)
	if err != 0 {
		t.Fatalf("lookup /b: %d", err)
	}
	v.Unref()
}
