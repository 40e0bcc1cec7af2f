package fs_test

import (
	"testing"

	"nucleus/defs"
	"nucleus/fs"
	"nucleus/tmpfs"
)

func mustMount(t *testing.T) {
	t.Helper()
	fs.ResetForTest()
	fs.Unregister("tmpfs")
	if err := tmpfs.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := fs.Mnt("none", "/", "tmpfs", 0, nil); err != 0 {
		t.Fatalf("Mnt root: %d", err)
	}
}

func TestOpenCreateReadWrite(t *testing.T) {
	mustMount(t)

	of, err := fs.Open("/file", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}

	src := &testUio{buf: []byte("payload")}
	n, err := of.Write(src)
	if err != 0 || n != 7 {
		t.Fatalf("write: n=%d err=%d", n, err)
	}

	off, err := of.Lseek(0, defs.SEEK_SET)
	if err != 0 || off != 0 {
		t.Fatalf("lseek: off=%d err=%d", off, err)
	}

	dst := &testUio{buf: make([]byte, 0, 16)}
	n, err = of.Read(dst)
	if err != 0 || string(dst.buf[:n]) != "payload" {
		t.Fatalf("read back mismatch: %q err=%d", dst.buf[:n], err)
	}
	of.Close()
}

func TestOpenWithoutCreateFailsOnMissingFile(t *testing.T) {
	mustMount(t)
	if _, err := fs.Open("/nope", defs.O_RDONLY, 0); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND, got %d", err)
	}
}

func TestOpenCreateExclFailsIfExists(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/x", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	of.Close()

	if _, err := fs.Open("/x", defs.O_CREAT|defs.O_EXCL|defs.O_RDWR, 0644); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST, got %d", err)
	}
}

func TestOpenTruncTruncatesExistingFile(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/t", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	of.Write(&testUio{buf: []byte("0123456789")})
	of.Close()

	of2, err := fs.Open("/t", defs.O_RDWR|defs.O_TRUNC, 0644)
	if err != 0 {
		t.Fatalf("open trunc: %d", err)
	}
	sz, err := of2.Lseek(0, defs.SEEK_END)
	if err != 0 || sz != 0 {
		t.Fatalf("expected size 0 after truncate, got %d err=%d", sz, err)
	}
	of2.Close()
}

func TestAppendWritesAtEOF(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/a", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	of.Write(&testUio{buf: []byte("abc")})
	of.Close()

	of2, err := fs.Open("/a", defs.O_WRONLY|defs.O_APPEND, 0644)
	if err != 0 {
		t.Fatalf("open append: %d", err)
	}
	n, err := of2.Write(&testUio{buf: []byte("def")})
	if err != 0 || n != 3 {
		t.Fatalf("append write: n=%d err=%d", n, err)
	}
	of2.Close()

	of3, _ := fs.Open("/a", defs.O_RDONLY, 0)
	dst := &testUio{buf: make([]byte, 0, 16)}
	n, _ = of3.Read(dst)
	if string(dst.buf[:n]) != "abcdef" {
		t.Fatalf("expected abcdef, got %q", dst.buf[:n])
	}
	of3.Close()
}

func TestLookupRejectsMissingIntermediateDir(t *testing.T) {
	mustMount(t)
	if _, err := fs.Lookup("/missing/leaf", true); err != -defs.ENOTFOUND {
		t.Fatalf("expected ENOTFOUND, got %d", err)
	}
}

func TestDupSharesRefcount(t *testing.T) {
	mustMount(t)
	of, err := fs.Open("/d", defs.O_CREAT|defs.O_RDWR, 0644)
	if err != 0 {
		t.Fatalf("open: %d", err)
	}
	dup := of.Dup()
	if dup != of {
		t.Fatalf("Dup should return the same OpenFile")
	}
	of.Close()
	if _, err := fs.Lookup("/d", true); err != 0 {
		t.Fatalf("lookup after one close: %d", err)
	}
	dup.Close()
}

type testUio struct {
	buf []byte
	pos int
}

func (u *testUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.pos:])
	u.pos += n
	return n, 0
}

func (u *testUio) Uiowrite(src []uint8) (int, defs.Err_t) {
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

func (u *testUio) Remain() int  { return len(u.buf) - u.pos }
func (u *testUio) Totalsz() int { return len(u.buf) }
