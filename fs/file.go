package fs

import (
	"sync"

	"nucleus/bpath"
	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/res"
	"nucleus/ustr"
)

// OpenFile is the kernel-side open-file object a file descriptor's
// Fdops_i implementation wraps (spec.md §4.6.2 "Allocate an OpenFile {
// vnode (ref++), offset=0, flags, refcount=1 }"). Refcounting is
// res.Counted, the same primitive Vnode uses, per spec.md §5.
type OpenFile struct {
	mu     sync.Mutex
	Vnode  *Vnode
	Offset int
	Flags  int
	refs   res.Counted
}

// Open implements open(path, flags, mode) (spec.md §4.6.2): resolves
// path, creates it under O_CREAT if absent, rejects O_CREAT|O_EXCL
// against an existing file, truncates under O_TRUNC, and returns a
// fresh OpenFile.
func Open(path string, flags int, mode uint) (*OpenFile, defs.Err_t) {
	v, err := Lookup(path, true)
	switch {
	case err == -defs.ENOTFOUND:
		if flags&defs.O_CREAT == 0 {
			return nil, err
		}
		dirPath := bpath.Dir(ustr.Ustr(path)).String()
		base := bpath.Base(ustr.Ustr(path)).String()
		dirV, derr := Lookup(dirPath, true)
		if derr != 0 {
			return nil, derr
		}
		if dirV.Ops.Create == nil {
			dirV.Unref()
			return nil, -defs.ENOSYS
		}
		nv, cerr := dirV.Ops.Create(dirV, base, mode)
		dirV.Unref()
		if cerr != 0 {
			return nil, cerr
		}
		v = nv
	case err != 0:
		return nil, err
	default:
		if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
			v.Unref()
			return nil, -defs.EEXIST
		}
	}

	if flags&defs.O_TRUNC != 0 {
		if v.Ops.Truncate == nil {
			v.Unref()
			return nil, -defs.ENOSYS
		}
		if terr := v.Ops.Truncate(v, 0); terr != 0 {
			v.Unref()
			return nil, terr
		}
	}

	of := &OpenFile{Vnode: v, Flags: flags}
	of.refs.Init(1)
	return of, 0
}

// Read transfers into dst from the OpenFile's current offset, advancing
// it by the number of bytes read (spec.md §4.6.2 read/write).
func (of *OpenFile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if of.Vnode.Ops.Read == nil {
		return 0, -defs.ENOSYS
	}
	of.mu.Lock()
	off := of.Offset
	of.mu.Unlock()

	n, err := of.Vnode.Ops.Read(of.Vnode, dst, off)
	if err != 0 {
		return 0, err
	}
	of.mu.Lock()
	of.Offset += n
	of.mu.Unlock()
	return n, 0
}

// Write transfers from src at the current offset — or, under O_APPEND,
// at the vnode's current size — advancing the offset on success
// (spec.md §4.6.2 read/write).
func (of *OpenFile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if of.Vnode.Ops.Write == nil {
		return 0, -defs.ENOSYS
	}
	of.mu.Lock()
	off := of.Offset
	if of.Flags&defs.O_APPEND != 0 && of.Vnode.Ops.Size != nil {
		off = of.Vnode.Ops.Size(of.Vnode)
	}
	of.mu.Unlock()

	n, err := of.Vnode.Ops.Write(of.Vnode, src, off)
	if err != 0 {
		return 0, err
	}
	of.mu.Lock()
	of.Offset = off + n
	of.mu.Unlock()
	return n, 0
}

// Lseek repositions the offset per whence, rejecting negative results
// (spec.md §4.6.2 lseek).
func (of *OpenFile) Lseek(off int, whence int) (int, defs.Err_t) {
	of.mu.Lock()
	defer of.mu.Unlock()

	var newOff int
	switch whence {
	case defs.SEEK_SET:
		newOff = off
	case defs.SEEK_CUR:
		newOff = of.Offset + off
	case defs.SEEK_END:
		if of.Vnode.Ops.Size == nil {
			return 0, -defs.ENOSYS
		}
		newOff = of.Vnode.Ops.Size(of.Vnode) + off
	default:
		return 0, -defs.EINVAL
	}
	if newOff < 0 {
		return 0, -defs.EINVAL
	}
	of.Offset = newOff
	return newOff, 0
}

// Readdir returns the vnode's full entry listing (spec.md §4.6.2 readdir).
func (of *OpenFile) Readdir() ([]Dirent_t, defs.Err_t) {
	if of.Vnode.Ops.Readdir == nil {
		return nil, -defs.ENOSYS
	}
	return of.Vnode.Ops.Readdir(of.Vnode)
}

// DirPos and SetDirPos expose Offset as a plain entry-index cursor for
// getdents, which consumes a directory's listing a few entries at a time
// across repeated calls the way the original's vfs_readdir kept a
// per-open-file cursor (spec.md §4.6.2 readdir).
func (of *OpenFile) DirPos() int {
	of.mu.Lock()
	defer of.mu.Unlock()
	return of.Offset
}

func (of *OpenFile) SetDirPos(n int) {
	of.mu.Lock()
	defer of.mu.Unlock()
	of.Offset = n
}

// Dup increments the OpenFile's refcount (dup/dup2/fork share one
// OpenFile across descriptor table slots).
func (of *OpenFile) Dup() *OpenFile {
	of.refs.Up()
	return of
}

// Close decrements refcount; at zero it un-refs the vnode (spec.md
// §4.6.2 close).
func (of *OpenFile) Close() defs.Err_t {
	if of.refs.Down() {
		of.Vnode.Unref()
	}
	return 0
}
