// Package fdops defines the vtable interfaces that back a file descriptor
// (spec.md §3 OpenFile, §4.6.2) and the user-memory cursor used to copy
// bytes between kernel buffers and user address spaces.
//
// The teacher ships fdops as an empty module: fd.Fd_t.Fops and
// vm.Vm_t.Vmadd_file both reference fdops.Fdops_i, and circbuf/ufs
// reference fdops.Userio_i, but neither type is defined anywhere in the
// retrieved fragment. This fills the gap, grounded on those call sites
// (Reopen, Close, Read, Write, Lseek in fd.go/ufs.go) plus the fd-level
// operations spec.md §4.7 requires (read, write, lseek, fstat, close,
// fcntl-ish dup semantics via Reopen).
package fdops

import "nucleus/defs"

// Userio_i abstracts a destination/source for bulk data transfer, letting
// circbuf and the filesystem layer move bytes without knowing whether the
// other end is a user address-space buffer (vmm.UserIO) or a plain
// kernel []byte (used directly by tests and in-kernel callers).
type Userio_i interface {
	// Uioread copies into dst, returning the number of bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies from src, returning the number of bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left to transfer.
	Remain() int
	// Totalsz reports the total size of the transfer.
	Totalsz() int
}

// Fdops_i is the operation set every open file descriptor dispatches
// through (spec.md §3 OpenFile, §4.6.2). Implementations exist per
// underlying object kind: fs.FileDescriptor for regular files and
// directories, console.Fd for the console.
type Fdops_i interface {
	// Read transfers into dst starting at the descriptor's current offset,
	// advancing it by the number of bytes read.
	Read(dst Userio_i) (int, defs.Err_t)
	// Write transfers from src at the descriptor's current offset,
	// advancing it by the number of bytes written (or to EOF, if the
	// descriptor was opened O_APPEND).
	Write(src Userio_i) (int, defs.Err_t)
	// Fullpath returns the absolute path the descriptor was opened with,
	// when that is meaningful (regular files, directories).
	Fullpath() (defs.Err_t, string)
	// Fstat populates a stat buffer for the underlying object.
	Fstat(st Statable_i) defs.Err_t
	// Mmapi returns the physical pages backing the object for mmap,
	// starting at the given page offset.
	Mmapi(off, len int, inc bool) ([]Mmapinfo_t, defs.Err_t)
	// Pathi returns the vnode backing this descriptor, for operations
	// (fchdir, link, rename) that need the underlying file identity.
	Pathi() Inum_i
	// Close releases resources; returns any deferred write-back error.
	Close() defs.Err_t
	// Reopen increments the descriptor's reference count (dup/dup2/fork).
	Reopen() defs.Err_t
	// Lseek repositions the offset per whence (spec.md §4.6.2 lseek).
	Lseek(off, whence int) (int, defs.Err_t)
	// Accept is a no-op returning -ENOTSOCK: this kernel core has no
	// socket layer (spec.md Non-goals), but fd.Fd_t's generic dispatch
	// still needs every Fdops_i to answer the call.
	Accept(Userio_i) (int, defs.Err_t)
	// Getfl returns the descriptor's open flags (F_GETFL).
	Getfl() int
	// Setfl updates non-mode open flags (F_SETFL), e.g. O_APPEND.
	Setfl(flags int) defs.Err_t
	// Truncate sets the underlying object's length.
	Truncate(newlen uint) defs.Err_t
}

// Statable_i is implemented by stat.Stat_t; kept as an interface here so
// fdops does not import the stat package (would create an import cycle
// with fs, which imports both).
type Statable_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

// Inum_i identifies the vnode backing a descriptor, for callers (link,
// rename, fchdir) that need object identity rather than a byte stream.
type Inum_i interface {
	Inum() (dev int, ino int)
}

// Mmapinfo_t describes one physical page backing an mmap'd region
// (spec.md §4.7 mmap), mirroring the teacher's mem.Mmapinfo_t shape.
type Mmapinfo_t struct {
	Pg   *int64
	Phys uintptr
}
