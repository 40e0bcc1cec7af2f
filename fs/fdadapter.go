package fs

import (
	"nucleus/defs"
	"nucleus/fdops"
)

// FileDescriptor adapts an OpenFile to fdops.Fdops_i, the vtable package fd
// and the syscall layer dispatch file descriptor operations through. One
// FileDescriptor is allocated per fd.Fd_t a regular-file/directory open()
// produces (spec.md §4.7 open).
type FileDescriptor struct {
	Of    *OpenFile
	Path  string
	flags int
}

// NewFileDescriptor wraps of for insertion into a process's fd table.
func NewFileDescriptor(of *OpenFile, path string) *FileDescriptor {
	return &FileDescriptor{Of: of, Path: path, flags: of.Flags}
}

func (d *FileDescriptor) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return d.Of.Read(dst)
}

func (d *FileDescriptor) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return d.Of.Write(src)
}

func (d *FileDescriptor) Fullpath() (defs.Err_t, string) {
	return 0, d.Path
}

func (d *FileDescriptor) Fstat(st fdops.Statable_i) defs.Err_t {
	v := d.Of.Vnode
	if v.Ops.Getattr == nil {
		return -defs.ENOSYS
	}
	return v.Ops.Getattr(v, st)
}

func (d *FileDescriptor) Mmapi(off, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENOSYS
}

func (d *FileDescriptor) Pathi() fdops.Inum_i {
	return d.Of.Vnode
}

func (d *FileDescriptor) Close() defs.Err_t {
	return d.Of.Close()
}

func (d *FileDescriptor) Reopen() defs.Err_t {
	d.Of.Dup()
	return 0
}

func (d *FileDescriptor) Lseek(off, whence int) (int, defs.Err_t) {
	return d.Of.Lseek(off, whence)
}

func (d *FileDescriptor) Accept(fdops.Userio_i) (int, defs.Err_t) {
	return 0, -defs.ENOTSOCK
}

func (d *FileDescriptor) Getfl() int {
	return d.flags
}

func (d *FileDescriptor) Setfl(flags int) defs.Err_t {
	d.flags = (d.flags &^ defs.O_APPEND) | (flags & defs.O_APPEND)
	return 0
}

func (d *FileDescriptor) Truncate(newlen uint) defs.Err_t {
	v := d.Of.Vnode
	if v.Ops.Truncate == nil {
		return -defs.ENOSYS
	}
	return v.Ops.Truncate(v, newlen)
}
