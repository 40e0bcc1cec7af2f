package console

import (
	"nucleus/defs"
	"nucleus/fdops"
)

// Fd adapts a Console into fdops.Fdops_i so it can be installed directly
// into a process's descriptor table (spec.md §4.7.1: "For the process's
// first three fds (0/1/2), if no vnode has been installed, reads come
// from a keyboard source... and writes go to the console"). One Fd per
// fd-table slot, all sharing the same underlying Console.
type Fd struct {
	C     *Console
	flags int
}

// NewFd wraps c for installation at a descriptor table slot with the
// given open flags (O_RDONLY for fd 0, O_WRONLY for fds 1/2).
func NewFd(c *Console, flags int) *Fd {
	return &Fd{C: c, flags: flags}
}

func (f *Fd) Read(dst fdops.Userio_i) (int, defs.Err_t) { return f.C.Read(dst) }

func (f *Fd) Write(src fdops.Userio_i) (int, defs.Err_t) { return f.C.Write(src) }

func (f *Fd) Fullpath() (defs.Err_t, string) { return 0, "" }

func (f *Fd) Fstat(st fdops.Statable_i) defs.Err_t {
	st.Wdev(defs.Mkdev(defs.D_CONSOLE, 0))
	st.Wmode(defs.S_IFCHR | 0o620)
	return 0
}

func (f *Fd) Mmapi(off, length int, inc bool) ([]fdops.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.ENOSYS
}

func (f *Fd) Pathi() fdops.Inum_i { return nil }

func (f *Fd) Close() defs.Err_t { return 0 }

func (f *Fd) Reopen() defs.Err_t { return 0 }

func (f *Fd) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

func (f *Fd) Accept(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.ENOTSOCK }

func (f *Fd) Getfl() int { return f.flags }

func (f *Fd) Setfl(flags int) defs.Err_t { f.flags = flags; return 0 }

func (f *Fd) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
