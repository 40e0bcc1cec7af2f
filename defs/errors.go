package defs

import "golang.org/x/sys/unix"

// Err_t is the kernel's signed-integer error taxonomy (spec.md §7). Zero is
// success; a handler returns a negative Err_t to signal failure, and the
// syscall layer places that value directly into rax as -errno.
type Err_t int

// Taxonomy members. Numeric values are POSIX errno values sourced from
// golang.org/x/sys/unix rather than hand-rolled magic numbers (SPEC_FULL.md
// §B) so that -Err_t matches what a userspace libc expects.
const (
	ENOTFOUND  Err_t = Err_t(unix.ENOENT)
	EEXIST     Err_t = Err_t(unix.EEXIST)
	EACCES     Err_t = Err_t(unix.EACCES)
	ENOTDIR    Err_t = Err_t(unix.ENOTDIR)
	EISDIR     Err_t = Err_t(unix.EISDIR)
	ENOTEMPTY  Err_t = Err_t(unix.ENOTEMPTY)
	ENOSPC     Err_t = Err_t(unix.ENOSPC)
	EBADF      Err_t = Err_t(unix.EBADF)
	EINVAL     Err_t = Err_t(unix.EINVAL)
	EFAULT     Err_t = Err_t(unix.EFAULT)
	ENOSYS     Err_t = Err_t(unix.ENOSYS)
	ELOOP      Err_t = Err_t(unix.ELOOP)
	ENAMETOOLONG Err_t = Err_t(unix.ENAMETOOLONG)
	EINTR      Err_t = Err_t(unix.EINTR)
	ENOMEM     Err_t = Err_t(unix.ENOMEM)
	EAGAIN     Err_t = Err_t(unix.EAGAIN)
	ESRCH      Err_t = Err_t(unix.ESRCH)
	ECHILD     Err_t = Err_t(unix.ECHILD)
	EMFILE     Err_t = Err_t(unix.EMFILE)
	ENXIO      Err_t = Err_t(unix.ENXIO)
	EXDEV      Err_t = Err_t(unix.EXDEV)
	ENOTSOCK   Err_t = Err_t(unix.ENOTSOCK)
	EPERM      Err_t = Err_t(unix.EPERM)
	ENOEXEC    Err_t = Err_t(unix.ENOEXEC)
	ERANGE     Err_t = Err_t(unix.ERANGE)
	ESPIPE     Err_t = Err_t(unix.ESPIPE)
	// ENOHEAP is a kernel-internal extension beyond POSIX: the resource
	// admission layer (res) is out of heap budget for a bounded copy
	// operation. The teacher's vm/as.go already returns -defs.ENOHEAP
	// from K2user_inner/User2k_inner without this fragment carrying the
	// constant's definition; we complete it with a value outside the
	// POSIX errno range so it can never collide with a real errno.
	ENOHEAP Err_t = Err_t(4096)
)

// names maps taxonomy members back to a short symbolic name for panic
// banners and test failure messages.
var names = map[Err_t]string{
	ENOTFOUND:    "NotFound",
	EEXIST:       "AlreadyExists",
	EACCES:       "PermissionDenied",
	ENOTDIR:      "NotDirectory",
	EISDIR:       "IsDirectory",
	ENOTEMPTY:    "NotEmpty",
	ENOSPC:       "NoSpace",
	EBADF:        "BadFd",
	EINVAL:       "InvalidArgument",
	EFAULT:       "BadAddress",
	ENOSYS:       "Unsupported",
	ELOOP:        "Loop",
	ENAMETOOLONG: "NameTooLong",
	EINTR:        "Interrupted",
	ENOMEM:       "NoSpace",
	EAGAIN:       "WouldBlock",
	ESRCH:        "NotFound",
	ECHILD:       "NotFound",
	EMFILE:       "NoSpace",
	ENXIO:        "NotFound",
	EXDEV:        "InvalidArgument",
	ENOTSOCK:     "NotSocket",
	EPERM:        "PermissionDenied",
	ENOEXEC:      "BadExecutable",
	ERANGE:       "RangeTooSmall",
	ESPIPE:       "IllegalSeek",
	ENOHEAP:      "NoSpace",
}

// String renders the taxonomy member name, or a raw numeral if unknown.
func (e Err_t) String() string {
	if e == 0 {
		return "OK"
	}
	n := e
	if n < 0 {
		n = -n
	}
	if s, ok := names[n]; ok {
		return s
	}
	return "Err(" + itoa(int(e)) + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
