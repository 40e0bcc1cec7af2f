package syscall

import (
	"nucleus/defs"
	"nucleus/fd"
	"nucleus/proc"
	"nucleus/ustr"
	"nucleus/vmm"
)

// maxPath bounds every copyinstr'd path, matching original_source's
// VFS_MAX_PATH (spec.md §4.7 "Strings are length-bounded copied into a
// kernel-local buffer with copyinstr up to a maximum path length").
const maxPath = 4096

// userRange builds a UserPtr over p's address space after validating the
// range lies entirely within mapped memory (spec.md §4.7 "Validate every
// user pointer against the current address space's user range and the
// requested length").
func userRange(p *proc.Process, va uintptr, n int) (vmm.UserPtr, defs.Err_t) {
	if n < 0 || (n > 0 && !p.Vm.IsUserRange(va, n)) {
		return vmm.UserPtr{}, -defs.EFAULT
	}
	return vmm.UserPtr{AS: p.Vm, Va: va, Len: n}, 0
}

// copyinPath validates and copies a NUL-terminated path string out of
// user memory, then resolves it against p's cwd if relative (spec.md
// §4.6.1, §4.7).
func copyinPath(p *proc.Process, va uintptr) (string, defs.Err_t) {
	if va == 0 {
		return "", -defs.EFAULT
	}
	up := vmm.UserPtr{AS: p.Vm, Va: va, Len: maxPath}
	s, err := up.CopyInString(maxPath)
	if err != 0 {
		return "", err
	}
	if s == "" {
		return "", -defs.EINVAL
	}
	return resolvePath(p, s), 0
}

// copyinRaw validates and copies a NUL-terminated string out of user
// memory without resolving it as a path, for callers like symlink whose
// target argument is stored verbatim rather than looked up.
func copyinRaw(p *proc.Process, va uintptr) (string, defs.Err_t) {
	if va == 0 {
		return "", -defs.EFAULT
	}
	up := vmm.UserPtr{AS: p.Vm, Va: va, Len: maxPath}
	s, err := up.CopyInString(maxPath)
	if err != 0 {
		return "", err
	}
	if s == "" {
		return "", -defs.EINVAL
	}
	return s, 0
}

// resolvePath joins a possibly-relative path against p's current working
// directory; absolute paths pass through untouched.
func resolvePath(p *proc.Process, raw string) string {
	u := ustr.Ustr(raw)
	if u.IsAbsolute() {
		return raw
	}
	p.Cwd.Lock()
	full := p.Cwd.Fullpath(u)
	p.Cwd.Unlock()
	return full.String()
}

// getFd fetches fd n from p's descriptor table, translating a miss into
// -EBADF the way every handler below needs (spec.md §4.7 "File descriptor
// resolution takes a shared reference on the OpenFile under the
// process's fd-table lock").
func getFd(p *proc.Process, n int) (*fd.Fd_t, defs.Err_t) {
	f, ok := p.GetFd(n)
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}
