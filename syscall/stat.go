package syscall

import (
	"nucleus/defs"
	"nucleus/fs"
	"nucleus/proc"
	"nucleus/stat"
)

// doStat resolves path (following a trailing symlink iff followFinal) and
// copies a populated stat buffer out to va (spec.md §4.7 stat/lstat).
func doStat(p *proc.Process, path string, followFinal bool, va uintptr) int64 {
	v, err := fs.Lookup(path, followFinal)
	if err != 0 {
		return int64(err)
	}
	defer v.Unref()
	if v.Ops.Getattr == nil {
		return int64(-defs.ENOSYS)
	}

	var st stat.Stat_t
	if gerr := v.Ops.Getattr(v, &st); gerr != 0 {
		return int64(gerr)
	}
	up, uerr := userRange(p, va, len(st.Bytes()))
	if uerr != 0 {
		return int64(uerr)
	}
	if cerr := up.CopyOut(st.Bytes()); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

// SysStat implements stat(path, buf) (spec.md §4.7 stat).
func SysStat(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return doStat(p, path, true, uintptr(regs.Rsi))
}

// SysLstat implements lstat(path, buf): like stat but does not follow a
// symlink named by the final path component (spec.md §4.7 lstat).
func SysLstat(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return doStat(p, path, false, uintptr(regs.Rsi))
}

// SysFstat implements fstat(fd, buf) (spec.md §4.7 fstat).
func SysFstat(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}

	var st stat.Stat_t
	if ferr := f.Fops.Fstat(&st); ferr != 0 {
		return int64(ferr)
	}
	up, uerr := userRange(p, uintptr(regs.Rsi), len(st.Bytes()))
	if uerr != 0 {
		return int64(uerr)
	}
	if cerr := up.CopyOut(st.Bytes()); cerr != 0 {
		return int64(cerr)
	}
	return 0
}
