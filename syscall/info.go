package syscall

import (
	"nucleus/defs"
	"nucleus/proc"
	"nucleus/sched"
	"nucleus/timer"
	"nucleus/util"
)

// hostname is this kernel's fixed, unconfigurable host name (spec.md §4.7
// gethostname/uname have no setter, so a constant is all there is to
// report).
const hostname = "nucleus"

// hostid is a fixed placeholder identity returned by gethostid, mirroring
// original_source's thin wrapper around a single global id with no
// configuration surface in this kernel core.
const hostid = 0x4e55434c // "NUCL"

// SysGethostname implements gethostname(name, len) (spec.md §4.7
// gethostname), copying out the fixed hostname truncated (with its NUL)
// to fit len.
func SysGethostname(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	size := int(regs.Rsi)
	if size == 0 {
		return int64(-defs.EINVAL)
	}
	up, err := userRange(p, uintptr(regs.Rdi), size)
	if err != 0 {
		return int64(err)
	}
	buf := append([]byte(hostname), 0)
	if len(buf) > size {
		buf = buf[:size]
	}
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

// SysGethostid implements gethostid() (spec.md §4.7 gethostid).
func SysGethostid(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	return int64(hostid)
}

// sysinfoSize is this kernel's struct sysinfo layout: uptime seconds
// followed by reserved space, a minimal subset of Linux's struct sysinfo
// since no physical-memory accounting beyond page allocation exists to
// populate the rest meaningfully (spec.md Non-goals excludes a full
// memory-accounting subsystem).
const sysinfoSize = 64

// SysSysinfo implements sysinfo(info) (spec.md §4.7 sysinfo).
func SysSysinfo(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	up, err := userRange(p, uintptr(regs.Rdi), sysinfoSize)
	if err != 0 {
		return int64(err)
	}
	sec, _ := timer.Nanouptime()
	buf := make([]byte, sysinfoSize)
	util.Writen(buf, 8, 0, int(sec))
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

// unameFieldLen is the per-field width of struct utsname (Linux's
// _UTSNAME_LENGTH: 65 bytes including NUL).
const unameFieldLen = 65

func unameField(buf []byte, idx int, s string) {
	off := idx * unameFieldLen
	n := copy(buf[off:off+unameFieldLen-1], s)
	buf[off+n] = 0
}

// SysUname implements uname(buf) (spec.md §4.7 uname): sysname, nodename,
// release, version, machine, domainname, each a fixed 65-byte field.
func SysUname(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	size := unameFieldLen * 6
	up, err := userRange(p, uintptr(regs.Rdi), size)
	if err != 0 {
		return int64(err)
	}
	buf := make([]byte, size)
	unameField(buf, 0, "nucleus")
	unameField(buf, 1, hostname)
	unameField(buf, 2, "1.0")
	unameField(buf, 3, "1.0")
	unameField(buf, 4, "x86_64")
	unameField(buf, 5, "(none)")
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

func packTimeval(buf []byte, off int, sec, usec int64) {
	util.Writen(buf, 8, off, int(sec))
	util.Writen(buf, 8, off+8, int(usec))
}

// SysGettimeofday implements gettimeofday(tv, tz) (spec.md §4.7
// gettimeofday): tv gets wall-clock (sec, usec); a non-null tz gets two
// zero fields, matching original_source's "this kernel has no timezone
// concept" stance.
func SysGettimeofday(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	if regs.Rdi != 0 {
		up, err := userRange(p, uintptr(regs.Rdi), 16)
		if err != 0 {
			return int64(err)
		}
		sec, nsec := timer.Nanotime()
		buf := make([]byte, 16)
		packTimeval(buf, 0, sec, nsec/1000)
		if cerr := up.CopyOut(buf); cerr != 0 {
			return int64(cerr)
		}
	}
	if regs.Rsi != 0 {
		up, err := userRange(p, uintptr(regs.Rsi), 16)
		if err != 0 {
			return int64(err)
		}
		if cerr := up.CopyOut(make([]byte, 16)); cerr != 0 {
			return int64(cerr)
		}
	}
	return 0
}

const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// SysClockGettime implements clock_gettime(clockid, tp) (spec.md §4.7
// clock_gettime): CLOCK_REALTIME maps to timer.Nanotime, CLOCK_MONOTONIC
// to timer.Nanouptime; any other clock id returns -EINVAL.
func SysClockGettime(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	clockid := int(regs.Rdi)
	up, err := userRange(p, uintptr(regs.Rsi), 16)
	if err != 0 {
		return int64(err)
	}
	var sec, nsec int64
	switch clockid {
	case clockRealtime:
		sec, nsec = timer.Nanotime()
	case clockMonotonic:
		sec, nsec = timer.Nanouptime()
	default:
		return int64(-defs.EINVAL)
	}
	buf := make([]byte, 16)
	util.Writen(buf, 8, 0, int(sec))
	util.Writen(buf, 8, 8, int(nsec))
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

// SysClockGetres implements clock_getres(clockid, res) (spec.md §4.7
// clock_getres), reporting a 1ns resolution the way original_source's
// sys_clock_getres does for every clock id it accepts.
func SysClockGetres(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	clockid := int(regs.Rdi)
	if clockid != clockRealtime && clockid != clockMonotonic {
		return int64(-defs.EINVAL)
	}
	up, err := userRange(p, uintptr(regs.Rsi), 16)
	if err != 0 {
		return int64(err)
	}
	buf := make([]byte, 16)
	util.Writen(buf, 8, 8, 1)
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

// SysNanosleep implements nanosleep(req, rem) (spec.md §4.7 nanosleep):
// copies in the requested duration, puts the calling task to sleep for
// it via sched.Sleep, and if rem is non-null reports zero remaining time
// (this substrate's sleep always runs to completion, never interrupted).
func SysNanosleep(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	reqVa := uintptr(regs.Rdi)
	if reqVa == 0 {
		return int64(-defs.EINVAL)
	}
	up, err := userRange(p, reqVa, 16)
	if err != 0 {
		return int64(err)
	}
	buf := make([]byte, 16)
	if cerr := up.CopyIn(buf); cerr != 0 {
		return int64(cerr)
	}
	sec := util.Readn(buf, 8, 0)
	nsec := util.Readn(buf, 8, 8)
	if sec < 0 || nsec < 0 || nsec >= 1e9 {
		return int64(-defs.EINVAL)
	}

	task, ok := sched.ByTid(int(t.Tid))
	if !ok {
		return int64(-defs.ESRCH)
	}
	ms := uint64(sec)*1000 + uint64(nsec)/1e6
	sched.Sleep(task, ms)

	if regs.Rsi != 0 {
		remUp, rerr := userRange(p, uintptr(regs.Rsi), 16)
		if rerr != 0 {
			return int64(rerr)
		}
		if cerr := remUp.CopyOut(make([]byte, 16)); cerr != 0 {
			return int64(cerr)
		}
	}
	return 0
}
