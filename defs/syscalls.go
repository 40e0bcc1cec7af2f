package defs

// Sysno is the logical syscall number type used by the dispatch table
// (spec.md §4.7: "numbers are logical, not ABI-fixed"). Arguments arrive
// via the standard six-register ABI (rdi, rsi, rdx, r10, r8, r9) regardless
// of number; see package syscall for the dispatcher.
type Sysno int

const (
	SYS_EXIT Sysno = iota
	SYS_FORK
	SYS_READ
	SYS_WRITE
	SYS_OPEN
	SYS_CLOSE
	SYS_CREAT
	SYS_OPENAT
	SYS_MKDIR
	SYS_MKNOD
	SYS_RMDIR
	SYS_UNLINK
	SYS_GETCWD
	SYS_CHDIR
	SYS_FCHDIR
	SYS_GETDENTS
	SYS_SYMLINK
	SYS_READLINK
	SYS_LINK
	SYS_RENAME
	SYS_TRUNCATE
	SYS_FTRUNCATE
	SYS_ACCESS
	SYS_CHOWN
	SYS_CHMOD
	SYS_FCNTL
	SYS_DUP
	SYS_DUP2
	SYS_STAT
	SYS_FSTAT
	SYS_LSTAT
	SYS_LSEEK
	SYS_GETPID
	SYS_GETPPID
	SYS_MMAP
	SYS_MUNMAP
	SYS_MPROTECT
	SYS_BRK
	SYS_GETHOSTNAME
	SYS_GETHOSTID
	SYS_SYSINFO
	SYS_UNAME
	SYS_GETTIMEOFDAY
	SYS_CLOCK_GETTIME
	SYS_CLOCK_GETRES
	SYS_NANOSLEEP
)
