package defs

// Open flags (spec.md §4.6.2, §4.7). Bit layout is arbitrary — the kernel
// never exposes these to real userspace libc — but kept disjoint so they
// compose with bitwise OR the way the teacher's code (and every caller in
// this repo) expects.
const (
	O_RDONLY  int = 0x0
	O_WRONLY  int = 0x1
	O_RDWR    int = 0x2
	O_ACCMODE int = 0x3

	O_CREAT  int = 0x40
	O_EXCL   int = 0x80
	O_TRUNC  int = 0x200
	O_APPEND int = 0x400
	O_CLOEXEC int = 0x80000
	O_DIRECTORY int = 0x10000
	O_NOFOLLOW  int = 0x20000
)

// Seek whence values (spec.md §4.6.2 lseek).
const (
	SEEK_SET int = 0
	SEEK_CUR int = 1
	SEEK_END int = 2
)

// File type bits packed into the high bits of a mode word, POSIX-shaped
// (spec.md §3 VNode.mode "type+perms").
const (
	S_IFMT   uint = 0o170000
	S_IFREG  uint = 0o100000
	S_IFDIR  uint = 0o040000
	S_IFLNK  uint = 0o120000
	S_IFCHR  uint = 0o020000
	S_IFBLK  uint = 0o060000
	S_IPERM  uint = 0o007777 // permission bits mask
)

// mmap protection and flag bits (spec.md §4.7 mmap).
const (
	PROT_NONE  int = 0x0
	PROT_READ  int = 0x1
	PROT_WRITE int = 0x2
	PROT_EXEC  int = 0x4

	MAP_SHARED    int = 0x01
	MAP_PRIVATE   int = 0x02
	MAP_FIXED     int = 0x10
	MAP_ANONYMOUS int = 0x20
)

// fcntl commands used by Sys_fcntl (spec.md §4.7 "fcntl").
const (
	F_DUPFD  int = 0
	F_GETFD  int = 1
	F_SETFD  int = 2
	F_GETFL  int = 3
	F_SETFL  int = 4
)
