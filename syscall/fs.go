package syscall

import (
	"nucleus/bpath"
	"nucleus/defs"
	"nucleus/fd"
	"nucleus/fs"
	"nucleus/proc"
	"nucleus/ustr"
	"nucleus/util"
	"nucleus/vmm"
)

// direntHeaderSize is sizeof(d_ino)+sizeof(d_off)+sizeof(d_reclen) in the
// linux_dirent layout sys_getdents packs (original_source's struct
// linux_dirent: unsigned long, unsigned long, unsigned short).
const direntHeaderSize = 8 + 8 + 2

// direntType maps a VType to the Linux d_type byte getdents stores at the
// end of each record.
func direntType(t fs.VType) byte {
	switch t {
	case fs.VDIR:
		return 4 // DT_DIR
	case fs.VLNK:
		return 10 // DT_LNK
	default:
		return 8 // DT_REG
	}
}

// installOpen allocates a fd-table slot wrapping of at path with the open
// flags it was opened with (spec.md §4.7 open: "installs into the first
// free fd slot").
func installOpen(p *proc.Process, of *fs.OpenFile, path string) int64 {
	var perms int
	switch of.Flags & defs.O_ACCMODE {
	case defs.O_RDONLY:
		perms = fd.FD_READ
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	default:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	if of.Flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	n, err := p.AllocFd(&fd.Fd_t{Fops: fs.NewFileDescriptor(of, path), Perms: perms})
	if err != 0 {
		of.Close()
		return int64(err)
	}
	return int64(n)
}

// SysOpen implements open(path, flags, mode) (spec.md §4.7 open).
func SysOpen(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	flags := int(regs.Rsi)
	mode := uint(regs.Rdx)
	of, oerr := fs.Open(path, flags, mode)
	if oerr != 0 {
		return int64(oerr)
	}
	return installOpen(p, of, path)
}

// SysCreat implements creat(path, mode) as open(path, O_CREAT|O_WRONLY|
// O_TRUNC, mode) (spec.md §4.7 creat).
func SysCreat(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	creatRegs := *regs
	creatRegs.Rdx = regs.Rsi
	creatRegs.Rsi = int64(defs.O_CREAT | defs.O_WRONLY | defs.O_TRUNC)
	return SysOpen(p, t, &creatRegs)
}

// SysOpenat implements openat(dirfd, path, flags, mode) (spec.md §4.7
// openat). Only dirfd == AT_FDCWD (-100, matching the libc convention the
// original validates against) is supported, and then path resolves as in
// open; any other dirfd returns -ENOSYS whatever the path
// (original_source's own openat leaves that case "-ENOTSUP").
func SysOpenat(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	const atFdcwd = -100
	dirfd := int(regs.Rdi)
	if dirfd != atFdcwd {
		return int64(-defs.ENOSYS)
	}
	openRegs := *regs
	openRegs.Rdi = regs.Rsi
	openRegs.Rsi = regs.Rdx
	openRegs.Rdx = regs.R10
	return SysOpen(p, t, &openRegs)
}

// SysClose implements close(fd) (spec.md §4.7 close).
func SysClose(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	return int64(p.CloseFd(int(regs.Rdi)))
}

// SysRead implements read(fd, buf, count) (spec.md §4.7 read).
func SysRead(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	up, err := userRange(p, uintptr(regs.Rsi), int(regs.Rdx))
	if err != 0 {
		return int64(err)
	}
	n, rerr := f.Fops.Read(vmm.NewUserIO(up))
	if rerr != 0 {
		return int64(rerr)
	}
	return int64(n)
}

// SysWrite implements write(fd, buf, count) (spec.md §4.7 write).
func SysWrite(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	up, err := userRange(p, uintptr(regs.Rsi), int(regs.Rdx))
	if err != 0 {
		return int64(err)
	}
	n, werr := f.Fops.Write(vmm.NewUserIO(up))
	if werr != 0 {
		return int64(werr)
	}
	return int64(n)
}

// SysLseek implements lseek(fd, offset, whence) (spec.md §4.7 lseek).
func SysLseek(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	n, serr := f.Fops.Lseek(int(regs.Rsi), int(regs.Rdx))
	if serr != 0 {
		return int64(serr)
	}
	return int64(n)
}

// SysDup implements dup(oldfd) (spec.md §4.7 dup).
func SysDup(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	n, err := p.DupFd(int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(n)
}

// SysDup2 implements dup2(oldfd, newfd) (spec.md §4.7 dup2).
func SysDup2(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	n, err := p.DupFd2(int(regs.Rdi), int(regs.Rsi))
	if err != 0 {
		return int64(err)
	}
	return int64(n)
}

// SysFcntl implements a bounded fcntl(fd, cmd, arg): F_DUPFD, F_GETFD/
// F_SETFD (the table-level close-on-exec bit), F_GETFL/F_SETFL (spec.md
// §4.7 fcntl).
func SysFcntl(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	fdn := int(regs.Rdi)
	cmd := int(regs.Rsi)
	arg := int(regs.Rdx)

	f, err := getFd(p, fdn)
	if err != 0 {
		return int64(err)
	}

	switch cmd {
	case defs.F_DUPFD:
		nf, derr := fd.Copyfd(f)
		if derr != 0 {
			return int64(derr)
		}
		n, aerr := p.AllocFd(nf)
		if aerr != 0 {
			nf.Fops.Close()
			return int64(aerr)
		}
		return int64(n)
	case defs.F_GETFD:
		if f.Perms&fd.FD_CLOEXEC != 0 {
			return 1
		}
		return 0
	case defs.F_SETFD:
		if arg&1 != 0 {
			f.Perms |= fd.FD_CLOEXEC
		} else {
			f.Perms &^= fd.FD_CLOEXEC
		}
		return 0
	case defs.F_GETFL:
		return int64(f.Fops.Getfl())
	case defs.F_SETFL:
		return int64(f.Fops.Setfl(arg))
	default:
		return int64(-defs.EINVAL)
	}
}

// SysMkdir implements mkdir(path, mode) (spec.md §4.7 mkdir).
func SysMkdir(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Mkdir(path, uint(regs.Rsi)))
}

// SysMknod implements mknod(path, mode, dev) (spec.md §4.7 mknod). Only
// the regular-file and directory type bits are honored: this kernel core
// has no device-special vnode backend, so requesting S_IFCHR/S_IFBLK
// returns -ENOSYS rather than silently creating a regular file.
func SysMknod(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	mode := uint(regs.Rsi)
	switch mode & defs.S_IFMT {
	case defs.S_IFDIR:
		return int64(fs.Mkdir(path, mode&defs.S_IPERM))
	case defs.S_IFREG, 0:
		of, oerr := fs.Open(path, defs.O_CREAT|defs.O_EXCL, mode&defs.S_IPERM)
		if oerr != 0 {
			return int64(oerr)
		}
		return int64(of.Close())
	default:
		return int64(-defs.ENOSYS)
	}
}

// SysRmdir implements rmdir(path) (spec.md §4.7 rmdir).
func SysRmdir(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Rmdir(path))
}

// SysUnlink implements unlink(path) (spec.md §4.7 unlink).
func SysUnlink(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Unlink(path))
}

// SysGetcwd implements getcwd(buf, size) (spec.md §4.7 getcwd), copying
// out the process's canonical cwd path plus a NUL terminator, or -ERANGE
// if it does not fit.
func SysGetcwd(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	size := int(regs.Rsi)
	if regs.Rdi == 0 || size == 0 {
		return int64(-defs.EINVAL)
	}
	up, err := userRange(p, uintptr(regs.Rdi), size)
	if err != 0 {
		return int64(err)
	}

	p.Cwd.Lock()
	path := p.Cwd.Path.String()
	p.Cwd.Unlock()
	if path == "" {
		path = "/"
	}
	if len(path)+1 > size {
		return int64(-defs.ERANGE)
	}
	buf := make([]byte, len(path)+1)
	copy(buf, path)
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return int64(len(buf))
}

// SysChdir implements chdir(path) (spec.md §4.7 chdir): resolves path,
// confirms it is a directory, and replaces the process's cwd.
func SysChdir(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	v, lerr := fs.Lookup(path, true)
	if lerr != 0 {
		return int64(lerr)
	}
	defer v.Unref()
	if v.Type != fs.VDIR {
		return int64(-defs.ENOTDIR)
	}

	p.Cwd.Lock()
	p.Cwd.Path = bpath.Canonicalize(ustr.Ustr(path))
	p.Cwd.Unlock()
	return 0
}

// SysFchdir implements fchdir(fd) (spec.md §4.7 fchdir): resolves the
// open file's path and replaces cwd the same way chdir does.
func SysFchdir(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	ferr, path := f.Fops.Fullpath()
	if ferr != 0 {
		return int64(ferr)
	}
	if path == "" {
		return int64(-defs.ENOTDIR)
	}
	v, lerr := fs.Lookup(path, true)
	if lerr != 0 {
		return int64(lerr)
	}
	defer v.Unref()
	if v.Type != fs.VDIR {
		return int64(-defs.ENOTDIR)
	}
	p.Cwd.Lock()
	p.Cwd.Path = bpath.Canonicalize(ustr.Ustr(path))
	p.Cwd.Unlock()
	return 0
}

// SysGetdents implements getdents(fd, dirp, count), packing entries as
// Linux-style linux_dirent records the way original_source's sys_getdents
// does, a few entries at a time across repeated calls via the open
// file's cursor (spec.md §4.7 getdents).
func SysGetdents(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	count := int(regs.Rdx)
	if regs.Rsi == 0 || count == 0 {
		return int64(-defs.EINVAL)
	}
	up, err := userRange(p, uintptr(regs.Rsi), count)
	if err != 0 {
		return int64(err)
	}
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	fdesc, ok := f.Fops.(*fs.FileDescriptor)
	if !ok {
		return int64(-defs.ENOTDIR)
	}
	if fdesc.Of.Vnode.Type != fs.VDIR {
		return int64(-defs.ENOTDIR)
	}

	entries, derr := fdesc.Of.Readdir()
	if derr != 0 {
		return int64(derr)
	}
	pos := fdesc.Of.DirPos()

	buf := make([]byte, 0, count)
	for pos < len(entries) {
		e := entries[pos]
		reclen := util.Roundup(direntHeaderSize+len(e.Name)+2, 8)
		if len(buf)+reclen > count {
			break
		}
		rec := make([]byte, reclen)
		util.Writen(rec, 8, 0, e.Ino)
		util.Writen(rec, 8, 8, pos+1)
		util.Writen(rec, 2, 16, reclen)
		copy(rec[direntHeaderSize:], e.Name)
		rec[reclen-1] = direntType(e.Type)
		buf = append(buf, rec...)
		pos++
	}
	fdesc.Of.SetDirPos(pos)

	if len(buf) == 0 {
		return 0
	}
	if cerr := up.CopyOut(buf); cerr != 0 {
		return int64(cerr)
	}
	return int64(len(buf))
}

// SysSymlink implements symlink(target, linkpath) (spec.md §4.7 symlink).
func SysSymlink(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	target, terr := copyinRaw(p, uintptr(regs.Rdi))
	if terr != 0 {
		return int64(terr)
	}
	linkpath, lerr := copyinPath(p, uintptr(regs.Rsi))
	if lerr != 0 {
		return int64(lerr)
	}
	return int64(fs.Symlink(target, linkpath))
}

// SysReadlink implements readlink(path, buf, size) (spec.md §4.7
// readlink), copying out without a NUL terminator and returning the byte
// count the way POSIX readlink(2) does.
func SysReadlink(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, perr := copyinPath(p, uintptr(regs.Rdi))
	if perr != 0 {
		return int64(perr)
	}
	size := int(regs.Rdx)
	up, uerr := userRange(p, uintptr(regs.Rsi), size)
	if uerr != 0 {
		return int64(uerr)
	}
	target, rerr := fs.Readlink(path)
	if rerr != 0 {
		return int64(rerr)
	}
	n := len(target)
	if n > size {
		n = size
	}
	if cerr := up.CopyOut([]byte(target[:n])); cerr != 0 {
		return int64(cerr)
	}
	return int64(n)
}

// SysLink implements link(oldpath, newpath) (spec.md §4.7 link).
func SysLink(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	oldpath, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	newpath, err := copyinPath(p, uintptr(regs.Rsi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Link(oldpath, newpath))
}

// SysRename implements rename(oldpath, newpath) (spec.md §4.7 rename).
func SysRename(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	oldpath, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	newpath, err := copyinPath(p, uintptr(regs.Rsi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Rename(oldpath, newpath))
}

// SysTruncate implements truncate(path, length) (spec.md §4.7 truncate).
func SysTruncate(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	if regs.Rsi < 0 {
		return int64(-defs.EINVAL)
	}
	return int64(fs.Truncate(path, uint(regs.Rsi)))
}

// SysFtruncate implements ftruncate(fd, length) (spec.md §4.7 ftruncate).
func SysFtruncate(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	f, err := getFd(p, int(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	if regs.Rsi < 0 {
		return int64(-defs.EINVAL)
	}
	return int64(f.Fops.Truncate(uint(regs.Rsi)))
}

// SysAccess implements access(path, mode) (spec.md §4.7 access): an
// existence check only, per-bit read/write/execute permission checks are
// out of scope (no uid/gid/permission model exists anywhere in the vnode
// layer, and spec.md names "full POSIX compliance" a Non-goal).
func SysAccess(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Access(path))
}

// SysChown implements chown(path, uid, gid) (spec.md §4.7 chown) as an
// existence check only; see SysAccess's rationale.
func SysChown(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Access(path))
}

// SysChmod implements chmod(path, mode) (spec.md §4.7 chmod), genuinely
// mutating the vnode's stored mode bits.
func SysChmod(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	path, err := copyinPath(p, uintptr(regs.Rdi))
	if err != 0 {
		return int64(err)
	}
	return int64(fs.Chmod(path, uint(regs.Rsi)&defs.S_IPERM))
}
