package fs

import (
	"nucleus/bpath"
	"nucleus/defs"
	"nucleus/ustr"
)

// splitParent resolves path's parent directory and returns it (ref held)
// alongside the final path component.
func splitParent(path string) (*Vnode, string, defs.Err_t) {
	dirPath := bpath.Dir(ustr.Ustr(path)).String()
	name := bpath.Base(ustr.Ustr(path)).String()
	dir, err := Lookup(dirPath, true)
	if err != 0 {
		return nil, "", err
	}
	if dir.Type != VDIR {
		dir.Unref()
		return nil, "", -defs.ENOTDIR
	}
	return dir, name, 0
}

// Mkdir creates a directory at path (spec.md §4.6.2 mkdir).
func Mkdir(path string, mode uint) defs.Err_t {
	dir, name, err := splitParent(path)
	if err != 0 {
		return err
	}
	defer dir.Unref()
	if dir.Ops.Mkdir == nil {
		return -defs.ENOSYS
	}
	v, err := dir.Ops.Mkdir(dir, name, mode)
	if err != 0 {
		return err
	}
	v.Unref()
	return 0
}

// Rmdir removes the empty directory at path (spec.md §4.6.2 rmdir).
func Rmdir(path string) defs.Err_t {
	dir, name, err := splitParent(path)
	if err != 0 {
		return err
	}
	defer dir.Unref()
	if dir.Ops.Rmdir == nil {
		return -defs.ENOSYS
	}
	return dir.Ops.Rmdir(dir, name)
}

// Unlink removes the directory entry at path, rejecting directories the
// way POSIX unlink(2) does (spec.md §4.6.2 unlink).
func Unlink(path string) defs.Err_t {
	v, err := Lookup(path, false)
	if err == 0 {
		isDir := v.Type == VDIR
		v.Unref()
		if isDir {
			return -defs.EISDIR
		}
	}
	dir, name, err := splitParent(path)
	if err != 0 {
		return err
	}
	defer dir.Unref()
	if dir.Ops.Unlink == nil {
		return -defs.ENOSYS
	}
	return dir.Ops.Unlink(dir, name)
}

// Link creates newpath as a hard link to oldpath's vnode (spec.md §4.6.2
// link). Cross-filesystem linking is rejected the same way Rename
// rejects cross-filesystem moves.
func Link(oldpath, newpath string) defs.Err_t {
	target, err := Lookup(oldpath, true)
	if err != 0 {
		return err
	}
	defer target.Unref()
	if target.Type == VDIR {
		return -defs.EPERM
	}

	dir, name, err := splitParent(newpath)
	if err != 0 {
		return err
	}
	defer dir.Unref()
	if dir.Mount != target.Mount {
		return -defs.EXDEV
	}
	if dir.Ops.Link == nil {
		return -defs.ENOSYS
	}
	return dir.Ops.Link(dir, name, target)
}

// Symlink creates linkpath as a symlink pointing at target (spec.md
// §4.6.2 symlink). target is stored verbatim, resolved lazily at lookup.
func Symlink(target, linkpath string) defs.Err_t {
	dir, name, err := splitParent(linkpath)
	if err != 0 {
		return err
	}
	defer dir.Unref()
	if dir.Ops.Symlink == nil {
		return -defs.ENOSYS
	}
	v, err := dir.Ops.Symlink(dir, name, target)
	if err != 0 {
		return err
	}
	v.Unref()
	return 0
}

// Readlink returns the target of the symlink at path (spec.md §4.6.2
// readlink). path is resolved without following its own final symlink
// component.
func Readlink(path string) (string, defs.Err_t) {
	v, err := Lookup(path, false)
	if err != 0 {
		return "", err
	}
	defer v.Unref()
	if v.Type != VLNK {
		return "", -defs.EINVAL
	}
	if v.Ops.Readlink == nil {
		return "", -defs.ENOSYS
	}
	return v.Ops.Readlink(v)
}

// Truncate sets the length of the regular file at path (spec.md §4.6.2
// truncate).
func Truncate(path string, length uint) defs.Err_t {
	v, err := Lookup(path, true)
	if err != 0 {
		return err
	}
	defer v.Unref()
	if v.Type != VREG {
		return -defs.EISDIR
	}
	if v.Ops.Truncate == nil {
		return -defs.ENOSYS
	}
	return v.Ops.Truncate(v, length)
}

// Chmod updates the permission bits of the object at path (spec.md
// §4.6.2 setattr), leaving its type bits untouched.
func Chmod(path string, mode uint) defs.Err_t {
	v, err := Lookup(path, true)
	if err != 0 {
		return err
	}
	defer v.Unref()
	if v.Ops.Setattr == nil {
		return -defs.ENOSYS
	}
	return v.Ops.Setattr(v, mode)
}

// Access checks that path resolves to an existing object (spec.md §4.6.2
// "full POSIX compliance" is a named Non-goal, so Access does not model
// per-bit read/write/execute permission checks — any successful lookup
// satisfies it).
func Access(path string) defs.Err_t {
	v, err := Lookup(path, true)
	if err != 0 {
		return err
	}
	v.Unref()
	return 0
}
