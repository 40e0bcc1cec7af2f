// Package fs implements the virtual filesystem core spec.md §4.6
// describes: a filesystem registry, a mount table, vnode-operation
// dispatch, path resolution with symlink following, and OpenFile
// semantics. It is deliberately backend-agnostic — package tmpfs is the
// required in-memory backend (spec.md §4.6.3); package ufs registers a
// second, disk-backed backend built on its own block cache.
//
// Grounded on the teacher's fs/super.go and fs/blk.go for the idea of a
// filesystem package owning on-disk/in-memory layout, and on
// original_source/sys/src/libfs/vfs.c for the registry/mount/lookup
// split itself, which the teacher's retrieved fragment never shipped.
package fs

import (
	"sync"

	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/res"
)

// VType is a vnode's kind.
type VType int

const (
	VREG VType = iota
	VDIR
	VLNK
)

// Dirent_t is one directory entry returned by readdir (spec.md §4.6.2
// readdir).
type Dirent_t struct {
	Name string
	Ino  int
	Type VType
}

// VnodeOps is the operation vtable every vnode dispatches through
// (spec.md §4.6.2: "read, write, truncate, readdir, lookup, create,
// mkdir, rmdir, unlink, link, rename, symlink, readlink, getattr, setattr,
// sync, release. Any may be absent, in which case the operation returns
// 'not supported'"). Modeled as a struct of optional function fields rather
// than a Go interface so a backend can genuinely leave entries nil.
type VnodeOps struct {
	Read     func(v *Vnode, dst fdops.Userio_i, off int) (int, defs.Err_t)
	Write    func(v *Vnode, src fdops.Userio_i, off int) (int, defs.Err_t)
	Truncate func(v *Vnode, newlen uint) defs.Err_t
	Size     func(v *Vnode) int
	Readdir  func(v *Vnode) ([]Dirent_t, defs.Err_t)
	Lookup   func(v *Vnode, name string) (*Vnode, defs.Err_t)
	Create   func(v *Vnode, name string, mode uint) (*Vnode, defs.Err_t)
	Mkdir    func(v *Vnode, name string, mode uint) (*Vnode, defs.Err_t)
	Rmdir    func(v *Vnode, name string) defs.Err_t
	Unlink   func(v *Vnode, name string) defs.Err_t
	Link     func(dir *Vnode, name string, target *Vnode) defs.Err_t
	Rename   func(oldDir *Vnode, oldName string, newDir *Vnode, newName string) defs.Err_t
	Symlink  func(dir *Vnode, name, target string) (*Vnode, defs.Err_t)
	Readlink func(v *Vnode) (string, defs.Err_t)
	Getattr  func(v *Vnode, st fdops.Statable_i) defs.Err_t
	Setattr  func(v *Vnode, mode uint) defs.Err_t
	Sync     func(v *Vnode) defs.Err_t
	Release  func(v *Vnode) defs.Err_t
}

// Vnode is one filesystem object: identity, type, and a backend-private
// payload (spec.md §3 VNode). Reference counting is res.Counted, per
// spec.md §5's "Reference counting is used for VNode and OpenFile; drops
// to zero trigger teardown but never while a lock protecting the
// structure is held" — Unref calls Ops.Release only after Counted.Down
// returns, outside of v's own mutex.
type Vnode struct {
	mu     sync.Mutex
	Type   VType
	Ops    *VnodeOps
	Mount  *Mount
	Ino    int
	Mode   uint
	Nlink  int
	IsRoot bool
	Priv   interface{}
	refs   res.Counted
}

// NewVnode allocates a vnode with refcount 1, owned by m.
func NewVnode(m *Mount, typ VType, ops *VnodeOps, ino int) *Vnode {
	v := &Vnode{Type: typ, Ops: ops, Mount: m, Ino: ino, Nlink: 1}
	v.refs.Init(1)
	return v
}

// Ref increments v's reference count.
func (v *Vnode) Ref() {
	v.refs.Up()
}

// Unref decrements v's reference count, invoking release at zero.
func (v *Vnode) Unref() {
	if v.refs.Down() {
		if v.Ops.Release != nil {
			v.Ops.Release(v)
		}
	}
}

// Refcount reports v's current reference count (tests, diagnostics).
func (v *Vnode) Refcount() int {
	return v.refs.Count()
}

// Inum implements fdops.Inum_i.
func (v *Vnode) Inum() (dev int, ino int) {
	dev = 0
	if v.Mount != nil {
		dev = v.Mount.Dev
	}
	return dev, v.Ino
}
