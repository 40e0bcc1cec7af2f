// Package tmpfs implements the in-memory filesystem backend spec.md
// §4.6.3 requires: a tree of file/directory/symlink nodes with no
// backing store, registered with package fs as the "tmpfs" filesystem
// type.
//
// Grounded on original_source/sys/src/libfs/tmpfs.c: node allocation
// with a per-mount monotonic inode counter, a file's data buffer grown
// by doubling capacity on write, a directory as a linked list of
// {name, node} entries with maintained link counts, and unlink/rmdir
// freeing a node once its link count reaches zero.
package tmpfs

import (
	"sync"
	"unsafe"

	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/fs"
)

const (
	rootIno     = 1
	defaultMode = 0755
)

// node is a tmpfs object's backend-private state (original_source's
// tmpfs_node_t), reached from a *fs.Vnode via its Priv field.
type node struct {
	mu    sync.Mutex
	typ   fs.VType
	ino   int
	mode  uint
	nlink int
	ms    *mountState

	// file
	data []byte
	size int

	// dir
	entries []*dirent

	// symlink
	target string

	vn *fs.Vnode
}

type dirent struct {
	name string
	n    *node
}

// mountState is one tmpfs instance's state, referenced by every vnode
// minted under it (original_source's tmpfs_mount_t).
type mountState struct {
	mu      sync.Mutex
	nextIno int
	root    *node
}

func (ms *mountState) allocIno() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ino := ms.nextIno
	ms.nextIno++
	return ino
}

var vnodeOps = &fs.VnodeOps{
	Read:     doRead,
	Write:    doWrite,
	Truncate: doTruncate,
	Size:     doSize,
	Readdir:  doReaddir,
	Lookup:   doLookup,
	Create:   doCreate,
	Mkdir:    doMkdir,
	Rmdir:    doRmdir,
	Unlink:   doUnlink,
	Link:     doLink,
	Rename:   doRename,
	Symlink:  doSymlink,
	Readlink: doReadlink,
	Getattr:  doGetattr,
	Setattr:  doSetattr,
	Sync:     nil,
	Release:  doRelease,
}

func mustNode(v *fs.Vnode) *node {
	return v.Priv.(*node)
}

func newNode(ms *mountState, typ fs.VType, mode uint) *node {
	return &node{typ: typ, ino: ms.allocIno(), mode: mode, nlink: 0, ms: ms}
}

func vnodeFor(m *fs.Mount, n *node) *fs.Vnode {
	v := fs.NewVnode(m, n.typ, vnodeOps, n.ino)
	v.Mode = n.mode
	v.Nlink = n.nlink
	v.Priv = n
	n.vn = v
	return v
}

// Register installs tmpfs with package fs's filesystem registry
// (original_source's tmpfs_init / vfs_register_filesystem).
func Register() error {
	return fs.Register(&fs.FSType{
		Name:    "tmpfs",
		Mount:   mount,
		Unmount: unmount,
		Statfs:  statfs,
		Sync:    sync_,
	})
}

func mount(device string, data interface{}) (*fs.Vnode, defs.Err_t) {
	ms := &mountState{nextIno: rootIno}
	root := newNode(ms, fs.VDIR, defs.S_IFDIR|defaultMode)
	root.nlink = 2
	ms.root = root
	v := vnodeFor(nil, root)
	return v, 0
}

func unmount(root *fs.Vnode) defs.Err_t {
	return 0
}

func statfs(root *fs.Vnode) (fs.Statfs_t, defs.Err_t) {
	return fs.Statfs_t{}, -defs.ENOSYS
}

func sync_(root *fs.Vnode) defs.Err_t {
	return 0
}

func doSize(v *fs.Vnode) int {
	n := mustNode(v)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

// doRead copies from the node's data buffer into dst, bounded by the
// current size (tmpfs_read).
func doRead(v *fs.Vnode, dst fdops.Userio_i, off int) (int, defs.Err_t) {
	n := mustNode(v)
	if n.typ != fs.VREG {
		return 0, -defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if off >= n.size {
		return 0, 0
	}
	avail := n.size - off
	buf := n.data[off : off+avail]
	got, err := dst.Uiowrite(buf)
	return got, err
}

// doWrite grows the node's buffer by doubling capacity when needed,
// then copies src in at off (tmpfs_write).
func doWrite(v *fs.Vnode, src fdops.Userio_i, off int) (int, defs.Err_t) {
	n := mustNode(v)
	if n.typ != fs.VREG {
		return 0, -defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	want := src.Remain()
	newSize := off + want
	if newSize > cap(n.data) {
		newCap := newSize * 2
		nd := make([]byte, newSize, newCap)
		copy(nd, n.data[:n.size])
		n.data = nd
	} else if newSize > len(n.data) {
		n.data = n.data[:newSize]
	}

	got, err := src.Uioread(n.data[off : off+want])
	if err != 0 {
		return 0, err
	}
	if newSize > n.size {
		n.size = newSize
	}
	return got, 0
}

// doTruncate resizes a file node, zero-filling on grow (tmpfs_truncate).
func doTruncate(v *fs.Vnode, newlen uint) defs.Err_t {
	n := mustNode(v)
	if n.typ != fs.VREG {
		return -defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	nl := int(newlen)
	switch {
	case nl == 0:
		n.data = nil
		n.size = 0
	case nl < n.size:
		n.size = nl
	case nl > n.size:
		if nl > cap(n.data) {
			nd := make([]byte, nl)
			copy(nd, n.data[:n.size])
			n.data = nd
		} else {
			n.data = n.data[:nl]
			for i := n.size; i < nl; i++ {
				n.data[i] = 0
			}
		}
		n.size = nl
	}
	return 0
}

func findDirent(dir *node, name string) *dirent {
	for _, e := range dir.entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

// doLookup finds name within a directory node (tmpfs_lookup).
func doLookup(v *fs.Vnode, name string) (*fs.Vnode, defs.Err_t) {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return nil, -defs.ENOTDIR
	}
	dn.mu.Lock()
	e := findDirent(dn, name)
	dn.mu.Unlock()
	if e == nil {
		return nil, -defs.ENOTFOUND
	}
	if e.n.vn != nil {
		e.n.vn.Ref()
		return e.n.vn, 0
	}
	return vnodeFor(v.Mount, e.n), 0
}

func addDirent(dir *node, name string, n *node) defs.Err_t {
	if findDirent(dir, name) != nil {
		return -defs.EEXIST
	}
	dir.entries = append(dir.entries, &dirent{name: name, n: n})
	n.nlink++
	return 0
}

// doCreate makes a new regular-file node and links it into dir
// (tmpfs_create).
func doCreate(v *fs.Vnode, name string, mode uint) (*fs.Vnode, defs.Err_t) {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return nil, -defs.ENOTDIR
	}
	ms := mountStateOf(v)
	fnode := newNode(ms, fs.VREG, defs.S_IFREG|(mode&0o7777))

	dn.mu.Lock()
	defer dn.mu.Unlock()
	if err := addDirent(dn, name, fnode); err != 0 {
		return nil, err
	}
	return vnodeFor(v.Mount, fnode), 0
}

// doMkdir makes a new directory node and links it into dir
// (tmpfs_mkdir).
func doMkdir(v *fs.Vnode, name string, mode uint) (*fs.Vnode, defs.Err_t) {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return nil, -defs.ENOTDIR
	}
	ms := mountStateOf(v)
	newd := newNode(ms, fs.VDIR, defs.S_IFDIR|(mode&0o7777))
	newd.nlink = 1

	dn.mu.Lock()
	defer dn.mu.Unlock()
	if err := addDirent(dn, name, newd); err != 0 {
		return nil, err
	}
	return vnodeFor(v.Mount, newd), 0
}

// doRmdir removes an empty subdirectory entry (tmpfs_rmdir).
func doRmdir(v *fs.Vnode, name string) defs.Err_t {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return -defs.ENOTDIR
	}
	dn.mu.Lock()
	defer dn.mu.Unlock()

	e := findDirent(dn, name)
	if e == nil {
		return -defs.ENOTFOUND
	}
	if e.n.typ != fs.VDIR {
		return -defs.ENOTDIR
	}
	if len(e.n.entries) > 0 {
		return -defs.ENOTEMPTY
	}
	return removeDirent(dn, name)
}

func removeDirent(dir *node, name string) defs.Err_t {
	for i, e := range dir.entries {
		if e.name == name {
			dir.entries = append(dir.entries[:i], dir.entries[i+1:]...)
			e.n.nlink--
			return 0
		}
	}
	return -defs.ENOTFOUND
}

// doUnlink drops a directory entry, freeing the target once its link
// count reaches zero (tmpfs_dirent_remove's nlink==0 case).
func doUnlink(v *fs.Vnode, name string) defs.Err_t {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return -defs.ENOTDIR
	}
	dn.mu.Lock()
	defer dn.mu.Unlock()
	return removeDirent(dn, name)
}

// doLink adds an additional name for an existing non-directory node
// (tmpfs_link).
func doLink(dir *fs.Vnode, name string, target *fs.Vnode) defs.Err_t {
	dn := mustNode(dir)
	tn := mustNode(target)
	if dn.typ != fs.VDIR {
		return -defs.EINVAL
	}
	if tn.typ == fs.VDIR {
		return -defs.EPERM
	}
	dn.mu.Lock()
	defer dn.mu.Unlock()
	return addDirent(dn, name, tn)
}

// lockTwo locks two directory nodes in a fixed order (by memory address)
// to avoid an ABBA deadlock when a rename's source and destination
// directories differ (original_source has a single global fs lock and
// never faced this; this is the per-directory-lock equivalent).
func lockTwo(a, b *node) {
	if a == b {
		a.mu.Lock()
		return
	}
	if uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b)) {
		a.mu.Lock()
		b.mu.Lock()
	} else {
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockTwo(a, b *node) {
	if a == b {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}

// doRename moves a directory entry from oldDir to newDir, overwriting any
// existing entry at newName the way POSIX rename(2) does (SPEC_FULL.md §E
// resolves the "vfs_rename unsupported" open question by implementing it
// fully). Unlike unlink+link, the moved node's nlink does not change — the
// entry is spliced out of one entries list and into another directly.
func doRename(oldDir *fs.Vnode, oldName string, newDir *fs.Vnode, newName string) defs.Err_t {
	odn := mustNode(oldDir)
	ndn := mustNode(newDir)
	if odn.typ != fs.VDIR || ndn.typ != fs.VDIR {
		return -defs.ENOTDIR
	}
	lockTwo(odn, ndn)
	defer unlockTwo(odn, ndn)

	idx := -1
	for i, e := range odn.entries {
		if e.name == oldName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -defs.ENOTFOUND
	}
	moving := odn.entries[idx]

	if existing := findDirent(ndn, newName); existing != nil {
		if existing.n == moving.n {
			return 0
		}
		if existing.n.typ == fs.VDIR && len(existing.n.entries) > 0 {
			return -defs.ENOTEMPTY
		}
		for j, e := range ndn.entries {
			if e.name == newName {
				ndn.entries = append(ndn.entries[:j], ndn.entries[j+1:]...)
				e.n.nlink--
				break
			}
		}
	}

	odn.entries = append(odn.entries[:idx], odn.entries[idx+1:]...)
	moving.name = newName
	ndn.entries = append(ndn.entries, moving)
	return 0
}

// doSymlink creates a symlink node holding target as its stored path
// (tmpfs_symlink).
func doSymlink(dir *fs.Vnode, name, target string) (*fs.Vnode, defs.Err_t) {
	dn := mustNode(dir)
	if dn.typ != fs.VDIR {
		return nil, -defs.ENOTDIR
	}
	ms := mountStateOf(dir)
	sn := newNode(ms, fs.VLNK, defs.S_IFLNK|0o777)
	sn.target = target
	sn.size = len(target)

	dn.mu.Lock()
	defer dn.mu.Unlock()
	if err := addDirent(dn, name, sn); err != 0 {
		return nil, err
	}
	return vnodeFor(dir.Mount, sn), 0
}

// doReadlink returns the stored symlink target (tmpfs_readlink).
func doReadlink(v *fs.Vnode) (string, defs.Err_t) {
	n := mustNode(v)
	if n.typ != fs.VLNK {
		return "", -defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target, 0
}

// doReaddir snapshots a directory's entries (tmpfs_readdir, minus the
// offset-cursor protocol — package fs's callers want the whole listing
// at once).
func doReaddir(v *fs.Vnode) ([]fs.Dirent_t, defs.Err_t) {
	dn := mustNode(v)
	if dn.typ != fs.VDIR {
		return nil, -defs.ENOTDIR
	}
	dn.mu.Lock()
	defer dn.mu.Unlock()

	out := make([]fs.Dirent_t, 0, len(dn.entries))
	for _, e := range dn.entries {
		out = append(out, fs.Dirent_t{Name: e.name, Ino: e.n.ino, Type: e.n.typ})
	}
	return out, 0
}

// doGetattr fills st from the node's attributes (tmpfs_getattr).
func doGetattr(v *fs.Vnode, st fdops.Statable_i) defs.Err_t {
	n := mustNode(v)
	n.mu.Lock()
	defer n.mu.Unlock()
	st.Wino(uint(n.ino))
	st.Wmode(n.mode)
	st.Wsize(uint(n.size))
	return 0
}

// doSetattr updates a node's mode bits (tmpfs_setattr, minus uid/gid —
// this kernel has no user/group model).
func doSetattr(v *fs.Vnode, mode uint) defs.Err_t {
	n := mustNode(v)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = (n.mode &^ 0o7777) | (mode & 0o7777)
	return 0
}

// doRelease is a no-op: a tmpfs node is freed when its link count
// reaches zero in removeDirent, not when its last vnode reference
// drops (tmpfs_release).
func doRelease(v *fs.Vnode) defs.Err_t {
	return 0
}

// mountStateOf recovers the mountState a vnode's node belongs to.
func mountStateOf(v *fs.Vnode) *mountState {
	return mustNode(v).ms
}
