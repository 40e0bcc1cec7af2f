package fs

import (
	"sync"

	"nucleus/defs"
)

// Mount is one active mount (spec.md §4.6 "mount... returns a VfsMount
// whose root_vnode is valid").
type Mount struct {
	FSType *FSType
	Device string
	Path   string
	Root   *Vnode
	Flags  int
	Dev    int
}

var (
	mountMu   sync.Mutex
	mounts    []*Mount
	rootMount *Mount
	nextDev   int
)

// ResetForTest clears all mount/registry state. Exported for package
// tmpfs's and kernel's tests, which each want a clean VFS per test case.
func ResetForTest() {
	mountMu.Lock()
	mounts = nil
	rootMount = nil
	nextDev = 0
	mountMu.Unlock()
}

// Mnt performs mount(device, path, fstype, flags, data) (spec.md §4.6
// mount): looks up fstype in the registry, calls its mount callback, and
// — for the first mount at "/" — installs it as the root mount. Non-root
// mounts require path to already exist and be a directory.
func Mnt(device, path, fstype string, flags int, data interface{}) (*Mount, defs.Err_t) {
	fst, ok := lookupFSType(fstype)
	if !ok {
		return nil, -defs.EINVAL
	}

	mountMu.Lock()
	isRootMount := path == "/"
	if isRootMount && rootMount != nil {
		mountMu.Unlock()
		return nil, -defs.EEXIST
	}
	mountMu.Unlock()

	if !isRootMount {
		mp, err := Lookup(path, true)
		if err != 0 {
			return nil, err
		}
		isDir := mp.Type == VDIR
		mp.Unref()
		if !isDir {
			return nil, -defs.ENOTDIR
		}
	}

	root, err := fst.Mount(device, data)
	if err != 0 {
		return nil, err
	}
	root.IsRoot = true

	mountMu.Lock()
	nextDev++
	dev := nextDev
	m := &Mount{FSType: fst, Device: device, Path: path, Root: root, Flags: flags, Dev: dev}
	root.Mount = m
	mounts = append(mounts, m)
	if isRootMount {
		rootMount = m
	}
	mountMu.Unlock()

	return m, 0
}

// Unmnt unmounts m. The root mount may never be unmounted (spec.md §4.6
// "may not be unmounted").
func Unmnt(m *Mount) defs.Err_t {
	mountMu.Lock()
	if m == rootMount {
		mountMu.Unlock()
		return -defs.EINVAL
	}
	idx := -1
	for i, e := range mounts {
		if e == m {
			idx = i
			break
		}
	}
	if idx < 0 {
		mountMu.Unlock()
		return -defs.EINVAL
	}
	mounts = append(mounts[:idx], mounts[idx+1:]...)
	mountMu.Unlock()

	if m.FSType.Unmount != nil {
		return m.FSType.Unmount(m.Root)
	}
	return 0
}

// RootMount returns the current root mount, if any.
func RootMount() (*Mount, bool) {
	mountMu.Lock()
	defer mountMu.Unlock()
	return rootMount, rootMount != nil
}

// SyncAll calls every mounted filesystem's sync callback, stopping at the
// first error.
func SyncAll() defs.Err_t {
	mountMu.Lock()
	snapshot := append([]*Mount{}, mounts...)
	mountMu.Unlock()
	for _, m := range snapshot {
		if m.FSType.Sync != nil {
			if err := m.FSType.Sync(m.Root); err != 0 {
				return err
			}
		}
	}
	return 0
}
