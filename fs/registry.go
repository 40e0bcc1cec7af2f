package fs

import (
	"fmt"
	"sync"

	"nucleus/defs"
)

// Statfs_t is the minimal filesystem-level statistics record a backend's
// Statfs callback fills in (spec.md §4.6 registry record "{name, mount,
// unmount, statfs, sync, alloc_vnode, free_vnode}").
type Statfs_t struct {
	Blocks uint64
	Bfree  uint64
	Files  uint64
	Ffree  uint64
}

// FSType is one filesystem registry entry (spec.md §4.6 "each filesystem
// supplies a record"). AllocVnode/FreeVnode are optional hooks a backend
// with its own vnode pool can use; most backends (tmpfs) just allocate
// vnodes directly from their own ops and leave these nil.
type FSType struct {
	Name       string
	Mount      func(device string, data interface{}) (*Vnode, defs.Err_t)
	Unmount    func(root *Vnode) defs.Err_t
	Statfs     func(root *Vnode) (Statfs_t, defs.Err_t)
	Sync       func(root *Vnode) defs.Err_t
	AllocVnode func() *Vnode
	FreeVnode  func(v *Vnode)
}

var (
	regMu    sync.Mutex
	registry = map[string]*FSType{}
)

// Register adds fst to the filesystem registry, rejecting duplicate
// names (spec.md §4.6 "duplicate names rejected").
func Register(fst *FSType) error {
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := registry[fst.Name]; ok {
		return fmt.Errorf("fs: filesystem type %q already registered", fst.Name)
	}
	registry[fst.Name] = fst
	return nil
}

// Unregister removes a filesystem type, for tests that re-register under
// the same name across runs.
func Unregister(name string) {
	regMu.Lock()
	delete(registry, name)
	regMu.Unlock()
}

func lookupFSType(name string) (*FSType, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	fst, ok := registry[name]
	return fst, ok
}
