// Package res provides the kernel-heap admission control and reference
// counting primitives spec.md §5 describes under "Shared resources"
// ("Reference counting is used for VNode and OpenFile; drops to zero
// trigger teardown but never while a lock protecting the structure is
// held").
//
// The teacher ships res as an empty module: vm/as.go and vm/userbuf.go
// already call res.Resadd_noblock(cost) before every bulk user<->kernel
// copy chunk, bailing out with ENOHEAP when it returns false, but the
// budget itself is never defined in the retrieved fragment. This
// implements that budget as a weighted semaphore (golang.org/x/sync/
// semaphore, already a domain dependency of the wider example pack) sized
// to the amount of scratch heap the kernel is willing to commit to
// in-flight copies at once, and reclaimed by Resdel once the chunk has
// been consumed.
package res

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultBudget is the scratch-heap ceiling for in-flight user<->kernel
// copy chunks: 256 pages (1 MiB at the 4096-byte chunk size bounds.Bounds
// reports), enough to keep several concurrent syscalls in flight without
// letting a single large read/write starve the rest of the kernel.
const DefaultBudget = 256 * 4096

var heap = semaphore.NewWeighted(DefaultBudget)

// Resadd_noblock attempts to reserve n bytes of scratch heap without
// blocking. It returns false when the budget is exhausted, the signal to
// callers (K2user_inner, User2k_inner, ...) to fail the copy with ENOHEAP
// rather than stall waiting for other syscalls to finish.
func Resadd_noblock(n int) bool {
	return heap.TryAcquire(int64(n))
}

// Resdel releases n bytes previously reserved with Resadd_noblock, once
// the copy chunk they backed has been consumed.
func Resdel(n int) {
	heap.Release(int64(n))
}

// SetBudget resizes the global scratch-heap budget; used by tests to
// exercise ENOHEAP without allocating DefaultBudget's worth of traffic.
func SetBudget(n int64) {
	heap = semaphore.NewWeighted(n)
}

// Counted embeds a reference count into VNode/OpenFile-like structures
// (spec.md §5). Drops to zero are reported to the caller via Down so
// teardown can happen outside of any lock the embedding struct holds.
type Counted struct {
	mu  sync.Mutex
	ref int
}

// Init sets the initial reference count (normally 1, for the creator).
func (c *Counted) Init(n int) {
	c.mu.Lock()
	c.ref = n
	c.mu.Unlock()
}

// Up increments the reference count.
func (c *Counted) Up() {
	c.mu.Lock()
	c.ref++
	c.mu.Unlock()
}

// Down decrements the reference count and reports whether it reached
// zero, in which case the caller must tear the object down.
func (c *Counted) Down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref--
	if c.ref < 0 {
		panic("reference count underflow")
	}
	return c.ref == 0
}

// Count returns the current reference count, for diagnostics and tests.
func (c *Counted) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref
}
