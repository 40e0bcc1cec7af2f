// Package bounds assigns a conservative worst-case byte cost to call sites
// that move data between kernel and user memory, for consumption by
// package res's admission control (SPEC_FULL.md §B/§5 "Shared resources").
//
// The teacher (biscuit) ships bounds as an empty module: vm/as.go and
// vm/userbuf.go already call bounds.Bounds(bounds.B_SOME_TAG) and feed the
// result to res.Resadd_noblock, but neither the tag constants nor Bounds
// itself exist in the retrieved fragment. Grounded on those call sites:
// each tag names the function and inner loop being bounded, and its cost
// is one page (the chunk size those copy loops operate in).
package bounds

// Tag identifies a call site whose resource cost Bounds reports.
type Tag int

const (
	B_ASPACE_T_K2USER_INNER Tag = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
)

// pageCost is the byte cost charged for any single bounded copy chunk:
// every tagged call site operates one page (mem.PGSIZE) at a time.
const pageCost = 4096

// Bounds returns the worst-case byte cost of one iteration of the loop
// at the given call site.
func Bounds(t Tag) int {
	switch t {
	case B_ASPACE_T_K2USER_INNER, B_ASPACE_T_USER2K_INNER,
		B_USERBUF_T__TX, B_USERIOVEC_T_IOV_INIT, B_USERIOVEC_T__TX:
		return pageCost
	}
	panic("unknown bounds tag")
}
