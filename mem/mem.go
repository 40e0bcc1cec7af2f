package mem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"nucleus/pmm"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

// PTE_WT marks a page write-through.
const PTE_WT Pa_t = 1 << 3

// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

// PTE_A marks a page as accessed.
const PTE_A Pa_t = 1 << 5

// PTE_D marks a page as dirty.
const PTE_D Pa_t = 1 << 6

// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

// PTE_COW marks a copy-on-write page (software-defined bit, spec.md §4.3).
const PTE_COW Pa_t = 1 << 9

// PTE_WASCOW marks a page that was COW before the fault that removed it
// (software-defined bit, used to tell Sys_pgfault the mapping should
// become writable in place rather than allocate a fresh page when the
// last reference drops).
const PTE_WASCOW Pa_t = 1 << 10

// PTE_NX marks a page non-executable (spec.md §4.2 "Flag bits modeled:
// ...NX"), the architectural bit 63 of a real x86-64 PTE.
const PTE_NX Pa_t = 1 << 63

// PTE_ADDR extracts the address bits of a PTE: bits 12-51, the 52-bit
// physical address space x86-64 page tables actually address, distinct
// from PGMASK's simple page-alignment mask so it does not collide with
// PTE_NX sitting in bit 63 of the same word.
const PTE_ADDR Pa_t = 0x000ffffffffff000

// Pa_t represents a physical address.
type Pa_t uintptr

// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

// Pg_t is a generic page of ints.
type Pg_t [512]int

// Pmap_t is a page table page.
type Pmap_t [512]Pa_t

// Unpin_i allows unpinning of physical pages.
type Unpin_i interface {
	Unpin(Pa_t)
}

// Mmapinfo_t describes a mapping created by mmap.
type Mmapinfo_t struct {
	Pg   *Pg_t
	Phys Pa_t
}

// Page_i abstracts physical page allocation.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

// Pg2pmap reinterprets a page of ints as a page-table page.
func Pg2pmap(pg *Pg_t) *Pmap_t {
	return pg2pmap(pg)
}

func _pg2pgn(p Pa_t) uint64 {
	return uint64(p) >> PGSHIFT
}

// Physpg_t tracks the reference count of a single physical page. The
// teacher additionally tracks a Cpumask of which CPUs have a pmap loaded
// into cr3, used to decide when a TLB shootdown is necessary; this
// substrate has one CPU (spec.md §5 "single CPU"), so that bookkeeping is
// dropped.
type Physpg_t struct {
	Refcnt int32
}

// Physmem_t is the reference-counting layer on top of package pmm's
// bitmap frame allocator (spec.md §9's per-frame COW refcount, resolved
// Open Question (b) in SPEC_FULL.md §E). The teacher's Physmem_t owns its
// own freelist-based allocator, built for multiple cores pulling frames
// out of per-CPU pools; with a single CPU that layer collapses to a
// straight pass-through to pmm, keeping only the refcount array.
type Physmem_t struct {
	sync.Mutex
	alloc *pmm.Allocator
	Pgs   []Physpg_t
}

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// Init wires Physmem to a pmm.Allocator that has already scanned the
// boot memory map. Called once during kernel startup.
func Init(a *pmm.Allocator) {
	Physmem.alloc = a
	Physmem.Pgs = make([]Physpg_t, a.NFrames())
}

func (phys *Physmem_t) idx(p Pa_t) uint64 {
	return _pg2pgn(p)
}

// Refaddr returns the refcount pointer for the given page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := phys.idx(p_pg)
	return &phys.Pgs[idx].Refcnt, uint32(idx)
}

// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("wut")
	}
}

// Refdown decrements the reference count of a page, freeing it back to
// pmm when it reaches zero. It returns true when the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("wut")
	}
	if c == 0 {
		phys.alloc.Free(pmm.Frame(p_pg))
		return true
	}
	return false
}

// Zeropg is a zero-filled page template used to zero fresh allocations.
var Zeropg = &Pg_t{}

// Refpg_new allocates a zeroed page and returns its mapping and address.
// The returned page's refcount is set to 1.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

// Refpg_new_nozero allocates an uninitialized page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	f, ok := phys.alloc.Alloc()
	if !ok {
		return nil, 0, false
	}
	p_pg := Pa_t(f)
	idx := phys.idx(p_pg)
	atomic.StoreInt32(&phys.Pgs[idx].Refcnt, 1)
	return phys.Dmap(p_pg), p_pg, true
}

// Pmap_new allocates a new page table page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(pg), p_pg, true
}

// Dec_pmap decreases the reference count of a pmap, freeing it when it
// reaches zero.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys.Refdown(p_pmap)
}

// Dmap converts a physical address into its simulated direct-mapped
// address (SPEC_FULL.md §D stands in for the real higher-half alias).
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	b := phys.alloc.Dmap(pmm.Frame(uint64(p) &^ uint64(PGOFFSET)))
	return (*Pg_t)(unsafe.Pointer(&b[0]))
}

// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

// Pgcount reports the allocator's free/used page counts, for diagnostics.
func (phys *Physmem_t) Pgcount() pmm.Stats {
	return phys.alloc.Stats()
}
