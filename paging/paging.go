// Package paging manipulates 4-level page tables for a PageDirectory
// (spec.md §4.2). It walks PML4 → PDPT → PD → PT exactly as real x86-64
// hardware does, allocating intermediate tables on demand through
// package mem, but the tables themselves are simulated Go structs backed
// by pmm's byte arena (SPEC_FULL.md §D) rather than a CR3-rooted walk the
// MMU performs in hardware.
//
// Grounded on the teacher's mem/dmap.go: the 9-9-9-12 bit layout
// (pgbits/shl/mkpg) and the PTE_* flag bits from mem/mem.go are kept
// verbatim; the VREC recursive-mapping trick and the direct calls into
// biscuit's patched runtime (Cpuid/Rcr4/Vtop/Pml4freeze) that dmap.go
// used to bootstrap a *real* direct map are gone, since this substrate's
// "physical memory" is already a plain byte slice addressable without
// any of that (see package mem's Dmap).
package paging

import (
	"fmt"

	"nucleus/mem"
)

// Flag is the set of page-table flag bits spec.md §4.2 models, aliased
// from package mem's PTE_* constants so callers that only need paging
// don't have to import mem for flag names too.
type Flag = mem.Pa_t

const (
	PRESENT      = mem.PTE_P
	WRITE        = mem.PTE_W
	USER         = mem.PTE_U
	WRITETHROUGH = mem.PTE_WT
	CACHE_DISABLE = mem.PTE_PCD
	ACCESSED     = mem.PTE_A
	DIRTY        = mem.PTE_D
	HUGE         = mem.PTE_PS
	GLOBAL       = mem.PTE_G
	NX           = mem.PTE_NX
)

// PageDirectory is the root of one address space's page tables: the
// physical address of its PML4.
type PageDirectory struct {
	Pml4 mem.Pa_t
}

// kernelHigh holds the shared kernel-half PML4 entries (indices 256-511,
// the conventional x86-64 canonical-higher-half split) every address
// space's PML4 is initialized with.
var kernelHigh [512]mem.Pa_t
var kernelHighSet bool

// SetKernelTemplate records the kernel's half of the PML4 that every
// freshly created address space must share (spec.md §4.2
// create_address_space: "shares the high half (kernel) with the kernel
// template").
func SetKernelTemplate(entries [512]mem.Pa_t) {
	kernelHigh = entries
	kernelHighSet = true
}

// CreateAddressSpace allocates a PML4, zero-fills the low (user) half,
// and shares the high (kernel) half with the kernel template.
func CreateAddressSpace() (*PageDirectory, error) {
	pg, p_pg, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, fmt.Errorf("paging: out of memory for PML4")
	}
	if kernelHighSet {
		for i := 256; i < 512; i++ {
			pg[i] = kernelHigh[i]
		}
	}
	return &PageDirectory{Pml4: p_pg}, nil
}

// pgbits splits a virtual address into its four 9-bit table indices
// (l4, l3, l2, l1) plus the 12-bit page offset, per the teacher's
// mem/dmap.go layout.
func pgbits(v uintptr) (l4, l3, l2, l1 int) {
	lb := func(shift uint) int {
		return int((v >> shift) & 0x1ff)
	}
	return lb(39), lb(30), lb(21), lb(12)
}

// walk returns the leaf PTE pointer for virt within pd, allocating
// intermediate tables on demand when create is true. On allocation
// failure it rolls back every table it allocated during this call and
// returns nil.
func walk(pd *PageDirectory, virt uintptr, create bool, userIntermediate bool) (*mem.Pa_t, error) {
	l4, l3, l2, l1 := pgbits(virt)
	idxs := [3]int{l4, l3, l2}

	cur := pd.Pml4
	var allocated []mem.Pa_t
	var entries []*mem.Pa_t

	rollback := func() {
		for i, p := range allocated {
			*entries[i] = 0
			mem.Physmem.Dec_pmap(p)
		}
	}

	for _, idx := range idxs {
		pmap := mem.Pg2pmap(mem.Physmem.Dmap(cur))
		entry := pmap[idx]
		if entry&mem.PTE_P == 0 {
			if !create {
				return nil, nil
			}
			_, p_new, ok := mem.Physmem.Pmap_new()
			if !ok {
				rollback()
				return nil, fmt.Errorf("paging: out of memory for intermediate table")
			}
			flags := mem.PTE_P | mem.PTE_W
			if userIntermediate {
				flags |= mem.PTE_U
			}
			pmap[idx] = p_new | flags
			allocated = append(allocated, p_new)
			entries = append(entries, &pmap[idx])
			cur = p_new
		} else {
			if entry&mem.PTE_PS != 0 {
				// huge page encountered mid-walk; recognized, not split.
				return nil, fmt.Errorf("paging: huge page in intermediate level")
			}
			cur = entry & mem.PTE_ADDR
		}
	}

	pmap := mem.Pg2pmap(mem.Physmem.Dmap(cur))
	return &pmap[l1], nil
}

// Map walks PML4→PDPT→PD→PT, allocating intermediate tables on demand,
// and installs phys|flags at the leaf (spec.md §4.2 map). Any partial
// allocation is rolled back on failure.
func Map(pd *PageDirectory, virt uintptr, phys mem.Pa_t, flags Flag) error {
	pte, err := walk(pd, virt, true, flags&mem.PTE_U != 0)
	if err != nil {
		return err
	}
	*pte = phys&mem.PTE_ADDR | flags
	return nil
}

// Unmap clears the PTE for virt and flushes its TLB entry (spec.md §4.2
// unmap). Unmapping an address with no mapping is a no-op.
func Unmap(pd *PageDirectory, virt uintptr) {
	pte, err := walk(pd, virt, false, false)
	if err != nil || pte == nil {
		return
	}
	*pte = 0
	FlushTlbSingle(virt)
}

// ProtectRange changes the flags of n consecutive pages starting at
// base, preserving their physical frames (spec.md §4.2 protect_range).
func ProtectRange(pd *PageDirectory, base uintptr, n int, flags Flag) error {
	for i := 0; i < n; i++ {
		v := base + uintptr(i*mem.PGSIZE)
		p, ok := GetPhysicalAddress(pd, v)
		if !ok {
			continue
		}
		Unmap(pd, v)
		if err := Map(pd, v, p, flags); err != nil {
			return err
		}
	}
	return nil
}

// GetPhysicalAddress returns the frame backing virt, or false if virt is
// not mapped (spec.md §4.2 get_physical_address).
func GetPhysicalAddress(pd *PageDirectory, virt uintptr) (mem.Pa_t, bool) {
	pte, err := walk(pd, virt, false, false)
	if err != nil || pte == nil || *pte&mem.PTE_P == 0 {
		return 0, false
	}
	return *pte & mem.PTE_ADDR, true
}

// GetEntry returns the raw PTE (address bits plus every flag bit) for
// virt, or false if virt has no present mapping. Callers that need to
// inspect software-defined bits like PTE_COW use this instead of
// GetPhysicalAddress, which strips flags.
func GetEntry(pd *PageDirectory, virt uintptr) (mem.Pa_t, bool) {
	pte, err := walk(pd, virt, false, false)
	if err != nil || pte == nil || *pte&mem.PTE_P == 0 {
		return 0, false
	}
	return *pte, true
}

// IsMapped reports whether virt has a present mapping in pd.
func IsMapped(pd *PageDirectory, virt uintptr) bool {
	_, ok := GetPhysicalAddress(pd, virt)
	return ok
}

// MapRange maps n consecutive pages starting at virt to consecutive
// physical frames starting at phys, rolling back per-page on failure
// (spec.md §4.2 map_range).
func MapRange(pd *PageDirectory, virt uintptr, phys mem.Pa_t, n int, flags Flag) error {
	for i := 0; i < n; i++ {
		v := virt + uintptr(i*mem.PGSIZE)
		p := phys + mem.Pa_t(i*mem.PGSIZE)
		if err := Map(pd, v, p, flags); err != nil {
			for j := 0; j < i; j++ {
				Unmap(pd, virt+uintptr(j*mem.PGSIZE))
			}
			return err
		}
	}
	return nil
}

// IdentityMap maps n consecutive pages starting at base to themselves
// (spec.md §4.2 identity_map), used for MMIO and early boot mappings.
func IdentityMap(pd *PageDirectory, base uintptr, n int, flags Flag) error {
	return MapRange(pd, base, mem.Pa_t(base), n, flags)
}

// IsRangeMapped reports whether every page in [base, base+n*PGSIZE) is
// mapped (spec.md §4.2 is_range_mapped).
func IsRangeMapped(pd *PageDirectory, base uintptr, n int) bool {
	for i := 0; i < n; i++ {
		if !IsMapped(pd, base+uintptr(i*mem.PGSIZE)) {
			return false
		}
	}
	return true
}

// FlushTlbSingle invalidates one page's TLB entry. There is no real TLB
// in this substrate (SPEC_FULL.md §D); kept as a named no-op so callers
// that mirror the teacher's control flow (unmap-then-flush) still read
// naturally and so a later real-hardware port has an obvious seam.
func FlushTlbSingle(virt uintptr) {}

// FlushTlbAll invalidates every TLB entry. See FlushTlbSingle.
func FlushTlbAll() {}

// Canonical per-region flag sets (spec.md §4.2: "The canonical per-region
// flag sets are fixed policy"). Callers that carve out a region of a
// given kind (package vmm's region allocation, package elf's segment
// loader) start from one of these rather than composing flag bits ad hoc.
const (
	KernelCodeFlags = PRESENT | GLOBAL
	KernelDataFlags = PRESENT | WRITE | GLOBAL | NX
	UserCodeFlags   = PRESENT | USER
	UserDataFlags   = PRESENT | WRITE | USER | NX
	MMIOFlags       = PRESENT | WRITE | CACHE_DISABLE | WRITETHROUGH
	FramebufferFlags = PRESENT | WRITE | CACHE_DISABLE
)
