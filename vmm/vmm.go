// Package vmm wraps package paging with region bookkeeping, a
// bump-allocated per-space heap, and a copy-on-write page-fault resolver
// (spec.md §4.3). It is grounded on the teacher's vm/as.go — Sys_pgfault's
// COW resolution and Page_insert's refcount discipline are kept, but
// reshaped around an explicit Region list instead of the teacher's
// Vmregion_t/Mfile_t machinery, which depended on disk-backed mmap types
// that were never part of this fragment's vm package in the first place
// (no vmregion.go/mfile.go anywhere in the source pack). fork's "mark
// both copies read-only, no frame duplication until fault" and the COW
// fault algorithm are adapted line-for-line from as.go's Sys_pgfault.
package vmm

import (
	"fmt"
	"sync"

	"nucleus/defs"
	"nucleus/mem"
	"nucleus/paging"
)

// Kind distinguishes a kernel address space from a user one; it only
// affects default heap bounds and whether PTE_U is set on new mappings.
type Kind int

const (
	KernelSpace Kind = iota
	UserSpace
)

// Default layout constants (spec.md §4.3 "user: bounded below the user
// stack top"). Arbitrary but page-aligned and canonical-address safe.
const (
	UserHeapBase  uintptr = 0x0000000000400000
	UserStackTop  uintptr = 0x00007ffffffff000
	UserStackSize int     = 8 * mem.PGSIZE
	UserHeapLimit uintptr = UserStackTop - uintptr(UserStackSize) - uintptr(mem.PGSIZE)

	KernelHeapBase  uintptr = 0xffff800000000000
	KernelHeapLimit uintptr = 0xffff800040000000
)

// Region describes one mapped extent of an address space (spec.md §3
// "Region"). Prot holds PRESENT/WRITE/USER/NX-equivalent bits as actually
// installed in present PTEs; when Cow is true, the PTE additionally carries
// PTE_COW and omits PTE_W until a write fault resolves it.
type Region struct {
	Base  uintptr
	Pages int
	Prot  paging.Flag
	Cow   bool
}

func (r *Region) end() uintptr { return r.Base + uintptr(r.Pages*mem.PGSIZE) }

// AddressSpace is one process's (or the kernel's) virtual memory: a page
// directory, its regions, and heap bounds (spec.md §4.3 AddressSpace).
type AddressSpace struct {
	sync.Mutex
	pd      *paging.PageDirectory
	kind    Kind
	regions []*Region
	brk     uintptr
	heapLo  uintptr
	heapHi  uintptr
}

var (
	currentMu sync.Mutex
	currentAS *AddressSpace
)

func roundDownPage(v uintptr) uintptr { return v &^ uintptr(mem.PGSIZE-1) }
func roundUpPage(v uintptr) uintptr   { return roundDownPage(v+uintptr(mem.PGSIZE-1)) }
func pagesFor(n int) int              { return (n + mem.PGSIZE - 1) / mem.PGSIZE }

// CreateAddressSpace allocates a fresh PageDirectory and heap bounds
// appropriate to kind (spec.md §4.3 create_address_space).
func CreateAddressSpace(kind Kind) (*AddressSpace, error) {
	pd, err := paging.CreateAddressSpace()
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{pd: pd, kind: kind}
	if kind == UserSpace {
		as.heapLo, as.heapHi = UserHeapBase, UserHeapLimit
	} else {
		as.heapLo, as.heapHi = KernelHeapBase, KernelHeapLimit
	}
	as.brk = as.heapLo
	return as, nil
}

// PageDirectory exposes the underlying page tables, for switch_address_space
// and for tests that want to cross-check mappings directly.
func (as *AddressSpace) PageDirectory() *paging.PageDirectory { return as.pd }

// Brk reports the current heap break. brk(2) works in absolute addresses
// where Sbrk works in relative deltas; the syscall layer reads this to
// compute the delta to pass to Sbrk.
func (as *AddressSpace) Brk() uintptr {
	as.Lock()
	defer as.Unlock()
	return as.brk
}

func (as *AddressSpace) findRegion(va uintptr) (*Region, bool) {
	for _, r := range as.regions {
		if va >= r.Base && va < r.end() {
			return r, true
		}
	}
	return nil, false
}

func (as *AddressSpace) overlaps(base uintptr, pages int) bool {
	end := base + uintptr(pages*mem.PGSIZE)
	for _, r := range as.regions {
		if base < r.end() && end > r.Base {
			return true
		}
	}
	return false
}

// mapFlags returns the canonical data-region flags for as's kind (spec.md
// §4.2's fixed per-region policy): heap, sbrk, and stack pages are data,
// never executable.
func (as *AddressSpace) mapFlags() paging.Flag {
	if as.kind == UserSpace {
		return paging.UserDataFlags
	}
	return paging.KernelDataFlags
}

func (as *AddressSpace) rollback(mapped []uintptr) {
	for _, v := range mapped {
		if p, ok := paging.GetPhysicalAddress(as.pd, v); ok {
			paging.Unmap(as.pd, v)
			mem.Physmem.Refdown(p)
		}
	}
}

// Alloc carves size bytes (rounded up to whole pages) from the heap at the
// current break, backing every page with a zeroed frame and recording a
// new Region (spec.md §4.3 alloc). Failure partway through is rolled back.
func (as *AddressSpace) Alloc(size int) (uintptr, error) {
	as.Lock()
	defer as.Unlock()
	if size <= 0 {
		return 0, fmt.Errorf("vmm: bad alloc size %d", size)
	}
	npg := pagesFor(size)
	base := as.brk
	if base+uintptr(npg*mem.PGSIZE) > as.heapHi {
		return 0, fmt.Errorf("vmm: alloc exceeds heap bound")
	}
	flags := as.mapFlags()
	mapped := make([]uintptr, 0, npg)
	for i := 0; i < npg; i++ {
		_, p_pg, ok := mem.Physmem.Refpg_new()
		if !ok {
			as.rollback(mapped)
			return 0, fmt.Errorf("vmm: out of memory")
		}
		v := base + uintptr(i*mem.PGSIZE)
		if err := paging.Map(as.pd, v, p_pg, flags); err != nil {
			mem.Physmem.Refdown(p_pg)
			as.rollback(mapped)
			return 0, err
		}
		mapped = append(mapped, v)
	}
	as.regions = append(as.regions, &Region{Base: base, Pages: npg, Prot: flags})
	as.brk = base + uintptr(npg*mem.PGSIZE)
	return base, nil
}

// AllocAt is Alloc with a caller-fixed virtual address instead of the
// current break (spec.md §4.3 alloc_at); it does not move brk.
func (as *AddressSpace) AllocAt(va uintptr, size int, flags paging.Flag) error {
	as.Lock()
	defer as.Unlock()
	if size <= 0 {
		return fmt.Errorf("vmm: bad alloc_at size %d", size)
	}
	base := roundDownPage(va)
	npg := pagesFor(size)
	if as.overlaps(base, npg) {
		return fmt.Errorf("vmm: alloc_at overlaps existing region")
	}
	mapped := make([]uintptr, 0, npg)
	for i := 0; i < npg; i++ {
		_, p_pg, ok := mem.Physmem.Refpg_new()
		if !ok {
			as.rollback(mapped)
			return fmt.Errorf("vmm: out of memory")
		}
		v := base + uintptr(i*mem.PGSIZE)
		if err := paging.Map(as.pd, v, p_pg, flags); err != nil {
			mem.Physmem.Refdown(p_pg)
			as.rollback(mapped)
			return err
		}
		mapped = append(mapped, v)
	}
	as.regions = append(as.regions, &Region{Base: base, Pages: npg, Prot: flags})
	return nil
}

// Free unmaps and frees every page of the region starting at va (spec.md
// §4.3 free). va must match a Region's Base exactly.
func (as *AddressSpace) Free(va uintptr, size int) error {
	as.Lock()
	defer as.Unlock()
	return as.freeLocked(va, size)
}

func (as *AddressSpace) freeLocked(va uintptr, size int) error {
	base := roundDownPage(va)
	for i, r := range as.regions {
		if r.Base != base {
			continue
		}
		for p := 0; p < r.Pages; p++ {
			v := base + uintptr(p*mem.PGSIZE)
			if phys, ok := paging.GetPhysicalAddress(as.pd, v); ok {
				paging.Unmap(as.pd, v)
				mem.Physmem.Refdown(phys)
			}
		}
		as.regions = append(as.regions[:i], as.regions[i+1:]...)
		return nil
	}
	return fmt.Errorf("vmm: free of unknown region %#x", va)
}

// UnmapRegion removes a region's mappings. In this minimum implementation
// every region is privately backed, so unmapping always frees the backing
// frames too; it is kept as a distinct name from Free to match spec.md's
// operation list and give callers an unmap-without-free seam to extend
// later (e.g. shared file mappings).
func (as *AddressSpace) UnmapRegion(va uintptr, size int) error {
	return as.Free(va, size)
}

// ProtectRegion changes the flags of the region starting at va, preserving
// its physical frames (spec.md §4.3 protect_region).
func (as *AddressSpace) ProtectRegion(va uintptr, size int, flags paging.Flag) error {
	as.Lock()
	defer as.Unlock()
	base := roundDownPage(va)
	r, ok := as.findRegion(base)
	if !ok || r.Base != base {
		return fmt.Errorf("vmm: protect_region of unknown region %#x", va)
	}
	if err := paging.ProtectRange(as.pd, base, r.Pages, flags); err != nil {
		return err
	}
	r.Prot = flags
	r.Cow = false
	return nil
}

// MapRegion reserves [va, va+size) with the given flags without backing it
// with frames yet — used for guard pages (flags == 0, spec.md §4.3.1
// "isguard := vmi.Perms == 0") and other placeholder regions.
func (as *AddressSpace) MapRegion(va uintptr, size int, flags paging.Flag) error {
	as.Lock()
	defer as.Unlock()
	base := roundDownPage(va)
	npg := pagesFor(size)
	if as.overlaps(base, npg) {
		return fmt.Errorf("vmm: map_region overlaps existing region")
	}
	as.regions = append(as.regions, &Region{Base: base, Pages: npg, Prot: flags})
	return nil
}

// heapRegion returns the Region tracking [heapLo, brk), the one Region Sbrk
// grows and shrinks in place, or nil if nothing has been sbrk'd yet.
func (as *AddressSpace) heapRegion() *Region {
	for _, r := range as.regions {
		if r.Base == as.heapLo {
			return r
		}
	}
	return nil
}

// syncHeapRegion keeps the heap Region's page count equal to the range
// actually mapped from heapLo to the page-rounded current brk, so
// findRegion/IsUserRange see every sbrk'd page the same way Alloc's regions
// are seen (spec.md §4.3's "every byte of an AddressSpace region is backed
// by a present PTE" invariant, which a bare map/unmap loop with no Region
// bookkeeping would silently violate).
func (as *AddressSpace) syncHeapRegion(flags paging.Flag) {
	npg := int(roundUpPage(as.brk)-as.heapLo) / mem.PGSIZE
	hr := as.heapRegion()
	if npg == 0 {
		if hr != nil {
			for i, r := range as.regions {
				if r == hr {
					as.regions = append(as.regions[:i], as.regions[i+1:]...)
					break
				}
			}
		}
		return
	}
	if hr != nil {
		hr.Pages = npg
		hr.Prot = flags
		return
	}
	as.regions = append(as.regions, &Region{Base: as.heapLo, Pages: npg, Prot: flags})
}

// Sbrk adjusts the heap break by delta bytes, eagerly mapping or unmapping
// whole pages as the break crosses page boundaries, and returns the break
// prior to the call (spec.md §4.3 sbrk).
func (as *AddressSpace) Sbrk(delta int) (uintptr, error) {
	as.Lock()
	defer as.Unlock()
	prev := as.brk
	if delta == 0 {
		return prev, nil
	}
	newBrk := uintptr(int(prev) + delta)
	if newBrk < as.heapLo || newBrk > as.heapHi {
		return 0, fmt.Errorf("vmm: sbrk out of heap bounds")
	}
	flags := as.mapFlags()
	if delta > 0 {
		lo, hi := roundUpPage(prev), roundUpPage(newBrk)
		mapped := make([]uintptr, 0)
		for v := lo; v < hi; v += uintptr(mem.PGSIZE) {
			_, p_pg, ok := mem.Physmem.Refpg_new()
			if !ok {
				as.rollback(mapped)
				return 0, fmt.Errorf("vmm: out of memory for sbrk")
			}
			if err := paging.Map(as.pd, v, p_pg, flags); err != nil {
				mem.Physmem.Refdown(p_pg)
				as.rollback(mapped)
				return 0, err
			}
			mapped = append(mapped, v)
		}
	} else {
		hi, lo := roundUpPage(prev), roundUpPage(newBrk)
		for v := lo; v < hi; v += uintptr(mem.PGSIZE) {
			if p, ok := paging.GetPhysicalAddress(as.pd, v); ok {
				paging.Unmap(as.pd, v)
				mem.Physmem.Refdown(p)
			}
		}
	}
	as.brk = newBrk
	as.syncHeapRegion(flags)
	return prev, nil
}

// SetBrk installs va as the address space's current heap break without
// mapping or unmapping any page (spec.md §4.8 "set the process's initial
// break to the page-aligned highest segment end"). Unlike Sbrk, the caller
// (package elf) has already mapped the range itself as PT_LOAD Regions; this
// only moves the cursor Sbrk grows from afterward, and folds those
// already-mapped pages between heapLo and va into the heap accounting by
// recording brk directly rather than walking PTEs again.
func (as *AddressSpace) SetBrk(va uintptr) error {
	as.Lock()
	defer as.Unlock()
	if va < as.heapLo || va > as.heapHi {
		return fmt.Errorf("vmm: set_brk %#x out of heap bounds", va)
	}
	as.brk = va
	return nil
}

// Fork clones every region of as into a freshly created child address
// space of the same kind. Every currently-present page is remapped
// read-only with PTE_COW in both the parent and the child and the frame's
// refcount bumped; no frame is copied until a write fault resolves it
// (spec.md §4.3 fork).
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	as.Lock()
	defer as.Unlock()
	child, err := CreateAddressSpace(as.kind)
	if err != nil {
		return nil, err
	}
	child.brk = as.brk
	for _, r := range as.regions {
		cr := &Region{Base: r.Base, Pages: r.Pages, Prot: r.Prot, Cow: true}
		for i := 0; i < r.Pages; i++ {
			v := r.Base + uintptr(i*mem.PGSIZE)
			p, ok := paging.GetPhysicalAddress(as.pd, v)
			if !ok {
				continue
			}
			cowFlags := (r.Prot &^ mem.PTE_W) | mem.PTE_COW | mem.PTE_P
			paging.Unmap(as.pd, v)
			if err := paging.Map(as.pd, v, p, cowFlags); err != nil {
				return nil, err
			}
			mem.Physmem.Refup(p)
			if err := paging.Map(child.pd, v, p, cowFlags); err != nil {
				return nil, err
			}
		}
		r.Cow = true
		child.regions = append(child.regions, cr)
	}
	paging.FlushTlbAll()
	return child, nil
}

// SwitchAddressSpace installs as as the current address space and flushes
// the TLB (spec.md §4.3 switch_address_space). In this hosted substrate
// there is no hardware CR3 to load; FlushTlbAll documents the point where
// a real port would do so.
func SwitchAddressSpace(as *AddressSpace) {
	currentMu.Lock()
	currentAS = as
	currentMu.Unlock()
	paging.FlushTlbAll()
}

// Current returns the address space installed by the most recent
// SwitchAddressSpace call, or nil before the first switch.
func Current() *AddressSpace {
	currentMu.Lock()
	defer currentMu.Unlock()
	return currentAS
}

// Fault error-code bits, matching the hardware convention spec.md §4.3.1
// documents: bit 0 present, bit 1 write, bit 2 user.
const (
	FaultPresent uint = 1 << 0
	FaultWrite   uint = 1 << 1
	FaultUser    uint = 1 << 2
)

// HandleFault resolves a page fault at addr with the given hardware error
// code (spec.md §4.3.1). Only a COW write fault on a present page is
// recoverable; every other case is reported to the caller as fatal to the
// faulting task.
func (as *AddressSpace) HandleFault(addr uintptr, ecode uint) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	return as.handleFaultLocked(addr, ecode)
}

func (as *AddressSpace) handleFaultLocked(addr uintptr, ecode uint) defs.Err_t {
	va := roundDownPage(addr)
	r, ok := as.findRegion(va)
	if !ok {
		return -defs.EFAULT
	}
	isguard := r.Prot == 0
	iswrite := ecode&FaultWrite != 0
	writeok := r.Prot&mem.PTE_W != 0 || r.Cow
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	pte, ok := paging.GetEntry(as.pd, va)
	if !ok {
		return -defs.EFAULT
	}
	present := pte&mem.PTE_P != 0
	iscow := pte&mem.PTE_COW != 0
	if !(iscow && iswrite && present) {
		// anything other than a COW write fault on a present page is
		// unrecoverable in the minimum implementation (spec.md §4.3.1.3).
		return -defs.EFAULT
	}

	p_old := pte & mem.PTE_ADDR
	finalFlags := r.Prot | mem.PTE_P

	// If this copy is the last reference to the frame, there is no one
	// left to share it with: claim it in place and drop COW, skipping the
	// copy (resolves the "last COW holder" case spec.md §4.3.1 calls out).
	if mem.Physmem.Refcnt(p_old) == 1 {
		paging.Unmap(as.pd, va)
		if err := paging.Map(as.pd, va, p_old, finalFlags); err != nil {
			return -defs.ENOMEM
		}
		paging.FlushTlbSingle(addr)
		return 0
	}

	pg, p_new, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return -defs.ENOMEM
	}
	old := mem.Physmem.Dmap(p_old)
	*pg = *old
	paging.Unmap(as.pd, va)
	mem.Physmem.Refdown(p_old)
	if err := paging.Map(as.pd, va, p_new, finalFlags); err != nil {
		mem.Physmem.Refdown(p_new)
		return -defs.ENOMEM
	}
	paging.FlushTlbSingle(addr)
	return 0
}

// Teardown unmaps and frees every region (spec.md §4.4 process_free
// "releases all user mappings"). The AddressSpace must not be used
// afterward.
func (as *AddressSpace) Teardown() {
	as.Lock()
	defer as.Unlock()
	for len(as.regions) > 0 {
		r := as.regions[0]
		as.freeLocked(r.Base, r.Pages*mem.PGSIZE)
	}
}
