package vmm

import (
	"testing"

	"nucleus/defs"
	"nucleus/mem"
	"nucleus/paging"
	"nucleus/pmm"
	"nucleus/res"
)

func setup(t *testing.T) {
	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem.Init(a)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	setup(t)
	as, err := CreateAddressSpace(UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	va, err := as.Alloc(2 * mem.PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	if !paging.IsRangeMapped(as.pd, va, 2) {
		t.Fatal("expected allocated range mapped")
	}
	if err := as.Free(va, 2*mem.PGSIZE); err != nil {
		t.Fatal(err)
	}
	if paging.IsMapped(as.pd, va) {
		t.Fatal("expected region unmapped after Free")
	}
}

func TestSbrkGrowShrink(t *testing.T) {
	setup(t)
	as, err := CreateAddressSpace(UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	prev, err := as.Sbrk(3 * mem.PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	if prev != UserHeapBase {
		t.Fatalf("sbrk prev = %#x, want %#x", prev, UserHeapBase)
	}
	if !paging.IsMapped(as.pd, UserHeapBase) {
		t.Fatal("expected heap page mapped after growth")
	}
	if _, err := as.Sbrk(-3 * mem.PGSIZE); err != nil {
		t.Fatal(err)
	}
	if paging.IsMapped(as.pd, UserHeapBase) {
		t.Fatal("expected heap page unmapped after shrink")
	}
}

// S6-style scenario (spec.md §8): fork, then a write in the child must not
// be observed by the parent, while both start out sharing one frame.
func TestForkCOW(t *testing.T) {
	setup(t)
	parent, err := CreateAddressSpace(UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	va, err := parent.Alloc(mem.PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	if err := UserPtr{AS: parent, Va: va, Len: mem.PGSIZE}.CopyOut([]byte("parent-data")); err != 0 {
		t.Fatalf("copyout failed: %v", err)
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatal(err)
	}

	pp, _ := paging.GetPhysicalAddress(parent.pd, va)
	cp, _ := paging.GetPhysicalAddress(child.pd, va)
	if pp != cp {
		t.Fatal("expected parent and child to share the same frame immediately after fork")
	}
	if mem.Physmem.Refcnt(pp) != 2 {
		t.Fatalf("refcnt = %d, want 2 right after fork", mem.Physmem.Refcnt(pp))
	}

	if err := UserPtr{AS: child, Va: va, Len: mem.PGSIZE}.CopyOut([]byte("child-data!!")); err != 0 {
		t.Fatalf("child copyout failed: %v", err)
	}

	pbuf := make([]byte, 11)
	if err := (UserPtr{AS: parent, Va: va, Len: mem.PGSIZE}).CopyIn(pbuf); err != 0 {
		t.Fatalf("parent copyin failed: %v", err)
	}
	if string(pbuf) != "parent-data" {
		t.Fatalf("parent data clobbered by child's COW write: got %q", pbuf)
	}

	cbuf := make([]byte, 12)
	if err := (UserPtr{AS: child, Va: va, Len: mem.PGSIZE}).CopyIn(cbuf); err != 0 {
		t.Fatalf("child copyin failed: %v", err)
	}
	if string(cbuf) != "child-data!!" {
		t.Fatalf("child data wrong: got %q", cbuf)
	}

	pp2, _ := paging.GetPhysicalAddress(parent.pd, va)
	cp2, _ := paging.GetPhysicalAddress(child.pd, va)
	if pp2 == cp2 {
		t.Fatal("expected frames to diverge after child's write fault")
	}
}

// TestCopyOutRespectsResourceBudget exercises the res.Resadd_noblock
// admission check CopyOut/CopyIn run before touching user memory
// (SPEC_FULL.md §C, grounded on res.Resadd_noblock): with the scratch-heap
// budget shrunk below a single chunk's bounds.Bounds cost, both must fail
// closed with ENOHEAP rather than touch the address space.
func TestCopyOutRespectsResourceBudget(t *testing.T) {
	setup(t)
	as, err := CreateAddressSpace(UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	va, err := as.Alloc(mem.PGSIZE)
	if err != nil {
		t.Fatal(err)
	}

	res.SetBudget(1)
	defer res.SetBudget(res.DefaultBudget)

	if err := (UserPtr{AS: as, Va: va, Len: mem.PGSIZE}).CopyOut([]byte("x")); err != -defs.ENOHEAP {
		t.Fatalf("CopyOut with exhausted budget = %d, want %d", err, -defs.ENOHEAP)
	}
	buf := make([]byte, 1)
	if err := (UserPtr{AS: as, Va: va, Len: mem.PGSIZE}).CopyIn(buf); err != -defs.ENOHEAP {
		t.Fatalf("CopyIn with exhausted budget = %d, want %d", err, -defs.ENOHEAP)
	}
}

func TestGuardRegionFaultsAreFatal(t *testing.T) {
	setup(t)
	as, err := CreateAddressSpace(UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	guardVa := UserHeapBase
	if err := as.MapRegion(guardVa, mem.PGSIZE, 0); err != nil {
		t.Fatal(err)
	}
	if e := as.HandleFault(guardVa, FaultUser); e == 0 {
		t.Fatal("expected guard-page fault to be unrecoverable")
	}
}
