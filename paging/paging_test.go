package paging

import (
	"testing"

	"nucleus/mem"
	"nucleus/pmm"
)

func setup(t *testing.T) {
	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem.Init(a)
}

// S2 — paging map/unmap (spec.md §8).
func TestMapUnmap(t *testing.T) {
	setup(t)
	pd, err := CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}

	if err := Map(pd, 0x400000, 0x200000, PRESENT|WRITE|USER); err != nil {
		t.Fatal(err)
	}
	p, ok := GetPhysicalAddress(pd, 0x400000)
	if !ok || p != 0x200000 {
		t.Fatalf("get_physical_address = %#x, %v; want 0x200000, true", p, ok)
	}

	Unmap(pd, 0x400000)
	if IsMapped(pd, 0x400000) {
		t.Fatal("expected unmapped after Unmap")
	}
}

func TestProtectRangePreservesFrame(t *testing.T) {
	setup(t)
	pd, err := CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	if err := Map(pd, 0x10000, 0x5000, PRESENT|WRITE); err != nil {
		t.Fatal(err)
	}
	if err := ProtectRange(pd, 0x10000, 1, PRESENT); err != nil {
		t.Fatal(err)
	}
	p, ok := GetPhysicalAddress(pd, 0x10000)
	if !ok || p != 0x5000 {
		t.Fatalf("protect_range changed frame: got %#x, %v", p, ok)
	}
}

func TestMapRangeAndIsRangeMapped(t *testing.T) {
	setup(t)
	pd, err := CreateAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	if err := IdentityMap(pd, 0x100000, 4, PRESENT|WRITE); err != nil {
		t.Fatal(err)
	}
	if !IsRangeMapped(pd, 0x100000, 4) {
		t.Fatal("expected full range mapped")
	}
	for i := 0; i < 4; i++ {
		v := uintptr(0x100000 + i*mem.PGSIZE)
		p, ok := GetPhysicalAddress(pd, v)
		if !ok || uintptr(p) != v {
			t.Fatalf("identity map mismatch at %#x: %#x, %v", v, p, ok)
		}
	}
}
