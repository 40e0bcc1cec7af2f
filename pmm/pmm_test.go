package pmm

import "testing"

// S1 — PMM round-trip (spec.md §8).
func TestRoundTrip(t *testing.T) {
	a, err := Init([]MemRegion{{Base: 0x100000, Length: 0x400000, Type: Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Stats().Usable; got != 1024 {
		t.Fatalf("usable_pages = %d, want 1024", got)
	}

	f1, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc 1 failed")
	}
	f2, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc 2 failed")
	}
	f3, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc 3 failed")
	}
	if f1 == f2 || f2 == f3 || f1 == f3 {
		t.Fatalf("frames not distinct: %#x %#x %#x", f1, f2, f3)
	}

	a.Free(f2)

	f4, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc 4 failed")
	}
	if f4 != f2 {
		t.Fatalf("next alloc = %#x, want freed frame %#x", f4, f2)
	}

	st := a.Stats()
	if st.Used != 2 {
		t.Fatalf("used = %d, want 2", st.Used)
	}
	if st.AllocCount != 4 {
		t.Fatalf("alloc_count = %d, want 4", st.AllocCount)
	}
	if st.FreeCount != 1 {
		t.Fatalf("free_count = %d, want 1", st.FreeCount)
	}
}

func TestInvariantUsedPlusFree(t *testing.T) {
	a, err := Init([]MemRegion{{Base: 0, Length: 0x100000, Type: Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	usable := a.Stats().Usable
	var frames []Frame
	for i := 0; i < 10; i++ {
		f, ok := a.Alloc()
		if !ok {
			t.Fatal("alloc failed")
		}
		frames = append(frames, f)
	}
	st := a.Stats()
	if st.Free+st.Used != usable {
		t.Fatalf("used(%d) + free(%d) != usable(%d)", st.Used, st.Free, usable)
	}
	if usable-st.Free != 10 {
		t.Fatalf("free_pages decreased by %d, want 10", usable-st.Free)
	}
}

func TestFreeAllocRoundTrip(t *testing.T) {
	a, err := Init([]MemRegion{{Base: 0, Length: 0x10000, Type: Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	before := a.Stats()
	f, ok := a.Alloc()
	if !ok {
		t.Fatal("alloc failed")
	}
	a.Free(f)
	after := a.Stats()
	if before.Free != after.Free || before.Used != after.Used {
		t.Fatalf("free(alloc()) changed bitmap state: before=%+v after=%+v", before, after)
	}
}

func TestDoubleFreeDetectedNotPanic(t *testing.T) {
	a, err := Init([]MemRegion{{Base: 0, Length: 0x1000, Type: Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := a.Alloc()
	a.Free(f)
	a.Free(f) // must not panic
}

func TestAllocContiguous(t *testing.T) {
	a, err := Init([]MemRegion{{Base: 0, Length: 0x100000, Type: Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	start, ok := a.AllocContiguous(4)
	if !ok {
		t.Fatal("alloc_contiguous failed")
	}
	for i := uint64(0); i < 4; i++ {
		f := Frame(uint64(start) + i*PageSize)
		// Every frame of the run is now marked allocated, so a second
		// contiguous allocation skips it.
		if !a.testBit(uint64(f) / PageSize) {
			t.Fatalf("frame %#x of the contiguous run is not marked allocated", f)
		}
	}
	_, ok = a.AllocContiguous(int(a.Stats().Free) + 1)
	if ok {
		t.Fatal("alloc_contiguous should fail when exhausted")
	}
}

func TestReclaimBootloaderMemory(t *testing.T) {
	a, err := Init([]MemRegion{
		{Base: 0, Length: 0x1000, Type: Usable},
		{Base: 0x1000, Length: 0x1000, Type: BootloaderReclaimable},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	before := a.Stats().Free
	a.ReclaimBootloaderMemory()
	after := a.Stats().Free
	if after != before+1 {
		t.Fatalf("reclaim did not free bootloader region: before=%d after=%d", before, after)
	}
}
