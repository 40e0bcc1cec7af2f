package ufs

import "nucleus/mem"

// PmmBlockmem implements Blockmem_i by drawing block buffers from the
// kernel's own physical-page allocator (package mem), rather than the
// teacher's separate blockmem_t stub that never allocated real memory.
// This is what makes block caching genuinely exercise pmm/mem instead of
// a disconnected buffer pool.
type PmmBlockmem struct{}

func (PmmBlockmem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(pg), true
}

func (PmmBlockmem) Free(pa mem.Pa_t) {
	mem.Physmem.Refdown(pa)
}

func (PmmBlockmem) Refup(pa mem.Pa_t) {
	mem.Physmem.Refup(pa)
}
