package syscall

import (
	"nucleus/defs"
	"nucleus/mem"
	"nucleus/paging"
	"nucleus/proc"
)

// protFlags translates a PROT_* bitmask into the PTE bits AllocAt/
// ProtectRegion expect (original_source's sys_mmap/sys_mprotect: "PRESENT|
// USER, +WRITE if PROT_WRITE, +NX unless PROT_EXEC").
func protFlags(prot int) paging.Flag {
	flags := paging.PRESENT | paging.USER
	if prot&defs.PROT_WRITE != 0 {
		flags |= paging.WRITE
	}
	if prot&defs.PROT_EXEC == 0 {
		flags |= paging.NX
	}
	return flags
}

func pageRoundUp(n int) int {
	return (n + mem.PGSIZE - 1) &^ (mem.PGSIZE - 1)
}

// SysMmap implements a bounded mmap(addr, length, prot, flags, fd,
// offset) (spec.md §4.7 mmap): anonymous, private-or-shared mappings
// only (original_source's sys_mmap rejects anything else the same way).
// File-backed mapping is not supported by any current Fdops_i.Mmapi
// implementation, so MAP_ANONYMOUS is required.
func SysMmap(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	addr := uintptr(regs.Rdi)
	length := int(regs.Rsi)
	prot := int(regs.Rdx)
	flags := int(regs.R10)

	if length <= 0 {
		return int64(-defs.EINVAL)
	}
	if flags&defs.MAP_ANONYMOUS == 0 {
		return int64(-defs.EINVAL)
	}
	if flags&defs.MAP_SHARED == 0 && flags&defs.MAP_PRIVATE == 0 {
		return int64(-defs.EINVAL)
	}

	aligned := pageRoundUp(length)
	pflags := protFlags(prot)

	var va uintptr
	if flags&defs.MAP_FIXED != 0 {
		if addr == 0 {
			return int64(-defs.EINVAL)
		}
		va = addr &^ uintptr(mem.PGSIZE-1)
	} else {
		va = p.Vm.Brk()
		va = (va + uintptr(mem.PGSIZE-1)) &^ uintptr(mem.PGSIZE-1)
		if addr != 0 && addr > va {
			va = addr &^ uintptr(mem.PGSIZE-1)
		}
	}

	if err := p.Vm.AllocAt(va, aligned, pflags); err != nil {
		return int64(-defs.ENOMEM)
	}
	return int64(va)
}

// SysMunmap implements munmap(addr, length) (spec.md §4.7 munmap).
func SysMunmap(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	addr := uintptr(regs.Rdi)
	length := int(regs.Rsi)
	if addr == 0 || length <= 0 {
		return int64(-defs.EINVAL)
	}
	if err := p.Vm.UnmapRegion(addr&^uintptr(mem.PGSIZE-1), pageRoundUp(length)); err != nil {
		return int64(-defs.EINVAL)
	}
	return 0
}

// SysMprotect implements mprotect(addr, len, prot) (spec.md §4.7
// mprotect).
func SysMprotect(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	addr := uintptr(regs.Rdi)
	length := int(regs.Rsi)
	prot := int(regs.Rdx)
	if addr == 0 || length <= 0 {
		return int64(-defs.EINVAL)
	}
	if err := p.Vm.ProtectRegion(addr&^uintptr(mem.PGSIZE-1), pageRoundUp(length), protFlags(prot)); err != nil {
		return int64(-defs.ENOMEM)
	}
	return 0
}

// SysBrk implements brk(addr) (spec.md §4.7 brk): addr==0 queries the
// current break; otherwise the break moves to addr by way of Sbrk's
// delta, matching original_source's sys_brk, which also treats a null
// argument as a query.
func SysBrk(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	addr := uintptr(regs.Rdi)
	if addr == 0 {
		return int64(p.Vm.Brk())
	}
	cur := p.Vm.Brk()
	delta := int(addr) - int(cur)
	if delta == 0 {
		return int64(cur)
	}
	if _, err := p.Vm.Sbrk(delta); err != nil {
		return int64(-defs.ENOMEM)
	}
	return int64(addr)
}
