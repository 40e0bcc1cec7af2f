package elf

import (
	"bytes"
	dbgelf "debug/elf"
	"encoding/binary"
	"testing"

	"nucleus/mem"
	"nucleus/paging"
	"nucleus/pmm"
	"nucleus/vmm"
)

func setup(t *testing.T) {
	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem.Init(a)
}

// buildELF assembles a minimal single-segment ELF64 executable: one
// PT_LOAD segment at vaddr containing code, with entry pointing at its
// first byte. memsz may exceed len(code) to exercise BSS zeroing.
func buildELF(t *testing.T, vaddr uint64, code []byte, memsz uint64, flags uint32) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	buf := new(bytes.Buffer)

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /*ELFCLASS64*/, 1 /*ELFDATA2LSB*/, 1 /*EV_CURRENT*/}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(dbgelf.ET_EXEC))
	binary.Write(buf, binary.LittleEndian, uint16(dbgelf.EM_X86_64))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(buf, binary.LittleEndian, vaddr)      // e_entry
	binary.Write(buf, binary.LittleEndian, phoff)      // e_phoff
	binary.Write(buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr size mismatch: %d", buf.Len())
	}

	binary.Write(buf, binary.LittleEndian, uint32(dbgelf.PT_LOAD))
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, dataOff) // p_offset
	binary.Write(buf, binary.LittleEndian, vaddr)    // p_vaddr
	binary.Write(buf, binary.LittleEndian, vaddr)    // p_paddr
	binary.Write(buf, binary.LittleEndian, uint64(len(code))) // p_filesz
	binary.Write(buf, binary.LittleEndian, memsz)              // p_memsz
	binary.Write(buf, binary.LittleEndian, uint64(0x1000))      // p_align

	if uint64(buf.Len()) != dataOff {
		t.Fatalf("phdr size mismatch: %d != %d", buf.Len(), dataOff)
	}
	buf.Write(code)
	return buf.Bytes()
}

func TestValidateAcceptsWellFormedImage(t *testing.T) {
	data := buildELF(t, vmm.UserHeapBase, []byte{0xc3}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	img, err := Validate(data)
	if err != 0 {
		t.Fatalf("Validate: %v", err)
	}
	if img.Entry() != vmm.UserHeapBase {
		t.Fatalf("entry = %#x, want %#x", img.Entry(), vmm.UserHeapBase)
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	data := buildELF(t, vmm.UserHeapBase, []byte{0xc3}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	data[0] = 0

	if _, err := Validate(data); err == 0 {
		t.Fatal("expected rejection of bad magic")
	}
}

func TestValidateRejectsNullPageSegment(t *testing.T) {
	data := buildELF(t, 0, []byte{0xc3}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	if _, err := Validate(data); err == 0 {
		t.Fatal("expected rejection of a segment covering the NULL page")
	}
}

func TestValidateRejectsUndecodableEntry(t *testing.T) {
	// 0x0f is the escape byte of a two-byte opcode; this one-byte segment
	// has no following byte to complete the instruction.
	data := buildELF(t, vmm.UserHeapBase, []byte{0x0f}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	// A lone 0x0f byte is an incomplete instruction and must fail to decode.
	if _, err := Validate(data); err == 0 {
		t.Fatal("expected rejection of an entry point that fails to decode")
	}
}

func TestValidateRejectsFileszGreaterThanMemsz(t *testing.T) {
	data := buildELF(t, vmm.UserHeapBase, []byte{0xc3, 0xc3}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	if _, err := Validate(data); err == 0 {
		t.Fatal("expected rejection of filesz > memsz")
	}
}

func TestLoadMapsSegmentAndStack(t *testing.T) {
	setup(t)
	as, err := vmm.CreateAddressSpace(vmm.UserSpace)
	if err != nil {
		t.Fatal(err)
	}

	code := []byte{0xc3}
	data := buildELF(t, vmm.UserHeapBase, code, uint64(mem.PGSIZE), uint32(dbgelf.PF_R|dbgelf.PF_X))
	img, verr := Validate(data)
	if verr != 0 {
		t.Fatalf("Validate: %v", verr)
	}

	res, lerr := Load(as, img)
	if lerr != 0 {
		t.Fatalf("Load: %v", lerr)
	}
	if res.Entry != vmm.UserHeapBase {
		t.Fatalf("entry = %#x, want %#x", res.Entry, vmm.UserHeapBase)
	}
	if !paging.IsMapped(as.PageDirectory(), vmm.UserHeapBase) {
		t.Fatal("expected segment page mapped")
	}
	phys, ok := paging.GetPhysicalAddress(as.PageDirectory(), vmm.UserHeapBase)
	if !ok {
		t.Fatal("expected segment page resolvable")
	}
	if got := mem.Physmem.Dmap8(phys)[0]; got != 0xc3 {
		t.Fatalf("segment byte = %#x, want 0xc3", got)
	}
	// BSS tail of the segment (beyond filesz) must be zeroed.
	if got := mem.Physmem.Dmap8(phys)[1]; got != 0 {
		t.Fatalf("bss byte = %#x, want 0", got)
	}

	if !paging.IsMapped(as.PageDirectory(), res.StackBase) {
		t.Fatal("expected stack base page mapped")
	}
	if res.BrkStart <= vmm.UserHeapBase {
		t.Fatalf("brk start %#x did not advance past segment base", res.BrkStart)
	}
}

func TestLoadFailsWhenSegmentAddressAlreadyMapped(t *testing.T) {
	setup(t)
	as, err := vmm.CreateAddressSpace(vmm.UserSpace)
	if err != nil {
		t.Fatal(err)
	}
	// Pre-occupy the load address so AllocAt inside Load fails, exercising
	// the rollback path (the image itself is otherwise well-formed).
	if _, err := as.Alloc(mem.PGSIZE); err != nil {
		t.Fatal(err)
	}

	data := buildELF(t, vmm.UserHeapBase, []byte{0xc3}, 1, uint32(dbgelf.PF_R|dbgelf.PF_X))
	img, verr := Validate(data)
	if verr != 0 {
		t.Fatalf("Validate: %v", verr)
	}
	if _, lerr := Load(as, img); lerr == 0 {
		t.Fatal("expected Load to fail mapping an already-occupied address")
	}
}
