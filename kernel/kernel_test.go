package kernel

import (
	"bytes"
	dbgelf "debug/elf"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"nucleus/defs"
	"nucleus/pmm"
	"nucleus/proc"
	"nucleus/sched"
	"nucleus/syscall"
	"nucleus/vmm"
)

// buildELF assembles a minimal single-segment ELF64 executable, the same
// shape package elf's own tests build against Validate/Load.
func buildELF(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	buf := new(bytes.Buffer)
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(dbgelf.ET_EXEC))
	binary.Write(buf, binary.LittleEndian, uint16(dbgelf.EM_X86_64))
	binary.Write(buf, binary.LittleEndian, uint32(1))
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, phoff)
	binary.Write(buf, binary.LittleEndian, uint64(0))
	binary.Write(buf, binary.LittleEndian, uint32(0))
	binary.Write(buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr size mismatch: %d", buf.Len())
	}

	binary.Write(buf, binary.LittleEndian, uint32(dbgelf.PT_LOAD))
	binary.Write(buf, binary.LittleEndian, uint32(dbgelf.PF_R|dbgelf.PF_X))
	binary.Write(buf, binary.LittleEndian, dataOff)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(0x1000))
	if uint64(buf.Len()) != dataOff {
		t.Fatalf("phdr size mismatch: %d != %d", buf.Len(), dataOff)
	}
	buf.Write(code)
	return buf.Bytes()
}

func testConfig() Config {
	return Config{
		MemRegions: []pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}},
		TimerHz:    1000,
	}
}

func TestBootMountsRootAndStartsScheduler(t *testing.T) {
	ctx, err := Boot(testConfig())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer ctx.Shutdown()

	// Boot's timer.Start goroutine drives sched.Tick on its own; this
	// only waits for it, exercising Boot's timer wiring end to end
	// rather than ticking the scheduler by hand.
	release := make(chan struct{})
	var task *sched.Task
	task = sched.CreateTask("probe", func() {
		<-release
	}, sched.PriorityNormal, true)
	deadline := time.Now().Add(2 * time.Second)
	for sched.Current() != task && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sched.Current() != task {
		close(release)
		t.Fatal("scheduler never ran the probe task")
	}

	regs := &syscall.SyscallRegs{
		Rax: int64(defs.SYS_OPEN),
	}
	path, aerr := task.Proc.Vm.Alloc(4096)
	if aerr != nil {
		t.Fatal(aerr)
	}
	buf := append([]byte("/probe"), 0)
	if cerr := (vmm.UserPtr{AS: task.Proc.Vm, Va: path, Len: len(buf)}).CopyOut(buf); cerr != 0 {
		t.Fatalf("CopyOut: %d", cerr)
	}
	regs.Rdi = int64(path)
	regs.Rsi = int64(defs.O_CREAT | defs.O_RDWR)
	before := ctx.Stats().Syscalls
	syscall.Dispatch(regs)
	close(release)
	if regs.Rax < 0 {
		t.Fatalf("open against kernel-mounted root: %d", regs.Rax)
	}
	if after := ctx.Stats().Syscalls; after <= before {
		t.Fatalf("Stats().Syscalls did not advance: before=%d after=%d", before, after)
	}
}

func TestSpawnInitInstallsStdioAndEntersUsermode(t *testing.T) {
	ctx, err := Boot(testConfig())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer ctx.Shutdown()

	data := buildELF(t, vmm.UserHeapBase, []byte{0xc3})
	p, th, serr := ctx.SpawnInit("init", data)
	if serr != nil {
		t.Fatalf("SpawnInit: %v", serr)
	}
	found := false
	for _, e := range ctx.Trace() {
		if strings.Contains(e, "spawned init") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Trace() missing spawn record: %v", ctx.Trace())
	}
	if p.State != proc.EXEC {
		t.Fatalf("process state = %v, want EXEC", p.State)
	}
	th.Lock()
	rip := th.Tf.Rip
	th.Unlock()
	if rip != vmm.UserHeapBase {
		t.Fatalf("entry rip = %#x, want %#x", rip, vmm.UserHeapBase)
	}

	if _, ok := p.GetFd(0); !ok {
		t.Fatal("fd 0 not installed")
	}
	if _, ok := p.GetFd(1); !ok {
		t.Fatal("fd 1 not installed")
	}
	if _, ok := p.GetFd(2); !ok {
		t.Fatal("fd 2 not installed")
	}

	if _, ok := sched.ByTid(int(th.Tid)); !ok {
		t.Fatal("spawned thread not registered with the scheduler")
	}
}

func TestSpawnInitRejectsInvalidImage(t *testing.T) {
	ctx, err := Boot(testConfig())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer ctx.Shutdown()

	if _, _, serr := ctx.SpawnInit("bad", []byte("not an elf")); serr == nil {
		t.Fatal("expected an error for a malformed ELF image")
	}
}
