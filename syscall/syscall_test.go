package syscall_test

import (
	"testing"
	"time"

	"nucleus/defs"
	"nucleus/fs"
	"nucleus/mem"
	"nucleus/pmm"
	"nucleus/sched"
	"nucleus/syscall"
	"nucleus/tmpfs"
	"nucleus/vmm"
)

// setup brings up just enough of the kernel core to run syscalls end to
// end through syscall.Dispatch: physical memory, a scheduler, and a
// tmpfs root mount (spec.md §8 scenario setup).
func setup(t *testing.T) *sched.Task {
	t.Helper()
	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	mem.Init(a)
	sched.Init(1000)

	fs.ResetForTest()
	fs.Unregister("tmpfs")
	if err := tmpfs.Register(); err != nil {
		t.Fatalf("tmpfs.Register: %v", err)
	}
	if _, err := fs.Mnt("none", "/", "tmpfs", 0, nil); err != 0 {
		t.Fatalf("Mnt root: %d", err)
	}

	done := make(chan struct{})
	var task *sched.Task
	task = sched.CreateTask("t", func() {
		<-done
	}, sched.PriorityNormal, false)
	sched.Start()
	waitUntil(t, func() bool { return sched.Current() == task })
	return task
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sched.Tick()
		if cond() {
			return
		}
	}
	t.Fatal("condition never became true")
}

// putString allocates a user buffer and copies s (NUL-terminated) into it,
// returning the user VA.
func putString(t *testing.T, task *sched.Task, s string) uintptr {
	t.Helper()
	va, err := task.Proc.Vm.Alloc(mem.PGSIZE)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	buf := append([]byte(s), 0)
	up := vmm.UserPtr{AS: task.Proc.Vm, Va: va, Len: len(buf)}
	if cerr := up.CopyOut(buf); cerr != 0 {
		t.Fatalf("CopyOut: %d", cerr)
	}
	return va
}

func TestGetpidGetppid(t *testing.T) {
	task := setup(t)
	regs := &syscall.SyscallRegs{Rax: int64(defs.SYS_GETPID)}
	syscall.Dispatch(regs)
	if regs.Rax != int64(task.Proc.Pid) {
		t.Fatalf("getpid: got %d, want %d", regs.Rax, task.Proc.Pid)
	}

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_GETPPID)}
	syscall.Dispatch(regs)
	if regs.Rax != int64(defs.NoPid) {
		t.Fatalf("getppid of a parentless task: got %d, want %d", regs.Rax, defs.NoPid)
	}
}

func TestOpenWriteReadClose(t *testing.T) {
	task := setup(t)
	path := putString(t, task, "/hello")

	regs := &syscall.SyscallRegs{
		Rax: int64(defs.SYS_OPEN),
		Rdi: int64(path),
		Rsi: int64(defs.O_CREAT | defs.O_RDWR),
		Rdx: 0644,
	}
	syscall.Dispatch(regs)
	if regs.Rax < 0 {
		t.Fatalf("open: %d", regs.Rax)
	}
	fdn := regs.Rax

	payload := "payload"
	buf := putString(t, task, payload)
	regs = &syscall.SyscallRegs{
		Rax: int64(defs.SYS_WRITE),
		Rdi: fdn,
		Rsi: int64(buf),
		Rdx: int64(len(payload)),
	}
	syscall.Dispatch(regs)
	if regs.Rax != int64(len(payload)) {
		t.Fatalf("write: got %d, want %d", regs.Rax, len(payload))
	}

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_LSEEK), Rdi: fdn, Rsi: 0, Rdx: int64(defs.SEEK_SET)}
	syscall.Dispatch(regs)
	if regs.Rax != 0 {
		t.Fatalf("lseek: got %d", regs.Rax)
	}

	readVa, rerr := task.Proc.Vm.Alloc(mem.PGSIZE)
	if rerr != nil {
		t.Fatal(rerr)
	}
	regs = &syscall.SyscallRegs{
		Rax: int64(defs.SYS_READ),
		Rdi: fdn,
		Rsi: int64(readVa),
		Rdx: int64(len(payload)),
	}
	syscall.Dispatch(regs)
	if regs.Rax != int64(len(payload)) {
		t.Fatalf("read: got %d, want %d", regs.Rax, len(payload))
	}
	got := make([]byte, len(payload))
	up := vmm.UserPtr{AS: task.Proc.Vm, Va: readVa, Len: len(payload)}
	if cerr := up.CopyIn(got); cerr != 0 {
		t.Fatalf("CopyIn: %d", cerr)
	}
	if string(got) != payload {
		t.Fatalf("read back mismatch: got %q want %q", got, payload)
	}

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_CLOSE), Rdi: fdn}
	syscall.Dispatch(regs)
	if regs.Rax != 0 {
		t.Fatalf("close: %d", regs.Rax)
	}
}

func TestMkdirChdirGetcwd(t *testing.T) {
	task := setup(t)
	dir := putString(t, task, "/sub")
	regs := &syscall.SyscallRegs{Rax: int64(defs.SYS_MKDIR), Rdi: int64(dir), Rsi: 0755}
	syscall.Dispatch(regs)
	if regs.Rax != 0 {
		t.Fatalf("mkdir: %d", regs.Rax)
	}

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_CHDIR), Rdi: int64(dir)}
	syscall.Dispatch(regs)
	if regs.Rax != 0 {
		t.Fatalf("chdir: %d", regs.Rax)
	}

	cwdVa, err := task.Proc.Vm.Alloc(mem.PGSIZE)
	if err != nil {
		t.Fatal(err)
	}
	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_GETCWD), Rdi: int64(cwdVa), Rsi: 64}
	syscall.Dispatch(regs)
	if regs.Rax <= 0 {
		t.Fatalf("getcwd: %d", regs.Rax)
	}
	got := make([]byte, regs.Rax)
	up := vmm.UserPtr{AS: task.Proc.Vm, Va: cwdVa, Len: int(regs.Rax)}
	if cerr := up.CopyIn(got); cerr != 0 {
		t.Fatalf("CopyIn: %d", cerr)
	}
	if string(got[:len(got)-1]) != "/sub" {
		t.Fatalf("getcwd: got %q, want /sub", got)
	}
}

func TestBrkMmapMunmap(t *testing.T) {
	task := setup(t)

	regs := &syscall.SyscallRegs{Rax: int64(defs.SYS_BRK), Rdi: 0}
	syscall.Dispatch(regs)
	base := regs.Rax
	if base == 0 {
		t.Fatalf("brk query: got 0")
	}

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_BRK), Rdi: base + int64(mem.PGSIZE)}
	syscall.Dispatch(regs)
	if regs.Rax != base+int64(mem.PGSIZE) {
		t.Fatalf("brk grow: got %d, want %d", regs.Rax, base+int64(mem.PGSIZE))
	}

	regs = &syscall.SyscallRegs{
		Rax: int64(defs.SYS_MMAP),
		Rdi: 0,
		Rsi: int64(mem.PGSIZE),
		Rdx: int64(defs.PROT_READ | defs.PROT_WRITE),
		R10: int64(defs.MAP_ANONYMOUS | defs.MAP_PRIVATE),
	}
	syscall.Dispatch(regs)
	if regs.Rax <= 0 {
		t.Fatalf("mmap: %d", regs.Rax)
	}
	mapva := regs.Rax

	regs = &syscall.SyscallRegs{Rax: int64(defs.SYS_MUNMAP), Rdi: mapva, Rsi: int64(mem.PGSIZE)}
	syscall.Dispatch(regs)
	if regs.Rax != 0 {
		t.Fatalf("munmap: %d", regs.Rax)
	}
}

func TestUnknownSyscallReturnsEnosys(t *testing.T) {
	setup(t)
	regs := &syscall.SyscallRegs{Rax: 9999}
	syscall.Dispatch(regs)
	if regs.Rax != int64(-defs.ENOSYS) {
		t.Fatalf("got %d, want -ENOSYS", regs.Rax)
	}
}

func TestCloseBadFdReturnsEbadf(t *testing.T) {
	setup(t)
	regs := &syscall.SyscallRegs{Rax: int64(defs.SYS_CLOSE), Rdi: 99}
	syscall.Dispatch(regs)
	if regs.Rax != int64(-defs.EBADF) {
		t.Fatalf("got %d, want -EBADF", regs.Rax)
	}
}
