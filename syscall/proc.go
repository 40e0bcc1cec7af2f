package syscall

import (
	"nucleus/defs"
	"nucleus/proc"
	"nucleus/sched"
)

// runForked is the entry every forked child task resumes at. This hosted
// substrate has no instruction-level CPU to execute the child's copied
// program text on (SPEC_FULL.md §D); the child is real from the process
// table's point of view — its own pid, vm, fds, trapframe with rax=0 —
// but what it "runs" beyond that is outside this kernel core's scope. It
// parks on the scheduler until something exits it through SysExit, the
// same way the original's user process loop never returns control to
// the kernel except via a syscall trap.
func runForked() {
	for {
		sched.Yield()
	}
}

// SysExit tears the calling process down: closes every fd and releases
// its address space via proc.ProcFree, then removes the calling task from
// the scheduler (spec.md §4.4 proc_free / §4.7 exit). It never returns to
// its caller — dispatch1 still gets a value back because exitTask does
// not unwind the call stack, it switches context out from under it.
func SysExit(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	status := int(regs.Rdi)
	proc.ProcFree(t)
	sched.ExitTask(status)
	return 0
}

// SysFork duplicates the calling process (spec.md §4.4 fork): proc.Fork
// does the heavy lifting (VM COW, fd table, cwd), and the resulting
// child process/thread pair is adopted into the scheduler as a new ready
// task. The parent gets the child's pid back; the child's own trapframe
// already carries rax=0 courtesy of proc.Fork.
func SysFork(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	t.Lock()
	tf := t.Tf
	t.Unlock()

	child, ct, err := proc.Fork(p, tf)
	if err != nil {
		return int64(-defs.ENOMEM)
	}
	sched.AdoptTask(child, ct, child.Name, runForked, sched.Priority(t.Priority))
	return int64(child.Pid)
}

// SysGetpid returns the calling process's pid (spec.md §4.7 getpid).
func SysGetpid(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	return int64(p.Pid)
}

// SysGetppid returns the calling process's parent's pid, or NoPid if it
// has none (spec.md §4.7 getppid).
func SysGetppid(p *proc.Process, t *proc.Thread, regs *SyscallRegs) int64 {
	p.Lock()
	parent := p.Parent
	p.Unlock()
	if parent == nil {
		return int64(defs.NoPid)
	}
	return int64(parent.Pid)
}
