// Package proc owns process and thread identity: PID/TID allocation and
// hash tables, address space and file descriptor ownership, and fork/exec
// transitions (spec.md §4.4). Grounded on the teacher's accnt/tinfo/fd/
// limits packages, which already assume a Process/Thread split exists but
// never shipped one in this fragment; the PID/TID tables are built on the
// teacher's hashtable package the way spec.md §4.4.1 asks for ("global
// mutable state... confined behind a dedicated lock").
package proc

import (
	"fmt"
	"sync"

	"nucleus/accnt"
	"nucleus/defs"
	"nucleus/fd"
	"nucleus/hashtable"
	"nucleus/limits"
	"nucleus/mem"
	"nucleus/tinfo"
	"nucleus/ustr"
	"nucleus/vmm"
)

// KernelStackSize is the fixed size of every thread's kernel stack
// (spec.md §4.4 proc_alloc "allocates kernel stack (fixed size)").
const KernelStackSize = 4 * mem.PGSIZE

// ProcState is a process's lifecycle state (spec.md §4.4 process_alloc/free).
type ProcState int

const (
	EMBRYO ProcState = iota
	EXEC
	RUNNING
	ZOMBIE
)

// ThreadState is authoritative thread state; package sched's ready/blocked/
// sleeping queues are indexed views over threads in this state (spec.md
// §4.5 "State for each thread is authoritative").
type ThreadState int

const (
	IDLE ThreadState = iota
	READY
	THREAD_RUNNING
	SLEEPING
	BLOCKED
	DEAD
)

func (s ThreadState) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case READY:
		return "READY"
	case THREAD_RUNNING:
		return "RUNNING"
	case SLEEPING:
		return "SLEEPING"
	case BLOCKED:
		return "BLOCKED"
	case DEAD:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Trapframe holds the general-purpose registers and program-counter/stack
// saved across a trap, matching the register set spec.md §4.7's syscall
// ABI and §4.4's enter_usermode/fork reference (the fields fork's rax=0
// trick and enter_usermode's "zero all GPRs except pc/sp" rule operate on).
type Trapframe struct {
	Rax, Rbx, Rcx, Rdx, Rsi, Rdi, Rbp           int64
	R8, R9, R10, R11, R12, R13, R14, R15        int64
	Rip, Rsp, Rflags                             uintptr
}

// Thread is one schedulable unit of execution within a Process (spec.md §3
// Thread: "tid, state, kernel_stack, saved_context, priority, cpu_ticks").
type Thread struct {
	sync.Mutex
	Tid      defs.Tid_t
	Proc     *Process
	State    ThreadState
	KStack   []byte
	Accnt    accnt.Accnt_t
	Note     *tinfo.Tnote_t
	Priority int
	CpTicks  int
	Runtime  int64
	WakeAt   uint64
	Tf       Trapframe
}

// Process owns identity, address space, file descriptors, and its
// threads (spec.md §4.4 "own identity, address space, file descriptors
// and threads").
type Process struct {
	sync.Mutex
	Pid     defs.Pid_t
	Name    string
	Vm      *vmm.AddressSpace
	Threads []*Thread
	Fds     []*fd.Fd_t
	Cwd     *fd.Cwd_t
	Parent  *Process
	State   ProcState
	Refcnt  int
}

var (
	pidLock sync.Mutex
	pidNext defs.Pid_t
	pidTab  = hashtable.MkHash(1024)

	tidLock sync.Mutex
	tidNext defs.Tid_t
	tidTab  = hashtable.MkHash(1024)

	listLock    sync.Mutex
	liveProcs   = map[defs.Pid_t]*Process{}
	zombieProcs = map[defs.Pid_t]*Process{}
)

// allocPid serializes PID allocation behind a single spinlock, rejecting
// any candidate already present in the PID hash table and wrapping at
// PID_MAX (spec.md §4.4.1).
func allocPid() defs.Pid_t {
	pidLock.Lock()
	defer pidLock.Unlock()
	for {
		pidNext++
		if pidNext >= defs.PID_MAX {
			pidNext = 1
		}
		if _, ok := pidTab.Get(int(pidNext)); !ok {
			pidTab.Set(int(pidNext), true)
			return pidNext
		}
	}
}

func allocTid() defs.Tid_t {
	tidLock.Lock()
	defer tidLock.Unlock()
	for {
		tidNext++
		if tidNext >= defs.TID_MAX {
			tidNext = 1
		}
		if _, ok := tidTab.Get(int(tidNext)); !ok {
			tidTab.Set(int(tidNext), true)
			return tidNext
		}
	}
}

// ProcessAlloc creates a new process: a fresh PID, empty thread list, new
// user address space, refcount 1, state EMBRYO, inserted into the live
// list and the PID hash (spec.md §4.4 process_alloc). Rejects the
// allocation once the live process count reaches limits.Syslimit.Sysprocs,
// the same system-wide ceiling the teacher's fork() path checks.
func ProcessAlloc(name string) (*Process, error) {
	listLock.Lock()
	atLimit := len(liveProcs) >= limits.Syslimit.Sysprocs
	listLock.Unlock()
	if atLimit {
		limits.Lhits++
		return nil, fmt.Errorf("proc: process_alloc: process limit reached (errno %d)", defs.EAGAIN)
	}

	vas, err := vmm.CreateAddressSpace(vmm.UserSpace)
	if err != nil {
		return nil, fmt.Errorf("proc: process_alloc: %w", err)
	}
	p := &Process{
		Pid:    allocPid(),
		Name:   name,
		Vm:     vas,
		State:  EMBRYO,
		Refcnt: 1,
	}
	p.Cwd = fd.MkRootCwd(nil)
	listLock.Lock()
	liveProcs[p.Pid] = p
	listLock.Unlock()
	return p, nil
}

// ProcAlloc allocates a new thread under p: new TID, kernel stack, state
// IDLE, appended under the process lock, inserted into the TID hash. The
// first thread allocated for a process becomes its main thread (spec.md
// §4.4 proc_alloc).
func ProcAlloc(p *Process, name string) *Thread {
	t := &Thread{
		Tid:      allocTid(),
		Proc:     p,
		State:    IDLE,
		KStack:   make([]byte, KernelStackSize),
		Priority: 2,
	}
	t.Note = &tinfo.Tnote_t{Alive: true}
	p.Lock()
	p.Threads = append(p.Threads, t)
	p.Unlock()
	tidTab.Set(int(t.Tid), t)
	return t
}

// ProcFree reverses ProcAlloc: removes t from its process and the TID
// hash. If it was the process's last thread, ProcessFree is invoked
// (spec.md §4.4 proc_free).
func ProcFree(t *Thread) {
	p := t.Proc
	p.Lock()
	for i, pt := range p.Threads {
		if pt == t {
			p.Threads = append(p.Threads[:i], p.Threads[i+1:]...)
			break
		}
	}
	last := len(p.Threads) == 0
	p.Unlock()
	tidTab.Del(int(t.Tid))
	if last {
		ProcessFree(p)
	}
}

// ProcessFree tears down a process whose last thread has exited: closes
// every fd, releases the address space, and atomically moves the process
// from the live list to the zombie list (spec.md §4.4 process_free).
func ProcessFree(p *Process) {
	p.Lock()
	for _, f := range p.Fds {
		if f != nil {
			f.Fops.Close()
		}
	}
	p.Fds = nil
	p.State = ZOMBIE
	p.Unlock()
	p.Vm.Teardown()

	listLock.Lock()
	delete(liveProcs, p.Pid)
	zombieProcs[p.Pid] = p
	listLock.Unlock()
	pidTab.Del(int(p.Pid))
}

// Fork allocates a child process, forks the parent's address space
// (copy-on-write, vmm.Fork), duplicates the fd table with each OpenFile's
// refcount incremented, duplicates cwd, and allocates a child thread whose
// trapframe is a copy of tf but with rax forced to 0 so the child
// distinguishes itself from the parent, which receives the child's PID as
// its own return value (spec.md §4.4 fork).
func Fork(parent *Process, tf Trapframe) (*Process, *Thread, error) {
	parent.Lock()
	childVm, err := parent.Vm.Fork()
	fds := make([]*fd.Fd_t, len(parent.Fds))
	for i, f := range parent.Fds {
		if f == nil {
			continue
		}
		nf, ferr := fd.Copyfd(f)
		if ferr != 0 {
			parent.Unlock()
			return nil, nil, fmt.Errorf("proc: fork: copyfd: %v", ferr)
		}
		fds[i] = nf
	}
	cwd := &fd.Cwd_t{Fd: parent.Cwd.Fd, Path: append(ustr.Ustr{}, parent.Cwd.Path...)}
	parent.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("proc: fork: vm fork: %w", err)
	}

	child := &Process{
		Pid:    allocPid(),
		Name:   parent.Name,
		Vm:     childVm,
		Fds:    fds,
		Cwd:    cwd,
		Parent: parent,
		State:  EMBRYO,
		Refcnt: 1,
	}
	listLock.Lock()
	liveProcs[child.Pid] = child
	listLock.Unlock()

	ct := ProcAlloc(child, child.Name)
	ct.Tf = tf
	ct.Tf.Rax = 0

	return child, ct, nil
}

// EnterUsermode atomically flips t's process state EMBRYO→EXEC and
// installs a trapframe whose every GPR is zero except the program counter
// (entry) and stack pointer (stackTop) — the caller then resumes t under
// the scheduler, a one-way transition from its own perspective (spec.md
// §4.4 enter_usermode). This hosted substrate has no IST/TSS or ring
// transition to program; the state flip and zeroed frame are the whole of
// the observable contract here (SPEC_FULL.md §D).
func EnterUsermode(t *Thread, entry, stackTop uintptr) {
	p := t.Proc
	p.Lock()
	if p.State != EMBRYO {
		p.Unlock()
		panic("enter_usermode: process not EMBRYO")
	}
	p.State = EXEC
	p.Unlock()

	t.Lock()
	t.Tf = Trapframe{Rip: entry, Rsp: stackTop}
	t.Unlock()
}

// Lookup returns the live process with the given PID, if any.
func Lookup(pid defs.Pid_t) (*Process, bool) {
	listLock.Lock()
	defer listLock.Unlock()
	p, ok := liveProcs[pid]
	return p, ok
}

// LookupThread returns the thread with the given TID, if any.
func LookupThread(tid defs.Tid_t) (*Thread, bool) {
	v, ok := tidTab.Get(int(tid))
	if !ok {
		return nil, false
	}
	return v.(*Thread), true
}
