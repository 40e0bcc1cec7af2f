// Package kernel is the single top-level object that wires every CORE
// package into one bootable unit (spec.md §9 design note: "prefer a
// single 'kernel context' object constructed at boot... so the locks are
// fields rather than module-level"). Grounded on original_source's own
// boot sequence (amd64/init.c: pmm → paging → vmm → scheduler → vfs, in
// that order, the console wired in last) and on the teacher's
// cmd/chentry, which already treats an ELF image as the thing a boot
// sequence loads and hands to a fresh address space.
package kernel

import (
	"fmt"
	"io"

	"nucleus/caller"
	"nucleus/console"
	"nucleus/defs"
	"nucleus/elf"
	"nucleus/fd"
	"nucleus/fdops"
	"nucleus/fs"
	"nucleus/mem"
	"nucleus/pmm"
	"nucleus/proc"
	"nucleus/sched"
	"nucleus/stats"
	"nucleus/syscall"
	"nucleus/timer"
	"nucleus/tmpfs"
)

// traceCap bounds the boot/lifecycle event ring every Context keeps.
const traceCap = 64

// defaultTimerHz is the tick rate Boot uses when Config.TimerHz is left
// zero.
const defaultTimerHz = 1000

// Config is everything Boot needs to bring up a kernel instance. There is
// no firmware or bootloader on this hosted substrate (SPEC_FULL.md §D) to
// discover a memory map or start a timer IRQ, so both are supplied
// directly by the caller (in this repository, a test).
type Config struct {
	MemRegions []pmm.MemRegion
	HHDMOffset uint64
	TimerHz    uint32
}

// Context owns every piece of global state CORE would otherwise scatter
// across package-level variables: the frame allocator, and a handle on
// the scheduler/timer pair driving it. Fields rather than package
// globals so nothing here is reached by a name outside this struct
// (spec.md §9).
type Context struct {
	Mem     *pmm.Allocator
	TimerHz uint32
	trace   *caller.Trace_t
}

// Trace returns the Context's boot/lifecycle event log (SPEC_FULL.md §C,
// caller.Trace_t): a ring of recent milestones (mounts, spawns, load
// failures) for post-mortem inspection, distinct from the per-field
// counters Stats reports.
func (c *Context) Trace() []string {
	return c.trace.Entries()
}

// Boot brings up physical memory, the scheduler, and a tmpfs root mount,
// in that order (original_source's init.c sequence), and starts the
// timer driving sched.Tick. The returned Context is the handle every
// later call (SpawnInit, Shutdown) takes.
func Boot(cfg Config) (*Context, error) {
	trace := caller.MkTrace(traceCap)

	a, err := pmm.Init(cfg.MemRegions, cfg.HHDMOffset)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: pmm.Init: %w", err)
	}
	mem.Init(a)
	trace.Record("pmm initialized: %d region(s)", len(cfg.MemRegions))

	hz := cfg.TimerHz
	if hz == 0 {
		hz = defaultTimerHz
	}
	sched.Init(hz)
	trace.Record("scheduler initialized: %d Hz", hz)

	fs.ResetForTest()
	fs.Unregister("tmpfs")
	if err := tmpfs.Register(); err != nil {
		return nil, fmt.Errorf("kernel: boot: tmpfs.Register: %w", err)
	}
	if _, ferr := fs.Mnt("none", "/", "tmpfs", 0, nil); ferr != 0 {
		return nil, fmt.Errorf("kernel: boot: mount root: %d", ferr)
	}
	trace.Record("root mounted: tmpfs")

	timer.Start(hz)
	sched.Start()
	trace.Record("scheduler started")

	return &Context{Mem: a, TimerHz: hz, trace: trace}, nil
}

// Counters is a snapshot of the kernel-wide accounting stats.Stats2String
// and stats.WriteProfile know how to render (SPEC_FULL.md §A test
// tooling: "expose scheduler/syscall counters for offline inspection").
type Counters struct {
	Syscalls        stats.Counter_t
	ContextSwitches stats.Counter_t
}

// Stats returns the current counter snapshot.
func (c *Context) Stats() Counters {
	return Counters{
		Syscalls:        stats.Counter_t(syscall.Dispatches.Load()),
		ContextSwitches: stats.Counter_t(sched.Switches.Load()),
	}
}

// StatsString renders the current counters as text (stats.Stats2String).
func (c *Context) StatsString() string {
	return stats.Stats2String(c.Stats())
}

// WriteProfile dumps the current counters as a pprof profile, loadable
// with `go tool pprof`.
func (c *Context) WriteProfile(w io.Writer) error {
	return stats.WriteProfile(w, c.Stats())
}

// Shutdown stops the timer driving this Context's scheduler. It does not
// unwind scheduled tasks; callers that need a hermetic teardown (tests)
// construct a fresh Context instead of reusing one after Shutdown.
func (c *Context) Shutdown() {
	timer.Stop()
}

// installStdio installs console.Default at fd 0/1/2 of a freshly
// allocated process: 0 read-only, 1 and 2 write-only (spec.md §4.7.1
// "For the process's first three fds, if no vnode has been installed,
// reads come from a keyboard source... and writes go to the console").
func installStdio(p *proc.Process) error {
	stdio := []struct {
		flags int
		perms int
	}{
		{defs.O_RDONLY, fd.FD_READ},
		{defs.O_WRONLY, fd.FD_WRITE},
		{defs.O_WRONLY, fd.FD_WRITE},
	}
	for n, s := range stdio {
		var ops fdops.Fdops_i = console.NewFd(console.Default, s.flags)
		if err := p.InstallFdAt(n, &fd.Fd_t{Fops: ops, Perms: s.perms}); err != 0 {
			return fmt.Errorf("kernel: installStdio: fd %d: %d", n, err)
		}
	}
	return nil
}

// SpawnInit validates and loads an ELF64 executable into a brand-new
// process, installs its stdio descriptors, flips it EMBRYO→EXEC via
// proc.EnterUsermode, and hands the result to the scheduler ready to run
// (spec.md §4.8 "Load" composed with §4.4 "enter_usermode"). There is no
// instruction-level CPU emulator on this substrate to actually execute
// the mapped program text (SPEC_FULL.md §D); the returned task's
// goroutine runs a placeholder loop that yields forever, the same
// stance syscall.SysFork's runForked takes for a newly forked child —
// tests drive the loaded process's behavior entirely through
// syscall.Dispatch against its *proc.Process/*proc.Thread, not by
// expecting the binary's own instructions to run.
func (c *Context) SpawnInit(name string, elfData []byte) (*proc.Process, *proc.Thread, error) {
	img, verr := elf.Validate(elfData)
	if verr != 0 {
		c.trace.Record("spawn %s: invalid image: %d", name, verr)
		return nil, nil, fmt.Errorf("kernel: SpawnInit: validate: %d", verr)
	}

	p, err := proc.ProcessAlloc(name)
	if err != nil {
		c.trace.Record("spawn %s: ProcessAlloc: %v", name, err)
		return nil, nil, fmt.Errorf("kernel: SpawnInit: %w", err)
	}
	th := proc.ProcAlloc(p, name)

	ld, lerr := elf.Load(p.Vm, img)
	if lerr != 0 {
		proc.ProcFree(th)
		c.trace.Record("spawn %s: load: %d", name, lerr)
		return nil, nil, fmt.Errorf("kernel: SpawnInit: load: %d", lerr)
	}

	if serr := installStdio(p); serr != nil {
		proc.ProcFree(th)
		c.trace.Record("spawn %s: installStdio: %v", name, serr)
		return nil, nil, serr
	}

	proc.EnterUsermode(th, ld.Entry, ld.StackTop)

	sched.AdoptTask(p, th, name, idleLoop, sched.PriorityNormal)
	c.trace.Record("spawned %s: pid=%d entry=%#x", name, p.Pid, ld.Entry)
	return p, th, nil
}

// idleLoop is SpawnInit's placeholder task body; see SpawnInit's doc
// comment for why it never executes the loaded program's instructions.
func idleLoop() {
	for {
		sched.Yield()
	}
}
