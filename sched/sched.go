// Package sched is a single-CPU, priority-based round-robin scheduler
// with sleep/block/terminate queues and timer-driven preemption (spec.md
// §4.5), grounded on original_source/amd64/cpu/scheduler.c: five strict
// priority buckets (0=IDLE..4=highest), a blocked list, a sleeping list,
// a terminated list, and an idle task that runs when every bucket is
// empty.
//
// There is no real CPU to context-switch on this substrate (SPEC_FULL.md
// §D). Each task is a goroutine parked on its own channel; switch_to_next
// wakes the incoming task's channel and then blocks the outgoing task's
// goroutine on its own channel until some later switch_to_next wakes it
// again — the channel handoff plays the role of the original's
// scheduler_switch_context.
package sched

import (
	"fmt"
	"sync"

	"nucleus/proc"
	kstats "nucleus/stats"
	"nucleus/tinfo"
)

// Switches counts every context switch for the lifetime of the process,
// independent of the stats.ContextSwitches field (which Init resets along
// with the rest of the live task-count snapshot). Exported for
// SPEC_FULL.md §A's profiling/stats endpoint. Named kstats locally: this
// package already has an unexported field named stats.
var Switches kstats.Counter_t

// Priority is a scheduling priority bucket (spec.md §4.5 "0 = IDLE, 4 =
// highest").
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityRealtime
)

const numPriorities = int(PriorityRealtime) + 1

// TimeSliceMs is the scheduler's fixed time-slice length, matching the
// teacher's SCHEDULER_TIME_SLICE_MS.
const TimeSliceMs = 20

// Task is a schedulable unit: a proc.Process/proc.Thread pair plus the
// bookkeeping the scheduler itself needs (goroutine handoff channel,
// entry point, sleep deadline).
type Task struct {
	Proc     *proc.Process
	Thread   *proc.Thread
	Name     string
	Priority Priority
	Kernel   bool

	entry    func()
	resumeCh chan struct{}
}

// Stats mirrors the teacher's scheduler_stats_t (spec.md §4.5 has no
// explicit stats operation, but tick/switch_to_next are specified in
// terms that imply these counters).
type Stats struct {
	TotalTasks       uint64
	ReadyTasks       uint64
	BlockedTasks     uint64
	SleepingTasks    uint64
	RunningTasks     uint64
	ContextSwitches  uint64
	TotalTicks       uint64
}

var (
	mu         sync.Mutex
	queues     [numPriorities][]*Task
	blocked    []*Task
	sleeping   []*Task
	terminated []*Task

	current  *Task
	idleTask *Task

	timerHz    uint32
	sliceTicks uint64
	tickCount  uint64
	running    bool

	stats Stats

	byTid = map[int]*Task{}
)

// Init resets scheduler state, derives slice_ticks from slice_ms ×
// timer_hz / 1000, and creates the idle task at priority IDLE (spec.md
// §4.5 init).
func Init(timerHzArg uint32) {
	mu.Lock()
	queues = [numPriorities][]*Task{}
	blocked = nil
	sleeping = nil
	terminated = nil
	current = nil
	timerHz = timerHzArg
	sliceTicks = uint64(TimeSliceMs) * uint64(timerHz) / 1000
	if sliceTicks == 0 {
		sliceTicks = 1
	}
	tickCount = 0
	running = false
	stats = Stats{}
	byTid = map[int]*Task{}
	mu.Unlock()

	idleTask = newTask("idle", idleEntry, PriorityIdle, true)
}

func idleEntry() {
	for {
		Yield()
	}
}

func newTask(name string, entry func(), pri Priority, kernel bool) *Task {
	p, err := proc.ProcessAlloc(name)
	if err != nil {
		panic(fmt.Sprintf("sched: process_alloc failed: %v", err))
	}
	th := proc.ProcAlloc(p, name)
	return wrapTask(p, th, name, entry, pri, kernel)
}

// wrapTask builds the scheduler-side bookkeeping (goroutine, resume
// channel, tid index) around an already-allocated process/thread pair,
// without itself allocating either. Shared by newTask (fresh
// process_alloc/proc_alloc) and AdoptTask (an already-forked pair).
func wrapTask(p *proc.Process, th *proc.Thread, name string, entry func(), pri Priority, kernel bool) *Task {
	th.Priority = int(pri)
	th.State = proc.IDLE

	t := &Task{
		Proc:     p,
		Thread:   th,
		Name:     name,
		Priority: pri,
		Kernel:   kernel,
		entry:    entry,
		resumeCh: make(chan struct{}),
	}

	mu.Lock()
	byTid[int(th.Tid)] = t
	mu.Unlock()

	go func() {
		<-t.resumeCh
		tinfo.SetCurrent(t.Thread.Note)
		t.entry()
		exitTask(0)
	}()

	return t
}

// CreateTask allocates a process+thread at the given priority and
// enqueues it on the ready queue (spec.md §4.5 create_task).
func CreateTask(name string, entry func(), pri Priority, kernel bool) *Task {
	t := newTask(name, entry, pri, kernel)
	mu.Lock()
	t.Thread.State = proc.READY
	queues[pri] = append(queues[pri], t)
	stats.TotalTasks++
	stats.ReadyTasks++
	mu.Unlock()
	return t
}

// AdoptTask wraps an already-built process/thread pair — the product of
// proc.Fork, which allocates its own child process and thread rather
// than going through CreateTask — into a schedulable Task and enqueues
// it ready. entry is what the child's goroutine runs; the forked
// trapframe (rax forced to zero) stays on th, and nothing here executes
// it (syscall.SysFork passes runForked, which only yields).
func AdoptTask(p *proc.Process, th *proc.Thread, name string, entry func(), pri Priority) *Task {
	t := wrapTask(p, th, name, entry, pri, false)
	mu.Lock()
	t.Thread.State = proc.READY
	queues[pri] = append(queues[pri], t)
	stats.TotalTasks++
	stats.ReadyTasks++
	mu.Unlock()
	return t
}

func pickNextLocked() *Task {
	for i := numPriorities - 1; i >= 0; i-- {
		if len(queues[i]) > 0 {
			t := queues[i][0]
			queues[i] = queues[i][1:]
			return t
		}
	}
	return nil
}

func enqueueReadyLocked(t *Task) {
	queues[t.Priority] = append(queues[t.Priority], t)
}

func removeFromQueueLocked(t *Task) bool {
	q := queues[t.Priority]
	for i, e := range q {
		if e == t {
			queues[t.Priority] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

func removeFromSliceLocked(list *[]*Task, t *Task) bool {
	for i, e := range *list {
		if e == t {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Start marks the scheduler running, picks the highest-priority ready
// thread (or idle), and performs the one-shot initial dispatch (spec.md
// §4.5 start / §4.5.1 "initial dispatch uses one-shot restore-only
// variant"): there is no outgoing task to park, so Start only wakes the
// chosen task's goroutine and returns.
func Start() {
	mu.Lock()
	if running {
		mu.Unlock()
		return
	}
	running = true
	next := pickNextLocked()
	if next == nil {
		next = idleTask
	} else {
		removeFromQueueLocked(next)
	}
	next.Thread.State = proc.THREAD_RUNNING
	current = next
	stats.RunningTasks = 1
	mu.Unlock()

	next.resumeCh <- struct{}{}
}

// Stop halts the scheduler; no task is forcibly preempted, it simply
// stops being driven by Tick/Yield.
func Stop() {
	mu.Lock()
	running = false
	mu.Unlock()
}

// switchToNext picks the next ready thread via strict priority scan (4
// down to 0, FIFO within a bucket), falling back to idle, and performs
// the handoff (spec.md §4.5.1). If the pick equals current, it just
// resets the slice counter.
func switchToNext() {
	mu.Lock()
	old := current
	next := pickNextLocked()
	if next == nil {
		next = idleTask
	} else {
		removeFromQueueLocked(next)
	}

	if old == next {
		if old != nil {
			old.Thread.CpTicks = 0
		}
		mu.Unlock()
		return
	}

	if old != nil && old.Thread.State == proc.THREAD_RUNNING {
		old.Thread.State = proc.READY
		old.Thread.CpTicks = 0
		enqueueReadyLocked(old)
		stats.ReadyTasks++
		if stats.RunningTasks > 0 {
			stats.RunningTasks--
		}
	}

	next.Thread.State = proc.THREAD_RUNNING
	current = next
	stats.ContextSwitches++
	stats.RunningTasks++
	Switches.Inc()
	mu.Unlock()

	next.resumeCh <- struct{}{}
	if old != nil {
		<-old.resumeCh
	}
}

// Yield voluntarily gives up the remainder of the current task's slice
// (spec.md §4.5 yield).
func Yield() {
	mu.Lock()
	r := running
	mu.Unlock()
	if !r {
		return
	}
	switchToNext()
}

// Block removes t from the ready queue, transitions it to BLOCKED, and
// appends it to the blocked list; if t is the running thread, Block then
// switches to the next task itself (spec.md §4.5 block).
func Block(t *Task) {
	mu.Lock()
	if t.Thread.State == proc.BLOCKED {
		mu.Unlock()
		return
	}
	if t.Thread.State == proc.READY {
		removeFromQueueLocked(t)
		if stats.ReadyTasks > 0 {
			stats.ReadyTasks--
		}
	}
	t.Thread.State = proc.BLOCKED
	blocked = append(blocked, t)
	stats.BlockedTasks++
	self := t == current
	mu.Unlock()
	if self {
		switchToNext()
	}
}

// Unblock is the inverse of Block: removes t from the blocked list,
// resets cpticks, and enqueues it ready (spec.md §4.5 unblock).
func Unblock(t *Task) {
	mu.Lock()
	if t.Thread.State != proc.BLOCKED {
		mu.Unlock()
		return
	}
	removeFromSliceLocked(&blocked, t)
	if stats.BlockedTasks > 0 {
		stats.BlockedTasks--
	}
	t.Thread.State = proc.READY
	t.Thread.CpTicks = 0
	enqueueReadyLocked(t)
	stats.ReadyTasks++
	mu.Unlock()
}

// Sleep computes an absolute wake deadline from the scheduler's
// monotonic tick counter and moves t to the sleeping list (spec.md §4.5
// sleep). If t is the running thread, Sleep then switches to the next
// task itself.
func Sleep(t *Task, ms uint64) {
	mu.Lock()
	deadline := tickCount + (ms*uint64(timerHz))/1000
	t.Thread.WakeAt = deadline
	if t.Thread.State == proc.READY {
		removeFromQueueLocked(t)
		if stats.ReadyTasks > 0 {
			stats.ReadyTasks--
		}
	}
	t.Thread.State = proc.SLEEPING
	sleeping = append(sleeping, t)
	stats.SleepingTasks++
	self := t == current
	mu.Unlock()
	if self {
		switchToNext()
	}
}

// exitTask marks the currently running task DEAD, moves it to the
// terminated list, and dispatches the next task without parking — the
// exiting goroutine returns and is gone for good (spec.md §4.5
// exit_task).
func exitTask(status int) {
	mu.Lock()
	old := current
	next := pickNextLocked()
	if next == nil {
		next = idleTask
	} else {
		removeFromQueueLocked(next)
	}

	old.Thread.State = proc.DEAD
	terminated = append(terminated, old)
	if stats.RunningTasks > 0 {
		stats.RunningTasks--
	}
	stats.TotalTasks--

	next.Thread.State = proc.THREAD_RUNNING
	current = next
	stats.ContextSwitches++
	stats.RunningTasks++
	Switches.Inc()
	mu.Unlock()

	next.resumeCh <- struct{}{}
}

// ExitTask is the public entry a task calls to terminate itself
// explicitly rather than by returning from its entry function.
func ExitTask(status int) {
	exitTask(status)
}

// Tick is called from the timer handler: drains the terminated list,
// wakes sleepers past their deadline, advances the running thread's
// cpticks/runtime, and switches out the running thread once its slice is
// exhausted (spec.md §4.5 tick).
func Tick() {
	mu.Lock()
	tickCount++
	stats.TotalTicks++
	terminated = nil // deferred frees: proc.ProcFree already ran fd/vm teardown via exitTask's caller path

	stillSleeping := sleeping[:0]
	for _, t := range sleeping {
		if tickCount >= t.Thread.WakeAt {
			t.Thread.State = proc.READY
			t.Thread.CpTicks = 0
			enqueueReadyLocked(t)
			stats.ReadyTasks++
			if stats.SleepingTasks > 0 {
				stats.SleepingTasks--
			}
		} else {
			stillSleeping = append(stillSleeping, t)
		}
	}
	sleeping = stillSleeping

	cur := current
	exhausted := false
	if cur != nil && cur != idleTask {
		cur.Thread.CpTicks++
		cur.Thread.Runtime++
		if uint64(cur.Thread.CpTicks) >= sliceTicks {
			exhausted = true
		}
	}
	mu.Unlock()

	if exhausted {
		switchToNext()
	}
}

// SetPriority changes t's priority bucket, re-homing it in the ready
// queue if it is currently READY (spec.md §4.5 set_priority).
func SetPriority(t *Task, pri Priority) {
	mu.Lock()
	defer mu.Unlock()
	if t.Priority == pri {
		return
	}
	if t.Thread.State == proc.READY {
		removeFromQueueLocked(t)
		t.Priority = pri
		t.Thread.Priority = int(pri)
		enqueueReadyLocked(t)
	} else {
		t.Priority = pri
		t.Thread.Priority = int(pri)
	}
}

// Current returns the running task, or nil if the scheduler has not
// started.
func Current() *Task {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// ByTid looks up a task by its thread's TID.
func ByTid(tid int) (*Task, bool) {
	mu.Lock()
	defer mu.Unlock()
	t, ok := byTid[tid]
	return t, ok
}

// GetStats returns a snapshot of scheduler statistics.
func GetStats() Stats {
	mu.Lock()
	defer mu.Unlock()
	return stats
}
