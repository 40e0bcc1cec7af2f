// Package timer is the stubbed external collaborator spec.md §6 names as
// the source of scheduler ticks and wall-clock/monotonic time (§4.7's
// gettimeofday/clock_gettime/nanosleep family). There is no programmable
// interval timer on this hosted substrate (SPEC_FULL.md §D); a
// time.Ticker goroutine stands in for the IRQ, calling sched.Tick() at a
// configured rate, the way the original amd64/cpu/timer.c's ISR called
// scheduler_tick().
package timer

import (
	"sync"
	"time"

	"nucleus/sched"
)

var (
	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	boot    time.Time
	started bool
)

// Start begins driving sched.Tick() at hz ticks per second. It is
// idempotent; a second Start before Stop is a no-op.
func Start(hz uint32) {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return
	}
	if hz == 0 {
		hz = 1
	}
	boot = time.Now()
	ticker = time.NewTicker(time.Second / time.Duration(hz))
	stopCh = make(chan struct{})
	started = true
	t := ticker
	stop := stopCh
	go func() {
		for {
			select {
			case <-t.C:
				sched.Tick()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the ticking goroutine.
func Stop() {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	ticker.Stop()
	close(stopCh)
	started = false
}

// Nanotime returns the current wall-clock time as (sec, nsec) since the
// Unix epoch (original sys_clock_gettime's CLOCK_REALTIME case).
func Nanotime() (int64, int64) {
	now := time.Now()
	return now.Unix(), int64(now.Nanosecond())
}

// Nanouptime returns (sec, nsec) of monotonic time since the most recent
// timer.Start, standing in for CLOCK_MONOTONIC/CLOCK_BOOTTIME. Before
// Start is ever called it measures from the process start instead.
func Nanouptime() (int64, int64) {
	mu.Lock()
	b := boot
	mu.Unlock()
	if b.IsZero() {
		b = processStart
	}
	d := time.Since(b)
	return int64(d / time.Second), int64(d % time.Second)
}

var processStart = time.Now()
