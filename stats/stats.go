package stats

import "reflect"
import "sync/atomic"
import "strconv"
import "strings"
import "time"
import "unsafe"

// Stats and Timing gate counter/cycle accounting. The teacher ships these
// as a build-time toggle (a patched Go runtime rebuilt with counting
// compiled out entirely for production). This repo has no separate
// debug/release build, and an atomic increment per syscall/context switch
// is cheap enough to always carry, so both stay on.
const Stats = true
const Timing = true

var Nirqs [100]int
var Irqs int

// Rdtsc returns a monotonic cycle-like counter when enabled.
//
// The teacher reads the real TSC via a patched Go runtime (runtime.Rdtsc,
// only present in biscuit's own fork). This substrate runs on stock Go, so
// there is no TSC to read; time.Now().UnixNano() stands in as a
// monotonically increasing counter for the same Cycles_t accounting below.
func Rdtsc() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	} else {
		return 0
	}
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds a cycle count.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Load reads the counter's current value, safe to call concurrently with
// Inc.
func (c *Counter_t) Load() int64 {
	n := (*int64)(unsafe.Pointer(c))
	return atomic.LoadInt64(n)
}

// Add adds elapsed cycles to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}

	}
	return s + "\n"
}
