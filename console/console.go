// Package console is the stubbed external collaborator spec.md §4.7.1
// calls the "keyboard source" and "console" sink for a process's first
// three file descriptors: blocking, line-buffered input with minimal
// editing, and a plain output sink. There is no real keyboard or display
// on this hosted substrate (SPEC_FULL.md §D) — gopheros's device/tty
// shows the shape of a line-discipline-over-a-device split, but its VT
// rendering is out of scope here (SPEC_FULL.md §F names console/timer as
// stubs); this package keeps only the line discipline and a recorded
// output transcript, fed and inspected directly by tests instead of a
// hardware IRQ.
package console

import (
	"sync"

	"nucleus/circbuf"
	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/sched"
)

const (
	backspace = 0x08
	del       = 0x7f
	ctrlC     = 0x03
	ctrlD     = 0x04
	newline   = '\n'
)

type waiter struct {
	task *sched.Task
}

// consoleOutCap bounds the output transcript, the same way a real console
// scrollback is finite; circbuf.Circbuf_t enforces it.
const consoleOutCap = 4096

// Console is a single shared keyboard+display endpoint. Input bytes are
// fed a rune at a time (as a real keyboard IRQ handler would deliver
// them); completed lines queue for Read, which blocks the calling task
// until one is available.
type Console struct {
	mu      sync.Mutex
	pending []byte
	lines   [][]byte
	waiters []waiter
	out     circbuf.Circbuf_t
	intr    bool
}

// byteSrc adapts a plain []byte into fdops.Userio_i, letting Write feed
// the caller's buffer through circbuf.Copyin without circbuf knowing
// whether its source is user memory or a kernel-owned slice.
type byteSrc struct {
	b   []byte
	pos int
}

func (s *byteSrc) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.b[s.pos:])
	s.pos += n
	return n, 0
}
func (s *byteSrc) Uiowrite([]uint8) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (s *byteSrc) Remain() int                        { return len(s.b) - s.pos }
func (s *byteSrc) Totalsz() int                       { return len(s.b) }

// Default is the console backing fds 0/1/2 of every process that has not
// installed its own vnode over them (spec.md §4.7.1).
var Default = &Console{}

// Feed delivers one input byte to the line discipline: backspace/DEL
// erases the last pending rune, newline completes the pending line and
// wakes every blocked reader, Ctrl-C sets the interrupt flag consumed by
// the next Read, Ctrl-D on an empty pending line completes an empty
// (EOF) line.
func (c *Console) Feed(b byte) {
	c.mu.Lock()
	switch b {
	case backspace, del:
		if n := len(c.pending); n > 0 {
			c.pending = c.pending[:n-1]
		}
	case ctrlC:
		c.intr = true
		c.wakeAllLocked()
	case ctrlD:
		if len(c.pending) == 0 {
			c.lines = append(c.lines, []byte{})
			c.wakeAllLocked()
		}
	case newline:
		line := append([]byte{}, c.pending...)
		c.pending = c.pending[:0]
		c.lines = append(c.lines, line)
		c.wakeAllLocked()
	default:
		c.pending = append(c.pending, b)
	}
	c.mu.Unlock()
}

// FeedString feeds every byte of s through Feed, a convenience for tests
// driving a whole line (including its trailing newline) at once.
func (c *Console) FeedString(s string) {
	for i := 0; i < len(s); i++ {
		c.Feed(s[i])
	}
}

func (c *Console) wakeAllLocked() {
	for _, w := range c.waiters {
		sched.Unblock(w.task)
	}
	c.waiters = nil
}

// Read blocks the calling task until a completed line is queued, then
// copies it into dst (spec.md §4.7.1: "reads come from a keyboard
// source (blocking, line-buffered...)"). A pending Ctrl-C is reported as
// EINTR instead of returning data.
func (c *Console) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	for {
		c.mu.Lock()
		if c.intr {
			c.intr = false
			c.mu.Unlock()
			return 0, -defs.EINTR
		}
		if len(c.lines) > 0 {
			line := c.lines[0]
			c.lines = c.lines[1:]
			c.mu.Unlock()
			n, err := dst.Uiowrite(line)
			return n, err
		}
		cur := sched.Current()
		if cur == nil {
			c.mu.Unlock()
			return 0, -defs.EAGAIN
		}
		c.waiters = append(c.waiters, waiter{task: cur})
		c.mu.Unlock()

		sched.Block(cur)
	}
}

// Write appends src to the console's output transcript (spec.md §4.7.1
// "writes go to the console"). The transcript is a bounded circbuf.
// Circbuf_t (consoleOutCap bytes); once full, further writes are
// silently dropped the way a real console's scrollback would overwrite
// rather than grow without limit.
func (c *Console) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	c.mu.Lock()
	if c.out.Bufsz() == 0 {
		c.out.Cb_init(consoleOutCap)
	}
	c.out.Copyin(&byteSrc{b: buf[:n]})
	c.mu.Unlock()
	return n, 0
}

// Output returns a copy of everything written to the console so far, for
// tests to assert against. Reading does not drain the transcript.
func (c *Console) Output() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Bufsz() == 0 || c.out.Empty() {
		return nil
	}
	r1, r2 := c.out.Rawread(0)
	out := append([]byte{}, r1...)
	out = append(out, r2...)
	return out
}

// Reset clears all buffered state; used between tests.
func (c *Console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.lines = nil
	c.waiters = nil
	c.intr = false
	c.out.Cb_release()
}
