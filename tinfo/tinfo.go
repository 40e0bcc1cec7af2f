package tinfo

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"nucleus/defs"
)

// Tnote_t stores per-thread state used by the scheduler.
type Tnote_t struct {
	// XXX "alive" should be "terminated"
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool // XXX maybe don't need doomed, but can use killed?
	// protects killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// current maps a goroutine's identity to the Tnote_t the scheduler
// (package sched, which owns thread<->goroutine binding) has installed
// for it.
//
// The teacher reads/writes this through runtime.Gptr()/runtime.Setgptr(),
// calls into biscuit's own patched Go runtime that stash a pointer in the
// g struct directly. Stock Go exposes no such slot, so this substrate
// keys a sync.Map by goroutine id instead — extracted the same way the
// wider Go ecosystem's goroutine-local-storage shims do, by parsing the
// "goroutine N [...]" header stack traces start with.
var current sync.Map // goroutine id (uint64) -> *Tnote_t

func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		panic("unexpected stack trace header")
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		panic("unexpected stack trace header")
	}
	id, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		panic("unexpected stack trace header")
	}
	return id
}

// Current returns the calling goroutine's thread note.
func Current() *Tnote_t {
	v, ok := current.Load(goid())
	if !ok {
		panic("nuts")
	}
	return v.(*Tnote_t)
}

// SetCurrent installs p as the calling goroutine's thread note.
func SetCurrent(p *Tnote_t) {
	if p == nil {
		panic("nuts")
	}
	id := goid()
	if _, ok := current.Load(id); ok {
		panic("nuts")
	}
	current.Store(id, p)
}

// ClearCurrent removes the calling goroutine's thread note.
func ClearCurrent() {
	id := goid()
	if _, ok := current.Load(id); !ok {
		panic("nuts")
	}
	current.Delete(id)
}
