package defs

// Pid_t and Tid_t are disjoint identifier spaces (spec.md §3, §4.4.1):
// processes and threads are allocated from separate monotonic counters and
// looked up through separate hash tables.
type Pid_t int
type Tid_t int

// PID_MAX bounds the process identifier space; allocation wraps at this
// value and rejects any candidate already present in the PID hash table.
const PID_MAX Pid_t = 1 << 22

// TID_MAX masks the thread identifier space to a fixed width (spec.md
// §4.4.1: "TID masked to a fixed width").
const TID_MAX Tid_t = 1 << 24

// NoPid and NoTid are sentinel "absent" identifiers, never returned by the
// allocators, usable as zero values for "no parent"/"no owner".
const NoPid Pid_t = 0
const NoTid Tid_t = 0
