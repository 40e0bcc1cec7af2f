package proc

import (
	"testing"

	"nucleus/defs"
	"nucleus/fd"
	"nucleus/fdops"
)

// stubFops is a minimal fdops.Fdops_i for exercising fd-table bookkeeping
// without a real filesystem backing it. reopens/closes count calls so
// tests can assert dup/close semantics.
type stubFops struct {
	closed  *int
	reopens *int
}

func newStub() *fd.Fd_t {
	return &fd.Fd_t{Fops: &stubFops{closed: new(int), reopens: new(int)}, Perms: fd.FD_READ}
}

func (s *stubFops) Read(fdops.Userio_i) (int, defs.Err_t)         { return 0, 0 }
func (s *stubFops) Write(fdops.Userio_i) (int, defs.Err_t)        { return 0, 0 }
func (s *stubFops) Fullpath() (defs.Err_t, string)                { return 0, "" }
func (s *stubFops) Fstat(fdops.Statable_i) defs.Err_t             { return 0 }
func (s *stubFops) Mmapi(int, int, bool) ([]fdops.Mmapinfo_t, defs.Err_t) { return nil, -defs.ENOSYS }
func (s *stubFops) Pathi() fdops.Inum_i                           { return nil }
func (s *stubFops) Close() defs.Err_t                             { *s.closed++; return 0 }
func (s *stubFops) Reopen() defs.Err_t                            { *s.reopens++; return 0 }
func (s *stubFops) Lseek(int, int) (int, defs.Err_t)              { return 0, 0 }
func (s *stubFops) Accept(fdops.Userio_i) (int, defs.Err_t)       { return 0, -defs.ENOTSOCK }
func (s *stubFops) Getfl() int                                    { return 0 }
func (s *stubFops) Setfl(int) defs.Err_t                          { return 0 }
func (s *stubFops) Truncate(uint) defs.Err_t                      { return 0 }

func TestAllocFdReusesFreedSlot(t *testing.T) {
	p := &Process{}
	a, err := p.AllocFd(newStub())
	if err != 0 || a != 0 {
		t.Fatalf("AllocFd: slot=%d err=%v", a, err)
	}
	b, err := p.AllocFd(newStub())
	if err != 0 || b != 1 {
		t.Fatalf("AllocFd: slot=%d err=%v", b, err)
	}
	if err := p.CloseFd(0); err != 0 {
		t.Fatalf("CloseFd: %v", err)
	}
	c, err := p.AllocFd(newStub())
	if err != 0 || c != 0 {
		t.Fatalf("AllocFd after close: slot=%d err=%v", c, err)
	}
}

func TestGetFdAndCloseFdOutOfRange(t *testing.T) {
	p := &Process{}
	if _, ok := p.GetFd(0); ok {
		t.Fatal("expected no fd at slot 0 on empty table")
	}
	if err := p.CloseFd(5); err != -defs.EBADF {
		t.Fatalf("CloseFd out of range = %v, want EBADF", err)
	}
}

func TestDupFdAllocatesNewSlotAndReopens(t *testing.T) {
	p := &Process{}
	f := newStub()
	slot, _ := p.AllocFd(f)
	dup, err := p.DupFd(slot)
	if err != 0 {
		t.Fatalf("DupFd: %v", err)
	}
	if dup == slot {
		t.Fatal("expected dup to land in a different slot")
	}
	if *f.Fops.(*stubFops).reopens != 1 {
		t.Fatalf("reopens = %d, want 1", *f.Fops.(*stubFops).reopens)
	}
}

func TestDupFd2ClosesPriorOccupant(t *testing.T) {
	p := &Process{}
	src := newStub()
	victim := newStub()
	srcSlot, _ := p.AllocFd(src)
	if err := p.InstallFdAt(3, victim); err != 0 {
		t.Fatalf("InstallFdAt: %v", err)
	}
	if _, err := p.DupFd2(srcSlot, 3); err != 0 {
		t.Fatalf("DupFd2: %v", err)
	}
	if *victim.Fops.(*stubFops).closed != 1 {
		t.Fatalf("victim closed %d times, want 1", *victim.Fops.(*stubFops).closed)
	}
	got, ok := p.GetFd(3)
	if !ok {
		t.Fatal("expected slot 3 occupied after DupFd2")
	}
	if got.Fops.(*stubFops).reopens != src.Fops.(*stubFops).reopens {
		t.Fatal("expected dup2's fd to share src's reopen counter (same stub)")
	}
}

func TestDupFd2SelfIsNoop(t *testing.T) {
	p := &Process{}
	f := newStub()
	slot, _ := p.AllocFd(f)
	n, err := p.DupFd2(slot, slot)
	if err != 0 || n != slot {
		t.Fatalf("DupFd2 self: n=%d err=%v", n, err)
	}
	if *f.Fops.(*stubFops).closed != 0 {
		t.Fatal("self-dup2 must not close the descriptor")
	}
}
