package proc

import (
	"nucleus/defs"
	"nucleus/fd"
)

// NOFILE is the fixed per-process file-descriptor table capacity (spec.md
// §3 Process: "file-descriptor table (fixed capacity, each slot: {open_
// file, close-on-exec flag})").
const NOFILE = 64

// AllocFd installs f in the lowest free slot of p's fd table, growing the
// backing slice on demand up to NOFILE, and returns the slot number
// (spec.md §4.7 open/openat/creat: "installs into the first free fd slot").
func (p *Process) AllocFd(f *fd.Fd_t) (int, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	for i, cur := range p.Fds {
		if cur == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	if len(p.Fds) >= NOFILE {
		return -1, -defs.EMFILE
	}
	p.Fds = append(p.Fds, f)
	return len(p.Fds) - 1, 0
}

// InstallFdAt installs f at exactly slot n, closing whatever descriptor
// previously occupied it (spec.md §4.7 dup2: "atomically closes newfd if
// open, then makes newfd a copy of oldfd").
func (p *Process) InstallFdAt(n int, f *fd.Fd_t) defs.Err_t {
	if n < 0 || n >= NOFILE {
		return -defs.EBADF
	}
	p.Lock()
	defer p.Unlock()
	for len(p.Fds) <= n {
		p.Fds = append(p.Fds, nil)
	}
	if old := p.Fds[n]; old != nil {
		old.Fops.Close()
	}
	p.Fds[n] = f
	return 0
}

// GetFd returns the descriptor at slot n, or ok=false if n is out of
// range or the slot is empty (spec.md §4.7's "dispatcher validates fd").
func (p *Process) GetFd(n int) (*fd.Fd_t, bool) {
	p.Lock()
	defer p.Unlock()
	if n < 0 || n >= len(p.Fds) || p.Fds[n] == nil {
		return nil, false
	}
	return p.Fds[n], true
}

// CloseFd closes and clears slot n (spec.md §4.7 close).
func (p *Process) CloseFd(n int) defs.Err_t {
	p.Lock()
	if n < 0 || n >= len(p.Fds) || p.Fds[n] == nil {
		p.Unlock()
		return -defs.EBADF
	}
	f := p.Fds[n]
	p.Fds[n] = nil
	p.Unlock()
	return f.Fops.Close()
}

// DupFd duplicates slot oldn into the lowest free slot (spec.md §4.7 dup).
func (p *Process) DupFd(oldn int) (int, defs.Err_t) {
	old, ok := p.GetFd(oldn)
	if !ok {
		return -1, -defs.EBADF
	}
	nf, err := fd.Copyfd(old)
	if err != 0 {
		return -1, err
	}
	slot, aerr := p.AllocFd(nf)
	if aerr != 0 {
		nf.Fops.Close()
		return -1, aerr
	}
	return slot, 0
}

// DupFd2 duplicates slot oldn into slot newn exactly, replacing whatever
// was there (spec.md §4.7 dup2). Duping a descriptor onto itself is a
// no-op save for validating oldn is actually open.
func (p *Process) DupFd2(oldn, newn int) (int, defs.Err_t) {
	if oldn == newn {
		if _, ok := p.GetFd(oldn); !ok {
			return -1, -defs.EBADF
		}
		return newn, 0
	}
	old, ok := p.GetFd(oldn)
	if !ok {
		return -1, -defs.EBADF
	}
	nf, err := fd.Copyfd(old)
	if err != 0 {
		return -1, err
	}
	if ierr := p.InstallFdAt(newn, nf); ierr != 0 {
		nf.Fops.Close()
		return -1, ierr
	}
	return newn, 0
}
