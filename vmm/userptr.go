package vmm

import (
	"nucleus/bounds"
	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/mem"
	"nucleus/paging"
	"nucleus/res"
)

// UserPtr names a range of user virtual memory within a particular
// AddressSpace, the way the teacher's Userbuf_t did, but stateless: it
// carries no cursor, so a single value can back repeated copy_in/copy_out
// calls at different offsets the way spec.md's syscall layer needs
// (is_user_range, copyinstr, copyout all operate on one named range).
type UserPtr struct {
	AS  *AddressSpace
	Va  uintptr
	Len int
}

// IsUserRange reports whether [va, va+n) lies entirely within mapped
// regions of as (spec.md §4.7 is_user_range). It does not fault in COW
// pages; it only checks that the pages are covered by some Region.
func (as *AddressSpace) IsUserRange(va uintptr, n int) bool {
	as.Lock()
	defer as.Unlock()
	if n <= 0 {
		return n == 0
	}
	end := va + uintptr(n)
	for cur := roundDownPage(va); cur < end; cur += uintptr(mem.PGSIZE) {
		if _, ok := as.findRegion(cur); !ok {
			return false
		}
	}
	return true
}

// byteAt returns the mapped byte slice covering va through the end of its
// page, resolving a COW fault first if the access is a write to a
// copy-on-write page. It mirrors the teacher's Userdmap8_inner.
func (as *AddressSpace) byteAt(va uintptr, write bool) ([]byte, defs.Err_t) {
	page := roundDownPage(va)
	r, ok := as.findRegion(page)
	if !ok {
		return nil, -defs.EFAULT
	}
	if r.Prot == 0 {
		return nil, -defs.EFAULT
	}
	pte, ok := paging.GetEntry(as.pd, page)
	if !ok {
		return nil, -defs.EFAULT
	}
	if write {
		writable := pte&mem.PTE_W != 0
		iscow := pte&mem.PTE_COW != 0
		if !writable && iscow {
			if err := as.handleFaultLocked(va, FaultWrite|FaultPresent); err != 0 {
				return nil, err
			}
			pte, _ = paging.GetEntry(as.pd, page)
		} else if !writable {
			return nil, -defs.EFAULT
		}
	}
	p := pte & mem.PTE_ADDR
	off := va & uintptr(mem.PGOFFSET)
	buf := mem.Physmem.Dmap8(p)
	return buf[off:], 0
}

// CopyOut copies src into user memory starting at p.Va (spec.md §4.7
// copyout). The copy may span multiple pages, each resolved and possibly
// COW-faulted independently. Each chunk is admitted against package res's
// scratch-heap budget first (bounds.B_ASPACE_T_K2USER_INNER), the same
// ENOHEAP backpressure the teacher's Aspace_t.K2user_inner applies.
func (p UserPtr) CopyOut(src []byte) defs.Err_t {
	p.AS.Lock()
	defer p.AS.Unlock()
	cost := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
	off := 0
	for off < len(src) {
		if !res.Resadd_noblock(cost) {
			return -defs.ENOHEAP
		}
		dst, err := p.AS.byteAt(p.Va+uintptr(off), true)
		if err != 0 {
			res.Resdel(cost)
			return err
		}
		n := copy(dst, src[off:])
		if n == 0 {
			res.Resdel(cost)
			return -defs.EFAULT
		}
		off += n
		res.Resdel(cost)
	}
	return 0
}

// CopyIn copies len(dst) bytes from user memory starting at p.Va into dst
// (spec.md §4.7 "the kernel never dereferences raw user pointers beyond
// the validated copy"). Each chunk is admitted against the same scratch-
// heap budget as CopyOut (bounds.B_ASPACE_T_USER2K_INNER), mirroring the
// teacher's Aspace_t.User2k_inner.
func (p UserPtr) CopyIn(dst []byte) defs.Err_t {
	p.AS.Lock()
	defer p.AS.Unlock()
	cost := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
	off := 0
	for off < len(dst) {
		if !res.Resadd_noblock(cost) {
			return -defs.ENOHEAP
		}
		src, err := p.AS.byteAt(p.Va+uintptr(off), false)
		if err != 0 {
			res.Resdel(cost)
			return err
		}
		n := copy(dst[off:], src)
		if n == 0 {
			res.Resdel(cost)
			return -defs.EFAULT
		}
		off += n
		res.Resdel(cost)
	}
	return 0
}

// CopyInString copies a NUL-terminated string from user memory, up to
// max bytes, into a kernel-owned buffer (spec.md §4.7 copyinstr).
func (p UserPtr) CopyInString(max int) (string, defs.Err_t) {
	p.AS.Lock()
	defer p.AS.Unlock()
	buf := make([]byte, 0, 64)
	off := 0
	for {
		src, err := p.AS.byteAt(p.Va+uintptr(off), false)
		if err != 0 {
			return "", err
		}
		for _, c := range src {
			if c == 0 {
				return string(buf), 0
			}
			buf = append(buf, c)
			if len(buf) > max {
				return "", -defs.ENAMETOOLONG
			}
		}
		off += len(src)
	}
}

// UserIO adapts a UserPtr into fdops.Userio_i, the cursor-based transfer
// interface the VFS layer (package fs) and circbuf move bytes through, so
// the syscall layer can hand a raw user buffer straight to OpenFile.Read/
// Write without the VFS layer knowing it is talking to user memory at all
// (spec.md §4.7's "the kernel never dereferences raw user pointers beyond
// the validated copy" is enforced by UserPtr underneath).
type UserIO struct {
	Ptr UserPtr
	pos int
}

// NewUserIO wraps p for transfer starting at its base address.
func NewUserIO(p UserPtr) *UserIO {
	return &UserIO{Ptr: p}
}

// Uioread copies FROM user memory into dst (used when the kernel reads a
// buffer the user passed to write(2)).
func (u *UserIO) Uioread(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if rem := u.Ptr.Len - u.pos; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, 0
	}
	if err := (UserPtr{AS: u.Ptr.AS, Va: u.Ptr.Va + uintptr(u.pos), Len: n}).CopyIn(dst[:n]); err != 0 {
		return 0, err
	}
	u.pos += n
	return n, 0
}

// Uiowrite copies src INTO user memory (used when the kernel satisfies a
// read(2) into a buffer the user passed).
func (u *UserIO) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if rem := u.Ptr.Len - u.pos; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, 0
	}
	if err := (UserPtr{AS: u.Ptr.AS, Va: u.Ptr.Va + uintptr(u.pos), Len: n}).CopyOut(src[:n]); err != 0 {
		return 0, err
	}
	u.pos += n
	return n, 0
}

func (u *UserIO) Remain() int  { return u.Ptr.Len - u.pos }
func (u *UserIO) Totalsz() int { return u.Ptr.Len }
