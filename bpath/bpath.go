// Package bpath canonicalizes and tokenizes kernel path strings (ustr.Ustr).
//
// The teacher (biscuit) ships bpath as an empty module — fd.Cwd_t's
// Canonicalpath already calls bpath.Canonicalize, but the
// implementation never made it into the retrieved fragment. This fills
// that gap, grounded on the call shape the teacher already expects and on
// original_source's path handling in sys/src/libfs/vfs.c.
package bpath

import "nucleus/ustr"

// Canonicalize collapses "." and ".." components and repeated slashes in
// an absolute path, without touching the filesystem (no symlink following
// here — that's path resolution's job, §4.6.1). The result always begins
// with '/'.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := Split(p)
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case len(c) == 0:
			continue
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	return Join(out)
}

// Split breaks a path into its non-empty components, ignoring any number
// of consecutive slashes.
func Split(p ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	start := -1
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if start >= 0 {
				comps = append(comps, p[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	return comps
}

// Join reassembles path components into an absolute path.
func Join(comps []ustr.Ustr) ustr.Ustr {
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	out := ustr.MkUstr()
	for _, c := range comps {
		out = append(out, '/')
		out = append(out, c...)
	}
	return out
}

// Dir returns all but the last component of p, as an absolute path.
func Dir(p ustr.Ustr) ustr.Ustr {
	comps := Split(Canonicalize(p))
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return Join(comps[:len(comps)-1])
}

// Base returns the last component of p.
func Base(p ustr.Ustr) ustr.Ustr {
	comps := Split(Canonicalize(p))
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return comps[len(comps)-1]
}
