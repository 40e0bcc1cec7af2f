// diskfs.go registers ufs's block cache as a second, disk-backed
// filesystem type with package fs's registry (SPEC_FULL.md §C: the VFS
// registry gets a non-tmpfs backend to mount, exercising its
// multi-filesystem contract rather than leaving tmpfs the only one it
// ever dispatches to).
//
// There is no on-disk inode/directory format here (see this package's
// doc comment), so the mountable image is the flat layout cmd/mkfs
// produces: a superblock, a manifest of {path, block, size} records, and
// file contents packed block-aligned after it. The result is a
// read-only, single-directory filesystem — writes, subdirectories, and
// link counts are all out of scope for what a flat manifest can
// represent, matching original_source's own blkalloc.c+inode.c, which
// spec.md's distillation left abstract and this package exists to make
// concrete without inventing a format original_source never specified.
package ufs

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"nucleus/defs"
	"nucleus/fdops"
	"nucleus/fs"
)

const fsName = "ufs"

// manifestEntry mirrors one line cmd/mkfs's manifest writer emits.
type manifestEntry struct {
	path  string
	block int
	size  int
}

// diskfsMount is a mounted image's backend state, reached from every
// vnode minted under it via Vnode.Priv.
type diskfsMount struct {
	mu      sync.Mutex
	disk    *FileDisk
	cache   *Cache
	entries []manifestEntry
}

// diskfsNode is one vnode's backend-private payload: either the mount's
// flat root directory (dir == true) or a single manifest entry.
type diskfsNode struct {
	mount *diskfsMount
	dir   bool
	entry manifestEntry
}

var diskfsOps = &fs.VnodeOps{
	Read:    diskfsRead,
	Size:    diskfsSize,
	Readdir: diskfsReaddir,
	Lookup:  diskfsLookup,
	Getattr: diskfsGetattr,
}

// Register installs this package's disk-backed filesystem with package
// fs's registry under the name "ufs".
func Register() error {
	return fs.Register(&fs.FSType{
		Name:    fsName,
		Mount:   diskfsMount_,
		Unmount: diskfsUnmount,
		Statfs:  diskfsStatfs,
		Sync:    diskfsSync,
	})
}

func diskfsMount_(device string, data interface{}) (*fs.Vnode, defs.Err_t) {
	disk, nblocks, err := OpenExistingFileDisk(device)
	if err != nil {
		return nil, -defs.ENOTFOUND
	}
	cache := NewCache(PmmBlockmem{}, disk, nblocks)

	sbBlk := cache.Get(0)
	sb := &Superblock_t{Data: sbBlk.Data}
	manifestBlocks := sb.Inodelen()

	var raw bytes.Buffer
	for b := 1; b < 1+manifestBlocks; b++ {
		raw.Write(cache.Get(b).Data[:])
	}
	entries, perr := parseManifest(raw.Bytes())
	if perr != nil {
		disk.Close()
		return nil, -defs.EINVAL
	}

	m := &diskfsMount{disk: disk, cache: cache, entries: entries}
	root := &diskfsNode{mount: m, dir: true}
	v := fs.NewVnode(nil, fs.VDIR, diskfsOps, 1)
	v.Mode = defs.S_IFDIR | 0o555
	v.Priv = root
	return v, 0
}

// parseManifest decodes cmd/mkfs's "path block size\n" lines, stopping
// at the first blank/NUL-padded line (the manifest region is zero-filled
// past its actual content).
func parseManifest(raw []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\x00")
		if line == "" {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("ufs: malformed manifest line %q", line)
		}
		block, berr := strconv.Atoi(fields[1])
		if berr != nil {
			return nil, berr
		}
		size, serr := strconv.Atoi(fields[2])
		if serr != nil {
			return nil, serr
		}
		entries = append(entries, manifestEntry{path: fields[0], block: block, size: size})
	}
	return entries, sc.Err()
}

func diskfsUnmount(root *fs.Vnode) defs.Err_t {
	n := root.Priv.(*diskfsNode)
	n.mount.disk.Close()
	return 0
}

func diskfsStatfs(root *fs.Vnode) (fs.Statfs_t, defs.Err_t) {
	n := root.Priv.(*diskfsNode)
	return fs.Statfs_t{Files: uint64(len(n.mount.entries))}, 0
}

func diskfsSync(root *fs.Vnode) defs.Err_t {
	n := root.Priv.(*diskfsNode)
	n.mount.cache.Sync()
	return 0
}

func diskfsLookup(v *fs.Vnode, name string) (*fs.Vnode, defs.Err_t) {
	n := v.Priv.(*diskfsNode)
	if !n.dir {
		return nil, -defs.ENOTDIR
	}
	for i, e := range n.mount.entries {
		if e.path == name {
			nv := fs.NewVnode(v.Mount, fs.VREG, diskfsOps, i+2)
			nv.Mode = defs.S_IFREG | 0o444
			nv.Priv = &diskfsNode{mount: n.mount, entry: e}
			return nv, 0
		}
	}
	return nil, -defs.ENOTFOUND
}

func diskfsReaddir(v *fs.Vnode) ([]fs.Dirent_t, defs.Err_t) {
	n := v.Priv.(*diskfsNode)
	if !n.dir {
		return nil, -defs.ENOTDIR
	}
	out := make([]fs.Dirent_t, len(n.mount.entries))
	for i, e := range n.mount.entries {
		out[i] = fs.Dirent_t{Name: e.path, Ino: i + 2, Type: fs.VREG}
	}
	return out, 0
}

func diskfsGetattr(v *fs.Vnode, st fdops.Statable_i) defs.Err_t {
	n := v.Priv.(*diskfsNode)
	st.Wino(uint(v.Ino))
	st.Wmode(v.Mode)
	if n.dir {
		st.Wsize(0)
	} else {
		st.Wsize(uint(n.entry.size))
	}
	return 0
}

func diskfsSize(v *fs.Vnode) int {
	n := v.Priv.(*diskfsNode)
	if n.dir {
		return 0
	}
	return n.entry.size
}

// diskfsRead spans as many blocks as the read needs, starting at the
// entry's block plus off/BSIZE, exactly the layout cmd/mkfs laid files
// out in.
func diskfsRead(v *fs.Vnode, dst fdops.Userio_i, off int) (int, defs.Err_t) {
	n := v.Priv.(*diskfsNode)
	if n.dir {
		return 0, -defs.EISDIR
	}
	if off >= n.entry.size {
		return 0, 0
	}
	avail := n.entry.size - off
	want := dst.Remain()
	if want > avail {
		want = avail
	}
	buf := make([]byte, want)
	start := n.entry.block*BSIZE + off
	n.mount.mu.Lock()
	for got := 0; got < want; {
		blockno := (start + got) / BSIZE
		blockoff := (start + got) % BSIZE
		b := n.mount.cache.Get(blockno)
		n2 := copy(buf[got:], b.Data[blockoff:])
		got += n2
	}
	n.mount.mu.Unlock()
	return dst.Uiowrite(buf)
}
