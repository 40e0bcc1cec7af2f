// Command mkfs builds ufs disk image fixtures: a superblock followed by a
// flat file region, formatted and populated through the real ufs block
// cache and disk abstractions (ufs.Cache, ufs.FileDisk, ufs.Superblock_t)
// rather than a host-side byte-slice writer, so an image produced here
// exercises the same Get/MarkDirty/Sync path ufs_test.go's fixtures do.
//
// There is no on-disk inode/directory layout in this repo (tmpfs is the
// canonical VFS backend, not a disk filesystem — see DESIGN.md's ufs
// entry), so skeleton files are packed flat, each into a block-aligned
// run, with their relative paths and extents recorded in a plain-text
// manifest occupying the reserved block range right after the
// superblock.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nucleus/mem"
	"nucleus/pmm"
	"nucleus/ufs"
)

// cacheCapacity is the number of blocks ufs.Cache keeps resident while
// mkfs writes; large enough that a typical skeleton directory never
// forces an eviction mid-format.
const cacheCapacity = 256

// manifestBlocks reserves space for the flat-file manifest text right
// after the superblock; format fails rather than silently truncating it
// if a skeleton directory's entry count overflows it.
const manifestBlocks = 4

type fileEntry struct {
	rel   string
	block int
	size  int
}

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("Usage: mkfs <output image> <skel dir>\n")
		os.Exit(1)
	}
	image, skeldir := os.Args[1], os.Args[2]

	a, err := pmm.Init([]pmm.MemRegion{{Base: 0, Length: 64 * 1024 * 1024, Type: pmm.Usable}}, 0)
	if err != nil {
		fatalf("pmm.Init: %v", err)
	}
	mem.Init(a)

	var paths []string
	if err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		fatalf("walk %q: %v", skeldir, err)
	}

	dataStart := 1 + manifestBlocks
	entries := make([]fileEntry, 0, len(paths))
	block := dataStart
	for _, path := range paths {
		info, serr := os.Stat(path)
		if serr != nil {
			fatalf("stat %q: %v", path, serr)
		}
		rel := filepath.ToSlash(strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(os.PathSeparator)))
		nblks := (int(info.Size()) + ufs.BSIZE - 1) / ufs.BSIZE
		if nblks == 0 {
			nblks = 1
		}
		entries = append(entries, fileEntry{rel: rel, block: block, size: int(info.Size())})
		block += nblks
	}
	nblocks := block

	disk, err := ufs.OpenFileDisk(image, nblocks)
	if err != nil {
		fatalf("%v", err)
	}
	defer disk.Close()

	cache := ufs.NewCache(ufs.PmmBlockmem{}, disk, cacheCapacity)

	// Only Loglen/Inodelen/Freeblock/Freeblocklen/Lastblock carry meaning
	// for this flat-file format; Inodelen is repurposed as the manifest
	// region's length in blocks. Iorphan*/Imaplen stay zero: there is no
	// log or inode map here to describe.
	sb := &ufs.Superblock_t{Data: &mem.Bytepg_t{}}
	sb.SetLoglen(0)
	sb.SetInodelen(manifestBlocks)
	sb.SetFreeblock(dataStart)
	sb.SetFreeblocklen(nblocks - dataStart)
	sb.SetLastblock(nblocks - 1)
	sbBlk := cache.Get(0)
	*sbBlk.Data = *sb.Data
	cache.MarkDirty(0)

	var manifest strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&manifest, "%s %d %d\n", e.rel, e.block, e.size)
	}
	if manifest.Len() > manifestBlocks*ufs.BSIZE {
		fatalf("manifest (%d bytes) overflows %d reserved block(s)", manifest.Len(), manifestBlocks)
	}
	writeSpanned(cache, 1, []byte(manifest.String()))

	for _, e := range entries {
		data, rerr := os.ReadFile(filepath.Join(skeldir, e.rel))
		if rerr != nil {
			fatalf("read %q: %v", e.rel, rerr)
		}
		writeSpanned(cache, e.block, data)
	}

	cache.Sync()
	fmt.Printf("mkfs: wrote %s: %d block(s), %d file(s)\n", image, nblocks, len(entries))
}

// writeSpanned copies data into the cache starting at block start,
// spilling into as many subsequent blocks as needed.
func writeSpanned(cache *ufs.Cache, start int, data []byte) {
	for off := 0; off < len(data); off += ufs.BSIZE {
		blockno := start + off/ufs.BSIZE
		end := off + ufs.BSIZE
		if end > len(data) {
			end = len(data)
		}
		b := cache.Get(blockno)
		copy(b.Data[:], data[off:end])
		cache.MarkDirty(blockno)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "mkfs: "+format+"\n", args...)
	os.Exit(1)
}
