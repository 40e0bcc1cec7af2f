package ufs

import (
	"fmt"
	"os"
	"sync"
)

// RamDisk is an in-memory Disk_i backing store, used by tests and by any
// caller that wants a disk without touching the filesystem (grounded on
// the teacher's driver.go ahci_disk_t, minus the os.File plumbing).
type RamDisk struct {
	mu     sync.Mutex
	blocks [][BSIZE]byte
	reads  int
	writes int
}

// NewRamDisk allocates a zero-filled disk of nblocks blocks.
func NewRamDisk(nblocks int) *RamDisk {
	return &RamDisk{blocks: make([][BSIZE]byte, nblocks)}
}

func (d *RamDisk) Start(req *Bdev_req_t) bool {
	d.mu.Lock()
	switch req.Cmd {
	case BDEV_READ:
		req.Blks.Apply(func(b *Bdev_block_t) {
			if b.Block < 0 || b.Block >= len(d.blocks) {
				panic(fmt.Sprintf("ufs: ramdisk read out of range: %d", b.Block))
			}
			copy(b.Data[:], d.blocks[b.Block][:])
			d.reads++
		})
	case BDEV_WRITE:
		req.Blks.Apply(func(b *Bdev_block_t) {
			if b.Block < 0 || b.Block >= len(d.blocks) {
				panic(fmt.Sprintf("ufs: ramdisk write out of range: %d", b.Block))
			}
			copy(d.blocks[b.Block][:], b.Data[:])
			d.writes++
		})
	case BDEV_FLUSH:
	}
	d.mu.Unlock()
	req.AckCh <- true
	return true
}

func (d *RamDisk) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("ramdisk: %d blocks, %d reads, %d writes", len(d.blocks), d.reads, d.writes)
}

// FileDisk is a Disk_i backed by a real file on the host filesystem,
// the way the teacher's ahci_disk_t backed onto an AHCI-mapped image
// file via os.File (driver.go), adapted from a fixed hardware register
// interface to the plain Disk_i contract every caller here uses.
type FileDisk struct {
	mu     sync.Mutex
	f      *os.File
	reads  int
	writes int
}

// OpenExistingFileDisk opens an already-formatted disk image without
// resizing it, returning the block count its size implies. Used to mount
// an image a previous OpenFileDisk/mkfs run produced, where the caller
// doesn't know nblocks ahead of reading the superblock.
func OpenExistingFileDisk(path string) (*FileDisk, int, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("ufs: open disk image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("ufs: stat disk image: %w", err)
	}
	return &FileDisk{f: f}, int(info.Size() / int64(BSIZE)), nil
}

// OpenFileDisk opens (creating if necessary) a disk image backed by a
// regular file, sized to hold at least nblocks blocks.
func OpenFileDisk(path string, nblocks int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("ufs: open disk image: %w", err)
	}
	if err := f.Truncate(int64(nblocks) * int64(BSIZE)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ufs: size disk image: %w", err)
	}
	return &FileDisk{f: f}, nil
}

func (d *FileDisk) Start(req *Bdev_req_t) bool {
	d.mu.Lock()
	req.Blks.Apply(func(b *Bdev_block_t) {
		off := int64(b.Block) * int64(BSIZE)
		switch req.Cmd {
		case BDEV_READ:
			if _, err := d.f.ReadAt(b.Data[:], off); err != nil {
				panic(fmt.Sprintf("ufs: file disk read: %v", err))
			}
			d.reads++
		case BDEV_WRITE:
			if _, err := d.f.WriteAt(b.Data[:], off); err != nil {
				panic(fmt.Sprintf("ufs: file disk write: %v", err))
			}
			d.writes++
		case BDEV_FLUSH:
			d.f.Sync()
		}
	})
	d.mu.Unlock()
	req.AckCh <- true
	return true
}

func (d *FileDisk) Stats() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("filedisk: %d reads, %d writes", d.reads, d.writes)
}

func (d *FileDisk) Close() error {
	return d.f.Close()
}
