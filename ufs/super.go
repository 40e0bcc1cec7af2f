package ufs

import "nucleus/mem"

// Superblock_t is block 0 of a ufs disk: geometry for an on-disk
// inode/log layout, stored as eight 8-byte little-endian fields
// (grounded on the teacher's fs/super.go accessor shape; fieldr/fieldw
// themselves never shipped in this fragment and are defined below).
type Superblock_t struct {
	Data *mem.Bytepg_t
}

func fieldr(d *mem.Bytepg_t, field int) int {
	off := field * 8
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(d[off+i]) << (8 * uint(i))
	}
	return int(v)
}

func fieldw(d *mem.Bytepg_t, field int, v int) {
	off := field * 8
	u := uint64(v)
	for i := 0; i < 8; i++ {
		d[off+i] = uint8(u >> (8 * uint(i)))
	}
}

func (sb *Superblock_t) Loglen() int         { return fieldr(sb.Data, 0) }
func (sb *Superblock_t) Iorphanblock() int   { return fieldr(sb.Data, 1) }
func (sb *Superblock_t) Iorphanlen() int     { return fieldr(sb.Data, 2) }
func (sb *Superblock_t) Imaplen() int        { return fieldr(sb.Data, 3) }
func (sb *Superblock_t) Freeblock() int      { return fieldr(sb.Data, 4) }
func (sb *Superblock_t) Freeblocklen() int   { return fieldr(sb.Data, 5) }
func (sb *Superblock_t) Inodelen() int       { return fieldr(sb.Data, 6) }
func (sb *Superblock_t) Lastblock() int      { return fieldr(sb.Data, 7) }

func (sb *Superblock_t) SetLoglen(ll int)       { fieldw(sb.Data, 0, ll) }
func (sb *Superblock_t) SetIorphanblock(n int)  { fieldw(sb.Data, 1, n) }
func (sb *Superblock_t) SetIorphanlen(n int)    { fieldw(sb.Data, 2, n) }
func (sb *Superblock_t) SetImaplen(n int)       { fieldw(sb.Data, 3, n) }
func (sb *Superblock_t) SetFreeblock(n int)     { fieldw(sb.Data, 4, n) }
func (sb *Superblock_t) SetFreeblocklen(n int)  { fieldw(sb.Data, 5, n) }
func (sb *Superblock_t) SetInodelen(n int)      { fieldw(sb.Data, 6, n) }
func (sb *Superblock_t) SetLastblock(n int)     { fieldw(sb.Data, 7, n) }

// MkSuperblock formats a fresh superblock into d describing a disk with
// nblocks total blocks, reserving loglen blocks for the log, then one
// orphan block, one inode-map block, and inodelen blocks for inodes.
func MkSuperblock(d *mem.Bytepg_t, nblocks, loglen, inodelen int) *Superblock_t {
	sb := &Superblock_t{Data: d}
	sb.SetLoglen(loglen)
	sb.SetIorphanblock(1 + loglen)
	sb.SetIorphanlen(1)
	imaplen := 1
	sb.SetImaplen(imaplen)
	sb.SetInodelen(inodelen)
	freeblock := 1 + loglen + 1 + imaplen + inodelen
	sb.SetFreeblock(freeblock)
	freeblocklen := 1
	sb.SetFreeblocklen(freeblocklen)
	sb.SetLastblock(nblocks - 1)
	return sb
}
