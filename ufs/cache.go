package ufs

import "sync"

// Cache is a block cache keyed by block number: exactly the role the
// teacher split across a generic eviction-cache package and fs/blk.go's
// Block_cb_i callback (spec.md §67 buffer cache: "(device, block) →
// cached buffer with dirty flag"). Evicting a clean block just drops it;
// evicting a dirty one writes it back first.
type Cache struct {
	mu    sync.Mutex
	mem   Blockmem_i
	disk  Disk_i
	cap   int
	blks  map[int]*Bdev_block_t
	dirty map[int]bool
	lru   []int
}

// NewCache builds a cache of at most capacity blocks over disk, drawing
// buffer memory from mem.
func NewCache(mem Blockmem_i, disk Disk_i, capacity int) *Cache {
	return &Cache{
		mem:   mem,
		disk:  disk,
		cap:   capacity,
		blks:  map[int]*Bdev_block_t{},
		dirty: map[int]bool{},
	}
}

func (c *Cache) touch(block int) {
	for i, b := range c.lru {
		if b == block {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	c.lru = append(c.lru, block)
}

// Get returns the cached block, reading it from disk on a miss and
// evicting the least-recently-used clean-or-flushed block if the cache
// is full.
func (c *Cache) Get(block int) *Bdev_block_t {
	c.mu.Lock()
	if b, ok := c.blks[block]; ok {
		c.touch(block)
		c.mu.Unlock()
		return b
	}
	c.mu.Unlock()

	b := MkBlock_newpage(block, "", c.mem, c.disk, c)
	b.Read()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blks[block]; ok {
		b.Free_page()
		c.touch(block)
		return existing
	}
	c.evictIfFullLocked()
	c.blks[block] = b
	c.touch(block)
	return b
}

func (c *Cache) evictIfFullLocked() {
	if c.cap <= 0 || len(c.blks) < c.cap {
		return
	}
	for i, victim := range c.lru {
		if c.dirty[victim] {
			continue
		}
		b := c.blks[victim]
		delete(c.blks, victim)
		delete(c.dirty, victim)
		c.lru = append(c.lru[:i], c.lru[i+1:]...)
		b.Free_page()
		return
	}
	// every block dirty: write back the oldest and evict it.
	victim := c.lru[0]
	b := c.blks[victim]
	b.Write()
	delete(c.blks, victim)
	delete(c.dirty, victim)
	c.lru = c.lru[1:]
	b.Free_page()
}

// MarkDirty records that block's contents have been modified in-place
// and must be written back before eviction.
func (c *Cache) MarkDirty(block int) {
	c.mu.Lock()
	c.dirty[block] = true
	c.mu.Unlock()
}

// Relse implements Block_cb_i: writes the block back if it was marked
// dirty. Grounded on the teacher's Done(s string)/Cb.Relse contract in
// fs/blk.go, simplified to write-through-on-release rather than
// log-coalesced writeback (spec.md's tmpfs is the canonical backend; the
// log is explicitly a disk-filesystem-only concern, out of this cache's
// scope).
func (c *Cache) Relse(b *Bdev_block_t, reason string) {
	c.mu.Lock()
	dirty := c.dirty[b.Block]
	c.mu.Unlock()
	if dirty {
		b.Write()
		c.mu.Lock()
		delete(c.dirty, b.Block)
		c.mu.Unlock()
	}
}

// Sync writes back every dirty block.
func (c *Cache) Sync() {
	c.mu.Lock()
	dirty := make([]int, 0, len(c.dirty))
	for block := range c.dirty {
		dirty = append(dirty, block)
	}
	c.mu.Unlock()
	for _, block := range dirty {
		c.mu.Lock()
		b, ok := c.blks[block]
		c.mu.Unlock()
		if !ok {
			continue
		}
		b.Write()
		c.mu.Lock()
		delete(c.dirty, block)
		c.mu.Unlock()
	}
}
