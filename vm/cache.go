package vm

import (
	"unsafe"

	"astralkernel/internal/pmm"
	"astralkernel/kernel"
)

// slab is a page-sized container of Mapping descriptors (spec §3
// "Mapping cache"). The descriptor array itself is an ordinary Go
// array embedded in the slab struct (Go's non-moving GC already gives
// descriptor pointers the stability the source gets from never
// realloc'ing the HHDM page); each slab additionally claims one HHDM
// frame purely for accounting fidelity with the source's
// pmm_hhdmalloc(1) call in newcache(), matching the "page-sized
// backing" the spec's Mapping cache describes.
type slab struct {
	kernel.SpinLock
	freeCount int
	firstFree int
	next      *slab
	frame     pmm.Frame
	slots     []Mapping
}

// Cache is the mapping-cache allocator: alloc_mapping/free_mapping
// (spec §4.1), grounded on the source's allocentry/freeentry/
// allocatefirst/newcache.
type Cache struct {
	mu      kernel.SpinLock // serializes extending the slab chain
	pmm     *pmm.Allocator
	perSlab int
	head    *slab
	tail    *slab
}

// NewCache creates a mapping cache with perSlab descriptors per slab,
// backed by alloc for its HHDM pages.
func NewCache(alloc *pmm.Allocator, perSlab int) *Cache {
	c := &Cache{pmm: alloc, perSlab: perSlab}
	s := c.newSlabLocked()
	c.head = s
	c.tail = s
	return c
}

func (c *Cache) newSlabLocked() *slab {
	_, frames, ok := c.pmm.HHDMAlloc(1)
	if !ok {
		return nil
	}
	return &slab{
		freeCount: c.perSlab,
		firstFree: 0,
		frame:     frames[0],
		slots:     make([]Mapping, c.perSlab),
	}
}

// allocEntry scans s from its firstFree hint for a free slot, claims
// it, and returns the descriptor. Mirrors the source's allocentry().
func allocEntry(s *slab) *Mapping {
	s.Lock()
	defer s.Unlock()
	if s.freeCount == 0 {
		return nil
	}
	for i := s.firstFree; i < len(s.slots); i++ {
		if s.slots[i].cache == nil {
			s.slots[i].cache = s
			s.firstFree = i
			s.freeCount--
			return &s.slots[i]
		}
	}
	return nil
}

// Alloc walks the slab chain looking for a free descriptor,
// allocating a fresh slab from the HHDM page allocator if every
// existing slab is full. Mirrors allocatefirst().
func (c *Cache) Alloc() *Mapping {
	for s := c.head; s != nil; s = s.next {
		if m := allocEntry(s); m != nil {
			return m
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the chain lock: another Alloc may have already
	// appended a slab with room while we were scanning.
	for s := c.tail; s != nil; s = s.next {
		if m := allocEntry(s); m != nil {
			return m
		}
	}
	ns := c.newSlabLocked()
	if ns == nil {
		return nil
	}
	c.tail.next = ns
	c.tail = ns
	return allocEntry(ns)
}

// Free zeroes and releases a descriptor back to its slab, lowering the
// firstFree hint when the freed slot precedes it. Mirrors freeentry().
func (c *Cache) Free(m *Mapping) {
	s := m.cache
	s.Lock()
	defer s.Unlock()
	idx := slotIndex(s, m)
	*m = Mapping{}
	s.freeCount++
	if idx < s.firstFree {
		s.firstFree = idx
	}
}

func slotIndex(s *slab, m *Mapping) int {
	base := unsafe.Pointer(&s.slots[0])
	p := unsafe.Pointer(m)
	return int((uintptr(p) - uintptr(base)) / unsafe.Sizeof(Mapping{}))
}
