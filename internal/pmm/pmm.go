// Package pmm simulates the physical-page allocator and high-half
// direct map (HHDM) that spec.md places out of scope and names only
// by its contract ("exposes a page allocator and a high-half-direct-map
// allocator"). It is grounded on the teacher's mem.Physmem_t
// (biscuit/src/mem/mem.go): a slice of per-frame reference counts
// protected by one lock, a singly linked free list threaded through
// the slice itself, and a Dmap-style accessor that turns a physical
// frame number into a byte slice the kernel can read and write
// directly — the Go stand-in for "all of physical memory is always
// mapped at a fixed virtual offset".
package pmm

import (
	"fmt"

	"astralkernel/kconfig"
	"astralkernel/kernel"
)

// Frame identifies one physical page by its frame number (not a byte
// address); callers scale by PageSize themselves, matching the
// teacher's Pa_t/PGSHIFT split in mem/mem.go.
type Frame uint64

type frameInfo struct {
	refcnt int32
	nexti  uint32
	inUse  bool
}

const noNext = ^uint32(0)

// Allocator is the physical-frame allocator and HHDM. The zero value
// is not usable; construct with New.
type Allocator struct {
	mu    kernel.SpinLock
	pages [][]byte // backing storage for each frame, indexed like frames
	info  []frameInfo
	freei uint32
	free  int
}

// New reserves npages physical frames backing the simulated HHDM.
func New(npages int) *Allocator {
	a := &Allocator{
		pages: make([][]byte, npages),
		info:  make([]frameInfo, npages),
		freei: 0,
		free:  npages,
	}
	for i := range a.pages {
		a.pages[i] = make([]byte, kconfig.PageSize)
	}
	for i := 0; i < npages; i++ {
		if i == npages-1 {
			a.info[i].nexti = noNext
		} else {
			a.info[i].nexti = uint32(i + 1)
		}
	}
	return a
}

// Alloc returns a fresh, zeroed physical frame with refcount 1.
func (a *Allocator) Alloc() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freei == noNext {
		return 0, false
	}
	idx := a.freei
	a.freei = a.info[idx].nexti
	a.free--
	a.info[idx] = frameInfo{refcnt: 1, nexti: noNext, inUse: true}
	for i := range a.pages[idx] {
		a.pages[idx][i] = 0
	}
	return Frame(idx), true
}

// Refup increments a frame's reference count (used when a PTE is
// shared, e.g. a COW page referenced by both parent and child).
func (a *Allocator) Refup(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.info[f].inUse {
		panic(fmt.Sprintf("pmm: refup on free frame %d", f))
	}
	a.info[f].refcnt++
}

// Refcnt reports a frame's current reference count.
func (a *Allocator) Refcnt(f Frame) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.info[f].refcnt)
}

// Refdown decrements a frame's reference count, freeing it back to
// the free list when the count reaches zero. Returns true if freed.
func (a *Allocator) Refdown(f Frame) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.info[f].inUse {
		panic(fmt.Sprintf("pmm: refdown on free frame %d", f))
	}
	a.info[f].refcnt--
	if a.info[f].refcnt > 0 {
		return false
	}
	if a.info[f].refcnt < 0 {
		panic(fmt.Sprintf("pmm: negative refcount on frame %d", f))
	}
	a.info[f] = frameInfo{nexti: a.freei}
	a.freei = uint32(f)
	a.free++
	return true
}

// Bytes returns the HHDM view of a frame: a byte slice the caller may
// read and write directly, standing in for "all of physical memory is
// mapped at a fixed virtual offset".
func (a *Allocator) Bytes(f Frame) []byte {
	return a.pages[f]
}

// Free reports the number of unallocated frames remaining.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free
}

// HHDMAlloc allocates n HHDM-backed pages (one frame at a time from
// the free list, so not necessarily contiguous) for kernel-only
// structures that are not part of any address space's mapping list —
// the mapping-cache slabs (vm) and kernel thread stacks (sched), both
// of which the source obtains from pmm_hhdmalloc rather than vmm_alloc.
func (a *Allocator) HHDMAlloc(n int) ([][]byte, []Frame, bool) {
	frames := make([]Frame, 0, n)
	bufs := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		f, ok := a.Alloc()
		if !ok {
			for _, got := range frames {
				a.Refdown(got)
			}
			return nil, nil, false
		}
		frames = append(frames, f)
		bufs = append(bufs, a.Bytes(f))
	}
	return bufs, frames, true
}

// HHDMFree releases pages obtained from HHDMAlloc.
func (a *Allocator) HHDMFree(frames []Frame) {
	for _, f := range frames {
		a.Refdown(f)
	}
}
