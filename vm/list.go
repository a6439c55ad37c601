package vm

import (
	"astralkernel/internal/mmu"
	"astralkernel/kconfig"
	"astralkernel/kernel"
)

// List is a totally ordered doubly-linked list of mappings tiling one
// half of the canonical address space with no gaps and no overlaps
// (spec §3 invariant 1). It owns its own lock: one List instance
// backs each user context's user-half list, and one singleton List
// backs the process-wide kernel half (spec §3 "Address-space
// context").
type List struct {
	kernel.SpinLock
	head  *Mapping
	cache *Cache
}

// NewList creates a list covering [start, end] (inclusive) as a
// single FREE mapping, the shape vmm_newcontext / vmm_init give a
// fresh half of the address space.
func NewList(cache *Cache, start, end uintptr) *List {
	l := &List{cache: cache}
	m := cache.Alloc()
	if m == nil {
		kernel.Panic("vm: out of mapping descriptors initializing list", nil)
	}
	m.Start = start
	m.End = end
	m.Type = Free
	l.head = m
	return l
}

// Head returns the first mapping in the list (for tests/inspection).
func (l *List) Head() *Mapping {
	l.Lock()
	defer l.Unlock()
	return l.head
}

// Lookup returns the mapping covering addr, mirroring
// findmappingfromaddr.
func (l *List) Lookup(addr uintptr) *Mapping {
	l.Lock()
	defer l.Unlock()
	return l.lookupLocked(addr)
}

func (l *List) lookupLocked(addr uintptr) *Mapping {
	m := l.head
	for m != nil && !(addr >= m.Start && addr <= m.End) {
		m = m.Next
	}
	return m
}

// findFirstFreeArea looks for the first FREE mapping with room for
// pagec pages. The source's original precedence bug
// ("map->end < map->start + pagec*PAGE_SIZE-1 || map->type != FREE")
// binds looser than intended; spec §9 calls for the corrected
// "(big enough) AND (type == FREE)" grouping, which is what this scans for.
func (l *List) findFirstFreeArea(pagec uintptr) *Mapping {
	need := pagec * kconfig.PageSize
	m := l.head
	for m != nil {
		bigEnough := m.End-m.Start+1 >= need
		if bigEnough && m.Type == Free {
			return m
		}
		m = m.Next
	}
	return nil
}

// Alloc picks the first FREE hole of at least pagec pages (first-fit;
// spec §4.2 tolerates fragmentation for O(n) allocation) and converts
// it to an ANON mapping with flags. Mirrors vmm_alloc.
func (l *List) Alloc(pagec uintptr, flags mmu.Flags) (uintptr, bool) {
	l.Lock()
	defer l.Unlock()
	hole := l.findFirstFreeArea(pagec)
	if hole == nil {
		return 0, false
	}
	addr := hole.Start
	if !l.setmapLocked(addr, pagec, flags, Anon, nil, 0) {
		return 0, false
	}
	return addr, true
}

// SetUsed forces [addr, addr+pagec*PAGE_SIZE) to ANON with flags
// without touching the MMU. Mirrors vmm_setused.
func (l *List) SetUsed(addr uintptr, pagec uintptr, flags mmu.Flags) bool {
	l.Lock()
	defer l.Unlock()
	return l.setmapLocked(addr, pagec, flags, Anon, nil, 0)
}

// SetFree forces a region back to FREE without touching the MMU.
// Mirrors vmm_setfree.
func (l *List) SetFree(addr uintptr, pagec uintptr) bool {
	l.Lock()
	defer l.Unlock()
	return l.setmapLocked(addr, pagec, 0, Free, nil, 0)
}

// setRaw installs an arbitrary mapping (used by Context.Map, which
// needs to pick the type/data/offset itself).
func (l *List) setRaw(addr uintptr, pagec uintptr, flags mmu.Flags, mtype Mtype, data any, offset int) bool {
	l.Lock()
	defer l.Unlock()
	return l.setmapLocked(addr, pagec, flags, mtype, data, offset)
}

// setmapLocked is the VMM's centerpiece (spec §4.2): it produces a
// list that covers the entire half with no gaps, with exactly one
// mapping describing [addr, addr+pagec*PAGE_SIZE) and the given
// attributes. l must already be locked. Grounded 1:1 on the source's
// setmap() in sys/mm/vmm.c.
func (l *List) setmapLocked(addr uintptr, pagec uintptr, flags mmu.Flags, mtype Mtype, data any, offset int) bool {
	end := addr + pagec*kconfig.PageSize - 1

	m := l.head
	for m != nil && addr > m.End {
		m = m.Next
	}
	if m == nil {
		return false
	}

	newmap := l.cache.Alloc()
	if newmap == nil {
		return false
	}
	newmap.Start = addr
	newmap.End = end
	newmap.MMUFlags = flags
	newmap.Type = mtype
	newmap.Data = data
	newmap.Offset = offset

	// Does the target range span multiple existing mappings?
	if newmap.End > m.End {
		nextmap := m.Next
		for nextmap != nil && newmap.End > nextmap.End {
			nextmap = nextmap.Next
		}
		if nextmap == nil {
			l.cache.Free(newmap)
			return false
		}

		// Free every descriptor strictly between m and nextmap.
		for loop := m.Next; loop != nextmap; {
			next := loop.Next
			l.cache.Free(loop)
			loop = next
		}

		origMStart := m.Start
		m.End = newmap.Start - 1

		if nextmap.Type == File {
			nextmap.Offset += int(newmap.End - nextmap.Start + 1)
		}
		nextmap.Start = newmap.End + 1

		m.Next = newmap
		newmap.Prev = m
		newmap.Next = nextmap
		nextmap.Prev = newmap

		if origMStart == newmap.Start {
			newmap.Prev = m.Prev
			if m.Prev != nil {
				m.Prev.Next = newmap
			} else {
				l.head = newmap
			}
			l.cache.Free(m)
		}

		if nextmap.Start >= nextmap.End {
			newmap.Next = nextmap.Next
			if nextmap.Next != nil {
				nextmap.Next.Prev = newmap
			}
			l.cache.Free(nextmap)
		}

		l.fragcheck(newmap)
		return true
	}

	// Fits inside m: does it require a three-way split?
	if m.Start != newmap.Start && m.End != newmap.End {
		splitmap := l.cache.Alloc()
		if splitmap == nil {
			l.cache.Free(newmap)
			return false
		}
		splitmap.Next = m.Next
		if m.Next != nil {
			m.Next.Prev = splitmap
		}
		splitmap.Prev = newmap
		splitmap.End = m.End
		splitmap.Start = newmap.End + 1
		splitmap.Type = m.Type
		splitmap.MMUFlags = m.MMUFlags
		splitmap.Data = m.Data
		if splitmap.Type == File {
			splitmap.Offset = m.Offset + int(splitmap.Start-m.Start)
		}

		m.Next = newmap
		m.End = newmap.Start - 1

		newmap.Prev = m
		newmap.Next = splitmap
		return true
	}

	if m.Start == newmap.Start {
		// Trim m on the left (this also covers the "replace
		// entirely" case, when m.End == newmap.End too: m then
		// degenerates below and is freed).
		origEnd := m.End
		newmap.Next = m
		newmap.Prev = m.Prev
		if newmap.Prev != nil {
			newmap.Prev.Next = newmap
		} else {
			l.head = newmap
		}
		if m.Type == File {
			m.Offset += int(newmap.End - m.Start + 1)
		}
		m.Start = newmap.End + 1
		m.Prev = newmap

		if m.Start >= origEnd {
			newmap.Next = m.Next
			if m.Next != nil {
				m.Next.Prev = newmap
			}
			l.cache.Free(m)
		}
	} else {
		// Trim m on the right.
		origStart := m.Start
		newmap.Next = m.Next
		newmap.Prev = m
		if newmap.Next != nil {
			newmap.Next.Prev = newmap
		}
		m.End = newmap.Start - 1
		m.Next = newmap

		if origStart >= m.End {
			newmap.Prev = m.Prev
			if m.Prev != nil {
				m.Prev.Next = newmap
			} else {
				l.head = newmap
			}
			l.cache.Free(m)
		}
	}

	l.fragcheck(newmap)
	return true
}

// fragcheck merges m with a coalescible neighbor on either side (spec
// §3 invariant 2 / §4.2 step 5), mirroring the source's fragcheck().
func (l *List) fragcheck(m *Mapping) {
	if m.Type == File {
		return
	}

	if coalescible(m.Prev, m) {
		prev := m.Prev
		prev.Next = m.Next
		prev.End = m.End
		if m.Next != nil {
			m.Next.Prev = prev
		}
		l.cache.Free(m)
		m = prev
	}

	if coalescible(m, m.Next) {
		next := m.Next
		m.Next = next.Next
		m.End = next.End
		if next.Next != nil {
			next.Next.Prev = m
		}
		l.cache.Free(next)
	}
}

// Snapshot returns the list's mappings head to tail, for tests and
// debugging (e.g. the kernel-console mapping dump the source's
// debug_dumpkernelmappings prints).
func (l *List) Snapshot() []Mapping {
	l.Lock()
	defer l.Unlock()
	var out []Mapping
	for m := l.head; m != nil; m = m.Next {
		out = append(out, *m)
	}
	return out
}
