// Package vm implements the per-address-space mapping catalog (the
// VMM): the mapping cache allocator, the per-context mapping list with
// its centerpiece setmap algorithm, and demand paging of anonymous
// regions (spec §3, §4.1, §4.2); there is no copy-on-write. It is grounded throughout
// on the Astral original's src/sys/mm/vmm.c (the setmap/fragcheck/
// findfirstfreearea/unmap/vmm_dealwithrequest functions this package
// is a line-for-line structural port of) and on the teacher's
// vm/as.go (Vm_t, Page_insert/_page_insert, Sys_pgfault, the PTE_COW/
// PTE_WASCOW copy-on-fault dance) and mem/mem.go (the Pa_t/PTE_*
// vocabulary internal/mmu adapts).
package vm

import "astralkernel/internal/mmu"

// Mtype is a mapping's backing type (spec §3 / GLOSSARY).
type Mtype int

const (
	// Free marks an unbacked hole: no translation may exist here.
	Free Mtype = iota
	// Anon is an anonymous, demand-paged region.
	Anon
	// File is a file-backed region. Reserved per spec §1 Non-goals:
	// the mapping type and its offset bookkeeping exist, but no
	// filesystem-backed page fetch is implemented — HandleFault
	// reports ENODEV for it where the source panics "File mappings
	// are not supported (yet)".
	File
)

func (t Mtype) String() string {
	switch t {
	case Free:
		return "FREE"
	case Anon:
		return "ANON"
	case File:
		return "FILE"
	default:
		return "?"
	}
}

// Mapping is the unit of the VMM's view of an address space (spec
// §3). Start and End are both page-aligned; End is inclusive of the
// last byte of the last page, matching the source's
// `end = addr + pagec*PAGE_SIZE - 1`.
type Mapping struct {
	Start, End uintptr
	MMUFlags   mmu.Flags
	Type       Mtype
	// Offset is meaningful only for File mappings: the file offset
	// backing Start (spec §3 FILE offset invariant).
	Offset int
	// Data is opaque per-type storage for File mappings, set from
	// Context.Map's data argument; unused for Anon/Free.
	Data any

	Prev, Next *Mapping

	// cache is the slab this descriptor lives in; non-nil iff the
	// descriptor is in use (spec §3 Mapping cache invariant).
	cache *slab
}

// pages returns the number of PAGE_SIZE pages covered by the mapping.
func (m *Mapping) pages(pageSize uintptr) uintptr {
	return (m.End - m.Start + 1) / pageSize
}

// coalescible reports whether m and other may be merged: same type
// (and non-FILE) and identical MMU flags (spec §3 invariant 2).
func coalescible(a, b *Mapping) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Type == File || b.Type == File {
		return false
	}
	return a.Type == b.Type && a.MMUFlags == b.MMUFlags
}
