// Package mmu simulates the "architecture MMU primitives" collaborator
// spec §1 names only by its contract (map/unmap/translate/accessed-bit)
// and puts out of scope. It is grounded on the Astral original's
// arch_mmu_map/arch_mmu_unmap/arch_mmu_isaccessed/arch_mmu_getphysicaladdr
// calls in sys/mm/vmm.c and on the PTE flag layout and Pmap_t page-table
// type in the teacher's mem/mem.go and vm/as.go (PTE_P, PTE_W, PTE_U,
// PTE_COW, PTE_A, PTE_ADDR). Real x86_64 page tables are a four-level
// radix tree walked by hardware; since this module never runs below a
// hosted Go runtime there is no hardware table walker to drive, so the
// same PTE semantics are kept but backed by a plain map keyed on page
// number — a software page table with the identical present/writable/
// user/COW/accessed/dirty bit vocabulary the VMM's fault handler reads.
package mmu

import "astralkernel/internal/pmm"
import "astralkernel/kernel"

// Flags mirror the teacher's PTE_* bits (mem/mem.go), minus the
// physical-address field which this package tracks out of band.
type Flags uint

const (
	Present Flags = 1 << iota
	Write
	User
	COW
	Accessed
	Dirty
)

type pte struct {
	frame pmm.Frame
	flags Flags
}

// Table is one address space's software page table: present mappings
// from page number to physical frame and flags. Construct one with
// NewTable; the zero value has no entry map and Map on it panics.
type Table struct {
	mu      kernel.SpinLock
	entries map[uint64]pte
}

// NewTable allocates an empty page table for a fresh address space.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]pte)}
}

// Map installs a page-number -> frame translation with the given
// flags, replacing any existing entry at that page. It returns the
// frame that was previously mapped there, if any, so the caller (vm)
// can drop its reference — mirroring arch_mmu_map's role in
// vmm_map/Page_insert.
func (t *Table) Map(pagen uint64, f pmm.Frame, flags Flags) (old pmm.Frame, hadOld bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.entries[pagen]
	t.entries[pagen] = pte{frame: f, flags: flags | Present}
	if ok {
		return prev.frame, true
	}
	return 0, false
}

// Unmap removes a page-number's translation, returning the frame that
// was mapped there (if any) so the caller can free it.
func (t *Table) Unmap(pagen uint64) (pmm.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[pagen]
	if !ok {
		return 0, false
	}
	delete(t.entries, pagen)
	return p.frame, true
}

// Translate returns the frame and flags mapped at pagen.
func (t *Table) Translate(pagen uint64) (pmm.Frame, Flags, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[pagen]
	if !ok {
		return 0, 0, false
	}
	return p.frame, p.flags, true
}

// IsAccessed reports whether the page has the hardware-set accessed
// bit (arch_mmu_isaccessed). No package in this module calls it;
// vm's unmap frees whatever frame Unmap returns.
func (t *Table) IsAccessed(pagen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[pagen]
	return ok && p.flags&Accessed != 0
}

// SetFlags replaces the flags on an existing translation without
// touching the mapped frame. No package in this module calls it.
func (t *Table) SetFlags(pagen uint64, flags Flags) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[pagen]
	if !ok {
		return false
	}
	p.flags = flags | Present
	t.entries[pagen] = p
	return true
}
