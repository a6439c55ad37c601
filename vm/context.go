package vm

import (
	"astralkernel/errno"
	"astralkernel/internal/mmu"
	"astralkernel/internal/pmm"
	"astralkernel/kconfig"
)

// Context is one address space's user half: the mapping list plus the
// page table installing its translations (spec §3 "Address-space
// context"). The kernel half is a separate process-wide List built
// over the same Cache; it has no Context of its own since every
// address space shares the one set of kernel translations.
type Context struct {
	List *List
	PT   *mmu.Table
	pmm  *pmm.Allocator
}

// NewContext builds a fresh user address space: a single FREE mapping
// spanning the entire user half and an empty page table. Mirrors
// vmm_newcontext.
func NewContext(cache *Cache, alloc *pmm.Allocator) *Context {
	return &Context{
		List: NewList(cache, kconfig.UserSpaceStart, kconfig.UserSpaceEnd),
		PT:   mmu.NewTable(),
		pmm:  alloc,
	}
}

func pageOf(addr uintptr) uint64 { return uint64(addr / kconfig.PageSize) }

// Map installs an ANON or FILE region of pagec pages starting at addr
// with the given protection flags, without populating any page table
// entries (pages are demand-paged on first fault). Mirrors vmm_map.
func (c *Context) Map(addr uintptr, pagec uintptr, flags mmu.Flags, mtype Mtype, data any, offset int) bool {
	return c.List.setRaw(addr, pagec, flags, mtype, data, offset)
}

// Unmap tears down [addr, addr+pagec*PAGE_SIZE): every populated PTE
// in the range is removed and its ANON frame freed, then the range is
// reset to FREE in the mapping list. Mirrors vmm_unmap /
// vmm_dealwithrequest's teardown half.
func (c *Context) Unmap(addr uintptr, pagec uintptr) bool {
	for i := uintptr(0); i < pagec; i++ {
		page := addr + i*kconfig.PageSize
		if frame, ok := c.PT.Unmap(pageOf(page)); ok {
			c.pmm.Refdown(frame)
		}
	}
	return c.List.SetFree(addr, pagec)
}

// HandleFault resolves a page fault at addr (spec §9's
// vmm_dealwithrequest, reimplemented to honor the error/is_user
// parameters the original left unused). wasProtection distinguishes a
// protection violation (page present, access not permitted) from a
// not-present fault; isUser marks a fault taken from user mode. A bad
// access reports EFAULT in either mode and HandleFault never panics:
// the caller decides whether that becomes a kernel panic or a SIGSEGV
// for the faulting process.
//
// Returns 0 on success, or the errno describing why the fault could
// not be resolved.
func (c *Context) HandleFault(addr uintptr, wasProtection bool, isUser bool) errno.Errno {
	page := addr &^ (kconfig.PageSize - 1)
	m := c.List.Lookup(page)
	if m == nil || m.Type == Free {
		if isUser {
			return errno.EFAULT
		}
		return errno.EFAULT
	}

	if wasProtection {
		// A present translation exists but the access violated its
		// protection (e.g. a write to a read-only page). Neither ANON
		// nor FILE mappings here implement copy-on-write, so any
		// protection fault is a genuine access violation.
		if isUser {
			return errno.EFAULT
		}
		return errno.EFAULT
	}

	switch m.Type {
	case Anon:
		frame, ok := c.pmm.Alloc()
		if !ok {
			return errno.ENOMEM
		}
		c.PT.Map(pageOf(page), frame, m.MMUFlags|mmu.Present|mmu.User)
		return 0
	case File:
		// Reserved per spec §1 Non-goals: no file-backed page fetch.
		return errno.ENODEV
	default:
		return errno.EFAULT
	}
}

// Fork produces a child context whose mapping list is a deep copy of
// c's (same ranges, types, flags, offsets) but with no page table
// entries installed: every page the child touches is demand-paged
// fresh rather than copied-on-write from the parent (spec §9's design
// note — a true COW fork is future work, not this version's
// contract). Mirrors vmm_fork as the source actually ships it, not the
// COW scheme its comments aspire to.
func (c *Context) Fork(cache *Cache) *Context {
	child := &Context{
		List: &List{cache: cache},
		PT:   mmu.NewTable(),
		pmm:  c.pmm,
	}

	c.List.Lock()
	defer c.List.Unlock()

	var head, tail *Mapping
	for m := c.List.head; m != nil; m = m.Next {
		nm := cache.Alloc()
		if nm == nil {
			return nil
		}
		nm.Start, nm.End = m.Start, m.End
		nm.MMUFlags = m.MMUFlags
		nm.Type = m.Type
		nm.Offset = m.Offset
		nm.Data = m.Data
		if head == nil {
			head = nm
		} else {
			tail.Next = nm
			nm.Prev = tail
		}
		tail = nm
	}
	child.List.head = head
	return child
}
