package vm

import (
	"testing"

	"astralkernel/errno"
	"astralkernel/internal/mmu"
	"astralkernel/internal/pmm"
)

func newTestContext(t *testing.T) (*Context, *Cache, *pmm.Allocator) {
	t.Helper()
	alloc := pmm.New(64)
	cache := NewCache(alloc, 8)
	return NewContext(cache, alloc), cache, alloc
}

func TestHandleFaultDemandPagesAnon(t *testing.T) {
	ctx, cache, _ := newTestContext(t)
	_ = cache

	addr, ok := ctx.List.Alloc(1, mmu.Write|mmu.User)
	if !ok {
		t.Fatalf("alloc failed")
	}

	if _, _, present := ctx.PT.Translate(pageOf(addr)); present {
		t.Fatalf("page should not be mapped before the first fault")
	}

	if e := ctx.HandleFault(addr, false, true); e != 0 {
		t.Fatalf("HandleFault returned %v, want success", e)
	}

	if _, flags, present := ctx.PT.Translate(pageOf(addr)); !present || flags&mmu.Present == 0 {
		t.Fatalf("page should be mapped after demand paging, flags=%v present=%v", flags, present)
	}
}

func TestHandleFaultOnFreeIsFault(t *testing.T) {
	ctx, _, _ := newTestContext(t)
	if e := ctx.HandleFault(0x1000, false, true); e != errno.EFAULT {
		t.Fatalf("fault on FREE hole: got %v, want EFAULT", e)
	}
}

func TestHandleFaultOnFileIsUnsupported(t *testing.T) {
	ctx, _, _ := newTestContext(t)
	if !ctx.Map(0, 1, mmu.Write, File, nil, 0) {
		t.Fatalf("Map(FILE) failed")
	}
	if e := ctx.HandleFault(0, false, true); e != errno.ENODEV {
		t.Fatalf("fault on FILE mapping: got %v, want ENODEV", e)
	}
}

func TestForkCopiesMappingsNotPTEs(t *testing.T) {
	ctx, cache, _ := newTestContext(t)

	addr, ok := ctx.List.Alloc(1, mmu.Write|mmu.User)
	if !ok {
		t.Fatalf("alloc failed")
	}
	if e := ctx.HandleFault(addr, false, true); e != 0 {
		t.Fatalf("parent fault-in failed: %v", e)
	}

	child := ctx.Fork(cache)
	if child == nil {
		t.Fatalf("fork failed")
	}

	pm := child.List.Lookup(addr)
	if pm == nil || pm.Type != Anon {
		t.Fatalf("child should inherit the parent's ANON mapping, got %+v", pm)
	}

	if _, _, present := child.PT.Translate(pageOf(addr)); present {
		t.Fatalf("child must not inherit the parent's page table entries")
	}

	if e := child.HandleFault(addr, false, true); e != 0 {
		t.Fatalf("child demand-fault failed: %v", e)
	}
}

func TestUnmapFreesFramesAndRange(t *testing.T) {
	ctx, _, alloc := newTestContext(t)

	addr, ok := ctx.List.Alloc(2, mmu.Write)
	if !ok {
		t.Fatalf("alloc failed")
	}
	if e := ctx.HandleFault(addr, false, false); e != 0 {
		t.Fatalf("fault-in page 0 failed: %v", e)
	}
	freeBefore := alloc.Free()

	if !ctx.Unmap(addr, 2) {
		t.Fatalf("unmap failed")
	}
	if alloc.Free() != freeBefore+1 {
		t.Fatalf("expected one frame returned to the allocator, free went %d -> %d", freeBefore, alloc.Free())
	}

	m := ctx.List.Lookup(addr)
	if m == nil || m.Type != Free {
		t.Fatalf("range should be FREE after unmap, got %+v", m)
	}
}
