package vm

import (
	"testing"

	"astralkernel/internal/mmu"
	"astralkernel/internal/pmm"
	"astralkernel/kconfig"
)

func newTestList(t *testing.T) *List {
	t.Helper()
	alloc := pmm.New(64)
	cache := NewCache(alloc, 8)
	return NewList(cache, 0, 64*kconfig.PageSize-1)
}

func countMappings(l *List) int {
	n := 0
	for m := l.Head(); m != nil; m = m.Next {
		n++
	}
	return n
}

// S1: allocating 4 pages out of a single FREE span, then set_used'ing
// a used sub-range inside the allocation, splits the allocation into
// three mappings (the untouched ANON prefix, the re-flagged middle, and
// the untouched ANON suffix); with the FREE tail the list holds four,
// with no gap and no overlap anywhere in it.
func TestSetUsedSplitsThreeWay(t *testing.T) {
	l := newTestList(t)

	addr, ok := l.Alloc(4, mmu.Write)
	if !ok {
		t.Fatalf("Alloc(4) failed")
	}

	mid := addr + 1*kconfig.PageSize
	if !l.SetUsed(mid, 2, mmu.Write|mmu.User) {
		t.Fatalf("SetUsed(middle) failed")
	}

	if got := countMappings(l); got != 4 {
		t.Fatalf("want 4 mappings (left ANON, middle ANON, right ANON, FREE tail), got %d", got)
	}

	var prevEnd uintptr
	first := true
	for m := l.Head(); m != nil; m = m.Next {
		if !first && m.Start != prevEnd+1 {
			t.Fatalf("gap or overlap: prev end %#x, next start %#x", prevEnd, m.Start)
		}
		first = false
		prevEnd = m.End
	}

	midMapping := l.Lookup(mid)
	if midMapping == nil || midMapping.Type != Anon || midMapping.MMUFlags != mmu.Write|mmu.User {
		t.Fatalf("middle region not re-flagged correctly: %+v", midMapping)
	}
}

// S2: two adjacent set_used calls with identical flags coalesce into
// a single mapping.
func TestAdjacentSetUsedCoalesce(t *testing.T) {
	l := newTestList(t)

	if !l.SetUsed(0, 2, mmu.Write) {
		t.Fatalf("first SetUsed failed")
	}
	if !l.SetUsed(2*kconfig.PageSize, 2, mmu.Write) {
		t.Fatalf("second SetUsed failed")
	}

	m := l.Lookup(0)
	if m == nil {
		t.Fatalf("lookup(0) found nothing")
	}
	if m.Start != 0 || m.End != 4*kconfig.PageSize-1 {
		t.Fatalf("expected one coalesced mapping [0, %#x], got [%#x, %#x]",
			4*kconfig.PageSize-1, m.Start, m.End)
	}
	if m.Next != nil && m.Next.Start == m.End+1 && m.Next.Type == Anon && m.Next.MMUFlags == m.MMUFlags {
		t.Fatalf("coalescing should have merged into one mapping, found an un-merged twin neighbor")
	}
}

// A different-flags adjacent SetUsed must NOT coalesce.
func TestAdjacentDifferentFlagsDoNotCoalesce(t *testing.T) {
	l := newTestList(t)

	if !l.SetUsed(0, 2, mmu.Write) {
		t.Fatalf("first SetUsed failed")
	}
	if !l.SetUsed(2*kconfig.PageSize, 2, mmu.Write|mmu.User) {
		t.Fatalf("second SetUsed failed")
	}

	m := l.Lookup(0)
	if m == nil || m.End != 2*kconfig.PageSize-1 {
		t.Fatalf("expected first mapping to stay [0, %#x], got %+v", 2*kconfig.PageSize-1, m)
	}
	if m.Next == nil || m.Next.Start != 2*kconfig.PageSize {
		t.Fatalf("expected a distinct neighbor starting at %#x", 2*kconfig.PageSize)
	}
}

// SetFree on an allocated range returns it to a single FREE mapping
// that coalesces with neighboring FREE space.
func TestSetFreeReturnsWholeSpan(t *testing.T) {
	l := newTestList(t)

	addr, ok := l.Alloc(4, mmu.Write)
	if !ok {
		t.Fatalf("Alloc(4) failed")
	}
	if !l.SetFree(addr, 4) {
		t.Fatalf("SetFree failed")
	}
	if got := countMappings(l); got != 1 {
		t.Fatalf("want exactly 1 FREE mapping spanning the address space after freeing, got %d", got)
	}
	head := l.Head()
	if head.Type != Free || head.Start != 0 {
		t.Fatalf("expected whole-span FREE mapping, got %+v", head)
	}
}

func TestAllocFirstFit(t *testing.T) {
	l := newTestList(t)

	a1, ok := l.Alloc(2, mmu.Write)
	if !ok || a1 != 0 {
		t.Fatalf("first alloc expected addr 0, got %#x ok=%v", a1, ok)
	}
	a2, ok := l.Alloc(3, mmu.Write)
	if !ok || a2 != 2*kconfig.PageSize {
		t.Fatalf("second alloc expected addr %#x, got %#x ok=%v", 2*kconfig.PageSize, a2, ok)
	}
}
