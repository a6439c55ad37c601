package proc

import (
	"testing"

	"astralkernel/errno"
	"astralkernel/internal/pmm"
	"astralkernel/ustr"
	"astralkernel/vfs"
	"astralkernel/vm"
)

func newTestProcess(t *testing.T) (*Process, *PIDAllocator, *vm.Cache) {
	t.Helper()
	alloc := pmm.New(64)
	cache := vm.NewCache(alloc, 8)
	pids := NewPIDAllocator()
	ctx := vm.NewContext(cache, alloc)
	p := New(pids, ctx)
	root := vfs.New().Root
	p.Root = root
	p.Cwd = root
	return p, pids, cache
}

func TestForkInheritsCredentialsAndFDs(t *testing.T) {
	p, pids, cache := newTestProcess(t)
	p.UID, p.GID, p.Umask = 42, 7, 0o22

	s, _, _ := p.FDTable.Alloc()
	p.FDTable.Release(s)

	child, e := Fork(p, pids, cache)
	if e != 0 {
		t.Fatalf("fork failed: %v", e)
	}
	if child.UID != 42 || child.GID != 7 || child.Umask != 0o22 {
		t.Fatalf("child did not inherit credentials: %+v", child)
	}
	if child.PID == p.PID {
		t.Fatalf("child must have a distinct pid")
	}
	if p.Child != child {
		t.Fatalf("parent.Child must point at the new child")
	}
	if child.Parent != p {
		t.Fatalf("child.Parent must point at the parent")
	}
}

func TestForkAllocatesDistinctPIDs(t *testing.T) {
	p, pids, cache := newTestProcess(t)
	c1, e := Fork(p, pids, cache)
	if e != 0 {
		t.Fatalf("fork 1 failed: %v", e)
	}
	c2, e := Fork(p, pids, cache)
	if e != 0 {
		t.Fatalf("fork 2 failed: %v", e)
	}
	if c1.PID == c2.PID {
		t.Fatalf("expected distinct pids, got %d twice", c1.PID)
	}
}

func TestChrootAbsolutePath(t *testing.T) {
	p, _, _ := newTestProcess(t)
	v := &vfs.VFS{Root: p.Root}

	etc := vfs.NewDirNode(ustr.Ustr("etc"), nil, nil)
	p.Root.Children.Set(ustr.Ustr("etc"), etc)

	if e := Chroot(p, v, ustr.Ustr("/etc")); e != 0 {
		t.Fatalf("chroot failed: %v", e)
	}
	if p.Root != etc {
		t.Fatalf("expected process root updated to etc, got %+v", p.Root)
	}
}

func TestChrootOnFileFails(t *testing.T) {
	p, _, _ := newTestProcess(t)
	v := &vfs.VFS{Root: p.Root}

	file := vfs.NewNode(ustr.Ustr("notadir"), nil, nil)
	p.Root.Children.Set(ustr.Ustr("notadir"), file)

	if e := Chroot(p, v, ustr.Ustr("/notadir")); e != errno.ENOTDIR {
		t.Fatalf("expected ENOTDIR, got %v", e)
	}
}
