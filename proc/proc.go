// Package proc implements the process abstraction the syscall layer
// operates on (spec §3 "Process" / §4.6): a pid, the parent/child/
// sibling tree fork() links processes into, credentials (uid/gid/
// umask), the current-directory and root vnodes chroot/openat resolve
// relative to, the process's fd table, and its address-space context.
// Grounded on the Astral original's proc_t fields as fork.c/chroot.c/
// open.c actually use them (proc->parent/sibling/child, proc->uid/gid,
// proc->root/cwd, proc->fdtable) and on the teacher's Proc_t (its
// lock-ordered process-tree bookkeeping in biscuit's proc collaborator
// conventions).
package proc

import (
	"astralkernel/errno"
	"astralkernel/fd"
	"astralkernel/kernel"
	"astralkernel/ustr"
	"astralkernel/vfs"
	"astralkernel/vm"
)

// PIDAllocator hands out monotonically increasing process IDs.
type PIDAllocator struct {
	mu   kernel.SpinLock
	next int
}

// NewPIDAllocator creates an allocator starting at pid 1 (pid 0 is
// reserved for the kernel's own bootstrap thread, matching sched's
// tid-0 convention).
func NewPIDAllocator() *PIDAllocator { return &PIDAllocator{next: 1} }

func (a *PIDAllocator) allocate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// Process is one schedulable address space's owning process. Mirors
// proc_t.
type Process struct {
	kernel.SpinLock

	PID int

	Parent  *Process
	Child   *Process
	Sibling *Process

	UID, GID int
	Umask    int

	Root *vfs.DirNode
	Cwd  *vfs.DirNode

	FDTable *fd.Table
	VM      *vm.Context
}

// New constructs a process with a fresh pid, an empty fd table, and
// the given address-space context.
func New(pids *PIDAllocator, vmCtx *vm.Context) *Process {
	return &Process{PID: pids.allocate(), FDTable: fd.NewTable(), VM: vmCtx}
}

// Fork creates a child process: its address space is a demand-paged
// copy of the parent's (vm.Context.Fork — see spec §9's non-COW design
// note), its fd table shares every open slot with the parent
// (fd.Clone), and it inherits the parent's credentials and root/cwd
// vnodes. Mirrors syscall_fork's proc_t linking, minus the thread/
// register-frame setup sched.Scheduler.NewUThread already owns.
func Fork(parent *Process, pids *PIDAllocator, cache *vm.Cache) (*Process, errno.Errno) {
	childVM := parent.VM.Fork(cache)
	if childVM == nil {
		return nil, errno.ENOMEM
	}

	child := New(pids, childVM)

	if e := fd.Clone(parent.FDTable, child.FDTable); e != 0 {
		return nil, e
	}

	parent.Lock()
	defer parent.Unlock()

	child.UID = parent.UID
	child.GID = parent.GID
	child.Umask = parent.Umask

	if parent.Root != nil {
		parent.Root.Acquire()
	}
	if parent.Cwd != nil {
		parent.Cwd.Acquire()
	}
	child.Root = parent.Root
	child.Cwd = parent.Cwd

	child.Parent = parent
	child.Sibling = parent.Child
	parent.Child = child

	return child, 0
}

// Chroot resolves path (relative to cwd if relative, root if
// absolute) and, if it names a directory, installs it as the new root,
// acquiring a reference on it and releasing the one held by the
// outgoing root (spec §4.6: "install as new proc.root, releasing the
// old reference"). Mirrors syscall_chroot.
func Chroot(p *Process, v *vfs.VFS, path ustr.Ustr) errno.Errno {
	base := p.Cwd
	if path.IsAbsolute() {
		base = p.Root
	}

	dir, e := v.ResolveDir(base, path)
	if e != 0 {
		return e
	}

	p.Lock()
	defer p.Unlock()

	dir.Acquire()
	oldRoot := p.Root
	p.Root = dir
	if oldRoot != nil {
		oldRoot.Release()
	}
	return 0
}
