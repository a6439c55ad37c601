// Package syscall implements the kernel's user-facing operation
// surface (spec §4.6/§6): openat/open, fork, chroot, dup/dup2. Every
// call takes an explicit *Env (the collaborators: the VFS, the
// scheduler, the mapping cache) and, where it needs one, the calling
// *proc.Process instead of
// reaching for per-CPU globals, since there is no real per-hardware-
// thread "current process" binding to read in a hosted simulation.
// Grounded on the Astral original's sys/syscalls/{open,fork,chroot}.c,
// including open.c's O_CREAT retry-once loop and full _fail: unwind.
package syscall

import (
	"astralkernel/errno"
	"astralkernel/fd"
	"astralkernel/fsops"
	"astralkernel/internal/pmm"
	"astralkernel/kconfig"
	"astralkernel/proc"
	"astralkernel/sched"
	"astralkernel/tmpfs"
	"astralkernel/ustr"
	"astralkernel/vfs"
	"astralkernel/vm"
)

// Open flag bits, mirroring the original's O_* constants as used by
// syscall_openat (flags are stored internally biased by +1 so
// O_RDONLY == 0 is distinguishable from "no flags recorded yet",
// exactly as open.c's `fd->flags = flags + 1` comment explains).
const (
	ORdonly   = 0
	OWronly   = 1 << 0
	ORdwr     = 1 << 1
	OCreat    = 1 << 2
	ODirectory = 1 << 3
)

// AtFDCWD requests path resolution relative to the calling process's
// current working directory, matching the POSIX / Astral AT_FDCWD
// sentinel.
const AtFDCWD = -100

// Env bundles the collaborators every syscall needs: the filesystem
// tree, the filesystem-name registry, the scheduler (for fork's new
// thread), and the mapping cache (for fork's address-space copy).
type Env struct {
	VFS     *vfs.VFS
	FSOps   *fsops.Registry
	Sched   *sched.Scheduler
	VMCache *vm.Cache
	Alloc   *pmm.Allocator
	PIDs    *proc.PIDAllocator
}

// checkUserPtr simulates spec §4.6/§7's "every pointer passed from
// userspace lies strictly below USER_SPACE_END" bound check. This
// module takes the already-copied-in ustr.Ustr/[]byte payload rather
// than a raw uintptr, so there is no real dereference to guard; ptr is
// the address the caller claims that payload came from, and entry
// points validate it before doing anything else, exactly as a real
// openat/chroot would before touching the pointer.
func checkUserPtr(ptr uintptr) errno.Errno {
	if ptr >= kconfig.UserSpaceEnd {
		return errno.EFAULT
	}
	return 0
}

// Openat implements openat(2): resolves pathname relative to dirfd
// (or the process's cwd for AtFDCWD), optionally creating it on
// ENOENT with O_CREAT, and installs the result in a freshly allocated
// descriptor. pathPtr is the simulated userspace address pathname was
// read from (see checkUserPtr). Mirrors syscall_openat exactly,
// including its retry-once semantics (O_CREAT is only honored on the
// first ENOENT, matching the original's single `goto retry`) and its
// _fail: unwind path.
func Openat(e *Env, p *proc.Process, dirfd int, pathPtr uintptr, pathname ustr.Ustr, flags int, mode int) (int, errno.Errno) {
	if errc := checkUserPtr(pathPtr); errc != 0 {
		return -1, errc
	}

	slot, ifd, errc := p.FDTable.Alloc()
	if errc != 0 {
		return -1, errc
	}

	var targetFD *fd.Slot
	var target *vfs.DirNode

	if dirfd != AtFDCWD {
		var err errno.Errno
		targetFD, err = p.FDTable.Access(dirfd)
		if err != 0 {
			p.FDTable.Release(slot)
			p.FDTable.Free(ifd)
			return -1, err
		}
		dn, ok := targetFD.Node.(*vfs.DirNode)
		if !ok {
			p.FDTable.Release(targetFD)
			p.FDTable.Release(slot)
			p.FDTable.Free(ifd)
			return -1, errno.ENOTDIR
		}
		target = dn
	} else {
		target = p.Cwd
	}

	storedFlags := flags
	slot.Offset = 0

	fail := func(errc errno.Errno) (int, errno.Errno) {
		if targetFD != nil {
			p.FDTable.Release(targetFD)
		}
		p.FDTable.Release(slot)
		p.FDTable.Free(ifd)
		return -1, errc
	}

	base := target
	if pathname.IsAbsolute() {
		base = p.Root
	}

	entry, errc := e.VFS.OpenAny(base, pathname)
	if errc == errno.ENOENT && flags&OCreat != 0 {
		dirForCreate := base
		name := pathname
		if comps := pathname.Components(); len(comps) > 1 {
			var parentPath ustr.Ustr
			for _, c := range comps[:len(comps)-1] {
				if parentPath == nil {
					parentPath = append(ustr.Ustr{}, c...)
				} else {
					parentPath = parentPath.Extend(c)
				}
			}
			d, e2 := e.VFS.ResolveDir(base, parentPath)
			if e2 != 0 {
				return fail(e2)
			}
			dirForCreate = d
			name = comps[len(comps)-1]
		}
		for dirForCreate.Mount != nil {
			dirForCreate = dirForCreate.Mount
		}

		// S6: the created file's mode is the caller's requested mode
		// masked by the process's umask.
		if _, e2 := tmpfs.Create(dirForCreate, name, false, mode&^p.Umask); e2 != 0 {
			return fail(e2)
		}

		entry, errc = e.VFS.OpenAny(base, pathname)
		if errc != 0 {
			return fail(errc)
		}

		// The retry succeeded: O_CREAT no longer describes this
		// descriptor's state, so the stored flags must not carry it.
		storedFlags &^= OCreat
	} else if errc != 0 {
		return fail(errc)
	}

	var node fd.Node
	var nodeType vfs.Type
	switch c := entry.(type) {
	case *vfs.DirNode:
		node, nodeType = c, vfs.TypeDir
	case *vfs.Node:
		node, nodeType = c, c.Type
		if nodeType != vfs.TypeDir {
			if m, e2 := tmpfs.Mode(c); e2 == 0 {
				slot.Mode = m
			}
		}
	default:
		return fail(errno.ENOTDIR)
	}

	if flags&ODirectory != 0 && nodeType != vfs.TypeDir {
		node.Close()
		return fail(errno.ENOTDIR)
	}

	slot.Node = node
	slot.Flags = storedFlags + 1
	if targetFD != nil {
		p.FDTable.Release(targetFD)
	}
	p.FDTable.Release(slot)
	return ifd, 0
}

// Open implements open(2) as openat(AT_FDCWD, ...), kept for ABI
// compatibility exactly as syscall_open delegates to syscall_openat.
func Open(e *Env, p *proc.Process, pathPtr uintptr, pathname ustr.Ustr, flags int, mode int) (int, errno.Errno) {
	return Openat(e, p, AtFDCWD, pathPtr, pathname, flags, mode)
}

// Fork implements fork(2): a new user thread with its own address
// space (demand-paged from the parent, see vm.Context.Fork) and
// process (sharing the parent's open descriptors, credentials, and
// root/cwd vnodes), queued to run. Mirrors syscall_fork.
func Fork(e *Env, parent *proc.Process, cpu int) (*proc.Process, errno.Errno) {
	child, errc := proc.Fork(parent, e.PIDs, e.VMCache)
	if errc != 0 {
		return nil, errc
	}

	thread := e.Sched.NewUThread(e.Alloc, child, 0, 1)
	if thread == nil {
		return nil, errno.ENOMEM
	}

	return child, 0
}

// Chroot implements chroot(2): validates the user pointer path was
// read from, then delegates to proc.Chroot. Mirrors syscall_chroot.
func Chroot(e *Env, p *proc.Process, pathPtr uintptr, path ustr.Ustr) errno.Errno {
	if errc := checkUserPtr(pathPtr); errc != 0 {
		return errc
	}
	return proc.Chroot(p, e.VFS, path)
}

// Dup implements dup(2).
func Dup(p *proc.Process, oldfd int) (int, errno.Errno) {
	return fd.Duplicate(p.FDTable, oldfd, 0, fd.Dup)
}

// Dup2 implements dup2(2).
func Dup2(p *proc.Process, oldfd, newfd int) (int, errno.Errno) {
	return fd.Duplicate(p.FDTable, oldfd, newfd, fd.Dup2)
}
