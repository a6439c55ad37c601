// Package tmpfs is a minimal in-memory filesystem driver implementing
// vfs.Ops, registered under the name "tmpfs" (spec §6 supplement: a
// concrete, testable backing store for openat so the syscall layer
// has something real to exercise). Mirrors the Astral original's
// tmpfs_getfuncs()-returned fscalls_t, mounted over the synthetic
// root by vfs_init, but implemented against this module's vfs.Ops
// contract instead of the original's C function-pointer table.
package tmpfs

import (
	"astralkernel/errno"
	"astralkernel/kernel"
	"astralkernel/ustr"
	"astralkernel/vfs"
)

// dir is one directory's backing storage: a name-indexed entry map
// guarded by its own lock (spec §5 lock order: VFS node child map is
// the vfs.DirNode's hashtable.Table, already lock-free-read; this
// lock only serializes tmpfs's own create/lookup bookkeeping beneath
// it).
type dir struct {
	kernel.SpinLock
	entries map[string]*entry
}

type entry struct {
	name  ustr.Ustr
	isDir bool
	mode  int
	dir   *dir
	file  *file
}

// file is one regular file's backing storage: a growable byte buffer.
type file struct {
	kernel.SpinLock
	mode int
	data []byte
}

// FS is tmpfs's vfs.Ops implementation. It carries no state of its
// own — every mount gets its own *dir rooted via the vfs.DirNode's
// FSData — so a single FS{} value may back every mount.
type FS struct{}

// Mount creates a fresh, empty tmpfs root directory. dev/fsinfo are
// unused: tmpfs has no backing device.
func (FS) Mount(dev *vfs.Node, flags int, fsinfo any) (*vfs.DirNode, errno.Errno) {
	root := &dir{entries: make(map[string]*entry)}
	return vfs.NewDirNode(ustr.MkUstr(), FS{}, root), 0
}

// Release is tmpfs's vfs.Ops per-node release hook, run by vfs.Node.Close
// when a node's refcount drops to zero. tmpfs keeps its backing data in
// the entry map for the lifetime of the mount regardless of open
// refcount (there is no on-disk inode to reclaim), so this is a no-op.
func (FS) Release(n *vfs.Node) errno.Errno { return 0 }

// Open populates parent's child cache with name if it exists in
// tmpfs's backing directory, the lazy fault-in vfs.Resolve relies on.
func (FS) Open(parent *vfs.DirNode, name ustr.Ustr) errno.Errno {
	d, ok := parent.FSData.(*dir)
	if !ok {
		return errno.ENOTDIR
	}
	d.Lock()
	defer d.Unlock()

	e, ok := d.entries[name.String()]
	if !ok {
		return errno.ENOENT
	}
	parent.Children.Set(append(ustr.Ustr{}, name...), e.toNode())
	return 0
}

func (e *entry) toNode() any {
	if e.isDir {
		return vfs.NewDirNode(e.name, FS{}, e.dir)
	}
	return vfs.NewNode(e.name, FS{}, e.file)
}

// Create makes a new file or directory entry named name inside
// parent with the given mode (already masked by the caller's umask),
// failing with EEXIST if one already exists. Used by the syscall
// layer's O_CREAT handling — tmpfs has no analogue in vfs.Ops proper
// since entry creation is filesystem-specific.
func Create(parent *vfs.DirNode, name ustr.Ustr, isDir bool, mode int) (*vfs.Node, errno.Errno) {
	d, ok := parent.FSData.(*dir)
	if !ok {
		return nil, errno.ENOTDIR
	}
	d.Lock()
	defer d.Unlock()

	key := name.String()
	if _, exists := d.entries[key]; exists {
		return nil, errno.EEXIST
	}

	e := &entry{name: append(ustr.Ustr{}, name...), isDir: isDir, mode: mode}
	if isDir {
		e.dir = &dir{entries: make(map[string]*entry)}
	} else {
		e.file = &file{mode: mode}
	}
	d.entries[key] = e

	child := e.toNode()
	parent.Children.Set(append(ustr.Ustr{}, name...), child)

	switch c := child.(type) {
	case *vfs.DirNode:
		return &c.Node, 0
	case *vfs.Node:
		return c, 0
	}
	return nil, errno.EINVAL
}

// Read copies up to len(buf) bytes starting at offset out of n's
// backing file, returning the number of bytes copied.
func Read(n *vfs.Node, offset int64, buf []byte) (int, errno.Errno) {
	f, ok := n.FSData.(*file)
	if !ok {
		return 0, errno.EINVAL
	}
	f.Lock()
	defer f.Unlock()
	if offset < 0 || offset >= int64(len(f.data)) {
		return 0, 0
	}
	return copy(buf, f.data[offset:]), 0
}

// Write copies buf into n's backing file at offset, growing the file
// as needed, and returns the number of bytes written.
func Write(n *vfs.Node, offset int64, buf []byte) (int, errno.Errno) {
	f, ok := n.FSData.(*file)
	if !ok {
		return 0, errno.EINVAL
	}
	f.Lock()
	defer f.Unlock()

	end := offset + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], buf)
	return len(buf), 0
}

// Size reports a file's current length.
func Size(n *vfs.Node) (int64, errno.Errno) {
	f, ok := n.FSData.(*file)
	if !ok {
		return 0, errno.EINVAL
	}
	f.Lock()
	defer f.Unlock()
	return int64(len(f.data)), 0
}

// Mode reports the mode a file was created with (spec §3's S6: a
// created file's mode is `0644 & ~umask`; tmpfs caches whatever value
// Create was given).
func Mode(n *vfs.Node) (int, errno.Errno) {
	f, ok := n.FSData.(*file)
	if !ok {
		return 0, errno.EINVAL
	}
	f.Lock()
	defer f.Unlock()
	return f.mode, 0
}
