// Package vfs implements the virtual filesystem layer: vnodes,
// directory nodes with a child cache, filesystem mounting, and
// path resolution (spec §4.5). Grounded on the Astral original's
// fs/vfs.c (vfs_mount/vfs_newnode/vfs_newdirnode/vfs_resolvepath/
// vfs_init), with the documented vfs_resolvepath precedence bug fixed:
// the original's `!GETTYPE(...) == TYPE_DIR` binds as
// `(!GETTYPE(...)) == TYPE_DIR`, which is almost never true and lets
// non-directory path components be walked into; this resolves to the
// intended `GETTYPE(...) != TYPE_DIR`.
package vfs

import (
	"astralkernel/errno"
	"astralkernel/internal/hashtable"
	"astralkernel/ustr"
)

// Type is a vnode's kind.
type Type int

const (
	TypeFile Type = iota
	TypeDir
)

// Ops is the set of filesystem-specific operations a concrete
// filesystem driver (e.g. tmpfs) implements; fsops.Registry maps a
// filesystem name to one of these, and vfs.Mount takes the resolved
// Ops as an argument.
type Ops interface {
	// Mount creates this filesystem's root dirnode, using dev (the
	// resolved device node, or nil) and the caller-supplied fsinfo
	// blob.
	Mount(dev *Node, flags int, fsinfo any) (*DirNode, errno.Errno)
	// Open populates parent's child cache with name, if name exists
	// in the backing store — the lazy, fault-in half of directory
	// listing the source's fscalls_t.open implements per filesystem.
	Open(parent *DirNode, name ustr.Ustr) errno.Errno
	// Release runs the filesystem's per-node cleanup when a node's
	// refcount drops to zero on Node.Close, mirroring the source's
	// fscalls_t.close hook.
	Release(n *Node) errno.Errno
}

// Node is one filesystem entry: a file or a directory (DirNode adds
// the directory-only fields). Mirrors vnode_t.
type Node struct {
	Name     ustr.Ustr
	Type     Type
	FS       Ops
	FSData   any
	Refcount int
}

// Close releases the node (fd.Node interface): decrements its
// refcount and, once it reaches zero, runs the owning filesystem's
// per-node release hook, mirroring vfs_close/fscalls_t.close. Mirrors
// spec §4.5's close(node) contract.
func (n *Node) Close() errno.Errno {
	n.Release()
	if n.Refcount > 0 {
		return 0
	}
	if n.FS == nil {
		return 0
	}
	return n.FS.Release(n)
}

// Acquire/Release track open references to a node, mirroring
// vfs_acquirenode/vfs_releasenode.
func (n *Node) Acquire() { n.Refcount++ }
func (n *Node) Release() { n.Refcount-- }

// DirNode is a directory vnode: its Node plus a lazily populated
// child cache and an optional mount overlay. Mirrors dirnode_t.
type DirNode struct {
	Node
	Children *hashtable.Table
	Mount    *DirNode
}

// NewNode allocates a plain file vnode. Mirrors vfs_newnode.
func NewNode(name ustr.Ustr, fs Ops, fsdata any) *Node {
	return &Node{Name: append(ustr.Ustr{}, name...), Type: TypeFile, FS: fs, FSData: fsdata}
}

// NewDirNode allocates a directory vnode with an empty child cache.
// Mirrors vfs_newdirnode.
func NewDirNode(name ustr.Ustr, fs Ops, fsdata any) *DirNode {
	d := &DirNode{Children: hashtable.New(10)}
	d.Name = append(ustr.Ustr{}, name...)
	d.Type = TypeDir
	d.FS = fs
	d.FSData = fsdata
	return d
}

// mountpoint follows the Mount overlay chain to the directory that
// actually services lookups at node, mirroring mountpoint().
func mountpoint(node *DirNode) *DirNode {
	for node.Mount != nil {
		node = node.Mount
	}
	return node
}

// VFS is the filesystem tree rooted at Root. The filesystem-name ->
// Ops registry lives one layer up in package fsops (spec §4.5's
// "name -> filesystem operations" lookup is a distinct concern from
// the tree vfs itself walks), mirroring the package-level vfsroot
// global from vfs_init — fsfuncs is the separate fsops.Registry.
type VFS struct {
	Root *DirNode
}

// New builds a fake root directory with no backing filesystem,
// mirroring vfs_init's "Creating a fake root for the VFS".
func New() *VFS {
	return &VFS{Root: NewDirNode(ustr.MkUstrRoot(), nil, nil)}
}

// Resolve walks path component by component starting at ref,
// following mount overlays and lazily opening uncached children via
// their owning filesystem's Ops.Open. Mirrors vfs_resolvepath, fixed
// per the corrected directory-type check described above.
func (v *VFS) Resolve(ref *DirNode, path ustr.Ustr) (*Node, errno.Errno) {
	entry, e := v.resolveEntry(ref, path)
	if e != 0 {
		return nil, e
	}
	switch c := entry.(type) {
	case *DirNode:
		return &c.Node, 0
	case *Node:
		return c, 0
	default:
		return nil, errno.ENOTDIR
	}
}

// ResolveDir is like Resolve but requires (and returns) a directory —
// the shape vfs_mount needs for its mountpoint argument, and chroot /
// openat's AT_FDCWD-relative directory argument need as well.
func (v *VFS) ResolveDir(ref *DirNode, path ustr.Ustr) (*DirNode, errno.Errno) {
	entry, e := v.resolveEntry(ref, path)
	if e != 0 {
		return nil, e
	}
	d, ok := entry.(*DirNode)
	if !ok {
		return nil, errno.ENOTDIR
	}
	return d, 0
}

// ResolveAny is like Resolve but returns whichever concrete type
// (*DirNode or *Node) the walk actually found, so a caller that needs
// to tell directories and files apart (e.g. openat installing a
// directory descriptor that can later serve as a dirfd) doesn't lose
// that distinction the way Resolve's flattening to *Node does.
func (v *VFS) ResolveAny(ref *DirNode, path ustr.Ustr) (any, errno.Errno) {
	return v.resolveEntry(ref, path)
}

// OpenAny is ResolveAny with the result's refcount incremented,
// mirroring spec §4.5's open(result, ref, path): "equivalent to
// resolve with the result returned refcount-incremented." Preserves
// the *DirNode/*Node distinction ResolveAny does, for callers (like
// openat) that need to install a directory descriptor.
func (v *VFS) OpenAny(ref *DirNode, path ustr.Ustr) (any, errno.Errno) {
	entry, e := v.resolveEntry(ref, path)
	if e != 0 {
		return nil, e
	}
	switch c := entry.(type) {
	case *DirNode:
		c.Acquire()
	case *Node:
		c.Acquire()
	}
	return entry, 0
}

// Open is OpenAny flattened to a plain file node, the shape most
// syscall-layer callers that already expect Resolve's behavior want.
func (v *VFS) Open(ref *DirNode, path ustr.Ustr) (*Node, errno.Errno) {
	entry, e := v.OpenAny(ref, path)
	if e != 0 {
		return nil, e
	}
	switch c := entry.(type) {
	case *DirNode:
		return &c.Node, 0
	case *Node:
		return c, 0
	default:
		return nil, errno.ENOTDIR
	}
}

// resolveEntry performs the walk itself, returning the raw child
// entry (*DirNode or *Node) as stored in the parent's child cache — an
// empty path resolves to the end of ref's mount chain.
func (v *VFS) resolveEntry(ref *DirNode, path ustr.Ustr) (any, errno.Errno) {
	iterator := mountpoint(ref)
	var entry any = iterator

	for _, name := range path.Components() {
		if iterator.Type != TypeDir {
			return nil, errno.ENOTDIR
		}

		iterator = mountpoint(iterator)

		child, ok := iterator.Children.Get(name)
		if !ok {
			if iterator.FS == nil {
				return nil, errno.ENOENT
			}
			if e := iterator.FS.Open(iterator, name); e != 0 {
				return nil, e
			}
			child, ok = iterator.Children.Get(name)
			if !ok {
				return nil, errno.ENOENT
			}
		}

		entry = child
		switch c := child.(type) {
		case *DirNode:
			iterator = c
		case *Node:
			iterator = &DirNode{Node: *c} // non-directory: only valid as the walk's final step, checked above on the next iteration
		default:
			return nil, errno.ENOTDIR
		}
	}

	return entry, 0
}

// Mount attaches ops (already resolved from a filesystem name via
// fsops.Registry.Lookup) at mountPointPath, relative to ref,
// optionally resolving a device path first. Mirrors vfs_mount, with
// the name->Ops lookup itself factored out to fsops.
func (v *VFS) Mount(ref *DirNode, devicePath ustr.Ustr, mountPointPath ustr.Ustr, ops Ops, flags int, fsinfo any) errno.Errno {
	var dev *Node
	if devicePath != nil {
		if len(devicePath) > 0 {
			n, e := v.Resolve(ref, devicePath)
			if e != 0 {
				return e
			}
			dev = n
		} else {
			dev = &ref.Node
		}
	}

	mountDir, e := v.ResolveDir(ref, mountPointPath)
	if e != 0 {
		return e
	}

	mount, e := ops.Mount(dev, flags, fsinfo)
	if e != 0 {
		return e
	}

	mountDir.Mount = mount
	return 0
}
