// Package fd implements the per-process file-descriptor table (spec
// §4.4): dynamic-size slot array, lowest-numbered-free allocation,
// refcounted slots shared across dup/fork, and dup/dup2 semantics.
// Grounded on the Astral original's fs/fd.c (fd_alloc/fd_access/
// fd_free/fd_tableclone/fd_tableinit/fd_duplicate) and on the
// teacher's fd.Fd_t/Copyfd reopen-on-duplicate shape, adapted here to
// the original's refcounted-slot model instead of Reopen().
package fd

import (
	"astralkernel/errno"
	"astralkernel/kconfig"
	"astralkernel/kernel"
)

// Permission / flag bits for a descriptor, mirroring FD_READ/FD_WRITE/
// FD_CLOEXEC.
const (
	Read       = 0x1
	Write      = 0x2
	CloseOnExec = 0x4
)

// Node is the minimal vnode surface a descriptor slot needs to close
// itself; vfs.Node satisfies it. Kept as an interface here (rather
// than importing vfs) so fd has no dependency on vfs — vfs depends on
// fd, not the other way around, matching the lock-order chain in
// spec §5 ("FD-table lock -> FD-slot lock -> VFS node child map").
type Node interface {
	Close() errno.Errno
}

// Slot is one open file description, shared by every descriptor index
// that refers to it (refcount > 1 after a dup/dup2/clone). Mirrors
// fd_t.
type Slot struct {
	kernel.SpinLock
	Refcount int
	Flags    int
	Mode     int
	Offset   int64
	Node     Node
}

// Table is a process's descriptor table: a dynamic array of slot
// pointers (nil where no descriptor is open) plus a lowest-free-index
// hint. Mirrors fdtable_t.
type Table struct {
	kernel.SpinLock
	slots     []*Slot
	firstFree int
}

// NewTable creates a table with the default initial slot count.
// Mirrors fd_tableinit.
func NewTable() *Table {
	return &Table{slots: make([]*Slot, kconfig.Default().InitialFDTableSize)}
}

// Count reports the table's current slot capacity (not the number of
// open descriptors).
func (t *Table) Count() int {
	t.Lock()
	defer t.Unlock()
	return len(t.slots)
}

// Access looks up ifd and returns its slot locked, ready for the
// caller to use and then Release. Mirrors fd_access, including its
// documented lock-order inversion: the table lock is released before
// the slot lock is acquired would be wrong — here the slot lock is
// acquired while still holding the table lock and only then is the
// table lock released, exactly as fd_access does, so no other
// goroutine can free the slot out from under the caller between the
// two unlocks.
func (t *Table) Access(ifd int) (*Slot, errno.Errno) {
	t.Lock()
	if ifd < 0 || ifd >= len(t.slots) || t.slots[ifd] == nil || t.slots[ifd].Node == nil {
		t.Unlock()
		return nil, errno.EBADF
	}
	s := t.slots[ifd]
	s.Lock()
	t.Unlock()
	return s, 0
}

// Release unlocks a slot obtained from Access. Mirrors fd_release.
func (t *Table) Release(s *Slot) { s.Unlock() }

// Alloc reserves the lowest-numbered free descriptor index, growing
// the table by one slot if none is free, and returns a fresh,
// refcount-1, locked slot installed at that index. Mirrors fd_alloc.
func (t *Table) Alloc() (*Slot, int, errno.Errno) {
	t.Lock()
	defer t.Unlock()

	ifd := -1
	for i := t.firstFree; i < len(t.slots); i++ {
		if t.slots[i] == nil {
			t.firstFree = i
			ifd = i
			break
		}
	}

	if ifd < 0 {
		if len(t.slots) >= kconfig.Default().MaxFD {
			return nil, 0, errno.EMFILE
		}
		ifd = len(t.slots)
		t.slots = append(t.slots, nil)
	}

	s := &Slot{Refcount: 1}
	s.Lock()
	t.slots[ifd] = s
	return s, ifd, 0
}

// Free drops one reference to the descriptor at ifd, closing and
// discarding the underlying slot once its refcount reaches zero.
// Mirrors fd_free.
func (t *Table) Free(ifd int) errno.Errno {
	t.Lock()
	if ifd < 0 || ifd >= len(t.slots) || t.slots[ifd] == nil {
		t.Unlock()
		return errno.EBADF
	}
	s := t.slots[ifd]
	s.Lock()
	if ifd < t.firstFree {
		t.firstFree = ifd
	}

	s.Refcount--
	if s.Refcount > 0 {
		t.slots[ifd] = nil
		s.Unlock()
		t.Unlock()
		return 0
	}

	t.slots[ifd] = nil
	t.Unlock()

	var e errno.Errno
	if s.Node != nil {
		e = s.Node.Close()
	}
	s.Unlock()
	return e
}

// Clone populates dest as a fresh table the same size as source, with
// every open slot shared (refcount bumped, not duplicated) between
// the two tables — the shape fork() wants for its child's descriptor
// table. Mirrors fd_tableclone, with the source's missing trailing
// `return 0` restored: the original falls off the end of the function
// on the success path without a return value.
func Clone(source, dest *Table) errno.Errno {
	source.Lock()
	defer source.Unlock()

	dest.Lock()
	defer dest.Unlock()

	if len(dest.slots) != len(source.slots) {
		dest.slots = make([]*Slot, len(source.slots))
	}
	dest.firstFree = 0

	for i := range dest.slots {
		if source.slots[i] == nil {
			continue
		}
		s := source.slots[i]
		dest.slots[i] = s
		s.Lock()
		s.Refcount++
		s.Unlock()
	}

	return 0
}

// DupKind selects dup() (Dup: dest is ignored, lowest free index is
// used) vs dup2() (Dup2: dest is explicit) semantics for Duplicate.
type DupKind int

const (
	Dup  DupKind = 1
	Dup2 DupKind = 2
)

// Duplicate implements dup(src) (kind Dup) and dup2(src, dest) (kind
// Dup2): the destination descriptor index ends up referring to the
// same Slot as src, with src's refcount incremented. Mirrors
// fd_duplicate, including its src==dest short circuit for dup2 (which
// returns src unchanged without touching the table) and plain dup's
// behavior of always allocating a fresh lowest index regardless of
// the dest argument.
func Duplicate(table *Table, src, dest int, kind DupKind) (int, errno.Errno) {
	if kind != Dup && dest >= kconfig.Default().MaxFD {
		return 0, errno.EBADF
	}

	srcSlot, e := table.Access(src)
	if e != 0 {
		return 0, e
	}
	table.Release(srcSlot)

	if src == dest && kind == Dup2 {
		return src, 0
	}

	var allocated *Slot
	if kind == Dup {
		var err errno.Errno
		allocated, dest, err = table.Alloc()
		if err != 0 {
			return 0, err
		}
	}

	table.Lock()

	if table.slots[src] != srcSlot {
		if allocated != nil {
			table.slots[dest] = nil
			allocated.Unlock()
		}
		table.Unlock()
		return 0, errno.EBADF
	}

	if kind == Dup2 && dest >= len(table.slots) {
		grown := make([]*Slot, dest+1)
		copy(grown, table.slots)
		table.slots = grown
	}

	if allocated == nil {
		if old := table.slots[dest]; old != nil {
			old.Lock()
			old.Refcount--
			if old.Refcount == 0 {
				if old.Node != nil {
					old.Node.Close()
				}
			}
			old.Unlock()
		}
	}

	if allocated != nil {
		// dest was a freshly allocated slot never handed back to any
		// caller; it is about to be replaced by srcSlot below and is
		// simply discarded, the same fate it gets in the source this
		// is ported from.
		allocated.Unlock()
	}

	table.slots[dest] = srcSlot
	srcSlot.Lock()
	srcSlot.Refcount++
	srcSlot.Unlock()

	table.Unlock()

	return dest, 0
}
