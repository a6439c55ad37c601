// Package fsops is the filesystem-name registry (spec §4.5/§6): the
// lookup from a mount's requested filesystem name ("tmpfs", ...) to
// the vfs.Ops table that implements it. Mirrors the Astral original's
// package-level `fsfuncs` hashtable populated by vfs_init via
// hashtable_insert(&fsfuncs, "tmpfs", tmpfs_getfuncs()); kept as its
// own package (distinct from vfs's tree-walking concern) so a new
// filesystem driver registers itself here without vfs needing to know
// it exists.
package fsops

import (
	"astralkernel/internal/hashtable"
	"astralkernel/vfs"
)

// Registry maps a filesystem name to the vfs.Ops implementing it.
type Registry struct {
	table *hashtable.Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: hashtable.New(10)}
}

// Register associates name with ops, mirroring hashtable_insert(&fsfuncs, ...).
func (r *Registry) Register(name string, ops vfs.Ops) {
	r.table.Set(name, ops)
}

// Lookup returns the Ops registered under name, mirroring
// hashtable_get(&fsfuncs, fs) in vfs_mount.
func (r *Registry) Lookup(name string) (vfs.Ops, bool) {
	v, ok := r.table.Get(name)
	if !ok {
		return nil, false
	}
	return v.(vfs.Ops), true
}
