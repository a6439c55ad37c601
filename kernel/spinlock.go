// Package kernel holds the trivial glue the rest of the core builds
// on: the spinlock primitive and the panic collaborator (spec §4.7 /
// §7); per-CPU local storage lives in sched (CLS). It deliberately
// imports nothing from vm/sched/fd/vfs so every other package in this
// module can depend on it without a cycle.
package kernel

import "sync"

// SpinLock is the kernel's only synchronization primitive (spec §5:
// "only spinlocks, no blocking mutexes inside the core"). It is a
// named embeddable type around sync.Mutex rather than a bare alias so
// every lock site documents itself as the hardware spinlock analogue,
// matching the teacher's habit of embedding sync.Mutex by value
// directly into Vm_t, Accnt_t, and Distinct_caller_t.
type SpinLock struct {
	sync.Mutex
}
