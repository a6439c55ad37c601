package kernel

import (
	"fmt"
	"os"
)

// Panic reports a kernel-internal programmer error — a list-invariant
// violation, or a path this implementation has declared unimplemented
// (FILE-backed mappings) — together with whatever snapshot the caller
// has at hand (a register frame, a mapping, a thread), then halts by
// panicking the goroutine. Spec §7: "Kernel-internal programmer errors
// ... call the panic collaborator with a register snapshot and halt
// the CPU." snapshot may be nil when there is nothing useful to dump.
func Panic(msg string, snapshot any) {
	fmt.Fprintf(os.Stderr, "kernel panic: %s\n", msg)
	if snapshot != nil {
		fmt.Fprintf(os.Stderr, "snapshot: %+v\n", snapshot)
	}
	panic(msg)
}
