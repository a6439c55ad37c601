// Package apic simulates the local-APIC/timer collaborator spec §1
// names only by its contract ("exposes timer-request enqueue and a
// periodic tick"). Grounded on the Astral original's timer_req/
// timer_add/timer_irq (sys/sched/scheduler.c calls timer_add after
// every sched_timerhook) and the teacher's per-CPU tinfo package,
// which is where a real implementation would stash the armed
// request. Since nothing below the hosted Go runtime exists here, the
// "periodic tick" is driven explicitly by whatever owns the
// simulation (typically sched, via Timer.Fire) rather than by a real
// hardware interrupt.
package apic

import (
	"time"

	"astralkernel/kernel"
)

// Request is a single armed timer request, owned by the CPU it was
// armed on (spec §5: "the timer request structure is owned by the CPU
// it is armed on").
type Request struct {
	Deadline time.Time
	Periodic bool
	Period   time.Duration
	Func     func()
}

// Timer is one CPU's pending-timer slot.
type Timer struct {
	mu      kernel.SpinLock
	pending *Request
}

// Add arms (or rearms, replacing any prior request) a timer request
// for this CPU, firing fn after d, matching the source's
// timer_add(&cls->schedreq, THREAD_QUANTUM, false) call at the tail of
// every timer hook.
func (t *Timer) Add(d time.Duration, periodic bool, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = &Request{Deadline: time.Now().Add(d), Periodic: periodic, Period: d, Func: fn}
}

// Pending returns the currently armed request, if any.
func (t *Timer) Pending() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Fire invokes the armed request's callback as if the periodic tick
// had just elapsed, standing in for the local APIC's timer interrupt
// reaching isr_timer -> sched_timerhook. It is the caller's
// responsibility to invoke this on whatever cadence the embedding
// test or demo wants (THREAD_QUANTUM in production).
func (t *Timer) Fire() {
	t.mu.Lock()
	req := t.pending
	t.mu.Unlock()
	if req == nil || req.Func == nil {
		return
	}
	req.Func()
}
