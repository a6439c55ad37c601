// Package sched implements the preemptive, priority-based thread
// scheduler (spec §4.3): three priority run queues plus a running
// queue, a fixed-quantum timer hook that requeues the current thread
// and picks the next one, and the per-CPU local storage (current
// thread, pending timer request) the scheduler is the sole owner of.
// Grounded on the Astral original's sys/sched/scheduler.c
// (queue_add/queue_remove/getnext/sched_timerhook/sched_newkthread/
// sched_init) and on the teacher's proc/Proc_t thread bookkeeping
// conventions (kernel-stack-per-thread, explicit priority field).
//
// A real kernel binds "current CPU" to a hardware register CLS reads
// without locking; since this module runs hosted under the Go
// scheduler rather than on bare metal, every operation here takes an
// explicit cpu index instead of reaching for magic per-hardware-thread
// state, exactly as a test harness simulating multiple cores would.
package sched

import (
	"astralkernel/internal/apic"
	"astralkernel/internal/pmm"
	"astralkernel/kernel"
)

// Priority is a run-queue index; lower values are serviced first.
type Priority int

const (
	// PriorityInterrupt is reserved for interrupt-context threads.
	PriorityInterrupt Priority = iota
	// PriorityKernel is for kernel-only worker threads.
	PriorityKernel
	// PriorityUser is for ordinary user threads.
	PriorityUser

	queueCount
)

// State is a thread's scheduling state.
type State int

const (
	Running State = iota
	Waiting
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Waiting:
		return "WAITING"
	case Blocked:
		return "BLOCKED"
	case Zombie:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// RegisterSnapshot stands in for the architecture register frame
// sched_timerhook memcpy's a thread's live registers into and out of
// (arch_regs in the original). Only the fields a scheduling simulation
// can meaningfully observe are kept.
type RegisterSnapshot struct {
	IP uintptr
	SP uintptr
}

// Thread is one schedulable unit (spec §3 "Thread"). Proc is an
// opaque owner reference (the proc package's *Process) kept untyped
// so sched does not import proc; NewUThread sets it from its proc
// argument.
type Thread struct {
	TID      int
	Proc     any
	Priority Priority
	State    State
	Regs     RegisterSnapshot

	KernelStackBase uintptr
	KernelStackTop  uintptr
	StackSize       uintptr

	prev, next *Thread
	inQueue    *queue
}

// SetProc attaches the owning process after construction.
func (t *Thread) SetProc(p any) { t.Proc = p }

// queue is a doubly linked FIFO of threads with its own lock,
// mirroring sched_queue / queue_add / queue_remove.
type queue struct {
	kernel.SpinLock
	start, end *Thread
}

func (q *queue) add(t *Thread) {
	q.Lock()
	defer q.Unlock()
	q.addLocked(t)
}

func (q *queue) addLocked(t *Thread) {
	t.next = nil
	t.prev = q.end
	if q.end != nil {
		q.end.next = t
	}
	q.end = t
	if q.start == nil {
		q.start = t
	}
	t.inQueue = q
}

func (q *queue) remove(t *Thread) {
	q.Lock()
	defer q.Unlock()
	q.removeLocked(t)
}

func (q *queue) removeLocked(t *Thread) {
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		q.end = t.prev
	}
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		q.start = t.next
	}
	t.next, t.prev = nil, nil
	t.inQueue = nil
}

// popFront removes and returns the head of the queue, or nil if empty.
func (q *queue) popFront() *Thread {
	q.Lock()
	defer q.Unlock()
	t := q.start
	if t != nil {
		q.removeLocked(t)
	}
	return t
}

// CLS is one CPU's local scheduling state: its current thread and its
// armed timer request (spec §5's "pending timer request" collaborator,
// owned per-CPU and never touched by another CPU without an IPI — here
// enforced simply by each CPU's caller only ever passing its own
// index).
type CLS struct {
	Thread *Thread
	Timer  apic.Timer
}

// Scheduler owns the three priority run queues, the running queue,
// and one CLS slot per simulated CPU.
type Scheduler struct {
	queues  [queueCount]queue
	running queue
	blocked queue

	tidMu  kernel.SpinLock
	nextID int

	cpus []*CLS
}

// New creates a scheduler for ncpus simulated CPUs.
func New(ncpus int) *Scheduler {
	s := &Scheduler{cpus: make([]*CLS, ncpus)}
	for i := range s.cpus {
		s.cpus[i] = &CLS{}
	}
	return s
}

// NumCPU reports how many simulated CPUs this scheduler tracks.
func (s *Scheduler) NumCPU() int { return len(s.cpus) }

// CLS returns the given simulated CPU's local state.
func (s *Scheduler) CLS(cpu int) *CLS { return s.cpus[cpu] }

func (s *Scheduler) nextTID() int {
	s.tidMu.Lock()
	defer s.tidMu.Unlock()
	s.nextID++
	return s.nextID
}

// newThread allocates a thread with its own kernel stack, mirroring
// allocthread: kstacksize pages are claimed from the HHDM allocator
// and the stack pointer fields set up exactly as the source does
// (kernelstack = base + kstacksize).
func (s *Scheduler) newThread(alloc *pmm.Allocator, state State, stackPages int) *Thread {
	t := &Thread{TID: s.nextTID(), State: state}
	if stackPages > 0 {
		bufs, _, ok := alloc.HHDMAlloc(stackPages)
		if !ok {
			return nil
		}
		t.StackSize = uintptr(stackPages) * pageSizeOf(bufs)
		t.KernelStackBase = 0
		t.KernelStackTop = t.StackSize
	}
	return t
}

func pageSizeOf(bufs [][]byte) uintptr {
	if len(bufs) == 0 {
		return 0
	}
	return uintptr(len(bufs[0]))
}

// NewKThread creates a kernel-only thread at entry point ip with the
// given stack size in pages and priority, queueing it for execution
// immediately if run is true. Mirrors sched_newkthread.
func (s *Scheduler) NewKThread(alloc *pmm.Allocator, ip uintptr, stackPages int, run bool, prio Priority) *Thread {
	t := s.newThread(alloc, Waiting, stackPages)
	if t == nil {
		return nil
	}
	t.Priority = prio
	t.Regs.IP = ip
	t.Regs.SP = t.KernelStackTop
	if run {
		s.queues[prio].add(t)
	}
	return t
}

// NewUThread creates a user thread owned by proc, queued for
// execution at priority PriorityUser.
func (s *Scheduler) NewUThread(alloc *pmm.Allocator, proc any, ip uintptr, stackPages int) *Thread {
	t := s.newThread(alloc, Waiting, stackPages)
	if t == nil {
		return nil
	}
	t.Proc = proc
	t.Priority = PriorityUser
	t.Regs.IP = ip
	t.Regs.SP = t.KernelStackTop
	s.queues[PriorityUser].add(t)
	return t
}

// QueueThread places an already-constructed thread onto its priority
// queue, making it eligible to run.
func (s *Scheduler) QueueThread(t *Thread) {
	t.State = Waiting
	s.queues[t.Priority].add(t)
}

// Block removes t from the running queue and marks it BLOCKED; it is
// the caller's responsibility to later Wake it.
func (s *Scheduler) Block(t *Thread) {
	s.running.remove(t)
	t.State = Blocked
	s.blocked.add(t)
}

// Wake moves a BLOCKED thread back onto its priority run queue.
func (s *Scheduler) Wake(t *Thread) {
	s.blocked.remove(t)
	s.QueueThread(t)
}

// getNext scans the priority queues from highest (0) to lowest,
// popping the first thread found and moving it onto the running
// queue. Mirrors getnext().
func (s *Scheduler) getNext() *Thread {
	var t *Thread
	for i := 0; i < int(queueCount) && t == nil; i++ {
		t = s.queues[i].popFront()
	}
	if t != nil {
		t.State = Running
		s.running.add(t)
	}
	return t
}

// InitCPU installs cpu's first running thread (priority KERNEL, tid
// 0). The caller is responsible for arming that CPU's apic.Timer to
// call TimerHook on the first quantum expiry. Mirrors sched_init.
func (s *Scheduler) InitCPU(cpu int) *Thread {
	t := &Thread{TID: 0, State: Running, Priority: PriorityKernel}
	s.running.add(t)
	s.cpus[cpu].Thread = t
	return t
}

// TimerHook is the scheduling quantum's expiry handler (spec §4.3):
// it requeues the CPU's current thread behind its priority peers,
// picks the next thread to run, installs it as the CPU's current
// thread, and calls rearm with it (when rearm is non-nil) so the
// caller can re-arm the timer. Mirrors sched_timerhook.
func (s *Scheduler) TimerHook(cpu int, quantum func(*Thread), rearm func(*Thread)) *Thread {
	cls := s.cpus[cpu]
	current := cls.Thread

	s.running.remove(current)
	if quantum != nil {
		quantum(current)
	}
	current.State = Waiting
	s.queues[current.Priority].add(current)

	next := s.getNext()
	cls.Thread = next
	if rearm != nil {
		rearm(next)
	}
	return next
}

// Current returns cpu's currently scheduled thread.
func (s *Scheduler) Current(cpu int) *Thread { return s.cpus[cpu].Thread }

// Kill marks t ZOMBIE and removes it from whatever queue it is
// currently on, without reclaiming its stack (reclaiming happens once
// the owning process reaps it).
func (s *Scheduler) Kill(t *Thread) {
	if t.inQueue != nil {
		t.inQueue.remove(t)
	}
	t.State = Zombie
}
