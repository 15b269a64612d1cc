// Package task implements the fixed-size TCB pool and priority-based ready
// queue scheduler (component C2). It is the only package that touches
// hal.Context directly on behalf of ordinary tasks; internal/sem,
// internal/queue, internal/event and internal/timer each depend on it to
// block and wake their own callers.
//
// Grounded on original_source's kernel/sched/task.c and gxkTask.c: a fixed
// GXKTCB pool (TaskList[MAX_TASK]) with a free-id pool, integer priorities
// where 1 is highest, and per-priority ready lists selected by a readiness
// bitmap. The host/embedded split and the intrusive wait-list plumbing are
// this rewrite's own (spec.md's "ownership graphs" / "cyclic references"
// design notes); the original's ready-queue shape is kept.
//
// Lock discipline: every exported method that may change which task is
// dispatched mutates ready-queue/TCB state while the Platform's critical
// section is held, releases it, and only then calls hal.ContextSwitch.
// Doing the actual register switch while still holding the critical
// section would deadlock the host backend — the resumed goroutine would
// block forever trying to re-enter a section its own resumer never
// released. The Platform's critical section is a single reentrant lock (by
// goroutine id on host) whose CriticalExit ignores the token it is handed
// and just decrements a shared nesting depth, so correctness only requires
// one Exit call per Enter somewhere on the call stack — but ContextSwitch
// must only run once that depth reaches zero. Two shapes reach zero in
// this package: a top-level syscall that owns exactly one Enter/Exit pair
// for its whole duration (Start, Resume, SetPri, Restart, and Block, all
// of which exit their own section immediately before switching), and an
// ambient callback hal itself wraps in Enter/Exit (the tick/alarm
// callbacks) — code reached only from inside one of those, such as Wake
// when called by a timer firing, must never call CriticalExit or
// ContextSwitch itself. Wake is written to that second shape: it mutates
// state under whatever section its caller already holds and makes no
// dispatch decision; FinishAndDispatch makes that decision once the
// caller's own top-level section is the one being exited.
//
// Ready-list membership discipline: a TCB may only be linked into the
// ready list while its goroutine is known to be parked (inside
// ContextCreate's initial wait, or inside Block's ContextSwitch). A
// bystander syscall that makes a higher-priority task ready is free to
// resume that task's (parked) goroutine concurrently, but it must never
// push the task it is "preempting" back onto a ready list — that task's
// own goroutine is still physically executing Go code and is not parked,
// so touching its list linkage from another goroutine would race with
// whatever that task does at its own next scheduling point. Concretely:
// preemption on this backend means "also let the higher-priority task run
// now", not "stop the lower-priority task's goroutine" — Go provides no
// safe way to do the latter, and spec.md's own concurrency model
// acknowledges host preemption is simulated, not literal.
package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// idleYieldDelay throttles the idle task's self-yield loop so an
// indefinitely idle host doesn't spin a CPU core re-entering the critical
// section thousands of times a second for no reason.
const idleYieldDelay = 200 * time.Microsecond

// State is a TCB's lifecycle state.
type State uint8

const (
	StateFree State = iota
	StateCreated
	StateReady
	StateRunning
	StateSuspended
	StateBlocked
	StateDeleted
)

// Mode is the per-task mode bitmask, matching spec.md's T_* create flags.
type Mode uint32

const (
	Preempt   Mode = 0
	NoPreempt Mode = 0x01
	TimeSlice Mode = 0x02
	NoASR     Mode = 0x04
	NoISR     Mode = 0x100
)

// WaitKind tags what kind of object a blocked task is waiting on, the
// "closed tagged variant" spec.md's design notes call for so a timeout path
// can look the object up by id instead of dereferencing a stale pointer.
type WaitKind uint8

const (
	WaitNone WaitKind = iota
	WaitSemaphore
	WaitQueue
	WaitEvent
	WaitSleep // tm_wkafter/tm_wkwhen: blocked with no IPC object, only a timer
)

const (
	MinPriority   = 1
	MaxPriority   = 255
	IdlePriority  = MaxPriority
	MaxTasks      = 64
	NumRegs       = 7
	MinStackBytes = 256
)

// TCB is one task control block. Fields are exported because the IPC
// packages (sem/queue/event/timer) need to read and, for the wait-link
// fields, mutate them directly; task.Core owns the scheduling invariants,
// they own only the WaitPrev/WaitNext linkage while a task sits on their
// wait list.
type TCB struct {
	ID       uint32
	Name     [4]byte
	Priority int
	State    State
	Mode     Mode
	Regs     [NumRegs]uint32

	// WaitKind/WaitTimerID are the weak back-reference spec.md's "cyclic
	// references" note calls for: enough to cancel a timeout without
	// holding a pointer into an object that might have been deleted.
	WaitKind    WaitKind
	WaitTimerID uint32

	// WaitPrev/WaitNext are the intrusive links used by whichever object's
	// wait list currently holds this task. A task is on at most one such
	// list at a time.
	WaitPrev, WaitNext *TCB

	entry   func(args [4]uint32)
	args    [4]uint32
	stack   []byte
	ctx     hal.Context
	started bool

	wakeErr kerrno.Code

	sliceLeft    int
	sliceExpired bool

	readyPrev, readyNext *TCB
}

// Core is the task scheduler: the TCB pool, the priority ready queues, and
// the goroutine-id → self lookup used by self-referencing syscalls.
type Core struct {
	plat hal.Platform
	log  klog.Logger

	tasks   [MaxTasks + 1]*TCB // index 0 unused; ids are 1..MaxTasks
	freeIDs []uint32
	names   map[[4]byte]uint32

	readyHead, readyTail [MaxPriority + 1]*TCB
	bitmap               [4]uint64

	// running is the task most recently handed the CPU by the scheduler.
	// It is a hint used for priority-preemption comparisons and time-slice
	// accounting, not a strict single-owner invariant: a bystander
	// dispatching a higher-priority task updates running to that task
	// without ever being able to confirm the previous one has actually
	// stopped executing (see the package doc comment).
	running *TCB
	idle    *TCB

	selfMu sync.RWMutex
	selfOf map[uint64]uint32 // goroutine id -> task id
}

// NewCore constructs a scheduler bound to plat and immediately creates and
// starts the idle task (priority 255, never blocks), matching spec.md's
// "an idle task of priority 255 is created at kernel init and never
// blocks" failure-semantics note.
func NewCore(plat hal.Platform, log klog.Logger) *Core {
	if log == nil {
		log = klog.Noop()
	}
	c := &Core{
		plat:   plat,
		log:    log,
		names:  make(map[[4]byte]uint32, MaxTasks),
		selfOf: make(map[uint64]uint32, MaxTasks+1),
	}
	for id := uint32(MaxTasks); id >= 1; id-- {
		c.freeIDs = append(c.freeIDs, id)
	}

	idleID, ec := c.Create([4]byte{'i', 'd', 'l', 'e'}, IdlePriority, MinStackBytes, Preempt)
	if ec != 0 {
		panic(fmt.Sprintf("task: failed to create idle task: %v", ec))
	}
	c.idle = c.tasks[idleID]
	if ec := c.Start(idleID, Preempt, c.runIdle, [4]uint32{}); ec != 0 {
		panic(fmt.Sprintf("task: failed to start idle task: %v", ec))
	}
	return c
}

// Platform exposes the bound Platform so sibling components (timer, and the
// kernel package wiring them all together) can share the same HAL instance.
func (c *Core) Platform() hal.Platform { return c.plat }

func bitmapSet(bm *[4]uint64, p int)   { bm[p>>6] |= 1 << uint(p&63) }
func bitmapClear(bm *[4]uint64, p int) { bm[p>>6] &^= 1 << uint(p&63) }

func bitmapLowestSet(bm *[4]uint64) (int, bool) {
	for w := 0; w < 4; w++ {
		if bm[w] == 0 {
			continue
		}
		for b := 0; b < 64; b++ {
			if bm[w]&(1<<uint(b)) != 0 {
				return w*64 + b, true
			}
		}
	}
	return 0, false
}

// readyPushBack inserts t at the tail of its priority level. t must not
// already be linked into any list.
func (c *Core) readyPushBack(t *TCB) {
	p := t.Priority
	t.readyNext = nil
	t.readyPrev = c.readyTail[p]
	if c.readyTail[p] != nil {
		c.readyTail[p].readyNext = t
	} else {
		c.readyHead[p] = t
		bitmapSet(&c.bitmap, p)
	}
	c.readyTail[p] = t
}

// readyRemove unlinks t from its priority level, wherever it sits.
func (c *Core) readyRemove(t *TCB) {
	p := t.Priority
	if t.readyPrev != nil {
		t.readyPrev.readyNext = t.readyNext
	} else {
		c.readyHead[p] = t.readyNext
	}
	if t.readyNext != nil {
		t.readyNext.readyPrev = t.readyPrev
	} else {
		c.readyTail[p] = t.readyPrev
	}
	t.readyPrev, t.readyNext = nil, nil
	if c.readyHead[p] == nil {
		bitmapClear(&c.bitmap, p)
	}
}

// pickNextLocked removes and returns the highest-priority ready task,
// falling back to idle (which pushes itself back onto the ready list every
// time its own loop iterates, so it is always available here). Must run
// under the critical section.
func (c *Core) pickNextLocked() *TCB {
	p, ok := bitmapLowestSet(&c.bitmap)
	if !ok {
		c.readyRemove(c.idle)
		return c.idle
	}
	t := c.readyHead[p]
	c.readyRemove(t)
	return t
}

// Create allocates a TCB from the free pool. The task starts in Created
// state; it has no HAL context until Start builds one.
func (c *Core) Create(name [4]byte, prio int, stackBytes int, mode Mode) (uint32, kerrno.Code) {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)

	if prio < MinPriority || prio > MaxPriority {
		return 0, kerrno.Priority
	}
	if stackBytes < MinStackBytes {
		return 0, kerrno.TinyStack
	}
	if len(c.freeIDs) == 0 {
		return 0, kerrno.NoTCB
	}

	id := c.freeIDs[len(c.freeIDs)-1]
	c.freeIDs = c.freeIDs[:len(c.freeIDs)-1]

	t := &TCB{
		ID:       id,
		Name:     name,
		Priority: prio,
		State:    StateCreated,
		Mode:     mode,
		stack:    make([]byte, stackBytes),
	}
	c.tasks[id] = t
	c.names[name] = id
	c.log.Log(klog.LevelDebug, "task", "created", klog.Fields{"task_id": id, "prio": prio})
	return id, 0
}

// lookupLocked validates id and returns its TCB. Must be called with the
// critical section held.
func (c *Core) lookupLocked(id uint32) (*TCB, kerrno.Code) {
	if id < 1 || id > MaxTasks || c.tasks[id] == nil {
		return nil, kerrno.ObjID
	}
	return c.tasks[id], 0
}

// FinishAndDispatch is the terminal step of a top-level syscall that may
// have made a higher-priority task ready (Start, Resume, SetPri, Restart,
// or a sem/queue/event send after it calls Wake): it releases the critical
// section opened by tok and, if warranted, resumes the winning task
// concurrently. Must be called exactly once, in place of a plain
// CriticalExit, by whichever top-level call owns tok — never from within
// an ambient hal callback (see the package doc comment).
func (c *Core) FinishAndDispatch(tok hal.CriticalToken) {
	next := c.preemptDecisionLocked()
	c.plat.CriticalExit(tok)
	if next != nil {
		c.plat.ContextSwitch(nil, next)
	}
}

// Start builds the task's execution context and makes it Ready. entry
// receives args and runs on its own goroutine (host) or its own exception
// frame (embedded). A newly-ready task of better priority than whatever is
// currently running is dispatched (resumed concurrently) immediately.
func (c *Core) Start(id uint32, mode Mode, entry func(args [4]uint32), args [4]uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if t.State == StateDeleted {
		c.plat.CriticalExit(tok)
		return kerrno.ObjDeleted
	}
	if t.started {
		c.plat.CriticalExit(tok)
		return kerrno.Active
	}

	t.Mode = mode
	t.entry = entry
	t.args = args
	t.started = true

	wrapped := func(a [4]uint32) {
		c.registerSelf(t.ID)
		defer c.unregisterSelf()
		entry(a)
	}
	ctx, err := c.plat.ContextCreate(t.stack, wrapped, args)
	if err != nil {
		c.plat.CriticalExit(tok)
		return kerrno.NoStack
	}
	t.ctx = ctx
	t.State = StateReady
	c.readyPushBack(t)
	c.log.Log(klog.LevelDebug, "task", "started", klog.Fields{"task_id": id})

	c.FinishAndDispatch(tok)
	return 0
}

// Delete returns a TCB to the free pool regardless of its current state.
// Deleting a task that is currently dispatched (running, whether self or
// another task's bystander call) cannot synchronously reclaim its HAL
// context: a running goroutine is not parked anywhere ContextDestroy could
// safely join, so that cleanup is skipped and the goroutine is left to run
// to completion or its next (now-impossible, since the TCB is gone) kernel
// call — a documented host-backend resource leak, not a correctness gap
// (the TCB itself is fully reclaimed and reusable immediately).
func (c *Core) Delete(id uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if t == c.idle {
		c.plat.CriticalExit(tok)
		return kerrno.ObjID
	}

	self := c.selfLocked() == t

	var destroyCtx hal.Context
	var nextCtx hal.Context
	switch t.State {
	case StateReady:
		c.readyRemove(t)
		destroyCtx = t.ctx
	case StateBlocked, StateSuspended, StateCreated:
		destroyCtx = t.ctx
	case StateRunning:
		if !self {
			next := c.pickNextLocked()
			next.State = StateRunning
			c.running = next
			nextCtx = next.ctx
		}
		// destroyCtx intentionally left nil: see doc comment above.
	}

	t.State = StateDeleted
	delete(c.names, t.Name)
	c.tasks[id] = nil
	c.freeIDs = append(c.freeIDs, id)
	c.log.Log(klog.LevelDebug, "task", "deleted", klog.Fields{"task_id": id})

	selfCtx := t.ctx
	c.plat.CriticalExit(tok)

	if destroyCtx != nil {
		c.plat.ContextDestroy(destroyCtx)
	}
	if self {
		// Self-delete always parks: there is no next to resume us, so we
		// pick one the same way a voluntary block would, then vanish.
		c.selfDeleteSwitch(selfCtx)
	} else if nextCtx != nil {
		c.plat.ContextSwitch(nil, nextCtx)
	}
	return 0
}

// selfDeleteSwitch hands off to the next ready task and never returns: the
// calling goroutine has no TCB left to resume it, so it parks forever on
// its own (already-orphaned) context.
func (c *Core) selfDeleteSwitch(selfCtx hal.Context) {
	tok := c.plat.CriticalEnter()
	next := c.pickNextLocked()
	next.State = StateRunning
	c.running = next
	c.plat.CriticalExit(tok)
	c.plat.ContextSwitch(selfCtx, next.ctx)
}

// Suspend forces a task out of the ready set regardless of why it was
// runnable; Resume is the only way back, and only if the task is not also
// blocked on an object. Suspending a different task that happens to be
// currently dispatched cannot take effect until that task next calls into
// the scheduler on its own, for the same reason Delete's running-task case
// is host-limited (see the package doc comment); the state is still
// recorded so Resume/queries observe it.
func (c *Core) Suspend(id uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if t.State == StateSuspended {
		c.plat.CriticalExit(tok)
		return kerrno.AlreadySuspended
	}

	self := c.selfLocked() == t
	if t.State == StateRunning && self {
		t.State = StateSuspended
		next := c.pickNextLocked()
		next.State = StateRunning
		c.running = next
		c.plat.CriticalExit(tok)
		c.plat.ContextSwitch(t.ctx, next.ctx)
		return 0
	}

	if t.State == StateReady {
		c.readyRemove(t)
	}
	t.State = StateSuspended
	c.plat.CriticalExit(tok)
	return 0
}

// Resume clears the explicit suspension. If the task is still blocked on an
// object it remains Blocked; resume only restores ready eligibility.
func (c *Core) Resume(id uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if t.State != StateSuspended {
		c.plat.CriticalExit(tok)
		return kerrno.NotSuspended
	}
	if t.WaitKind != WaitNone {
		// Suspended while blocked and not woken since: still waiting.
		t.State = StateBlocked
		c.plat.CriticalExit(tok)
		return 0
	}
	t.State = StateReady
	c.readyPushBack(t)

	c.FinishAndDispatch(tok)
	return 0
}

// SetPri updates a task's priority, re-queuing it if it is currently Ready
// and checking for preemption either way.
func (c *Core) SetPri(id uint32, newPrio int, old *int) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if newPrio < MinPriority || newPrio > MaxPriority {
		c.plat.CriticalExit(tok)
		return kerrno.SetPri
	}
	if old != nil {
		*old = t.Priority
	}
	if t.Priority == newPrio {
		c.plat.CriticalExit(tok)
		return 0
	}
	if t.State == StateReady {
		c.readyRemove(t)
		t.Priority = newPrio
		c.readyPushBack(t)
	} else {
		t.Priority = newPrio
	}

	c.FinishAndDispatch(tok)
	return 0
}

// ModeSet performs a masked update of the current task's mode bits: only
// bits set in mask are replaced by the corresponding bits of newBits, per
// spec.md's resolution of the mask-vs-set-only open question.
func (c *Core) ModeSet(mask, newBits Mode, old *Mode) kerrno.Code {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)

	t := c.selfLocked()
	if t == nil {
		return kerrno.ObjID
	}
	if old != nil {
		*old = t.Mode
	}
	t.Mode = (t.Mode &^ mask) | (newBits & mask)
	return 0
}

// Restart rebuilds a task's context from its originally-started entry point
// and the new args, discarding all prior execution state. A task cannot
// restart itself (there would be nothing left to resume it), and a task
// that is currently dispatched as someone else's bystander target cannot
// be restarted until it next reaches a scheduling point, for the same
// reason noted on Delete.
func (c *Core) Restart(id uint32, args [4]uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()

	t, ec := c.lookupLocked(id)
	if ec != 0 {
		c.plat.CriticalExit(tok)
		return ec
	}
	if !t.started {
		c.plat.CriticalExit(tok)
		return kerrno.NotActive
	}
	if c.selfLocked() == t {
		c.plat.CriticalExit(tok)
		return kerrno.NotActive
	}
	if t.State == StateRunning {
		c.plat.CriticalExit(tok)
		return kerrno.NotActive
	}

	var oldCtx hal.Context
	switch t.State {
	case StateReady:
		c.readyRemove(t)
		oldCtx = t.ctx
	case StateBlocked, StateSuspended:
		oldCtx = t.ctx
	}

	t.args = args
	wrapped := func(a [4]uint32) {
		c.registerSelf(t.ID)
		defer c.unregisterSelf()
		t.entry(a)
	}
	ctx, err := c.plat.ContextCreate(t.stack, wrapped, args)
	if err != nil {
		t.State = StateDeleted
		c.plat.CriticalExit(tok)
		return kerrno.NoStack
	}
	t.ctx = ctx
	t.State = StateReady
	t.WaitKind = WaitNone
	c.readyPushBack(t)

	next := c.preemptDecisionLocked()
	c.plat.CriticalExit(tok)

	if oldCtx != nil {
		c.plat.ContextDestroy(oldCtx)
	}
	if next != nil {
		c.plat.ContextSwitch(nil, next)
	}
	return 0
}

// GetReg/SetReg access a task's seven generic registers; id==0 means self.
func (c *Core) GetReg(id uint32, n int, out *uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)
	if n < 0 || n >= NumRegs {
		return kerrno.RegNum
	}
	t, ec := c.resolveSelfLocked(id)
	if ec != 0 {
		return ec
	}
	*out = t.Regs[n]
	return 0
}

func (c *Core) SetReg(id uint32, n int, v uint32) kerrno.Code {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)
	if n < 0 || n >= NumRegs {
		return kerrno.RegNum
	}
	t, ec := c.resolveSelfLocked(id)
	if ec != 0 {
		return ec
	}
	t.Regs[n] = v
	return 0
}

func (c *Core) resolveSelfLocked(id uint32) (*TCB, kerrno.Code) {
	if id == 0 {
		t := c.selfLocked()
		if t == nil {
			return nil, kerrno.ObjID
		}
		return t, 0
	}
	return c.lookupLocked(id)
}

// Ident looks a task up by its exact 4-byte name, or resolves the caller's
// own id if self is requested.
func (c *Core) Ident(name [4]byte, self bool) (uint32, kerrno.Code) {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)
	if self {
		t := c.selfLocked()
		if t == nil {
			return 0, kerrno.ObjNotFound
		}
		return t.ID, 0
	}
	id, ok := c.names[name]
	if !ok {
		return 0, kerrno.ObjNotFound
	}
	return id, 0
}

// registerSelf/unregisterSelf/selfLocked back t_getreg/t_mode/t_ident's
// "self" resolution: each task's own goroutine records which TCB it is the
// first moment it actually starts running, and every lookup by a syscall
// invoked from within that goroutine maps back through the same table.
func (c *Core) registerSelf(id uint32) {
	c.selfMu.Lock()
	c.selfOf[hal.CurrentGoroutineID()] = id
	c.selfMu.Unlock()
}

func (c *Core) unregisterSelf() {
	c.selfMu.Lock()
	delete(c.selfOf, hal.CurrentGoroutineID())
	c.selfMu.Unlock()
}

func (c *Core) selfLocked() *TCB {
	c.selfMu.RLock()
	id, ok := c.selfOf[hal.CurrentGoroutineID()]
	c.selfMu.RUnlock()
	if !ok {
		return nil
	}
	return c.tasks[id]
}

// Self returns the calling goroutine's own TCB, or nil if it is not a
// task's goroutine (e.g. the process's main goroutine, or a tick/alarm
// callback). Exported for the IPC packages to resolve the caller of a
// blocking syscall.
func (c *Core) Self() *TCB {
	tok := c.plat.CriticalEnter()
	defer c.plat.CriticalExit(tok)
	return c.selfLocked()
}

// Lookup validates id and exposes the TCB to sibling packages that need to
// read priority/state or link it onto their own wait lists. The caller must
// already hold the critical section (every IPC syscall enters it before
// touching task state).
func (c *Core) Lookup(id uint32) (*TCB, kerrno.Code) {
	return c.lookupLocked(id)
}

// Enter/Exit re-expose the bound Platform's critical section so sibling
// packages share exactly one lock domain with the scheduler.
func (c *Core) Enter() hal.CriticalToken   { return c.plat.CriticalEnter() }
func (c *Core) Exit(tok hal.CriticalToken) { c.plat.CriticalExit(tok) }

// Running returns the task most recently dispatched by the scheduler.
func (c *Core) Running() *TCB { return c.running }

// Block transitions t to Blocked and parks its own goroutine until a later
// Wake call resumes it. The caller must already hold the critical section
// (obtained from its own top-level Enter() call — sm_p/q_receive/
// ev_receive/tm_wkafter link t onto their own wait list under that same
// section before calling Block, so the state transition and the list
// linkage are atomic) and must treat tok as consumed: Block is always the
// last thing such a caller does with it, exiting the section and
// performing the actual ContextSwitch itself. Block must only be invoked
// by t's own goroutine. Returns the result later delivered by whichever
// Wake resumes t.
func (c *Core) Block(tok hal.CriticalToken, t *TCB, kind WaitKind) kerrno.Code {
	t.State = StateBlocked
	t.WaitKind = kind
	next := c.pickNextLocked()
	next.State = StateRunning
	c.running = next
	c.plat.CriticalExit(tok)

	c.plat.ContextSwitch(t.ctx, next.ctx)
	return t.wakeErr
}

// Wake removes t from Blocked state and makes it Ready, recording result as
// what Block's caller will see as its return value. A task that was
// suspended while blocked has its result recorded and stays Suspended;
// Resume then makes it Ready. The caller must
// already hold the critical section; Wake never releases it or performs a
// context switch itself (see the package doc comment) — a top-level caller
// that owns its own Enter()/Exit() pair (a sem/queue/event send syscall)
// must call FinishAndDispatch once it is done, in place of a plain
// CriticalExit, so a newly-ready higher-priority waiter runs immediately;
// a caller running inside an ambient hal callback (a timer firing) must
// not, and simply lets the next voluntary scheduling point pick the woken
// task up. Returns false if t was not actually waiting (already woken by a
// racing timeout, for instance); callers use this to decide whether their
// own wakeup "took".
func (c *Core) Wake(t *TCB, result kerrno.Code) bool {
	if t.State == StateSuspended && t.WaitKind != WaitNone {
		t.wakeErr = result
		t.WaitKind = WaitNone
		t.WaitTimerID = 0
		return true
	}
	if t.State != StateBlocked {
		return false
	}
	t.wakeErr = result
	t.WaitKind = WaitNone
	t.WaitTimerID = 0
	t.State = StateReady
	c.readyPushBack(t)
	return true
}

// preemptDecisionLocked inspects the ready set against the running hint and
// decides whether an immediate concurrent dispatch is warranted, without
// performing the switch itself (the caller releases the critical section
// first, then passes the returned context to ContextSwitch(nil, ·)). It
// returns nil when no dispatch is needed — either nothing outranks the
// running task, or the running task has NoPreempt set.
//
// Per the package doc comment, this never touches the outgoing "running"
// task's state or list membership: it only ever removes the winning
// candidate from the ready list and updates the running hint.
func (c *Core) preemptDecisionLocked() hal.Context {
	if c.running == nil {
		n := c.pickNextLocked()
		n.State = StateRunning
		c.running = n
		return n.ctx
	}

	p, ok := bitmapLowestSet(&c.bitmap)
	if !ok || p >= c.running.Priority || c.running.Mode&NoPreempt != 0 {
		return nil
	}

	head := c.readyHead[p]
	c.readyRemove(head)
	head.State = StateRunning
	c.running = head
	return head.ctx
}

// TickSlice is invoked once per tick by the owning kernel's tick handler,
// already inside the critical section. It only updates the running task's
// slice counter and, on expiry, flags it (sliceExpired); it never requeues
// a still-executing task's goroutine for the reasons in the package doc
// comment. The kernel's syscall dispatcher is expected to consult
// ConsumeSliceExpired at the start of every syscall made by a task, so
// expiry is honored at the task's own next scheduling point — the
// host-realistic analogue of "the tick handler pends the context-switch
// exception, which runs on interrupt return" on embedded.
func (c *Core) TickSlice(sliceTicks int) {
	t := c.running
	if t == nil || t == c.idle || t.Mode&TimeSlice == 0 {
		return
	}
	if t.sliceLeft <= 0 {
		t.sliceLeft = sliceTicks
	}
	t.sliceLeft--
	if t.sliceLeft <= 0 {
		t.sliceLeft = sliceTicks
		t.sliceExpired = true
	}
}

// ConsumeSliceExpired reports and clears self's expired-timeslice flag. The
// kernel's syscall surface calls this for every syscall a task makes; if
// true, it yields self to the back of its ready level before continuing,
// exactly the round-robin-on-expiry behavior spec.md's scheduler section
// describes, just deferred to the next safe (self-directed) scheduling
// point instead of asynchronously forced.
func (c *Core) ConsumeSliceExpired(self *TCB) bool {
	if self == nil || !self.sliceExpired {
		return false
	}
	self.sliceExpired = false
	return true
}

// Yield is the safe, self-directed implementation of "move to the tail of
// my own ready level and let the scheduler pick whoever's next" — used for
// time-slice expiry and available to any task-context syscall that wants a
// cooperative yield point.
func (c *Core) Yield(self *TCB) {
	tok := c.plat.CriticalEnter()
	self.State = StateReady
	c.readyPushBack(self)
	next := c.pickNextLocked()
	next.State = StateRunning
	c.running = next
	c.plat.CriticalExit(tok)
	c.plat.ContextSwitch(self.ctx, next.ctx)
}

// runIdle is the idle task's entry point: it is always ready (never
// Blocked or Suspended) and simply yields in a loop, letting
// preemptDecisionLocked — invoked by every syscall that might ready a real
// task — dispatch real work the instant it exists. On host, idle throttles
// its self-yield loop with a short sleep when nothing else is ready rather
// than busy-spinning a CPU core; the embedded backend's idle instead issues
// WFI, outside this package's reach.
func (c *Core) runIdle(_ [4]uint32) {
	for {
		tok := c.plat.CriticalEnter()
		self := c.idle
		c.readyPushBack(self)
		next := c.pickNextLocked()
		self.State = StateReady
		next.State = StateRunning
		c.running = next
		wasAlreadyIdle := next == self
		c.plat.CriticalExit(tok)

		if wasAlreadyIdle {
			time.Sleep(idleYieldDelay)
		}
		c.plat.ContextSwitch(self.ctx, next.ctx)
	}
}
