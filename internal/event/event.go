// Package event implements per-task event flags (component C6): sticky
// pending bits a task can wait on with an ALL or ANY condition. It depends
// on internal/task and internal/timer, the same shape as internal/sem and
// internal/queue (C6→{C2,C3}).
//
// Event state is kept in this package's own table, keyed by task id,
// rather than as fields embedded in task.TCB: task.TCB is the C2 package's
// own type, and C2 must not depend on C6 (spec.md §2's dependency graph
// only points the other way), so the slot lives here and is looked up by
// id exactly the way internal/sem and internal/queue look up their own
// wait lists rather than reaching into a foreign struct.
//
// Grounded on original_source's gxkEvent.c: GXK_EvSend's "compute
// satisfied = cond==ALL ? (pending&waiting)==waiting : pending&waiting!=0,
// then received = pending&waiting, pending &^= received" is this package's
// satisfied/received computation verbatim.
package event

import (
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// Condition selects how a receiver's waiting mask is evaluated against
// pending bits.
type Condition uint8

const (
	All Condition = iota
	Any
)

// WaitFlags controls Receive's blocking behavior.
type WaitFlags uint32

const (
	Wait   WaitFlags = 0
	NoWait WaitFlags = 0x01
)

// slot is one task's event state: sticky pending bits, plus the
// waiting/condition pair recorded while blocked in Receive.
type slot struct {
	pending   uint32
	waiting   uint32
	cond      Condition
	isWaiting bool
}

func satisfied(pending, waiting uint32, cond Condition) bool {
	if cond == All {
		return pending&waiting == waiting
	}
	return pending&waiting != 0
}

// Core is the event manager: one slot per task that has ever sent or
// received an event, plus the shared task/timer cores it blocks and arms
// timeouts against.
type Core struct {
	tasks  *task.Core
	timers *timer.Core
	log    klog.Logger

	slots    map[uint32]*slot
	delivery map[uint32]uint32 // task id -> bits delivered by the wake that is about to resume it
}

// NewCore constructs an event manager sharing tasks' scheduler and timers'
// wheel with the rest of the kernel.
func NewCore(tasks *task.Core, timers *timer.Core, log klog.Logger) *Core {
	if log == nil {
		log = klog.Noop()
	}
	return &Core{
		tasks:    tasks,
		timers:   timers,
		log:      log,
		slots:    make(map[uint32]*slot),
		delivery: make(map[uint32]uint32),
	}
}

func (c *Core) slotFor(tid uint32) *slot {
	s, ok := c.slots[tid]
	if !ok {
		s = &slot{}
		c.slots[tid] = s
	}
	return s
}

// Forget drops tid's event slot. The kernel's t_delete wrapper calls this
// once the TCB itself is reclaimed, since nothing else ever frees a task
// id's entry here.
func (c *Core) Forget(tid uint32) {
	tok := c.tasks.Enter()
	delete(c.slots, tid)
	delete(c.delivery, tid)
	c.tasks.Exit(tok)
}

// Send implements ev_send: ORs mask into tid's pending bits and, if tid is
// currently waiting and the resulting pending set satisfies its condition,
// computes received = pending & waiting, clears those bits, and wakes it —
// all under one critical section, so the clear-and-deliver step is atomic
// with the wake (spec.md §8 invariant 5). Must be called as a top-level
// syscall (owns its own Enter/Exit pair); a caller already inside an
// ambient hal callback — the kernel's tm_evafter/tm_evevery/tm_evwhen timer
// fire handlers — must use SendLocked instead, per internal/task's lock
// discipline.
func (c *Core) Send(tid uint32, mask uint32) kerrno.Code {
	tok := c.tasks.Enter()
	ec := c.sendLocked(tid, mask)
	c.tasks.FinishAndDispatch(tok)
	return ec
}

// SendLocked performs ev_send's effect assuming the critical section is
// already held by the caller, and never releases it or dispatches
// afterward — the kernel's timer-driven event sends (tm_evafter,
// tm_evevery, tm_evwhen) call this from inside their Arm callback, which
// internal/timer documents as already running under the section hal wraps
// around its own tick/alarm callbacks.
func (c *Core) SendLocked(tid uint32, mask uint32) kerrno.Code {
	return c.sendLocked(tid, mask)
}

func (c *Core) sendLocked(tid uint32, mask uint32) kerrno.Code {
	t, ec := c.tasks.Lookup(tid)
	if ec != 0 {
		return ec
	}
	s := c.slotFor(tid)
	s.pending |= mask

	if s.isWaiting && satisfied(s.pending, s.waiting, s.cond) {
		received := s.pending & s.waiting
		s.pending &^= received
		s.isWaiting = false
		if t.WaitTimerID != 0 {
			c.timers.Cancel(t.WaitTimerID)
			t.WaitTimerID = 0
		}
		c.delivery[tid] = received
		c.tasks.Wake(t, 0)
	}
	return 0
}

// Receive implements ev_receive: check the condition against pending bits
// immediately; if unmet, block (unless NoWait) until Send satisfies it or
// timeoutTicks elapses (0 = infinite). mask==0 is rejected as ill-formed,
// matching spec.md §8's boundary case — the original's header has no
// distinct code for this, so NoEvents (the same code a failed non-blocking
// receive returns) is reused; see DESIGN.md.
func (c *Core) Receive(mask uint32, cond Condition, flags WaitFlags, timeoutTicks uint32, out *uint32) kerrno.Code {
	if mask == 0 {
		*out = 0
		return kerrno.NoEvents
	}

	tok := c.tasks.Enter()

	self := c.tasks.Self()
	if self == nil {
		c.tasks.Exit(tok)
		*out = 0
		return kerrno.ObjID
	}
	s := c.slotFor(self.ID)

	if satisfied(s.pending, mask, cond) {
		received := s.pending & mask
		s.pending &^= received
		c.tasks.Exit(tok)
		*out = received
		return 0
	}
	if flags&NoWait != 0 {
		c.tasks.Exit(tok)
		*out = 0
		return kerrno.NoEvents
	}

	s.waiting = mask
	s.cond = cond
	s.isWaiting = true
	if timeoutTicks > 0 {
		expire := c.timers.Now() + uint64(timeoutTicks)
		timerID, _ := c.timers.Arm(expire, false, 0, func() {
			s.isWaiting = false
			c.tasks.Wake(self, kerrno.Timeout)
		})
		self.WaitTimerID = timerID
	}

	result := c.tasks.Block(tok, self, task.WaitEvent)
	if result != 0 {
		*out = 0
		return result
	}
	*out = c.takeDelivery(self.ID)
	return 0
}

func (c *Core) takeDelivery(tid uint32) uint32 {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)
	v := c.delivery[tid]
	delete(c.delivery, tid)
	return v
}
