// Package sem implements counting semaphores with a configurable ceiling
// (component C4). It depends on internal/task for blocking/waking callers
// and internal/timer for wait timeouts, per spec's C4→{C2,C3} dependency
// direction; it never touches hal.Context directly.
//
// Grounded on original_source's gxkSem.c: a fixed SCB pool, a count bounded
// by a creation-time ceiling, and a wait list kept either strict FIFO or
// sorted by task priority. p()/v() below are gxkSem.c's GXK_SmP/GXK_SmV
// almost verbatim, adapted to this rewrite's Block/Wake contract.
package sem

import (
	"golang.org/x/exp/constraints"

	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// MaxSems bounds the SCB pool, the same fixed-arena discipline as
// task.MaxTasks and timer.MaxTimers.
const MaxSems = 64

// before mirrors internal/timer's generic ordering helper, applied here to
// wait-queue priorities instead of tick deadlines — SPEC_FULL's domain
// stack calls for one constraints.Ordered helper in both internal/timer
// and internal/sem; task.Core ended up not needing one (its ready queues
// are priority-indexed arrays, not a sorted list), so this is sem's own
// copy rather than an import of timer's unexported one.
func before[T constraints.Ordered](a, b T) bool { return a < b }

// Order selects how a semaphore's wait list is kept.
type Order uint8

const (
	FIFO Order = iota
	Priority
)

// WaitFlags controls p()'s blocking behavior.
type WaitFlags uint32

const (
	Wait   WaitFlags = 0
	NoWait WaitFlags = 0x01
)

// SCB is one semaphore control block.
type SCB struct {
	ID      uint32
	Name    [4]byte
	Count   int
	Ceiling int
	Order   Order

	waitHead, waitTail *task.TCB
}

// Core is the semaphore manager: the SCB pool plus the shared task/timer
// cores it blocks and arms timeouts against.
type Core struct {
	tasks  *task.Core
	timers *timer.Core
	log    klog.Logger

	scbs    [MaxSems + 1]*SCB
	freeIDs []uint32
	names   map[[4]byte]uint32
}

// NewCore constructs a semaphore manager sharing tasks' scheduler and
// timers' wheel — both already constructed and wired to the same hal
// Platform by the owning kernel.
func NewCore(tasks *task.Core, timers *timer.Core, log klog.Logger) *Core {
	if log == nil {
		log = klog.Noop()
	}
	c := &Core{
		tasks:  tasks,
		timers: timers,
		log:    log,
		names:  make(map[[4]byte]uint32, MaxSems),
	}
	for id := uint32(MaxSems); id >= 1; id-- {
		c.freeIDs = append(c.freeIDs, id)
	}
	return c
}

// enqueue links t onto scb's wait list per scb.Order: FIFO is a strict tail
// insert; Priority is a sorted insert (ascending task priority — 1 is
// highest), ties broken by insertion order.
func enqueue(scb *SCB, t *task.TCB) {
	if scb.Order == FIFO {
		tailInsert(scb, t)
		return
	}
	cur := scb.waitHead
	for cur != nil && !before(t.Priority, cur.Priority) {
		cur = cur.WaitNext
	}
	if cur == nil {
		tailInsert(scb, t)
		return
	}
	t.WaitNext = cur
	t.WaitPrev = cur.WaitPrev
	if cur.WaitPrev != nil {
		cur.WaitPrev.WaitNext = t
	} else {
		scb.waitHead = t
	}
	cur.WaitPrev = t
}

func tailInsert(scb *SCB, t *task.TCB) {
	t.WaitNext = nil
	t.WaitPrev = scb.waitTail
	if scb.waitTail != nil {
		scb.waitTail.WaitNext = t
	} else {
		scb.waitHead = t
	}
	scb.waitTail = t
}

func unlink(scb *SCB, t *task.TCB) {
	if t.WaitPrev != nil {
		t.WaitPrev.WaitNext = t.WaitNext
	} else {
		scb.waitHead = t.WaitNext
	}
	if t.WaitNext != nil {
		t.WaitNext.WaitPrev = t.WaitPrev
	} else {
		scb.waitTail = t.WaitPrev
	}
	t.WaitPrev, t.WaitNext = nil, nil
}

// cancelTimeout cancels t's pending wait timer, if any. Tolerates the timer
// having already fired (BadTimerID) since that race is exactly what
// callers use this to resolve.
func (c *Core) cancelTimeout(t *task.TCB) {
	if t.WaitTimerID != 0 {
		c.timers.Cancel(t.WaitTimerID)
		t.WaitTimerID = 0
	}
}

// Create allocates an SCB. initialCount and ceiling are clamped to
// [0, max(ceiling,1)] rather than validated against a dedicated error
// code — the original header has no distinct "bad ceiling" return for
// sm_create, only pool exhaustion.
func (c *Core) Create(name [4]byte, initialCount, ceiling int, order Order) (uint32, kerrno.Code) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)

	if len(c.freeIDs) == 0 {
		return 0, kerrno.NoSCB
	}
	if ceiling < 1 {
		ceiling = 1
	}
	if initialCount < 0 {
		initialCount = 0
	}
	if initialCount > ceiling {
		initialCount = ceiling
	}

	id := c.freeIDs[len(c.freeIDs)-1]
	c.freeIDs = c.freeIDs[:len(c.freeIDs)-1]

	scb := &SCB{ID: id, Name: name, Count: initialCount, Ceiling: ceiling, Order: order}
	c.scbs[id] = scb
	c.names[name] = id
	c.log.Log(klog.LevelDebug, "sem", "created", klog.Fields{"sem_id": id, "count": initialCount, "ceiling": ceiling})
	return id, 0
}

func (c *Core) lookup(id uint32) (*SCB, kerrno.Code) {
	if id < 1 || id > MaxSems || c.scbs[id] == nil {
		return nil, kerrno.ObjID
	}
	return c.scbs[id], 0
}

// Delete reclaims the SCB, waking every waiter with SemDeleted.
func (c *Core) Delete(id uint32) kerrno.Code {
	tok := c.tasks.Enter()

	scb, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	for t := scb.waitHead; t != nil; {
		next := t.WaitNext
		unlink(scb, t)
		c.cancelTimeout(t)
		c.tasks.Wake(t, kerrno.SemDeleted)
		t = next
	}
	delete(c.names, scb.Name)
	c.scbs[id] = nil
	c.freeIDs = append(c.freeIDs, id)
	c.log.Log(klog.LevelDebug, "sem", "deleted", klog.Fields{"sem_id": id})

	c.tasks.FinishAndDispatch(tok)
	return 0
}

// Ident resolves a semaphore by its exact 4-byte name.
func (c *Core) Ident(name [4]byte) (uint32, kerrno.Code) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)
	id, ok := c.names[name]
	if !ok {
		return 0, kerrno.ObjNotFound
	}
	return id, 0
}

// P implements sm_p: decrement if count>0, else enqueue and block (unless
// NoWait), timing out after timeoutTicks kernel ticks (0 = infinite,
// per spec.md's preserved historical quirk). Must be called by a task's
// own goroutine.
func (c *Core) P(id uint32, flags WaitFlags, timeoutTicks uint32) kerrno.Code {
	tok := c.tasks.Enter()

	scb, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	if scb.Count > 0 {
		scb.Count--
		c.tasks.Exit(tok)
		return 0
	}
	if flags&NoWait != 0 {
		c.tasks.Exit(tok)
		return kerrno.NoSem
	}

	self := c.tasks.Self()
	if self == nil {
		c.tasks.Exit(tok)
		return kerrno.ObjID
	}
	enqueue(scb, self)
	if timeoutTicks > 0 {
		expire := c.timers.Now() + uint64(timeoutTicks)
		timerID, _ := c.timers.Arm(expire, false, 0, func() {
			unlink(scb, self)
			c.tasks.Wake(self, kerrno.Timeout)
		})
		self.WaitTimerID = timerID
	}

	return c.tasks.Block(tok, self, task.WaitSemaphore)
}

// V implements sm_v: wake the head waiter if any (without touching count),
// else increment count up to the ceiling (idempotent success at the
// ceiling, per SPEC_FULL §9A's resolution of the original's internal
// ERR_SEMFULL path).
func (c *Core) V(id uint32) kerrno.Code {
	tok := c.tasks.Enter()

	scb, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	if scb.waitHead != nil {
		t := scb.waitHead
		unlink(scb, t)
		c.cancelTimeout(t)
		c.tasks.Wake(t, 0)
	} else if scb.Count < scb.Ceiling {
		scb.Count++
	}

	c.tasks.FinishAndDispatch(tok)
	return 0
}
