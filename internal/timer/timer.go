// Package timer implements the timer wheel (component C3): a single,
// sorted, doubly-linked list of pending expirations, keyed by absolute
// kernel-tick deadline. It depends only on internal/hal (C1), per spec's
// dependency direction — it knows nothing about tasks, semaphores, queues
// or events; sm_p/q_receive/ev_receive/tm_wkafter and friends are wired by
// the kernel package, which supplies a plain callback to Arm.
//
// Grounded on original_source's kernel/time/timer.c: each tick, the list
// head is popped while its deadline is due, and an alarm is re-armed for
// the new head (see Core for what that alarm does and does not fire), with
// a Go callback instead of a C function pointer union for the timer's
// action.
package timer

import (
	"time"

	"golang.org/x/exp/constraints"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// MaxTimers bounds the timer pool the same way task.MaxTasks bounds the
// TCB pool: a fixed-size object arena, never dynamically grown.
const MaxTimers = 256

// before generalizes the key comparison catrate/logiface's generic helpers
// use for ordering, applied here to tick deadlines (internal/sem keeps its
// own copy for wait-queue priorities).
func before[T constraints.Ordered](a, b T) bool { return a < b }

// entry is one pending expiration. Periodic entries are reinserted at
// expire+period each time they fire; one-shot entries (including absolute
// ones, which are just one-shots computed from a wall-clock target) are
// freed on fire.
type entry struct {
	id       uint32
	expire   uint64
	periodic bool
	period   uint64
	fire     func()
	prev, next *entry
}

// Core is the timer wheel. It is driven by Tick, called once per logical
// tick by the kernel's tick handler, and also re-arms the Platform's alarm
// for the list head after every change. The alarm callback runs fireDue,
// which pops only entries already due at the current logical tick; since
// only Tick advances that tick, the alarm fires nothing that Tick has not
// already fired, and the tick source keeps running every tick.
type Core struct {
	plat hal.Platform
	log  klog.Logger

	rateHz uint64
	now    uint64

	head, tail *entry
	byID       map[uint32]*entry
	freeIDs    []uint32

	wallBaseTick uint64
	wallBase     DateTime
}

// NewCore constructs a timer wheel driven by plat's tick source at rateHz.
func NewCore(plat hal.Platform, rateHz int, log klog.Logger) *Core {
	if log == nil {
		log = klog.Noop()
	}
	if rateHz <= 0 {
		rateHz = hal.DefaultTickRateHz
	}
	c := &Core{
		plat:   plat,
		log:    log,
		rateHz: uint64(rateHz),
		byID:   make(map[uint32]*entry, MaxTimers),
	}
	for id := uint32(MaxTimers); id >= 1; id-- {
		c.freeIDs = append(c.freeIDs, id)
	}
	return c
}

// Now returns the current kernel-logical tick count.
func (c *Core) Now() uint64 { return c.now }

// RateHz is the configured tick rate.
func (c *Core) RateHz() int { return int(c.rateHz) }

// TickPeriod is the wall-clock duration of one kernel-logical tick.
func (c *Core) TickPeriod() time.Duration { return hal.TickDuration(int(c.rateHz)) }

// insertSorted links e into the list in ascending expire order, ties
// broken by insertion order (stable), matching "timers in the active list
// are non-decreasing by expiration" (spec.md §8, invariant 6).
func (c *Core) insertSorted(e *entry) {
	if c.head == nil {
		c.head, c.tail = e, e
		return
	}
	cur := c.head
	for cur != nil && !before(e.expire, cur.expire) {
		cur = cur.next
	}
	if cur == nil {
		e.prev = c.tail
		c.tail.next = e
		c.tail = e
		return
	}
	e.next = cur
	e.prev = cur.prev
	if cur.prev != nil {
		cur.prev.next = e
	} else {
		c.head = e
	}
	cur.prev = e
}

func (c *Core) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// Arm schedules fire to run (with the critical section held, since it is
// invoked from Tick/the alarm callback, both already inside one) at
// absolute tick expire; if periodic, period must be non-zero and fire is
// rescheduled at expire+period every time it runs until Cancel. Must be
// called with the critical section already held.
func (c *Core) Arm(expire uint64, periodic bool, period uint64, fire func()) (uint32, kerrno.Code) {
	if len(c.freeIDs) == 0 {
		return 0, kerrno.BadTimerID
	}
	id := c.freeIDs[len(c.freeIDs)-1]
	c.freeIDs = c.freeIDs[:len(c.freeIDs)-1]

	e := &entry{id: id, expire: expire, periodic: periodic, period: period, fire: fire}
	c.byID[id] = e
	c.insertSorted(e)
	c.rearmAlarm()
	return id, 0
}

// Cancel removes a pending timer. Returns BadTimerID if id is unknown —
// callers (e.g. a wakeup racing its own timeout) must tolerate this.
func (c *Core) Cancel(id uint32) kerrno.Code {
	e, ok := c.byID[id]
	if !ok {
		return kerrno.BadTimerID
	}
	c.unlink(e)
	delete(c.byID, id)
	c.freeIDs = append(c.freeIDs, id)
	c.rearmAlarm()
	return 0
}

// Tick advances the logical clock by one and fires every timer now due.
// Called once per tick by the kernel's TickSourceStart callback, which
// already holds the critical section.
func (c *Core) Tick() {
	c.now++
	c.fireDue()
}

// fireDue pops and runs every timer whose deadline has passed, reinserting
// periodics at their next deadline. Must run with the critical section
// held (true of both its callers: Tick, and the Platform alarm callback).
func (c *Core) fireDue() {
	for c.head != nil && c.head.expire <= c.now {
		e := c.head
		c.unlink(e)
		if e.periodic {
			e.expire += e.period
			c.insertSorted(e)
		} else {
			delete(c.byID, e.id)
			c.freeIDs = append(c.freeIDs, e.id)
		}
		e.fire()
	}
	c.rearmAlarm()
}

// rearmAlarm reprograms the platform's single alarm for the new head, or
// cancels it if the list is empty, converting the head's kernel-tick
// deadline into the platform's own Clock domain.
func (c *Core) rearmAlarm() {
	if c.head == nil {
		c.plat.AlarmCancel()
		return
	}
	ticksRemaining := int64(c.head.expire) - int64(c.now)
	if ticksRemaining < 0 {
		ticksRemaining = 0
	}
	delay := time.Duration(ticksRemaining) * c.TickPeriod()
	res := c.plat.Resolution()
	if res <= 0 {
		res = time.Millisecond
	}
	hostTicks := uint64(delay / res)
	c.plat.AlarmSet(c.plat.Now()+hostTicks, c.fireDue)
}
