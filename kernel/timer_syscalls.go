package kernel

import (
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// DateTime re-exports internal/timer's wall-clock representation.
type DateTime = timer.DateTime

const secondsPerDay = 86400

// secondsOfDay mirrors internal/timer's unexported DateTime.secondsOfDay,
// recomputed here from the exported Hour/Minute/Second fields since
// ticksUntil needs it outside that package.
func secondsOfDay(dt DateTime) int64 {
	return int64(dt.Hour)*3600 + int64(dt.Minute)*60 + int64(dt.Second)
}

// TmGet implements tm_get.
func (k *Kernel) TmGet() DateTime {
	k.checkSlice()
	return k.timers.Get()
}

// TmSet implements tm_set.
func (k *Kernel) TmSet(dt DateTime) {
	k.checkSlice()
	k.timers.Set(dt)
}

// TmTick drives the timer wheel and time-slice accounting exactly as the
// automatic tick source does, for a host program (or test) that wants
// deterministic manual control over kernel time instead of relying on
// wall-clock elapsed time between ticks.
func (k *Kernel) TmTick() {
	tok := k.tasks.Enter()
	k.onTick()
	k.tasks.Exit(tok)
}

// TmWkafter implements tm_wkafter: a caller-suspending sleep of ticks
// kernel ticks. ticks==0 is the original API's "yield" shorthand rather
// than an infinite sleep — spec.md's "timeout=0 means infinite" quirk is
// documented for waiting calls that receive from an object, not for a pure
// sleep with nothing to wait on.
func (k *Kernel) TmWkafter(ticks uint32) kerrno.Code {
	k.checkSlice()
	tok := k.tasks.Enter()
	self := k.tasks.Self()
	if self == nil {
		k.tasks.Exit(tok)
		return kerrno.ObjID
	}
	if ticks == 0 {
		k.tasks.Exit(tok)
		k.tasks.Yield(self)
		return 0
	}

	expire := k.timers.Now() + uint64(ticks)
	timerID, _ := k.timers.Arm(expire, false, 0, func() {
		self.WaitTimerID = 0
		k.tasks.Wake(self, 0)
	})
	self.WaitTimerID = timerID
	return k.tasks.Block(tok, self, task.WaitSleep)
}

// TmWkwhen implements tm_wkwhen: sleeps until the wall-clock time-of-day dt,
// wrapping to the next day if dt has already passed today (spec.md §4.3's
// "rolls over at the encoded 24-hour boundary").
func (k *Kernel) TmWkwhen(dt DateTime) kerrno.Code {
	return k.TmWkafter(k.ticksUntil(dt))
}

// ticksUntil converts a wall-clock time-of-day target into a tick delta
// from the wheel's current wall-clock reading.
func (k *Kernel) ticksUntil(dt DateTime) uint32 {
	tok := k.tasks.Enter()
	now := k.timers.Get()
	rate := int64(k.timers.RateHz())
	k.tasks.Exit(tok)

	nowHundredths := secondsOfDay(now)*100 + int64(now.Hundredths)
	targetHundredths := secondsOfDay(dt)*100 + int64(dt.Hundredths)
	delta := targetHundredths - nowHundredths
	if delta <= 0 {
		delta += secondsPerDay * 100
	}
	return uint32(delta * rate / 100)
}

// TmEvafter implements tm_evafter: a one-shot, non-blocking timer that
// sends mask to the calling task's own event flags on expiry.
func (k *Kernel) TmEvafter(ticks uint32, mask uint32) (uint32, kerrno.Code) {
	k.checkSlice()
	tok := k.tasks.Enter()
	defer k.tasks.Exit(tok)

	self := k.tasks.Self()
	if self == nil {
		return 0, kerrno.ObjID
	}
	tid := self.ID
	expire := k.timers.Now() + uint64(ticks)
	return k.timers.Arm(expire, false, 0, func() {
		k.events.SendLocked(tid, mask)
	})
}

// TmEvevery implements tm_evevery: a periodic timer that sends mask to the
// calling task's own event flags every period ticks, matching spec.md's S5
// scenario ("tm_evevery(10, bit=0x1)" repeatedly satisfying a waiting
// ev_receive).
func (k *Kernel) TmEvevery(period uint32, mask uint32) (uint32, kerrno.Code) {
	k.checkSlice()
	tok := k.tasks.Enter()
	defer k.tasks.Exit(tok)

	self := k.tasks.Self()
	if self == nil {
		return 0, kerrno.ObjID
	}
	tid := self.ID
	expire := k.timers.Now() + uint64(period)
	return k.timers.Arm(expire, true, uint64(period), func() {
		k.events.SendLocked(tid, mask)
	})
}

// TmEvwhen implements tm_evwhen: the absolute-time variant of tm_evafter.
func (k *Kernel) TmEvwhen(dt DateTime, mask uint32) (uint32, kerrno.Code) {
	return k.TmEvafter(k.ticksUntil(dt), mask)
}

// TmCancel implements tm_cancel. Canceling a timer backing a still-blocked
// tm_wkafter/tm_wkwhen call does not wake the task — spec.md §4.3 says it
// "leaves the task blocked so a subsequent signal or timeout can deliver";
// since that task's only pending timeout was the one just canceled, it
// remains blocked until some other call (a future tm_cancel target with a
// fresh timer, or process teardown) reaches it, which is the original's
// documented behavior, not a bug in this rewrite.
func (k *Kernel) TmCancel(id uint32) kerrno.Code {
	k.checkSlice()
	tok := k.tasks.Enter()
	defer k.tasks.Exit(tok)
	return k.timers.Cancel(id)
}
