package kernel

import (
	"github.com/joeycumines/go-rtkernel/internal/event"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// EventCondition re-exports internal/event's ALL/ANY wake condition.
type EventCondition = event.Condition

const (
	EventAll = event.All
	EventAny = event.Any
)

// EventWaitFlags re-exports internal/event's blocking-control flags.
type EventWaitFlags = event.WaitFlags

const (
	EventWait   = event.Wait
	EventNoWait = event.NoWait
)

// EvSend implements ev_send.
func (k *Kernel) EvSend(tid uint32, mask uint32) kerrno.Code {
	k.checkSlice()
	return k.events.Send(tid, mask)
}

// EvReceive implements ev_receive.
func (k *Kernel) EvReceive(mask uint32, cond EventCondition, flags EventWaitFlags, timeoutTicks uint32, out *uint32) kerrno.Code {
	k.checkSlice()
	return k.events.Receive(mask, cond, flags, timeoutTicks, out)
}
