// Package hal is the kernel's hardware-abstraction boundary (component C1).
//
// It exposes the small, fixed set of primitives the rest of the kernel
// needs — a nestable critical section, a periodic tick source, a one-shot
// alarm, and a task execution context — behind a single Platform interface.
// Two concrete backends satisfy it: Host (this process's goroutines, used
// for development and the test suite) and Embedded (a bare-metal Cortex-M
// target, selected with the "embedded" build tag). Dispatch between them is
// a compile-time choice, not a runtime vtable, matching the small and
// non-heterogeneous nature of this capability set.
package hal

import "time"

// Platform is the capability set the kernel core (internal/task,
// internal/timer) is written against.
type Platform interface {
	Clock

	// CriticalEnter begins a nestable critical section. All kernel data
	// structure mutations happen while one is held. Returns a token that
	// must be passed to CriticalExit exactly once.
	CriticalEnter() CriticalToken
	// CriticalExit ends the critical section opened by the matching
	// CriticalEnter call.
	CriticalExit(CriticalToken)

	// TickSourceStart arranges for onTick to be invoked at rateHz, until
	// Stop is called on the returned handle. onTick runs with the critical
	// section already held.
	TickSourceStart(rateHz int, onTick func()) (TickSource, error)

	// AlarmSet arranges a one-shot invocation of onFire at absolute tick
	// absTick, where "tick" is the monotonic count driven by the tick
	// source started above. Calling AlarmSet again replaces any pending
	// alarm so the timer wheel only ever needs one outstanding alarm. A
	// zero or past absTick fires as soon as possible. onFire runs with the
	// critical section held.
	AlarmSet(absTick uint64, onFire func())
	// AlarmCancel cancels any pending alarm; a no-op if none is pending.
	AlarmCancel()

	// ContextCreate builds a suspended execution context that will invoke
	// entry(args) once started via ContextSwitch.
	ContextCreate(stack []byte, entry func(args [4]uint32), args [4]uint32) (Context, error)
	// ContextSwitch saves prev (nil when the caller is not parking a task
	// of its own) and resumes next. With a nil prev it returns at once;
	// otherwise it returns once prev is itself switched back in.
	//
	// Callers must invoke ContextSwitch only after CriticalExit: the
	// register switch happens on exit from the critical section, never
	// while it is held, so that the goroutine being resumed is free to
	// take the critical section itself.
	ContextSwitch(prev, next Context)
	// ContextDestroy releases any platform resources associated with ctx.
	// Safe to call on every exit path; idempotent.
	ContextDestroy(ctx Context)
}

// CriticalToken is an opaque nesting marker returned by CriticalEnter.
type CriticalToken struct{ depth int }

// TickSource is a handle to a running periodic tick callback.
type TickSource interface {
	Stop()
}

// Context is an opaque handle to one task's platform execution context.
type Context interface {
	// ready blocks, on the host backend, until the context's goroutine is
	// running and about to wait for its first ContextSwitch-in; on the
	// embedded backend it returns at once. No package currently calls it.
	ready()
}

// Clock is the time source the timer wheel (component C3) converts between
// its own logical tick domain (the rate passed to TickSourceStart) and
// whatever finer- or coarser-grained domain a Platform's AlarmSet expects
// absTick to be expressed in. Now and Resolution must describe the same
// domain: Now returns a monotonic count of Resolution-sized units, and
// AlarmSet's absTick is in that same count.
type Clock interface {
	// Now returns the current monotonic tick count, in Resolution units.
	Now() uint64
	// Resolution is the wall-clock duration of one Now() unit.
	Resolution() time.Duration
}

// DefaultTickRateHz is the original API's documented tick rate: 100 Hz,
// i.e. a 10ms tick.
const DefaultTickRateHz = 100

// TickDuration is the wall-clock period of one tick at the given rate.
func TickDuration(rateHz int) time.Duration {
	if rateHz <= 0 {
		rateHz = DefaultTickRateHz
	}
	return time.Second / time.Duration(rateHz)
}
