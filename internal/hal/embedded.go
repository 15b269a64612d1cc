//go:build embedded

package hal

import (
	"errors"
	"time"
)

var errTinyStack = errors.New("hal: stack too small for an exception frame")

// Embedded is the bare-metal Cortex-M Platform backend. A single instance
// is constructed at kernel init and owns the CPU for the lifetime of the
// process; there is no second thread of control to coordinate with, so
// unlike Host, CriticalEnter/CriticalExit toggle PRIMASK rather than take a
// lock.
type Embedded struct {
	primaskDepth int
	savedPSP     [1]uintptr // [prevSlot]: outgoing task's saved PSP
	pendingNext  *embeddedContext

	tickCount  uint64
	tickPeriod time.Duration
}

var _ Platform = (*Embedded)(nil)

// NewEmbedded constructs the embedded Platform. Must be called once, at
// boot, before interrupts are enabled.
func NewEmbedded() *Embedded {
	return &Embedded{}
}

// CriticalEnter nestably disables interrupts (CPSID I / raise BASEPRI to
// the context-switch exception's priority, per original_source's
// task_hw_stm32f4.c gxkTaskLock).
func (h *Embedded) CriticalEnter() CriticalToken {
	if h.primaskDepth == 0 {
		disableInterrupts()
	}
	h.primaskDepth++
	return CriticalToken{depth: h.primaskDepth}
}

// CriticalExit re-enables interrupts once the outermost CriticalEnter is
// matched.
func (h *Embedded) CriticalExit(CriticalToken) {
	h.primaskDepth--
	if h.primaskDepth == 0 {
		enableInterrupts()
	}
}

// TickSourceStart configures SysTick for rateHz and registers onTick as
// the handler invoked from the SysTick_Handler ISR (itself outside this
// package — see original_source/kernel/time/timer_hw_stm32f4.c). The
// handler also advances tickCount, so Now()/Resolution() describe exactly
// the same domain AlarmSet's absTick is expressed in on this backend: the
// kernel's own logical tick, with no host-style unit conversion needed.
func (h *Embedded) TickSourceStart(rateHz int, onTick func()) (TickSource, error) {
	h.tickPeriod = TickDuration(rateHz)
	systickConfigure(rateHz)
	systickHandler = func() {
		h.tickCount++
		onTick()
	}
	return systickSource{}, nil
}

// Now returns the kernel-logical tick count advanced by the SysTick
// handler above.
func (h *Embedded) Now() uint64 { return h.tickCount }

// Resolution is exactly one kernel tick: TickSourceStart's onTick and
// AlarmSet's absTick already share this backend's only time domain.
func (h *Embedded) Resolution() time.Duration { return h.tickPeriod }

type systickSource struct{}

func (systickSource) Stop() { systickHandler = nil }

// systickHandler is invoked by the target's SysTick_Handler (assembly
// vector table entry, not present in this host-only checkout) once per
// tick, with interrupts already masked to the context-switch exception's
// priority.
var systickHandler func()

// AlarmSet programs the one hardware compare channel reserved for the
// timer wheel's alarm.
func (h *Embedded) AlarmSet(absTick uint64, onFire func()) {
	alarmHandler = onFire
	alarmCompareSet(absTick)
}

// AlarmCancel disables the compare channel's interrupt.
func (h *Embedded) AlarmCancel() {
	alarmHandler = nil
	alarmCompareDisable()
}

var alarmHandler func()

// The following are the seams a real board-support package fills in;
// declaring them here (rather than inlining register pokes into this
// portable-looking file) keeps the scheduler/timer-facing API identical
// between Host and Embedded while the actual MMIO lives in per-MCU files
// this checkout does not include.
func disableInterrupts()             {}
func enableInterrupts()               {}
func systickConfigure(rateHz int)     { _ = rateHz }
func alarmCompareSet(absTick uint64)  { _ = absTick }
func alarmCompareDisable()            {}
func pendSVSet()                      {}
