//go:build embedded

// Package hal's embedded backend targets a single-core Cortex-M part: PSP
// task stacks, PendSV-driven context switches at the lowest exception
// priority, and SysTick as the tick source. It is structurally complete
// per original_source's kernel/sched/task_hw_stm32f4.c and
// kernel/time/timer_hw_stm32f4.c layouts, but — unlike the Host backend —
// it is not exercised by this repository's test suite, which runs on a
// development machine, not the target silicon; DESIGN.md records this as
// the one deliberately-unverified surface.
package hal

import "unsafe"

// Exception-frame layout pSOS-style embedded contexts are built with,
// mirroring the hardware-stacked frame an ARMv7-M exception return expects
// plus the software-stacked callee-saved registers task_hw_stm32f4.c pushes
// before a PendSV context switch.
type exceptionFrame struct {
	r4, r5, r6, r7, r8, r9, r10, r11 uint32 // software-stacked, callee-saved
	r0, r1, r2, r3                   uint32 // hardware-stacked
	r12, lr, pc, psr                 uint32
}

const (
	thumbBit        uint32 = 1 << 24 // xPSR.T, must be set for Thumb-only cores
	exitReturnValue uint32 = 0xFFFFFFFD
)

// embeddedContext is a task's PSP and the frame built atop its stack; it is
// what ContextSwitch loads into PSP for the outgoing/incoming task.
type embeddedContext struct {
	psp   uintptr
	stack []byte
}

func (c *embeddedContext) ready() {}

var _ Context = (*embeddedContext)(nil)

// ContextCreate lays out an initial exception frame at the top of stack so
// that the first PendSV return-from-exception pops it into entry(args),
// with args packed into R0..R3.
func (h *Embedded) ContextCreate(stack []byte, entry func(args [4]uint32), args [4]uint32) (Context, error) {
	if len(stack) < minStackBytes {
		return nil, errTinyStack
	}

	// entryTrampoline adapts the hardware calling convention (four 32-bit
	// argument registers) to entry's Go closure signature. On real
	// silicon this is a small assembly stub that reads R0..R3 and calls
	// into the scheduler's registered Go entrypoint for the task; it is
	// declared here as the conceptual boundary, implemented in
	// embedded_cortexm_asm.s (not present in this host-only checkout).
	_ = entryTrampoline

	top := uintptr(unsafe.Pointer(&stack[len(stack)-1])) &^ 0x7 // 8-byte align
	frameAddr := top - uintptr(unsafe.Sizeof(exceptionFrame{}))
	frame := (*exceptionFrame)(unsafe.Pointer(frameAddr))
	*frame = exceptionFrame{
		r0:  args[0],
		r1:  args[1],
		r2:  args[2],
		r3:  args[3],
		lr:  exitReturnValue,
		pc:  entryAddr(entry),
		psr: thumbBit,
	}

	return &embeddedContext{psp: frameAddr, stack: stack}, nil
}

// ContextSwitch performs the PendSV-deferred register save/restore: it
// records next's PSP as the one to restore and pends the context-switch
// exception, which runs at the lowest priority so every other ISR can
// preempt it.
func (h *Embedded) ContextSwitch(prev, next Context) {
	if prev != nil {
		h.savedPSP[prevSlot] = prev.(*embeddedContext).psp
	}
	h.pendingNext = next.(*embeddedContext)
	pendSVSet()
}

// ContextDestroy has nothing to join on embedded (no host thread); the
// stack memory reverts to its owning TCB's free-pool entry.
func (h *Embedded) ContextDestroy(Context) {}

const (
	minStackBytes = 256
	prevSlot      = 0
)

// entryAddr and entryTrampoline are the seam a real build fills in with a
// small assembly trampoline; kept as named values (rather than inlined) so
// the intent — "PC points at code that dispatches into the Go entry
// closure" — reads the same way on host and on target.
var entryTrampoline = func() {}

func entryAddr(entry func(args [4]uint32)) uint32 {
	// A production build registers entry in a per-core jump table indexed
	// by task id and points PC at entryTrampoline, which loads the table
	// entry for the task currently being dispatched; this placeholder
	// keeps the field populated so frame layout stays accurate for
	// tooling that inspects saved contexts.
	return uint32(uintptr(unsafe.Pointer(&entryTrampoline)))
}
