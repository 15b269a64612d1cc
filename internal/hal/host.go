package hal

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Host is the development/test Platform backend: critical sections are a
// global mutex, each task context is one goroutine parked on a resume gate,
// the tick source is a plain time.Ticker, and the alarm is a pluggable
// backend (timerfd+epoll on Linux, time.AfterFunc elsewhere). This is the
// "one host thread per task, gated by mutex+condvar" backend spec.md
// describes; it is what the kernel's test suite and any non-embedded build
// run on.
type Host struct {
	mu      sync.Mutex
	ownerID atomic.Uint64
	depth   int

	start time.Time
	alarm hostAlarmBackend
}

// hostAlarmBackend is the pluggable single-shot alarm mechanism behind
// AlarmSet/AlarmCancel. Two implementations exist: linuxAlarm (timerfd +
// epoll, alarm_linux.go) and timerAlarmBackend (time.AfterFunc,
// shared fallback below), selected by the build-tagged
// newHostAlarmBackend constructor in alarm_linux.go / alarm_other.go.
type hostAlarmBackend interface {
	arm(delay time.Duration, fire func())
	disarm()
	close()
}

// NewHost constructs a ready-to-use host Platform.
func NewHost() *Host {
	h := &Host{start: time.Now()}
	h.alarm = newHostAlarmBackend(h)
	return h
}

// Close releases the host alarm backend's platform resources (the
// timerfd/epoll pair on Linux). Safe to skip in short-lived tests; harmless
// to call more than once.
func (h *Host) Close() {
	h.alarm.close()
}

// timerAlarmBackend is the portable hostAlarmBackend, built on
// time.AfterFunc; used on every non-Linux host and as the Linux fallback
// if timerfd/epoll setup fails.
type timerAlarmBackend struct {
	mu    sync.Mutex
	timer *time.Timer
}

func newTimerAlarmBackend() *timerAlarmBackend {
	return &timerAlarmBackend{}
}

func (b *timerAlarmBackend) arm(delay time.Duration, fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(delay, fire)
}

func (b *timerAlarmBackend) disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *timerAlarmBackend) close() {
	b.disarm()
}

var _ Platform = (*Host)(nil)
var _ Clock = (*Host)(nil)

// CriticalEnter acquires the kernel's single host-wide lock, reentrantly
// for the goroutine that already holds it.
func (h *Host) CriticalEnter() CriticalToken {
	gid := CurrentGoroutineID()
	if h.ownerID.Load() == gid {
		h.depth++
		return CriticalToken{depth: h.depth}
	}
	h.mu.Lock()
	h.ownerID.Store(gid)
	h.depth = 1
	return CriticalToken{depth: 1}
}

// CriticalExit releases one level of nesting, unlocking only when the
// outermost CriticalEnter is matched.
func (h *Host) CriticalExit(CriticalToken) {
	h.depth--
	if h.depth == 0 {
		h.ownerID.Store(0)
		h.mu.Unlock()
	}
}

// Now returns an approximate monotonic tick count derived from wall-clock
// elapsed time since the Host was constructed; used only to schedule the
// single outstanding host alarm, independent of the kernel's own logical
// tick counter.
func (h *Host) Now() uint64 {
	return uint64(time.Since(h.start) / baseTickDuration)
}

// Resolution reports baseTickDuration, the wall-clock duration of one
// Now() unit; internal/timer uses it to convert a kernel-logical tick
// deadline into an absTick value AlarmSet understands.
func (h *Host) Resolution() time.Duration {
	return baseTickDuration
}

// baseTickDuration is the resolution Now() reports at; it is finer than
// any configured tick rate so AlarmSet's deadline math never rounds a
// requested tick down to "already due".
const baseTickDuration = time.Millisecond

type hostTickSource struct {
	ticker *time.Ticker
	done   chan struct{}
}

func (t *hostTickSource) Stop() {
	t.ticker.Stop()
	close(t.done)
}

// TickSourceStart spawns a goroutine driving onTick at rateHz, each
// invocation wrapped in the platform's critical section.
func (h *Host) TickSourceStart(rateHz int, onTick func()) (TickSource, error) {
	period := TickDuration(rateHz)
	ts := &hostTickSource{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-ts.done:
				return
			case <-ts.ticker.C:
				tok := h.CriticalEnter()
				onTick()
				h.CriticalExit(tok)
			}
		}
	}()
	return ts, nil
}

// AlarmSet reprograms the single pending host alarm to fire at absTick,
// measured in Host.Now() units. onFire runs with the critical section
// held, matching the Platform contract.
func (h *Host) AlarmSet(absTick uint64, onFire func()) {
	now := h.Now()
	var delay time.Duration
	if absTick > now {
		delay = time.Duration(absTick-now) * baseTickDuration
	}
	h.alarm.arm(delay, func() {
		tok := h.CriticalEnter()
		onFire()
		h.CriticalExit(tok)
	})
}

// AlarmCancel cancels any pending alarm.
func (h *Host) AlarmCancel() {
	h.alarm.disarm()
}

// hostContext is one task's execution context: a goroutine parked on
// resume, woken by ContextSwitch, and torn down by ContextDestroy via
// kill. ContextCreate takes a stack only so Host satisfies the same
// constructor shape as the embedded backend; it is ignored here (callers
// validate stack sizing themselves) and the goroutine's real stack is
// managed by the Go runtime.
type hostContext struct {
	resume  chan struct{}
	kill    chan struct{}
	killOnce sync.Once
	wg      sync.WaitGroup
	readyCh chan struct{}
}

func (c *hostContext) ready() {
	<-c.readyCh
}

var _ Context = (*hostContext)(nil)

// ContextCreate spawns the task goroutine, parked until the first
// ContextSwitch resumes it.
func (h *Host) ContextCreate(stack []byte, entry func(args [4]uint32), args [4]uint32) (Context, error) {
	ctx := &hostContext{
		resume:  make(chan struct{}, 1),
		kill:    make(chan struct{}),
		readyCh: make(chan struct{}),
	}
	ctx.wg.Add(1)
	go func() {
		defer ctx.wg.Done()
		defer func() {
			// A panicking task must not take the whole host process down;
			// it simply never runs again, same as a crashed embedded task.
			_ = recover()
		}()

		close(ctx.readyCh)

		select {
		case <-ctx.resume:
		case <-ctx.kill:
			return
		}

		entry(args)

		// The task function returned; park until ContextDestroy reclaims
		// this goroutine. A pSOS task is not expected to return, but a
		// host test's task body may, for convenience.
		<-ctx.kill
	}()
	return ctx, nil
}

// ContextSwitch resumes next and, if prev is non-nil, blocks the calling
// goroutine (which must be prev's own goroutine) until it is next resumed
// or killed.
func (h *Host) ContextSwitch(prev, next Context) {
	if next != nil {
		nc := next.(*hostContext)
		select {
		case nc.resume <- struct{}{}:
		default:
			// Already has a pending resume signal (shouldn't happen under
			// the scheduler's own invariants, but stays idempotent).
		}
	}
	if prev != nil {
		pc := prev.(*hostContext)
		select {
		case <-pc.resume:
		case <-pc.kill:
			runtime.Goexit()
		}
	}
}

// ContextDestroy signals the task goroutine to exit and joins it.
func (h *Host) ContextDestroy(ctx Context) {
	hc := ctx.(*hostContext)
	hc.killOnce.Do(func() { close(hc.kill) })
	hc.wg.Wait()
}
