package task_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

func newCore(t *testing.T) *task.Core {
	t.Helper()
	h := hal.NewHost()
	t.Cleanup(h.Close)
	return task.NewCore(h, klog.Noop())
}

func TestNewCore_IdleIsRunning(t *testing.T) {
	c := newCore(t)
	require.NotNil(t, c.Running())
	assert.Equal(t, task.IdlePriority, c.Running().Priority)
}

func TestCreate_ValidatesPriority(t *testing.T) {
	c := newCore(t)

	_, ec := c.Create([4]byte{'b', 'a', 'd', '1'}, 0, task.MinStackBytes, task.Preempt)
	assert.Equal(t, kerrno.Priority, ec)

	_, ec = c.Create([4]byte{'b', 'a', 'd', '2'}, task.MaxPriority+1, task.MinStackBytes, task.Preempt)
	assert.Equal(t, kerrno.Priority, ec)
}

func TestCreate_ValidatesStackSize(t *testing.T) {
	c := newCore(t)
	_, ec := c.Create([4]byte{'t', 'i', 'n', 'y'}, 10, task.MinStackBytes-1, task.Preempt)
	assert.Equal(t, kerrno.TinyStack, ec)
}

func TestCreate_ExhaustsTCBPool(t *testing.T) {
	c := newCore(t)
	// idle already consumed one slot.
	for i := 0; i < task.MaxTasks-1; i++ {
		name := [4]byte{'t', byte('a' + i%26), byte('0' + i/26), 0}
		_, ec := c.Create(name, 50, task.MinStackBytes, task.Preempt)
		require.Equalf(t, kerrno.Code(0), ec, "create %d", i)
	}
	_, ec := c.Create([4]byte{'o', 'v', 'e', 'r'}, 50, task.MinStackBytes, task.Preempt)
	assert.Equal(t, kerrno.NoTCB, ec)
}

func TestIdent_RoundTripAndDeleteRemovesName(t *testing.T) {
	c := newCore(t)
	name := [4]byte{'f', 'o', 'o', '1'}
	id, ec := c.Create(name, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	got, ec := c.Ident(name, false)
	require.Zero(t, ec)
	assert.Equal(t, id, got)

	require.Zero(t, c.Delete(id))

	_, ec = c.Ident(name, false)
	assert.Equal(t, kerrno.ObjNotFound, ec)
}

func TestStart_UnknownTask(t *testing.T) {
	c := newCore(t)
	ec := c.Start(99, task.Preempt, func([4]uint32) {}, [4]uint32{})
	assert.Equal(t, kerrno.ObjID, ec)
}

func TestStart_TwiceIsRejected(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'d', 'u', 'p', '1'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	done := make(chan struct{})
	require.Zero(t, c.Start(id, task.Preempt, func([4]uint32) { <-done }, [4]uint32{}))
	assert.Equal(t, kerrno.Active, c.Start(id, task.Preempt, func([4]uint32) {}, [4]uint32{}))
	close(done)
}

func TestHigherPriorityTaskPreemptsIdle(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'h', 'i', 'g', 'h'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	ran := make(chan uint32, 1)
	require.Zero(t, c.Start(id, task.Preempt, func([4]uint32) {
		ran <- c.Self().ID
	}, [4]uint32{}))

	select {
	case gotID := <-ran:
		assert.Equal(t, id, gotID)
	case <-time.After(time.Second):
		t.Fatal("started task never ran")
	}
}

func TestSuspendResume_RoundTrip(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'s', 'u', 's', 'p'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	block := make(chan struct{})
	require.Zero(t, c.Start(id, task.Preempt, func([4]uint32) { <-block }, [4]uint32{}))

	// Give the task's goroutine a chance to actually start and block on its
	// channel read before we suspend it from outside.
	time.Sleep(10 * time.Millisecond)

	require.Zero(t, c.Suspend(id))
	assert.Equal(t, kerrno.AlreadySuspended, c.Suspend(id))

	require.Zero(t, c.Resume(id))
	assert.Equal(t, kerrno.NotSuspended, c.Resume(id))

	close(block)
}

func TestResume_RequiresSuspended(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'r', 'e', 's', 'm'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)
	assert.Equal(t, kerrno.NotSuspended, c.Resume(id))
}

func TestSetPri_ValidatesRange(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'p', 'r', 'i', 'o'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	assert.Equal(t, kerrno.SetPri, c.SetPri(id, 0, nil))
	assert.Equal(t, kerrno.SetPri, c.SetPri(id, task.MaxPriority+1, nil))

	var old int
	require.Zero(t, c.SetPri(id, 20, &old))
	assert.Equal(t, 10, old)
}

func TestGetSetReg_RoundTrip(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'r', 'e', 'g', '1'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	require.Zero(t, c.SetReg(id, 3, 0xdead))
	var v uint32
	require.Zero(t, c.GetReg(id, 3, &v))
	assert.Equal(t, uint32(0xdead), v)

	assert.Equal(t, kerrno.RegNum, c.SetReg(id, task.NumRegs, 1))
	assert.Equal(t, kerrno.RegNum, c.GetReg(id, -1, &v))
}

func TestBlockWake_RoundTrip(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'b', 'l', 'k', '1'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	result := make(chan kerrno.Code, 1)
	started := make(chan *task.TCB, 1)

	require.Zero(t, c.Start(id, task.Preempt, func([4]uint32) {
		self := c.Self()
		started <- self
		tok := c.Enter() // simulate sem/queue linking self onto a wait list under one section
		result <- c.Block(tok, self, task.WaitSemaphore)
	}, [4]uint32{}))

	var self *task.TCB
	select {
	case self = <-started:
	case <-time.After(time.Second):
		t.Fatal("task never reached Block")
	}

	// Core.Block only parks the caller once it reaches ContextSwitch; give
	// the goroutine a moment to get there before waking it.
	time.Sleep(10 * time.Millisecond)

	tok := c.Enter()
	woke := c.Wake(self, kerrno.Timeout)
	c.FinishAndDispatch(tok)
	assert.True(t, woke)

	select {
	case r := <-result:
		assert.Equal(t, kerrno.Timeout, r)
	case <-time.After(time.Second):
		t.Fatal("blocked task was never resumed")
	}

	tok2 := c.Enter()
	alreadyWoke := c.Wake(self, kerrno.Timeout)
	c.FinishAndDispatch(tok2)
	assert.False(t, alreadyWoke, "waking an already-runnable task should report no-op")
}

func TestRestart_RejectsSelf(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'s', 'e', 'l', 'f'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	result := make(chan kerrno.Code, 1)
	require.Zero(t, c.Start(id, task.Preempt, func([4]uint32) {
		result <- c.Restart(c.Self().ID, [4]uint32{})
	}, [4]uint32{}))

	select {
	case r := <-result:
		assert.Equal(t, kerrno.NotActive, r)
	case <-time.After(time.Second):
		t.Fatal("self-restart never returned")
	}
}

func TestRestart_RequiresStarted(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'n', 'o', 'r', 'n'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)
	assert.Equal(t, kerrno.NotActive, c.Restart(id, [4]uint32{}))
}

func TestModeSet_MasksOnlySelectedBits(t *testing.T) {
	c := newCore(t)
	id, ec := c.Create([4]byte{'m', 'o', 'd', 'e'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	result := make(chan task.Mode, 1)
	require.Zero(t, c.Start(id, task.Preempt|task.NoASR, func([4]uint32) {
		var old task.Mode
		require.Zero(t, c.ModeSet(task.NoPreempt, task.NoPreempt, &old))
		assert.Equal(t, task.Preempt|task.NoASR, old)

		tok := c.Enter()
		got := c.Self().Mode
		c.Exit(tok)
		result <- got
	}, [4]uint32{}))

	select {
	case got := <-result:
		assert.Equal(t, task.NoASR|task.NoPreempt, got)
	case <-time.After(time.Second):
		t.Fatal("task never reported its mode")
	}
}

func TestDelete_UnknownOrIdleRejected(t *testing.T) {
	c := newCore(t)
	assert.Equal(t, kerrno.ObjID, c.Delete(99))

	idleID := c.Running().ID
	assert.Equal(t, kerrno.ObjID, c.Delete(idleID))
}
