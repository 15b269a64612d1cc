package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/queue"
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

type fixture struct {
	h   *hal.Host
	tc  *task.Core
	tmc *timer.Core
	qc  *queue.Core
}

func newFixture(t *testing.T, arenaSlots int) *fixture {
	t.Helper()
	h := hal.NewHost()
	t.Cleanup(h.Close)
	tc := task.NewCore(h, klog.Noop())
	tmc := timer.NewCore(h, 100, klog.Noop())
	qc := queue.NewCore(tc, tmc, arenaSlots, klog.Noop())
	return &fixture{h: h, tc: tc, tmc: tmc, qc: qc}
}

func msg(b byte) queue.Msg {
	var m queue.Msg
	m[0] = b
	return m
}

func TestSendReceive_FIFOOrder(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '1'}, 4, queue.FIFO)
	require.Zero(t, ec)

	require.Zero(t, f.qc.Send(id, msg('a')))
	require.Zero(t, f.qc.Send(id, msg('b')))

	var got queue.Msg
	require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got))
	assert.Equal(t, byte('a'), got[0])
	require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got))
	assert.Equal(t, byte('b'), got[0])
	assert.Equal(t, kerrno.NoMsg, f.qc.Receive(id, queue.NoWait, 0, &got))
}

func TestUrgent_OvertakesPendingMessages(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '2'}, 4, queue.FIFO)
	require.Zero(t, ec)

	require.Zero(t, f.qc.Send(id, msg('1')))
	require.Zero(t, f.qc.Send(id, msg('2')))
	require.Zero(t, f.qc.Urgent(id, msg('u')))
	require.Zero(t, f.qc.Send(id, msg('3')))

	var got [4]queue.Msg
	for i := range got {
		require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got[i]))
	}
	assert.Equal(t, []byte{'u', '1', '2', '3'}, []byte{got[0][0], got[1][0], got[2][0], got[3][0]})
}

func TestSend_FullQueueThenBackpressureClears(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '3'}, 2, queue.FIFO)
	require.Zero(t, ec)

	require.Zero(t, f.qc.Send(id, msg('a')))
	require.Zero(t, f.qc.Send(id, msg('b')))
	assert.Equal(t, kerrno.QFull, f.qc.Send(id, msg('c')))

	var got queue.Msg
	require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got))
	assert.Equal(t, byte('a'), got[0])

	require.Zero(t, f.qc.Send(id, msg('c')))
	require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got))
	assert.Equal(t, byte('b'), got[0])
}

func TestReceive_BlocksThenUnblocksOnSend(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '4'}, 2, queue.FIFO)
	require.Zero(t, ec)

	tid, ec := f.tc.Create([4]byte{'r', 'c', 'v', '1'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	result := make(chan queue.Msg, 1)
	require.Zero(t, f.tc.Start(tid, task.Preempt, func([4]uint32) {
		var got queue.Msg
		f.qc.Receive(id, queue.Wait, 0, &got)
		result <- got
	}, [4]uint32{}))

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, f.qc.Send(id, msg('z')))

	select {
	case got := <-result:
		assert.Equal(t, byte('z'), got[0])
	case <-time.After(time.Second):
		t.Fatal("receiver never woken by send")
	}
}

func TestBroadcast_DeliversToAllWaitersWithoutEnqueueing(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '5'}, 2, queue.FIFO)
	require.Zero(t, ec)

	const n = 3
	results := make(chan queue.Msg, n)
	for i := 0; i < n; i++ {
		tid, ec := f.tc.Create([4]byte{'b', 'c', byte('0' + i), 0}, 10, task.MinStackBytes, task.Preempt)
		require.Zero(t, ec)
		require.Zero(t, f.tc.Start(tid, task.Preempt, func([4]uint32) {
			var got queue.Msg
			f.qc.Receive(id, queue.Wait, 0, &got)
			results <- got
		}, [4]uint32{}))
	}

	time.Sleep(10 * time.Millisecond)
	count, ec := f.qc.Broadcast(id, msg('x'))
	require.Zero(t, ec)
	assert.Equal(t, n, count)

	for i := 0; i < n; i++ {
		select {
		case got := <-results:
			assert.Equal(t, byte('x'), got[0])
		case <-time.After(time.Second):
			t.Fatal("not all waiters received the broadcast")
		}
	}

	var got queue.Msg
	assert.Equal(t, kerrno.NoMsg, f.qc.Receive(id, queue.NoWait, 0, &got), "broadcast must not enqueue")
}

func TestBroadcast_NoWaitersDropsMessage(t *testing.T) {
	f := newFixture(t, 16)
	id, ec := f.qc.Create([4]byte{'q', '6'}, 2, queue.FIFO)
	require.Zero(t, ec)

	count, ec := f.qc.Broadcast(id, msg('y'))
	require.Zero(t, ec)
	assert.Zero(t, count)

	var got queue.Msg
	assert.Equal(t, kerrno.NoMsg, f.qc.Receive(id, queue.NoWait, 0, &got))
}

func TestCreate_ArenaExhaustion(t *testing.T) {
	f := newFixture(t, 4)
	_, ec := f.qc.Create([4]byte{'a', '1'}, 4, queue.FIFO)
	require.Zero(t, ec)

	_, ec = f.qc.Create([4]byte{'a', '2'}, 1, queue.FIFO)
	assert.Equal(t, kerrno.NoMsgBuf, ec)
}

func TestDelete_ReclaimsArenaAndWakesWaitersWithQueueDeleted(t *testing.T) {
	f := newFixture(t, 8)
	id, ec := f.qc.Create([4]byte{'q', '7'}, 4, queue.FIFO)
	require.Zero(t, ec)

	tid, ec := f.tc.Create([4]byte{'d', 'e', 'l', 'q'}, 10, task.MinStackBytes, task.Preempt)
	require.Zero(t, ec)

	result := make(chan kerrno.Code, 1)
	require.Zero(t, f.tc.Start(tid, task.Preempt, func([4]uint32) {
		var got queue.Msg
		result <- f.qc.Receive(id, queue.Wait, 0, &got)
	}, [4]uint32{}))

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, f.qc.Delete(id))

	select {
	case r := <-result:
		assert.Equal(t, kerrno.QueueDeleted, r)
	case <-time.After(time.Second):
		t.Fatal("receiver never woken by delete")
	}

	// The arena slots are reclaimed: a same-size queue can be created again.
	_, ec = f.qc.Create([4]byte{'q', '8'}, 4, queue.FIFO)
	assert.Zero(t, ec)
}

func TestInfo_TracksDepthAndHighWater(t *testing.T) {
	f := newFixture(t, 8)
	id, ec := f.qc.Create([4]byte{'q', '9'}, 4, queue.FIFO)
	require.Zero(t, ec)

	require.Zero(t, f.qc.Send(id, msg('a')))
	require.Zero(t, f.qc.Send(id, msg('b')))

	info, ec := f.qc.Info(id)
	require.Zero(t, ec)
	assert.Equal(t, 2, info.Depth)
	assert.Equal(t, 2, info.HighWater)

	var got queue.Msg
	require.Zero(t, f.qc.Receive(id, queue.NoWait, 0, &got))

	info, ec = f.qc.Info(id)
	require.Zero(t, ec)
	assert.Equal(t, 1, info.Depth)
	assert.Equal(t, 2, info.HighWater, "high-water mark persists after depth drops")
}
