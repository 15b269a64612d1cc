// Package queue implements fixed-capacity message queues (component C5),
// backed by a single global message-slot arena shared across every queue
// in the kernel. It depends on internal/task and internal/timer the same
// way internal/sem does, for the same reason (C5→{C2,C3}).
//
// Grounded on original_source's gxkQueue.c: a QCB pool plus one
// Message[MAX_MSGBUF] arena, where q_create reserves a contiguous run of
// slots for its own ring and q_delete returns them — "a slab allocator
// with bump+free-list suffices because queues are rarely created/destroyed
// after init", implemented below as a sorted free-list with
// adjacent-range coalescing.
package queue

import (
	"sort"

	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/internal/timer"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// MsgSize is the fixed message size the arena is sliced into.
const MsgSize = 16

// Msg is one fixed-size message.
type Msg [MsgSize]byte

// DefaultArenaSlots is the default total slot count across every queue, per
// SPEC_FULL's configuration defaults.
const DefaultArenaSlots = 2048

// MaxQueues bounds the QCB pool.
const MaxQueues = 64

// Order selects how a queue's receiver wait list is kept, the same two
// disciplines internal/sem offers for its waiters.
type Order uint8

const (
	FIFO Order = iota
	Priority
)

// WaitFlags controls Receive's blocking behavior.
type WaitFlags uint32

const (
	Wait   WaitFlags = 0
	NoWait WaitFlags = 0x01
)

// QueueInfo is the read-only snapshot exposed by Info, including the
// high-water mark supplemented from original_source (SPEC_FULL §9A).
type QueueInfo struct {
	Capacity  int
	Depth     int
	HighWater int
}

// QCB is one queue control block: a ring over a contiguous arena slice.
type QCB struct {
	ID       uint32
	Name     [4]byte
	Capacity int
	Order    Order

	arenaBase int
	head      int
	count     int
	highWater int

	waitHead, waitTail *task.TCB
}

type freeRange struct{ offset, size int }

// Core is the queue manager: the QCB pool, the shared message-slot arena,
// and the arena's free-list allocator.
type Core struct {
	tasks  *task.Core
	timers *timer.Core
	log    klog.Logger

	arena    []Msg
	freeList []freeRange

	qcbs    [MaxQueues + 1]*QCB
	freeIDs []uint32
	names   map[[4]byte]uint32

	broadcastPayload map[uint32]Msg
}

// NewCore constructs a queue manager with a totalSlots-sized arena, sharing
// tasks' scheduler and timers' wheel with the rest of the kernel.
func NewCore(tasks *task.Core, timers *timer.Core, totalSlots int, log klog.Logger) *Core {
	if log == nil {
		log = klog.Noop()
	}
	if totalSlots <= 0 {
		totalSlots = DefaultArenaSlots
	}
	c := &Core{
		tasks:            tasks,
		timers:           timers,
		log:              log,
		arena:            make([]Msg, totalSlots),
		freeList:         []freeRange{{offset: 0, size: totalSlots}},
		names:            make(map[[4]byte]uint32, MaxQueues),
		broadcastPayload: make(map[uint32]Msg),
	}
	for id := uint32(MaxQueues); id >= 1; id-- {
		c.freeIDs = append(c.freeIDs, id)
	}
	return c
}

// allocArena first-fits n contiguous slots out of the free list, splitting
// the chosen range if it is larger than requested.
func (c *Core) allocArena(n int) (int, bool) {
	for i, r := range c.freeList {
		if r.size < n {
			continue
		}
		offset := r.offset
		if r.size == n {
			c.freeList = append(c.freeList[:i], c.freeList[i+1:]...)
		} else {
			c.freeList[i] = freeRange{offset: r.offset + n, size: r.size - n}
		}
		return offset, true
	}
	return 0, false
}

// freeArena returns a range to the free list, keeping it sorted by offset
// and coalescing adjacent ranges so long-lived kernels don't fragment the
// arena across repeated create/delete cycles.
func (c *Core) freeArena(offset, n int) {
	c.freeList = append(c.freeList, freeRange{offset, n})
	sort.Slice(c.freeList, func(i, j int) bool { return c.freeList[i].offset < c.freeList[j].offset })
	merged := c.freeList[:1]
	for _, r := range c.freeList[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == r.offset {
			last.size += r.size
		} else {
			merged = append(merged, r)
		}
	}
	c.freeList = merged
}

func enqueue(q *QCB, t *task.TCB) {
	if q.Order == FIFO {
		tailInsert(q, t)
		return
	}
	cur := q.waitHead
	for cur != nil && cur.Priority <= t.Priority {
		cur = cur.WaitNext
	}
	if cur == nil {
		tailInsert(q, t)
		return
	}
	t.WaitNext = cur
	t.WaitPrev = cur.WaitPrev
	if cur.WaitPrev != nil {
		cur.WaitPrev.WaitNext = t
	} else {
		q.waitHead = t
	}
	cur.WaitPrev = t
}

func tailInsert(q *QCB, t *task.TCB) {
	t.WaitNext = nil
	t.WaitPrev = q.waitTail
	if q.waitTail != nil {
		q.waitTail.WaitNext = t
	} else {
		q.waitHead = t
	}
	q.waitTail = t
}

func unlink(q *QCB, t *task.TCB) {
	if t.WaitPrev != nil {
		t.WaitPrev.WaitNext = t.WaitNext
	} else {
		q.waitHead = t.WaitNext
	}
	if t.WaitNext != nil {
		t.WaitNext.WaitPrev = t.WaitPrev
	} else {
		q.waitTail = t.WaitPrev
	}
	t.WaitPrev, t.WaitNext = nil, nil
}

func (c *Core) cancelTimeout(t *task.TCB) {
	if t.WaitTimerID != 0 {
		c.timers.Cancel(t.WaitTimerID)
		t.WaitTimerID = 0
	}
}

// wakeOneReceiver unlinks and wakes the queue's longest-waiting (or
// highest-priority, per Order) receiver, if any.
func (c *Core) wakeOneReceiver(q *QCB) {
	if q.waitHead == nil {
		return
	}
	t := q.waitHead
	unlink(q, t)
	c.cancelTimeout(t)
	c.tasks.Wake(t, 0)
}

// Create reserves capacity contiguous arena slots for a new ring.
func (c *Core) Create(name [4]byte, capacity int, order Order) (uint32, kerrno.Code) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)

	if len(c.freeIDs) == 0 {
		return 0, kerrno.NoQCB
	}
	if capacity < 1 {
		capacity = 1
	}
	base, ok := c.allocArena(capacity)
	if !ok {
		return 0, kerrno.NoMsgBuf
	}

	id := c.freeIDs[len(c.freeIDs)-1]
	c.freeIDs = c.freeIDs[:len(c.freeIDs)-1]

	q := &QCB{ID: id, Name: name, Capacity: capacity, Order: order, arenaBase: base}
	c.qcbs[id] = q
	c.names[name] = id
	c.log.Log(klog.LevelDebug, "queue", "created", klog.Fields{"queue_id": id, "capacity": capacity})
	return id, 0
}

func (c *Core) lookup(id uint32) (*QCB, kerrno.Code) {
	if id < 1 || id > MaxQueues || c.qcbs[id] == nil {
		return nil, kerrno.ObjID
	}
	return c.qcbs[id], 0
}

// Delete reclaims a queue's arena slots, waking every waiter with
// QueueDeleted.
func (c *Core) Delete(id uint32) kerrno.Code {
	tok := c.tasks.Enter()

	q, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	for t := q.waitHead; t != nil; {
		next := t.WaitNext
		unlink(q, t)
		c.cancelTimeout(t)
		c.tasks.Wake(t, kerrno.QueueDeleted)
		t = next
	}
	c.freeArena(q.arenaBase, q.Capacity)
	delete(c.names, q.Name)
	c.qcbs[id] = nil
	c.freeIDs = append(c.freeIDs, id)
	c.log.Log(klog.LevelDebug, "queue", "deleted", klog.Fields{"queue_id": id})

	c.tasks.FinishAndDispatch(tok)
	return 0
}

// Ident resolves a queue by its exact 4-byte name.
func (c *Core) Ident(name [4]byte) (uint32, kerrno.Code) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)
	id, ok := c.names[name]
	if !ok {
		return 0, kerrno.ObjNotFound
	}
	return id, 0
}

// Info snapshots a queue's depth/capacity/high-water mark.
func (c *Core) Info(id uint32) (QueueInfo, kerrno.Code) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)
	q, ec := c.lookup(id)
	if ec != 0 {
		return QueueInfo{}, ec
	}
	return QueueInfo{Capacity: q.Capacity, Depth: q.count, HighWater: q.highWater}, 0
}

func (q *QCB) tailSlot() int { return (q.head + q.count) % q.Capacity }

func (c *Core) recordDepth(q *QCB) {
	if q.count > q.highWater {
		q.highWater = q.count
	}
}

// Send implements q_send: appends at the tail, or QFull.
func (c *Core) Send(id uint32, msg Msg) kerrno.Code {
	tok := c.tasks.Enter()

	q, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	if q.count == q.Capacity {
		c.tasks.Exit(tok)
		return kerrno.QFull
	}
	c.arena[q.arenaBase+q.tailSlot()] = msg
	q.count++
	c.recordDepth(q)
	c.wakeOneReceiver(q)

	c.tasks.FinishAndDispatch(tok)
	return 0
}

// Urgent implements q_urgent: inserts immediately before head, so the next
// receive sees it ahead of everything already queued.
func (c *Core) Urgent(id uint32, msg Msg) kerrno.Code {
	tok := c.tasks.Enter()

	q, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return ec
	}
	if q.count == q.Capacity {
		c.tasks.Exit(tok)
		return kerrno.QFull
	}
	q.head = (q.head - 1 + q.Capacity) % q.Capacity
	c.arena[q.arenaBase+q.head] = msg
	q.count++
	c.recordDepth(q)
	c.wakeOneReceiver(q)

	c.tasks.FinishAndDispatch(tok)
	return 0
}

// Broadcast implements q_broadcast: delivers msg directly to every
// currently-waiting receiver (never touching the ring), returning the
// number actually woken.
func (c *Core) Broadcast(id uint32, msg Msg) (int, kerrno.Code) {
	tok := c.tasks.Enter()

	q, ec := c.lookup(id)
	if ec != 0 {
		c.tasks.Exit(tok)
		return 0, ec
	}
	woken := 0
	for t := q.waitHead; t != nil; {
		next := t.WaitNext
		unlink(q, t)
		c.cancelTimeout(t)
		c.broadcastPayload[t.ID] = msg
		c.tasks.Wake(t, 0)
		woken++
		t = next
	}

	c.tasks.FinishAndDispatch(tok)
	return woken, 0
}

func (c *Core) takeBroadcast(taskID uint32) (Msg, bool) {
	tok := c.tasks.Enter()
	defer c.tasks.Exit(tok)
	msg, ok := c.broadcastPayload[taskID]
	if ok {
		delete(c.broadcastPayload, taskID)
	}
	return msg, ok
}

// Receive implements q_receive: pop the head message if any, else block
// (unless NoWait) until a sender wakes this task or timeoutTicks elapses
// (0 = infinite). A wake with no broadcast payload waiting means "retry":
// the loop below rechecks the ring, which a concurrent q_send or q_urgent
// will have already populated before waking this receiver.
func (c *Core) Receive(id uint32, flags WaitFlags, timeoutTicks uint32, out *Msg) kerrno.Code {
	for {
		tok := c.tasks.Enter()

		q, ec := c.lookup(id)
		if ec != 0 {
			c.tasks.Exit(tok)
			return ec
		}
		if q.count > 0 {
			*out = c.arena[q.arenaBase+q.head]
			q.head = (q.head + 1) % q.Capacity
			q.count--
			c.tasks.Exit(tok)
			return 0
		}
		if flags&NoWait != 0 {
			c.tasks.Exit(tok)
			return kerrno.NoMsg
		}

		self := c.tasks.Self()
		if self == nil {
			c.tasks.Exit(tok)
			return kerrno.ObjID
		}
		enqueue(q, self)
		if timeoutTicks > 0 {
			expire := c.timers.Now() + uint64(timeoutTicks)
			timerID, _ := c.timers.Arm(expire, false, 0, func() {
				unlink(q, self)
				c.tasks.Wake(self, kerrno.Timeout)
			})
			self.WaitTimerID = timerID
		}

		result := c.tasks.Block(tok, self, task.WaitQueue)
		if result != 0 {
			return result
		}
		if msg, ok := c.takeBroadcast(self.ID); ok {
			*out = msg
			return 0
		}
		// Otherwise a q_send/q_urgent woke us: loop back and dequeue.
	}
}
