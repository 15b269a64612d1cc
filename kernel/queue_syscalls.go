package kernel

import (
	"github.com/joeycumines/go-rtkernel/internal/queue"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// QueueOrder re-exports internal/queue's wait-list discipline.
type QueueOrder = queue.Order

const (
	QueueFIFO     = queue.FIFO
	QueuePriority = queue.Priority
)

// QueueWaitFlags re-exports internal/queue's blocking-control flags.
type QueueWaitFlags = queue.WaitFlags

const (
	QueueWait   = queue.Wait
	QueueNoWait = queue.NoWait
)

// Msg is one fixed-size 16-byte message, the unit every queue operation
// copies.
type Msg = queue.Msg

// QueueInfo is the depth/capacity/high-water snapshot returned by
// QueueStats.
type QueueInfo = queue.QueueInfo

// QCreate implements q_create.
func (k *Kernel) QCreate(name [4]byte, capacity int, order QueueOrder) (uint32, kerrno.Code) {
	k.checkSlice()
	return k.queues.Create(name, capacity, order)
}

// QDelete implements q_delete.
func (k *Kernel) QDelete(id uint32) kerrno.Code {
	k.checkSlice()
	return k.queues.Delete(id)
}

// QIdent implements q_ident.
func (k *Kernel) QIdent(name [4]byte) (uint32, kerrno.Code) {
	k.checkSlice()
	return k.queues.Ident(name)
}

// QSend implements q_send.
func (k *Kernel) QSend(id uint32, msg Msg) kerrno.Code {
	k.checkSlice()
	return k.queues.Send(id, msg)
}

// QUrgent implements q_urgent.
func (k *Kernel) QUrgent(id uint32, msg Msg) kerrno.Code {
	k.checkSlice()
	return k.queues.Urgent(id, msg)
}

// QBroadcast implements q_broadcast.
func (k *Kernel) QBroadcast(id uint32, msg Msg) (int, kerrno.Code) {
	k.checkSlice()
	return k.queues.Broadcast(id, msg)
}

// QReceive implements q_receive.
func (k *Kernel) QReceive(id uint32, flags QueueWaitFlags, timeoutTicks uint32, out *Msg) kerrno.Code {
	k.checkSlice()
	return k.queues.Receive(id, flags, timeoutTicks, out)
}

// QueueStats is the supplemental, non-pSOS-standard high-water/depth
// accessor carried over from original_source's q_vcreate stats word
// (SPEC_FULL §9A).
func (k *Kernel) QueueStats(id uint32) (QueueInfo, kerrno.Code) {
	k.checkSlice()
	return k.queues.Info(id)
}

// QVCreate is q_vcreate: the variable-length queue family's creation call.
// spec.md §9 leaves q_v* as a thin forwarder to the fixed-size path rather
// than a real length-prefixed arena; capacity is the same fixed-message-slot
// count q_create takes.
func (k *Kernel) QVCreate(name [4]byte, capacity int, order QueueOrder) (uint32, kerrno.Code) {
	return k.QCreate(name, capacity, order)
}

// QVSend is q_vsend: copies up to queue.MsgSize bytes of data into a fixed
// slot, zero-padded if shorter. A payload longer than one fixed slot can
// hold is rejected with NoMsgBuf — the thin-forwarder q_v* family has no
// length-prefixed arena to spill into (spec.md §9's open question, resolved
// as documented).
func (k *Kernel) QVSend(id uint32, data []byte) kerrno.Code {
	if len(data) > queue.MsgSize {
		return kerrno.NoMsgBuf
	}
	var msg Msg
	copy(msg[:], data)
	return k.QSend(id, msg)
}

// QVReceive is q_vreceive: receives one fixed slot and copies min(len(buf),
// queue.MsgSize) bytes into buf, returning the number of bytes copied.
func (k *Kernel) QVReceive(id uint32, flags QueueWaitFlags, timeoutTicks uint32, buf []byte) (int, kerrno.Code) {
	var msg Msg
	ec := k.QReceive(id, flags, timeoutTicks, &msg)
	if ec != 0 {
		return 0, ec
	}
	n := copy(buf, msg[:])
	return n, 0
}
