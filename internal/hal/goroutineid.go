package hal

import "runtime"

// CurrentGoroutineID parses the calling goroutine's id out of a runtime
// stack dump. This is the same trick the teacher's event loop uses
// (eventloop.getGoroutineID) to detect whether a call originates on its own
// loop goroutine; here it backs the host Platform's reentrant critical
// section, and is exported so internal/task can map "which goroutine am I"
// to "which task id is self" without a second implementation.
func CurrentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
