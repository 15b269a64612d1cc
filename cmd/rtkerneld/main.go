// Command rtkerneld is a host demonstration of the kernel's syscall surface:
// two tasks trading a semaphore, a periodic tm_evevery driving an
// ev_receive loop, and a producer/consumer queue, all logged through the
// kernel's own klog seam.
//
// Run with: go run ./cmd/rtkerneld
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-rtkernel/internal/hal"
	"github.com/joeycumines/go-rtkernel/internal/klog"
	"github.com/joeycumines/go-rtkernel/kerrno"
	"github.com/joeycumines/go-rtkernel/kernel"
)

func main() {
	cfg := kernel.DefaultConfig()
	cfg.Logger = klog.NewZerolog(klog.LevelInfo)

	k := kernel.New(hal.NewHost(), cfg)
	defer k.Close()

	semID, ec := k.SmCreate([4]byte{'t', 'o', 'k', 'n'}, 0, 1, kernel.SemFIFO)
	mustZero("sm_create", ec)

	queueID, ec := k.QCreate([4]byte{'w', 'o', 'r', 'k'}, 4, kernel.QueueFIFO)
	mustZero("q_create", ec)

	producerID, ec := k.TCreate([4]byte{'p', 'r', 'o', 'd'}, 20, 8192, 8192, kernel.Preempt)
	mustZero("t_create producer", ec)
	consumerID, ec := k.TCreate([4]byte{'c', 'o', 'n', 's'}, 10, 8192, 8192, kernel.Preempt)
	mustZero("t_create consumer", ec)
	heartbeatID, ec := k.TCreate([4]byte{'h', 'b', 'e', 'a'}, 30, 8192, 8192, kernel.Preempt)
	mustZero("t_create heartbeat", ec)

	mustZero("t_start consumer", k.TStart(consumerID, kernel.Preempt, func([4]uint32) {
		for i := 0; i < 3; i++ {
			var msg kernel.Msg
			if ec := k.QReceive(queueID, kernel.QueueWait, 0, &msg); ec != 0 {
				fmt.Printf("consumer: q_receive failed: %v\n", ec)
				return
			}
			fmt.Printf("consumer: received message %d\n", msg[0])
			mustZero("sm_v", k.SmV(semID))
		}
	}, [4]uint32{}))

	mustZero("t_start producer", k.TStart(producerID, kernel.Preempt, func([4]uint32) {
		for i := byte(1); i <= 3; i++ {
			mustZero("sm_p", k.SmP(semID, kernel.SemNoWait, 0))
			if ec := k.QSend(queueID, kernel.Msg{i}); ec != 0 {
				fmt.Printf("producer: q_send failed: %v\n", ec)
				return
			}
			fmt.Printf("producer: sent message %d\n", i)
		}
	}, [4]uint32{}))

	mustZero("sm_v initial token", k.SmV(semID))

	mustZero("t_start heartbeat", k.TStart(heartbeatID, kernel.Preempt, func([4]uint32) {
		_, ec := k.TmEvevery(uint32(cfg.TickRateHz), 0x1) // once per simulated second
		if ec != 0 {
			fmt.Printf("heartbeat: tm_evevery failed: %v\n", ec)
			return
		}
		for {
			var r uint32
			if ec := k.EvReceive(0x1, kernel.EventAll, kernel.EventWait, 0, &r); ec != 0 {
				return
			}
			fmt.Println("heartbeat: tick")
		}
	}, [4]uint32{}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("rtkerneld: shutting down")
	case <-time.After(5 * time.Second):
		fmt.Println("rtkerneld: demo window elapsed")
	}
}

func mustZero(op string, ec kerrno.Code) {
	if ec != 0 {
		panic(fmt.Sprintf("rtkerneld: %s: %v", op, ec))
	}
}
