package kernel

import (
	"github.com/joeycumines/go-rtkernel/internal/sem"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// SemOrder re-exports internal/sem's wait-list discipline.
type SemOrder = sem.Order

const (
	SemFIFO     = sem.FIFO
	SemPriority = sem.Priority
)

// SemWaitFlags re-exports internal/sem's blocking-control flags.
type SemWaitFlags = sem.WaitFlags

const (
	SemWait   = sem.Wait
	SemNoWait = sem.NoWait
)

// SmCreate implements sm_create. A ceiling ≤ 0 takes the Kernel's
// DefaultSemCeiling (spec.md §3's "configurable ceiling, default 8").
func (k *Kernel) SmCreate(name [4]byte, initialCount, ceiling int, order SemOrder) (uint32, kerrno.Code) {
	k.checkSlice()
	if ceiling <= 0 {
		ceiling = k.cfg.DefaultSemCeiling
	}
	return k.sems.Create(name, initialCount, ceiling, order)
}

// SmDelete implements sm_delete.
func (k *Kernel) SmDelete(id uint32) kerrno.Code {
	k.checkSlice()
	return k.sems.Delete(id)
}

// SmIdent implements sm_ident.
func (k *Kernel) SmIdent(name [4]byte) (uint32, kerrno.Code) {
	k.checkSlice()
	return k.sems.Ident(name)
}

// SmP implements sm_p.
func (k *Kernel) SmP(id uint32, flags SemWaitFlags, timeoutTicks uint32) kerrno.Code {
	k.checkSlice()
	return k.sems.P(id, flags, timeoutTicks)
}

// SmV implements sm_v.
func (k *Kernel) SmV(id uint32) kerrno.Code {
	k.checkSlice()
	return k.sems.V(id)
}
