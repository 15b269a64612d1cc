package kernel

import (
	"github.com/joeycumines/go-rtkernel/internal/task"
	"github.com/joeycumines/go-rtkernel/kerrno"
)

// Mode and Order-adjacent re-exports let callers of this package use one
// import instead of reaching into internal/task directly.
type (
	Mode     = task.Mode
	WaitKind = task.WaitKind
)

const (
	Preempt   = task.Preempt
	NoPreempt = task.NoPreempt
	TimeSlice = task.TimeSlice
	NoASR     = task.NoASR
	NoISR     = task.NoISR
)

const (
	MinPriority  = task.MinPriority
	MaxPriority  = task.MaxPriority
	IdlePriority = task.IdlePriority
)

// TCreate implements t_create. sysStackBytes and usrStackBytes are summed
// into one allocation, matching spec.md §4.2's "sum ≥ MIN_STACK" wording —
// this rewrite's host/embedded task contexts do not distinguish a system
// stack region from a user one.
func (k *Kernel) TCreate(name [4]byte, prio int, sysStackBytes, usrStackBytes int, mode Mode) (uint32, kerrno.Code) {
	k.checkSlice()
	return k.tasks.Create(name, prio, sysStackBytes+usrStackBytes, mode)
}

// TStart implements t_start.
func (k *Kernel) TStart(id uint32, mode Mode, entry func(args [4]uint32), args [4]uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.Start(id, mode, entry, args)
}

// TDelete implements t_delete, additionally reclaiming id's event slot —
// internal/event's Forget has no other caller, since C2 cannot depend on
// C6 to do this itself (spec.md §2's dependency direction).
func (k *Kernel) TDelete(id uint32) kerrno.Code {
	k.checkSlice()
	ec := k.tasks.Delete(id)
	if ec == 0 {
		k.events.Forget(id)
	}
	return ec
}

// TSuspend implements t_suspend.
func (k *Kernel) TSuspend(id uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.Suspend(id)
}

// TResume implements t_resume.
func (k *Kernel) TResume(id uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.Resume(id)
}

// TSetPri implements t_setpri.
func (k *Kernel) TSetPri(id uint32, newPrio int, old *int) kerrno.Code {
	k.checkSlice()
	return k.tasks.SetPri(id, newPrio, old)
}

// TMode implements t_mode: a masked update of the calling task's own mode
// bits (only bits set in mask are replaced), per spec.md §9's resolution
// of the mask-vs-set-only open question.
func (k *Kernel) TMode(mask, newBits Mode, old *Mode) kerrno.Code {
	k.checkSlice()
	return k.tasks.ModeSet(mask, newBits, old)
}

// TRestart implements t_restart.
func (k *Kernel) TRestart(id uint32, args [4]uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.Restart(id, args)
}

// TGetReg implements t_getreg; id==0 means self.
func (k *Kernel) TGetReg(id uint32, n int, out *uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.GetReg(id, n, out)
}

// TSetReg implements t_setreg; id==0 means self.
func (k *Kernel) TSetReg(id uint32, n int, v uint32) kerrno.Code {
	k.checkSlice()
	return k.tasks.SetReg(id, n, v)
}

// TIdent implements t_ident: name lookup, or self==true for the caller's
// own id (generalizing t_getreg/t_setreg's id=0 self shorthand to t_ident,
// per SPEC_FULL §9A).
func (k *Kernel) TIdent(name [4]byte, self bool) (uint32, kerrno.Code) {
	k.checkSlice()
	return k.tasks.Ident(name, self)
}
