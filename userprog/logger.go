package userprog

import (
	"log"

	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
)

// SyscallLogger is a hook that prints system calls and process exits.
type SyscallLogger struct {
	sim.LogHookBase
}

// NewSyscallLogger returns a SyscallLogger writing to logger.
func NewSyscallLogger(logger *log.Logger) *SyscallLogger {
	return &SyscallLogger{LogHookBase: sim.NewLogHookBase(logger)}
}

// Func writes one line per event.
func (h *SyscallLogger) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosSyscall:
		evt, ok := ctx.Detail.(SyscallEvent)
		if !ok {
			return
		}

		h.Printf("pid %d: %s(%d, %d, %d, %d)", evt.PID, SyscallName(evt.Code),
			evt.Args[0], evt.Args[1], evt.Args[2], evt.Args[3])
	case HookPosProcessExit:
		p, ok := ctx.Item.(*process.Process)
		if !ok {
			return
		}

		h.Printf("pid %d: exited with status %v", p.ID, ctx.Detail)
	}
}
