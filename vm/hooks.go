package vm

import (
	"log"

	"github.com/sarchlab/nachosvm/sim"
)

// Hook positions of an AddrSpace.
var (
	// HookPosPageIn marks a page being made resident.
	HookPosPageIn = &sim.HookPos{Name: "PageIn"}

	// HookPosEvict marks a page losing its frame.
	HookPosEvict = &sim.HookPos{Name: "Evict"}

	// HookPosSwapOut marks a page being written to swap.
	HookPosSwapOut = &sim.HookPos{Name: "SwapOut"}

	// HookPosCopyOnWrite marks a shared page being given a private frame.
	HookPosCopyOnWrite = &sim.HookPos{Name: "CopyOnWrite"}
)

// Page sources of a PageIn event.
const (
	SourceZero       = "zero"
	SourceExecutable = "executable"
	SourceSwap       = "swap"
)

// A PagingEvent is the detail of every AddrSpace hook.
type PagingEvent struct {
	PID    int
	VPN    int
	Frame  int
	Sector int
	Source string
}

func (s *AddrSpace) invokePagingHook(pos *sim.HookPos, evt PagingEvent) {
	if s.NumHooks() == 0 {
		return
	}

	evt.PID = s.pid
	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   s,
		Detail: evt,
	})
}

// PagingLogger is a hook that prints paging activity.
type PagingLogger struct {
	sim.LogHookBase
}

// NewPagingLogger returns a PagingLogger writing to logger.
func NewPagingLogger(logger *log.Logger) *PagingLogger {
	return &PagingLogger{LogHookBase: sim.NewLogHookBase(logger)}
}

// Func writes one line per paging event.
func (h *PagingLogger) Func(ctx sim.HookCtx) {
	evt, ok := ctx.Detail.(PagingEvent)
	if !ok {
		return
	}

	switch ctx.Pos {
	case HookPosPageIn:
		h.Printf("pid %d: page %d in frame %d from %s",
			evt.PID, evt.VPN, evt.Frame, evt.Source)
	case HookPosEvict:
		h.Printf("pid %d: page %d evicted from frame %d",
			evt.PID, evt.VPN, evt.Frame)
	case HookPosSwapOut:
		h.Printf("pid %d: page %d written to sector %d",
			evt.PID, evt.VPN, evt.Sector)
	case HookPosCopyOnWrite:
		h.Printf("pid %d: page %d copied to frame %d",
			evt.PID, evt.VPN, evt.Frame)
	}
}
