package datarecording

import (
	"sync"

	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/userprog"
	"github.com/sarchlab/nachosvm/vm"
)

// Table names used by the kernel recorders.
const (
	PagingTable  = "paging_events"
	SyscallTable = "syscalls"
	ExitTable    = "process_exits"
)

// PagingRecord is one row of the paging_events table.
type PagingRecord struct {
	Seq    int
	Event  string
	PID    int
	VPN    int
	Frame  int
	Sector int
	Source string
}

// SyscallRecord is one row of the syscalls table.
type SyscallRecord struct {
	Seq  int
	PID  int
	Name string
	Arg1 int
	Arg2 int
	Arg3 int
	Arg4 int
}

// ExitRecord is one row of the process_exits table.
type ExitRecord struct {
	Seq    int
	PID    int
	Name   string
	Status int
}

// KernelRecorder is a hook that records paging activity, system calls and
// process exits. Register it on a kernel with AcceptHook and
// AcceptPagingHook.
type KernelRecorder struct {
	mu       sync.Mutex
	recorder DataRecorder
	seq      int
	err      error
}

// NewKernelRecorder creates the tables and returns the hook.
func NewKernelRecorder(recorder DataRecorder) (*KernelRecorder, error) {
	tables := map[string]any{
		PagingTable:  PagingRecord{},
		SyscallTable: SyscallRecord{},
		ExitTable:    ExitRecord{},
	}

	for name, sample := range tables {
		if err := recorder.CreateTable(name, sample); err != nil {
			return nil, err
		}
	}

	return &KernelRecorder{recorder: recorder}, nil
}

// Err returns the first insertion error, if any.
func (h *KernelRecorder) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Func records one event.
func (h *KernelRecorder) Func(ctx sim.HookCtx) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++

	var err error

	switch detail := ctx.Detail.(type) {
	case vm.PagingEvent:
		err = h.recorder.InsertData(PagingTable, PagingRecord{
			Seq:    h.seq,
			Event:  ctx.Pos.Name,
			PID:    detail.PID,
			VPN:    detail.VPN,
			Frame:  detail.Frame,
			Sector: detail.Sector,
			Source: detail.Source,
		})
	case userprog.SyscallEvent:
		err = h.recorder.InsertData(SyscallTable, SyscallRecord{
			Seq:  h.seq,
			PID:  detail.PID,
			Name: userprog.SyscallName(detail.Code),
			Arg1: detail.Args[0],
			Arg2: detail.Args[1],
			Arg3: detail.Args[2],
			Arg4: detail.Args[3],
		})
	case int:
		p, ok := ctx.Item.(*process.Process)
		if !ok || ctx.Pos != userprog.HookPosProcessExit {
			return
		}

		err = h.recorder.InsertData(ExitTable, ExitRecord{
			Seq:    h.seq,
			PID:    p.ID,
			Name:   p.Name,
			Status: detail,
		})
	default:
		return
	}

	if err != nil && h.err == nil {
		h.err = err
	}
}
