// Package userprog is the kernel side of user programs: it starts processes
// and handles the exceptions and system calls they raise.
package userprog

import (
	"fmt"
	"sync"

	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/threads"
	"github.com/sarchlab/nachosvm/vm"
)

// Hook positions of the Kernel.
var (
	// HookPosSyscall marks a system call about to be served. The item is
	// the calling process and the detail a SyscallEvent.
	HookPosSyscall = &sim.HookPos{Name: "Syscall"}

	// HookPosProcessExit marks a process that has exited. The item is the
	// process and the detail its exit status.
	HookPosProcessExit = &sim.HookPos{Name: "ProcessExit"}
)

// Kernel runs user processes on top of the virtual memory system.
type Kernel struct {
	*sim.HookableBase

	cfg        config.Config
	fs         filesys.FileSystem
	console    machine.Console
	sched      threads.Scheduler
	mem        *vm.Memory
	procs      *process.Table
	newMachine MachineFactory
	programs   map[string]func(m *machine.Sim)

	pagingHooks []sim.Hook

	mu       sync.Mutex
	halted   bool
	done     chan struct{}
	doneOnce sync.Once
}

// Memory returns the physical memory manager.
func (k *Kernel) Memory() *vm.Memory {
	return k.mem
}

// FileSystem returns the file system.
func (k *Kernel) FileSystem() filesys.FileSystem {
	return k.fs
}

// Processes returns the table of live processes.
func (k *Kernel) Processes() *process.Table {
	return k.procs
}

// AcceptPagingHook registers a hook on the address space of every process
// started from now on.
func (k *Kernel) AcceptPagingHook(hook sim.Hook) {
	k.pagingHooks = append(k.pagingHooks, hook)
}

// Done is closed when the machine halts or the last process exits.
func (k *Kernel) Done() <-chan struct{} {
	return k.done
}

// Halted reports whether a process called Halt.
func (k *Kernel) Halted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.halted
}

func (k *Kernel) finish() {
	k.doneOnce.Do(func() { close(k.done) })
}

func (k *Kernel) newSim(
	path string,
	trap func(which machine.ExceptionType),
) machine.Machine {
	m := machine.NewSim(k.mem.Physical(), k.cfg.PageSize)
	m.SetPageTableLock(k.mem)
	m.SetExceptionHandler(trap)

	if program, ok := k.programs[path]; ok {
		m.SetProgram(program)
	}

	return m
}

// StartProcess boots the executable at path as a process without parent.
func (k *Kernel) StartProcess(path string) (*process.Process, error) {
	space, err := vm.NewAddrSpace(k.mem, k.fs, path)
	if err != nil {
		return nil, err
	}

	if _, err := space.CreateStackArgs(0, path, nil); err != nil {
		space.Release()
		return nil, err
	}

	return k.spawn(path, space, nil, space.InitRegisters), nil
}

// spawn creates the process around space and schedules it. setup
// initializes the registers of its CPU context.
func (k *Kernel) spawn(
	name string,
	space *vm.AddrSpace,
	parent *process.Process,
	setup func(m machine.Machine),
) *process.Process {
	var p *process.Process

	m := k.newMachine(space.Path(), func(which machine.ExceptionType) {
		k.HandleException(p, which)
	})

	for _, h := range k.pagingHooks {
		space.AcceptHook(h)
	}

	p = k.procs.Create(name, space, m, parent)
	setup(m)
	space.RestoreState(m)

	k.sched.Fork(fmt.Sprintf("%s-%d", name, p.ID), func() {
		k.run(p)
	})

	return p
}

func (k *Kernel) run(p *process.Process) {
	p.Space.RestoreState(p.Machine)
	p.Machine.Run()

	// Returning from main is an implicit Exit(0).
	if _, alive := k.procs.Get(p.ID); alive {
		k.exit(p, 0)
	}
}

// exit tears the process down, wakes its joiner and ends its context.
func (k *Kernel) exit(p *process.Process, status int) {
	p.Machine.Halt()

	if p.Space != nil {
		p.Space.Release()
	}

	k.procs.Remove(p.ID)
	p.Exit(status)

	k.InvokeHook(sim.HookCtx{
		Domain: k,
		Pos:    HookPosProcessExit,
		Item:   p,
		Detail: status,
	})

	if k.procs.Len() == 0 {
		k.finish()
	}

	k.sched.Finish()
}

// terminate ends a process that raised a fatal exception.
func (k *Kernel) terminate(p *process.Process) {
	old := p.Machine.SetInterrupts(false)
	defer p.Machine.SetInterrupts(old)

	k.exit(p, -1)
}

func (k *Kernel) halt(p *process.Process) {
	k.mu.Lock()
	k.halted = true
	k.mu.Unlock()

	p.Machine.Halt()
	k.finish()
	k.sched.Finish()
}
