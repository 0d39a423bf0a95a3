package userprog

import (
	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/threads"
	"github.com/sarchlab/nachosvm/vm"
)

// A MachineFactory creates the CPU context of a new process running the
// executable at path. trap is the kernel entry point of that context.
type MachineFactory func(
	path string,
	trap func(which machine.ExceptionType),
) machine.Machine

// A Builder can build a Kernel.
type Builder struct {
	cfg        config.Config
	fs         filesys.FileSystem
	console    machine.Console
	sched      threads.Scheduler
	mem        *vm.Memory
	newMachine MachineFactory
	programs   map[string]func(m *machine.Sim)
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:      config.Default(),
		programs: make(map[string]func(m *machine.Sim)),
	}
}

// WithConfig sets the machine and kernel parameters.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithFileSystem sets the file system executables and user files live in.
func (b Builder) WithFileSystem(fs filesys.FileSystem) Builder {
	b.fs = fs
	return b
}

// WithConsole sets the terminal.
func (b Builder) WithConsole(console machine.Console) Builder {
	b.console = console
	return b
}

// WithScheduler sets the scheduler processes run on.
func (b Builder) WithScheduler(sched threads.Scheduler) Builder {
	b.sched = sched
	return b
}

// WithMemory sets the physical memory manager. By default, one is built
// from the configuration.
func (b Builder) WithMemory(mem *vm.Memory) Builder {
	b.mem = mem
	return b
}

// WithMachineFactory replaces the default CPU contexts.
func (b Builder) WithMachineFactory(f MachineFactory) Builder {
	b.newMachine = f
	return b
}

// WithProgram sets the user-level behavior of the executable at path when
// run on the default CPU contexts.
func (b Builder) WithProgram(path string, program func(m *machine.Sim)) Builder {
	programs := make(map[string]func(m *machine.Sim), len(b.programs)+1)
	for k, v := range b.programs {
		programs[k] = v
	}

	programs[path] = program
	b.programs = programs

	return b
}

// Build creates the Kernel.
func (b Builder) Build() *Kernel {
	if b.fs == nil {
		b.fs = filesys.NewMemFS()
	}

	if b.sched == nil {
		b.sched = threads.NewGoroutineScheduler()
	}

	if b.mem == nil {
		b.mem = vm.MakeBuilder().
			WithConfig(b.cfg).
			WithScheduler(b.sched).
			Build()
	}

	k := &Kernel{
		HookableBase: sim.NewHookableBase(),
		cfg:          b.mem.Config(),
		fs:           b.fs,
		console:      b.console,
		sched:        b.sched,
		mem:          b.mem,
		procs:        process.NewTable(),
		programs:     b.programs,
		done:         make(chan struct{}),
	}

	k.newMachine = b.newMachine
	if k.newMachine == nil {
		k.newMachine = k.newSim
	}

	return k
}
