package vm

import (
	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/threads"
)

// A Builder can build a Memory.
type Builder struct {
	cfg      config.Config
	physical machine.Memory
	disk     machine.Disk
	sched    threads.Scheduler
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg: config.Default(),
	}
}

// WithConfig sets the page size, frame count and swap size.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithPhysicalMemory sets the memory frames live in. By default, a Storage
// of NumPhysPages frames is created.
func (b Builder) WithPhysicalMemory(physical machine.Memory) Builder {
	b.physical = physical
	return b
}

// WithDisk sets the swap disk. By default, a SimDisk of NumSectors sectors is
// created.
func (b Builder) WithDisk(disk machine.Disk) Builder {
	b.disk = disk
	return b
}

// WithScheduler sets the scheduler to yield to while the disk is busy.
func (b Builder) WithScheduler(sched threads.Scheduler) Builder {
	b.sched = sched
	return b
}

// Build creates the Memory.
func (b Builder) Build() *Memory {
	pageSize := b.cfg.PageSize

	if b.physical == nil {
		b.physical = machine.NewStorage(
			uint64(b.cfg.NumPhysPages*pageSize), uint64(pageSize))
	}

	if b.disk == nil {
		b.disk = machine.NewSimDisk(b.cfg.NumSectors, pageSize)
	}

	if b.sched == nil {
		b.sched = threads.NewGoroutineScheduler()
	}

	mem := &Memory{
		cfg:      b.cfg,
		physical: b.physical,
		coreMap:  NewCoreMap(b.cfg.NumPhysPages),
		swap:     NewSwapArea(b.disk, b.sched),
		sched:    b.sched,
		spaces:   make(map[*AddrSpace]struct{}),
	}
	mem.swap.lock = mem

	return mem
}
