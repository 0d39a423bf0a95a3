package userprog

import (
	"fmt"

	"github.com/sarchlab/nachosvm/fdtable"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/process"
	"github.com/sarchlab/nachosvm/sim"
	"github.com/sarchlab/nachosvm/vm"
)

// System call numbers.
const (
	SCHalt = iota
	SCExit
	SCExec
	SCJoin
	SCCreate
	SCOpen
	SCRead
	SCWrite
	SCClose
	SCFork
	SCYield
	SCShmAllocate
	SCShmAttach
)

var syscallNames = [...]string{
	"Halt", "Exit", "Exec", "Join", "Create", "Open", "Read", "Write",
	"Close", "Fork", "Yield", "ShmAllocate", "ShmAttach",
}

// SyscallName returns the name of a system call number.
func SyscallName(code int) string {
	if code < 0 || code >= len(syscallNames) {
		return fmt.Sprintf("Unknown(%d)", code)
	}

	return syscallNames[code]
}

// A SyscallEvent is the detail of HookPosSyscall.
type SyscallEvent struct {
	PID  int
	Code int
	Args [4]int
}

func (k *Kernel) handleSyscall(p *process.Process) {
	m := p.Machine
	evt := SyscallEvent{
		PID:  p.ID,
		Code: m.ReadRegister(machine.SyscallReg),
		Args: [4]int{
			m.ReadRegister(machine.Arg1Reg),
			m.ReadRegister(machine.Arg2Reg),
			m.ReadRegister(machine.Arg3Reg),
			m.ReadRegister(machine.Arg4Reg),
		},
	}

	k.InvokeHook(sim.HookCtx{
		Domain: k,
		Pos:    HookPosSyscall,
		Item:   p,
		Detail: evt,
	})

	args := evt.Args
	result := 0

	switch evt.Code {
	case SCHalt:
		k.halt(p)
		return
	case SCExit:
		k.exit(p, args[0])
		return
	case SCExec:
		result = k.exec(p, args[0], args[1])
	case SCJoin:
		result = p.Children.Join(args[0])
	case SCCreate:
		result = k.create(p, args[0])
	case SCOpen:
		result = k.open(p, args[0])
	case SCRead:
		result = k.read(p, args[0], args[1], args[2])
	case SCWrite:
		result = k.write(p, args[0], args[1], args[2])
	case SCClose:
		result = k.close(p, args[0])
	case SCFork:
		result = k.fork(p, args[0])
	case SCYield:
		k.sched.Yield()
	case SCShmAllocate:
		result = k.shmAllocate(p, args[0], args[1], args[2])
	case SCShmAttach:
		result = k.shmAttach(p, args[0])
	default:
		k.exit(p, -1)
		return
	}

	m.WriteRegister(machine.SyscallReg, result)
	advancePC(m)
}

func (k *Kernel) create(p *process.Process, nameAddr int) int {
	name, err := p.Space.ReadString(nameAddr)
	if err != nil || name == "" {
		return -1
	}

	if err := k.fs.Create(name, 0); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) open(p *process.Process, nameAddr int) int {
	name, err := p.Space.ReadString(nameAddr)
	if err != nil {
		return -1
	}

	f, err := k.fs.Open(name)
	if err != nil {
		return -1
	}

	fd := p.Space.Files.Put(f)
	if fd < 0 {
		f.Close()
	}

	return fd
}

func (k *Kernel) close(p *process.Process, fd int) int {
	if err := p.Space.Files.Close(fd); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) write(p *process.Process, addr, size, fd int) int {
	if size < 0 {
		return -1
	}

	if size == 0 {
		return 0
	}

	f := p.Space.Files.Get(fd)
	if f == nil || fd == fdtable.ConsoleInput {
		return -1
	}

	data, err := p.Space.Read(addr, size)
	if err != nil {
		return -1
	}

	if fd == fdtable.ConsoleOutput {
		if k.console == nil {
			return -1
		}

		for _, c := range data {
			k.console.PutChar(c)
		}

		return len(data)
	}

	n, err := f.Write(data)
	if err != nil {
		return -1
	}

	return n
}

func (k *Kernel) read(p *process.Process, addr, size, fd int) int {
	if size < 0 {
		return -1
	}

	if size == 0 {
		return 0
	}

	f := p.Space.Files.Get(fd)
	if f == nil || fd == fdtable.ConsoleOutput {
		return -1
	}

	buf := make([]byte, 0, size)

	if fd == fdtable.ConsoleInput {
		if k.console == nil {
			return -1
		}

		for len(buf) < size {
			c, err := k.console.GetChar()
			if err != nil {
				break
			}

			buf = append(buf, c)
		}
	} else {
		n, err := f.Read(buf[:size])
		if err != nil {
			return -1
		}

		buf = buf[:n]
	}

	if len(buf) == 0 {
		return 0
	}

	if err := p.Space.Write(addr, buf, len(buf)); err != nil {
		return -1
	}

	return len(buf)
}

func (k *Kernel) exec(p *process.Process, pathAddr, argvAddr int) int {
	path, err := p.Space.ReadString(pathAddr)
	if err != nil {
		return -1
	}

	space, err := vm.NewAddrSpace(k.mem, k.fs, path)
	if err != nil {
		return -1
	}

	if _, err := space.CreateStackArgs(argvAddr, path, p.Space); err != nil {
		space.Release()
		return -1
	}

	child := k.spawn(path, space, p, space.InitRegisters)

	return child.ID
}

func (k *Kernel) fork(p *process.Process, pc int) int {
	space, err := p.Space.Fork()
	if err != nil {
		return -1
	}

	parent := p.Machine
	child := k.spawn(p.Name, space, p, func(m machine.Machine) {
		for i := 0; i < machine.NumTotalRegs; i++ {
			m.WriteRegister(i, parent.ReadRegister(i))
		}

		m.WriteRegister(machine.SyscallReg, 0)
		m.WriteRegister(machine.PrevPCReg, parent.ReadRegister(machine.PCReg))
		m.WriteRegister(machine.PCReg, pc)
		m.WriteRegister(machine.NextPCReg, pc+4)
	})

	return child.ID
}

func (k *Kernel) shmAllocate(p *process.Process, key, numBytes, flag int) int {
	if err := p.Space.AllocateSharedMemory(key, numBytes, flag); err != nil {
		return -1
	}

	return 0
}

func (k *Kernel) shmAttach(p *process.Process, key int) int {
	addr, err := p.Space.AttachSharedMemory(key)
	if err != nil {
		return -1
	}

	p.Space.RestoreState(p.Machine)

	return addr
}
