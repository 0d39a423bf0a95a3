package userprog

import (
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/process"
)

// HandleException is the kernel entry point of process p. System calls are
// served, page faults and write faults are resolved through the address
// space, and every other exception terminates the process with status -1.
// Once the machine is halted no trap is served and the caller's context
// ends.
func (k *Kernel) HandleException(p *process.Process, which machine.ExceptionType) {
	if k.Halted() {
		p.Machine.Halt()
		k.sched.Finish()

		return
	}

	switch which {
	case machine.SyscallException:
		k.handleSyscall(p)
	case machine.PageFaultException:
		k.handlePageFault(p, false)
	case machine.ReadOnlyException:
		k.handlePageFault(p, true)
	case machine.AddressErrorException, machine.OverflowException:
		k.terminate(p)
	default:
		k.exit(p, -1)
	}
}

func (k *Kernel) handlePageFault(p *process.Process, writing bool) {
	if p.Space == nil {
		k.exit(p, -1)
		return
	}

	vpn := p.Machine.ReadRegister(machine.BadVAddrReg) / k.cfg.PageSize

	var err error
	if writing {
		_, err = p.Space.AllowWrites(vpn)
	} else {
		_, err = p.Space.LoadPage(vpn)
	}

	if err != nil {
		k.exit(p, -1)
	}
}

func advancePC(m machine.Machine) {
	pc := m.ReadRegister(machine.NextPCReg)

	m.WriteRegister(machine.PrevPCReg, m.ReadRegister(machine.PCReg))
	m.WriteRegister(machine.PCReg, pc)
	m.WriteRegister(machine.NextPCReg, pc+4)
}
