// Package machine defines the simulated hardware the kernel runs on: the
// MIPS register file, physical memory, the swap disk and the console.
package machine

// Register numbers of the simulated MIPS CPU.
const (
	StackReg     = 29
	RetAddrReg   = 31
	NumGPRegs    = 32
	HiReg        = 32
	LoReg        = 33
	PCReg        = 34
	NextPCReg    = 35
	PrevPCReg    = 36
	LoadReg      = 37
	LoadValueReg = 38
	BadVAddrReg  = 39
	NumTotalRegs = 40
)

// Registers used by the system call ABI.
const (
	SyscallReg = 2
	Arg1Reg    = 4
	Arg2Reg    = 5
	Arg3Reg    = 6
	Arg4Reg    = 7
)

// ExceptionType is the reason the CPU trapped into the kernel.
type ExceptionType int

// Exception reasons.
const (
	NoException ExceptionType = iota
	SyscallException
	PageFaultException
	ReadOnlyException
	BusErrorException
	AddressErrorException
	OverflowException
	IllegalInstrException
)

var exceptionNames = [...]string{
	"NoException",
	"SyscallException",
	"PageFaultException",
	"ReadOnlyException",
	"BusErrorException",
	"AddressErrorException",
	"OverflowException",
	"IllegalInstrException",
}

func (e ExceptionType) String() string {
	if e < 0 || int(e) >= len(exceptionNames) {
		return "UnknownException"
	}

	return exceptionNames[e]
}

// Machine is the instruction-level CPU simulator.
type Machine interface {
	// ReadRegister returns the value of a register.
	ReadRegister(num int) int

	// WriteRegister sets the value of a register.
	WriteRegister(num int, value int)

	// Memory returns the physical memory of the machine.
	Memory() Memory

	// InstallPageTable makes the CPU translate through the given table. The
	// CPU updates the Use and Dirty bits of the entries in place.
	InstallPageTable(table []TranslationEntry)

	// SetInterrupts enables or disables interrupts and returns the previous
	// state.
	SetInterrupts(enabled bool) bool

	// Halt stops the machine.
	Halt()

	// Run starts executing user code at the current program counter. It
	// returns only when the machine halts.
	Run()
}

// Memory is the raw physical memory of the machine.
type Memory interface {
	Read(addr uint64, n uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// Console is the terminal attached to the machine.
type Console interface {
	PutChar(c byte)
	GetChar() (byte, error)
}
