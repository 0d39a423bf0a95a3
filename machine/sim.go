package machine

import "sync"

// Sim is a CPU context of the simulated machine: a register file and the
// page table currently installed, on top of a physical memory that may be
// shared with other contexts. It does not decode instructions. User-level
// behavior is supplied as a Go function with SetProgram.
type Sim struct {
	registers  [NumTotalRegs]int
	memory     Memory
	pageSize   int
	pageTable  []TranslationEntry
	interrupts bool
	halted     bool
	program    func(m *Sim)
	handler    func(which ExceptionType)

	// tableLock guards the installed page table and the frames it maps.
	tableLock sync.Locker
}

// NewSim creates a CPU context over the given physical memory.
func NewSim(memory Memory, pageSize int) *Sim {
	return &Sim{
		memory:     memory,
		pageSize:   pageSize,
		interrupts: true,
	}
}

// ReadRegister returns the value of a register.
func (m *Sim) ReadRegister(num int) int {
	return m.registers[num]
}

// WriteRegister sets the value of a register.
func (m *Sim) WriteRegister(num int, value int) {
	m.registers[num] = value
}

// Memory returns the physical memory.
func (m *Sim) Memory() Memory {
	return m.memory
}

// InstallPageTable sets the table used for translation.
func (m *Sim) InstallPageTable(table []TranslationEntry) {
	m.pageTable = table
}

// SetPageTableLock sets the lock held while the CPU reads or updates the
// page table, usually the one the kernel changes the table under.
func (m *Sim) SetPageTableLock(l sync.Locker) {
	m.tableLock = l
}

func (m *Sim) lockTable() {
	if m.tableLock != nil {
		m.tableLock.Lock()
	}
}

func (m *Sim) unlockTable() {
	if m.tableLock != nil {
		m.tableLock.Unlock()
	}
}

// PageTable returns the installed table.
func (m *Sim) PageTable() []TranslationEntry {
	return m.pageTable
}

// SetInterrupts enables or disables interrupts.
func (m *Sim) SetInterrupts(enabled bool) bool {
	old := m.interrupts
	m.interrupts = enabled
	return old
}

// InterruptsEnabled reports the interrupt state.
func (m *Sim) InterruptsEnabled() bool {
	return m.interrupts
}

// Halt stops the machine.
func (m *Sim) Halt() {
	m.halted = true
}

// Halted reports whether Halt was called.
func (m *Sim) Halted() bool {
	return m.halted
}

// SetProgram sets the user-level behavior run by Run.
func (m *Sim) SetProgram(program func(m *Sim)) {
	m.program = program
}

// SetExceptionHandler sets the kernel entry point.
func (m *Sim) SetExceptionHandler(handler func(which ExceptionType)) {
	m.handler = handler
}

// Run executes the user program, if any.
func (m *Sim) Run() {
	if m.program != nil && !m.halted {
		m.program(m)
	}
}

// RaiseException traps into the kernel.
func (m *Sim) RaiseException(which ExceptionType, badVAddr int) {
	m.registers[BadVAddrReg] = badVAddr

	if m.handler != nil {
		m.handler(which)
	}
}

// Syscall performs a system call with the given code and arguments and
// returns the value the kernel left in the result register.
func (m *Sim) Syscall(code int, args ...int) int {
	m.registers[SyscallReg] = code
	for i, a := range args {
		m.registers[Arg1Reg+i] = a
	}

	m.RaiseException(SyscallException, 0)

	return m.registers[SyscallReg]
}

// Translate converts a virtual address to a physical one through the
// installed page table, updating the use and dirty bits.
func (m *Sim) Translate(vaddr int, writing bool) (uint64, ExceptionType) {
	m.lockTable()
	defer m.unlockTable()

	return m.translate(vaddr, writing)
}

func (m *Sim) translate(vaddr int, writing bool) (uint64, ExceptionType) {
	if vaddr < 0 {
		return 0, AddressErrorException
	}

	vpn := vaddr / m.pageSize
	offset := vaddr % m.pageSize

	if vpn >= len(m.pageTable) {
		return 0, AddressErrorException
	}

	entry := &m.pageTable[vpn]
	if !entry.Valid {
		return 0, PageFaultException
	}

	if entry.ReadOnly && writing {
		return 0, ReadOnlyException
	}

	entry.Use = true
	if writing {
		entry.Dirty = true
	}

	return uint64(entry.PhysicalPage*m.pageSize + offset), NoException
}

const maxRetries = 8

// access translates vaddr and reads one byte, or writes data, with the page
// table locked so the frame cannot be reassigned in between.
func (m *Sim) access(
	vaddr int,
	writing bool,
	data []byte,
) ([]byte, ExceptionType) {
	m.lockTable()
	defer m.unlockTable()

	paddr, exc := m.translate(vaddr, writing)
	if exc != NoException {
		return nil, exc
	}

	if writing {
		if err := m.memory.Write(paddr, data); err != nil {
			return nil, BusErrorException
		}

		return data, NoException
	}

	data, err := m.memory.Read(paddr, 1)
	if err != nil {
		return nil, BusErrorException
	}

	return data, NoException
}

// LoadByte reads a byte of user memory, trapping into the kernel and
// retrying the access as the CPU would re-execute the instruction.
func (m *Sim) LoadByte(vaddr int) (byte, ExceptionType) {
	for range maxRetries {
		data, exc := m.access(vaddr, false, nil)
		if exc == NoException {
			return data[0], NoException
		}

		m.RaiseException(exc, vaddr)
		if exc == AddressErrorException || m.halted {
			return 0, exc
		}
	}

	return 0, PageFaultException
}

// StoreByte writes a byte of user memory, retrying after faults.
func (m *Sim) StoreByte(vaddr int, value byte) ExceptionType {
	for range maxRetries {
		_, exc := m.access(vaddr, true, []byte{value})
		if exc == NoException {
			return NoException
		}

		m.RaiseException(exc, vaddr)
		if exc == AddressErrorException || m.halted {
			return exc
		}
	}

	return PageFaultException
}
