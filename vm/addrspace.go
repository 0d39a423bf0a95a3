package vm

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/nachosvm/fdtable"
	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/noff"
	"github.com/sarchlab/nachosvm/sim"
)

var (
	// ErrSegFault is returned for an access outside the address space.
	ErrSegFault = errors.New("segmentation fault")

	// ErrBadExecutable is returned when the executable cannot be opened or
	// is not a NOFF file.
	ErrBadExecutable = errors.New("bad executable")

	// ErrReleased is returned by operations on a released address space.
	ErrReleased = errors.New("address space released")
)

// An AddrSpace is the virtual memory of one user process. Pages are loaded
// on demand from the executable or from swap.
type AddrSpace struct {
	*sim.HookableBase

	mem  *Memory
	fs   filesys.FileSystem
	path string
	pid  int

	header    noff.Header
	pageTable *PageTable
	swapMap   *SwapMap
	onDisk    *Bitmap
	victim    int
	stackTop  int
	argc      int
	argv      int
	segments  []int
	released  bool

	// Files is the descriptor table of the process.
	Files *fdtable.Table
}

type fileReaderAt struct {
	f filesys.OpenFile
}

func (r fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(p, int(off))
	if err == nil && n < len(p) {
		err = io.EOF
	}

	return n, err
}

// NewAddrSpace creates the address space of the executable at path. Only the
// header is read here. Every page starts unmapped.
func NewAddrSpace(
	mem *Memory,
	fs filesys.FileSystem,
	path string,
) (*AddrSpace, error) {
	exe, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadExecutable, path, err)
	}
	defer exe.Close()

	header, err := noff.ReadHeader(fileReaderAt{f: exe})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadExecutable, path, err)
	}

	cfg := mem.Config()
	numPages := header.NumPages(cfg.UserStackSize, cfg.PageSize)

	if numPages > mem.swap.NumSectors() {
		return nil, fmt.Errorf("%w: %s: %d pages do not fit in %d swap sectors",
			ErrBadExecutable, path, numPages, mem.swap.NumSectors())
	}

	s := newAddrSpace(mem, fs, path, numPages)
	s.header = header
	s.stackTop = numPages*cfg.PageSize - 16
	s.Files = fdtable.New(cfg.FDTableSize)

	mem.Lock()
	mem.register(s)
	mem.Unlock()

	return s, nil
}

func newAddrSpace(
	mem *Memory,
	fs filesys.FileSystem,
	path string,
	numPages int,
) *AddrSpace {
	return &AddrSpace{
		HookableBase: sim.NewHookableBase(),
		mem:          mem,
		fs:           fs,
		path:         path,
		pageTable:    NewPageTable(numPages),
		swapMap:      NewSwapMap(numPages),
		onDisk:       NewBitmap(numPages),
	}
}

// Path returns the executable the space was created from.
func (s *AddrSpace) Path() string {
	return s.path
}

// PID returns the id of the owning process.
func (s *AddrSpace) PID() int {
	return s.pid
}

// SetPID records the id of the owning process.
func (s *AddrSpace) SetPID(pid int) {
	s.pid = pid
}

// NumPages returns the current size in pages.
func (s *AddrSpace) NumPages() int {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.pageTable.Len()
}

// Entry returns a copy of the translation entry of a page.
func (s *AddrSpace) Entry(vpn int) (machine.TranslationEntry, bool) {
	s.mem.Lock()
	defer s.mem.Unlock()

	e, ok := s.pageTable.Find(vpn)
	if !ok {
		return machine.TranslationEntry{}, false
	}

	return *e, true
}

// IsOnDisk reports whether the swap area holds a copy of the page.
func (s *AddrSpace) IsOnDisk(vpn int) bool {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.onDisk.Test(vpn)
}

// SectorOf returns the swap sector assigned to the page.
func (s *AddrSpace) SectorOf(vpn int) (int, bool) {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.mem.swap.SectorFor(s.swapMap, vpn)
}

// StackTop returns the initial stack pointer.
func (s *AddrSpace) StackTop() int {
	return s.stackTop
}

// Args returns argc and the user address of argv.
func (s *AddrSpace) Args() (argc, argv int) {
	return s.argc, s.argv
}

// InitRegisters sets the registers of a fresh process: everything zero, the
// program counter at the start of the code, the stack pointer at the top of
// the space, and argc and argv in the first two argument registers.
func (s *AddrSpace) InitRegisters(m machine.Machine) {
	for i := 0; i < machine.NumTotalRegs; i++ {
		m.WriteRegister(i, 0)
	}

	m.WriteRegister(machine.PCReg, 0)
	m.WriteRegister(machine.NextPCReg, 4)
	m.WriteRegister(machine.StackReg, s.stackTop)
	m.WriteRegister(machine.Arg1Reg, s.argc)
	m.WriteRegister(machine.Arg2Reg, s.argv)
}

// RestoreState installs the page table on the CPU. It must be called again
// whenever the space grows.
func (s *AddrSpace) RestoreState(m machine.Machine) {
	s.mem.Lock()
	defer s.mem.Unlock()

	m.InstallPageTable(s.pageTable.Entries())
}

// Fork creates a copy-on-write duplicate of the space. Resident private
// pages become read-only in both spaces and share their frames. Shared
// memory pages stay writable and are attached to the child. Pages that only
// live in swap are copied to new sectors owned by the child.
func (s *AddrSpace) Fork() (*AddrSpace, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	if s.released {
		return nil, ErrReleased
	}

	child := newAddrSpace(s.mem, s.fs, s.path, 0)
	child.header = s.header
	child.pageTable = s.pageTable.Clone()
	child.swapMap = NewSwapMap(s.pageTable.Len())
	child.onDisk = NewBitmap(s.pageTable.Len())
	child.victim = s.victim
	child.stackTop = s.stackTop
	child.argc = s.argc
	child.argv = s.argv

	coreMap := s.mem.coreMap
	for vpn, e := range s.pageTable.Entries() {
		parentEntry, _ := s.pageTable.Find(vpn)
		childEntry, _ := child.pageTable.Find(vpn)

		if e.Valid {
			if !coreMap.IsShared(e.PhysicalPage) {
				parentEntry.ReadOnly = true
				childEntry.ReadOnly = true
			}

			coreMap.Retain(e.PhysicalPage)

			if s.onDisk.Test(vpn) {
				childEntry.Dirty = true
			}

			continue
		}

		if s.onDisk.Test(vpn) {
			if err := s.copySwappedPage(child, vpn); err != nil {
				child.releaseLocked()
				return nil, err
			}
		}
	}

	for _, key := range s.segments {
		coreMap.Attach(key)
		child.segments = append(child.segments, key)
	}

	child.Files = s.Files.Clone()
	s.mem.register(child)

	return child, nil
}

func (s *AddrSpace) copySwappedPage(child *AddrSpace, vpn int) error {
	swap := s.mem.swap

	from, _ := swap.SectorFor(s.swapMap, vpn)
	buf := make([]byte, s.mem.PageSize())

	if err := swap.ReadPage(from, buf); err != nil {
		return err
	}

	to, err := swap.EnsureSector(child.swapMap, vpn)
	if err != nil {
		return err
	}

	if err := swap.WritePage(to, buf); err != nil {
		return err
	}

	child.onDisk.Mark(vpn)

	return nil
}

// Release returns every frame, swap sector and shared segment held by the
// space and closes the files the process opened. Releasing twice is a
// no-op.
func (s *AddrSpace) Release() {
	s.mem.Lock()
	defer s.mem.Unlock()

	s.releaseLocked()
}

func (s *AddrSpace) releaseLocked() {
	if s.released {
		return
	}

	coreMap := s.mem.coreMap
	for vpn := range s.pageTable.Entries() {
		e, _ := s.pageTable.Find(vpn)
		if e.Valid {
			coreMap.Release(e.PhysicalPage)
			e.Unmap()
		}
	}

	for _, key := range s.segments {
		coreMap.Detach(key)
	}
	s.segments = nil

	s.mem.swap.Release(s.swapMap)

	if s.Files != nil {
		s.Files.CloseAll()
	}

	s.mem.unregister(s)
	s.released = true
}
