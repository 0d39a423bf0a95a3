package vm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/threads"
)

// ErrSwapFull is returned when no swap sector is free.
var ErrSwapFull = errors.New("swap area exhausted")

// SwapMap remembers the swap sector assigned to each virtual page of one
// address space. -1 means the page was never swapped.
type SwapMap struct {
	sectors []int
}

// NewSwapMap creates a map for n pages, none assigned.
func NewSwapMap(n int) *SwapMap {
	m := &SwapMap{}
	m.Resize(n)

	return m
}

// Len returns the number of pages.
func (m *SwapMap) Len() int {
	return len(m.sectors)
}

// SectorFor returns the sector assigned to a page.
func (m *SwapMap) SectorFor(vpn int) (int, bool) {
	if vpn < 0 || vpn >= len(m.sectors) || m.sectors[vpn] < 0 {
		return -1, false
	}

	return m.sectors[vpn], true
}

// Resize changes the number of pages. New pages are unassigned.
func (m *SwapMap) Resize(n int) {
	old := len(m.sectors)
	if n <= old {
		m.sectors = m.sectors[:n]
		return
	}

	m.sectors = append(m.sectors, make([]int, n-old)...)
	for i := old; i < n; i++ {
		m.sectors[i] = -1
	}
}

// SwapArea hands out disk sectors and moves pages to and from them.
type SwapArea struct {
	disk  machine.Disk
	sched threads.Scheduler
	used  *Bitmap

	// lock is held by callers of WritePage and released while yielding.
	lock sync.Locker
}

// NewSwapArea creates a swap area covering every sector of the disk.
func NewSwapArea(disk machine.Disk, sched threads.Scheduler) *SwapArea {
	return &SwapArea{
		disk:  disk,
		sched: sched,
		used:  NewBitmap(disk.NumSectors()),
	}
}

// NumSectors returns the size of the swap area in sectors.
func (s *SwapArea) NumSectors() int {
	return s.used.Len()
}

// NumFree returns the number of unassigned sectors.
func (s *SwapArea) NumFree() int {
	return s.used.NumClear()
}

// SectorFor returns the sector assigned to the page of m.
func (s *SwapArea) SectorFor(m *SwapMap, vpn int) (int, bool) {
	return m.SectorFor(vpn)
}

// EnsureSector returns the sector assigned to the page, assigning a free one
// on first use. The assignment never changes afterwards.
func (s *SwapArea) EnsureSector(m *SwapMap, vpn int) (int, error) {
	if sector, ok := m.SectorFor(vpn); ok {
		return sector, nil
	}

	if vpn < 0 || vpn >= m.Len() {
		return -1, fmt.Errorf("%w: page %d", ErrSegFault, vpn)
	}

	sector := s.used.Find()
	if sector < 0 {
		return -1, ErrSwapFull
	}

	m.sectors[vpn] = sector

	return sector, nil
}

// FreeSector returns a sector to the free pool.
func (s *SwapArea) FreeSector(sector int) {
	if sector >= 0 && sector < s.used.Len() {
		s.used.Clear(sector)
	}
}

// Release frees every sector assigned in m.
func (s *SwapArea) Release(m *SwapMap) {
	for vpn, sector := range m.sectors {
		if sector >= 0 {
			s.FreeSector(sector)
			m.sectors[vpn] = -1
		}
	}
}

// ReadPage reads one sector into buf.
func (s *SwapArea) ReadPage(sector int, buf []byte) error {
	return s.disk.ReadSector(sector, buf)
}

// WritePage writes buf to one sector, yielding and retrying while the disk
// is busy. The memory lock is not held during the yield.
func (s *SwapArea) WritePage(sector int, buf []byte) error {
	for {
		err := s.disk.WriteSector(sector, buf)
		if !errors.Is(err, machine.ErrDiskBusy) {
			return err
		}

		s.yield()
	}
}

func (s *SwapArea) yield() {
	if s.lock != nil {
		s.lock.Unlock()
		defer s.lock.Lock()
	}

	s.sched.Yield()
}
