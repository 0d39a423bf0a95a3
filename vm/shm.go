package vm

import (
	"errors"
	"fmt"
)

// Flags of AllocateSharedMemory.
const (
	ShmCreate = 0
	ShmUse    = 1
)

// ErrBadFlag is returned for an unknown shared-memory flag.
var ErrBadFlag = errors.New("bad shared memory flag")

// AddMoreSpace appends n unmapped pages and returns the first new page
// number. The page table has to be installed again afterwards.
func (s *AddrSpace) AddMoreSpace(n int) int {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.addMoreSpace(n)
}

func (s *AddrSpace) addMoreSpace(n int) int {
	start := s.pageTable.Grow(n)
	s.swapMap.Resize(s.pageTable.Len())
	s.onDisk.Resize(s.pageTable.Len())

	return start
}

// TruncatePagesFrom shrinks the space to its first page pages, releasing
// the frames and sectors of the dropped pages.
func (s *AddrSpace) TruncatePagesFrom(page int) {
	s.mem.Lock()
	defer s.mem.Unlock()

	s.truncatePagesFrom(page)
}

func (s *AddrSpace) truncatePagesFrom(page int) {
	page = max(page, 0)
	n := s.pageTable.Len()

	for vpn := page; vpn < n; vpn++ {
		e, _ := s.pageTable.Find(vpn)
		if e.Valid {
			s.mem.coreMap.Release(e.PhysicalPage)
			e.Unmap()
		}

		if sector, ok := s.swapMap.SectorFor(vpn); ok {
			s.mem.swap.FreeSector(sector)
		}
	}

	s.pageTable.Truncate(page)
	s.swapMap.Resize(s.pageTable.Len())
	s.onDisk.Resize(s.pageTable.Len())

	if s.victim >= s.pageTable.Len() {
		s.victim = 0
	}
}

// AttachShMem maps the frames of segment key at consecutive pages from
// start on. It returns the byte address just past the mapping.
func (s *AddrSpace) AttachShMem(key, start int) (int, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.attachShMem(key, start)
}

func (s *AddrSpace) attachShMem(key, start int) (int, error) {
	frames, ok := s.mem.coreMap.Segment(key)
	if !ok {
		return -1, fmt.Errorf("%w: key %d", ErrNoSegment, key)
	}

	if start < 0 || start+len(frames) > s.pageTable.Len() {
		return -1, fmt.Errorf("%w: %d shared pages at page %d",
			ErrSegFault, len(frames), start)
	}

	for i, frame := range frames {
		e, _ := s.pageTable.Find(start + i)
		if e.Valid {
			s.mem.coreMap.Release(e.PhysicalPage)
		}

		e.PhysicalPage = frame
		e.Valid = true
		e.Use = false
		e.Dirty = false
		e.ReadOnly = false
		s.mem.coreMap.Retain(frame)
	}

	s.mem.coreMap.Attach(key)
	s.segments = append(s.segments, key)

	return (start + len(frames)) * s.mem.PageSize(), nil
}

// AllocateSharedMemory creates segment key of numBytes rounded up to whole
// pages with ShmCreate, or checks that it exists with ShmUse. The frames are
// zeroed and stay reserved, unreferenced, until a space attaches them.
func (s *AddrSpace) AllocateSharedMemory(key, numBytes, flag int) error {
	s.mem.Lock()
	defer s.mem.Unlock()

	coreMap := s.mem.coreMap

	switch flag {
	case ShmUse:
		if _, ok := coreMap.Segment(key); !ok {
			return fmt.Errorf("%w: key %d", ErrNoSegment, key)
		}

		return nil
	case ShmCreate:
	default:
		return fmt.Errorf("%w: %d", ErrBadFlag, flag)
	}

	if _, ok := coreMap.Segment(key); ok {
		return fmt.Errorf("%w: key %d", ErrSegmentExists, key)
	}

	pageSize := s.mem.PageSize()
	numPages := (numBytes + pageSize - 1) / pageSize
	if numPages <= 0 {
		return fmt.Errorf("%w: %d bytes", ErrSegFault, numBytes)
	}

	frames := make([]int, 0, numPages)
	freeAll := func() {
		for _, f := range frames {
			coreMap.Free(f)
		}
	}

	for range numPages {
		frame, err := s.obtainFrame()
		if err != nil {
			freeAll()
			return err
		}

		frames = append(frames, frame)

		if err := s.mem.zeroFrame(frame); err != nil {
			freeAll()
			return err
		}
	}

	freeAll()

	return coreMap.CreateSegment(key, frames)
}

// AttachSharedMemory grows the space by the size of segment key and maps
// the segment there. It returns the virtual address of the mapping.
func (s *AddrSpace) AttachSharedMemory(key int) (int, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	frames, ok := s.mem.coreMap.Segment(key)
	if !ok {
		return -1, fmt.Errorf("%w: key %d", ErrNoSegment, key)
	}

	start := s.addMoreSpace(len(frames))
	if _, err := s.attachShMem(key, start); err != nil {
		s.truncatePagesFrom(start)
		return -1, err
	}

	return start * s.mem.PageSize(), nil
}
