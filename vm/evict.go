package vm

import (
	"errors"
)

// ErrNoVictim is returned when every resident page of the space is pinned
// by shared memory, or nothing is resident at all.
var ErrNoVictim = errors.New("no page can be evicted")

// maxVictimRetries bounds how often a space with nothing to evict yields
// to let other processes give up frames.
const maxVictimRetries = 4

// errReferenceDropped reports that the victim was a copy-on-write page. Its
// reference was released but the frame may still be used by another space.
var errReferenceDropped = errors.New("victim frame still referenced")

// StorePage evicts one page of the space and returns the frame it freed,
// now owned by the caller.
func (s *AddrSpace) StorePage() (int, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.storePage()
}

func (s *AddrSpace) storePage() (int, error) {
	retries := 0

	for {
		frame, err := s.tryStorePage()

		switch {
		case err == nil:
			s.mem.coreMap.Retain(frame)
			return frame, nil
		case errors.Is(err, errReferenceDropped):
		case errors.Is(err, ErrNoVictim) && retries < maxVictimRetries:
			retries++
			s.mem.yieldUnlocked()
		default:
			return -1, err
		}

		if frame, ok := s.mem.coreMap.Acquire(); ok {
			return frame, nil
		}
	}
}

// pinned reports whether a resident page must stay in memory because other
// spaces write to its frame.
func (s *AddrSpace) pinned(e *entry) bool {
	frame := e.PhysicalPage
	if s.mem.coreMap.IsShared(frame) {
		return true
	}

	return !e.ReadOnly && s.mem.coreMap.RefCount(frame) > 1
}

// selectVictim runs one clock sweep starting after the cursor. It returns
// the chosen page and the first page found with its use bit clear, or -1.
func (s *AddrSpace) selectVictim() (best, unused int) {
	entries := s.pageTable.Entries()
	n := len(entries)

	best, unused = -1, -1
	bestUsed := false

	if e := &entries[s.victim]; e.Valid {
		best = s.victim
		bestUsed = e.Use
	}

	for i := 1; i < n; i++ {
		idx := (s.victim + i) % n
		e := &entries[idx]

		if !e.Valid {
			continue
		}

		used := e.Use
		if unused < 0 {
			if e.Use {
				e.Use = false
			} else {
				unused = idx
			}
		}

		if s.pinned(e) {
			continue
		}

		if best < 0 || s.pinned(&entries[best]) {
			best, bestUsed = idx, used
			continue
		}

		b := &entries[best]

		if b.ReadOnly && !e.ReadOnly {
			best, bestUsed = idx, used
			continue
		}

		if b.Dirty && !e.Dirty {
			best, bestUsed = idx, used
			continue
		}

		if bestUsed && !used {
			best = idx
			break
		}
	}

	if best >= 0 && s.pinned(&entries[best]) {
		best = -1
	}

	return best, unused
}

func (s *AddrSpace) tryStorePage() (int, error) {
	n := s.pageTable.Len()
	if n == 0 {
		return -1, ErrNoVictim
	}

	if s.victim >= n {
		s.victim = 0
	}

	best, unused := s.selectVictim()
	if unused >= 0 {
		s.victim = unused
	}

	if best < 0 {
		return -1, ErrNoVictim
	}

	e, _ := s.pageTable.Find(best)
	frame := e.PhysicalPage
	readOnly := e.ReadOnly

	if e.Dirty || readOnly {
		if err := s.swapOut(best, frame); err != nil {
			return -1, err
		}
	}

	e.Unmap()
	e.Use = false
	e.Dirty = false
	e.ReadOnly = false

	s.invokePagingHook(HookPosEvict, PagingEvent{
		VPN:    best,
		Frame:  frame,
		Sector: -1,
	})

	if readOnly {
		s.mem.coreMap.Release(frame)
		return -1, errReferenceDropped
	}

	s.mem.coreMap.Free(frame)

	return frame, nil
}

func (s *AddrSpace) swapOut(vpn, frame int) error {
	swap := s.mem.swap

	sector, err := swap.EnsureSector(s.swapMap, vpn)
	if err != nil {
		return err
	}

	data, err := s.mem.readFrame(frame)
	if err != nil {
		return err
	}

	if err := swap.WritePage(sector, data); err != nil {
		return err
	}

	s.onDisk.Mark(vpn)

	s.invokePagingHook(HookPosSwapOut, PagingEvent{
		VPN:    vpn,
		Frame:  frame,
		Sector: sector,
	})

	return nil
}
