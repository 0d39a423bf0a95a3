package vm

import (
	"fmt"

	"github.com/sarchlab/nachosvm/filesys"
	"github.com/sarchlab/nachosvm/noff"
)

// LoadPage makes a virtual page resident and returns its frame. A resident
// page is returned as is. Otherwise the page is read back from swap if it
// was ever written there, or else filled from the code and initialized data
// segments of the executable, with everything else zero.
func (s *AddrSpace) LoadPage(vpn int) (int, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.loadPage(vpn)
}

func (s *AddrSpace) entryOf(vpn int) (*entry, error) {
	e, ok := s.pageTable.Find(vpn)
	if !ok || e.VirtualPage != vpn {
		return nil, fmt.Errorf("%w: page %d of %d",
			ErrSegFault, vpn, s.pageTable.Len())
	}

	return e, nil
}

func (s *AddrSpace) loadPage(vpn int) (int, error) {
	if s.released {
		return -1, ErrReleased
	}

	e, err := s.entryOf(vpn)
	if err != nil {
		return -1, err
	}

	if e.Valid {
		return e.PhysicalPage, nil
	}

	frame, err := s.obtainFrame()
	if err != nil {
		return -1, err
	}

	source, err := s.fillFrame(vpn, frame)
	if err != nil {
		s.mem.coreMap.Release(frame)
		return -1, err
	}

	e.PhysicalPage = frame
	e.Valid = true
	e.Use = true
	e.Dirty = false
	e.ReadOnly = false

	s.invokePagingHook(HookPosPageIn, PagingEvent{
		VPN:    vpn,
		Frame:  frame,
		Sector: -1,
		Source: source,
	})

	return frame, nil
}

func (s *AddrSpace) fillFrame(vpn, frame int) (string, error) {
	if err := s.mem.zeroFrame(frame); err != nil {
		return "", err
	}

	if s.onDisk.Test(vpn) {
		sector, _ := s.mem.swap.SectorFor(s.swapMap, vpn)

		buf := make([]byte, s.mem.PageSize())
		if err := s.mem.swap.ReadPage(sector, buf); err != nil {
			return "", err
		}

		return SourceSwap, s.mem.writeFrame(frame, 0, buf)
	}

	return s.loadFromExecutable(vpn, frame)
}

func (s *AddrSpace) loadFromExecutable(vpn, frame int) (string, error) {
	pageSize := s.mem.PageSize()
	start := vpn * pageSize
	end := start + pageSize
	source := SourceZero

	var exe filesys.OpenFile
	defer func() {
		if exe != nil {
			exe.Close()
		}
	}()

	for _, seg := range []noff.Segment{s.header.Code, s.header.InitData} {
		from, to, ok := seg.Intersect(start, end)
		if !ok {
			continue
		}

		if exe == nil {
			var err error

			exe, err = s.fs.Open(s.path)
			if err != nil {
				return "", fmt.Errorf("%w: %s: %w",
					ErrBadExecutable, s.path, err)
			}
		}

		buf := make([]byte, to-from)

		n, err := exe.ReadAt(buf, seg.InFileAddr+from-seg.VirtualAddr)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrBadExecutable, s.path, err)
		}

		if err := s.mem.writeFrame(frame, from-start, buf[:n]); err != nil {
			return "", err
		}

		source = SourceExecutable
	}

	return source, nil
}

// obtainFrame returns an exclusively owned frame, evicting a page of this
// space if none is free.
func (s *AddrSpace) obtainFrame() (int, error) {
	if frame, ok := s.mem.coreMap.Acquire(); ok {
		return frame, nil
	}

	return s.storePage()
}
