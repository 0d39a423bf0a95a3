package vm

// AllowWrites makes a page writable and returns its frame. A read-only page
// that no other space maps is simply marked writable. Otherwise the page is
// copied to a private frame and the shared frame loses one reference.
func (s *AddrSpace) AllowWrites(vpn int) (int, error) {
	s.mem.Lock()
	defer s.mem.Unlock()

	return s.allowWrites(vpn)
}

func (s *AddrSpace) allowWrites(vpn int) (int, error) {
	if s.released {
		return -1, ErrReleased
	}

	e, err := s.entryOf(vpn)
	if err != nil {
		return -1, err
	}

	if !e.Valid {
		if _, err := s.loadPage(vpn); err != nil {
			return -1, err
		}
	}

	if !e.ReadOnly {
		return e.PhysicalPage, nil
	}

	shared := e.PhysicalPage
	if s.mem.coreMap.RefCount(shared) <= 1 {
		e.ReadOnly = false
		return shared, nil
	}

	data, err := s.mem.readFrame(shared)
	if err != nil {
		return -1, err
	}

	frame, err := s.obtainFrame()
	if err != nil {
		return -1, err
	}

	// Obtaining a frame may have evicted this very page.
	if e.Valid && e.PhysicalPage == shared {
		s.mem.coreMap.Release(shared)
	}

	if err := s.mem.writeFrame(frame, 0, data); err != nil {
		s.mem.coreMap.Release(frame)
		e.Unmap()

		return -1, err
	}

	e.PhysicalPage = frame
	e.Valid = true
	e.Use = true
	e.Dirty = true
	e.ReadOnly = false

	s.invokePagingHook(HookPosCopyOnWrite, PagingEvent{
		VPN:    vpn,
		Frame:  frame,
		Sector: -1,
	})

	return frame, nil
}
