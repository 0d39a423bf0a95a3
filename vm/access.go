package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// resolve returns the frame and in-page offset of a user address, loading
// the page and breaking copy-on-write sharing as needed.
func (s *AddrSpace) resolve(addr int, writing bool) (frame, offset int, err error) {
	if addr < 0 {
		return -1, 0, fmt.Errorf("%w: address %d", ErrSegFault, addr)
	}

	pageSize := s.mem.PageSize()
	vpn := addr / pageSize

	if writing {
		frame, err = s.allowWrites(vpn)
	} else {
		frame, err = s.loadPage(vpn)
	}

	if err != nil {
		return -1, 0, err
	}

	e, _ := s.pageTable.Find(vpn)
	e.Use = true
	if writing {
		e.Dirty = true
	}

	return frame, addr % pageSize, nil
}

// Read copies n bytes of user memory starting at addr. With n equal to 0 it
// reads a NUL-terminated string instead and returns it without the NUL,
// stopping at the string cap.
func (s *AddrSpace) Read(addr, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: read of %d bytes", ErrSegFault, n)
	}

	s.mem.Lock()
	defer s.mem.Unlock()

	str := n == 0
	if str {
		n = s.mem.Config().StringCap
	}

	pageSize := s.mem.PageSize()
	out := make([]byte, 0, min(n, pageSize))

	for done := 0; done < n; {
		frame, offset, err := s.resolve(addr+done, false)
		if err != nil {
			return nil, err
		}

		chunk := min(pageSize-offset, n-done)

		data, err := s.mem.physical.Read(
			s.mem.frameAddr(frame, offset), uint64(chunk))
		if err != nil {
			return nil, err
		}

		if str {
			if i := bytes.IndexByte(data, 0); i >= 0 {
				return append(out, data[:i]...), nil
			}
		}

		out = append(out, data...)
		done += chunk
	}

	return out, nil
}

// Write copies the first n bytes of buf to user memory starting at addr.
// With n equal to 0 it writes buf as a NUL-terminated string, adding the NUL
// if buf has none.
func (s *AddrSpace) Write(addr int, buf []byte, n int) error {
	switch {
	case n < 0 || n > len(buf):
		return fmt.Errorf("%w: write of %d bytes from a %d byte buffer",
			ErrSegFault, n, len(buf))
	case n == 0:
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			buf = buf[:i+1]
		} else {
			buf = append(buf[:len(buf):len(buf)], 0)
		}
	default:
		buf = buf[:n]
	}

	s.mem.Lock()
	defer s.mem.Unlock()

	pageSize := s.mem.PageSize()
	for done := 0; done < len(buf); {
		frame, offset, err := s.resolve(addr+done, true)
		if err != nil {
			return err
		}

		chunk := min(pageSize-offset, len(buf)-done)

		err = s.mem.writeFrame(frame, offset, buf[done:done+chunk])
		if err != nil {
			return err
		}

		done += chunk
	}

	return nil
}

// ReadString reads a NUL-terminated string.
func (s *AddrSpace) ReadString(addr int) (string, error) {
	data, err := s.Read(addr, 0)
	return string(data), err
}

// WriteString writes str followed by a NUL.
func (s *AddrSpace) WriteString(addr int, str string) error {
	return s.Write(addr, []byte(str), 0)
}

// ReadWord reads a little-endian 32-bit word.
func (s *AddrSpace) ReadWord(addr int) (int, error) {
	data, err := s.Read(addr, 4)
	if err != nil {
		return 0, err
	}

	return int(int32(binary.LittleEndian.Uint32(data))), nil
}

// WriteWord writes a little-endian 32-bit word.
func (s *AddrSpace) WriteWord(addr, value int) error {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(value))
	return s.Write(addr, buf, len(buf))
}
