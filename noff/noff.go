// Package noff reads and writes NOFF, the executable format user programs
// are loaded from.
package noff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// Magic identifies a NOFF file.
const Magic uint32 = 0x00badfad

// HeaderSize is the size of the encoded header in bytes.
const HeaderSize = 40

// ErrBadMagic is returned when the header does not start with Magic in
// either byte order.
var ErrBadMagic = errors.New("not a NOFF executable")

// ErrBadSegment is returned for a segment with a negative field or one that
// ends past the 32-bit address space.
var ErrBadSegment = errors.New("bad NOFF segment")

// Segment locates one part of the program in memory and in the file.
type Segment struct {
	VirtualAddr int
	InFileAddr  int
	Size        int
}

// End returns the first virtual address past the segment.
func (s Segment) End() int {
	return s.VirtualAddr + s.Size
}

// Intersect returns the part of [start, end) covered by the segment. ok is
// false when they do not overlap.
func (s Segment) Intersect(start, end int) (from, to int, ok bool) {
	if s.Size <= 0 {
		return 0, 0, false
	}

	from = max(start, s.VirtualAddr)
	to = min(end, s.End())

	return from, to, from < to
}

// Header is the NOFF file header.
type Header struct {
	Magic      uint32
	Code       Segment
	InitData   Segment
	UninitData Segment
}

// MemorySize returns the bytes the program needs in memory, given the stack
// allowance.
func (h Header) MemorySize(stack int) int {
	return h.Code.Size + h.InitData.Size + h.UninitData.Size + stack
}

// NumPages returns MemorySize rounded up to whole pages.
func (h Header) NumPages(stack, pageSize int) int {
	return (h.MemorySize(stack) + pageSize - 1) / pageSize
}

// ReadHeader decodes the header at the start of r. Headers written on a
// machine of the other endianness are swapped.
func ReadHeader(r io.ReaderAt) (Header, error) {
	buf := make([]byte, HeaderSize)

	n, err := r.ReadAt(buf, 0)
	if n < HeaderSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return Header{}, fmt.Errorf("reading NOFF header: %w", err)
	}

	var h Header

	magic := binary.LittleEndian.Uint32(buf)
	switch {
	case magic == Magic:
		h = decode(buf, binary.LittleEndian)
	case bits.ReverseBytes32(magic) == Magic:
		h = decode(buf, binary.BigEndian)
	default:
		return Header{}, fmt.Errorf("%w: magic 0x%08x", ErrBadMagic, magic)
	}

	if err := h.Validate(); err != nil {
		return Header{}, err
	}

	return h, nil
}

// Validate checks that every segment field is non-negative and that the
// segments, and their total size, fit in a 32-bit address space.
func (h Header) Validate() error {
	segments := []struct {
		name string
		seg  Segment
	}{
		{"code", h.Code},
		{"data", h.InitData},
		{"bss", h.UninitData},
	}

	total := 0

	for _, s := range segments {
		if s.seg.VirtualAddr < 0 || s.seg.InFileAddr < 0 || s.seg.Size < 0 {
			return fmt.Errorf("%w: %s %+v", ErrBadSegment, s.name, s.seg)
		}

		if s.seg.End() > math.MaxInt32 ||
			s.seg.InFileAddr+s.seg.Size > math.MaxInt32 {
			return fmt.Errorf("%w: %s ends past 2 GiB", ErrBadSegment, s.name)
		}

		total += s.seg.Size
	}

	if total > math.MaxInt32 {
		return fmt.Errorf("%w: total size %d", ErrBadSegment, total)
	}

	return nil
}

func decode(buf []byte, order binary.ByteOrder) Header {
	word := func(i int) int {
		return int(int32(order.Uint32(buf[i*4:])))
	}

	seg := func(i int) Segment {
		return Segment{
			VirtualAddr: word(i),
			InFileAddr:  word(i + 1),
			Size:        word(i + 2),
		}
	}

	return Header{
		Magic:      order.Uint32(buf),
		Code:       seg(1),
		InitData:   seg(4),
		UninitData: seg(7),
	}
}

// MarshalBinary encodes the header in little endian.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.Encode(binary.LittleEndian), nil
}

// Encode encodes the header in the given byte order.
func (h Header) Encode(order binary.ByteOrder) []byte {
	buf := make([]byte, HeaderSize)
	order.PutUint32(buf, h.Magic)

	for i, s := range []Segment{h.Code, h.InitData, h.UninitData} {
		base := 4 + i*12
		order.PutUint32(buf[base:], uint32(s.VirtualAddr))
		order.PutUint32(buf[base+4:], uint32(s.InFileAddr))
		order.PutUint32(buf[base+8:], uint32(s.Size))
	}

	return buf
}

// Build lays out a program image: code at virtual address 0, initialized
// data right after it, then bss bytes of uninitialized data.
func Build(code, data []byte, bss int) []byte {
	h := Header{
		Magic: Magic,
		Code: Segment{
			VirtualAddr: 0,
			InFileAddr:  HeaderSize,
			Size:        len(code),
		},
		InitData: Segment{
			VirtualAddr: len(code),
			InFileAddr:  HeaderSize + len(code),
			Size:        len(data),
		},
		UninitData: Segment{
			VirtualAddr: len(code) + len(data),
			Size:        bss,
		},
	}

	image, _ := h.MarshalBinary()
	image = append(image, code...)
	image = append(image, data...)

	return image
}
