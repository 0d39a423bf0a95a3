package vm

import (
	"fmt"
	"sync"

	"github.com/sarchlab/nachosvm/config"
	"github.com/sarchlab/nachosvm/machine"
	"github.com/sarchlab/nachosvm/threads"
)

// Memory is the physical memory manager shared by every address space. One
// lock serializes the frame allocator, the swap area and all page table
// updates.
type Memory struct {
	sync.Mutex

	cfg      config.Config
	physical machine.Memory
	coreMap  *CoreMap
	swap     *SwapArea
	sched    threads.Scheduler
	spaces   map[*AddrSpace]struct{}
}

// yieldUnlocked lets other threads run. The caller holds the lock, which is
// released for the duration of the yield.
func (m *Memory) yieldUnlocked() {
	m.Unlock()
	defer m.Lock()

	m.sched.Yield()
}

// Config returns the configuration the memory was built with.
func (m *Memory) Config() config.Config {
	return m.cfg
}

// PageSize returns the size of a page in bytes.
func (m *Memory) PageSize() int {
	return m.cfg.PageSize
}

// Physical returns the physical memory frames live in.
func (m *Memory) Physical() machine.Memory {
	return m.physical
}

// FrameInfo describes one physical frame.
type FrameInfo struct {
	Frame      int  `json:"frame"`
	RefCount   int  `json:"ref_count"`
	Shared     bool `json:"shared"`
	SegmentKey int  `json:"segment_key"`
}

// Frames returns the state of every physical frame.
func (m *Memory) Frames() []FrameInfo {
	m.Lock()
	defer m.Unlock()

	frames := make([]FrameInfo, m.coreMap.NumFrames())
	for i := range frames {
		key, shared := m.coreMap.SegmentKeyOf(i)
		if !shared {
			key = -1
		}

		frames[i] = FrameInfo{
			Frame:      i,
			RefCount:   m.coreMap.RefCount(i),
			Shared:     shared,
			SegmentKey: key,
		}
	}

	return frames
}

// NumFreeFrames returns the number of frames not in use.
func (m *Memory) NumFreeFrames() int {
	m.Lock()
	defer m.Unlock()

	return m.coreMap.NumFree()
}

// SwapInfo summarizes the swap area.
type SwapInfo struct {
	NumSectors  int `json:"num_sectors"`
	FreeSectors int `json:"free_sectors"`
	Segments    int `json:"segments"`
}

// Swap returns the state of the swap area.
func (m *Memory) Swap() SwapInfo {
	m.Lock()
	defer m.Unlock()

	return SwapInfo{
		NumSectors:  m.swap.NumSectors(),
		FreeSectors: m.swap.NumFree(),
		Segments:    m.coreMap.NumSegments(),
	}
}

// CheckRefCounts verifies that the reference count of every frame equals
// the number of valid entries mapping it across all live address spaces.
func (m *Memory) CheckRefCounts() error {
	m.Lock()
	defer m.Unlock()

	counts := make([]int, m.coreMap.NumFrames())
	for s := range m.spaces {
		for _, e := range s.pageTable.Entries() {
			if e.Valid {
				counts[e.PhysicalPage]++
			}
		}
	}

	for frame, n := range counts {
		if got := m.coreMap.RefCount(frame); got != n {
			return fmt.Errorf("frame %d: ref count %d, mapped by %d entries",
				frame, got, n)
		}
	}

	return nil
}

func (m *Memory) register(s *AddrSpace) {
	m.spaces[s] = struct{}{}
}

func (m *Memory) unregister(s *AddrSpace) {
	delete(m.spaces, s)
}

func (m *Memory) frameAddr(frame, offset int) uint64 {
	return uint64(frame*m.cfg.PageSize + offset)
}

func (m *Memory) readFrame(frame int) ([]byte, error) {
	return m.physical.Read(m.frameAddr(frame, 0), uint64(m.cfg.PageSize))
}

func (m *Memory) writeFrame(frame, offset int, data []byte) error {
	return m.physical.Write(m.frameAddr(frame, offset), data)
}

func (m *Memory) zeroFrame(frame int) error {
	return m.writeFrame(frame, 0, make([]byte, m.cfg.PageSize))
}
