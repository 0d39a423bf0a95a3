package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSegment is returned when a shared-memory key is not registered.
	ErrNoSegment = errors.New("no such shared memory segment")

	// ErrSegmentExists is returned when creating a key that is registered.
	ErrSegmentExists = errors.New("shared memory segment exists")
)

type segment struct {
	frames   []int
	attached int
}

// CoreMap tracks how many page table entries map each physical frame, and
// which frames belong to shared-memory segments.
//
// A CoreMap does no locking. Its owner, Memory, serializes access.
type CoreMap struct {
	refCounts []int
	segments  map[int]*segment
	segmentOf map[int]int
}

// NewCoreMap creates a CoreMap with every frame free.
func NewCoreMap(numFrames int) *CoreMap {
	return &CoreMap{
		refCounts: make([]int, numFrames),
		segments:  make(map[int]*segment),
		segmentOf: make(map[int]int),
	}
}

// NumFrames returns the number of physical frames.
func (c *CoreMap) NumFrames() int {
	return len(c.refCounts)
}

// Acquire returns the first free frame that is not part of a shared segment
// and marks it exclusively owned. ok is false when every frame is taken.
func (c *CoreMap) Acquire() (frame int, ok bool) {
	for i, count := range c.refCounts {
		if c.IsShared(i) {
			continue
		}

		if count == 0 {
			c.refCounts[i] = 1
			return i, true
		}
	}

	return -1, false
}

// Retain adds a reference to a frame.
func (c *CoreMap) Retain(frame int) {
	c.refCounts[frame]++
}

// Release drops a reference to a frame.
func (c *CoreMap) Release(frame int) {
	if c.refCounts[frame] > 0 {
		c.refCounts[frame]--
	}
}

// Free drops every reference to a frame.
func (c *CoreMap) Free(frame int) {
	c.refCounts[frame] = 0
}

// RefCount returns the number of references to a frame.
func (c *CoreMap) RefCount(frame int) int {
	if frame < 0 || frame >= len(c.refCounts) {
		return 0
	}

	return c.refCounts[frame]
}

// NumFree returns the number of frames Acquire could hand out.
func (c *CoreMap) NumFree() int {
	n := 0
	for i, count := range c.refCounts {
		if count == 0 && !c.IsShared(i) {
			n++
		}
	}

	return n
}

// IsShared reports whether the frame belongs to a shared-memory segment.
func (c *CoreMap) IsShared(frame int) bool {
	_, ok := c.segmentOf[frame]
	return ok
}

// SegmentKeyOf returns the key of the segment holding the frame.
func (c *CoreMap) SegmentKeyOf(frame int) (int, bool) {
	key, ok := c.segmentOf[frame]
	return key, ok
}

// CreateSegment registers frames under key.
func (c *CoreMap) CreateSegment(key int, frames []int) error {
	if _, ok := c.segments[key]; ok {
		return fmt.Errorf("%w: key %d", ErrSegmentExists, key)
	}

	c.segments[key] = &segment{frames: append([]int(nil), frames...)}
	for _, f := range frames {
		c.segmentOf[f] = key
	}

	return nil
}

// Segment returns the frames registered under key, in order.
func (c *CoreMap) Segment(key int) ([]int, bool) {
	seg, ok := c.segments[key]
	if !ok {
		return nil, false
	}

	return append([]int(nil), seg.frames...), true
}

// Attach records that one more address space maps the segment.
func (c *CoreMap) Attach(key int) {
	if seg, ok := c.segments[key]; ok {
		seg.attached++
	}
}

// Detach records that an address space no longer maps the segment. When the
// last one detaches, the segment is deleted and its frames return to the
// free pool.
func (c *CoreMap) Detach(key int) {
	seg, ok := c.segments[key]
	if !ok {
		return
	}

	seg.attached--
	if seg.attached > 0 {
		return
	}

	for _, f := range seg.frames {
		delete(c.segmentOf, f)
	}

	delete(c.segments, key)
}

// NumSegments returns the number of registered segments.
func (c *CoreMap) NumSegments() int {
	return len(c.segments)
}
