// Package fdtable maps the small integer file descriptors user programs see
// to open files.
package fdtable

import (
	"errors"
	"sync"

	"github.com/sarchlab/nachosvm/filesys"
)

// Descriptors reserved for the console.
const (
	ConsoleInput  = 0
	ConsoleOutput = 1
)

// DefaultSize is the capacity of a table created with size 0.
const DefaultSize = 512

type consoleFile struct {
	name string
}

func (c *consoleFile) ReadAt([]byte, int) (int, error)  { return 0, nil }
func (c *consoleFile) WriteAt([]byte, int) (int, error) { return 0, nil }
func (c *consoleFile) Read([]byte) (int, error)         { return 0, nil }
func (c *consoleFile) Write([]byte) (int, error)        { return 0, nil }
func (c *consoleFile) Length() int                      { return 0 }
func (c *consoleFile) Close() error                     { return nil }

var (
	consoleIn  filesys.OpenFile = &consoleFile{name: "stdin"}
	consoleOut filesys.OpenFile = &consoleFile{name: "stdout"}
)

// IsConsole reports whether f is one of the console sentinels.
func IsConsole(f filesys.OpenFile) bool {
	return f == consoleIn || f == consoleOut
}

// ErrBadFD is returned for a descriptor that does not name an open file.
var ErrBadFD = errors.New("bad file descriptor")

// handle is an open file held by one or more tables. The file is closed
// when the last holder lets go of it.
type handle struct {
	sync.Mutex
	file filesys.OpenFile
	refs int
}

func (h *handle) retain() {
	h.Lock()
	defer h.Unlock()

	h.refs++
}

func (h *handle) release() error {
	h.Lock()
	defer h.Unlock()

	h.refs--
	if h.refs > 0 || IsConsole(h.file) {
		return nil
	}

	return h.file.Close()
}

// Table is a fixed-capacity descriptor table.
type Table struct {
	sync.Mutex
	handles []*handle
}

// New creates a table with the console descriptors taken.
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}

	t := &Table{
		handles: make([]*handle, size),
	}

	t.Put(consoleIn)
	t.Put(consoleOut)

	return t
}

// Size returns the capacity of the table.
func (t *Table) Size() int {
	return len(t.handles)
}

// Put stores f in the lowest free slot and returns it, or -1 when the table
// is full.
func (t *Table) Put(f filesys.OpenFile) int {
	t.Lock()
	defer t.Unlock()

	for i, h := range t.handles {
		if h == nil {
			t.handles[i] = &handle{file: f, refs: 1}
			return i
		}
	}

	return -1
}

func (t *Table) valid(fd int) bool {
	return fd >= 0 && fd < len(t.handles) && t.handles[fd] != nil
}

// Get returns the file at fd, or nil if the slot is out of range or free.
func (t *Table) Get(fd int) filesys.OpenFile {
	t.Lock()
	defer t.Unlock()

	if !t.valid(fd) {
		return nil
	}

	return t.handles[fd].file
}

// Remove frees fd and returns the file it held, or nil. The file is not
// closed.
func (t *Table) Remove(fd int) filesys.OpenFile {
	t.Lock()
	defer t.Unlock()

	if !t.valid(fd) {
		return nil
	}

	h := t.handles[fd]
	t.handles[fd] = nil

	h.Lock()
	h.refs--
	h.Unlock()

	return h.file
}

// Close frees fd. The file is closed once no table holds it anymore.
func (t *Table) Close(fd int) error {
	t.Lock()
	defer t.Unlock()

	if !t.valid(fd) {
		return ErrBadFD
	}

	h := t.handles[fd]
	t.handles[fd] = nil

	return h.release()
}

// InUse returns the number of occupied slots, console slots included.
func (t *Table) InUse() int {
	t.Lock()
	defer t.Unlock()

	n := 0
	for _, h := range t.handles {
		if h != nil {
			n++
		}
	}

	return n
}

// Clone returns a table holding the same files in the same slots. Each
// inherited file stays open until every table holding it closes it.
func (t *Table) Clone() *Table {
	t.Lock()
	defer t.Unlock()

	clone := &Table{
		handles: make([]*handle, len(t.handles)),
	}

	for i, h := range t.handles {
		if h == nil {
			continue
		}

		h.retain()
		clone.handles[i] = h
	}

	return clone
}

// CloseAll frees every slot except the console ones, closing the files no
// other table holds.
func (t *Table) CloseAll() {
	t.Lock()
	defer t.Unlock()

	for i, h := range t.handles {
		if h == nil || IsConsole(h.file) {
			continue
		}

		_ = h.release()
		t.handles[i] = nil
	}
}
