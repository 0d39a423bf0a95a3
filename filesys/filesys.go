// Package filesys defines the file system the kernel opens executables and
// user files through, and provides an in-memory implementation.
package filesys

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when opening or removing a file that does not
// exist.
var ErrNotFound = errors.New("file not found")

// ErrClosed is returned by operations on a closed file.
var ErrClosed = errors.New("file closed")

// FileSystem creates, opens and removes named files.
type FileSystem interface {
	Create(name string, initialSize int) error
	Open(name string) (OpenFile, error)
	Remove(name string) error
}

// OpenFile is a handle on an open file with its own seek position.
type OpenFile interface {
	ReadAt(buf []byte, pos int) (int, error)
	WriteAt(buf []byte, pos int) (int, error)
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Length() int
	Close() error
}

type file struct {
	data []byte
}

// MemFS is a FileSystem kept in memory.
type MemFS struct {
	sync.Mutex
	files map[string]*file
}

// NewMemFS creates an empty file system.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]*file),
	}
}

// Create makes an empty file of initialSize zero bytes. An existing file is
// truncated.
func (fs *MemFS) Create(name string, initialSize int) error {
	if name == "" {
		return fmt.Errorf("create: empty file name")
	}

	if initialSize < 0 {
		return fmt.Errorf("create %s: negative size %d", name, initialSize)
	}

	fs.Lock()
	defer fs.Unlock()

	fs.files[name] = &file{data: make([]byte, initialSize)}

	return nil
}

// Open returns a new handle positioned at the start of the file.
func (fs *MemFS) Open(name string) (OpenFile, error) {
	fs.Lock()
	defer fs.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, ErrNotFound)
	}

	return &memFile{fs: fs, file: f}, nil
}

// Remove deletes a file. Handles that are already open keep working.
func (fs *MemFS) Remove(name string) error {
	fs.Lock()
	defer fs.Unlock()

	if _, ok := fs.files[name]; !ok {
		return fmt.Errorf("remove %s: %w", name, ErrNotFound)
	}

	delete(fs.files, name)

	return nil
}

// WriteFile creates a file holding data.
func (fs *MemFS) WriteFile(name string, data []byte) {
	fs.Lock()
	defer fs.Unlock()

	fs.files[name] = &file{data: append([]byte(nil), data...)}
}

// Len returns the number of files.
func (fs *MemFS) Len() int {
	fs.Lock()
	defer fs.Unlock()

	return len(fs.files)
}

type memFile struct {
	fs       *MemFS
	file     *file
	position int
	closed   bool
}

func (f *memFile) ReadAt(buf []byte, pos int) (int, error) {
	f.fs.Lock()
	defer f.fs.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	if pos < 0 {
		return 0, fmt.Errorf("read at negative offset %d", pos)
	}

	if pos >= len(f.file.data) {
		return 0, nil
	}

	return copy(buf, f.file.data[pos:]), nil
}

func (f *memFile) WriteAt(buf []byte, pos int) (int, error) {
	f.fs.Lock()
	defer f.fs.Unlock()

	if f.closed {
		return 0, ErrClosed
	}

	if pos < 0 {
		return 0, fmt.Errorf("write at negative offset %d", pos)
	}

	end := pos + len(buf)
	if end > len(f.file.data) {
		grown := make([]byte, end)
		copy(grown, f.file.data)
		f.file.data = grown
	}

	return copy(f.file.data[pos:end], buf), nil
}

func (f *memFile) Read(buf []byte) (int, error) {
	n, err := f.ReadAt(buf, f.position)
	f.position += n
	return n, err
}

func (f *memFile) Write(buf []byte) (int, error) {
	n, err := f.WriteAt(buf, f.position)
	f.position += n
	return n, err
}

func (f *memFile) Length() int {
	f.fs.Lock()
	defer f.fs.Unlock()

	return len(f.file.data)
}

func (f *memFile) Close() error {
	f.fs.Lock()
	defer f.fs.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.closed = true

	return nil
}
