package machine

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDiskBusy is returned when the disk cannot accept a request right
	// now. The caller may yield and retry.
	ErrDiskBusy = errors.New("disk busy")

	// ErrBadSector is returned for a sector number outside the disk.
	ErrBadSector = errors.New("bad sector")
)

// Disk transfers whole sectors between the swap device and memory.
type Disk interface {
	ReadSector(sector int, buf []byte) error
	WriteSector(sector int, buf []byte) error
	NumSectors() int
	SectorSize() int
}

// SimDisk is a synchronous disk kept in a Storage.
type SimDisk struct {
	sync.Mutex
	storage    *Storage
	numSectors int
	sectorSize int
	busyWrites int
	reads      int
	writes     int
}

// NewSimDisk creates a disk of numSectors sectors of sectorSize bytes.
func NewSimDisk(numSectors, sectorSize int) *SimDisk {
	return &SimDisk{
		storage: NewStorage(
			uint64(numSectors)*uint64(sectorSize), uint64(sectorSize)),
		numSectors: numSectors,
		sectorSize: sectorSize,
	}
}

// NumSectors returns the number of sectors.
func (d *SimDisk) NumSectors() int {
	return d.numSectors
}

// SectorSize returns the size of a sector in bytes.
func (d *SimDisk) SectorSize() int {
	return d.sectorSize
}

// InjectBusy makes the next n writes fail with ErrDiskBusy.
func (d *SimDisk) InjectBusy(n int) {
	d.Lock()
	defer d.Unlock()

	d.busyWrites = n
}

// Stats returns the number of completed sector reads and writes.
func (d *SimDisk) Stats() (reads, writes int) {
	d.Lock()
	defer d.Unlock()

	return d.reads, d.writes
}

func (d *SimDisk) checkRequest(sector int, buf []byte) error {
	if sector < 0 || sector >= d.numSectors {
		return fmt.Errorf("%w: %d", ErrBadSector, sector)
	}

	if len(buf) < d.sectorSize {
		return fmt.Errorf("buffer of %d bytes is smaller than a sector",
			len(buf))
	}

	return nil
}

// ReadSector copies a sector into buf.
func (d *SimDisk) ReadSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()

	if err := d.checkRequest(sector, buf); err != nil {
		return err
	}

	data, err := d.storage.Read(
		uint64(sector)*uint64(d.sectorSize), uint64(d.sectorSize))
	if err != nil {
		return err
	}

	copy(buf, data)
	d.reads++

	return nil
}

// WriteSector copies the first sector-size bytes of buf to a sector.
func (d *SimDisk) WriteSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()

	if err := d.checkRequest(sector, buf); err != nil {
		return err
	}

	if d.busyWrites > 0 {
		d.busyWrites--
		return ErrDiskBusy
	}

	err := d.storage.Write(
		uint64(sector)*uint64(d.sectorSize), buf[:d.sectorSize])
	if err != nil {
		return err
	}

	d.writes++

	return nil
}
