// Package fs defines the block-device abstraction that filesystem drivers
// are written against, together with a RAM-backed implementation used by
// the hosted machine and by driver tests.
package fs

import "burrowos/kernel"

// ErrSectorOutOfRange is returned by block devices when a read or write
// targets a sector past the end of the device.
var ErrSectorOutOfRange = &kernel.Error{Module: "fs", Message: "sector index out of range"}

// BlockDevice is implemented by drivers that expose storage as an array of
// fixed-size sectors.
type BlockDevice interface {
	// ReadSector copies the contents of the given sector into buf. When
	// buf is shorter than a sector only the leading len(buf) bytes are
	// copied.
	ReadSector(sector uint32, buf []byte) *kernel.Error

	// WriteSector copies buf into the given sector. When buf is shorter
	// than a sector the remaining sector bytes keep their previous
	// contents.
	WriteSector(sector uint32, buf []byte) *kernel.Error

	// SectorSize returns the size of each sector in bytes.
	SectorSize() int

	// TotalSectors returns the number of addressable sectors.
	TotalSectors() int
}

// RAMDisk is a BlockDevice backed by a plain byte slice. Trailing bytes
// that do not fill a whole sector are not addressable.
type RAMDisk struct {
	data       []byte
	sectorSize int
}

// NewRAMDisk exposes data as a block device with the given sector size.
func NewRAMDisk(data []byte, sectorSize int) *RAMDisk {
	return &RAMDisk{data: data, sectorSize: sectorSize}
}

// ReadSector implements BlockDevice.
func (d *RAMDisk) ReadSector(sector uint32, buf []byte) *kernel.Error {
	if int(sector) >= d.TotalSectors() {
		return ErrSectorOutOfRange
	}

	start := int(sector) * d.sectorSize
	copy(buf, d.data[start:start+d.sectorSize])
	return nil
}

// WriteSector implements BlockDevice.
func (d *RAMDisk) WriteSector(sector uint32, buf []byte) *kernel.Error {
	if int(sector) >= d.TotalSectors() {
		return ErrSectorOutOfRange
	}

	start := int(sector) * d.sectorSize
	copy(d.data[start:start+d.sectorSize], buf)
	return nil
}

// SectorSize implements BlockDevice.
func (d *RAMDisk) SectorSize() int {
	return d.sectorSize
}

// TotalSectors implements BlockDevice.
func (d *RAMDisk) TotalSectors() int {
	return len(d.data) / d.sectorSize
}
