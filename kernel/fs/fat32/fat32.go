// Package fat32 implements a read-only FAT32 driver on top of the
// fs.BlockDevice interface.
//
// A mounted volume keeps two heap-backed scratch windows: a cluster-sized
// window for directory and file data and a sector-sized window for
// allocation-table reads. Lookups walk classic 8.3 directory entries;
// long-name and volume-label entries are skipped.
package fat32

import (
	"burrowos/kernel"
	"burrowos/kernel/fs"
	"burrowos/kernel/heap"
	"burrowos/kernel/kfmt"
)

var (
	// ErrReadOnly is returned by write operations.
	ErrReadOnly = &kernel.Error{Module: "fat32", Message: "filesystem is read-only"}

	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = &kernel.Error{Module: "fat32", Message: "no such file or directory"}

	// ErrNotADirectory is returned when a non-final path component names a
	// regular file.
	ErrNotADirectory = &kernel.Error{Module: "fat32", Message: "path component is not a directory"}

	// ErrIsADirectory is returned when a path names a directory where a
	// regular file is required.
	ErrIsADirectory = &kernel.Error{Module: "fat32", Message: "cannot open a directory"}

	// ErrClosedFile is returned when operating on a file after Close.
	ErrClosedFile = &kernel.Error{Module: "fat32", Message: "file is closed"}

	// ErrInvalidGeometry is returned by Mount when the boot sector does not
	// describe a usable FAT32 volume.
	ErrInvalidGeometry = &kernel.Error{Module: "fat32", Message: "unsupported volume geometry"}

	// ErrCorruptedChain is returned when the allocation table loops or
	// disagrees with a file's recorded size.
	ErrCorruptedChain = &kernel.Error{Module: "fat32", Message: "corrupted cluster chain"}
)

const (
	// The BPB and its trailing signature always fit in the first 512 bytes
	// of the device regardless of its sector size.
	bootSectorSize = 512

	// Boot sector field offsets.
	offBytesPerSector    = 11
	offSectorsPerCluster = 13
	offReservedSectors   = 14
	offFATCount          = 16
	offTotalSectors16    = 19
	offTotalSectors32    = 32
	offSectorsPerFAT32   = 36
	offRootCluster       = 44
	offBootSignature     = 510

	// Directory entry layout.
	dirEntrySize        = 32
	offEntryAttributes  = 11
	offEntryClusterHigh = 20
	offEntryClusterLow  = 26
	offEntrySize        = 28

	baseNameLen = 8
	extNameLen  = 3
	maxNameLen  = baseNameLen + 1 + extNameLen

	// Directory entry name[0] markers.
	entryNeverUsed = 0x00
	entryDeleted   = 0xe5

	// Attribute bits.
	attrVolumeLabel = 0x08
	attrDirectory   = 0x10
	attrLongName    = 0x0f

	// Allocation table entries are 32 bits wide with the top nibble
	// reserved. Entry values at or above endOfChainMin terminate a chain.
	fatEntrySize  = 4
	clusterMask   = 0x0fffffff
	endOfChainMin = 0x0ffffff8
)

// geometry captures the volume layout derived from the boot sector.
type geometry struct {
	bytesPerSector    uint32
	sectorsPerCluster uint32
	fatStartSector    uint32
	dataStartSector   uint32
	rootCluster       uint32
	totalClusters     uint32
}

func (g geometry) clusterSize() uint32 {
	return g.sectorsPerCluster * g.bytesPerSector
}

// clusterToSector returns the first sector of a data cluster. Cluster
// numbering starts at 2.
func (g geometry) clusterToSector(cluster uint32) uint32 {
	return g.dataStartSector + (cluster-2)*g.sectorsPerCluster
}

// Volume is a mounted FAT32 filesystem.
type Volume struct {
	geometry

	dev  fs.BlockDevice
	heap *heap.Manager

	scratchAddr    uintptr
	scratch        []byte
	fatScratchAddr uintptr
	fatScratch     []byte
}

// Mount parses the boot sector of dev and returns a volume ready for path
// lookups. Scratch space for cluster and allocation-table reads is drawn
// from heapAlloc and stays allocated until Unmount.
func Mount(dev fs.BlockDevice, heapAlloc *heap.Manager) (*Volume, *kernel.Error) {
	var sector0 [bootSectorSize]byte
	if err := dev.ReadSector(0, sector0[:]); err != nil {
		return nil, err
	}

	geo, err := parseGeometry(dev, sector0[:])
	if err != nil {
		return nil, err
	}

	v := &Volume{geometry: geo, dev: dev, heap: heapAlloc}

	if v.scratchAddr, v.scratch, err = v.scratchWindow(uintptr(geo.clusterSize())); err != nil {
		return nil, err
	}

	if v.fatScratchAddr, v.fatScratch, err = v.scratchWindow(uintptr(geo.bytesPerSector)); err != nil {
		v.heap.Free(v.scratchAddr, uintptr(geo.clusterSize()), uintptr(geo.bytesPerSector))
		return nil, err
	}

	kfmt.Printf("[fat32] geometry: %d bytes/sector, %d sectors/cluster, %d data clusters\n",
		geo.bytesPerSector, geo.sectorsPerCluster, geo.totalClusters)
	kfmt.Printf("[fat32] fat start sector: %d, data start sector: %d, root cluster: %d\n",
		geo.fatStartSector, geo.dataStartSector, geo.rootCluster)

	return v, nil
}

// Unmount releases the scratch space the volume drew from the heap. The
// volume and any files opened from it must not be used afterwards.
func (v *Volume) Unmount() *kernel.Error {
	align := uintptr(v.bytesPerSector)

	if err := v.heap.Free(v.scratchAddr, uintptr(v.clusterSize()), align); err != nil {
		return err
	}

	return v.heap.Free(v.fatScratchAddr, uintptr(v.bytesPerSector), align)
}

// Open looks up path and returns a file positioned at offset zero. Path
// components are separated by '/' and matched case-insensitively against
// the stored 8.3 names.
func (v *Volume) Open(path string) (*File, *kernel.Error) {
	component, rest := nextComponent(path)
	if component == "" {
		// The empty path and "/" name the root directory.
		return nil, ErrIsADirectory
	}

	current := v.rootCluster
	for {
		entry, found, err := v.findInDirectory(current, component)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}

		if component, rest = nextComponent(rest); component == "" {
			if entry.isDirectory() {
				return nil, ErrIsADirectory
			}

			chain, cerr := v.buildChain(entry.firstCluster)
			if cerr != nil {
				return nil, cerr
			}

			return &File{volume: v, chain: chain, size: entry.size}, nil
		}

		if !entry.isDirectory() {
			return nil, ErrNotADirectory
		}
		current = entry.firstCluster
	}
}

// scratchWindow allocates size bytes from the volume heap and returns the
// allocation address together with its translated byte window.
func (v *Volume) scratchWindow(size uintptr) (uintptr, []byte, *kernel.Error) {
	align := uintptr(v.bytesPerSector)

	addr, err := v.heap.Alloc(size, align)
	if err != nil {
		return 0, nil, err
	}

	window, err := v.heap.Bytes(addr, size)
	if err != nil {
		v.heap.Free(addr, size, align)
		return 0, nil, err
	}

	return addr, window, nil
}

// readCluster reads a full data cluster into dst. len(dst) must be at least
// clusterSize bytes.
func (v *Volume) readCluster(cluster uint32, dst []byte) *kernel.Error {
	var (
		start = v.clusterToSector(cluster)
		bps   = int(v.bytesPerSector)
	)

	for i := 0; i < int(v.sectorsPerCluster); i++ {
		if err := v.dev.ReadSector(start+uint32(i), dst[i*bps:(i+1)*bps]); err != nil {
			return err
		}
	}

	return nil
}

// fatNext returns the cluster that follows cluster in the allocation table
// or zero when cluster terminates its chain.
func (v *Volume) fatNext(cluster uint32) (uint32, *kernel.Error) {
	var (
		entryOffset = cluster * fatEntrySize
		sector      = v.fatStartSector + entryOffset/v.bytesPerSector
		offset      = entryOffset % v.bytesPerSector
	)

	if err := v.dev.ReadSector(sector, v.fatScratch); err != nil {
		return 0, err
	}

	next := readLE32(v.fatScratch[offset:]) & clusterMask
	if next >= endOfChainMin {
		return 0, nil
	}

	return next, nil
}

// buildChain follows the allocation table from start and returns the ordered
// cluster list for a file. A chain longer than the volume's cluster count
// can only be produced by a corrupted or looping table.
func (v *Volume) buildChain(start uint32) ([]uint32, *kernel.Error) {
	var chain []uint32

	for cluster := start; cluster != 0; {
		if uint32(len(chain)) >= v.totalClusters {
			return nil, ErrCorruptedChain
		}
		chain = append(chain, cluster)

		next, err := v.fatNext(cluster)
		if err != nil {
			return nil, err
		}
		cluster = next
	}

	return chain, nil
}

// findInDirectory scans the directory rooted at dirCluster for an entry
// matching name.
func (v *Volume) findInDirectory(dirCluster uint32, name string) (dirEntry, bool, *kernel.Error) {
	entriesPerCluster := int(v.clusterSize()) / dirEntrySize

	for cluster := dirCluster; cluster != 0; {
		if err := v.readCluster(cluster, v.scratch); err != nil {
			return dirEntry{}, false, err
		}

		for i := 0; i < entriesPerCluster; i++ {
			raw := v.scratch[i*dirEntrySize : (i+1)*dirEntrySize]
			if raw[0] == entryNeverUsed || raw[0] == entryDeleted {
				continue
			}

			if attr := raw[offEntryAttributes]; attr&attrLongName == attrLongName || attr&attrVolumeLabel != 0 {
				continue
			}

			if entryNameEquals(raw, name) {
				return parseDirEntry(raw), true, nil
			}
		}

		next, err := v.fatNext(cluster)
		if err != nil {
			return dirEntry{}, false, err
		}
		cluster = next
	}

	return dirEntry{}, false, nil
}

// parseGeometry validates the boot sector contents and derives the volume
// layout from them.
func parseGeometry(dev fs.BlockDevice, sector0 []byte) (geometry, *kernel.Error) {
	if sector0[offBootSignature] != 0x55 || sector0[offBootSignature+1] != 0xaa {
		return geometry{}, ErrInvalidGeometry
	}

	var (
		bytesPerSector    = uint32(readLE16(sector0[offBytesPerSector:]))
		sectorsPerCluster = uint32(sector0[offSectorsPerCluster])
		reservedSectors   = uint32(readLE16(sector0[offReservedSectors:]))
		fatCount          = uint32(sector0[offFATCount])
		sectorsPerFAT     = readLE32(sector0[offSectorsPerFAT32:])
		rootCluster       = readLE32(sector0[offRootCluster:])
		totalSectors      = readLE32(sector0[offTotalSectors32:])
	)

	if totalSectors == 0 {
		totalSectors = uint32(readLE16(sector0[offTotalSectors16:]))
	}

	switch {
	case bytesPerSector != uint32(dev.SectorSize()),
		bytesPerSector < 512 || bytesPerSector > 4096 || bytesPerSector&(bytesPerSector-1) != 0,
		sectorsPerCluster == 0 || sectorsPerCluster&(sectorsPerCluster-1) != 0,
		fatCount == 0,
		sectorsPerFAT == 0:
		return geometry{}, ErrInvalidGeometry
	}

	dataStart := reservedSectors + fatCount*sectorsPerFAT
	if dataStart >= totalSectors {
		return geometry{}, ErrInvalidGeometry
	}

	totalClusters := (totalSectors - dataStart) / sectorsPerCluster
	if totalClusters == 0 || rootCluster < 2 || rootCluster-2 >= totalClusters {
		return geometry{}, ErrInvalidGeometry
	}

	return geometry{
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		fatStartSector:    reservedSectors,
		dataStartSector:   dataStart,
		rootCluster:       rootCluster,
		totalClusters:     totalClusters,
	}, nil
}

// dirEntry is the parsed form of an on-disk 8.3 directory entry.
type dirEntry struct {
	attributes   uint8
	firstCluster uint32
	size         uint32
}

func (e dirEntry) isDirectory() bool {
	return e.attributes&attrDirectory != 0
}

func parseDirEntry(raw []byte) dirEntry {
	return dirEntry{
		attributes:   raw[offEntryAttributes],
		firstCluster: uint32(readLE16(raw[offEntryClusterHigh:]))<<16 | uint32(readLE16(raw[offEntryClusterLow:])),
		size:         readLE32(raw[offEntrySize:]),
	}
}

// entryNameEquals reports whether the 8.3 name bytes at the start of raw
// match name. The comparison folds ASCII case and ignores the space padding
// of the base and extension fields.
func entryNameEquals(raw []byte, name string) bool {
	var rendered [maxNameLen]byte

	n := renderEntryName(raw, &rendered)
	if n != len(name) {
		return false
	}

	for i := 0; i < n; i++ {
		if upperASCII(rendered[i]) != upperASCII(name[i]) {
			return false
		}
	}

	return true
}

// renderEntryName writes the human-readable form of an 8.3 name into dst
// ("BASE.EXT" with the padding removed) and returns its length.
func renderEntryName(raw []byte, dst *[maxNameLen]byte) int {
	n := 0
	for i := 0; i < baseNameLen && raw[i] != ' '; i++ {
		dst[n] = raw[i]
		n++
	}

	if raw[baseNameLen] != ' ' {
		dst[n] = '.'
		n++
		for i := baseNameLen; i < baseNameLen+extNameLen && raw[i] != ' '; i++ {
			dst[n] = raw[i]
			n++
		}
	}

	return n
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// nextComponent splits off the first path component of p, skipping any
// leading separators.
func nextComponent(p string) (component, rest string) {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}

	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}

	return p, ""
}

func readLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func readLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
