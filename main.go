// Command burrowos boots the kernel on a simulated machine: byte-backed
// physical memory described by a PC-style boot memory map and a FAT32
// formatted RAM disk serving as the boot volume. The kernel side is entered
// through kmain.Kmain exactly as a bare-metal boot stage would do it.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"burrowos/kernel/cpu"
	"burrowos/kernel/fs"
	"burrowos/kernel/hal/bootinfo"
	"burrowos/kernel/kfmt"
	"burrowos/kernel/kmain"
)

// Simulated machine geometry: 636K of low memory, the usual reserved hole
// below 1M and 31M of high memory with the kernel image placed in its first
// megabyte.
const (
	lowMemoryEnd   = 0x0009f000
	highMemoryBase = 0x00100000
	highMemoryEnd  = 0x02000000

	kernelImageStart = 0x00100000
	kernelImageEnd   = 0x001fffff

	sectorSize = 512
)

const motd = `
  _
 | |__ _  _ _ _ _ _ _____ __ _____ ___
 | '_ \ || | '_| '_/ _ \ V  V / _ (_-<
 |_.__/\_,_|_| |_| \___/\_/\_/\___/__/

 Cooperative kernel simulation. Physical frames, paging, the slab heap and
 the FAT32 boot volume are up. This text was streamed from /BOOT/MOTD.TXT
 by the motd task, one read per schedule slice.

`

func machineInfo() *bootinfo.Info {
	return &bootinfo.Info{
		MemRegions: []bootinfo.MemRegion{
			{Start: 0, Length: lowMemoryEnd, Kind: bootinfo.RegionAvailable},
			{Start: lowMemoryEnd, Length: highMemoryBase - lowMemoryEnd, Kind: bootinfo.RegionReserved},
			{Start: highMemoryBase, Length: highMemoryEnd - highMemoryBase, Kind: bootinfo.RegionAvailable},
		},
		KernelStart: kernelImageStart,
		KernelEnd:   kernelImageEnd,
	}
}

// writeDirEntry emits one 8.3 directory entry into slot index of dir.
func writeDirEntry(dir []byte, index int, name, ext string, attr byte, firstCluster, size uint32) {
	entry := dir[index*32 : (index+1)*32]

	copy(entry[0:8], "        ")
	copy(entry[0:8], name)
	copy(entry[8:11], "   ")
	copy(entry[8:11], ext)
	entry[11] = attr
	binary.LittleEndian.PutUint16(entry[20:], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(entry[26:], uint16(firstCluster))
	binary.LittleEndian.PutUint32(entry[28:], size)
}

// defaultBootImage formats the built-in boot volume: 512-byte sectors,
// 8-sector clusters and /BOOT/MOTD.TXT as its only file. The same layout,
// written to a file, is produced by tools/mkfat.
func defaultBootImage() []byte {
	const (
		clusterSectors = 8
		reserved       = 32
		fatCopies      = 2
		fatSectors     = 1
		dataStart      = reserved + fatCopies*fatSectors
		totalSectors   = dataStart + 3*clusterSectors
	)

	img := make([]byte, totalSectors*sectorSize)

	// Boot sector.
	copy(img[0:3], []byte{0xeb, 0x58, 0x90})
	copy(img[3:11], "BURROWOS")
	binary.LittleEndian.PutUint16(img[11:], sectorSize)
	img[13] = clusterSectors
	binary.LittleEndian.PutUint16(img[14:], reserved)
	img[16] = fatCopies
	binary.LittleEndian.PutUint32(img[32:], totalSectors)
	binary.LittleEndian.PutUint32(img[36:], fatSectors)
	binary.LittleEndian.PutUint32(img[44:], 2)
	copy(img[71:82], "BURROWOS   ")
	copy(img[82:90], "FAT32   ")
	img[510] = 0x55
	img[511] = 0xaa

	// Both allocation table copies: the root directory, the BOOT directory
	// and the MOTD contents each occupy a single cluster.
	for fatCopy := 0; fatCopy < fatCopies; fatCopy++ {
		fat := img[(reserved+fatCopy*fatSectors)*sectorSize:]
		binary.LittleEndian.PutUint32(fat[0:], 0x0ffffff8)
		for cluster := 1; cluster <= 4; cluster++ {
			binary.LittleEndian.PutUint32(fat[cluster*4:], 0x0fffffff)
		}
	}

	cluster := func(n int) []byte {
		return img[(dataStart+(n-2)*clusterSectors)*sectorSize:]
	}

	writeDirEntry(cluster(2), 0, "BOOT", "", 0x10, 3, 0)
	writeDirEntry(cluster(3), 0, "MOTD", "TXT", 0x00, 4, uint32(len(motd)))
	copy(cluster(4), motd)

	return img
}

func main() {
	diskPath := flag.String("disk", "", "FAT32 disk image to boot from (defaults to a built-in volume)")
	flag.Parse()

	// A kernel panic takes the simulated machine down with it.
	cpu.SetHaltFn(func() { os.Exit(1) })

	kfmt.SetOutputSink(os.Stdout)

	img := defaultBootImage()
	if *diskPath != "" {
		data, err := os.ReadFile(*diskPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to read disk image: %v\n", err)
			os.Exit(1)
		}
		img = data
	}

	kmain.Kmain(machineInfo(), fs.NewRAMDisk(img, sectorSize))
}
