// mkfat formats a minimal FAT32 volume image for the burrowos simulator.
//
// The generated volume carries /BOOT/MOTD.TXT plus any files named on the
// command line, which land in the root directory under their uppercased 8.3
// names. The simulator boots the image via its -disk flag:
//
//	mkfat -o disk.img -motd motd.txt notes.txt
//	burrowos -disk disk.img
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	sectorSize      = 512
	clusterSectors  = 8
	clusterSize     = sectorSize * clusterSectors
	reservedSectors = 32
	fatCopies       = 2

	attrVolumeLabel = 0x08
	attrDirectory   = 0x10

	mediaMark = 0x0ffffff8
	eocMark   = 0x0fffffff

	// One cluster holds the root directory: the label, BOOT and up to 126
	// command-line files.
	maxRootFiles = 126
)

const defaultMotd = `Welcome to burrowos.

This volume was formatted by tools/mkfat.
`

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkfat] error: %s\n", err.Error())
	os.Exit(1)
}

// entry describes one file or directory going into the image.
type entry struct {
	base, ext    string
	content      []byte
	firstCluster uint32
}

func main() {
	var (
		outPath  = flag.String("o", "disk.img", "output image path")
		motdPath = flag.String("motd", "", "file stored as /BOOT/MOTD.TXT (default: a built-in message)")
		label    = flag.String("label", "BURROWOS", "volume label")
	)
	flag.Parse()

	motd := []byte(defaultMotd)
	if *motdPath != "" {
		var err error
		if motd, err = os.ReadFile(*motdPath); err != nil {
			exit(err)
		}
	}

	if flag.NArg() > maxRootFiles {
		exit(fmt.Errorf("at most %d root files fit on the volume", maxRootFiles))
	}

	rootFiles := make([]*entry, 0, flag.NArg())
	for _, path := range flag.Args() {
		content, err := os.ReadFile(path)
		if err != nil {
			exit(err)
		}

		base, ext, err := shortName(path)
		if err != nil {
			exit(err)
		}

		rootFiles = append(rootFiles, &entry{base: base, ext: ext, content: content})
	}

	img := buildImage(*label, motd, rootFiles)
	if err := os.WriteFile(*outPath, img, 0644); err != nil {
		exit(err)
	}

	fmt.Printf("[mkfat] wrote %s: %d sectors, %d root files\n", *outPath, len(img)/sectorSize, len(rootFiles))
}

// shortName converts a host path into an 8.3 base name and extension.
func shortName(path string) (base, ext string, err error) {
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	base = strings.ToUpper(strings.TrimSuffix(name, ext))
	ext = strings.ToUpper(strings.TrimPrefix(ext, "."))

	if base == "" {
		return "", "", fmt.Errorf("%s: cannot derive an 8.3 name", path)
	}
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}

	return base, ext, nil
}

func clustersFor(size int) uint32 {
	return uint32((size + clusterSize - 1) / clusterSize)
}

// writeDirEntry emits one 8.3 directory entry into slot index of dir.
func writeDirEntry(dir []byte, index int, name, ext string, attr byte, firstCluster, size uint32) {
	e := dir[index*32 : (index+1)*32]

	copy(e[0:8], "        ")
	copy(e[0:8], name)
	copy(e[8:11], "   ")
	copy(e[8:11], ext)
	e[11] = attr
	binary.LittleEndian.PutUint16(e[20:], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(e[26:], uint16(firstCluster))
	binary.LittleEndian.PutUint32(e[28:], size)
}

func buildImage(label string, motd []byte, rootFiles []*entry) []byte {
	motdFile := &entry{base: "MOTD", ext: "TXT", content: motd}

	// Clusters 2 and 3 hold the root and BOOT directories; file contents
	// follow in allocation order, each file occupying a contiguous run.
	nextCluster := uint32(4)
	allFiles := append([]*entry{motdFile}, rootFiles...)
	for _, e := range allFiles {
		if count := clustersFor(len(e.content)); count > 0 {
			e.firstCluster = nextCluster
			nextCluster += count
		}
	}

	var (
		fatSectors   = (int(nextCluster)*4 + sectorSize - 1) / sectorSize
		dataStart    = reservedSectors + fatCopies*fatSectors
		totalSectors = dataStart + int(nextCluster-2)*clusterSectors
	)

	img := make([]byte, totalSectors*sectorSize)

	// Boot sector.
	copy(img[0:3], []byte{0xeb, 0x58, 0x90})
	copy(img[3:11], "BURROWOS")
	binary.LittleEndian.PutUint16(img[11:], sectorSize)
	img[13] = clusterSectors
	binary.LittleEndian.PutUint16(img[14:], reservedSectors)
	img[16] = fatCopies
	binary.LittleEndian.PutUint32(img[32:], uint32(totalSectors))
	binary.LittleEndian.PutUint32(img[36:], uint32(fatSectors))
	binary.LittleEndian.PutUint32(img[44:], 2)
	copy(img[71:82], "           ")
	copy(img[71:82], label)
	copy(img[82:90], "FAT32   ")
	img[510] = 0x55
	img[511] = 0xaa

	// Allocation tables.
	writeFAT := func(fat []byte) {
		binary.LittleEndian.PutUint32(fat[0:], mediaMark)
		binary.LittleEndian.PutUint32(fat[4:], eocMark)
		binary.LittleEndian.PutUint32(fat[2*4:], eocMark)
		binary.LittleEndian.PutUint32(fat[3*4:], eocMark)
		for _, e := range allFiles {
			count := clustersFor(len(e.content))
			for i := uint32(0); i < count; i++ {
				next := uint32(eocMark)
				if i < count-1 {
					next = e.firstCluster + i + 1
				}
				binary.LittleEndian.PutUint32(fat[(e.firstCluster+i)*4:], next)
			}
		}
	}
	for fatCopy := 0; fatCopy < fatCopies; fatCopy++ {
		writeFAT(img[(reservedSectors+fatCopy*fatSectors)*sectorSize:])
	}

	cluster := func(n uint32) []byte {
		return img[(dataStart+int(n-2)*clusterSectors)*sectorSize:]
	}

	// Root directory: the volume label, the BOOT directory and the
	// command-line files.
	root := cluster(2)
	writeDirEntry(root, 0, label, "", attrVolumeLabel, 0, 0)
	writeDirEntry(root, 1, "BOOT", "", attrDirectory, 3, 0)
	for i, e := range rootFiles {
		writeDirEntry(root, 2+i, e.base, e.ext, 0, e.firstCluster, uint32(len(e.content)))
	}

	// BOOT directory.
	boot := cluster(3)
	writeDirEntry(boot, 0, ".", "", attrDirectory, 3, 0)
	writeDirEntry(boot, 1, "..", "", attrDirectory, 0, 0)
	writeDirEntry(boot, 2, "MOTD", "TXT", 0, motdFile.firstCluster, uint32(len(motd)))

	// File contents.
	for _, e := range allFiles {
		if len(e.content) > 0 {
			copy(cluster(e.firstCluster), e.content)
		}
	}

	return img
}
