package kmain

import (
	"bytes"
	"strings"
	"testing"

	"burrowos/kernel"
	"burrowos/kernel/fs"
	"burrowos/kernel/fs/fat32"
	"burrowos/kernel/hal/bootinfo"
	"burrowos/kernel/kfmt"
	"burrowos/kernel/mm"
	"burrowos/kernel/mm/pmm"
)

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeDirEntry(img []byte, offset int, name, ext string, attr byte, firstCluster, size uint32) {
	entry := img[offset : offset+32]

	copy(entry[0:8], "        ")
	copy(entry[0:8], name)
	copy(entry[8:11], "   ")
	copy(entry[8:11], ext)
	entry[11] = attr
	putLE16(entry[20:], uint16(firstCluster>>16))
	putLE16(entry[26:], uint16(firstCluster))
	putLE32(entry[28:], size)
}

// buildBootImage lays out the smallest FAT32 volume the boot flow consumes:
// one reserved sector, a single one-sector allocation table, one sector per
// cluster and /BOOT/MOTD.TXT holding motd.
func buildBootImage(motd []byte) []byte {
	const sectorSize = 512

	// Sector 0 boot sector, sector 1 allocation table, sectors 2-4 the
	// root directory, BOOT directory and MOTD contents (clusters 2-4).
	img := make([]byte, 5*sectorSize)

	putLE16(img[11:], sectorSize)
	img[13] = 1
	putLE16(img[14:], 1)
	img[16] = 1
	putLE32(img[32:], 5)
	putLE32(img[36:], 1)
	putLE32(img[44:], 2)
	img[510] = 0x55
	img[511] = 0xaa

	putLE32(img[sectorSize:], 0x0ffffff8)
	for cluster := 1; cluster <= 4; cluster++ {
		putLE32(img[sectorSize+cluster*4:], 0x0fffffff)
	}

	writeDirEntry(img, 2*sectorSize, "BOOT", "", 0x10, 3, 0)
	writeDirEntry(img, 3*sectorSize, "MOTD", "TXT", 0, 4, uint32(len(motd)))
	copy(img[4*sectorSize:], motd)

	return img
}

func testBootInfo() *bootinfo.Info {
	return &bootinfo.Info{
		MemRegions: []bootinfo.MemRegion{
			{Start: 0, Length: 256 * uint64(mm.PageSize), Kind: bootinfo.RegionAvailable},
		},
	}
}

func TestKmainBootFlow(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	motd := []byte("Welcome to burrowos!\n")

	Kmain(testBootInfo(), fs.NewRAMDisk(buildBootImage(motd), 512))

	for _, want := range []string{
		"starting burrowos",
		"[pmm] system memory map:",
		"[heap] slab region:",
		"[fat32] geometry:",
		"[motd] Welcome to burrowos!",
		"no runnable tasks remain",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected boot output to contain %q; output:\n%s", want, out.String())
		}
	}
}

func TestKmainMissingMotd(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var out bytes.Buffer
	kfmt.SetOutputSink(&out)

	// An image without /BOOT/MOTD.TXT boots to an idle kernel.
	img := buildBootImage([]byte("x"))
	writeDirEntry(img, 3*512, "OTHER", "TXT", 0, 4, 1)

	Kmain(testBootInfo(), fs.NewRAMDisk(img, 512))

	for _, want := range []string{
		"not present on the boot volume",
		"no runnable tasks remain",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected boot output to contain %q; output:\n%s", want, out.String())
		}
	}
}

func TestKmainPanicsOnBootFailure(t *testing.T) {
	defer func(orig func(interface{})) { panicFn = orig }(panicFn)

	var captured interface{}
	panicFn = func(e interface{}) { captured = e }

	specs := []struct {
		descr  string
		info   *bootinfo.Info
		disk   fs.BlockDevice
		expErr *kernel.Error
	}{
		{
			descr:  "no usable memory",
			info:   &bootinfo.Info{},
			disk:   fs.NewRAMDisk(make([]byte, 512), 512),
			expErr: pmm.ErrOutOfMemory,
		},
		{
			descr:  "unformatted boot disk",
			info:   testBootInfo(),
			disk:   fs.NewRAMDisk(make([]byte, 8*512), 512),
			expErr: fat32.ErrInvalidGeometry,
		},
	}

	for specIndex, spec := range specs {
		captured = nil
		Kmain(spec.info, spec.disk)

		if captured != spec.expErr {
			t.Errorf("[spec %d] %s: expected panic with %v; got %v", specIndex, spec.descr, spec.expErr, captured)
		}
	}
}

func TestPhysArena(t *testing.T) {
	info := &bootinfo.Info{
		MemRegions: []bootinfo.MemRegion{
			{Start: 0x1000, Length: 4 * uint64(mm.PageSize), Kind: bootinfo.RegionAvailable},
			// Smaller than a frame; contributes nothing.
			{Start: 0x10000, Length: uint64(mm.PageSize) / 2, Kind: bootinfo.RegionAvailable},
			{Start: 0x20000, Length: 8 * uint64(mm.PageSize), Kind: bootinfo.RegionReserved},
			{Start: 0x40000, Length: 2 * uint64(mm.PageSize), Kind: bootinfo.RegionAvailable},
		},
	}

	arena, err := physArena(info)
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := mm.Frame(1), arena.StartFrame(); got != exp {
		t.Fatalf("expected arena to start at frame %d; got %d", exp, got)
	}

	// Frames 1 through 65 span the first and last available regions.
	if exp, got := uintptr(65), arena.FrameCount(); got != exp {
		t.Fatalf("expected the arena to span %d frames; got %d", exp, got)
	}

	if _, aerr := physArena(&bootinfo.Info{}); aerr != errNoUsableMemory {
		t.Fatalf("expected errNoUsableMemory for an empty map; got %v", aerr)
	}
}
