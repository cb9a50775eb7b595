package pmm

import (
	"strconv"
	"testing"

	"burrowos/kernel/hal/bootinfo"
	"burrowos/kernel/mm"
)

func testBootInfo() *bootinfo.Info {
	return &bootinfo.Info{
		MemRegions: []bootinfo.MemRegion{
			{Start: 0, Length: 8 * uint64(mm.PageSize), Kind: bootinfo.RegionAvailable},
			{Start: 0x9d000, Length: 0x3000, Kind: bootinfo.RegionReserved},
			{Start: 0x100000, Length: 128 * uint64(mm.PageSize), Kind: bootinfo.RegionAvailable},
		},
		KernelStart: 0x100000,
		KernelEnd:   0x10ffff,
	}
}

func TestAllocatorInit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var alloc Allocator
		if err := alloc.Init(testBootInfo()); err != nil {
			t.Fatal(err)
		}

		if exp, got := 2, len(alloc.pools); got != exp {
			t.Fatalf("expected allocator to initialize %d pools; got %d", exp, got)
		}

		specs := []struct {
			expStart, expEnd mm.Frame
			expFreeCount     uint32
			expBitmapLen     int
		}{
			{mm.Frame(0), mm.Frame(7), 8, 1},
			{mm.Frame(256), mm.Frame(383), 112, 2},
		}

		for poolIndex, spec := range specs {
			pool := alloc.pools[poolIndex]
			if pool.startFrame != spec.expStart || pool.endFrame != spec.expEnd {
				t.Errorf("[pool %d] expected pool to cover frames [%d, %d]; got [%d, %d]",
					poolIndex, spec.expStart, spec.expEnd, pool.startFrame, pool.endFrame)
			}

			if pool.freeCount != spec.expFreeCount {
				t.Errorf("[pool %d] expected free count to be %d; got %d", poolIndex, spec.expFreeCount, pool.freeCount)
			}

			if len(pool.freeBitmap) != spec.expBitmapLen {
				t.Errorf("[pool %d] expected bitmap len to be %d; got %d", poolIndex, spec.expBitmapLen, len(pool.freeBitmap))
			}
		}

		if exp, got := uint32(136), alloc.totalFrames; got != exp {
			t.Fatalf("expected total frame count to be %d; got %d", exp, got)
		}

		if exp, got := uint32(16), alloc.reservedFrames; got != exp {
			t.Fatalf("expected reserved frame count to be %d; got %d", exp, got)
		}

		// The kernel image occupies the first 16 frames of pool 1
		if exp, got := uint64(((1<<16)-1)<<48), alloc.pools[1].freeBitmap[0]; got != exp {
			t.Fatalf("expected block 0 in pool 1 to be:\n%064s\ngot:\n%064s",
				strconv.FormatUint(exp, 2),
				strconv.FormatUint(got, 2),
			)
		}

		if got := alloc.pools[0].freeBitmap[0]; got != 0 {
			t.Fatalf("expected pool 0 bitmap to be clear; got %064s", strconv.FormatUint(got, 2))
		}
	})

	t.Run("unaligned regions round inward", func(t *testing.T) {
		var alloc Allocator
		err := alloc.Init(&bootinfo.Info{
			MemRegions: []bootinfo.MemRegion{
				{Start: 0x1800, Length: 0x3000, Kind: bootinfo.RegionAvailable},
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		if exp, got := 1, len(alloc.pools); got != exp {
			t.Fatalf("expected allocator to initialize %d pool; got %d", exp, got)
		}

		if exp, got := mm.Frame(2), alloc.pools[0].startFrame; got != exp {
			t.Fatalf("expected pool start frame to be %d; got %d", exp, got)
		}

		if exp, got := mm.Frame(3), alloc.pools[0].endFrame; got != exp {
			t.Fatalf("expected pool end frame to be %d; got %d", exp, got)
		}
	})

	t.Run("error", func(t *testing.T) {
		var alloc Allocator
		err := alloc.Init(&bootinfo.Info{
			MemRegions: []bootinfo.MemRegion{
				{Start: 0x9d000, Length: 0x3000, Kind: bootinfo.RegionReserved},
			},
		})
		if err != ErrOutOfMemory {
			t.Fatalf("expected to get ErrOutOfMemory; got %v", err)
		}
	})
}

func TestAllocatorMarkFrame(t *testing.T) {
	var alloc = Allocator{
		pools: []framePool{
			{
				startFrame: mm.Frame(0),
				endFrame:   mm.Frame(127),
				freeCount:  128,
				freeBitmap: make([]uint64, 2),
			},
		},
		totalFrames: 128,
	}

	lastFrame := mm.Frame(alloc.totalFrames)
	for frame := mm.Frame(0); frame < lastFrame; frame++ {
		alloc.markFrame(0, frame, markReserved)

		block := uint64(frame / 64)
		blockOffset := uint64(frame % 64)
		bitIndex := (63 - blockOffset)
		bitMask := uint64(1 << bitIndex)

		if alloc.pools[0].freeBitmap[block]&bitMask != bitMask {
			t.Errorf("[frame %d] expected block[%d], bit %d to be set", frame, block, bitIndex)
		}

		alloc.markFrame(0, frame, markFree)

		if alloc.pools[0].freeBitmap[block]&bitMask != 0 {
			t.Errorf("[frame %d] expected block[%d], bit %d to be unset", frame, block, bitIndex)
		}
	}

	// Calling markFrame with a frame not part of the pool should be a no-op
	alloc.markFrame(0, mm.Frame(0xbadf00d), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}

	// Calling markFrame with a negative pool index should be a no-op
	alloc.markFrame(-1, mm.Frame(0), markReserved)
	for blockIndex, block := range alloc.pools[0].freeBitmap {
		if block != 0 {
			t.Errorf("expected all blocks to be set to 0; block %d is set to %d", blockIndex, block)
		}
	}
}

func TestAllocatorPoolForFrame(t *testing.T) {
	var alloc = Allocator{
		pools: []framePool{
			{
				startFrame: mm.Frame(0),
				endFrame:   mm.Frame(63),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
			{
				startFrame: mm.Frame(128),
				endFrame:   mm.Frame(191),
				freeCount:  64,
				freeBitmap: make([]uint64, 1),
			},
		},
		totalFrames: 128,
	}

	specs := []struct {
		frame    mm.Frame
		expIndex int
	}{
		{mm.Frame(0), 0},
		{mm.Frame(63), 0},
		{mm.Frame(64), -1},
		{mm.Frame(128), 1},
		{mm.Frame(192), -1},
	}

	for specIndex, spec := range specs {
		if got := alloc.poolForFrame(spec.frame); got != spec.expIndex {
			t.Errorf("[spec %d] expected to get pool index %d; got %d", specIndex, spec.expIndex, got)
		}
	}
}

func TestAllocatorAllocAndFreeFrame(t *testing.T) {
	var alloc = Allocator{
		pools: []framePool{
			{
				startFrame: mm.Frame(0),
				endFrame:   mm.Frame(7),
				freeCount:  8,
				// only the first 8 bits of block 0 are used
				freeBitmap: make([]uint64, 1),
			},
			{
				startFrame: mm.Frame(64),
				endFrame:   mm.Frame(191),
				freeCount:  128,
				freeBitmap: make([]uint64, 2),
			},
		},
		totalFrames: 136,
	}

	// Test Alloc
	for poolIndex, pool := range alloc.pools {
		for expFrame := pool.startFrame; expFrame <= pool.endFrame; expFrame++ {
			got, err := alloc.AllocFrame()
			if err != nil {
				t.Fatalf("[pool %d] unexpected error: %v", poolIndex, err)
			}

			if got != expFrame {
				t.Errorf("[pool %d] expected allocated frame to be %d; got %d", poolIndex, expFrame, got)
			}
		}

		if alloc.pools[poolIndex].freeCount != 0 {
			t.Errorf("[pool %d] expected free count to be 0; got %d", poolIndex, alloc.pools[poolIndex].freeCount)
		}
	}

	if alloc.reservedFrames != alloc.totalFrames {
		t.Errorf("expected reservedFrames to match totalFrames(%d); got %d", alloc.totalFrames, alloc.reservedFrames)
	}

	if _, err := alloc.AllocFrame(); err != ErrOutOfMemory {
		t.Fatalf("expected error ErrOutOfMemory; got %v", err)
	}

	// Test Free
	expFreeCount := []uint32{8, 128}
	for poolIndex, pool := range alloc.pools {
		for frame := pool.startFrame; frame <= pool.endFrame; frame++ {
			if err := alloc.FreeFrame(frame); err != nil {
				t.Fatalf("[pool %d] unexpected error: %v", poolIndex, err)
			}
		}

		if alloc.pools[poolIndex].freeCount != expFreeCount[poolIndex] {
			t.Errorf("[pool %d] expected free count to be %d; got %d", poolIndex, expFreeCount[poolIndex], alloc.pools[poolIndex].freeCount)
		}
	}

	if alloc.reservedFrames != 0 {
		t.Errorf("expected reservedFrames to be 0; got %d", alloc.reservedFrames)
	}

	// Test Free errors
	if err := alloc.FreeFrame(mm.Frame(0)); err != ErrDoubleFree {
		t.Fatalf("expected error ErrDoubleFree; got %v", err)
	}

	if err := alloc.FreeFrame(mm.Frame(0xbadf00d)); err != ErrFrameNotManaged {
		t.Fatalf("expected error ErrFrameNotManaged; got %v", err)
	}
}

func TestAllocatorAllocFrames(t *testing.T) {
	newAlloc := func() *Allocator {
		return &Allocator{
			pools: []framePool{
				{
					startFrame: mm.Frame(0),
					endFrame:   mm.Frame(15),
					freeCount:  16,
					freeBitmap: make([]uint64, 1),
				},
			},
			totalFrames: 16,
		}
	}

	t.Run("contiguous runs", func(t *testing.T) {
		alloc := newAlloc()

		first, err := alloc.AllocFrames(4)
		if err != nil {
			t.Fatal(err)
		}

		if exp := mm.Frame(0); first != exp {
			t.Fatalf("expected run to start at frame %d; got %d", exp, first)
		}

		// 12 contiguous frames remain; a 13-frame run must not fit
		if _, err = alloc.AllocFrames(13); err != ErrOutOfMemory {
			t.Fatalf("expected to get ErrOutOfMemory; got %v", err)
		}

		second, err := alloc.AllocFrames(12)
		if err != nil {
			t.Fatal(err)
		}

		if exp := mm.Frame(4); second != exp {
			t.Fatalf("expected run to start at frame %d; got %d", exp, second)
		}

		if alloc.pools[0].freeCount != 0 {
			t.Fatalf("expected free count to be 0; got %d", alloc.pools[0].freeCount)
		}
	})

	t.Run("runs skip reserved frames", func(t *testing.T) {
		alloc := newAlloc()
		alloc.markFrame(0, mm.Frame(2), markReserved)

		got, err := alloc.AllocFrames(3)
		if err != nil {
			t.Fatal(err)
		}

		if exp := mm.Frame(3); got != exp {
			t.Fatalf("expected run to start at frame %d; got %d", exp, got)
		}
	})

	t.Run("runs do not cross pool boundaries", func(t *testing.T) {
		alloc := &Allocator{
			pools: []framePool{
				{
					startFrame: mm.Frame(0),
					endFrame:   mm.Frame(7),
					freeCount:  8,
					freeBitmap: make([]uint64, 1),
				},
				{
					startFrame: mm.Frame(8),
					endFrame:   mm.Frame(15),
					freeCount:  8,
					freeBitmap: make([]uint64, 1),
				},
			},
			totalFrames: 16,
		}

		if _, err := alloc.AllocFrames(9); err != ErrOutOfMemory {
			t.Fatalf("expected to get ErrOutOfMemory; got %v", err)
		}

		got, err := alloc.AllocFrames(8)
		if err != nil {
			t.Fatal(err)
		}

		if exp := mm.Frame(0); got != exp {
			t.Fatalf("expected run to start at frame %d; got %d", exp, got)
		}
	})
}
