// Package pmm implements the physical frame allocator. Frame reservations
// are tracked across the available memory pools using bitmaps. The allocator
// is an explicit object handed to its consumers at initialization; mapping
// and heap code never reach for package-level allocator state.
package pmm

import (
	"burrowos/kernel"
	"burrowos/kernel/hal/bootinfo"
	"burrowos/kernel/kfmt"
	"burrowos/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no free frame, or no contiguous run
	// of free frames of the requested length, exists.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrDoubleFree is returned when freeing a frame whose tracked state
	// is already free.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	// ErrFrameNotManaged is returned when freeing a frame that is not part
	// of any allocator pool.
	ErrFrameNotManaged = &kernel.Error{Module: "pmm", Message: "frame not managed by this allocator"}
)

type markAs bool

const (
	markReserved markAs = true
	markFree     markAs = false
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame mm.Frame

	// freeCount tracks the available frames in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free frames in the pool. Frames are stored
	// MSB-first: inside each 64-bit block, the bit for the block's first
	// frame is bit 63.
	freeBitmap []uint64
}

// isFree returns true when the given frame is not reserved. The caller must
// ensure that the frame belongs to this pool.
func (pool *framePool) isFree(frame mm.Frame) bool {
	relFrame := frame - pool.startFrame
	return pool.freeBitmap[relFrame>>6]&(uint64(1)<<(63-(relFrame&63))) == 0
}

// Allocator is a physical frame allocator that tracks frame reservations
// across the available memory pools using bitmaps.
type Allocator struct {
	// totalFrames tracks the total number of frames across all pools.
	totalFrames uint32

	// reservedFrames tracks the number of reserved frames across all
	// pools.
	reservedFrames uint32

	pools []framePool
}

// Init configures the allocator from the boot-provided memory map. One pool
// tracks each available region; reported region addresses may not be
// page-aligned so they are rounded inward and pools cover whole frames only.
// Frames overlapping the kernel image are marked reserved before the
// allocator serves any request.
func (alloc *Allocator) Init(info *bootinfo.Info) *kernel.Error {
	pageSizeMinus1 := uint64(mm.PageSize - 1)

	info.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		// Ignore non-usable regions and regions smaller than a single frame
		if region.Kind != bootinfo.RegionAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		regionStartFrame := mm.Frame(((region.Start + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.Start+region.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}

		frameCount := uint32(regionEndFrame - regionStartFrame + 1)
		alloc.pools = append(alloc.pools, framePool{
			startFrame: regionStartFrame,
			endFrame:   regionEndFrame,
			freeCount:  frameCount,
			// Round up so the bitmap covers a whole number of blocks.
			freeBitmap: make([]uint64, (frameCount+63)>>6),
		})
		alloc.totalFrames += frameCount
		return true
	})

	if alloc.totalFrames == 0 {
		return ErrOutOfMemory
	}

	alloc.reserveKernelFrames(info)
	alloc.printMemoryMap(info)
	return nil
}

// markFrame sets the reservation state for a frame in the given pool and
// keeps the free counters in sync. Marking a frame outside the pool bounds,
// or using a negative pool index, is a no-op.
func (alloc *Allocator) markFrame(poolIndex int, frame mm.Frame, flag markAs) {
	if poolIndex < 0 || frame < alloc.pools[poolIndex].startFrame || frame > alloc.pools[poolIndex].endFrame {
		return
	}

	relFrame := frame - alloc.pools[poolIndex].startFrame
	block := relFrame >> 6
	mask := uint64(1) << (63 - (relFrame & 63))

	if flag == markReserved {
		alloc.pools[poolIndex].freeBitmap[block] |= mask
		alloc.pools[poolIndex].freeCount--
		alloc.reservedFrames++
	} else {
		alloc.pools[poolIndex].freeBitmap[block] &^= mask
		alloc.pools[poolIndex].freeCount++
		alloc.reservedFrames--
	}
}

// poolForFrame returns the index of the pool that contains frame or -1 if
// the frame is not part of any pool.
func (alloc *Allocator) poolForFrame(frame mm.Frame) int {
	for poolIndex, pool := range alloc.pools {
		if frame >= pool.startFrame && frame <= pool.endFrame {
			return poolIndex
		}
	}

	return -1
}

// reserveKernelFrames marks the frames overlapping the kernel image as
// reserved. A zero kernel placement means the image lives outside the
// managed regions and nothing needs to be reserved.
func (alloc *Allocator) reserveKernelFrames(info *bootinfo.Info) {
	if info.KernelEnd == 0 {
		return
	}

	kernelStartFrame := mm.FrameFromAddress(uintptr(info.KernelStart))
	kernelEndFrame := mm.FrameFromAddress(uintptr(info.KernelEnd))
	for frame := kernelStartFrame; frame <= kernelEndFrame; frame++ {
		alloc.markFrame(alloc.poolForFrame(frame), frame, markReserved)
	}
}

// AllocFrame reserves and returns the first free frame, scanning pools in
// ascending address order. ErrOutOfMemory is returned when every managed
// frame is reserved.
//
// When interrupts are enabled the caller must hold a critical section across
// the call.
func (alloc *Allocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		// Skip fully allocated pools. This also guarantees that the
		// first free bit located below belongs to a frame inside the
		// pool bounds rather than to the unused tail of the last block.
		if alloc.pools[poolIndex].freeCount == 0 {
			continue
		}

		for blockIndex, block := range alloc.pools[poolIndex].freeBitmap {
			if block == ^uint64(0) {
				continue
			}

			// The block has at least one free slot; locate it
			for blockOffset, mask := 0, uint64(1)<<63; mask > 0; blockOffset, mask = blockOffset+1, mask>>1 {
				if block&mask != 0 {
					continue
				}

				frame := alloc.pools[poolIndex].startFrame + mm.Frame(blockIndex<<6+blockOffset)
				alloc.markFrame(poolIndex, frame, markReserved)
				return frame, nil
			}
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocFrames reserves frameCount physically contiguous frames and returns
// the first frame of the run. The scan is first-fit in ascending address
// order and a run never crosses a pool boundary. ErrOutOfMemory is returned
// when no pool contains a long enough run, even if the total free count
// would cover the request.
//
// When interrupts are enabled the caller must hold a critical section across
// the call.
func (alloc *Allocator) AllocFrames(frameCount uint32) (mm.Frame, *kernel.Error) {
	if frameCount == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		pool := &alloc.pools[poolIndex]
		if pool.freeCount < frameCount {
			continue
		}

		var (
			runStart mm.Frame
			runLen   uint32
		)

		for frame := pool.startFrame; frame <= pool.endFrame; frame++ {
			if !pool.isFree(frame) {
				runLen = 0
				continue
			}

			if runLen == 0 {
				runStart = frame
			}

			runLen++
			if runLen == frameCount {
				for reserved := runStart; reserved <= frame; reserved++ {
					alloc.markFrame(poolIndex, reserved, markReserved)
				}
				return runStart, nil
			}
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame returns the given frame to the free set. ErrFrameNotManaged is
// returned for frames outside every pool and ErrDoubleFree for frames that
// are already free.
//
// When interrupts are enabled the caller must hold a critical section across
// the call.
func (alloc *Allocator) FreeFrame(frame mm.Frame) *kernel.Error {
	poolIndex := alloc.poolForFrame(frame)
	if poolIndex < 0 {
		return ErrFrameNotManaged
	}

	if alloc.pools[poolIndex].isFree(frame) {
		return ErrDoubleFree
	}

	alloc.markFrame(poolIndex, frame, markFree)
	return nil
}

// printMemoryMap logs the boot memory map and the amount of memory tracked
// by the allocator pools.
func (alloc *Allocator) printMemoryMap(info *bootinfo.Info) {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalFree uint64
	info.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Start, region.Start+region.Length, region.Length, region.Kind.String())
		if region.Kind == bootinfo.RegionAvailable {
			totalFree += region.Length
		}
		return true
	})

	kfmt.Printf("[pmm] free memory: %dKb\n", totalFree>>10)
	kfmt.Printf("[pmm] tracking %d frames in %d pools, %d reserved for the kernel image\n", alloc.totalFrames, len(alloc.pools), alloc.reservedFrames)
}
