package mm

import (
	"unsafe"

	"burrowos/kernel"
)

// ErrFrameNotBacked is returned when accessing a frame outside the physical
// memory arena.
var ErrFrameNotBacked = &kernel.Error{Module: "mm", Message: "frame is not backed by physical memory"}

// Arena models a contiguous span of physical memory beginning at a fixed
// frame. When the kernel runs hosted, the arena is the simulated machine
// memory; on real hardware the same lookups would overlay the identity-mapped
// physical window. All frame contents handed out by the arena alias the same
// backing store, so a table written through one FrameBytes slice is visible
// through every later lookup of that frame.
type Arena struct {
	startFrame Frame

	// words is the backing store. Using a uint64 slice keeps the base
	// address 8-byte aligned so page-table entry overlays are legal.
	words []uint64
	data  []byte
}

// NewArena creates an arena of frameCount zeroed frames whose first frame is
// startFrame.
func NewArena(startFrame Frame, frameCount uintptr) *Arena {
	words := make([]uint64, frameCount*PageSize>>PointerShift)

	return &Arena{
		startFrame: startFrame,
		words:      words,
		data:       unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), frameCount*PageSize),
	}
}

// StartFrame returns the first frame covered by the arena.
func (a *Arena) StartFrame() Frame {
	return a.startFrame
}

// FrameCount returns the number of frames covered by the arena.
func (a *Arena) FrameCount() uintptr {
	return uintptr(len(a.data)) >> PageShift
}

// FrameBytes returns a PageSize byte slice overlaying the contents of the
// given frame.
func (a *Arena) FrameBytes(frame Frame) ([]byte, *kernel.Error) {
	if frame < a.startFrame || frame >= a.startFrame+Frame(a.FrameCount()) {
		return nil, ErrFrameNotBacked
	}

	offset := uintptr(frame-a.startFrame) << PageShift
	return a.data[offset : offset+PageSize : offset+PageSize], nil
}

// Bytes returns a slice overlaying size bytes of physical memory starting at
// physAddr. The requested range must lie entirely inside the arena.
func (a *Arena) Bytes(physAddr, size uintptr) ([]byte, *kernel.Error) {
	base := a.startFrame.Address()
	if physAddr < base || physAddr+size > base+uintptr(len(a.data)) {
		return nil, ErrFrameNotBacked
	}

	offset := physAddr - base
	return a.data[offset : offset+size : offset+size], nil
}
