// Package mm defines the concepts shared by every layer of the memory
// subsystem: physical frame and virtual page indices, the frame allocator
// interface, and the physical memory arena through which frame contents are
// accessed. Page tables and allocation bookkeeping refer to physical memory
// exclusively by frame index; the arena is the single place where a frame
// index becomes something that can be read or written.
package mm

import (
	"math"

	"burrowos/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this Frame begins.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// FrameAllocator is implemented by physical frame providers. The page-table
// manager uses it to obtain frames backing new table levels and hands frames
// from unmapped leaves back through it. Each subsystem receives its allocator
// explicitly at initialization; there is no ambient global allocator.
type FrameAllocator interface {
	// AllocFrame reserves and returns one free physical frame.
	AllocFrame() (Frame, *kernel.Error)

	// FreeFrame returns a previously allocated frame to the free set.
	FreeFrame(frame Frame) *kernel.Error
}

// PhysMem provides access to the contents of physical memory. Table walks
// resolve every table reference through this interface using the table's
// frame index, never by following raw pointer chains; the heap uses the
// ranged form to hand out byte windows over allocations.
type PhysMem interface {
	// FrameBytes returns a PageSize byte slice overlaying the contents
	// of the given frame.
	FrameBytes(frame Frame) ([]byte, *kernel.Error)

	// Bytes returns a byte slice overlaying the physical memory range
	// [physAddr, physAddr+size).
	Bytes(physAddr, size uintptr) ([]byte, *kernel.Error)
}
