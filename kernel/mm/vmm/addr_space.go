// Package vmm builds and walks multi-level page table hierarchies. Tables
// are plain physical frames; every table reference is resolved by looking up
// the frame contents in the physical memory arena instead of following raw
// pointers, so the package can operate on any address space, active or not.
package vmm

import (
	"unsafe"

	"burrowos/kernel"
	"burrowos/kernel/cpu"
	"burrowos/kernel/mm"
	"burrowos/kernel/sync"
)

var (
	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrNotMapped is returned when looking up a virtual address that is
	// not covered by any leaf entry.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned when mapping a virtual address that is
	// already covered by a leaf entry of the same page class.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "a mapping already exists for the virtual address"}

	// ErrInvalidOverlap is returned when a mapping of one page class would
	// overlap live mappings of another class: a superpage leaf subsuming
	// smaller mappings below it, or a smaller mapping landing under an
	// existing superpage leaf.
	ErrInvalidOverlap = &kernel.Error{Module: "vmm", Message: "mapping would overlap a live mapping of a different page class"}
)

// AddressSpace is a page table hierarchy rooted at a single table frame. The
// zero value is not usable; address spaces are created via NewAddressSpace
// with the physical memory arena and frame allocator they operate on.
type AddressSpace struct {
	physMem mm.PhysMem
	frames  mm.FrameAllocator
	root    mm.Frame
}

// NewAddressSpace reserves a frame for the top-level table, zeroes it and
// returns an address space rooted at it. Frames backing intermediate tables
// are drawn from the supplied allocator as mappings are established.
func NewAddressSpace(physMem mm.PhysMem, frames mm.FrameAllocator) (*AddressSpace, *kernel.Error) {
	rootFrame, err := frames.AllocFrame()
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{
		physMem: physMem,
		frames:  frames,
		root:    rootFrame,
	}

	table, err := as.table(rootFrame)
	if err != nil {
		frames.FreeFrame(rootFrame)
		return nil, err
	}
	*table = pageTable{}

	return as, nil
}

// RootFrame returns the frame backing the top-level table.
func (as *AddressSpace) RootFrame() mm.Frame {
	return as.root
}

// table overlays the contents of the given frame as a page table. The arena
// guarantees 8-byte alignment for frame contents so the entry overlay is
// well defined.
func (as *AddressSpace) table(tableFrame mm.Frame) (*pageTable, *kernel.Error) {
	contents, err := as.physMem.FrameBytes(tableFrame)
	if err != nil {
		return nil, err
	}

	return (*pageTable)(unsafe.Pointer(&contents[0])), nil
}

// leafForAddress walks the hierarchy from the root and returns the present
// leaf entry covering virtAddr together with its level. Superpage leaves
// terminate the walk above the last level. ErrNotMapped is returned when the
// walk reaches a non-present entry before finding a leaf.
func (as *AddressSpace) leafForAddress(virtAddr uintptr) (*pageTableEntry, uint8, *kernel.Error) {
	tableFrame := as.root

	for level := uint8(0); ; level++ {
		table, err := as.table(tableFrame)
		if err != nil {
			return nil, 0, err
		}

		pte := table.entryFor(virtAddr, level)
		if !pte.HasFlags(FlagPresent) {
			return nil, 0, ErrNotMapped
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			return pte, level, nil
		}

		tableFrame = pte.Frame()
	}
}

// Translate returns the physical address and the entry flags that correspond
// to the supplied virtual address, or ErrNotMapped if the address is not
// covered by any leaf entry. Superpage leaves are honored: the offset within
// the superpage is carried over to the returned physical address.
//
// Translate performs a read-only walk and no locking; it is safe to invoke
// from any context, including interrupt handlers.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, PageTableEntryFlag, *kernel.Error) {
	pte, level, err := as.leafForAddress(virtAddr)
	if err != nil {
		return 0, 0, err
	}

	pageMask := (uintptr(1) << pageLevelShifts[level]) - 1
	return pte.Frame().Address() + (virtAddr & pageMask), pte.Flags(), nil
}

// Unmap removes the leaf entry covering the given page, invalidates the
// cached translation for it and returns the physical frame that was mapped.
// The caller decides whether the frame is recycled. ErrNotMapped is returned
// if no leaf covers the page.
//
// When interrupts are enabled the caller must not rely on translations of
// the unmapped page from interrupt context once Unmap returns.
func (as *AddressSpace) Unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	var gate sync.IrqGate

	gate.Enter()
	frame, err := as.unmap(page)
	gate.Leave()

	return frame, err
}

func (as *AddressSpace) unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	pte, _, err := as.leafForAddress(page.Address())
	if err != nil {
		return mm.InvalidFrame, err
	}

	frame := pte.Frame()
	*pte = 0
	flushTLBEntryFn(page.Address())

	return frame, nil
}
