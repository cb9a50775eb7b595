// Package heap implements the kernel heap on top of the physical frame
// allocator and the paging layer. Small requests are served by a slab
// allocator holding power-of-two block classes between 8 bytes and 4 KiB;
// anything larger is served by a first-fit free-list allocator over an
// eagerly mapped fallback region. The frontend routes requests between the
// two purely by size and alignment, so a caller that repeats the allocation
// arguments at free time always reaches the allocator that produced the
// block and no routing metadata needs to live inside the managed memory.
package heap

import (
	"burrowos/kernel"
	"burrowos/kernel/kfmt"
	"burrowos/kernel/mm"
	"burrowos/kernel/mm/vmm"
	"burrowos/kernel/sync"
)

// Start is the lowest virtual address of the heap region. The slab
// sub-region begins here; the fallback sub-region follows it.
const Start = uintptr(0x4444_4444_0000)

var (
	// ErrOutOfMemory is returned by allocation requests that cannot be
	// satisfied because the backing sub-region is exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrAllocationTooLarge is returned by the slab allocator for sizes
	// beyond its largest class. The frontend treats it as a routing
	// signal; callers of the frontend never observe it.
	ErrAllocationTooLarge = &kernel.Error{Module: "heap", Message: "allocation size exceeds the largest slab class"}

	// ErrCorruptedFreeList signals a deallocation request that
	// contradicts the allocator bookkeeping. Faults of this class are
	// fatal; the detecting allocator halts the kernel rather than
	// continue with free lists it can no longer trust.
	ErrCorruptedFreeList = &kernel.Error{Module: "heap", Message: "corrupted free list"}
)

// panicFn is mocked by tests that exercise corruption detection.
var panicFn = kfmt.Panic

// FrameProvider is the view of the physical allocator the heap depends on.
// Slab backing pages use single frames; the fallback region is backed by one
// physically contiguous run so multi-page allocations stay contiguous.
type FrameProvider interface {
	mm.FrameAllocator

	// AllocFrames reserves a contiguous run of frameCount frames and
	// returns the first frame of the run.
	AllocFrames(frameCount uint32) (mm.Frame, *kernel.Error)
}

// backend tags the allocator that serves a request. Routing resolves the
// tag from the request size and alignment alone; the set of backends is
// fixed, so no dispatch happens through an interface.
type backend uint8

const (
	backendSlab backend = iota
	backendFallback
)

// backendFor routes a request: effective sizes up to the largest slab class
// go to the slab allocator, everything larger to the fallback allocator.
// The effective size folds the alignment in; slab blocks are aligned to
// their class size, so serving max(size, align) from a class satisfies both.
func backendFor(size, align uintptr) backend {
	if size < align {
		size = align
	}

	if size <= slabSizes[len(slabSizes)-1] {
		return backendSlab
	}

	return backendFallback
}

// Manager is the kernel heap frontend.
type Manager struct {
	space   *vmm.AddressSpace
	physMem mm.PhysMem

	slab     slabAllocator
	fallback fallbackAllocator
}

// New initializes the kernel heap over the given address space. The heap
// occupies the fixed virtual region starting at Start: the first slabPages
// pages form the slab sub-region, whose backing pages are carved on demand,
// followed by fallbackPages pages of fallback sub-region, which are mapped
// immediately from one contiguous frame run. New runs during kernel
// bootstrap; the caller must not have enabled interrupts yet.
func New(space *vmm.AddressSpace, physMem mm.PhysMem, frames FrameProvider, slabPages, fallbackPages uint32) (*Manager, *kernel.Error) {
	var (
		slabStart     = Start
		fallbackStart = Start + uintptr(slabPages)*mm.PageSize
		fallbackEnd   = fallbackStart + uintptr(fallbackPages)*mm.PageSize
	)

	m := &Manager{space: space, physMem: physMem}
	m.slab.init(space, frames, slabStart, slabPages)

	runStart, err := frames.AllocFrames(fallbackPages)
	if err != nil {
		return nil, err
	}

	for pageIndex := uint32(0); pageIndex < fallbackPages; pageIndex++ {
		var (
			page  = mm.PageFromAddress(fallbackStart) + mm.Page(pageIndex)
			frame = runStart + mm.Frame(pageIndex)
		)

		if err = space.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute, vmm.Page4K); err != nil {
			for unwindIndex := uint32(0); unwindIndex < pageIndex; unwindIndex++ {
				space.Unmap(mm.PageFromAddress(fallbackStart) + mm.Page(unwindIndex))
			}
			for unwindIndex := uint32(0); unwindIndex < fallbackPages; unwindIndex++ {
				frames.FreeFrame(runStart + mm.Frame(unwindIndex))
			}
			return nil, err
		}
	}

	m.fallback.init(fallbackStart, fallbackEnd)

	kfmt.Printf("[heap] slab region:     0x%16x - 0x%16x\n", slabStart, fallbackStart)
	kfmt.Printf("[heap] fallback region: 0x%16x - 0x%16x\n", fallbackStart, fallbackEnd)

	return m, nil
}

// Alloc reserves size bytes of heap memory aligned to align and returns the
// virtual address of the allocation. The caller must retain the size and
// alignment values to release the allocation later. Alloc disables
// interrupts for the duration of the bookkeeping mutation.
func (m *Manager) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	// Zero-sized requests still receive a distinct valid address.
	if size == 0 {
		size = 1
	}

	var gate sync.IrqGate
	gate.Enter()

	var (
		addr uintptr
		err  *kernel.Error
	)

	switch backendFor(size, align) {
	case backendSlab:
		blockSize := size
		if align > blockSize {
			blockSize = align
		}
		addr, err = m.slab.alloc(blockSize)
	case backendFallback:
		addr, err = m.fallback.alloc(size, align)
	}

	gate.Leave()
	return addr, err
}

// Free returns an allocation to the heap. The caller must pass the same
// size and align values it supplied to Alloc so the request is routed to
// the allocator that produced the block. Free disables interrupts for the
// duration of the bookkeeping mutation.
func (m *Manager) Free(addr, size, align uintptr) *kernel.Error {
	if size == 0 {
		size = 1
	}

	var gate sync.IrqGate
	gate.Enter()

	var err *kernel.Error

	switch backendFor(size, align) {
	case backendSlab:
		blockSize := size
		if align > blockSize {
			blockSize = align
		}
		err = m.slab.free(addr, blockSize)
	case backendFallback:
		err = m.fallback.free(addr, size)
	}

	gate.Leave()
	return err
}

// Bytes returns a byte slice overlaying size bytes of heap memory starting
// at addr. Both ends of the window must translate to mapped pages. Windows
// over a single allocation are physically contiguous (slab blocks never
// leave their page and fallback allocations come from one frame run), so
// the returned slice aliases exactly the allocation's memory. Bytes mutates
// nothing and is safe from any context.
func (m *Manager) Bytes(addr, size uintptr) ([]byte, *kernel.Error) {
	physAddr, _, err := m.space.Translate(addr)
	if err != nil {
		return nil, err
	}

	if size > 0 {
		if _, _, err = m.space.Translate(addr + size - 1); err != nil {
			return nil, err
		}
	}

	return m.physMem.Bytes(physAddr, size)
}
