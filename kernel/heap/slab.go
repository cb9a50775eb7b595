package heap

import (
	"burrowos/kernel"
	"burrowos/kernel/mm"
	"burrowos/kernel/mm/vmm"
)

// slabSizes lists the supported block classes in ascending order.
var slabSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// classForSize returns the index of the smallest class that fits a block of
// the given size or -1 when the size exceeds the largest class.
func classForSize(size uintptr) int {
	for classIndex, classSize := range slabSizes {
		if classSize >= size {
			return classIndex
		}
	}

	return -1
}

// slabAllocator serves small allocations from per-class block pools. Backing
// pages are carved out of the slab virtual region one at a time whenever a
// class list runs dry. The free lists store plain block addresses in kernel
// data structures; the managed blocks carry no metadata, so a block of class
// N occupies exactly N bytes and is aligned to N.
type slabAllocator struct {
	space  *vmm.AddressSpace
	frames mm.FrameAllocator

	// firstPage and lastPage bound the virtual region that backing pages
	// are carved from; nextPage is the first page not yet carved.
	firstPage mm.Page
	nextPage  mm.Page
	lastPage  mm.Page

	freeLists [len(slabSizes)][]uintptr
}

func (s *slabAllocator) init(space *vmm.AddressSpace, frames mm.FrameAllocator, regionStart uintptr, pageCount uint32) {
	s.space = space
	s.frames = frames
	s.firstPage = mm.PageFromAddress(regionStart)
	s.nextPage = s.firstPage
	s.lastPage = s.firstPage + mm.Page(pageCount) - 1
}

// alloc pops a free block from the class that fits size, carving a new
// backing page for that class when its list is empty.
func (s *slabAllocator) alloc(size uintptr) (uintptr, *kernel.Error) {
	classIndex := classForSize(size)
	if classIndex < 0 {
		return 0, ErrAllocationTooLarge
	}

	if len(s.freeLists[classIndex]) == 0 {
		if err := s.carvePage(classIndex); err != nil {
			return 0, err
		}
	}

	freeList := s.freeLists[classIndex]
	blockAddr := freeList[len(freeList)-1]
	s.freeLists[classIndex] = freeList[:len(freeList)-1]

	return blockAddr, nil
}

// free pushes a block back on its class list. Blocks of different classes
// never coalesce. A block that is not aligned to its class size or does not
// belong to a carved page contradicts the bookkeeping and halts the kernel
// through the panic hook.
func (s *slabAllocator) free(addr, size uintptr) *kernel.Error {
	classIndex := classForSize(size)
	if classIndex < 0 {
		return ErrAllocationTooLarge
	}

	if addr < s.firstPage.Address() || addr >= s.nextPage.Address() || addr&(slabSizes[classIndex]-1) != 0 {
		panicFn(ErrCorruptedFreeList)
		return ErrCorruptedFreeList
	}

	s.freeLists[classIndex] = append(s.freeLists[classIndex], addr)
	return nil
}

// carvePage maps one new heap page and splits it into blocks of the given
// class, pushing each block on the class free list.
func (s *slabAllocator) carvePage(classIndex int) *kernel.Error {
	if s.nextPage > s.lastPage {
		return ErrOutOfMemory
	}

	frame, err := s.frames.AllocFrame()
	if err != nil {
		return err
	}

	if err = s.space.Map(s.nextPage, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute, vmm.Page4K); err != nil {
		s.frames.FreeFrame(frame)
		return err
	}

	var (
		pageAddr  = s.nextPage.Address()
		blockSize = slabSizes[classIndex]
	)

	for blockAddr := pageAddr; blockAddr < pageAddr+mm.PageSize; blockAddr += blockSize {
		s.freeLists[classIndex] = append(s.freeLists[classIndex], blockAddr)
	}

	s.nextPage++
	return nil
}
