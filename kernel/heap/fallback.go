package heap

import (
	"burrowos/kernel"
)

// freeBlock is one span of the fallback free list.
type freeBlock struct {
	addr uintptr
	size uintptr
}

// fallbackAllocator manages the eagerly mapped upper part of the heap region
// as an address-ordered free list. Adjacent free spans merge before any
// mutating call returns, so the list never holds two blocks that touch.
type fallbackAllocator struct {
	regionStart uintptr
	regionEnd   uintptr
	freeList    []freeBlock
}

func (f *fallbackAllocator) init(regionStart, regionEnd uintptr) {
	f.regionStart = regionStart
	f.regionEnd = regionEnd

	if regionEnd > regionStart {
		f.freeList = []freeBlock{{addr: regionStart, size: regionEnd - regionStart}}
	}
}

// alloc reserves size bytes from the first free block that can serve the
// request at the requested alignment. When alignment skips the head of the
// selected block, the skipped bytes remain on the free list as their own
// block; a remainder past the reserved span becomes a new block as well.
func (f *fallbackAllocator) alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if align == 0 {
		align = 1
	}

	for blockIndex, block := range f.freeList {
		blockAddr := (block.addr + align - 1) &^ (align - 1)
		if blockAddr+size > block.addr+block.size {
			continue
		}

		var (
			slack     = blockAddr - block.addr
			remainder = block.addr + block.size - blockAddr - size
		)

		switch {
		case slack == 0 && remainder == 0:
			f.freeList = append(f.freeList[:blockIndex], f.freeList[blockIndex+1:]...)
		case slack == 0:
			f.freeList[blockIndex] = freeBlock{addr: blockAddr + size, size: remainder}
		case remainder == 0:
			f.freeList[blockIndex].size = slack
		default:
			f.freeList[blockIndex].size = slack
			f.freeList = append(f.freeList, freeBlock{})
			copy(f.freeList[blockIndex+2:], f.freeList[blockIndex+1:])
			f.freeList[blockIndex+1] = freeBlock{addr: blockAddr + size, size: remainder}
		}

		return blockAddr, nil
	}

	return 0, ErrOutOfMemory
}

// free reinserts a span at its address-sorted position and merges it with an
// immediately adjacent predecessor and/or successor. A span outside the
// managed region or overlapping a block already on the list contradicts the
// bookkeeping and halts the kernel through the panic hook.
func (f *fallbackAllocator) free(addr, size uintptr) *kernel.Error {
	if size == 0 {
		return nil
	}

	if addr < f.regionStart || addr+size > f.regionEnd {
		panicFn(ErrCorruptedFreeList)
		return ErrCorruptedFreeList
	}

	insertAt := len(f.freeList)
	for blockIndex, block := range f.freeList {
		if block.addr > addr {
			insertAt = blockIndex
			break
		}
	}

	// An overlap with either neighbor means the span was never allocated
	// or was already freed.
	if insertAt > 0 {
		if prev := f.freeList[insertAt-1]; prev.addr+prev.size > addr {
			panicFn(ErrCorruptedFreeList)
			return ErrCorruptedFreeList
		}
	}

	if insertAt < len(f.freeList) {
		if next := f.freeList[insertAt]; addr+size > next.addr {
			panicFn(ErrCorruptedFreeList)
			return ErrCorruptedFreeList
		}
	}

	var (
		mergesPrev = insertAt > 0 && f.freeList[insertAt-1].addr+f.freeList[insertAt-1].size == addr
		mergesNext = insertAt < len(f.freeList) && addr+size == f.freeList[insertAt].addr
	)

	switch {
	case mergesPrev && mergesNext:
		f.freeList[insertAt-1].size += size + f.freeList[insertAt].size
		f.freeList = append(f.freeList[:insertAt], f.freeList[insertAt+1:]...)
	case mergesPrev:
		f.freeList[insertAt-1].size += size
	case mergesNext:
		f.freeList[insertAt] = freeBlock{addr: addr, size: size + f.freeList[insertAt].size}
	default:
		f.freeList = append(f.freeList, freeBlock{})
		copy(f.freeList[insertAt+1:], f.freeList[insertAt:])
		f.freeList[insertAt] = freeBlock{addr: addr, size: size}
	}

	return nil
}
