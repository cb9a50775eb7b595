package vmm

import (
	"burrowos/kernel"
	"burrowos/kernel/mm"
	"burrowos/kernel/sync"
)

// PageClass selects the size of the page installed by a call to Map. The
// class decides the table level that receives the leaf entry: smaller
// classes walk one level deeper than larger ones.
type PageClass uint8

const (
	// Page4K maps a single frame at the deepest table level.
	Page4K PageClass = iota

	// Page2M maps a 2 MiB superpage one level above the deepest.
	Page2M

	// Page1G maps a 1 GiB superpage two levels above the deepest.
	Page1G
)

// leafLevel returns the table level at which a mapping of this class
// installs its leaf entry.
func (class PageClass) leafLevel() uint8 {
	switch class {
	case Page1G:
		return pageLevels - 3
	case Page2M:
		return pageLevels - 2
	default:
		return pageLevels - 1
	}
}

// Size returns the number of bytes covered by one page of this class.
func (class PageClass) Size() uintptr {
	return uintptr(1) << pageLevelShifts[class.leafLevel()]
}

// String implements fmt.Stringer for PageClass.
func (class PageClass) String() string {
	switch class {
	case Page1G:
		return "1G"
	case Page2M:
		return "2M"
	default:
		return "4K"
	}
}

// Map establishes a mapping between a virtual page and a physical frame,
// installing the leaf entry at the level selected by class. Missing
// intermediate tables are allocated via the address space's frame allocator
// and zeroed before they are linked in. Both the page address and the frame
// must be aligned to the class size.
//
// Map fails with ErrAlreadyMapped if a leaf of the same class already covers
// the page, and with ErrInvalidOverlap if the new leaf would subsume live
// smaller mappings or land under an existing superpage leaf. A failed call
// leaves every translation unchanged.
//
// When interrupts are enabled concurrent mutators must not touch this
// address space for the duration of the call.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, class PageClass) *kernel.Error {
	var gate sync.IrqGate

	gate.Enter()
	err := as.mapAt(page, frame, flags, class, false)
	gate.Leave()

	return err
}

// MapOverwrite behaves like Map but replaces an existing leaf of the same
// class instead of failing with ErrAlreadyMapped. Conflicts with mappings of
// other classes are still rejected with ErrInvalidOverlap.
func (as *AddressSpace) MapOverwrite(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, class PageClass) *kernel.Error {
	var gate sync.IrqGate

	gate.Enter()
	err := as.mapAt(page, frame, flags, class, true)
	gate.Leave()

	return err
}

// mapAt walks the hierarchy towards the leaf level selected by class and
// installs the leaf entry. All conflict checks and frame allocations happen
// before any table entry is written so a failed call mutates nothing.
func (as *AddressSpace) mapAt(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, class PageClass, overwrite bool) *kernel.Error {
	var (
		leafLevel  = class.leafLevel()
		virtAddr   = page.Address()
		tableFrame = as.root

		table *pageTable
		err   *kernel.Error
	)

	// Descend through the intermediate levels that already exist.
	level := uint8(0)
	for ; level < leafLevel; level++ {
		if table, err = as.table(tableFrame); err != nil {
			return err
		}

		pte := table.entryFor(virtAddr, level)
		if !pte.HasFlags(FlagPresent) {
			break
		}

		// A superpage leaf above the requested level already covers
		// this address range
		if pte.HasFlags(FlagHugePage) {
			return ErrInvalidOverlap
		}

		tableFrame = pte.Frame()
	}

	// The whole path down to the leaf table exists; resolve conflicts at
	// the leaf entry itself and install in place.
	if level == leafLevel {
		if table, err = as.table(tableFrame); err != nil {
			return err
		}

		return as.installLeaf(table, virtAddr, frame, flags, class, overwrite)
	}

	// The entry at the break level is non-present: the tables below it do
	// not exist yet. Allocate and zero all of them up front so an
	// allocation failure leaves the hierarchy untouched.
	var (
		newFrames [pageLevels]mm.Frame
		newTables [pageLevels]*pageTable

		newCount  = int(leafLevel - level)
		allocated = 0
	)

	for i := 0; i < newCount; i++ {
		if newFrames[i], err = as.frames.AllocFrame(); err != nil {
			break
		}
		allocated++

		if newTables[i], err = as.table(newFrames[i]); err != nil {
			break
		}
		*newTables[i] = pageTable{}
	}

	if err != nil {
		for i := 0; i < allocated; i++ {
			as.frames.FreeFrame(newFrames[i])
		}
		return err
	}

	// Link the new tables into the hierarchy top-down and write the leaf
	// entry into the deepest one.
	pte := table.entryFor(virtAddr, level)
	for i := 0; i < newCount; i++ {
		*pte = 0
		pte.SetFrame(newFrames[i])
		pte.SetFlags(FlagPresent | FlagRW)

		pte = newTables[i].entryFor(virtAddr, level+uint8(i)+1)
	}

	setLeaf(pte, frame, flags, class)
	flushTLBEntryFn(virtAddr)

	return nil
}

// installLeaf writes the leaf entry for a mapping whose leaf table already
// exists, resolving any conflict with the entry currently in place.
func (as *AddressSpace) installLeaf(table *pageTable, virtAddr uintptr, frame mm.Frame, flags PageTableEntryFlag, class PageClass, overwrite bool) *kernel.Error {
	pte := table.entryFor(virtAddr, class.leafLevel())

	if pte.HasFlags(FlagPresent) {
		switch {
		case class != Page4K && !pte.HasFlags(FlagHugePage):
			// The entry points to a table of smaller mappings. The
			// superpage may only take its place when no mapping
			// below it is live; the emptied table frame is then
			// recycled.
			subTable, err := as.table(pte.Frame())
			if err != nil {
				return err
			}

			if !subTable.empty() {
				return ErrInvalidOverlap
			}

			if err = as.frames.FreeFrame(pte.Frame()); err != nil {
				return err
			}
		case !overwrite:
			return ErrAlreadyMapped
		}
	}

	setLeaf(pte, frame, flags, class)
	flushTLBEntryFn(virtAddr)

	return nil
}

// setLeaf writes a leaf entry pointing at frame. Superpage classes are
// flagged so walks terminate at this entry.
func setLeaf(pte *pageTableEntry, frame mm.Frame, flags PageTableEntryFlag, class PageClass) {
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(flags)

	if class != Page4K {
		pte.SetFlags(FlagHugePage)
	}
}
