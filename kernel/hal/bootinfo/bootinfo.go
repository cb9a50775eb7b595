// Package bootinfo describes the machine state handed to the kernel by the
// boot stage: the physical memory map and the placement of the kernel image
// inside it. The kernel treats this information as read-only input; it is
// assembled by the boot stage (or by the machine simulator when running
// hosted) before Kmain is entered.
package bootinfo

// MemRegionKind defines the kind of a MemRegion.
type MemRegionKind uint32

const (
	// RegionAvailable indicates that the memory region is available for use.
	RegionAvailable MemRegionKind = iota + 1

	// RegionReserved indicates that the memory region is not available for use.
	RegionReserved

	// RegionACPIReclaimable indicates a memory region that holds ACPI info
	// that can be reused once the tables have been consumed.
	RegionACPIReclaimable

	// RegionNvs indicates memory that must be preserved when hibernating.
	RegionNvs

	// RegionKernel indicates the region occupied by the kernel image. The
	// frame allocator must never hand out frames from this region.
	RegionKernel

	// Any value >= regionUnknown is treated as RegionReserved.
	regionUnknown
)

// String implements fmt.Stringer for MemRegionKind.
func (k MemRegionKind) String() string {
	switch k {
	case RegionAvailable:
		return "available"
	case RegionReserved:
		return "reserved"
	case RegionACPIReclaimable:
		return "ACPI (reclaimable)"
	case RegionNvs:
		return "NVS"
	case RegionKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// MemRegion describes a physical memory region reported by the boot stage,
// namely its start address, its length and its kind.
type MemRegion struct {
	// The physical start address for this memory region.
	Start uint64

	// The length of the memory region in bytes.
	Length uint64

	// The kind of this region.
	Kind MemRegionKind
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each region in the boot memory map. The visitor must
// return true to continue or false to abort the scan.
type MemRegionVisitor func(region *MemRegion) bool

// Info captures the boot-provided machine description.
type Info struct {
	// MemRegions lists the physical memory regions in ascending address
	// order.
	MemRegions []MemRegion

	// KernelStart and KernelEnd bound the physical placement of the
	// kernel image. Frames overlapping [KernelStart, KernelEnd] are
	// already in use when the kernel starts executing.
	KernelStart, KernelEnd uint64
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// boot memory map. Regions with out-of-range kind values are reported as
// reserved.
func (inf *Info) VisitMemRegions(visitor MemRegionVisitor) {
	for i := range inf.MemRegions {
		region := inf.MemRegions[i]
		if region.Kind == 0 || region.Kind >= regionUnknown {
			region.Kind = RegionReserved
		}

		if !visitor(&region) {
			return
		}
	}
}

// TotalUsable returns the number of bytes in regions available for general
// use.
func (inf *Info) TotalUsable() uint64 {
	var total uint64
	inf.VisitMemRegions(func(region *MemRegion) bool {
		if region.Kind == RegionAvailable {
			total += region.Length
		}
		return true
	})

	return total
}
