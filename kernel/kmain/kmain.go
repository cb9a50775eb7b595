// Package kmain hosts the kernel entrypoint. It wires the boot-provided
// machine description into the physical and virtual memory managers, brings
// up the heap, the scheduler and the boot filesystem and then runs tasks
// until the ready queue drains.
package kmain

import (
	"burrowos/kernel"
	"burrowos/kernel/fs"
	"burrowos/kernel/fs/fat32"
	"burrowos/kernel/hal/bootinfo"
	"burrowos/kernel/heap"
	"burrowos/kernel/kfmt"
	"burrowos/kernel/mm"
	"burrowos/kernel/mm/pmm"
	"burrowos/kernel/mm/vmm"
	"burrowos/kernel/task"
)

const (
	// Heap sizing for the boot flow, in pages.
	heapSlabPages     = 64
	heapFallbackPages = 64

	// motdPath is streamed to the console by the init task when the boot
	// volume carries it.
	motdPath = "/BOOT/MOTD.TXT"
)

var (
	errNoUsableMemory = &kernel.Error{Module: "kmain", Message: "no usable memory regions"}

	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Kmain is the kernel entrypoint. The boot stage (or the hosted machine
// simulator) hands it the machine description together with the boot disk.
// Bootstrap failures are unrecoverable and escalate to kfmt.Panic. Kmain
// returns once no runnable tasks remain.
func Kmain(info *bootinfo.Info, disk fs.BlockDevice) {
	kfmt.Printf("starting burrowos\n")

	var (
		err       *kernel.Error
		allocator pmm.Allocator
	)

	if err = allocator.Init(info); err != nil {
		panicFn(err)
		return
	}

	phys, err := physArena(info)
	if err != nil {
		panicFn(err)
		return
	}

	space, err := vmm.NewAddressSpace(phys, &allocator)
	if err != nil {
		panicFn(err)
		return
	}

	heapAlloc, err := heap.New(space, phys, &allocator, heapSlabPages, heapFallbackPages)
	if err != nil {
		panicFn(err)
		return
	}

	sched := task.NewScheduler(heapAlloc)

	vol, err := fat32.Mount(disk, heapAlloc)
	if err != nil {
		panicFn(err)
		return
	}

	if err = spawnInitTasks(sched, vol); err != nil {
		panicFn(err)
		return
	}

	for sched.Yield() {
	}

	kfmt.Printf("[kmain] no runnable tasks remain; kernel going idle\n")
}

// physArena builds the byte-backed physical memory window spanning the
// available regions of the boot memory map. Frame rounding matches the frame
// allocator's so every frame it can hand out is backed by the arena.
func physArena(info *bootinfo.Info) (*mm.Arena, *kernel.Error) {
	var (
		pageSizeMinus1 = uint64(mm.PageSize - 1)
		firstFrame     = mm.InvalidFrame
		lastFrame      mm.Frame
	)

	info.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		if region.Kind != bootinfo.RegionAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		regionStartFrame := mm.Frame(((region.Start + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.Start+region.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}

		if regionStartFrame < firstFrame {
			firstFrame = regionStartFrame
		}
		if regionEndFrame > lastFrame {
			lastFrame = regionEndFrame
		}
		return true
	})

	if firstFrame == mm.InvalidFrame {
		return nil, errNoUsableMemory
	}

	return mm.NewArena(firstFrame, uintptr(lastFrame-firstFrame)+1), nil
}

// spawnInitTasks seeds the scheduler with the boot tasks. The only one so
// far streams the message-of-the-day file to the console, one read per
// slice. A volume without the file is not a boot failure.
func spawnInitTasks(sched *task.Scheduler, vol *fat32.Volume) *kernel.Error {
	motd, err := vol.Open(motdPath)
	if err == fat32.ErrNotFound {
		kfmt.Printf("[kmain] %s not present on the boot volume\n", motdPath)
		return nil
	}
	if err != nil {
		return err
	}

	console := &kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[motd] ")}

	_, err = sched.Spawn("motd", func(_ *task.Task) bool {
		var buf [512]byte

		count, rerr := motd.Read(buf[:])
		if rerr != nil {
			kfmt.Fprintf(console, "read failed: %s\n", rerr.Message)
			motd.Close()
			return false
		}

		if count == 0 {
			motd.Close()
			return false
		}

		kfmt.Fprintf(console, "%s", buf[:count])
		return true
	}, 2*task.MinStackSize)

	return err
}
