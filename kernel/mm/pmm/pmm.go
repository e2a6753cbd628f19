// Package pmm implements the physical frame allocator. Frame reservations are
// tracked by a flat bitmap with one bit per frame up to a fixed maximum
// physical address. Allocation is a first-fit scan; at the scale of this
// kernel (page tables, heap growth and ELF segments) an O(frames) scan keeps
// the allocator small without a noticeable cost.
package pmm

import (
	"ringzero/kernel"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/sync"
	"ringzero/multiboot"
)

// LowMemoryLimit is the end of the legacy low-memory region (BIOS data,
// VGA memory and option ROMs) which is never handed out.
const LowMemoryLimit = mm.PhysAddr(1 * mm.Mb)

var (
	errNoMemoryMap        = &kernel.Error{Module: "pmm", Message: "no usable memory regions reported by the boot loader"}
	errAlreadyInitialized = &kernel.Error{Module: "pmm", Message: "allocator already initialized"}
	errOutOfMemory        = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidCount       = &kernel.Error{Module: "pmm", Message: "frame count must be greater than zero"}
	errMisaligned         = &kernel.Error{Module: "pmm", Message: "address is not frame-aligned"}
	errOutOfRange         = &kernel.Error{Module: "pmm", Message: "address is outside of the managed range"}
	errInterruptContext   = &kernel.Error{Module: "pmm", Message: "allocator invoked from interrupt context"}

	// inInterruptFn is mocked by tests and is automatically inlined by the compiler.
	inInterruptFn = sync.InInterrupt
)

// MemoryMap is implemented by the boot information providers that can
// enumerate the system memory regions.
type MemoryMap interface {
	VisitMemRegions(multiboot.MemRegionVisitor)
}

// Stats contains a snapshot of the allocator counters. Used+Free always
// equals Total.
type Stats struct {
	// Total is the number of frames managed by the allocator; it spans
	// from frame 0 to the last frame of the highest available region.
	Total uint32
	Used  uint32
	Free  uint32

	// DoubleFrees counts calls to FreeFrame for frames that were already
	// free. It is only updated when debug checks are enabled.
	DoubleFrees uint32
}

// BitmapAllocator implements a physical frame allocator using a bitmap.
type BitmapAllocator struct {
	bitmap      frameBitmap
	maxFrames   uint32
	totalFrames uint32
	usedFrames  uint32
	doubleFrees uint32

	initialized bool
	debugChecks bool
}

// New returns an allocator that can track frames up to maxPhysMem. All
// frames are marked as used until Init is invoked.
func New(maxPhysMem mm.Size) *BitmapAllocator {
	maxFrames := uint32(maxPhysMem >> mm.PageShift)
	alloc := &BitmapAllocator{
		bitmap:      newFrameBitmap(maxFrames),
		maxFrames:   maxFrames,
		debugChecks: true,
	}
	alloc.bitmap.fill()
	return alloc
}

// SetDebugChecks enables or disables the interrupt-context assertion and the
// double-free accounting.
func (alloc *BitmapAllocator) SetDebugChecks(enabled bool) {
	alloc.debugChecks = enabled
}

// Init populates the allocator state from the supplied memory map. Frames
// that are fully contained in an available region are released while the
// low 1M region and every supplied reserved range remain marked as used.
// Init must be invoked exactly once before any allocation takes place.
func (alloc *BitmapAllocator) Init(memMap MemoryMap, reserved ...mm.Range) *kernel.Error {
	if alloc.initialized {
		return errAlreadyInitialized
	}

	alloc.bitmap.fill()
	alloc.totalFrames, alloc.usedFrames = 0, 0

	kfmt.Logf("[pmm] system memory map:\n")
	var available []mm.Range
	memMap.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Logf("[pmm]   [0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())
		if region.Type != multiboot.MemAvailable {
			return true
		}

		// Reported addresses may not be page-aligned; round the start
		// up and the end down so that only whole frames are used.
		start := (region.PhysAddress + mm.PageSize - 1) &^ (mm.PageSize - 1)
		end := (region.PhysAddress + region.Length) &^ (mm.PageSize - 1)
		if limit := uint64(alloc.maxFrames) << mm.PageShift; end > limit {
			end = limit
		}
		if start >= end {
			return true
		}

		available = append(available, mm.Range{Start: mm.PhysAddr(start), End: mm.PhysAddr(end)})
		if lastFrame := uint32(end >> mm.PageShift); lastFrame > alloc.totalFrames {
			alloc.totalFrames = lastFrame
		}
		return true
	})

	if len(available) == 0 {
		return errNoMemoryMap
	}

	// Every frame in the managed span starts out as used.
	alloc.usedFrames = alloc.totalFrames
	for _, r := range available {
		alloc.markRange(r.Start, r.End, false)
	}

	alloc.markRange(0, LowMemoryLimit, true)
	for _, r := range reserved {
		alloc.markRange(r.Start.AlignDown(), r.End.AlignUp(), true)
	}

	alloc.initialized = true
	stats := alloc.Stats()
	kfmt.Logf("[pmm] frames: total %d, used %d, free %d (%d KB available)\n", stats.Total, stats.Used, stats.Free, stats.Free*(mm.PageSize/1024))
	return nil
}

// MarkUsed flags the frames overlapping [start, end) as used.
func (alloc *BitmapAllocator) MarkUsed(start, end mm.PhysAddr) {
	alloc.markRange(start.AlignDown(), end.AlignUp(), true)
}

// MarkFree flags the frames fully contained in [start, end) as free.
func (alloc *BitmapAllocator) MarkFree(start, end mm.PhysAddr) {
	alloc.markRange(start.AlignUp(), end.AlignDown(), false)
}

func (alloc *BitmapAllocator) markRange(start, end mm.PhysAddr, used bool) {
	endFrame := uint32(mm.FrameFromAddress(end))

	// AlignUp wraps around at the top of the address space.
	if end == 0 && start != 0 {
		endFrame = alloc.maxFrames
	}

	for frame := uint32(mm.FrameFromAddress(start)); frame < endFrame; frame++ {
		if used {
			alloc.markUsed(frame)
		} else {
			alloc.markFree(frame)
		}
	}
}

func (alloc *BitmapAllocator) markUsed(index uint32) {
	if index >= alloc.maxFrames || alloc.bitmap.isSet(index) {
		return
	}

	alloc.bitmap.set(index)
	if index < alloc.totalFrames {
		alloc.usedFrames++
	}
}

func (alloc *BitmapAllocator) markFree(index uint32) bool {
	if index >= alloc.maxFrames || !alloc.bitmap.isSet(index) {
		return false
	}

	alloc.bitmap.clear(index)
	if index < alloc.totalFrames {
		alloc.usedFrames--
	}
	return true
}

func (alloc *BitmapAllocator) checkContext() *kernel.Error {
	if alloc.debugChecks && inInterruptFn() {
		return errInterruptContext
	}
	return nil
}

// AllocFrame reserves the first available physical frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if err := alloc.checkContext(); err != nil {
		return mm.InvalidFrame, err
	}

	index := alloc.bitmap.firstZero(0, alloc.totalFrames)
	if index == alloc.totalFrames {
		return mm.InvalidFrame, errOutOfMemory
	}

	alloc.markUsed(index)
	return mm.Frame(index), nil
}

// AllocContiguous reserves count physically contiguous frames and returns
// the first one. Either the whole run gets reserved or nothing does.
func (alloc *BitmapAllocator) AllocContiguous(count uint32) (mm.Frame, *kernel.Error) {
	if err := alloc.checkContext(); err != nil {
		return mm.InvalidFrame, err
	}

	if count == 0 {
		return mm.InvalidFrame, errInvalidCount
	}

	for start := alloc.bitmap.firstZero(0, alloc.totalFrames); start < alloc.totalFrames; {
		run := alloc.bitmap.runLength(start, alloc.totalFrames, count)
		if run == count {
			for index := start; index < start+count; index++ {
				alloc.markUsed(index)
			}
			return mm.Frame(start), nil
		}

		start = alloc.bitmap.firstZero(start+run, alloc.totalFrames)
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases the frame at the supplied physical address. Releasing
// a frame that is already free is a no-op; with debug checks enabled such
// calls are logged and counted in Stats.DoubleFrees.
func (alloc *BitmapAllocator) FreeFrame(addr mm.PhysAddr) *kernel.Error {
	if !addr.Aligned() {
		return errMisaligned
	}

	index := uint32(mm.FrameFromAddress(addr))
	if index >= alloc.totalFrames {
		return errOutOfRange
	}

	if !alloc.markFree(index) && alloc.debugChecks {
		alloc.doubleFrees++
		kfmt.Logf("[pmm] double free of frame 0x%x\n", uint32(addr))
	}

	return nil
}

// IsUsed returns true if the frame is currently reserved.
func (alloc *BitmapAllocator) IsUsed(frame mm.Frame) bool {
	return uint32(frame) >= alloc.maxFrames || alloc.bitmap.isSet(uint32(frame))
}

// Stats returns a snapshot of the allocator counters.
func (alloc *BitmapAllocator) Stats() Stats {
	return Stats{
		Total:       alloc.totalFrames,
		Used:        alloc.usedFrames,
		Free:        alloc.totalFrames - alloc.usedFrames,
		DoubleFrees: alloc.doubleFrees,
	}
}
