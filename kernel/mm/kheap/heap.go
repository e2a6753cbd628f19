// Package kheap implements the kernel heap: a bump allocator over a fixed
// virtual address window. Pages are requested from the VMM only when the
// bump pointer crosses the current end of the heap. Memory is never
// reclaimed.
package kheap

import (
	"ringzero/kernel"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

// minAlignment is the alignment of every allocation.
const minAlignment = 8

var (
	errMisalignedStart = &kernel.Error{Module: "heap", Message: "heap start address must be page-aligned"}
	errInvalidMaxSize  = &kernel.Error{Module: "heap", Message: "heap size must be a non-zero multiple of the page size"}
	errZeroSize        = &kernel.Error{Module: "heap", Message: "allocation size must be greater than zero"}
	errInvalidAlign    = &kernel.Error{Module: "heap", Message: "alignment must be a power of 2"}
	errHeapExhausted   = &kernel.Error{Module: "heap", Message: "heap exhausted"}
)

// PageMapper is implemented by address spaces that can back virtual pages
// with freshly allocated frames.
type PageMapper interface {
	AllocPage(mm.Page, vmm.PageTableEntryFlag) (mm.Frame, *kernel.Error)
}

// Heap describes the kernel heap region [start, end) and its bump pointer.
type Heap struct {
	mapper PageMapper

	start   mm.VirtAddr
	current mm.VirtAddr
	end     mm.VirtAddr
	maxSize uint32
}

// New returns a heap that maps its pages through mapper.
func New(mapper PageMapper) *Heap {
	return &Heap{mapper: mapper}
}

// Init sets up an empty heap starting at start that can grow up to maxSize
// bytes. No pages are mapped until the first allocation.
func (h *Heap) Init(start mm.VirtAddr, maxSize uint32) *kernel.Error {
	if !start.Aligned() {
		return errMisalignedStart
	}

	if maxSize == 0 || maxSize%mm.PageSize != 0 || uint64(start)+uint64(maxSize) >= 1<<32 {
		return errInvalidMaxSize
	}

	h.start, h.current, h.end, h.maxSize = start, start, start, maxSize
	return nil
}

// Alloc reserves size bytes, rounded up to 8, and returns the address of
// the reserved block.
func (h *Heap) Alloc(size uint32) (mm.VirtAddr, *kernel.Error) {
	return h.AllocAligned(size, minAlignment)
}

// AllocAligned reserves size bytes at an address that is a multiple of
// align. Alignments lower than 8 are raised to 8.
func (h *Heap) AllocAligned(size, align uint32) (mm.VirtAddr, *kernel.Error) {
	if size == 0 {
		return 0, errZeroSize
	}

	if align&(align-1) != 0 {
		return 0, errInvalidAlign
	}
	if align < minAlignment {
		align = minAlignment
	}

	var (
		base    = (uint64(h.current) + uint64(align) - 1) &^ (uint64(align) - 1)
		newTop  = base + (uint64(size)+minAlignment-1)&^(minAlignment-1)
		heapTop = uint64(h.start) + uint64(h.maxSize)
	)

	for newTop > uint64(h.end) {
		if uint64(h.end)+mm.PageSize > heapTop {
			return 0, errHeapExhausted
		}

		if _, err := h.mapper.AllocPage(mm.PageFromAddress(h.end), vmm.FlagPresent|vmm.FlagRW); err != nil {
			kfmt.Logf("[heap] unable to grow heap at 0x%x: %s\n", uint32(h.end), err.Message)
			return 0, errHeapExhausted
		}

		h.end += mm.PageSize
	}

	h.current = mm.VirtAddr(newTop)
	return mm.VirtAddr(base), nil
}

// Free is a no-op; the bump allocator never reclaims memory.
func (h *Heap) Free(mm.VirtAddr) {}

// Start returns the first address of the heap region.
func (h *Heap) Start() mm.VirtAddr { return h.start }

// End returns the end of the mapped part of the heap region.
func (h *Heap) End() mm.VirtAddr { return h.end }

// Used returns the number of bytes handed out so far.
func (h *Heap) Used() uint32 { return uint32(h.current - h.start) }

// Capacity returns the number of bytes currently backed by mapped pages.
func (h *Heap) Capacity() uint32 { return uint32(h.end - h.start) }

// MaxSize returns the upper bound for Capacity.
func (h *Heap) MaxSize() uint32 { return h.maxSize }

// Current returns the bump pointer.
func (h *Heap) Current() mm.VirtAddr { return h.current }
