// Package vmm implements the two-level 386 paging scheme. An AddressSpace
// owns a page directory and builds page tables on demand using a frame
// allocator. Page table contents are only ever accessed through a
// mm.PhysMemory implementation so the package works identically against
// real hardware and a simulated RAM image.
package vmm

import (
	"unsafe"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB
	switchPDTFn     = cpu.SwitchPDT
	enablePagingFn  = cpu.EnablePaging

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoDirectoryFrame    = &kernel.Error{Module: "vmm", Message: "unable to allocate a frame for the page directory"}
	errTableNotAddressable = &kernel.Error{Module: "vmm", Message: "page directory frame is outside the identity-mapped region"}
	errTempMappingReserved = &kernel.Error{Module: "vmm", Message: "the temporary mapping page cannot be mapped or unmapped explicitly"}
)

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
	FreeFrame(mm.PhysAddr) *kernel.Error
}

// AddressSpace describes a virtual address space rooted at a page directory.
type AddressSpace struct {
	frames        FrameAllocator
	mem           mm.PhysMemory
	identityLimit mm.PhysAddr

	pdtFrame  mm.Frame
	tempTable mm.Frame
}

// New returns an AddressSpace that allocates table frames from frames and
// accesses them through mem. The region [0, identityLimit) is identity-mapped
// by Init.
func New(frames FrameAllocator, mem mm.PhysMemory, identityLimit mm.PhysAddr) *AddressSpace {
	return &AddressSpace{
		frames:        frames,
		mem:           mem,
		identityLimit: identityLimit.AlignUp(),
		pdtFrame:      mm.InvalidFrame,
		tempTable:     mm.InvalidFrame,
	}
}

// Init allocates and clears the page directory, identity-maps the low
// physical memory region, loads the directory into CR3 and enables paging.
func (as *AddressSpace) Init() *kernel.Error {
	var err *kernel.Error

	if as.pdtFrame, err = as.allocZeroedFrame(); err != nil {
		as.pdtFrame = mm.InvalidFrame
		return errNoDirectoryFrame
	}

	// The table holding the temporary mapping is set up eagerly. Both it
	// and the directory must be reachable without a temporary mapping.
	if as.tempTable, err = as.allocZeroedFrame(); err != nil {
		return err
	}
	if !as.identityAddressable(as.pdtFrame) || !as.identityAddressable(as.tempTable) {
		return errTableNotAddressable
	}

	pdt, err := as.tableAt(as.pdtFrame)
	if err != nil {
		return err
	}
	pde := &pdt[tableIndex(tempMappingAddr, 0)]
	pde.SetFrame(as.tempTable)
	pde.SetFlags(FlagPresent | FlagRW)

	for addr := mm.PhysAddr(0); addr < as.identityLimit; addr += mm.PageSize {
		if err = as.Map(mm.PageFromAddress(mm.VirtAddr(addr)), mm.FrameFromAddress(addr), FlagPresent|FlagRW); err != nil {
			return err
		}
	}

	as.Activate()
	enablePagingFn()
	kfmt.Logf("[vmm] paging enabled; page directory at 0x%x, identity-mapped up to 0x%x\n", uint32(as.pdtFrame.Address()), uint32(as.identityLimit))
	return nil
}

// DirectoryFrame returns the frame that holds the page directory.
func (as *AddressSpace) DirectoryFrame() mm.Frame {
	return as.pdtFrame
}

// IdentityLimit returns the end of the identity-mapped region.
func (as *AddressSpace) IdentityLimit() mm.PhysAddr {
	return as.identityLimit
}

// Activate loads the page directory into CR3.
func (as *AddressSpace) Activate() {
	switchPDTFn(uintptr(as.pdtFrame.Address()))
}

// FlushTLB flushes all non-global TLB entries by reloading CR3.
func (as *AddressSpace) FlushTLB() {
	flushTLBFn()
}

func (as *AddressSpace) identityAddressable(frame mm.Frame) bool {
	_, ok := mm.IdentityVirt(frame.Address(), as.identityLimit)
	return ok
}

// tableAt returns a view of the page table stored in the supplied frame.
// Views of frames outside the identity-mapped region are only valid until
// the next call that accesses physical memory.
func (as *AddressSpace) tableAt(frame mm.Frame) (*pageTable, *kernel.Error) {
	data, err := as.mem.FrameBytes(frame)
	if err != nil {
		return nil, err
	}
	return (*pageTable)(unsafe.Pointer(&data[0])), nil
}

// allocZeroedFrame reserves a frame and clears its contents.
func (as *AddressSpace) allocZeroedFrame() (mm.Frame, *kernel.Error) {
	frame, err := as.frames.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	if err = as.clearFrame(frame); err != nil {
		_ = as.frames.FreeFrame(frame.Address())
		return mm.InvalidFrame, err
	}
	return frame, nil
}

func (as *AddressSpace) clearFrame(frame mm.Frame) *kernel.Error {
	data, err := as.mem.FrameBytes(frame)
	if err != nil {
		return err
	}

	for i := range data {
		data[i] = 0
	}
	return nil
}

func tableIndex(virt mm.VirtAddr, level uint8) uint32 {
	return (uint32(virt) >> pageLevelShifts[level]) & (1<<pageLevelBits[level] - 1)
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level. The entry passed for the last level belongs to the table that
// the directory entry points to, so walkFn must abort the walk when a
// directory entry is not present.
func (as *AddressSpace) walk(virt mm.VirtAddr, walkFn pageTableWalker) *kernel.Error {
	tableFrame := as.pdtFrame
	for level := uint8(0); level < pageLevels; level++ {
		table, err := as.tableAt(tableFrame)
		if err != nil {
			return err
		}

		pte := &table[tableIndex(virt, level)]
		if !walkFn(level, pte) {
			return nil
		}

		tableFrame = pte.Frame()
	}

	return nil
}
