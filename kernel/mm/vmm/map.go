package vmm

import (
	"ringzero/kernel"
	"ringzero/kernel/mm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables are allocated from the frame allocator and
// cleared before they are linked into the directory. An existing mapping
// for the page is silently replaced.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() == tempMappingAddr {
		return errTempMappingReserved
	}
	return as.mapPage(page, frame, flags)
}

// MapAddr is a convenience wrapper for Map that accepts addresses. Both
// addresses are rounded down to the page that contains them.
func (as *AddressSpace) MapAddr(virt mm.VirtAddr, phys mm.PhysAddr, flags PageTableEntryFlag) *kernel.Error {
	return as.Map(mm.PageFromAddress(virt), mm.FrameFromAddress(phys), flags)
}

func (as *AddressSpace) mapPage(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	walkErr := as.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags((flags & flagMask) | FlagPresent)
			flushTLBEntryFn(uintptr(page.Address()))
			return true
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		// Next table does not yet exist. Permission checks for
		// user pages are performed at the table entry level so the
		// directory entry is always user-accessible.
		var tableFrame mm.Frame
		if tableFrame, err = as.allocZeroedFrame(); err != nil {
			return false
		}

		*pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// Unmap removes a mapping previously installed via a call to Map. Unmapping
// a page whose page table does not exist is a no-op. The frame that backed
// the page is not released.
func (as *AddressSpace) Unmap(page mm.Page) *kernel.Error {
	if page.Address() == tempMappingAddr {
		return errTempMappingReserved
	}

	return as.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			*pte = 0
			flushTLBEntryFn(uintptr(page.Address()))
			return true
		}

		return pte.HasFlags(FlagPresent)
	})
}

// MapTemporary establishes a temporary RW mapping of a physical memory frame
// to a fixed virtual address overwriting any previous mapping. The temporary
// mapping mechanism is used to access page tables and frame contents above
// the identity-mapped region.
func (as *AddressSpace) MapTemporary(frame mm.Frame) (mm.Page, *kernel.Error) {
	// The temporary table always lives inside the identity-mapped region
	// so updating it never recurses into another temporary mapping.
	table, err := as.tableAt(as.tempTable)
	if err != nil {
		return 0, err
	}

	pte := &table[tableIndex(tempMappingAddr, pageLevels-1)]
	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | FlagRW)
	flushTLBEntryFn(tempMappingAddr)

	return mm.PageFromAddress(tempMappingAddr), nil
}

// AllocPage reserves a physical frame, clears it and maps it to the supplied
// page. If the mapping cannot be established the frame is returned to the
// allocator.
func (as *AddressSpace) AllocPage(page mm.Page, flags PageTableEntryFlag) (mm.Frame, *kernel.Error) {
	frame, err := as.allocZeroedFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	if err = as.Map(page, frame, flags); err != nil {
		_ = as.frames.FreeFrame(frame.Address())
		return mm.InvalidFrame, err
	}

	return frame, nil
}

// FreePage unmaps the supplied page and returns its backing frame to the
// allocator. Freeing an unmapped page is a no-op.
func (as *AddressSpace) FreePage(page mm.Page) *kernel.Error {
	frame, _, ok := as.Lookup(page.Address())
	if !ok {
		return nil
	}

	if err := as.Unmap(page); err != nil {
		return err
	}
	return as.frames.FreeFrame(frame.Address())
}

// Lookup returns the frame and flags for the page that contains the supplied
// virtual address. The returned flag is false if the address is not mapped.
func (as *AddressSpace) Lookup(virt mm.VirtAddr) (mm.Frame, PageTableEntryFlag, bool) {
	var entry pageTableEntry

	err := as.walk(virt, func(pteLevel uint8, pte *pageTableEntry) bool {
		entry = *pte
		return pte.HasFlags(FlagPresent)
	})

	if err != nil || !entry.HasFlags(FlagPresent) {
		return mm.InvalidFrame, 0, false
	}
	return entry.Frame(), entry.Flags(), true
}

// IsMapped returns true if the supplied virtual address is mapped.
func (as *AddressSpace) IsMapped(virt mm.VirtAddr) bool {
	_, _, ok := as.Lookup(virt)
	return ok
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virt mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	frame, _, ok := as.Lookup(virt)
	if !ok {
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return frame.Address() + mm.PhysAddr(virt.PageOffset()), nil
}
