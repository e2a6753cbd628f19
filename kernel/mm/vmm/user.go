package vmm

import (
	"ringzero/kernel"
	"ringzero/kernel/mm"
)

var (
	// ErrUserFault is returned when a user-supplied buffer is not fully
	// backed by user-accessible pages.
	ErrUserFault = &kernel.Error{Module: "vmm", Message: "user buffer is not mapped with user access"}
)

// chunkVisitor receives consecutive page-sized (or smaller) slices that back
// a virtual memory range. Returning false stops the iteration.
type chunkVisitor func(chunk []byte) bool

// visitRange invokes visitor with the frame contents backing [virt, virt+size).
// Every page in the range must be mapped with the required flags; otherwise
// failErr is returned before any chunk in the offending page is visited.
func (as *AddressSpace) visitRange(virt mm.VirtAddr, size uint32, required PageTableEntryFlag, failErr *kernel.Error, visitor chunkVisitor) *kernel.Error {
	if size == 0 {
		return nil
	}

	// Reject ranges that wrap around the end of the address space.
	if uint64(virt)+uint64(size) > 1<<32 {
		return failErr
	}

	for size > 0 {
		frame, flags, ok := as.Lookup(virt)
		if !ok || flags&required != required {
			return failErr
		}

		data, err := as.mem.FrameBytes(frame)
		if err != nil {
			return err
		}

		offset := virt.PageOffset()
		chunkLen := mm.PageSize - offset
		if chunkLen > size {
			chunkLen = size
		}

		if !visitor(data[offset : offset+chunkLen]) {
			return nil
		}

		virt += mm.VirtAddr(chunkLen)
		size -= chunkLen
	}

	return nil
}

// CopyToUser copies src to the user-mode buffer at virt. The buffer must be
// mapped with user access and write permission.
func (as *AddressSpace) CopyToUser(virt mm.VirtAddr, src []byte) *kernel.Error {
	if err := as.checkRange(virt, uint32(len(src)), FlagPresent|FlagUserAccessible|FlagRW); err != nil {
		return err
	}
	return as.copyIn(virt, src, FlagPresent|FlagUserAccessible|FlagRW, ErrUserFault)
}

// CopyFromUser fills dst with the contents of the user-mode buffer at virt.
func (as *AddressSpace) CopyFromUser(virt mm.VirtAddr, dst []byte) *kernel.Error {
	return as.visitRange(virt, uint32(len(dst)), FlagPresent|FlagUserAccessible, ErrUserFault, func(chunk []byte) bool {
		dst = dst[copy(dst, chunk):]
		return true
	})
}

// ZeroUser clears size bytes of the user-mode buffer at virt.
func (as *AddressSpace) ZeroUser(virt mm.VirtAddr, size uint32) *kernel.Error {
	if err := as.checkRange(virt, size, FlagPresent|FlagUserAccessible|FlagRW); err != nil {
		return err
	}
	return as.zero(virt, size, FlagPresent|FlagUserAccessible|FlagRW, ErrUserFault)
}

// ReadUserString reads a NULL-terminated string from user memory. At most
// maxLen bytes are examined; a string that is not terminated within maxLen
// bytes is truncated.
func (as *AddressSpace) ReadUserString(virt mm.VirtAddr, maxLen uint32) (string, *kernel.Error) {
	var (
		buf        = make([]byte, 0, 32)
		terminated bool
	)

	// Only the pages that are actually scanned need to be mapped, so the
	// range is visited one page at a time.
	for remaining := maxLen; remaining > 0 && !terminated; {
		chunkLen := mm.PageSize - virt.PageOffset()
		if chunkLen > remaining {
			chunkLen = remaining
		}

		err := as.visitRange(virt, chunkLen, FlagPresent|FlagUserAccessible, ErrUserFault, func(chunk []byte) bool {
			for _, b := range chunk {
				if b == 0 {
					terminated = true
					return false
				}
				buf = append(buf, b)
			}
			return true
		})
		if err != nil {
			return "", err
		}

		virt += mm.VirtAddr(chunkLen)
		remaining -= chunkLen
	}

	return string(buf), nil
}

// CopyToPage copies src to the kernel-accessible virtual address virt. The
// range must be mapped but no user-access check is performed.
func (as *AddressSpace) CopyToPage(virt mm.VirtAddr, src []byte) *kernel.Error {
	if err := as.checkRange(virt, uint32(len(src)), FlagPresent); err != nil {
		return err
	}
	return as.copyIn(virt, src, FlagPresent, ErrInvalidMapping)
}

// ZeroPage clears size bytes starting at the kernel-accessible virtual
// address virt. The range may span several pages.
func (as *AddressSpace) ZeroPage(virt mm.VirtAddr, size uint32) *kernel.Error {
	if err := as.checkRange(virt, size, FlagPresent); err != nil {
		return err
	}
	return as.zero(virt, size, FlagPresent, ErrInvalidMapping)
}

// checkRange verifies the whole range before a write so that a fault never
// leaves a partially written buffer behind.
func (as *AddressSpace) checkRange(virt mm.VirtAddr, size uint32, required PageTableEntryFlag) *kernel.Error {
	failErr := ErrInvalidMapping
	if required&FlagUserAccessible != 0 {
		failErr = ErrUserFault
	}

	if size == 0 {
		return nil
	}
	if uint64(virt)+uint64(size) > 1<<32 {
		return failErr
	}

	for page, last := mm.PageFromAddress(virt), mm.PageFromAddress(virt+mm.VirtAddr(size-1)); ; page++ {
		if _, flags, ok := as.Lookup(page.Address()); !ok || flags&required != required {
			return failErr
		}
		if page == last {
			return nil
		}
	}
}

func (as *AddressSpace) copyIn(virt mm.VirtAddr, src []byte, required PageTableEntryFlag, failErr *kernel.Error) *kernel.Error {
	return as.visitRange(virt, uint32(len(src)), required, failErr, func(chunk []byte) bool {
		src = src[copy(chunk, src):]
		return true
	})
}

func (as *AddressSpace) zero(virt mm.VirtAddr, size uint32, required PageTableEntryFlag, failErr *kernel.Error) *kernel.Error {
	return as.visitRange(virt, size, required, failErr, func(chunk []byte) bool {
		for i := range chunk {
			chunk[i] = 0
		}
		return true
	})
}
