// Package mm contains the types shared by the memory management packages.
//
// Physical and virtual addresses are distinct types. A PhysAddr can only be
// turned into something the kernel dereferences through a PhysMemory
// implementation, which knows whether the frame is reachable under the
// active translation.
package mm

import "math"

// PhysAddr is a physical memory address.
type PhysAddr uint32

// VirtAddr is a virtual memory address.
type VirtAddr uint32

// PageOffset returns the offset of the address within its frame.
func (a PhysAddr) PageOffset() uint32 { return uint32(a) & pageMask }

// Aligned returns true if the address is frame-aligned.
func (a PhysAddr) Aligned() bool { return a.PageOffset() == 0 }

// AlignDown rounds the address down to the nearest frame boundary.
func (a PhysAddr) AlignDown() PhysAddr { return a &^ pageMask }

// AlignUp rounds the address up to the nearest frame boundary.
func (a PhysAddr) AlignUp() PhysAddr { return (a + pageMask) &^ pageMask }

// PageOffset returns the offset of the address within its page.
func (a VirtAddr) PageOffset() uint32 { return uint32(a) & pageMask }

// Aligned returns true if the address is page-aligned.
func (a VirtAddr) Aligned() bool { return a.PageOffset() == 0 }

// AlignDown rounds the address down to the nearest page boundary.
func (a VirtAddr) AlignDown() VirtAddr { return a &^ pageMask }

// AlignUp rounds the address up to the nearest page boundary. Addresses in
// the last page of the address space wrap around to 0.
func (a VirtAddr) AlignUp() VirtAddr { return (a + pageMask) &^ pageMask }

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() VirtAddr {
	return VirtAddr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr VirtAddr) Page {
	return Page(virtAddr >> PageShift)
}
