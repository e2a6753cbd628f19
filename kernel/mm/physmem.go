package mm

import (
	"io"

	"ringzero/kernel"
)

var (
	errFrameNotAddressable = &kernel.Error{Module: "mm", Message: "frame is not addressable under the active translation"}
	errFrameOutOfRange     = &kernel.Error{Module: "mm", Message: "frame is outside of physical memory"}
)

// PhysMemory provides access to the contents of physical frames.
type PhysMemory interface {
	// FrameBytes returns a PageSize-long view of the frame contents.
	FrameBytes(Frame) ([]byte, *kernel.Error)
}

// TemporaryMapper maps a frame at a scratch virtual address so that the
// kernel can access frames outside the identity-mapped region. Each call
// invalidates the mapping returned by the previous call.
type TemporaryMapper func(Frame) (Page, *kernel.Error)

// IdentityVirt returns the virtual address that aliases a physical address
// when the physical address is located below the identity-mapping limit.
func IdentityVirt(addr, limit PhysAddr) (VirtAddr, bool) {
	if addr >= limit {
		return 0, false
	}
	return VirtAddr(addr), true
}

// IdentityMemory is the PhysMemory implementation used on real hardware.
// Frames below Limit are accessed through the identity mapping; frames above
// it are accessed through the installed TemporaryMapper. A view returned for
// a temporarily mapped frame only remains valid until the next FrameBytes
// call for a frame above Limit.
type IdentityMemory struct {
	// Limit is the end of the identity-mapped region. Before paging is
	// enabled it should cover the whole physical address space.
	Limit PhysAddr

	mapTemporary TemporaryMapper
}

// SetTemporaryMapper installs the mapper used for frames above Limit.
func (m *IdentityMemory) SetTemporaryMapper(fn TemporaryMapper) {
	m.mapTemporary = fn
}

// FrameBytes implements PhysMemory.
func (m *IdentityMemory) FrameBytes(f Frame) ([]byte, *kernel.Error) {
	if virt, ok := IdentityVirt(f.Address(), m.Limit); ok {
		return kernel.Slice(uintptr(virt), PageSize), nil
	}

	if m.mapTemporary == nil {
		return nil, errFrameNotAddressable
	}

	page, err := m.mapTemporary(f)
	if err != nil {
		return nil, err
	}
	return kernel.Slice(uintptr(page.Address()), PageSize), nil
}

// SliceMemory is a PhysMemory implementation backed by a byte slice. It
// models a machine whose physical RAM starts at address 0.
type SliceMemory struct {
	ram []byte
}

// NewSliceMemory allocates a zero-filled RAM image of the given size which
// is rounded up to a multiple of PageSize.
func NewSliceMemory(size Size) *SliceMemory {
	size = (size + PageSize - 1) &^ (PageSize - 1)
	return &SliceMemory{ram: make([]byte, size)}
}

// FrameBytes implements PhysMemory.
func (m *SliceMemory) FrameBytes(f Frame) ([]byte, *kernel.Error) {
	start := uint64(f.Address())
	if !f.Valid() || start+PageSize > uint64(len(m.ram)) {
		return nil, errFrameOutOfRange
	}
	return m.ram[start : start+PageSize : start+PageSize], nil
}

// Bytes returns the raw RAM image.
func (m *SliceMemory) Bytes() []byte { return m.ram }

// Size returns the size of the RAM image.
func (m *SliceMemory) Size() Size { return Size(len(m.ram)) }

// PhysReader adapts a PhysMemory into an io.ReaderAt where offsets are
// physical addresses.
type PhysReader struct {
	Mem PhysMemory
}

// ReadAt implements io.ReaderAt.
func (r PhysReader) ReadAt(p []byte, off int64) (int, error) {
	var read int
	for read < len(p) {
		addr := uint64(off) + uint64(read)
		if addr > 0xffffffff {
			return read, io.EOF
		}

		data, err := r.Mem.FrameBytes(FrameFromAddress(PhysAddr(addr)))
		if err != nil {
			return read, err
		}

		read += copy(p[read:], data[PhysAddr(addr).PageOffset():])
	}

	return read, nil
}
