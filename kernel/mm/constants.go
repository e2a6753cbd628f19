package mm

const (
	// PointerShift is equal to log2(size of a page table entry). Entries
	// are 32 bits wide on 386.
	PointerShift = 2

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = 1 << PageShift

	// pageMask selects the offset bits of an address.
	pageMask = PageSize - 1
)

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Range describes the half-open physical address range [Start, End).
type Range struct {
	Start, End PhysAddr
}
