package vmm

const (
	// pageLevels indicates the number of page levels supported by the 386
	// architecture without PAE.
	pageLevels = 2

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. Bits 12-31 contain the
	// physical frame address.
	ptePhysPageMask = uint32(0xfffff000)

	// entriesPerTable is the number of entries in each page table level.
	entriesPerTable = 1024

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when accessing page tables
	// that live outside the identity-mapped region). It uses the last
	// entry of the last page table.
	tempMappingAddr = 0xfffff000
)

var (
	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each level uses 10 bits which amounts
	// to 1024 entries per table.
	pageLevelBits = [pageLevels]uint8{
		10,
		10,
	}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		22,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 4Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal
)

// flagMask selects the flag bits of a page table entry.
const flagMask = PageTableEntryFlag(^ptePhysPageMask)
