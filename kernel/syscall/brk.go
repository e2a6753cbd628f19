package syscall

import (
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

const (
	// DefaultBreakBase is the initial program break.
	DefaultBreakBase = mm.VirtAddr(0x40000000)

	// breakLimit keeps the break below the user stack.
	breakLimit = mm.VirtAddr(0xBFFF0000)

	breakPageFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible
)

// BreakState tracks the program break between brk calls.
type BreakState struct {
	base    mm.VirtAddr
	current mm.VirtAddr
}

// NewBreakState returns a break positioned at base.
func NewBreakState(base mm.VirtAddr) *BreakState {
	return &BreakState{base: base, current: base}
}

// Base returns the lowest valid break.
func (b *BreakState) Base() mm.VirtAddr { return b.base }

// Current returns the current break.
func (b *BreakState) Current() mm.VirtAddr { return b.current }

// Set moves the break to addr mapping or releasing the pages in between and
// returns the new break. Requests that cannot be honored leave the break
// unchanged and return its current value.
func (b *BreakState) Set(mem UserMemory, addr mm.VirtAddr) mm.VirtAddr {
	switch {
	case addr == 0 || addr < b.base || addr > breakLimit || mem == nil:
		return b.current
	case addr > b.current:
		if !b.grow(mem, addr) {
			return b.current
		}
	case addr < b.current:
		b.shrink(mem, addr)
	}

	b.current = addr
	return b.current
}

func (b *BreakState) grow(mem UserMemory, addr mm.VirtAddr) bool {
	start, end := b.current.AlignUp(), addr.AlignUp()
	for page := start; page < end; page += mm.PageSize {
		if mem.IsMapped(page) {
			kfmt.Logf("[sys] brk: 0x%8x is already mapped\n", uint32(page))
			return false
		}
	}

	for page := start; page < end; page += mm.PageSize {
		if _, err := mem.AllocPage(mm.PageFromAddress(page), breakPageFlags); err != nil {
			kfmt.Logf("[sys] brk: unable to map 0x%8x: %s\n", uint32(page), err.Message)
			for mapped := start; mapped < page; mapped += mm.PageSize {
				_ = mem.FreePage(mm.PageFromAddress(mapped))
			}
			return false
		}
	}
	return true
}

func (b *BreakState) shrink(mem UserMemory, addr mm.VirtAddr) {
	start, end := addr.AlignUp(), b.current.AlignUp()
	for page := start; page < end; page += mm.PageSize {
		_ = mem.FreePage(mm.PageFromAddress(page))
	}
	mem.FlushTLB()
}
