package syscall

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ringzero/kernel"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

// pageCounter wraps the user memory of a test and counts page operations.
type pageCounter struct {
	UserMemory
	allocs, frees, flushes int
	failAfter              int
}

var errNoFrames = &kernel.Error{Module: "test", Message: "no free frames"}

func (p *pageCounter) AllocPage(page mm.Page, flags vmm.PageTableEntryFlag) (mm.Frame, *kernel.Error) {
	if p.failAfter >= 0 && p.allocs == p.failAfter {
		return mm.InvalidFrame, errNoFrames
	}
	p.allocs++
	return p.UserMemory.AllocPage(page, flags)
}

func (p *pageCounter) FreePage(page mm.Page) *kernel.Error {
	p.frees++
	return p.UserMemory.FreePage(page)
}

func (p *pageCounter) FlushTLB() {
	p.flushes++
	p.UserMemory.FlushTLB()
}

func TestBrk(t *testing.T) {
	as := newTestAddressSpace(t)
	mem := &pageCounter{UserMemory: as, failAfter: -1}
	k := &Kernel{Memory: mem}
	var table Table
	k.RegisterAll(&table)

	brk := func(addr mm.VirtAddr) mm.VirtAddr {
		return mm.VirtAddr(uint32(table.Call(SysBrk, Args{uint32(addr)})))
	}

	base := DefaultBreakBase
	assert.Equal(t, base, brk(0))

	assert.Equal(t, base+0x2000, brk(base+0x2000))
	assert.Equal(t, 2, mem.allocs, "expected growing by 0x2000 to map exactly 2 pages")
	assert.True(t, as.IsMapped(base))
	assert.True(t, as.IsMapped(base+0x1fff))
	assert.False(t, as.IsMapped(base+0x2000))

	assert.Equal(t, base+0x1000, brk(base+0x1000))
	assert.Equal(t, 1, mem.frees, "expected shrinking by 0x1000 to unmap exactly 1 page")
	assert.Equal(t, 1, mem.flushes)
	assert.True(t, as.IsMapped(base))
	assert.False(t, as.IsMapped(base+0x1000))

	assert.Equal(t, base+0x1000, brk(base-1), "expected a break below the base to be rejected")
	assert.Equal(t, base+0x1000, brk(0))

	// unaligned breaks only map the pages they reach into
	assert.Equal(t, base+0x1234, brk(base+0x1234))
	assert.Equal(t, 3, mem.allocs)
	assert.Equal(t, base+0x1100, brk(base+0x1100))
	assert.Equal(t, 1, mem.frees)
	assert.True(t, as.IsMapped(base+0x1000))

	assert.Equal(t, base+0x1100, brk(breakLimit+1))
}

func TestBrkRollback(t *testing.T) {
	as := newTestAddressSpace(t)
	mem := &pageCounter{UserMemory: as, failAfter: 3}
	state := NewBreakState(DefaultBreakBase)

	if got := state.Set(mem, DefaultBreakBase+0x5000); got != DefaultBreakBase {
		t.Fatalf("expected a failed grow to return the unchanged break 0x%x; got 0x%x", uint32(DefaultBreakBase), uint32(got))
	}

	assert.Equal(t, 3, mem.frees, "expected the pages mapped by the failed call to be released")
	for page := DefaultBreakBase; page < DefaultBreakBase+0x5000; page += mm.PageSize {
		assert.False(t, as.IsMapped(page), "expected 0x%x to be unmapped", uint32(page))
	}
	assert.Equal(t, DefaultBreakBase, state.Current())
}

func TestBrkOverMappedPage(t *testing.T) {
	as := newTestAddressSpace(t)
	mem := &pageCounter{UserMemory: as, failAfter: -1}
	state := NewBreakState(DefaultBreakBase)

	// a program page sitting right where the heap would grow
	taken := mm.PageFromAddress(DefaultBreakBase + 0x1000)
	frame, err := as.AllocPage(taken, breakPageFlags)
	assert.Nil(t, err)
	assert.Nil(t, as.CopyToUser(taken.Address(), []byte("program")))

	if got := state.Set(mem, DefaultBreakBase+0x3000); got != DefaultBreakBase {
		t.Fatalf("expected a grow over a mapped page to return the unchanged break 0x%x; got 0x%x", uint32(DefaultBreakBase), uint32(got))
	}
	assert.Zero(t, mem.allocs, "expected no page to be mapped")
	assert.False(t, as.IsMapped(DefaultBreakBase))

	got, _, ok := as.Lookup(taken.Address())
	assert.True(t, ok)
	assert.Equal(t, frame, got, "expected the existing mapping to be kept")

	buf := make([]byte, 7)
	assert.Nil(t, as.CopyFromUser(taken.Address(), buf))
	assert.Equal(t, "program", string(buf))

	// growing up to the taken page is still allowed
	assert.Equal(t, DefaultBreakBase+0x1000, state.Set(mem, DefaultBreakBase+0x1000))
	assert.Equal(t, 1, mem.allocs)
}
