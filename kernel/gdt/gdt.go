// Package gdt maintains the flat-model global descriptor table.
package gdt

import (
	"unsafe"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/kfmt"
)

// Segment selectors for the fixed table layout. User selectors carry RPL 3.
const (
	KernelCode  = 0x08
	KernelData  = 0x10
	UserCode    = 0x1B
	UserData    = 0x23
	TSSSlot     = 5
	TSSSelector = 0x28

	// NumEntries is the number of descriptors in the table.
	NumEntries = 6
)

// Access bytes and granularity flags used by Init.
const (
	AccessKernelCode = 0x9A
	AccessKernelData = 0x92
	AccessUserCode   = 0xFA
	AccessUserData   = 0xF2

	// Granularity4K selects 4K limit granularity and 32-bit operands.
	Granularity4K = 0xCF
)

var (
	// loadGDTFn is mocked by tests and is automatically inlined by the compiler.
	loadGDTFn = cpu.LoadGDT

	errInvalidSlot = &kernel.Error{Module: "gdt", Message: "descriptor slot out of range"}
)

// Descriptor is a segment descriptor in the format expected by the CPU.
type Descriptor struct {
	LimitLow    uint16
	BaseLow     uint16
	BaseMiddle  uint8
	Access      uint8
	Granularity uint8
	BaseHigh    uint8
}

// NewDescriptor encodes a descriptor. Only the upper nibble of gran is used;
// the lower nibble holds bits 16-19 of limit.
func NewDescriptor(base, limit uint32, access, gran uint8) Descriptor {
	return Descriptor{
		LimitLow:    uint16(limit),
		BaseLow:     uint16(base),
		BaseMiddle:  uint8(base >> 16),
		Access:      access,
		Granularity: uint8(limit>>16)&0x0f | gran&0xf0,
		BaseHigh:    uint8(base >> 24),
	}
}

// Base returns the segment base address.
func (d Descriptor) Base() uint32 {
	return uint32(d.BaseHigh)<<24 | uint32(d.BaseMiddle)<<16 | uint32(d.BaseLow)
}

// Limit returns the raw 20-bit segment limit.
func (d Descriptor) Limit() uint32 {
	return uint32(d.Granularity&0x0f)<<16 | uint32(d.LimitLow)
}

type gdtDescriptor struct {
	Limit    uint16
	BaseLow  uint16
	BaseHigh uint16
}

// Table is the global descriptor table.
type Table struct {
	entries    [NumEntries]Descriptor
	descriptor gdtDescriptor
}

// Init fills the table with the null descriptor and flat 4G kernel and user
// code/data segments. The TSS slot is left empty.
func (t *Table) Init() {
	t.entries = [NumEntries]Descriptor{}
	_ = t.SetGate(1, 0, 0xfffff, AccessKernelCode, Granularity4K)
	_ = t.SetGate(2, 0, 0xfffff, AccessKernelData, Granularity4K)
	_ = t.SetGate(3, 0, 0xfffff, AccessUserCode, Granularity4K)
	_ = t.SetGate(4, 0, 0xfffff, AccessUserData, Granularity4K)
}

// SetGate stores a descriptor at slot.
func (t *Table) SetGate(slot int, base, limit uint32, access, gran uint8) *kernel.Error {
	if slot < 0 || slot >= NumEntries {
		return errInvalidSlot
	}

	t.entries[slot] = NewDescriptor(base, limit, access, gran)
	return nil
}

// Entry returns the descriptor at slot.
func (t *Table) Entry(slot int) Descriptor {
	return t.entries[slot]
}

// Load installs the table with lgdt and reloads the segment registers.
func (t *Table) Load() {
	base := uint32(uintptr(unsafe.Pointer(&t.entries)))
	t.descriptor = gdtDescriptor{
		Limit:    uint16(unsafe.Sizeof(t.entries) - 1),
		BaseLow:  uint16(base),
		BaseHigh: uint16(base >> 16),
	}

	loadGDTFn(uintptr(unsafe.Pointer(&t.descriptor)))
	kfmt.Logf("[gdt] loaded %d descriptors\n", NumEntries)
}
