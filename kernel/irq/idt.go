package irq

import (
	"unsafe"

	"ringzero/kernel/cpu"
)

const (
	// GateInterrupt32 marks a present, ring-0, 32-bit interrupt gate.
	GateInterrupt32 = 0x8E

	// GateInterrupt32User marks a present 32-bit interrupt gate that can be
	// invoked with INT from ring 3.
	GateInterrupt32User = 0xEE

	// KernelCodeSelector is the GDT selector that all gates jump through.
	KernelCodeSelector = 0x08

	idtEntries = 256
)

var (
	// loadIDTFn is mocked by tests and is automatically inlined by the compiler.
	loadIDTFn = cpu.LoadIDT
)

// Gate is an IDT entry in the format expected by the CPU.
type Gate struct {
	OffsetLow  uint16
	Selector   uint16
	Zero       uint8
	TypeAttr   uint8
	OffsetHigh uint16
}

// Offset returns the address of the handler that the gate points to.
func (g Gate) Offset() uint32 {
	return uint32(g.OffsetHigh)<<16 | uint32(g.OffsetLow)
}

// Present returns true if the gate is marked as present.
func (g Gate) Present() bool {
	return g.TypeAttr&0x80 != 0
}

// DPL returns the privilege level required to invoke the gate with INT.
func (g Gate) DPL() uint8 {
	return (g.TypeAttr >> 5) & 0x3
}

// IDT holds an entry for each of the 256 interrupt vectors.
type IDT [idtEntries]Gate

// idtDescriptor is the packed operand of the LIDT instruction.
type idtDescriptor struct {
	Limit    uint16
	BaseLow  uint16
	BaseHigh uint16
}

func (d *idtDescriptor) base() uint32 {
	return uint32(d.BaseHigh)<<16 | uint32(d.BaseLow)
}

// IDTInit clears all gates and loads the table into the CPU. It must be
// called before interrupts are enabled.
func (d *Dispatcher) IDTInit() {
	for i := range d.idt {
		d.idt[i] = Gate{}
	}

	base := uint32(uintptr(unsafe.Pointer(&d.idt)))
	d.descriptor = idtDescriptor{
		Limit:    uint16(unsafe.Sizeof(d.idt) - 1),
		BaseLow:  uint16(base),
		BaseHigh: uint16(base >> 16),
	}

	activeDispatcher = d
	loadIDTFn(uintptr(unsafe.Pointer(&d.descriptor)))
}

// SetGate points the gate for vector to the handler at offset.
func (d *Dispatcher) SetGate(vector uint8, offset uint32, selector uint16, flags uint8) {
	d.idt[vector] = Gate{
		OffsetLow:  uint16(offset),
		Selector:   selector,
		TypeAttr:   flags,
		OffsetHigh: uint16(offset >> 16),
	}
}

// Gate returns the IDT entry for vector.
func (d *Dispatcher) Gate(vector uint8) Gate {
	return d.idt[vector]
}
