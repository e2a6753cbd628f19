// Package tss installs the task state segment used for ring 3 to ring 0
// stack switches.
package tss

import (
	"unsafe"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/gdt"
	"ringzero/kernel/kfmt"
)

const (
	// accessTSS marks a present, available 32-bit TSS.
	accessTSS = 0x89

	// Segment values loaded by a hardware task switch. They are the
	// kernel selectors with RPL 3.
	taskCodeSegment = gdt.KernelCode | 3
	taskDataSegment = gdt.KernelData | 3
)

var (
	// ltrFn is mocked by tests and is automatically inlined by the compiler.
	ltrFn = cpu.LoadTaskRegister

	errInvalidStack = &kernel.Error{Module: "tss", Message: "kernel stack top must not be zero"}
)

// GDTInstaller is implemented by descriptor tables that can store the TSS
// descriptor.
type GDTInstaller interface {
	SetGate(slot int, base, limit uint32, access, gran uint8) *kernel.Error
}

// TSS is the 32-bit task state segment layout.
type TSS struct {
	Link   uint32
	ESP0   uint32
	SS0    uint32
	ESP1   uint32
	SS1    uint32
	ESP2   uint32
	SS2    uint32
	CR3    uint32
	EIP    uint32
	EFlags uint32
	EAX    uint32
	ECX    uint32
	EDX    uint32
	EBX    uint32
	ESP    uint32
	EBP    uint32
	ESI    uint32
	EDI    uint32
	ES     uint32
	CS     uint32
	SS     uint32
	DS     uint32
	FS     uint32
	GS     uint32
	LDT    uint32
	Trap   uint16
	IOMap  uint16
}

// Size is the size of the TSS in bytes.
const Size = uint32(unsafe.Sizeof(TSS{}))

var tss TSS

// Install initializes the TSS so that interrupts raised in ring 3 switch to
// the stack ending at kernelStackTop, stores its descriptor in the GDT TSS
// slot and loads the task register.
func Install(table GDTInstaller, kernelStackTop uint32) *kernel.Error {
	if kernelStackTop == 0 {
		return errInvalidStack
	}

	tss = TSS{
		SS0:   gdt.KernelData,
		ESP0:  kernelStackTop,
		CS:    taskCodeSegment,
		SS:    taskDataSegment,
		DS:    taskDataSegment,
		ES:    taskDataSegment,
		FS:    taskDataSegment,
		GS:    taskDataSegment,
		IOMap: uint16(Size),
	}

	base := uint32(uintptr(unsafe.Pointer(&tss)))
	if err := table.SetGate(gdt.TSSSlot, base, Size-1, accessTSS, 0); err != nil {
		return err
	}

	ltrFn(gdt.TSSSelector)
	kfmt.Logf("[tss] installed; kernel stack: 0x%8x\n", kernelStackTop)
	return nil
}

// Active returns the task state segment used by the kernel.
func Active() *TSS {
	return &tss
}

// SetKernelStack updates the stack used when entering ring 0 from ring 3.
func SetKernelStack(top uint32) {
	tss.ESP0 = top
}

// KernelStack returns the stack used when entering ring 0 from ring 3.
func KernelStack() uint32 {
	return tss.ESP0
}
