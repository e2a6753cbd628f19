package vmm

import (
	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn = cpu.ReadCR2
	panicFn   = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// Page fault error code bits pushed by the CPU.
const (
	faultPresent     = 1 << 0
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultFetch       = 1 << 4
)

// ExceptionRegistrar is implemented by the interrupt dispatcher.
type ExceptionRegistrar interface {
	HandleException(irq.InterruptNumber, irq.ExceptionHandler)
}

// InstallFaultHandlers registers the page fault and general protection
// fault reporting handlers.
func InstallFaultHandlers(dispatcher ExceptionRegistrar) {
	dispatcher.HandleException(irq.PageFaultException, pageFaultHandler)
	dispatcher.HandleException(irq.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a page directory or page table entry is
// not present or when a protection check fails. Neither case is recoverable.
func pageFaultHandler(regs *irq.Registers) {
	kfmt.Printf("\nPage fault while accessing address: 0x%8x\nReason: %s", readCR2Fn(), pageFaultReason(regs.ErrCode))
	if regs.ErrCode&faultUser != 0 {
		kfmt.Printf(" (user mode)")
	} else {
		kfmt.Printf(" (kernel mode)")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}

func pageFaultReason(errCode uint32) string {
	switch {
	case errCode&faultReservedBit != 0:
		return "page table has reserved bit set"
	case errCode&faultFetch != 0:
		return "instruction fetch"
	case errCode&(faultPresent|faultWrite) == 0:
		return "read from non-present page"
	case errCode&(faultPresent|faultWrite) == faultWrite:
		return "write to non-present page"
	case errCode&(faultPresent|faultWrite) == faultPresent:
		return "page protection violation (read)"
	default:
		return "write to read-only page"
	}
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *irq.Registers) {
	kfmt.Printf("\nGeneral protection fault (error code: 0x%x)\n", regs.ErrCode)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}
