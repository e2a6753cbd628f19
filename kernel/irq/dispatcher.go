// Package irq implements the interrupt core: the IDT, exception and
// hardware interrupt routing, the syscall gate and the 8259 PIC driver.
//
// All vectors enter through small assembly trampolines that save the
// register state and call Dispatch on the active Dispatcher.
package irq

import (
	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/sync"
)

// ExceptionHandler is invoked when a CPU exception is raised.
type ExceptionHandler func(*Registers)

// IRQHandler is invoked when a hardware interrupt is raised on a line.
type IRQHandler func(*Registers)

// SyscallHandler is invoked for INT 0x80. The handler stores its result in
// the EAX field of the supplied registers.
type SyscallHandler func(*Registers)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	trampolineAddrFn    = trampolineAddr
	panicFn             = kfmt.Panic
	enableInterruptsFn  = cpu.EnableInterrupts
	disableInterruptsFn = cpu.DisableInterrupts

	// activeDispatcher receives the interrupts delivered by the entry
	// trampolines. It is set by IDTInit.
	activeDispatcher *Dispatcher

	errUnhandledException = &kernel.Error{Module: "irq", Message: "unhandled CPU exception"}
)

// Entry trampoline indexes: one per exception, one per IRQ line and one for
// the syscall gate.
const (
	irqStubBase = NumExceptions
	syscallStub = NumExceptions + NumIRQLines
	numStubs    = syscallStub + 1
)

// Dispatcher owns the IDT and routes interrupts to registered handlers.
type Dispatcher struct {
	idt        IDT
	descriptor idtDescriptor

	exceptions [NumExceptions]ExceptionHandler
	irqs       [NumIRQLines]IRQHandler
	syscall    SyscallHandler

	pic PIC

	spurious   [NumIRQLines]uint32
	unexpected uint32
}

// NewDispatcher returns a Dispatcher with no gates or handlers installed.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// PIC returns the interrupt controller driven by the dispatcher.
func (d *Dispatcher) PIC() *PIC {
	return &d.pic
}

// ISRInstall binds vectors 0-31 to the exception trampolines.
func (d *Dispatcher) ISRInstall() {
	for vector := uint8(0); vector < NumExceptions; vector++ {
		d.SetGate(vector, trampolineAddrFn(uint32(vector)), KernelCodeSelector, GateInterrupt32)
	}
}

// IRQInstall remaps the PIC so that lines 0-7 and 8-15 land on the vectors
// starting at masterOffset and slaveOffset and binds those vectors to the
// IRQ trampolines.
func (d *Dispatcher) IRQInstall(masterOffset, slaveOffset uint8) *kernel.Error {
	if err := d.pic.Remap(masterOffset, slaveOffset); err != nil {
		return err
	}

	for line := uint8(0); line < NumIRQLines; line++ {
		vector := masterOffset + line
		if line >= 8 {
			vector = slaveOffset + line - 8
		}
		d.SetGate(vector, trampolineAddrFn(irqStubBase+uint32(line)), KernelCodeSelector, GateInterrupt32)
	}

	kfmt.Logf("[irq] PIC remapped; master offset: 0x%x, slave offset: 0x%x\n", masterOffset, slaveOffset)
	return nil
}

// SyscallInstall binds the syscall vector to its trampoline. The gate can be
// invoked from ring 3.
func (d *Dispatcher) SyscallInstall(handler SyscallHandler) {
	d.syscall = handler
	d.SetGate(SyscallVector, trampolineAddrFn(syscallStub), KernelCodeSelector, GateInterrupt32User)
}

// RegisterIRQHandler installs handler for line replacing any previously
// registered handler.
func (d *Dispatcher) RegisterIRQHandler(line uint8, handler IRQHandler) *kernel.Error {
	if line >= NumIRQLines {
		return errInvalidIRQ
	}

	d.irqs[line] = handler
	return nil
}

// UnregisterIRQHandler removes the handler for line.
func (d *Dispatcher) UnregisterIRQHandler(line uint8) *kernel.Error {
	return d.RegisterIRQHandler(line, nil)
}

// HandleException installs handler for the CPU exception num.
func (d *Dispatcher) HandleException(num InterruptNumber, handler ExceptionHandler) {
	if num < NumExceptions {
		d.exceptions[num] = handler
	}
}

// SpuriousCount returns the number of interrupts raised on line while no
// handler was registered.
func (d *Dispatcher) SpuriousCount(line uint8) uint32 {
	if line >= NumIRQLines {
		return 0
	}
	return d.spurious[line]
}

// UnexpectedCount returns the number of interrupts received on vectors that
// have no meaning to the dispatcher.
func (d *Dispatcher) UnexpectedCount() uint32 {
	return d.unexpected
}

// Dispatch routes an interrupt to its handler. It is called by the entry
// trampolines with the saved register state.
func (d *Dispatcher) Dispatch(regs *Registers) {
	// Syscalls are the main flow of control rather than an interruption
	// of it, so they do not count as interrupt context.
	if regs.IntNo == SyscallVector {
		if d.syscall != nil {
			d.syscall(regs)
		}
		return
	}

	sync.EnterInterrupt()
	defer sync.ExitInterrupt()

	switch vector := regs.IntNo; {
	case vector < NumExceptions:
		if handler := d.exceptions[vector]; handler != nil {
			handler(regs)
			return
		}
		d.unhandledException(regs)
	case vector >= IRQBase && vector < IRQBase+NumIRQLines:
		line := uint8(vector - IRQBase)
		if handler := d.irqs[line]; handler != nil {
			handler(regs)
		} else {
			d.spurious[line]++
		}
		d.pic.SendEOI(line)
	default:
		d.unexpected++
		kfmt.Logf("[irq] unexpected interrupt on vector 0x%x\n", vector)
	}
}

func (d *Dispatcher) unhandledException(regs *Registers) {
	num := InterruptNumber(regs.IntNo)
	kfmt.Printf("\nUnhandled exception: %s (vector %d, error code 0x%x)\n", num.String(), regs.IntNo, regs.ErrCode)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnhandledException)
}

// Enable unmasks interrupts on the CPU.
func Enable() {
	enableInterruptsFn()
}

// Disable masks interrupts on the CPU.
func Disable() {
	disableInterruptsFn()
}
