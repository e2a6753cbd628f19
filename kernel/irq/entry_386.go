//go:build 386

package irq

// trampolineAddr returns the address of the entry trampoline with the
// supplied index. Indexes 0-31 are exceptions, 32-47 are IRQ lines and 48
// is the syscall gate.
func trampolineAddr(index uint32) uint32

// dispatchFromStub is called by the common entry trampoline with a pointer
// to the register state saved on the interrupted stack.
//
//go:nosplit
func dispatchFromStub(regs *Registers) {
	if activeDispatcher != nil {
		activeDispatcher.Dispatch(regs)
	}
}
