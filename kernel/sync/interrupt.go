package sync

import (
	"sync/atomic"

	"ringzero/kernel/cpu"
)

var (
	interruptDepth int32

	// These are mocked by tests and are automatically inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// EnterInterrupt marks the start of an interrupt handler.
func EnterInterrupt() { atomic.AddInt32(&interruptDepth, 1) }

// ExitInterrupt marks the end of an interrupt handler.
func ExitInterrupt() { atomic.AddInt32(&interruptDepth, -1) }

// InInterrupt returns true while an interrupt handler is running.
func InInterrupt() bool { return atomic.LoadInt32(&interruptDepth) > 0 }

// IRQState captures whether interrupts were enabled before a call to
// DisableInterrupts.
type IRQState bool

// DisableInterrupts masks interrupts and returns the previous state so that
// it can be passed to Restore. Calls can be nested.
func DisableInterrupts() IRQState {
	state := IRQState(interruptsEnabledFn())
	disableInterruptsFn()
	return state
}

// Restore re-enables interrupts if they were enabled when the matching
// DisableInterrupts call was made.
func Restore(state IRQState) {
	if state {
		enableInterruptsFn()
	}
}
