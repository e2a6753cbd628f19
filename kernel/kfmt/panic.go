package kfmt

import (
	"ringzero/kernel"
	"ringzero/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to both the console and the
// log sink and halts the CPU. Calls to Panic never return on real hardware.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	for _, printFn := range []func(string, ...interface{}){Printf, Logf} {
		printFn("\n-----------------------------------\n")
		if err != nil {
			printFn("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		}
		printFn("*** kernel panic: system halted ***")
		printFn("\n-----------------------------------\n")
	}

	cpuHaltFn()
}
