package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		SetOutputSink(nil)
		SetLogSink(nil)
	}()

	var (
		cpuHaltCalled bool
		cons, log     bytes.Buffer
	)
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}
	SetOutputSink(&cons)
	SetLogSink(&log)

	specs := []struct {
		descr string
		err   interface{}
		exp   string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			cpuHaltCalled = false
			cons.Reset()
			log.Reset()

			Panic(spec.err)

			if got := cons.String(); got != spec.exp {
				t.Fatalf("expected console to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if got := log.String(); got != spec.exp {
				t.Fatalf("expected log to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if !cpuHaltCalled {
				t.Fatal("expected cpu.Halt() to be called by Panic")
			}
		})
	}
}
