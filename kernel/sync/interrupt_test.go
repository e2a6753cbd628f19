package sync

import (
	"testing"

	"ringzero/kernel/cpu"
)

func TestInterruptDepth(t *testing.T) {
	if InInterrupt() {
		t.Fatal("expected not to be in interrupt context")
	}

	EnterInterrupt()
	EnterInterrupt()
	ExitInterrupt()
	if !InInterrupt() {
		t.Fatal("expected nested interrupt context to be tracked")
	}

	ExitInterrupt()
	if InInterrupt() {
		t.Fatal("expected interrupt context to be cleared")
	}
}

func TestDisableRestore(t *testing.T) {
	defer func() {
		interruptsEnabledFn = cpu.InterruptsEnabled
		disableInterruptsFn = cpu.DisableInterrupts
		enableInterruptsFn = cpu.EnableInterrupts
	}()

	var enabled bool
	interruptsEnabledFn = func() bool { return enabled }
	disableInterruptsFn = func() { enabled = false }
	enableInterruptsFn = func() { enabled = true }

	specs := []struct {
		initial bool
	}{
		{true},
		{false},
	}

	for specIndex, spec := range specs {
		enabled = spec.initial
		outer := DisableInterrupts()
		inner := DisableInterrupts()
		if enabled {
			t.Errorf("[spec %d] expected interrupts to be disabled", specIndex)
		}

		Restore(inner)
		if enabled {
			t.Errorf("[spec %d] expected inner Restore to keep interrupts disabled", specIndex)
		}

		Restore(outer)
		if enabled != spec.initial {
			t.Errorf("[spec %d] expected interrupt state to be restored to %t; got %t", specIndex, spec.initial, enabled)
		}
	}
}
