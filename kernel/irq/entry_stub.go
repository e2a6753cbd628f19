//go:build !386

package irq

// trampolineBase is the synthetic address reported for the first entry
// trampoline on hosts that cannot execute them.
const trampolineBase = 0x00100000

func trampolineAddr(index uint32) uint32 {
	return trampolineBase + index*16
}
