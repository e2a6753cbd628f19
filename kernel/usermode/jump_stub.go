//go:build !386

package usermode

import "ringzero/kernel/cpu"

// jumpToUserMode halts on hosts that cannot leave the current privilege
// level.
func jumpToUserMode(_, _ uint32) {
	cpu.Halt()
}
