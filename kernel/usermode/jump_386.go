//go:build 386

package usermode

// jumpToUserMode builds an interrupt return frame with the user code and
// data selectors and executes IRET. It never returns.
func jumpToUserMode(entry, stack uint32)
