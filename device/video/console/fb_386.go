//go:build 386

package console

import "unsafe"

// textFramebuffer returns the identity-mapped framebuffer at physAddr.
func textFramebuffer(physAddr uintptr, cells int) []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(physAddr)), cells)
}
