//go:build !386

package console

// textFramebuffer reports that no VGA hardware is present on the host.
func textFramebuffer(uintptr, int) []uint16 {
	return nil
}
