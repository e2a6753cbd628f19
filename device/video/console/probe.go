package console

import (
	"ringzero/device"
	"ringzero/kernel/cpu"
)

const (
	// vgaTextFramebuffer is the physical address of the mode 0x3
	// framebuffer. It lives inside the identity-mapped region.
	vgaTextFramebuffer = 0xB8000

	vgaTextColumns = 80
	vgaTextRows    = 25
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	framebufferFn   = textFramebuffer
)

func probeForVgaTextConsole() device.Driver {
	fb := framebufferFn(vgaTextFramebuffer, vgaTextColumns*vgaTextRows)
	if fb == nil {
		return nil
	}
	return NewVgaTextConsole(vgaTextColumns, vgaTextRows, fb)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderConsole,
		Probe: probeForVgaTextConsole,
	})
}
