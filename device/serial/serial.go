// Package serial drives a 16550-compatible UART. The kernel uses COM1 as its
// log sink.
package serial

import (
	"io"

	"ringzero/device"
	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/kfmt"
)

const (
	// COM1 is the I/O base of the first serial port.
	COM1 = 0x3F8

	// register offsets from the I/O base
	regData        = 0
	regIntEnable   = 1
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	regScratch     = 7
	regDivisorLow  = 0
	regDivisorHigh = 1

	lineCtrlDLAB = 0x80
	lineCtrl8N1  = 0x03

	// enable and clear FIFOs with a 14-byte threshold
	fifoEnable = 0xC7

	// DTR, RTS and OUT2
	modemCtrlReady = 0x0B

	lineStatusTxEmpty = 0x20

	// baseBaud is the UART clock divided by 16.
	baseBaud = 115200

	// DefaultBaud is the rate used by the kernel log port.
	DefaultBaud = 38400

	scratchPattern = 0xAE

	// txPollLimit bounds the wait for the transmit register so a stuck
	// port cannot hang the kernel log.
	txPollLimit = 1 << 16
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errInvalidBaud = &kernel.Error{Module: "serial", Message: "baud rate must divide 115200"}
)

// Port is a serial port driver. It implements io.Writer.
type Port struct {
	base uint16
	baud uint32
}

// NewPort returns a driver for the port at base.
func NewPort(base uint16, baud uint32) *Port {
	return &Port{base: base, baud: baud}
}

// DriverName returns the name of this driver.
func (p *Port) DriverName() string {
	return "serial"
}

// DriverVersion returns the version of this driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the line settings to baud 8N1 with FIFOs enabled.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	if p.baud == 0 || baseBaud%p.baud != 0 {
		return errInvalidBaud
	}
	divisor := uint16(baseBaud / p.baud)

	portWriteByteFn(p.base+regIntEnable, 0)
	portWriteByteFn(p.base+regLineCtrl, lineCtrlDLAB)
	portWriteByteFn(p.base+regDivisorLow, uint8(divisor))
	portWriteByteFn(p.base+regDivisorHigh, uint8(divisor>>8))
	portWriteByteFn(p.base+regLineCtrl, lineCtrl8N1)
	portWriteByteFn(p.base+regFIFOCtrl, fifoEnable)
	portWriteByteFn(p.base+regModemCtrl, modemCtrlReady)

	kfmt.Fprintf(w, "port 0x%x at %d baud\n", p.base, p.baud)
	return nil
}

// Write transmits p converting each \n to \r\n. It polls the line status
// register before each byte.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			p.writeByte('\r')
		}
		p.writeByte(b)
	}
	return len(data), nil
}

func (p *Port) writeByte(b byte) {
	for i := 0; i < txPollLimit; i++ {
		if portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty != 0 {
			break
		}
	}
	portWriteByteFn(p.base+regData, b)
}

// present checks for a UART at base using the scratch register.
func present(base uint16) bool {
	portWriteByteFn(base+regScratch, scratchPattern)
	return portReadByteFn(base+regScratch) == scratchPattern
}

func probeForCOM1() device.Driver {
	if !present(COM1) {
		return nil
	}
	return NewPort(COM1, DefaultBaud)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForCOM1,
	})
}
