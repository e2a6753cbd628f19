// Package keyboard implements a PS/2 keyboard driver that translates scan
// code set 1 using the US layout.
package keyboard

import (
	"io"

	"ringzero/device"
	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/sync"
)

const (
	dataPort   = 0x60
	statusPort = 0x64

	statusOutputFull = 0x01

	// IRQLine is the PIC line raised by the keyboard controller.
	IRQLine = 1

	// BufferSize is the size of the typed character ring.
	BufferSize = 128

	scanRelease  = 0x80
	scanExtended = 0xE0
	scanLShift   = 0x2A
	scanRShift   = 0x36
	scanLCtrl    = 0x1D
	scanLAlt     = 0x38
	scanCapsLock = 0x3A

	// drainLimit bounds the number of stale bytes discarded by DriverInit.
	drainLimit = 16
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portReadByteFn = cpu.PortReadByte

	keymap = [128]byte{
		0, 27, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b', '\t',
		'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n', 0, 'a', 's',
		'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0, '\\', 'z', 'x', 'c', 'v',
		'b', 'n', 'm', ',', '.', '/', 0, '*', 0, ' ',
	}

	shiftKeymap = [128]byte{
		0, 27, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b', '\t',
		'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n', 0, 'A', 'S',
		'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~', 0, '|', 'Z', 'X', 'C', 'V',
		'B', 'N', 'M', '<', '>', '?', 0, '*', 0, ' ',
	}
)

// Keyboard is the PS/2 keyboard driver. The IRQ handler is the producer of
// the character ring and PopByte the consumer.
type Keyboard struct {
	buf *sync.ByteRing

	// Echo receives every translated character when set.
	Echo io.Writer

	shift    bool
	ctrl     bool
	alt      bool
	capsLock bool
	extended bool
	dropped  uint32
}

// New returns a keyboard driver with an empty character ring.
func New() *Keyboard {
	return &Keyboard{buf: sync.NewByteRing(BufferSize)}
}

// HandleIRQ reads a scan code from the controller and queues the resulting
// character.
func (kb *Keyboard) HandleIRQ(_ *irq.Registers) {
	kb.handleScanCode(portReadByteFn(dataPort))
}

func (kb *Keyboard) handleScanCode(code uint8) {
	if code == scanExtended {
		kb.extended = true
		return
	}

	// Extended keys (arrows, right ctrl/alt) are not translated.
	if kb.extended {
		kb.extended = false
		return
	}

	if code&scanRelease != 0 {
		switch code &^ scanRelease {
		case scanLShift, scanRShift:
			kb.shift = false
		case scanLCtrl:
			kb.ctrl = false
		case scanLAlt:
			kb.alt = false
		}
		return
	}

	switch code {
	case scanLShift, scanRShift:
		kb.shift = true
		return
	case scanLCtrl:
		kb.ctrl = true
		return
	case scanLAlt:
		kb.alt = true
		return
	case scanCapsLock:
		kb.capsLock = !kb.capsLock
		return
	}

	ch := kb.translate(code)
	if ch == 0 {
		return
	}

	if !kb.buf.Push(ch) {
		kb.dropped++
	}
	if kb.Echo != nil {
		kfmt.Fprintf(kb.Echo, "%c", ch)
	}
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// translate maps a make code to ASCII. Caps lock inverts the case of
// letters selected by shift.
func (kb *Keyboard) translate(code uint8) byte {
	ch := keymap[code&0x7f]
	if kb.shift {
		ch = shiftKeymap[code&0x7f]
	}

	if kb.capsLock && isLetter(ch) {
		ch ^= 0x20
	}
	return ch
}

// PopByte returns the next typed character without blocking.
func (kb *Keyboard) PopByte() (byte, bool) {
	return kb.buf.Pop()
}

// Buffered returns the number of characters waiting to be read.
func (kb *Keyboard) Buffered() int {
	return kb.buf.Len()
}

// Dropped returns the number of characters lost because the ring was full.
func (kb *Keyboard) Dropped() uint32 {
	return kb.dropped
}

// DriverName returns the name of this driver.
func (kb *Keyboard) DriverName() string {
	return "ps2_keyboard"
}

// DriverVersion returns the version of this driver.
func (kb *Keyboard) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit discards any bytes left in the controller output buffer.
func (kb *Keyboard) DriverInit(w io.Writer) *kernel.Error {
	var drained int
	for ; drained < drainLimit && portReadByteFn(statusPort)&statusOutputFull != 0; drained++ {
		portReadByteFn(dataPort)
	}

	kfmt.Fprintf(w, "US layout, %d byte buffer on IRQ%d\n", BufferSize, IRQLine)
	return nil
}

func probeForKeyboard() device.Driver {
	return New()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderLast,
		Probe: probeForKeyboard,
	})
}
