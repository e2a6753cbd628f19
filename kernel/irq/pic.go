package irq

import (
	"ringzero/kernel"
	"ringzero/kernel/cpu"
)

const (
	picMasterCmd  = 0x20
	picMasterData = 0x21
	picSlaveCmd   = 0xA0
	picSlaveData  = 0xA1

	// ioWaitPort is an unused port; writing to it gives the PICs time
	// to process the previous command.
	ioWaitPort = 0x80

	icw1Init  = 0x11 // init + ICW4 needed
	icw4_8086 = 0x01
	picEOI    = 0x20

	// slaveLine is the master line that the slave PIC is cascaded to.
	slaveLine = 2
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errMisalignedOffset = &kernel.Error{Module: "irq", Message: "PIC vector offsets must be multiples of 8"}
	errOffsetCollision  = &kernel.Error{Module: "irq", Message: "PIC vector range collides with reserved vectors"}
	errInvalidIRQ       = &kernel.Error{Module: "irq", Message: "invalid IRQ line"}
)

// PIC drives the pair of cascaded 8259 programmable interrupt controllers.
type PIC struct {
	masterOffset uint8
	slaveOffset  uint8
	remapped     bool
}

func ioWait() {
	portWriteByteFn(ioWaitPort, 0)
}

// rangesOverlap reports whether the 8-vector ranges starting at a and b
// share any vector.
func rangesOverlap(a, b uint8) bool {
	return int(a) < int(b)+8 && int(b) < int(a)+8
}

// Remap reprograms both controllers so that IRQ lines 0-7 raise vectors
// master+0..7 and lines 8-15 raise vectors slave+0..7. The interrupt masks
// in effect before the call are preserved.
func (p *PIC) Remap(master, slave uint8) *kernel.Error {
	if master%8 != 0 || slave%8 != 0 {
		return errMisalignedOffset
	}

	if master < NumExceptions || slave < NumExceptions || rangesOverlap(master, slave) ||
		rangesOverlap(master, SyscallVector) || rangesOverlap(slave, SyscallVector) {
		return errOffsetCollision
	}

	masterMask := portReadByteFn(picMasterData)
	slaveMask := portReadByteFn(picSlaveData)

	// ICW1: begin initialization sequence
	portWriteByteFn(picMasterCmd, icw1Init)
	ioWait()
	portWriteByteFn(picSlaveCmd, icw1Init)
	ioWait()

	// ICW2: vector offsets
	portWriteByteFn(picMasterData, master)
	ioWait()
	portWriteByteFn(picSlaveData, slave)
	ioWait()

	// ICW3: master has a slave at line 2; slave cascade identity is 2
	portWriteByteFn(picMasterData, 1<<slaveLine)
	ioWait()
	portWriteByteFn(picSlaveData, slaveLine)
	ioWait()

	// ICW4: 8086 mode
	portWriteByteFn(picMasterData, icw4_8086)
	ioWait()
	portWriteByteFn(picSlaveData, icw4_8086)
	ioWait()

	portWriteByteFn(picMasterData, masterMask)
	portWriteByteFn(picSlaveData, slaveMask)

	p.masterOffset, p.slaveOffset, p.remapped = master, slave, true
	return nil
}

// Offsets returns the vector offsets programmed by Remap.
func (p *PIC) Offsets() (master, slave uint8) {
	return p.masterOffset, p.slaveOffset
}

// SendEOI acknowledges an interrupt on line. Lines served by the slave
// controller need an EOI on both controllers.
func (p *PIC) SendEOI(line uint8) {
	if line >= 8 {
		portWriteByteFn(picSlaveCmd, picEOI)
	}
	portWriteByteFn(picMasterCmd, picEOI)
}

func maskPort(line uint8) (uint16, uint8) {
	if line < 8 {
		return picMasterData, line
	}
	return picSlaveData, line - 8
}

// SetMask stops the controller from raising interrupts for line.
func (p *PIC) SetMask(line uint8) *kernel.Error {
	if line >= NumIRQLines {
		return errInvalidIRQ
	}

	port, bit := maskPort(line)
	portWriteByteFn(port, portReadByteFn(port)|1<<bit)
	return nil
}

// ClearMask allows the controller to raise interrupts for line.
func (p *PIC) ClearMask(line uint8) *kernel.Error {
	if line >= NumIRQLines {
		return errInvalidIRQ
	}

	port, bit := maskPort(line)
	portWriteByteFn(port, portReadByteFn(port)&^(1<<bit))
	return nil
}

// Disable masks all lines on both controllers.
func (p *PIC) Disable() {
	portWriteByteFn(picMasterData, 0xff)
	portWriteByteFn(picSlaveData, 0xff)
}
