//go:build !386

package cpu

// On non-386 builds the kernel packages run hosted (tests and the kernsim
// tool). Instructions that only make sense in ring 0 are no-ops and the
// state they would touch is kept in the variables below.

var (
	interruptsEnabled bool
	activePDT         uintptr
)

// HaltedError is the value passed to panic by Halt on hosted builds so that
// hosted callers can recover and report that the machine has stopped.
type HaltedError struct{}

func (HaltedError) Error() string { return "cpu halted" }

// EnableInterrupts enables interrupt handling.
func EnableInterrupts() { interruptsEnabled = true }

// DisableInterrupts disables interrupt handling.
func DisableInterrupts() { interruptsEnabled = false }

// InterruptsEnabled returns true if the IF flag is set.
func InterruptsEnabled() bool { return interruptsEnabled }

// Halt stops instruction execution. Hosted builds panic with HaltedError.
func Halt() { panic(HaltedError{}) }

// WaitForInterrupt enables interrupts and idles until the next interrupt.
func WaitForInterrupt() { interruptsEnabled = true }

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(uintptr) {}

// FlushTLB flushes all non-global TLB entries.
func FlushTLB() {}

// SwitchPDT sets the root page table directory to point to the specified
// physical address.
func SwitchPDT(pdtPhysAddr uintptr) { activePDT = pdtPhysAddr }

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr { return activePDT }

// EnablePaging sets the PG bit in CR0.
func EnablePaging() {}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint32 { return 0 }

// ID returns information about the CPU and its features.
func ID(uint32) (uint32, uint32, uint32, uint32) { return 0, 0, 0, 0 }

// LoadIDT loads the IDT descriptor stored at descAddr.
func LoadIDT(uintptr) {}

// LoadGDT loads the GDT descriptor stored at descAddr.
func LoadGDT(uintptr) {}

// LoadTaskRegister loads the task register with the given TSS selector.
func LoadTaskRegister(uint16) {}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(uint16, uint8) {}

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(uint16, uint16) {}

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(uint16, uint32) {}

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(uint16) uint8 { return 0 }

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(uint16) uint16 { return 0 }

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(uint16) uint32 { return 0 }
