package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is set.
func InterruptsEnabled() bool

// Halt disables interrupts and stops instruction execution. It never returns.
func Halt()

// WaitForInterrupt enables interrupts and idles the CPU until the next
// interrupt arrives.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB flushes all non-global TLB entries by reloading CR3.
func FlushTLB()

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// EnablePaging sets the PG bit in CR0.
func EnablePaging()

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint32

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// LoadIDT loads the IDT descriptor stored at descAddr.
func LoadIDT(descAddr uintptr)

// LoadGDT loads the GDT descriptor stored at descAddr and reloads the code
// and data segment registers using the kernel selectors.
func LoadGDT(descAddr uintptr)

// LoadTaskRegister loads the task register with the given TSS selector.
func LoadTaskRegister(selector uint16)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16)

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(port uint16) uint32
