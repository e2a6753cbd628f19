package irq

import (
	"io"

	"ringzero/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs. The field order matches the layout pushed by
// the entry trampolines.
type Registers struct {
	GS uint32
	FS uint32
	ES uint32
	DS uint32

	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	// IntNo is the exception number for exceptions, SyscallVector for
	// syscalls or IRQBase+line for hardware interrupts.
	IntNo uint32

	// ErrCode is the error code pushed by the CPU or 0 for vectors
	// that do not push one.
	ErrCode uint32

	// The return frame used by IRETL. UserESP and SS are only valid when
	// the interrupt caused a privilege level change.
	EIP     uint32
	CS      uint32
	EFlags  uint32
	UserESP uint32
	SS      uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %8x ESP = %8x\n", r.EBP, r.ESP)
	kfmt.Fprintf(w, "DS  = %8x ES  = %8x\n", r.DS, r.ES)
	kfmt.Fprintf(w, "FS  = %8x GS  = %8x\n", r.FS, r.GS)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %8x SS  = %8x\n", r.UserESP, r.SS)
	kfmt.Fprintf(w, "EFL = %8x\n", r.EFlags)
}
