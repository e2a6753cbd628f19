// Package syscall implements the INT 0x80 system call table and the
// handlers exposed to user programs.
//
// The syscall number is passed in EAX and up to six arguments in EBX, ECX,
// EDX, ESI, EDI and EBP. The result, or a negated Errno, is returned in EAX.
package syscall

import (
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
)

// Syscall numbers.
const (
	SysExit         = 1
	SysFork         = 2
	SysRead         = 3
	SysWrite        = 4
	SysOpen         = 5
	SysClose        = 6
	SysExecve       = 11
	SysGetpid       = 20
	SysAlarm        = 27
	SysBrk          = 45
	SysClearDisplay = 200

	// NumSyscalls is the size of the syscall table.
	NumSyscalls = 256
)

// Args holds the raw syscall arguments in register order.
type Args [6]uint32

// Handler implements a syscall. Negative results are negated Errno values.
type Handler func(Args) int32

// Table maps syscall numbers to handlers.
type Table struct {
	handlers [NumSyscalls]Handler
}

// Register installs handler for the syscall num replacing any previous
// handler. Numbers outside the table are ignored.
func (t *Table) Register(num uint32, handler Handler) {
	if num < NumSyscalls {
		t.handlers[num] = handler
	}
}

// Registered returns true if a handler is installed for num.
func (t *Table) Registered(num uint32) bool {
	return num < NumSyscalls && t.handlers[num] != nil
}

// Call invokes the handler for num.
func (t *Table) Call(num uint32, args Args) int32 {
	if !t.Registered(num) {
		kfmt.Logf("[sys] unknown syscall %d\n", num)
		return ENOSYS.Ret()
	}
	return t.handlers[num](args)
}

// Dispatch serves a syscall trap using the saved user registers and stores
// the result in EAX.
func (t *Table) Dispatch(regs *irq.Registers) {
	args := Args{regs.EBX, regs.ECX, regs.EDX, regs.ESI, regs.EDI, regs.EBP}
	regs.EAX = uint32(t.Call(regs.EAX, args))
}
