// Package usermode transfers control to ring 3.
package usermode

import (
	"ringzero/kernel"
	"ringzero/kernel/elf"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

var (
	// jumpFn is mocked by tests and is automatically inlined by the compiler.
	jumpFn = jumpToUserMode

	errEntryNotUser = &kernel.Error{Module: "usermode", Message: "entry point is not mapped in user space"}
	errStackNotUser = &kernel.Error{Module: "usermode", Message: "stack is not mapped writable in user space"}
)

// PageInspector reports the mapping of virtual addresses.
type PageInspector interface {
	Lookup(virt mm.VirtAddr) (mm.Frame, vmm.PageTableEntryFlag, bool)
}

func mappedWith(as PageInspector, virt mm.VirtAddr, required vmm.PageTableEntryFlag) bool {
	_, flags, ok := as.Lookup(virt)
	return ok && flags&required == required
}

// Enter switches to ring 3 and starts executing at entry with the stack
// pointer set to stack. The entry page must be user accessible and the page
// below stack must be user writable. On success Enter does not return when
// running on hardware.
func Enter(as PageInspector, entry, stack uint32) *kernel.Error {
	if !mappedWith(as, mm.VirtAddr(entry), vmm.FlagPresent|vmm.FlagUserAccessible) {
		return errEntryNotUser
	}
	if stack == 0 || !mappedWith(as, mm.VirtAddr(stack-1), vmm.FlagPresent|vmm.FlagUserAccessible|vmm.FlagRW) {
		return errStackNotUser
	}

	kfmt.Logf("[usermode] entering ring 3; eip: 0x%8x, esp: 0x%8x\n", entry, stack)
	jumpFn(entry, stack)
	return nil
}

// EnterProgram starts a program returned by the ELF loader.
func EnterProgram(as PageInspector, prog elf.Program) *kernel.Error {
	return Enter(as, prog.Entry, prog.StackTop)
}
