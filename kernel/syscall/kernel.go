package syscall

import (
	"errors"
	"io"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

//go:generate mockgen -destination mock_collaborators_test.go -package syscall -write_package_comment=false ringzero/kernel/syscall Files,Input

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	haltFn = cpu.Halt
	waitFn = cpu.WaitForInterrupt
)

// Clearer is implemented by displays that can be blanked.
type Clearer interface {
	Clear()
}

// Input is a non-blocking source of keyboard bytes.
type Input interface {
	PopByte() (byte, bool)
}

// Files is the file layer behind the open, read, write and close syscalls
// for descriptors above 2. Returned errors of type Errno are passed to user
// space unchanged.
type Files interface {
	Open(path string, flags int) (int, error)
	Read(fd int, buf []byte) (int, error)
	Write(fd int, buf []byte) (int, error)
	Close(fd int) error
}

// UserMemory provides checked access to the calling program's address space.
type UserMemory interface {
	CopyFromUser(virt mm.VirtAddr, dst []byte) *kernel.Error
	CopyToUser(virt mm.VirtAddr, src []byte) *kernel.Error
	ReadUserString(virt mm.VirtAddr, maxLen uint32) (string, *kernel.Error)
	IsMapped(virt mm.VirtAddr) bool
	AllocPage(page mm.Page, flags vmm.PageTableEntryFlag) (mm.Frame, *kernel.Error)
	FreePage(page mm.Page) *kernel.Error
	FlushTLB()
}

// Kernel holds the services that syscall handlers operate on. Nil
// collaborators make the matching syscalls fail with an Errno.
type Kernel struct {
	Console io.Writer
	Log     io.Writer
	Display Clearer
	Input   Input
	Files   Files
	Memory  UserMemory
	Break   *BreakState
}

// RegisterAll installs the handlers for every syscall the kernel supports.
func (k *Kernel) RegisterAll(t *Table) {
	if k.Break == nil {
		k.Break = NewBreakState(DefaultBreakBase)
	}

	t.Register(SysExit, k.sysExit)
	t.Register(SysFork, k.sysFork)
	t.Register(SysRead, k.sysRead)
	t.Register(SysWrite, k.sysWrite)
	t.Register(SysOpen, k.sysOpen)
	t.Register(SysClose, k.sysClose)
	t.Register(SysExecve, k.sysExecve)
	t.Register(SysGetpid, k.sysGetpid)
	t.Register(SysAlarm, k.sysAlarm)
	t.Register(SysBrk, k.sysBrk)
	t.Register(SysClearDisplay, k.sysClearDisplay)
}

// errnoOf extracts the Errno carried by err or returns fallback.
func errnoOf(err error, fallback Errno) Errno {
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	return fallback
}
