// Package kmain brings up the kernel: it parses the boot information, sets
// up physical and virtual memory, the descriptor tables, the interrupt and
// syscall dispatchers and finally starts the init program in ring 3.
package kmain

import (
	"io"

	"ringzero/kernel"
	"ringzero/kernel/cpu"
	"ringzero/kernel/elf"
	"ringzero/kernel/gdt"
	"ringzero/kernel/hal"
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/kheap"
	"ringzero/kernel/mm/pmm"
	"ringzero/kernel/mm/vmm"
	"ringzero/kernel/syscall"
	"ringzero/kernel/tss"
	"ringzero/kernel/usermode"
	"ringzero/multiboot"
)

// kernelStackAlign is the alignment of the ring-0 stack used on privilege
// transitions.
const kernelStackAlign = 16

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	panicFn          = kfmt.Panic
	detectHardwareFn = hal.DetectHardware
	enableIRQFn      = irq.Enable
	enterProgramFn   = usermode.EnterProgram
	cpuFeaturesFn    = cpu.Features
	waitFn           = cpu.WaitForInterrupt
	idleFn           = idle

	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoInitModule   = &kernel.Error{Module: "kmain", Message: "no init module was loaded by the boot loader"}
	errInitNotFound   = &kernel.Error{Module: "kmain", Message: "requested init module not found"}
	errReadModule     = &kernel.Error{Module: "kmain", Message: "unable to read init module"}
	errNoKernelStack  = &kernel.Error{Module: "kmain", Message: "unable to allocate the kernel stack"}
	errBadModuleRange = &kernel.Error{Module: "kmain", Message: "init module has an empty address range"}
)

// BootParams describes the environment the kernel boots in. The hardware
// entry point fills it from the boot loader registers; hosted tools fill it
// with a simulated machine.
type BootParams struct {
	Magic    uint32
	InfoAddr uint32

	// KernelStart and KernelEnd delimit the physical extent of the kernel
	// image.
	KernelStart, KernelEnd mm.PhysAddr

	// Mem provides access to physical memory. When it is an
	// *mm.IdentityMemory its limit and temporary mapper are updated once
	// paging is enabled.
	Mem mm.PhysMemory

	// Collaborators handed to the syscall layer. Any of them may be nil.
	Console io.Writer
	Log     io.Writer
	Display syscall.Clearer
	Input   syscall.Input
	Files   syscall.Files

	// Keyboard is attached to IRQ1 when set.
	Keyboard irq.IRQHandler
}

// Kernel is the context object that owns every kernel subsystem.
type Kernel struct {
	Config   Config
	BootInfo *multiboot.BootInfo

	Frames       *pmm.BitmapAllocator
	AddressSpace *vmm.AddressSpace
	Heap         *kheap.Heap
	Interrupts   *irq.Dispatcher
	Syscalls     *syscall.Table
	Services     *syscall.Kernel
	GDT          *gdt.Table
	TSS          *tss.TSS

	// KernelStack is the lowest address of the ring-0 stack.
	KernelStack    mm.VirtAddr
	KernelStackTop uint32

	mem mm.PhysMemory
}

// Boot runs the portable part of the boot sequence: everything from boot
// information parsing up to the TSS installation. Interrupts are left
// disabled.
func Boot(params BootParams) (*Kernel, *kernel.Error) {
	if err := multiboot.CheckMagic(params.Magic); err != nil {
		return nil, err
	}

	bootInfo, err := multiboot.Parse(mm.PhysReader{Mem: params.Mem}, params.InfoAddr)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		Config:   ConfigFromCmdLine(bootInfo.CmdLineKV()),
		BootInfo: bootInfo,
		GDT:      &gdt.Table{},
		mem:      params.Mem,
	}

	if name := bootInfo.LoaderName(); name != "" {
		kfmt.Logf("[kmain] booted by %s\n", name)
	}
	k.logCPUFeatures()

	if err = k.initMemory(params); err != nil {
		return nil, err
	}

	k.GDT.Init()
	k.GDT.Load()

	if err = k.initInterrupts(params.Keyboard); err != nil {
		return nil, err
	}

	k.initSyscalls(params)

	if err = k.initKernelStack(); err != nil {
		return nil, err
	}

	return k, nil
}

func (k *Kernel) logCPUFeatures() {
	kfmt.Logf("[kmain] cpu features:")
	for _, name := range cpuFeaturesFn() {
		kfmt.Logf(" %s", name)
	}
	kfmt.Logf("\n")
}

func (k *Kernel) initMemory(params BootParams) *kernel.Error {
	cfg := k.Config

	k.Frames = pmm.New(cfg.MaxPhysMem)
	k.Frames.SetDebugChecks(cfg.DebugChecks)

	reserved := append([]mm.Range{{Start: params.KernelStart, End: params.KernelEnd}}, k.BootInfo.ReservedRanges()...)
	if err := k.Frames.Init(k.BootInfo, reserved...); err != nil {
		return err
	}

	k.AddressSpace = vmm.New(k.Frames, params.Mem, cfg.IdentityMapLimit)
	if err := k.AddressSpace.Init(); err != nil {
		return err
	}

	if identity, ok := params.Mem.(*mm.IdentityMemory); ok {
		identity.Limit = k.AddressSpace.IdentityLimit()
		identity.SetTemporaryMapper(k.AddressSpace.MapTemporary)
	}

	k.Heap = kheap.New(k.AddressSpace)
	return k.Heap.Init(cfg.HeapStart, cfg.HeapMaxSize)
}

func (k *Kernel) initInterrupts(keyboard irq.IRQHandler) *kernel.Error {
	k.Interrupts = irq.NewDispatcher()
	k.Interrupts.IDTInit()
	k.Interrupts.ISRInstall()
	if err := k.Interrupts.IRQInstall(k.Config.PICMasterOffset, k.Config.PICSlaveOffset); err != nil {
		return err
	}

	vmm.InstallFaultHandlers(k.Interrupts)

	if keyboard != nil {
		if err := k.Interrupts.RegisterIRQHandler(keyboardIRQ, keyboard); err != nil {
			return err
		}
		return k.Interrupts.PIC().ClearMask(keyboardIRQ)
	}
	return nil
}

// keyboardIRQ is the PIC line of the PS/2 controller.
const keyboardIRQ = 1

func (k *Kernel) initSyscalls(params BootParams) {
	k.Services = &syscall.Kernel{
		Console: params.Console,
		Log:     params.Log,
		Display: params.Display,
		Input:   params.Input,
		Files:   params.Files,
		Memory:  k.AddressSpace,
	}

	k.Syscalls = &syscall.Table{}
	k.Services.RegisterAll(k.Syscalls)
	k.Interrupts.SyscallInstall(k.Syscalls.Dispatch)
}

func (k *Kernel) initKernelStack() *kernel.Error {
	stack, err := k.Heap.AllocAligned(k.Config.KernelStackSize, kernelStackAlign)
	if err != nil {
		kfmt.Logf("[kmain] %s\n", err.Message)
		return errNoKernelStack
	}

	k.KernelStack = stack
	k.KernelStackTop = uint32(stack) + k.Config.KernelStackSize
	if err = tss.Install(k.GDT, k.KernelStackTop); err != nil {
		return err
	}

	k.TSS = tss.Active()
	return nil
}

// InitModule returns the boot module selected by the init command line key
// or the first module when no key was given.
func (k *Kernel) InitModule() (multiboot.Module, *kernel.Error) {
	mods := k.BootInfo.Modules()
	if len(mods) == 0 {
		return multiboot.Module{}, errNoInitModule
	}

	if k.Config.InitModule == "" {
		return mods[0], nil
	}

	for _, mod := range mods {
		if mod.Name == k.Config.InitModule {
			return mod, nil
		}
	}
	return multiboot.Module{}, errInitNotFound
}

// LoadInit loads the init module into the kernel address space.
func (k *Kernel) LoadInit() (elf.Program, *kernel.Error) {
	mod, err := k.InitModule()
	if err != nil {
		return elf.Program{}, err
	}

	if mod.End <= mod.Start {
		return elf.Program{}, errBadModuleRange
	}

	image := make([]byte, mod.End-mod.Start)
	if _, rerr := (mm.PhysReader{Mem: k.mem}).ReadAt(image, int64(mod.Start)); rerr != nil {
		return elf.Program{}, errReadModule
	}

	kfmt.Logf("[kmain] loading init module %s (%d bytes)\n", mod.Name, len(image))
	return k.LoadProgram(image)
}

// LoadProgram maps the ELF executable in image into the kernel address space.
func (k *Kernel) LoadProgram(image []byte) (elf.Program, *kernel.Error) {
	return elf.Load(image, k.AddressSpace)
}

// Kmain is invoked by the rt0 code after it has set up a stack. The
// arguments are the boot loader magic value, the physical address of the
// multiboot info structure and the physical extent of the kernel image.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(magic, infoAddr, kernelStart, kernelEnd uintptr) {
	detectHardwareFn()
	kfmt.Printf("ringzero kernel starting\n")

	params := BootParams{
		Magic:       uint32(magic),
		InfoAddr:    uint32(infoAddr),
		KernelStart: mm.PhysAddr(kernelStart),
		KernelEnd:   mm.PhysAddr(kernelEnd),

		// Paging is still disabled; every physical address is reachable.
		Mem:     &mm.IdentityMemory{Limit: ^mm.PhysAddr(0)},
		Console: kfmt.GetOutputSink(),
	}

	if cons := hal.ActiveConsole(); cons != nil {
		params.Display = cons
	}
	if port := hal.ActiveLog(); port != nil {
		params.Log = port
	}
	if kb := hal.ActiveKeyboard(); kb != nil {
		params.Input = kb
		params.Keyboard = kb.HandleIRQ
	}

	k, err := Boot(params)
	if err != nil {
		panicFn(err)
		return
	}

	enableIRQFn()

	prog, err := k.LoadInit()
	if err != nil {
		kfmt.Printf("[kmain] %s; idling\n", err.Message)
		idleFn()
		return
	}

	if err = enterProgramFn(k.AddressSpace, prog); err == nil {
		err = errKmainReturned
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	panicFn(err)
}

// idle waits for interrupts forever.
func idle() {
	for {
		waitFn()
	}
}
