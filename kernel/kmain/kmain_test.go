package kmain

import (
	"bytes"
	elfabi "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringzero/kernel"
	"ringzero/kernel/elf"
	"ringzero/kernel/gdt"
	"ringzero/kernel/hal"
	"ringzero/kernel/irq"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/syscall"
	"ringzero/kernel/tss"
	"ringzero/kernel/usermode"
	"ringzero/multiboot"
)

const (
	testRAMSize     = 32 * mm.Mb
	testInfoAddr    = 0x9000
	testKernelStart = 0x100000
	testKernelEnd   = 0x200000
	testModuleBase  = 0x400000
	testEntry       = 0x08048000
)

// buildProgram returns an ELF executable with a single segment at testEntry
// that holds payload followed by a page of bss.
func buildProgram(t *testing.T, payload []byte) []byte {
	t.Helper()

	hdr := elfabi.Header32{
		Type:      uint16(elfabi.ET_EXEC),
		Machine:   uint16(elfabi.EM_386),
		Version:   uint32(elfabi.EV_CURRENT),
		Entry:     testEntry,
		Phoff:     52,
		Ehsize:    52,
		Phentsize: 32,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elfabi.ELFMAG)
	hdr.Ident[elfabi.EI_CLASS] = byte(elfabi.ELFCLASS32)
	hdr.Ident[elfabi.EI_DATA] = byte(elfabi.ELFDATA2LSB)
	hdr.Ident[elfabi.EI_VERSION] = byte(elfabi.EV_CURRENT)

	prog := elfabi.Prog32{
		Type:   uint32(elfabi.PT_LOAD),
		Off:    52 + 32,
		Vaddr:  testEntry,
		Paddr:  testEntry,
		Filesz: uint32(len(payload)),
		Memsz:  uint32(len(payload)) + mm.PageSize,
		Flags:  uint32(elfabi.PF_R | elfabi.PF_X),
		Align:  mm.PageSize,
	}

	image, err := binary.Append(nil, binary.LittleEndian, &hdr)
	require.NoError(t, err)
	image, err = binary.Append(image, binary.LittleEndian, &prog)
	require.NoError(t, err)
	return append(image, payload...)
}

type machine struct {
	ram     *mm.SliceMemory
	builder multiboot.Builder
	modules [][]byte
}

func newMachine(cmdLine string) *machine {
	return &machine{
		ram: mm.NewSliceMemory(testRAMSize),
		builder: multiboot.Builder{
			Regions: []multiboot.MemoryMapEntry{
				{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
				{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
				{PhysAddress: 0x100000, Length: uint64(testRAMSize) - 0x100000, Type: multiboot.MemAvailable},
			},
			CmdLine:    cmdLine,
			LoaderName: "test loader",
		},
	}
}

func (m *machine) addModule(name string, image []byte) {
	start := uint32(testModuleBase)
	if n := len(m.builder.Modules); n != 0 {
		start = (m.builder.Modules[n-1].End + mm.PageSize - 1) &^ (mm.PageSize - 1)
	}

	copy(m.ram.Bytes()[start:], image)
	m.builder.Modules = append(m.builder.Modules, multiboot.Module{
		Start: start,
		End:   start + uint32(len(image)),
		Name:  name,
	})
}

func (m *machine) params() BootParams {
	copy(m.ram.Bytes()[testInfoAddr:], m.builder.Build(testInfoAddr))
	return BootParams{
		Magic:       multiboot.Magic,
		InfoAddr:    testInfoAddr,
		KernelStart: testKernelStart,
		KernelEnd:   testKernelEnd,
		Mem:         m.ram,
	}
}

func TestBoot(t *testing.T) {
	m := newMachine("kstack=8K heap.max=1M")
	m.addModule("init", buildProgram(t, []byte("hello\n")))

	var (
		console  bytes.Buffer
		irqCount int
	)
	params := m.params()
	params.Console = &console
	params.Keyboard = func(*irq.Registers) { irqCount++ }

	k, err := Boot(params)
	require.Nil(t, err)

	t.Run("config", func(t *testing.T) {
		assert.Equal(t, uint32(8*mm.Kb), k.Config.KernelStackSize)
		assert.Equal(t, uint32(1*mm.Mb), k.Config.HeapMaxSize)
		assert.Equal(t, "test loader", k.BootInfo.LoaderName())
	})

	t.Run("reserved frames", func(t *testing.T) {
		for _, addr := range []mm.PhysAddr{testInfoAddr, testKernelStart, testKernelEnd - mm.PageSize, testModuleBase} {
			assert.True(t, k.Frames.IsUsed(mm.FrameFromAddress(addr)), "frame at 0x%x", addr)
		}

		stats := k.Frames.Stats()
		assert.Equal(t, stats.Total, stats.Used+stats.Free)
		assert.NotZero(t, stats.Free)
	})

	t.Run("kernel stack", func(t *testing.T) {
		assert.Zero(t, k.KernelStackTop%kernelStackAlign)
		assert.Equal(t, uint32(k.KernelStack)+8*1024, k.KernelStackTop)
		assert.True(t, k.AddressSpace.IsMapped(k.KernelStack))
		assert.Equal(t, k.KernelStackTop, tss.KernelStack())
		assert.Equal(t, k.KernelStackTop, k.TSS.ESP0)
		assert.Equal(t, uint8(0x89), k.GDT.Entry(gdt.TSSSlot).Access)
	})

	t.Run("interrupt gates", func(t *testing.T) {
		for vector := 0; vector < 0x30; vector++ {
			assert.True(t, k.Interrupts.Gate(uint8(vector)).Present(), "vector %d", vector)
		}

		gate := k.Interrupts.Gate(irq.SyscallVector)
		assert.True(t, gate.Present())
		assert.Equal(t, uint8(3), gate.DPL())

		k.Interrupts.Dispatch(&irq.Registers{IntNo: irq.IRQBase + keyboardIRQ})
		assert.Equal(t, 1, irqCount)
	})

	t.Run("init program and syscalls", func(t *testing.T) {
		prog, err := k.LoadInit()
		require.Nil(t, err)
		assert.Equal(t, elf.Program{Entry: testEntry, StackTop: elf.UserStackTop, Segments: 1}, prog)

		regs := &irq.Registers{IntNo: irq.SyscallVector, EAX: syscall.SysWrite, EBX: 1, ECX: testEntry, EDX: 6}
		k.Interrupts.Dispatch(regs)
		assert.Equal(t, uint32(6), regs.EAX)
		assert.Equal(t, "hello\n", console.String())

		regs = &irq.Registers{IntNo: irq.SyscallVector, EAX: syscall.SysGetpid}
		k.Interrupts.Dispatch(regs)
		assert.Equal(t, uint32(1), regs.EAX)

		regs = &irq.Registers{IntNo: irq.SyscallVector, EAX: 254}
		k.Interrupts.Dispatch(regs)
		assert.Equal(t, uint32(0xffffffda), regs.EAX)
	})
}

func TestBootErrors(t *testing.T) {
	specs := []struct {
		descr   string
		cmdLine string
		setup   func(*machine, *BootParams)
		check   func(*testing.T, *kernel.Error)
	}{
		{
			descr: "bad magic",
			setup: func(_ *machine, p *BootParams) { p.Magic = 0xbadf00d },
			check: func(t *testing.T, err *kernel.Error) {
				assert.Equal(t, multiboot.CheckMagic(0), err)
			},
		},
		{
			descr: "no memory map",
			setup: func(m *machine, p *BootParams) {
				m.builder.NoMemMap = true
				*p = m.params()
			},
			check: func(t *testing.T, err *kernel.Error) {
				assert.Equal(t, "multiboot", err.Module)
			},
		},
		{
			descr:   "kernel stack does not fit in the heap",
			cmdLine: "heap.max=16K kstack=32K",
			check: func(t *testing.T, err *kernel.Error) {
				assert.Equal(t, errNoKernelStack, err)
			},
		},
		{
			descr:   "misaligned PIC offset",
			cmdLine: "pic.master=0x21",
			check: func(t *testing.T, err *kernel.Error) {
				assert.Equal(t, "irq", err.Module)
			},
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			m := newMachine(spec.cmdLine)
			params := m.params()
			if spec.setup != nil {
				spec.setup(m, &params)
			}

			k, err := Boot(params)
			require.NotNil(t, err)
			assert.Nil(t, k)
			spec.check(t, err)
		})
	}
}

func TestInitModuleSelection(t *testing.T) {
	image := buildProgram(t, []byte{0x90})

	specs := []struct {
		descr   string
		cmdLine string
		modules []string
		expName string
		expErr  *kernel.Error
	}{
		{"no modules", "", nil, "", errNoInitModule},
		{"first module by default", "", []string{"shell", "init"}, "shell", nil},
		{"named module", "init=init", []string{"shell", "init"}, "init", nil},
		{"missing module", "init=login", []string{"shell"}, "", errInitNotFound},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			m := newMachine(spec.cmdLine)
			for _, name := range spec.modules {
				m.addModule(name, image)
			}

			k, err := Boot(m.params())
			require.Nil(t, err)

			mod, err := k.InitModule()
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			assert.Equal(t, spec.expName, mod.Name)

			if spec.expErr != nil {
				_, err = k.LoadInit()
				assert.Equal(t, spec.expErr, err)
			}
		})
	}
}

func TestLoadProgramOverKernelStack(t *testing.T) {
	m := newMachine("")
	k, err := Boot(m.params())
	require.Nil(t, err)

	stackTop := k.KernelStackTop - 8
	require.Nil(t, k.AddressSpace.CopyToPage(mm.VirtAddr(stackTop), []byte("kstack..")))

	// relink the program so its only segment lands on the kernel stack.
	image := buildProgram(t, []byte("CLOBBER!"))
	binary.LittleEndian.PutUint32(image[24:], stackTop)
	binary.LittleEndian.PutUint32(image[52+8:], stackTop)

	if _, err = k.LoadProgram(image); err == nil || err.Module != "elf" {
		t.Fatalf("expected an elf error; got %v", err)
	}

	phys, err := k.AddressSpace.Translate(mm.VirtAddr(stackTop))
	require.Nil(t, err)
	assert.Equal(t, "kstack..", string(m.ram.Bytes()[phys:phys+8]))
}

func TestLoadInitErrors(t *testing.T) {
	m := newMachine("")
	m.addModule("garbage", []byte("not an elf file at all, just some bytes"))

	k, err := Boot(m.params())
	require.Nil(t, err)

	_, err = k.LoadInit()
	require.NotNil(t, err)
	assert.Equal(t, "elf", err.Module)
}

func TestKmain(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
		detectHardwareFn = hal.DetectHardware
		enableIRQFn = irq.Enable
		enterProgramFn = usermode.EnterProgram
		idleFn = idle
	}()

	var (
		detected bool
		panicErr interface{}
	)
	detectHardwareFn = func() { detected = true }
	panicFn = func(e interface{}) { panicErr = e }
	enableIRQFn = func() { t.Error("unexpected call to irq.Enable") }

	Kmain(0, 0, 0, 0)

	assert.True(t, detected)
	assert.Equal(t, multiboot.CheckMagic(0), panicErr)
}
