package main

import (
	"bytes"
	elfabi "debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringzero/kernel/mm"
	"ringzero/multiboot"
)

const testMachine = `
ram = "32M"
cmdline = "kstack=8K heap.max=1M"
loader = "test"

[kernel]
start = 0x100000
end = 0x180000

[[region]]
base = 0
length = 0x9fc00
type = "available"

[[region]]
base = 0x100000
length = 0x1f00000
type = "available"

[[region]]
base = 0x9fc00
length = 0x400
type = "reserved"
`

func buildELF(t *testing.T, entry uint32, payload []byte) []byte {
	t.Helper()

	hdr := elfabi.Header32{
		Type:      uint16(elfabi.ET_EXEC),
		Machine:   uint16(elfabi.EM_386),
		Version:   uint32(elfabi.EV_CURRENT),
		Entry:     entry,
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
		Vaddr:  entry,
		Paddr:  entry,
		Filesz: uint32(len(payload)),
		Memsz:  uint32(len(payload)) + 0x100,
		Flags:  uint32(elfabi.PF_R | elfabi.PF_X),
		Align:  mm.PageSize,
	}

	image, err := binary.Append(nil, binary.LittleEndian, &hdr)
	require.NoError(t, err)
	image, err = binary.Append(image, binary.LittleEndian, &prog)
	require.NoError(t, err)
	return append(image, payload...)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDecodeMachine(t *testing.T) {
	m, err := decodeMachine(testMachine)
	require.NoError(t, err)

	exp := &Machine{
		RAM:     "32M",
		CmdLine: "kstack=8K heap.max=1M",
		Loader:  "test",
		Kernel:  KernelImage{Start: 0x100000, End: 0x180000},
		Regions: []Region{
			{Base: 0, Length: 0x9fc00, Type: "available"},
			{Base: 0x100000, Length: 0x1f00000, Type: "available"},
			{Base: 0x9fc00, Length: 0x400, Type: "reserved"},
		},
	}
	if diff := cmp.Diff(exp, m, cmpopts.IgnoreUnexported(Machine{})); diff != "" {
		t.Fatalf("machine mismatch (-want +got):\n%s", diff)
	}

	t.Run("defaults", func(t *testing.T) {
		m, err := decodeMachine("")
		require.NoError(t, err)
		assert.Equal(t, defaultRAM, m.RAM)
		assert.Equal(t, defaultLoader, m.Loader)
		assert.Equal(t, KernelImage{Start: defaultKernelStart, End: defaultKernelEnd}, m.Kernel)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := decodeMachine("ram = \"32M\"\nrma = \"64M\"\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rma")
	})

	t.Run("top-level key after a table", func(t *testing.T) {
		_, err := decodeMachine(testMachine + "init = \"init.elf\"\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "region.init")
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := decodeMachine("ram = ")
		assert.Error(t, err)
	})
}

func TestMemoryMap(t *testing.T) {
	m, err := decodeMachine(testMachine)
	require.NoError(t, err)

	entries, err := m.memoryMap(32 * mm.Mb)
	require.NoError(t, err)
	exp := []multiboot.MemoryMapEntry{
		{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
		{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
		{PhysAddress: 0x100000, Length: 0x1f00000, Type: multiboot.MemAvailable},
	}
	if diff := cmp.Diff(exp, entries); diff != "" {
		t.Fatalf("memory map mismatch (-want +got):\n%s", diff)
	}

	t.Run("derived", func(t *testing.T) {
		entries, err := (&Machine{}).memoryMap(8 * mm.Mb)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, uint64(7*mm.Mb), entries[2].Length)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := (&Machine{Regions: []Region{{Base: 0, Length: 10, Type: "rom"}}}).memoryMap(8 * mm.Mb)
		assert.Error(t, err)

		_, err = (&Machine{Regions: []Region{{Base: 0, Type: "available"}}}).memoryMap(8 * mm.Mb)
		assert.Error(t, err)
	})
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	initImage := buildELF(t, 0x08048000, []byte{0xeb, 0xfe})
	writeFile(t, dir, "init.elf", initImage)
	path := writeFile(t, dir, "machine.toml", []byte("init = \"init.elf\"\n"+testMachine))

	m, err := loadMachine(path)
	require.NoError(t, err)

	sim, err := m.build()
	require.NoError(t, err)
	assert.Equal(t, mm.Size(32*mm.Mb), sim.ram.Size())

	require.Len(t, sim.modules, 1)
	mod := sim.modules[0]
	assert.Equal(t, multiboot.Module{Start: 0x180000, End: 0x180000 + uint32(len(initImage)), Name: "init"}, mod)
	assert.Equal(t, initImage, sim.ram.Bytes()[mod.Start:mod.End])

	bootInfo, kerr := multiboot.Parse(mm.PhysReader{Mem: sim.ram}, infoAddr)
	require.Nil(t, kerr)
	assert.Equal(t, "kstack=8K heap.max=1M", bootInfo.CmdLine())
	assert.Equal(t, "test", bootInfo.LoaderName())
	assert.Equal(t, sim.modules, bootInfo.Modules())

	t.Run("errors", func(t *testing.T) {
		specs := []struct {
			descr string
			m     Machine
		}{
			{"ram too small", Machine{RAM: "1M"}},
			{"bad ram", Machine{RAM: "lots"}},
			{"kernel outside ram", Machine{RAM: "4M", Kernel: KernelImage{Start: 0x100000, End: 0x800000}}},
			{"missing init", Machine{RAM: "4M", Kernel: KernelImage{Start: 0x100000, End: 0x200000}, Init: filepath.Join(dir, "missing.elf")}},
		}

		for _, spec := range specs {
			t.Run(spec.descr, func(t *testing.T) {
				_, err := spec.m.build()
				assert.Error(t, err)
			})
		}
	})
}

func TestKfmtWriter(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	w := newKfmtWriter(logger, "log", logrus.DebugLevel)
	_, _ = w.Write([]byte("[pmm] free "))
	_, _ = w.Write([]byte("frames: 42\r\n\nplain line\n[partial"))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "free frames: 42", entries[0].Message)
	assert.Equal(t, "pmm", entries[0].Data["module"])
	assert.Equal(t, "log", entries[0].Data["sink"])
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "plain line", entries[1].Message)
	assert.NotContains(t, entries[1].Data, "module")

	w.Flush()
	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "[partial", hook.LastEntry().Message)
}

func TestSplitModule(t *testing.T) {
	specs := []struct {
		line      string
		expModule string
		expMsg    string
		expOK     bool
	}{
		{"[vmm] paging enabled", "vmm", "paging enabled", true},
		{"[hal]   serial(0.1.0): ok", "hal", "serial(0.1.0): ok", true},
		{"[] empty", "", "", false},
		{"no module", "", "", false},
		{"[unterminated", "", "", false},
	}

	for _, spec := range specs {
		module, msg, ok := splitModule(spec.line)
		if module != spec.expModule || msg != spec.expMsg || ok != spec.expOK {
			t.Errorf("splitModule(%q): expected (%q, %q, %t); got (%q, %q, %t)", spec.line, spec.expModule, spec.expMsg, spec.expOK, module, msg, ok)
		}
	}
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	machinePath := writeFile(t, dir, "machine.toml", []byte(testMachine))
	progPath := writeFile(t, dir, "prog.elf", buildELF(t, 0x08048000, []byte("ok")))

	t.Run("boot", func(t *testing.T) {
		out, logs, err := runCmd(t, "boot", "--machine", machinePath, "--log-level", "debug")
		require.NoError(t, err)
		assert.Contains(t, out, "pmm:")
		assert.Contains(t, out, "49 gates present, PIC at 0x20/0x28, syscall gate DPL 3")
		assert.Contains(t, out, "heap:  0x10000000-")
		assert.Contains(t, logs, "booting simulated machine")
		assert.Contains(t, logs, "module=vmm")
	})

	t.Run("boot with json logs", func(t *testing.T) {
		_, logs, err := runCmd(t, "boot", "--machine", machinePath, "--log-format", "json")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(logs, "{"))
		assert.Contains(t, logs, `"msg":"booting simulated machine"`)
	})

	t.Run("memmap", func(t *testing.T) {
		out, _, err := runCmd(t, "memmap", "--machine", machinePath)
		require.NoError(t, err)
		assert.Contains(t, out, "[0x0000100000 - 0x0002000000]      31744 KiB  available")
		assert.Contains(t, out, "[0x00100000 - 0x00180000] kernel image")
		assert.Contains(t, out, "cmdline: kstack=8K heap.max=1M")
	})

	t.Run("load", func(t *testing.T) {
		out, _, err := runCmd(t, "load", "--machine", machinePath, progPath)
		require.NoError(t, err)
		assert.Contains(t, out, "entry:    0x08048000")
		assert.Contains(t, out, "stack:    0xc0000000")
		assert.Contains(t, out, "segments: 1")
		assert.Contains(t, out, "PF_X+PF_R")
	})

	t.Run("load invalid image", func(t *testing.T) {
		badPath := writeFile(t, dir, "bad.elf", []byte("#!/bin/sh\n"))
		_, _, err := runCmd(t, "load", "--machine", machinePath, badPath)
		assert.Error(t, err)
	})

	specs := []struct {
		descr     string
		args      []string
		expResult string
		expOutput string
	}{
		{"getpid", []string{"20"}, "result:  1 (0x1)", ""},
		{"unknown syscall", []string{"254"}, "result:  -38 (ENOSYS)", ""},
		{"write", []string{"4", "1", "@data", "5", "--data", "hello"}, "result:  5 (0x5)", `console: "hello"`},
		{"bad fd", []string{"4", "7", "@data", "5", "--data", "hello"}, "result:  -9 (EBADF)", ""},
		{"null buffer", []string{"4", "1", "0", "5"}, "result:  -14 (EFAULT)", ""},
		{"exit", []string{"1", "0"}, "result:  system halted", ""},
	}

	for _, spec := range specs {
		t.Run("syscall "+spec.descr, func(t *testing.T) {
			out, _, err := runCmd(t, append([]string{"syscall", "--machine", machinePath}, spec.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, spec.expResult)
			if spec.expOutput != "" {
				assert.Contains(t, out, spec.expOutput)
			}
		})
	}

	t.Run("invalid flags", func(t *testing.T) {
		_, _, err := runCmd(t, "boot", "--log-format", "xml")
		assert.Error(t, err)

		_, _, err = runCmd(t, "syscall", "--machine", machinePath, "abc")
		assert.Error(t, err)

		_, _, err = runCmd(t, "boot", "--machine", filepath.Join(dir, "missing.toml"))
		assert.Error(t, err)
	})
}
