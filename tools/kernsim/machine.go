package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"ringzero/kernel/kmain"
	"ringzero/kernel/mm"
	"ringzero/multiboot"
)

const (
	// infoAddr is where the simulated boot loader places the multiboot
	// info structure. It lives in low memory which the kernel never
	// allocates from.
	infoAddr = 0x9000

	// lowMemoryEnd is the end of the conventional memory region reported
	// by the default memory map.
	lowMemoryEnd = 0x9fc00

	defaultRAM         = "64M"
	defaultKernelStart = 0x100000
	defaultKernelEnd   = 0x200000
	defaultLoader      = "kernsim"
)

// Region is a memory map entry in a machine description.
type Region struct {
	Base   uint64 `toml:"base"`
	Length uint64 `toml:"length"`
	Type   string `toml:"type"`
}

// KernelImage is the physical extent of the simulated kernel image.
type KernelImage struct {
	Start uint32 `toml:"start"`
	End   uint32 `toml:"end"`
}

// Machine describes the simulated machine.
type Machine struct {
	// RAM is the amount of physical memory, such as "64M".
	RAM     string      `toml:"ram"`
	CmdLine string      `toml:"cmdline"`
	Loader  string      `toml:"loader"`
	Kernel  KernelImage `toml:"kernel"`

	// Init is the path of an ELF executable passed as the "init" boot
	// module. Relative paths are resolved against the machine file.
	Init string `toml:"init"`

	// Regions overrides the memory map. When empty a map with the usual
	// low-memory hole below 1M is derived from RAM.
	Regions []Region `toml:"region"`

	dir string
}

var regionTypes = map[string]multiboot.MemoryEntryType{
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
}

// loadMachine decodes the machine description at path. Unknown keys are
// rejected to catch typos.
func loadMachine(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m, err := decodeMachine(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

func decodeMachine(data string) (*Machine, error) {
	var m Machine
	md, err := toml.Decode(data, &m)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	m.applyDefaults()
	return &m, nil
}

func (m *Machine) applyDefaults() {
	if m.RAM == "" {
		m.RAM = defaultRAM
	}
	if m.Kernel.Start == 0 && m.Kernel.End == 0 {
		m.Kernel = KernelImage{Start: defaultKernelStart, End: defaultKernelEnd}
	}
	if m.Loader == "" {
		m.Loader = defaultLoader
	}
}

// ramSize returns the parsed RAM size.
func (m *Machine) ramSize() (mm.Size, error) {
	size, ok := kmain.ParseSize(m.RAM, 1<<32)
	if !ok || size < 2*uint64(mm.Mb) {
		return 0, fmt.Errorf("invalid ram size %q: need at least 2M and at most 4G", m.RAM)
	}
	return mm.Size(size), nil
}

// memoryMap returns the memory map reported to the kernel.
func (m *Machine) memoryMap(ram mm.Size) ([]multiboot.MemoryMapEntry, error) {
	if len(m.Regions) == 0 {
		return []multiboot.MemoryMapEntry{
			{PhysAddress: 0, Length: lowMemoryEnd, Type: multiboot.MemAvailable},
			{PhysAddress: lowMemoryEnd, Length: 0x100000 - lowMemoryEnd, Type: multiboot.MemReserved},
			{PhysAddress: 0x100000, Length: uint64(ram) - 0x100000, Type: multiboot.MemAvailable},
		}, nil
	}

	entries := make([]multiboot.MemoryMapEntry, 0, len(m.Regions))
	for _, region := range m.Regions {
		typ, ok := regionTypes[strings.ToLower(region.Type)]
		if !ok {
			return nil, fmt.Errorf("region 0x%x: unknown type %q", region.Base, region.Type)
		}
		if region.Length == 0 {
			return nil, fmt.Errorf("region 0x%x: zero length", region.Base)
		}

		entries = append(entries, multiboot.MemoryMapEntry{
			PhysAddress: region.Base,
			Length:      region.Length,
			Type:        typ,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].PhysAddress < entries[j].PhysAddress })
	return entries, nil
}

// bootModule is a file handed to the kernel by the simulated boot loader.
type bootModule struct {
	name  string
	image []byte
}

// simulation is a machine whose RAM has been populated the way a boot
// loader leaves it.
type simulation struct {
	ram     *mm.SliceMemory
	params  kmain.BootParams
	modules []multiboot.Module
}

// build lays out the RAM image: the info structure at infoAddr and the
// modules right after the kernel image.
func (m *Machine) build() (*simulation, error) {
	ramSize, err := m.ramSize()
	if err != nil {
		return nil, err
	}

	regions, err := m.memoryMap(ramSize)
	if err != nil {
		return nil, err
	}

	if m.Kernel.End <= m.Kernel.Start || uint64(m.Kernel.End) > uint64(ramSize) {
		return nil, fmt.Errorf("kernel image [0x%x, 0x%x) does not fit in RAM", m.Kernel.Start, m.Kernel.End)
	}

	var mods []bootModule
	if m.Init != "" {
		path := m.Init
		if !filepath.IsAbs(path) && m.dir != "" {
			path = filepath.Join(m.dir, path)
		}

		image, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		mods = append(mods, bootModule{name: "init", image: image})
	}

	sim := &simulation{ram: mm.NewSliceMemory(ramSize)}
	ram := sim.ram.Bytes()

	next := uint64(mm.PhysAddr(m.Kernel.End).AlignUp())
	for _, mod := range mods {
		end := next + uint64(len(mod.image))
		if end > uint64(len(ram)) {
			return nil, fmt.Errorf("module %s does not fit in RAM", mod.name)
		}

		copy(ram[next:], mod.image)
		sim.modules = append(sim.modules, multiboot.Module{Start: uint32(next), End: uint32(end), Name: mod.name})
		next = uint64(mm.PhysAddr(end).AlignUp())
	}

	builder := multiboot.Builder{
		Regions:    regions,
		CmdLine:    m.CmdLine,
		LoaderName: m.Loader,
		Modules:    sim.modules,
	}

	info := builder.Build(infoAddr)
	if infoAddr+len(info) > lowMemoryEnd {
		return nil, fmt.Errorf("boot information does not fit in low memory (%d bytes)", len(info))
	}
	copy(ram[infoAddr:], info)

	sim.params = kmain.BootParams{
		Magic:       multiboot.Magic,
		InfoAddr:    infoAddr,
		KernelStart: mm.PhysAddr(m.Kernel.Start),
		KernelEnd:   mm.PhysAddr(m.Kernel.End),
		Mem:         sim.ram,
	}
	return sim, nil
}
