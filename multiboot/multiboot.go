// Package multiboot parses the boot information that a Multiboot 1 compliant
// boot loader hands over to the kernel.
//
// The info structure and everything it points to live in physical memory.
// All reads go through an io.ReaderAt whose offsets are physical addresses
// so that the parser works both on real hardware (through an identity
// mapping) and on a simulated RAM image.
package multiboot

import (
	"encoding/binary"
	"io"
	"strings"

	"ringzero/kernel"
	"ringzero/kernel/mm"
)

// Magic is the value placed in EAX by a compliant boot loader.
const Magic = 0x2BADB002

// InfoFlag describes which Info fields have been populated by the loader.
type InfoFlag uint32

const (
	// FlagMem indicates that MemLower and MemUpper are valid.
	FlagMem InfoFlag = 1 << 0

	// FlagBootDevice indicates that BootDevice is valid.
	FlagBootDevice InfoFlag = 1 << 1

	// FlagCmdLine indicates that CmdLine points to the kernel command line.
	FlagCmdLine InfoFlag = 1 << 2

	// FlagModules indicates that ModsCount and ModsAddr are valid.
	FlagModules InfoFlag = 1 << 3

	// FlagMemMap indicates that MmapLength and MmapAddr are valid.
	FlagMemMap InfoFlag = 1 << 6

	// FlagLoaderName indicates that BootLoaderName is valid.
	FlagLoaderName InfoFlag = 1 << 9
)

// Info mirrors the multiboot info structure. Address fields hold physical
// addresses.
type Info struct {
	Flags      InfoFlag
	MemLower   uint32
	MemUpper   uint32
	BootDevice uint32
	CmdLine    uint32
	ModsCount  uint32
	ModsAddr   uint32
	Syms       [4]uint32
	MmapLength uint32
	MmapAddr   uint32

	DrivesLength   uint32
	DrivesAddr     uint32
	ConfigTable    uint32
	BootLoaderName uint32
	APMTable       uint32

	VBEControlInfo  uint32
	VBEModeInfo     uint32
	VBEMode         uint16
	VBEInterfaceSeg uint16
	VBEInterfaceOff uint16
	VBEInterfaceLen uint16
}

// InfoSize is the size of the encoded Info structure.
const InfoSize = 88

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defies a visitor function that gets invoked by VisitMemRegions
// for each memory region provided by the boot loader. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Module describes a boot module loaded into physical memory.
type Module struct {
	Start, End uint32
	Name       string
}

// mmapEntry is the on-wire layout of a memory map entry. Each entry is
// preceded by its size which does not include the size field itself.
type mmapEntry struct {
	Size   uint32
	Base   uint64
	Length uint64
	Type   uint32
}

const mmapEntrySize = 24

type moduleEntry struct {
	Start, End, Name, Reserved uint32
}

const moduleEntrySize = 16

// maxStringLen bounds the length of the loader supplied strings.
const maxStringLen = 4096

var (
	errBadMagic    = &kernel.Error{Module: "multiboot", Message: "bad boot loader magic value"}
	errReadInfo    = &kernel.Error{Module: "multiboot", Message: "unable to read boot information"}
	errNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "boot loader did not supply memory information"}
)

// BootInfo holds the parsed boot information.
type BootInfo struct {
	// InfoAddr is the physical address of the info structure.
	InfoAddr uint32
	Info     Info

	regions    []MemoryMapEntry
	modules    []Module
	cmdLine    string
	loaderName string
	cmdLineKV  map[string]string
}

// CheckMagic verifies the value passed by the boot loader in EAX.
func CheckMagic(magic uint32) *kernel.Error {
	if magic != Magic {
		return errBadMagic
	}
	return nil
}

// Parse decodes the info structure at infoAddr together with the memory map,
// command line and module list it references.
func Parse(mem io.ReaderAt, infoAddr uint32) (*BootInfo, *kernel.Error) {
	bi := &BootInfo{InfoAddr: infoAddr}
	if err := readStruct(mem, infoAddr, &bi.Info); err != nil {
		return nil, err
	}

	switch {
	case bi.Info.Flags&FlagMemMap != 0:
		if err := bi.parseMemoryMap(mem); err != nil {
			return nil, err
		}
	case bi.Info.Flags&FlagMem != 0:
		// Without a memory map the loader only reports the amount of
		// conventional memory and the memory above 1M, both in KB.
		bi.regions = []MemoryMapEntry{
			{PhysAddress: 0, Length: uint64(bi.Info.MemLower) * 1024, Type: MemAvailable},
			{PhysAddress: 1 << 20, Length: uint64(bi.Info.MemUpper) * 1024, Type: MemAvailable},
		}
	default:
		return nil, errNoMemoryMap
	}

	var err *kernel.Error
	if bi.Info.Flags&FlagCmdLine != 0 && bi.Info.CmdLine != 0 {
		if bi.cmdLine, err = readString(mem, bi.Info.CmdLine); err != nil {
			return nil, err
		}
	}

	if bi.Info.Flags&FlagLoaderName != 0 && bi.Info.BootLoaderName != 0 {
		if bi.loaderName, err = readString(mem, bi.Info.BootLoaderName); err != nil {
			return nil, err
		}
	}

	if bi.Info.Flags&FlagModules != 0 {
		if err = bi.parseModules(mem); err != nil {
			return nil, err
		}
	}

	return bi, nil
}

func (bi *BootInfo) parseMemoryMap(mem io.ReaderAt) *kernel.Error {
	var entry mmapEntry
	for cur, end := uint64(bi.Info.MmapAddr), uint64(bi.Info.MmapAddr)+uint64(bi.Info.MmapLength); cur < end; cur += uint64(entry.Size) + 4 {
		if err := readStruct(mem, uint32(cur), &entry); err != nil {
			return err
		}

		// A zero size would never advance the cursor.
		if entry.Size == 0 {
			break
		}

		entryType := MemoryEntryType(entry.Type)
		if entryType == 0 || entryType >= memUnknown {
			entryType = MemReserved
		}

		bi.regions = append(bi.regions, MemoryMapEntry{
			PhysAddress: entry.Base,
			Length:      entry.Length,
			Type:        entryType,
		})
	}

	return nil
}

func (bi *BootInfo) parseModules(mem io.ReaderAt) *kernel.Error {
	var entry moduleEntry
	for index := uint32(0); index < bi.Info.ModsCount; index++ {
		if err := readStruct(mem, bi.Info.ModsAddr+index*moduleEntrySize, &entry); err != nil {
			return err
		}

		mod := Module{Start: entry.Start, End: entry.End}
		if entry.Name != 0 {
			name, err := readString(mem, entry.Name)
			if err != nil {
				return err
			}
			mod.Name = name
		}

		bi.modules = append(bi.modules, mod)
	}

	return nil
}

func readStruct(mem io.ReaderAt, addr uint32, data interface{}) *kernel.Error {
	buf := make([]byte, binary.Size(data))
	if _, err := mem.ReadAt(buf, int64(addr)); err != nil {
		return errReadInfo
	}

	if _, err := binary.Decode(buf, binary.LittleEndian, data); err != nil {
		return errReadInfo
	}
	return nil
}

// readString reads a NULL-terminated string.
func readString(mem io.ReaderAt, addr uint32) (string, *kernel.Error) {
	var (
		sb    strings.Builder
		chunk [64]byte
	)

	for offset := uint32(0); offset < maxStringLen; offset += uint32(len(chunk)) {
		n, err := mem.ReadAt(chunk[:], int64(addr+offset))
		if n == 0 && err != nil {
			return "", errReadInfo
		}

		for _, b := range chunk[:n] {
			if b == 0 {
				return sb.String(), nil
			}
			sb.WriteByte(b)
		}

		if err != nil {
			break
		}
	}

	return sb.String(), nil
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
func (bi *BootInfo) VisitMemRegions(visitor MemRegionVisitor) {
	for index := range bi.regions {
		entry := bi.regions[index]
		if !visitor(&entry) {
			return
		}
	}
}

// Modules returns the list of boot modules.
func (bi *BootInfo) Modules() []Module {
	return bi.modules
}

// CmdLine returns the raw kernel command line.
func (bi *BootInfo) CmdLine() string {
	return bi.cmdLine
}

// LoaderName returns the boot loader name if one was supplied.
func (bi *BootInfo) LoaderName() string {
	return bi.loaderName
}

// CmdLineKV returns the command line key-value pairs passed to the kernel.
// Bare words map to themselves.
func (bi *BootInfo) CmdLineKV() map[string]string {
	if bi.cmdLineKV != nil {
		return bi.cmdLineKV
	}

	bi.cmdLineKV = make(map[string]string)
	for _, pair := range strings.Fields(bi.cmdLine) {
		kv := strings.Split(pair, "=")
		switch len(kv) {
		case 2: // foo=bar
			bi.cmdLineKV[kv[0]] = kv[1]
		case 1: // nofoo
			bi.cmdLineKV[kv[0]] = kv[0]
		}
	}

	return bi.cmdLineKV
}

// ReservedRanges returns the physical ranges occupied by the boot
// information itself and by the loaded modules. These must not be handed
// out by the frame allocator.
func (bi *BootInfo) ReservedRanges() []mm.Range {
	ranges := []mm.Range{span(bi.InfoAddr, InfoSize)}

	if bi.Info.Flags&FlagMemMap != 0 {
		ranges = append(ranges, span(bi.Info.MmapAddr, bi.Info.MmapLength))
	}

	if bi.cmdLine != "" {
		ranges = append(ranges, span(bi.Info.CmdLine, uint32(len(bi.cmdLine))+1))
	}

	if len(bi.modules) != 0 {
		ranges = append(ranges, span(bi.Info.ModsAddr, bi.Info.ModsCount*moduleEntrySize))
	}

	for _, mod := range bi.modules {
		if mod.End > mod.Start {
			ranges = append(ranges, mm.Range{Start: mm.PhysAddr(mod.Start), End: mm.PhysAddr(mod.End)})
		}
	}

	return ranges
}

func span(addr, length uint32) mm.Range {
	return mm.Range{Start: mm.PhysAddr(addr), End: mm.PhysAddr(addr + length)}
}
