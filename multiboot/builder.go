package multiboot

import "encoding/binary"

// Builder lays out a multiboot info structure the way a boot loader would.
// It is used by hosted tools and tests to hand a simulated boot environment
// to the kernel.
type Builder struct {
	Regions    []MemoryMapEntry
	CmdLine    string
	LoaderName string
	Modules    []Module

	// MemLower and MemUpper are reported (in KB) when set.
	MemLower, MemUpper uint32

	// When NoMemMap is set the memory map is omitted.
	NoMemMap bool
}

// Build encodes the info structure and its referenced data into a single
// blob that is meant to be copied at physical address base. All embedded
// pointers are absolute.
func (b *Builder) Build(base uint32) []byte {
	var (
		info Info
		tail []byte
	)

	cursor := base + InfoSize
	appendData := func(data []byte) uint32 {
		addr := cursor
		tail = append(tail, data...)
		cursor += uint32(len(data))
		return addr
	}

	if b.MemLower != 0 || b.MemUpper != 0 {
		info.Flags |= FlagMem
		info.MemLower, info.MemUpper = b.MemLower, b.MemUpper
	}

	if !b.NoMemMap {
		mmap := make([]byte, 0, len(b.Regions)*mmapEntrySize)
		for _, region := range b.Regions {
			mmap, _ = binary.Append(mmap, binary.LittleEndian, mmapEntry{
				Size:   mmapEntrySize - 4,
				Base:   region.PhysAddress,
				Length: region.Length,
				Type:   uint32(region.Type),
			})
		}

		info.Flags |= FlagMemMap
		info.MmapLength = uint32(len(mmap))
		info.MmapAddr = appendData(mmap)
	}

	if b.CmdLine != "" {
		info.Flags |= FlagCmdLine
		info.CmdLine = appendData(append([]byte(b.CmdLine), 0))
	}

	if b.LoaderName != "" {
		info.Flags |= FlagLoaderName
		info.BootLoaderName = appendData(append([]byte(b.LoaderName), 0))
	}

	if len(b.Modules) != 0 {
		names := make([]uint32, len(b.Modules))
		for index, mod := range b.Modules {
			names[index] = appendData(append([]byte(mod.Name), 0))
		}

		table := make([]byte, 0, len(b.Modules)*moduleEntrySize)
		for index, mod := range b.Modules {
			table, _ = binary.Append(table, binary.LittleEndian, moduleEntry{
				Start: mod.Start,
				End:   mod.End,
				Name:  names[index],
			})
		}

		info.Flags |= FlagModules
		info.ModsCount = uint32(len(b.Modules))
		info.ModsAddr = appendData(table)
	}

	out, _ := binary.Append(make([]byte, 0, InfoSize+len(tail)), binary.LittleEndian, &info)
	return append(out, tail...)
}
