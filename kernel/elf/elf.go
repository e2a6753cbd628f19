// Package elf loads statically linked ELF32 executables into a user address
// space.
package elf

import (
	elfabi "debug/elf"
	"encoding/binary"

	"ringzero/kernel"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
	"ringzero/kernel/mm/vmm"
)

const (
	// KernelSpaceStart is the first virtual address reserved for the
	// kernel. User segments must end below it.
	KernelSpaceStart = 0xC0000000

	// UserStackTop is the initial stack pointer of a loaded program. The
	// loader maps the page below it.
	UserStackTop = KernelSpaceStart

	headerSize  = 52
	progHdrSize = 32

	userPageFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible
)

var (
	errTruncated            = &kernel.Error{Module: "elf", Message: "image is truncated"}
	errBadMagic             = &kernel.Error{Module: "elf", Message: "bad ELF magic"}
	errNotClass32           = &kernel.Error{Module: "elf", Message: "not an ELF32 image"}
	errNotLittleEndian      = &kernel.Error{Module: "elf", Message: "not a little-endian image"}
	errNotExecutable        = &kernel.Error{Module: "elf", Message: "not an executable image"}
	errWrongMachine         = &kernel.Error{Module: "elf", Message: "not an i386 image"}
	errBadProgramHeader     = &kernel.Error{Module: "elf", Message: "unsupported program header entry size"}
	errBadSegment           = &kernel.Error{Module: "elf", Message: "segment file size exceeds memory size"}
	errSegmentInKernelSpace = &kernel.Error{Module: "elf", Message: "segment overlaps kernel space"}
	errPageInUse            = &kernel.Error{Module: "elf", Message: "segment overlaps an already mapped page"}
)

// pageSet tracks the pages claimed by the image being loaded.
type pageSet map[mm.Page]struct{}

// SegmentMapper is implemented by address spaces that programs can be
// loaded into.
type SegmentMapper interface {
	IdentityLimit() mm.PhysAddr
	IsMapped(virt mm.VirtAddr) bool
	AllocPage(page mm.Page, flags vmm.PageTableEntryFlag) (mm.Frame, *kernel.Error)
	CopyToPage(virt mm.VirtAddr, src []byte) *kernel.Error
	ZeroPage(virt mm.VirtAddr, size uint32) *kernel.Error
}

// Program describes a loaded executable.
type Program struct {
	Entry    uint32
	StackTop uint32
	Segments int
}

// Load validates image and maps its PT_LOAD segments plus a single stack
// page into dst.
func Load(image []byte, dst SegmentMapper) (Program, *kernel.Error) {
	hdr, err := decodeHeader(image)
	if err != nil {
		return Program{}, err
	}

	progs, err := decodeProgramHeaders(image, hdr)
	if err != nil {
		return Program{}, err
	}

	userStart := uint64(dst.IdentityLimit())
	claimed := make(pageSet)
	for _, prog := range progs {
		if err = checkSegment(image, prog, userStart); err != nil {
			return Program{}, err
		}
		if err = claimPages(prog, dst, claimed); err != nil {
			return Program{}, err
		}
	}

	stackPage := mm.PageFromAddress(UserStackTop - mm.PageSize)
	if _, shared := claimed[stackPage]; !shared && dst.IsMapped(stackPage.Address()) {
		return Program{}, errPageInUse
	}

	var (
		segments int
		loaded   = make(pageSet)
	)
	for _, prog := range progs {
		if elfabi.ProgType(prog.Type) != elfabi.PT_LOAD {
			continue
		}

		if err = loadSegment(image, prog, dst, loaded); err != nil {
			return Program{}, err
		}
		segments++
	}

	if _, shared := loaded[stackPage]; !shared {
		if _, err = dst.AllocPage(stackPage, userPageFlags); err != nil {
			return Program{}, err
		}
	}

	kfmt.Logf("[elf] loaded %d segments; entry: 0x%8x\n", segments, hdr.Entry)
	return Program{
		Entry:    hdr.Entry,
		StackTop: UserStackTop,
		Segments: segments,
	}, nil
}

func decodeHeader(image []byte) (*elfabi.Header32, *kernel.Error) {
	if len(image) < headerSize {
		return nil, errTruncated
	}

	var hdr elfabi.Header32
	if _, err := binary.Decode(image, binary.LittleEndian, &hdr); err != nil {
		return nil, errTruncated
	}

	switch {
	case string(hdr.Ident[:4]) != elfabi.ELFMAG:
		return nil, errBadMagic
	case elfabi.Class(hdr.Ident[elfabi.EI_CLASS]) != elfabi.ELFCLASS32:
		return nil, errNotClass32
	case elfabi.Data(hdr.Ident[elfabi.EI_DATA]) != elfabi.ELFDATA2LSB:
		return nil, errNotLittleEndian
	case elfabi.Type(hdr.Type) != elfabi.ET_EXEC:
		return nil, errNotExecutable
	case elfabi.Machine(hdr.Machine) != elfabi.EM_386:
		return nil, errWrongMachine
	}

	return &hdr, nil
}

func decodeProgramHeaders(image []byte, hdr *elfabi.Header32) ([]elfabi.Prog32, *kernel.Error) {
	if hdr.Phnum == 0 {
		return nil, nil
	}
	if hdr.Phentsize != progHdrSize {
		return nil, errBadProgramHeader
	}

	tableEnd := uint64(hdr.Phoff) + uint64(hdr.Phnum)*progHdrSize
	if tableEnd > uint64(len(image)) {
		return nil, errTruncated
	}

	progs := make([]elfabi.Prog32, hdr.Phnum)
	if _, err := binary.Decode(image[hdr.Phoff:tableEnd], binary.LittleEndian, progs); err != nil {
		return nil, errTruncated
	}
	return progs, nil
}

func checkSegment(image []byte, prog elfabi.Prog32, userStart uint64) *kernel.Error {
	if elfabi.ProgType(prog.Type) != elfabi.PT_LOAD {
		return nil
	}

	switch {
	case prog.Filesz > prog.Memsz:
		return errBadSegment
	case uint64(prog.Off)+uint64(prog.Filesz) > uint64(len(image)):
		return errTruncated
	case prog.Memsz == 0:
		return nil
	case uint64(prog.Vaddr) < userStart, uint64(prog.Vaddr)+uint64(prog.Memsz) > KernelSpaceStart:
		return errSegmentInKernelSpace
	}
	return nil
}

// claimPages adds the pages spanned by prog to claimed. Pages already
// claimed by an earlier segment of the same image may be shared; any other
// mapped page belongs to someone else and rejects the image.
func claimPages(prog elfabi.Prog32, dst SegmentMapper, claimed pageSet) *kernel.Error {
	if elfabi.ProgType(prog.Type) != elfabi.PT_LOAD || prog.Memsz == 0 {
		return nil
	}

	end := mm.VirtAddr(prog.Vaddr + prog.Memsz).AlignUp()
	for addr := mm.VirtAddr(prog.Vaddr).AlignDown(); addr < end; addr += mm.PageSize {
		page := mm.PageFromAddress(addr)
		if _, shared := claimed[page]; shared {
			continue
		}
		if dst.IsMapped(addr) {
			return errPageInUse
		}
		claimed[page] = struct{}{}
	}
	return nil
}

func loadSegment(image []byte, prog elfabi.Prog32, dst SegmentMapper, loaded pageSet) *kernel.Error {
	kfmt.Logf("[elf] segment vaddr: 0x%8x, filesz: 0x%x, memsz: 0x%x\n", prog.Vaddr, prog.Filesz, prog.Memsz)
	if prog.Memsz == 0 {
		return nil
	}

	start := mm.VirtAddr(prog.Vaddr)
	end := mm.VirtAddr(prog.Vaddr + prog.Memsz).AlignUp()
	for addr := start.AlignDown(); addr < end; addr += mm.PageSize {
		// Segments sharing a page reuse the frame mapped for the
		// first one.
		page := mm.PageFromAddress(addr)
		if _, shared := loaded[page]; shared {
			continue
		}
		if _, err := dst.AllocPage(page, userPageFlags); err != nil {
			return err
		}
		loaded[page] = struct{}{}
	}

	if prog.Filesz != 0 {
		if err := dst.CopyToPage(start, image[prog.Off:prog.Off+prog.Filesz]); err != nil {
			return err
		}
	}

	if bssSize := prog.Memsz - prog.Filesz; bssSize != 0 {
		return dst.ZeroPage(start+mm.VirtAddr(prog.Filesz), bssSize)
	}
	return nil
}
