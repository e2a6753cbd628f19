package kmain

import (
	"strconv"
	"strings"

	"ringzero/kernel/elf"
	"ringzero/kernel/kfmt"
	"ringzero/kernel/mm"
)

// Config holds the boot-time tunables. Every field can be overridden from
// the boot command line.
type Config struct {
	// MaxPhysMem is the amount of physical memory covered by the frame
	// bitmap. Memory above it is ignored.
	MaxPhysMem mm.Size

	// IdentityMapLimit is the end of the identity-mapped region.
	IdentityMapLimit mm.PhysAddr

	HeapStart   mm.VirtAddr
	HeapMaxSize uint32

	PICMasterOffset uint8
	PICSlaveOffset  uint8

	KernelStackSize uint32

	// InitModule is the name of the boot module that is started in user
	// mode. When empty the first module is used.
	InitModule string

	// DebugChecks enables the frame allocator interrupt-context assertion
	// and double-free accounting.
	DebugChecks bool
}

// DefaultConfig returns the configuration used when the command line does
// not override anything.
func DefaultConfig() Config {
	return Config{
		MaxPhysMem:       1 * mm.Gb,
		IdentityMapLimit: mm.PhysAddr(16 * mm.Mb),
		HeapStart:        0x10000000,
		HeapMaxSize:      uint32(64 * mm.Mb),
		PICMasterOffset:  0x20,
		PICSlaveOffset:   0x28,
		KernelStackSize:  uint32(16 * mm.Kb),
		DebugChecks:      true,
	}
}

// ConfigFromCmdLine applies the key=value pairs in kv on top of the default
// configuration. Unknown keys are ignored; invalid values keep the default
// and log a warning. A heap range that overlaps the identity-mapped region
// or kernel space falls back to the default heap range.
func ConfigFromCmdLine(kv map[string]string) Config {
	cfg := DefaultConfig()

	for key, value := range kv {
		var ok = true
		switch key {
		case "mem.max":
			var v uint64
			if v, ok = ParseSize(value, 1<<32); ok {
				cfg.MaxPhysMem = mm.Size(v)
			}
		case "mem.identity":
			var v uint64
			if v, ok = ParseSize(value, 1<<32-1); ok {
				cfg.IdentityMapLimit = mm.PhysAddr(v)
			}
		case "heap.start":
			var v uint64
			if v, ok = ParseSize(value, 1<<32-1); ok {
				cfg.HeapStart = mm.VirtAddr(v)
			}
		case "heap.max":
			var v uint64
			if v, ok = ParseSize(value, 1<<32-1); ok {
				cfg.HeapMaxSize = uint32(v)
			}
		case "kstack":
			var v uint64
			if v, ok = ParseSize(value, 1<<32-1); ok && v != 0 {
				cfg.KernelStackSize = uint32(v)
			} else {
				ok = false
			}
		case "pic.master":
			var v uint64
			if v, ok = ParseSize(value, 0xff); ok {
				cfg.PICMasterOffset = uint8(v)
			}
		case "pic.slave":
			var v uint64
			if v, ok = ParseSize(value, 0xff); ok {
				cfg.PICSlaveOffset = uint8(v)
			}
		case "init":
			cfg.InitModule = value
		case "debug":
			switch value {
			case "on", "1", "true", "debug":
				cfg.DebugChecks = true
			case "off", "0", "false":
				cfg.DebugChecks = false
			default:
				ok = false
			}
		case "nodebug":
			cfg.DebugChecks = false
		}

		if !ok {
			kfmt.Logf("[kmain] ignoring invalid value for %s: %s\n", key, value)
		}
	}

	if !cfg.heapRangeValid() {
		def := DefaultConfig()
		kfmt.Logf("[kmain] ignoring heap range [0x%x, 0x%x): outside [0x%x, 0x%x)\n",
			uint32(cfg.HeapStart), uint64(cfg.HeapStart)+uint64(cfg.HeapMaxSize),
			uint32(cfg.IdentityMapLimit), uint32(elf.KernelSpaceStart),
		)
		cfg.HeapStart, cfg.HeapMaxSize = def.HeapStart, def.HeapMaxSize
		if !cfg.heapRangeValid() {
			cfg.IdentityMapLimit = def.IdentityMapLimit
		}
	}

	return cfg
}

// heapRangeValid reports whether the heap lies between the identity-mapped
// region and kernel space.
func (cfg Config) heapRangeValid() bool {
	return uint64(cfg.HeapStart) >= uint64(cfg.IdentityMapLimit) &&
		uint64(cfg.HeapStart)+uint64(cfg.HeapMaxSize) <= elf.KernelSpaceStart
}

// ParseSize parses a decimal or 0x-prefixed hex number with an optional K, M
// or G suffix. Values above max are rejected.
func ParseSize(value string, max uint64) (uint64, bool) {
	var shift uint
	if n := len(value); n > 0 {
		switch value[n-1] {
		case 'K', 'k':
			shift = 10
		case 'M', 'm':
			shift = 20
		case 'G', 'g':
			shift = 30
		}
		if shift != 0 {
			value = value[:n-1]
		}
	}

	base := 10
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		base, value = 16, value[2:]
	}

	v, err := strconv.ParseUint(value, base, 64)
	if err != nil || v > max>>shift {
		return 0, false
	}
	return v << shift, true
}
