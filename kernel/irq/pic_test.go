package irq

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"ringzero/kernel/cpu"
)

type portWrite struct {
	Port  uint16
	Value uint8
}

// mockPorts records port writes and simulates the PIC mask registers.
func mockPorts(t *testing.T, masterMask, slaveMask uint8) *[]portWrite {
	t.Helper()

	var writes []portWrite
	masks := map[uint16]uint8{picMasterData: masterMask, picSlaveData: slaveMask}
	portWriteByteFn = func(port uint16, val uint8) {
		writes = append(writes, portWrite{port, val})
		if port == picMasterData || port == picSlaveData {
			masks[port] = val
		}
	}
	portReadByteFn = func(port uint16) uint8 {
		return masks[port]
	}

	t.Cleanup(func() {
		portWriteByteFn = cpu.PortWriteByte
		portReadByteFn = cpu.PortReadByte
	})
	return &writes
}

func withoutIOWait(writes []portWrite) []portWrite {
	var out []portWrite
	for _, w := range writes {
		if w.Port != ioWaitPort {
			out = append(out, w)
		}
	}
	return out
}

func TestPICRemap(t *testing.T) {
	writes := mockPorts(t, 0xb8, 0x8e)

	var pic PIC
	if err := pic.Remap(0x20, 0x28); err != nil {
		t.Fatal(err)
	}

	exp := []portWrite{
		{picMasterCmd, 0x11},
		{picSlaveCmd, 0x11},
		{picMasterData, 0x20},
		{picSlaveData, 0x28},
		{picMasterData, 0x04},
		{picSlaveData, 0x02},
		{picMasterData, 0x01},
		{picSlaveData, 0x01},
		{picMasterData, 0xb8},
		{picSlaveData, 0x8e},
	}
	if diff := cmp.Diff(exp, withoutIOWait(*writes)); diff != "" {
		t.Fatalf("unexpected port write sequence (-want +got):\n%s", diff)
	}

	if master, slave := pic.Offsets(); master != 0x20 || slave != 0x28 {
		t.Fatalf("expected offsets to be 0x20, 0x28; got 0x%x, 0x%x", master, slave)
	}
}

func TestPICRemapErrors(t *testing.T) {
	specs := []struct {
		master, slave uint8
		expErr        interface{}
	}{
		{0x21, 0x28, errMisalignedOffset},
		{0x20, 0x2c, errMisalignedOffset},
		{0x00, 0x28, errOffsetCollision},
		{0x20, 0x18, errOffsetCollision},
		{0x30, 0x30, errOffsetCollision},
		{0x80, 0x28, errOffsetCollision},
		{0x20, 0x80, errOffsetCollision},
		{0xf0, 0xf8, nil},
		{0x28, 0x20, nil},
	}

	for specIndex, spec := range specs {
		writes := mockPorts(t, 0, 0)

		var pic PIC
		err := pic.Remap(spec.master, spec.slave)
		if spec.expErr == nil {
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}
			continue
		}

		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if len(*writes) != 0 {
			t.Errorf("[spec %d] expected no port writes after a rejected remap; got %d", specIndex, len(*writes))
		}
	}
}

func TestPICSendEOI(t *testing.T) {
	specs := []struct {
		line uint8
		exp  []portWrite
	}{
		{0, []portWrite{{picMasterCmd, picEOI}}},
		{7, []portWrite{{picMasterCmd, picEOI}}},
		{8, []portWrite{{picSlaveCmd, picEOI}, {picMasterCmd, picEOI}}},
		{15, []portWrite{{picSlaveCmd, picEOI}, {picMasterCmd, picEOI}}},
	}

	for _, spec := range specs {
		writes := mockPorts(t, 0, 0)

		var pic PIC
		pic.SendEOI(spec.line)
		if diff := cmp.Diff(spec.exp, *writes); diff != "" {
			t.Errorf("line %d: unexpected EOI writes (-want +got):\n%s", spec.line, diff)
		}
	}
}

func TestPICMasks(t *testing.T) {
	writes := mockPorts(t, 0xff, 0xff)

	var pic PIC
	for _, line := range []uint8{1, 2, 12} {
		if err := pic.ClearMask(line); err != nil {
			t.Fatal(err)
		}
	}

	if exp, got := uint8(0xf9), portReadByteFn(picMasterData); got != exp {
		t.Errorf("expected master mask to be 0x%x; got 0x%x", exp, got)
	}
	if exp, got := uint8(0xef), portReadByteFn(picSlaveData); got != exp {
		t.Errorf("expected slave mask to be 0x%x; got 0x%x", exp, got)
	}

	if err := pic.SetMask(1); err != nil {
		t.Fatal(err)
	}
	if exp, got := uint8(0xfb), portReadByteFn(picMasterData); got != exp {
		t.Errorf("expected master mask to be 0x%x; got 0x%x", exp, got)
	}

	if err := pic.SetMask(NumIRQLines); err != errInvalidIRQ {
		t.Errorf("expected errInvalidIRQ; got %v", err)
	}
	if err := pic.ClearMask(200); err != errInvalidIRQ {
		t.Errorf("expected errInvalidIRQ; got %v", err)
	}

	*writes = nil
	pic.Disable()
	exp := []portWrite{{picMasterData, 0xff}, {picSlaveData, 0xff}}
	if diff := cmp.Diff(exp, *writes); diff != "" {
		t.Errorf("unexpected writes for Disable (-want +got):\n%s", diff)
	}
}
