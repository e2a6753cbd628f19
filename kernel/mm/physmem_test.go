package mm

import (
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"ringzero/kernel"
)

func TestSliceMemory(t *testing.T) {
	mem := NewSliceMemory(3*PageSize - 100)
	require.Equal(t, Size(3*PageSize), mem.Size())

	data, err := mem.FrameBytes(Frame(2))
	require.Nil(t, err)
	require.Len(t, data, PageSize)

	data[0] = 0xAA
	require.Equal(t, byte(0xAA), mem.Bytes()[2*PageSize])

	_, err = mem.FrameBytes(Frame(3))
	require.Equal(t, errFrameOutOfRange, err)

	_, err = mem.FrameBytes(InvalidFrame)
	require.Equal(t, errFrameOutOfRange, err)
}

func TestPhysReader(t *testing.T) {
	mem := NewSliceMemory(2 * PageSize)
	for i := range mem.Bytes() {
		mem.Bytes()[i] = byte(i)
	}

	r := PhysReader{Mem: mem}

	// read across a frame boundary
	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, PageSize-4)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, mem.Bytes()[PageSize-4:PageSize+4], buf)

	// read past the end of RAM
	_, err = r.ReadAt(buf, 2*PageSize-4)
	require.Error(t, err)

	var _ io.ReaderAt = r
}

func TestIdentityMemory(t *testing.T) {
	t.Run("frame below limit", func(t *testing.T) {
		mem := IdentityMemory{Limit: 0x100000}
		data, err := mem.FrameBytes(Frame(0x10))
		require.Nil(t, err)
		require.Equal(t, uintptr(0x10000), uintptr(unsafe.Pointer(unsafe.SliceData(data))))
		require.Len(t, data, PageSize)
	})

	t.Run("frame above limit without mapper", func(t *testing.T) {
		mem := IdentityMemory{Limit: 0x100000}
		_, err := mem.FrameBytes(Frame(0x100))
		require.Equal(t, errFrameNotAddressable, err)
	})

	t.Run("frame above limit with mapper", func(t *testing.T) {
		var (
			gotFrame  Frame
			mapperErr *kernel.Error
		)

		mem := IdentityMemory{Limit: 0x100000}
		mem.SetTemporaryMapper(func(f Frame) (Page, *kernel.Error) {
			gotFrame = f
			return Page(0x3ff), mapperErr
		})

		data, err := mem.FrameBytes(Frame(0x200))
		require.Nil(t, err)
		require.Equal(t, Frame(0x200), gotFrame)
		require.Equal(t, uintptr(0x3ff000), uintptr(unsafe.Pointer(unsafe.SliceData(data))))

		mapperErr = errFrameNotAddressable
		_, err = mem.FrameBytes(Frame(0x200))
		require.Equal(t, mapperErr, err)
	})
}
