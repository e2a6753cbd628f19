package kernel

import "unsafe"

// Slice overlays a byte slice of the given size on top of the memory region
// starting at addr. The caller must ensure that the region is addressable
// under the active translation (identity-mapped or temporarily mapped).
func Slice(addr uintptr, size uintptr) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// Memset sets size bytes at the given address to the supplied value. Instead
// of using a for loop, it performs log2(size) copy calls which is faster for
// page-sized regions.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := Slice(addr, size)
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	copy(Slice(dst, size), Slice(src, size))
}
