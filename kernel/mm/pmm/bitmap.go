package pmm

import "math/bits"

// frameBitmap tracks the state of a set of frames using one bit per frame.
// A set bit marks a used frame. Bits are stored LSB-first in each word.
type frameBitmap []uint64

const fullWord = ^uint64(0)

func newFrameBitmap(frameCount uint32) frameBitmap {
	return make(frameBitmap, (frameCount+63)>>6)
}

func (b frameBitmap) isSet(index uint32) bool {
	return b[index>>6]&(1<<(index&63)) != 0
}

func (b frameBitmap) set(index uint32) {
	b[index>>6] |= 1 << (index & 63)
}

func (b frameBitmap) clear(index uint32) {
	b[index>>6] &^= 1 << (index & 63)
}

func (b frameBitmap) fill() {
	for i := range b {
		b[i] = fullWord
	}
}

// firstZero returns the index of the first clear bit in [from, limit) or
// limit if all bits in the range are set. Fully used words are skipped
// without examining their bits.
func (b frameBitmap) firstZero(from, limit uint32) uint32 {
	for index := from; index < limit; {
		word := b[index>>6] | (1<<(index&63) - 1)
		if word == fullWord {
			index = (index | 63) + 1
			continue
		}

		if found := index&^63 + uint32(bits.TrailingZeros64(^word)); found < limit {
			return found
		}
		break
	}
	return limit
}

// runLength returns the number of consecutive clear bits starting at from,
// stopping at limit or after max bits.
func (b frameBitmap) runLength(from, limit, max uint32) uint32 {
	var count uint32
	for index := from; index < limit && count < max && !b.isSet(index); index++ {
		count++
	}
	return count
}
