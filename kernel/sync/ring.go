// Package sync provides the synchronization primitives used by the kernel.
// The kernel runs on a single core without preemption so the only source of
// concurrency is an interrupt handler running on top of the main flow of
// control.
package sync

import "sync/atomic"

// ByteRing is a fixed-size single-producer/single-consumer ring buffer. The
// producer (typically an IRQ handler) only ever writes head and the consumer
// (typically a syscall) only ever writes tail, so neither side needs to mask
// interrupts. One slot is always left empty to tell a full ring from an
// empty one; a ring of size N holds at most N-1 bytes.
type ByteRing struct {
	buf  []byte
	mask uint32
	head uint32
	tail uint32
}

// NewByteRing returns a ring of the given size which must be a power of 2.
func NewByteRing(size uint32) *ByteRing {
	if size < 2 || size&(size-1) != 0 {
		panic("sync: ring size must be a power of 2")
	}
	return &ByteRing{buf: make([]byte, size), mask: size - 1}
}

// Push appends b to the ring. If the ring is full, b is dropped and Push
// returns false.
func (r *ByteRing) Push(b byte) bool {
	head := atomic.LoadUint32(&r.head)
	next := (head + 1) & r.mask
	if next == atomic.LoadUint32(&r.tail) {
		return false
	}

	r.buf[head] = b
	atomic.StoreUint32(&r.head, next)
	return true
}

// Pop removes the oldest byte from the ring. It returns false if the ring is
// empty.
func (r *ByteRing) Pop() (byte, bool) {
	tail := atomic.LoadUint32(&r.tail)
	if tail == atomic.LoadUint32(&r.head) {
		return 0, false
	}

	b := r.buf[tail]
	atomic.StoreUint32(&r.tail, (tail+1)&r.mask)
	return b, true
}

// Len returns the number of buffered bytes.
func (r *ByteRing) Len() int {
	return int((atomic.LoadUint32(&r.head) - atomic.LoadUint32(&r.tail)) & r.mask)
}

// Cap returns the maximum number of bytes the ring can hold.
func (r *ByteRing) Cap() int {
	return int(r.mask)
}
