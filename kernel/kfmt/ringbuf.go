package kfmt

import "io"

// ringBufferSize defines the size of the early output ring buffers. It is
// large enough to hold a full 80x25 text-mode screen and must always be a
// power of 2.
const ringBufferSize = 2048

// ringBuffer retains the most recent ringBufferSize-1 bytes written to it.
// Older bytes are overwritten once the buffer wraps.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

const ringMask = ringBufferSize - 1

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & ringMask
		if rb.wIndex == rb.rIndex {
			// drop the oldest byte
			rb.rIndex = (rb.rIndex + 1) & ringMask
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns io.EOF when the buffer
// has been drained.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	end := rb.wIndex
	if end < rb.rIndex {
		// read up to the end of the backing array; the next call will
		// pick up from index 0.
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & ringMask
	return n, nil
}
