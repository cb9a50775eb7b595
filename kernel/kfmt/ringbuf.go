package kfmt

import "io"

// ringBufferSize defines the size of the ring buffer that holds early Printf
// output until an output sink is registered. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer buffers the most recent ringBufferSize bytes written to it.
// Once the buffer fills up, each new write overwrites the oldest buffered
// byte.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

// Write writes len(p) bytes from p to the ringBuffer.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.wIndex == rb.rIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p, returning the number of bytes read.
// Reads stop either at the write index or at the end of the backing array,
// whichever comes first; a wrapped buffer is drained by consecutive calls.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	end := rb.wIndex
	if rb.rIndex > rb.wIndex {
		end = ringBufferSize
	}

	n := copy(p, rb.buffer[rb.rIndex:end])
	rb.rIndex = (rb.rIndex + n) & (ringBufferSize - 1)

	return n, nil
}
