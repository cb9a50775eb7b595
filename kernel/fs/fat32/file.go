package fat32

import "burrowos/kernel"

// File is an open, read-only file. Files are created by Volume.Open and
// carry their full cluster chain so reads never re-walk the allocation
// table.
type File struct {
	volume   *Volume
	chain    []uint32
	size     uint32
	position uint32
	closed   bool
}

// Size returns the file size in bytes.
func (f *File) Size() uint32 {
	return f.size
}

// Read copies up to len(buf) bytes from the current position into buf and
// advances the position. Reads cross cluster boundaries by following the
// file's cluster chain. A zero count with a nil error signals end of file.
func (f *File) Read(buf []byte) (int, *kernel.Error) {
	if f.closed {
		return 0, ErrClosedFile
	}

	var (
		v           = f.volume
		clusterSize = v.clusterSize()
		total       = 0
	)

	for len(buf) > 0 && f.position < f.size {
		index := f.position / clusterSize
		if index >= uint32(len(f.chain)) {
			// The chain ended before the recorded file size.
			return total, ErrCorruptedChain
		}

		if err := v.readCluster(f.chain[index], v.scratch); err != nil {
			return total, err
		}

		offset := f.position % clusterSize
		chunk := clusterSize - offset
		if remaining := f.size - f.position; chunk > remaining {
			chunk = remaining
		}
		if chunk > uint32(len(buf)) {
			chunk = uint32(len(buf))
		}

		copy(buf, v.scratch[offset:offset+chunk])
		buf = buf[chunk:]
		f.position += chunk
		total += int(chunk)
	}

	return total, nil
}

// Write always fails with ErrReadOnly.
func (f *File) Write(buf []byte) (int, *kernel.Error) {
	if f.closed {
		return 0, ErrClosedFile
	}

	return 0, ErrReadOnly
}

// Close releases the file. Any further operation on it returns
// ErrClosedFile.
func (f *File) Close() *kernel.Error {
	if f.closed {
		return ErrClosedFile
	}

	f.closed = true
	f.chain = nil
	return nil
}
