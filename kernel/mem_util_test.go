package kernel

import "testing"

func TestMemset(t *testing.T) {
	// memset with an empty target should be a no-op
	Memset(nil, 0x00)

	for sizeShift := uint32(1); sizeShift <= 12; sizeShift++ {
		buf := make([]byte, 1<<sizeShift)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		Memset(buf, 0x00)

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[%d byte block] expected byte %d to be 0x00; got 0x%x", len(buf), i, got)
			}
		}
	}

	// odd lengths exercise the final partial doubling step
	buf := make([]byte, 1000)
	Memset(buf, 0x42)

	for i := 0; i < len(buf); i++ {
		if got := buf[i]; got != 0x42 {
			t.Errorf("expected byte %d to be 0x42; got 0x%x", i, got)
		}
	}
}
