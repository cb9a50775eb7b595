package mm

import "testing"

func TestArenaFrameBytes(t *testing.T) {
	arena := NewArena(Frame(16), 4)

	if exp, got := Frame(16), arena.StartFrame(); got != exp {
		t.Fatalf("expected arena start frame to be %d; got %d", exp, got)
	}

	if exp, got := uintptr(4), arena.FrameCount(); got != exp {
		t.Fatalf("expected arena frame count to be %d; got %d", exp, got)
	}

	t.Run("success", func(t *testing.T) {
		for frame := Frame(16); frame < Frame(20); frame++ {
			contents, err := arena.FrameBytes(frame)
			if err != nil {
				t.Fatalf("unexpected error for frame %d: %v", frame, err)
			}

			if exp, got := PageSize, uintptr(len(contents)); got != exp {
				t.Fatalf("expected frame contents length to be %d; got %d", exp, got)
			}
		}

		// Contents written through one lookup must be visible through the next.
		contents, _ := arena.FrameBytes(Frame(17))
		contents[42] = 0xfe

		again, _ := arena.FrameBytes(Frame(17))
		if exp, got := byte(0xfe), again[42]; got != exp {
			t.Fatalf("expected frame lookups to alias the same memory; got %x", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		specs := []Frame{
			Frame(0),
			Frame(15),
			Frame(20),
			Frame(1024),
		}

		for specIndex, frame := range specs {
			if _, err := arena.FrameBytes(frame); err != ErrFrameNotBacked {
				t.Errorf("[spec %d] expected to get ErrFrameNotBacked; got %v", specIndex, err)
			}
		}
	})
}

func TestArenaBytes(t *testing.T) {
	arena := NewArena(Frame(1), 2)

	t.Run("success", func(t *testing.T) {
		window, err := arena.Bytes(Frame(1).Address()+100, 200)
		if err != nil {
			t.Fatal(err)
		}

		if exp, got := 200, len(window); got != exp {
			t.Fatalf("expected window length to be %d; got %d", exp, got)
		}

		window[0] = 0xba

		contents, _ := arena.FrameBytes(Frame(1))
		if exp, got := byte(0xba), contents[100]; got != exp {
			t.Fatalf("expected window to alias frame contents; got %x", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		specs := []struct {
			physAddr uintptr
			size     uintptr
		}{
			// Range starts before the arena.
			{0, 8},
			// Range extends past the arena end.
			{Frame(2).Address() + PageSize - 4, 8},
			// Range entirely past the arena end.
			{Frame(3).Address(), 16},
		}

		for specIndex, spec := range specs {
			if _, err := arena.Bytes(spec.physAddr, spec.size); err != ErrFrameNotBacked {
				t.Errorf("[spec %d] expected to get ErrFrameNotBacked; got %v", specIndex, err)
			}
		}
	})
}
