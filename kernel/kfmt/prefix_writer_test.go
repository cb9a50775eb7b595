package kfmt

import (
	"bytes"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		writes    []string
		expOutput string
	}{
		{
			[]string{"single line\n"},
			"[frame_alloc] single line\n",
		},
		{
			[]string{"first\nsecond\n"},
			"[frame_alloc] first\n[frame_alloc] second\n",
		},
		{
			// A line split across writes gets a single prefix
			[]string{"partial", " line\n", "next"},
			"[frame_alloc] partial line\n[frame_alloc] next",
		},
		{
			[]string{"\n\n"},
			"[frame_alloc] \n[frame_alloc] \n",
		},
		{
			[]string{""},
			"",
		},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		w := &PrefixWriter{
			Sink:   &buf,
			Prefix: []byte("[frame_alloc] "),
		}

		var written int
		for _, data := range spec.writes {
			n, err := w.Write([]byte(data))
			if err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
			written += n
		}

		var expWritten int
		for _, data := range spec.writes {
			expWritten += len(data)
		}

		if written != expWritten {
			t.Errorf("[spec %d] expected writer to report %d written bytes; got %d", specIndex, expWritten, written)
		}

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get:\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}
