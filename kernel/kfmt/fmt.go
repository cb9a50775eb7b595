// Package kfmt provides formatted output primitives that are safe to use
// from any point in the kernel lifecycle: nothing in this package allocates,
// so logging works before the kernel heap comes online. Output produced
// before an output sink is registered accumulates in a fixed-size ring
// buffer and is replayed into the sink once one is installed.
package kfmt

import "io"

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	missingArgText = []byte("(MISSING)")
	wrongArgText   = []byte("%!(WRONGTYPE)")
	noVerbText     = []byte("%!(NOVERB)")
	extraArgText   = []byte("%!(EXTRA)")
	trueText       = []byte("true")
	falseText      = []byte("false")

	// numBuf is the shared scratch buffer for integer formatting.
	numBuf [maxBufSize]byte

	// byteBuf is the shared buffer for emitting single characters; reusing
	// it keeps string formatting allocation-free.
	byteBuf = []byte{0}

	// earlyPrintBuffer captures any output generated before a call to
	// SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While it
	// is nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any
// output accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the active output sink, or nil while output is
// still being captured by the early print buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats its arguments and writes the result to the active output
// sink. It supports the following subset of the fmt verb table:
//
// Strings:
//	%s	the uninterpreted bytes of a string or byte slice
//
// Integers:
//	%o	base 8
//	%d	base 10
//	%x	base 16, lower-case letters for a-f
//
// Booleans:
//	%t	"true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the
// verb; if absent, the width is whatever the value needs. Short strings and
// base-10 integers are left-padded with spaces; base-8 and base-16 integers
// are left-padded with zeroes.
//
// Unlike fmt.Printf there is no %v or %p and unsupported argument types
// render as %!(WRONGTYPE): the format machinery never consults reflection so
// it stays usable while the kernel bootstraps itself.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to the
// supplied io.Writer. A nil writer routes the output to the early print
// buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var nextArg int

	for i := 0; i < len(format); {
		if format[i] != '%' {
			emitByte(w, format[i])
			i++
			continue
		}

		// Scan the optional width preceding the verb
		i++
		width := 0
		for ; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			emit(w, noVerbText)
			break
		}

		verb := format[i]
		i++

		if verb == '%' {
			emitByte(w, '%')
			continue
		}

		if verb != 'd' && verb != 'x' && verb != 'o' && verb != 's' && verb != 't' {
			emit(w, noVerbText)
			continue
		}

		if nextArg >= len(args) {
			emit(w, missingArgText)
			continue
		}

		arg := args[nextArg]
		nextArg++

		switch verb {
		case 'o':
			fmtInt(w, arg, 8, width)
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	// Flag any unused args
	for ; nextArg < len(args); nextArg++ {
		emit(w, extraArgText)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, isBool := v.(bool)
	if !isBool {
		emit(w, wrongArgText)
		return
	}

	if bVal {
		emit(w, trueText)
		return
	}
	emit(w, falseText)
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch sVal := v.(type) {
	case string:
		for pad := width - len(sVal); pad > 0; pad-- {
			emitByte(w, ' ')
		}
		// converting the string to a byte slice would allocate so the
		// bytes go out one at a time.
		for i := 0; i < len(sVal); i++ {
			emitByte(w, sVal[i])
		}
	case []byte:
		for pad := width - len(sVal); pad > 0; pad-- {
			emitByte(w, ' ')
		}
		emit(w, sVal)
	default:
		emit(w, wrongArgText)
	}
}

// fmtInt prints a formatted version of v in the requested base, applying the
// padding specified by width. All built-in signed and unsigned integer types
// are supported.
func fmtInt(w io.Writer, v interface{}, base, width int) {
	var (
		uval uint64
		sval int64
		neg  bool
	)

	switch num := v.(type) {
	case uint8:
		uval = uint64(num)
	case uint16:
		uval = uint64(num)
	case uint32:
		uval = uint64(num)
	case uint64:
		uval = num
	case uintptr:
		uval = uint64(num)
	case int8:
		sval = int64(num)
	case int16:
		sval = int64(num)
	case int32:
		sval = int64(num)
	case int64:
		sval = num
	case int:
		sval = int64(num)
	default:
		emit(w, wrongArgText)
		return
	}

	if sval < 0 {
		neg, uval = true, uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	padCh := byte(' ')
	if base != 10 {
		padCh = '0'
	}

	// Emit the digits least-significant first, then pad and reverse in
	// place.
	n := 0
	for {
		digit := byte(uval % uint64(base))
		if digit < 10 {
			numBuf[n] = '0' + digit
		} else {
			numBuf[n] = 'a' + digit - 10
		}
		n++

		if uval /= uint64(base); uval == 0 {
			break
		}
	}

	if neg && padCh == '0' {
		// A zero pad goes between the sign and the digits
		for ; n < width; n++ {
			numBuf[n] = padCh
		}
		numBuf[n] = '-'
		n++
	} else {
		if neg {
			numBuf[n] = '-'
			n++
		}
		for ; n < width; n++ {
			numBuf[n] = padCh
		}
	}

	for left, right := 0, n-1; left < right; left, right = left+1, right-1 {
		numBuf[left], numBuf[right] = numBuf[right], numBuf[left]
	}

	emit(w, numBuf[0:n])
}

// emit writes p to the supplied writer, or to the early print buffer while no
// writer is active.
func emit(w io.Writer, p []byte) {
	if w == nil {
		earlyPrintBuffer.Write(p)
		return
	}
	w.Write(p)
}

// emitByte writes a single byte through the shared one-byte buffer.
func emitByte(w io.Writer, ch byte) {
	byteBuf[0] = ch
	emit(w, byteBuf)
}
