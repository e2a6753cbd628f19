// Package kfmt implements the kernel's formatted output facilities. Output is
// routed to one of two sinks: the console sink (Printf) which is what the
// user sees and the log sink (Logf) which is normally a serial port. Output
// produced before a sink is attached is retained in a ring buffer and
// replayed once the sink becomes available.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digits          = []byte("0123456789abcdef")

	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	earlyOutput, earlyLog ringBuffer

	// outputSink and logSink are the targets for Printf and Logf. While
	// nil, output is redirected to the matching early ring buffer.
	outputSink, logSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and replays any data
// accumulated before the sink was attached.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyOutput)
	}
}

// GetOutputSink returns the current target for calls to Printf.
func GetOutputSink() io.Writer { return outputSink }

// SetLogSink sets the target for calls to Logf to w and replays any data
// accumulated before the sink was attached.
func SetLogSink(w io.Writer) {
	logSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyLog)
	}
}

// GetLogSink returns the current target for calls to Logf.
func GetLogSink() io.Writer { return logSink }

// LogWriter forwards writes to whichever log sink is attached at the time of
// the write, or to the early log buffer.
var LogWriter io.Writer = logWriter{}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if logSink == nil {
		return earlyLog.Write(p)
	}
	return logSink.Write(p)
}

// Printf formats its arguments and writes them to the console sink. The
// implementation does not allocate memory so it can be used before the Go
// allocator is available.
//
// The following subset of formatting verbs is supported:
//
//	%s  string or byte slice
//	%c  a single byte or rune (ASCII only)
//	%d  base 10 integer
//	%o  base 8 integer
//	%x  base 16 integer, lower-case
//	%t  "true" or "false"
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings and base-10 values are padded
// with spaces, base-8 and base-16 values with zeroes. A leading 0 in the
// width forces zero padding.
func Printf(format string, args ...interface{}) {
	fprintf(outputSink, &earlyOutput, format, args...)
}

// Logf behaves like Printf but writes to the log sink.
func Logf(format string, args ...interface{}) {
	fprintf(logSink, &earlyLog, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fprintf(w, &earlyOutput, format, args...)
}

func fprintf(w io.Writer, fallback io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = fallback
	}

	var (
		argIndex int
		width    int
		zeroPad  bool
	)

	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			writeByte(w, ch)
			continue
		}

		width, zeroPad = 0, false
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			if width == 0 && format[i] == '0' {
				zeroPad = true
				continue
			}
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 's', 'c', 'd', 'o', 'x', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 'c':
			fmtChar(w, arg)
		case 'd':
			fmtInt(w, arg, 10, width, zeroPad)
		case 'o':
			fmtInt(w, arg, 8, width, true)
		case 'x':
			fmtInt(w, arg, 16, width, true)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtChar(w io.Writer, v interface{}) {
	switch c := v.(type) {
	case byte:
		writeByte(w, c)
	case rune:
		writeByte(w, byte(c))
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		// converting the string to a byte slice triggers a memory
		// allocation so it is written one byte at a time.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt writes v in the requested base. All built-in integer types are
// supported.
func fmtInt(w io.Writer, v interface{}, base uint64, width int, zeroPad bool) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	// Digits are produced right to left starting at the end of numFmtBuf.
	pos := maxBufSize
	for {
		pos--
		numFmtBuf[pos] = digits[uval%base]
		uval /= base
		if uval == 0 {
			break
		}
	}

	digitCount := maxBufSize - pos
	if neg {
		digitCount++
	}

	padCh := byte(' ')
	if zeroPad {
		padCh = '0'
	}

	if padCh == ' ' {
		fmtRepeat(w, ' ', width-digitCount)
	}
	if neg {
		writeByte(w, '-')
	}
	if padCh == '0' {
		fmtRepeat(w, '0', width-digitCount)
	}
	doWrite(w, numFmtBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without it the compiler flags p as escaping
// through the io.Writer call and every Printf would allocate.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	_, _ = w.Write(p)
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
