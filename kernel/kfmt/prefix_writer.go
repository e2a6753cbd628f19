package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	midLine bool
}

// Write writes p to the sink, injecting the prefix after each line feed that
// is followed by more data. The line state carries over between calls. The
// injected prefix is not included in the returned byte count.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		line, endsLine := p, false
		if idx := bytes.IndexByte(p, '\n'); idx != -1 {
			line, endsLine = p[:idx+1], true
		}

		// A failed write never reached the line feed so the next write
		// continues the current line.
		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = !endsLine
		p = p[len(line):]
	}

	return written, nil
}
