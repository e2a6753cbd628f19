package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input string
		exp   string
	}{
		{
			"",
			"",
		},
		{
			"\n",
			"prefix: \n",
		},
		{
			"no line break anywhere",
			"prefix: no line break anywhere",
		},
		{
			"line feed at the end\n",
			"prefix: line feed at the end\n",
		},
		{
			"\nthe big brown\nfog jumped\nover the lazy\ndog",
			"prefix: \nprefix: the big brown\nprefix: fog jumped\nprefix: over the lazy\nprefix: dog",
		},
	}

	var (
		buf bytes.Buffer
		w   = PrefixWriter{
			Sink:   &buf,
			Prefix: []byte("prefix: "),
		}
	)

	for specIndex, spec := range specs {
		buf.Reset()
		w.midLine = false

		wrote, err := w.Write([]byte(spec.input))
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if expLen := len(spec.input); expLen != wrote {
			t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, expLen, wrote)
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	specs := []string{
		"no line break anywhere",
		"\nthe big brown\nfog jumped\nover the lazy\ndog",
	}

	var (
		expErr = errors.New("write failed")
		w      = PrefixWriter{
			Sink:   writerThatAlwaysErrors{expErr},
			Prefix: []byte("prefix: "),
		}
	)

	for specIndex, spec := range specs {
		w.midLine = false
		_, err := w.Write([]byte(spec))
		if err != expErr {
			t.Errorf("[spec %d] expected error: %v; got %v", specIndex, expErr, err)
		}
	}
}

func TestPrefixWriterAcrossWrites(t *testing.T) {
	specs := []struct {
		writes []string
		exp    string
	}{
		{
			[]string{"abc", "def\n", "ghi"},
			"> abcdef\n> ghi",
		},
		{
			[]string{"one\n", "\n", "two"},
			"> one\n> \n> two",
		},
		{
			[]string{"", "a", "", "\nb"},
			"> a\n> b",
		},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		w := PrefixWriter{Sink: &buf, Prefix: []byte("> ")}

		for _, input := range spec.writes {
			if _, err := w.Write([]byte(input)); err != nil {
				t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterShortWrite(t *testing.T) {
	specs := []struct {
		descr    string
		limit    int
		input    string
		expWrote int
		exp      string
	}{
		// the sink fails in the middle of the first line; the resumed
		// write continues that line without a new prefix.
		{"inside a line", 6, "line one\n", 4, "> linemore\n"},
		// the sink fails while writing the prefix; it is written again.
		{"inside the prefix", 1, "line one\n", 0, ">> more\n"},
		{"after a complete line", 11, "line one\nline two", 9, "> line one\n> more\n"},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			sink := &shortWriter{limit: spec.limit}
			w := PrefixWriter{Sink: sink, Prefix: []byte("> ")}

			wrote, err := w.Write([]byte(spec.input))
			if err != errShortSink {
				t.Fatalf("expected errShortSink; got %v", err)
			}
			if wrote != spec.expWrote {
				t.Errorf("expected writer to report %d bytes; got %d", spec.expWrote, wrote)
			}

			sink.limit = -1
			if _, err = w.Write([]byte("more\n")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := sink.buf.String(); got != spec.exp {
				t.Errorf("expected output %q; got %q", spec.exp, got)
			}
		})
	}
}

var errShortSink = errors.New("sink full")

// shortWriter accepts up to limit bytes and then fails. A negative limit
// accepts everything.
type shortWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if w.limit < 0 {
		return w.buf.Write(p)
	}

	n := min(len(p), w.limit-w.buf.Len())
	w.buf.Write(p[:n])
	if n < len(p) {
		return n, errShortSink
	}
	return n, nil
}

type writerThatAlwaysErrors struct {
	err error
}

func (w writerThatAlwaysErrors) Write(_ []byte) (int, error) {
	return 0, w.err
}
