package main

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
)

// kfmtWriter forwards the line-oriented kernel output to a logrus logger.
// A leading "[module] " tag is turned into a module field.
type kfmtWriter struct {
	entry *logrus.Entry
	level logrus.Level
	buf   []byte
}

func newKfmtWriter(logger *logrus.Logger, sink string, level logrus.Level) *kfmtWriter {
	return &kfmtWriter{
		entry: logger.WithField("sink", sink),
		level: level,
	}
}

// Write implements io.Writer. Partial lines are kept until the line feed
// arrives or Flush is called.
func (w *kfmtWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}

		w.emit(string(w.buf[:idx]))
		w.buf = w.buf[idx+1:]
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *kfmtWriter) Flush() {
	if len(w.buf) != 0 {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
}

func (w *kfmtWriter) emit(line string) {
	line = strings.TrimRight(line, "\r ")
	if line == "" {
		return
	}

	entry := w.entry
	if module, msg, ok := splitModule(line); ok {
		entry, line = entry.WithField("module", module), msg
	}
	entry.Log(w.level, line)
}

// splitModule splits "[module] message" into its parts.
func splitModule(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}

	end := strings.Index(line, "] ")
	if end < 2 {
		return "", "", false
	}
	return line[1:end], strings.TrimSpace(line[end+2:]), true
}
