package shell

import (
	"bytes"
	"strings"
)

// tailWriter keeps the last n lines written to it.
type tailWriter struct {
	n     int
	lines []string
	buf   []byte
}

func newTailWriter(n int) *tailWriter {
	return &tailWriter{n: n}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.push(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush keeps a trailing line that was not terminated by a newline.
func (w *tailWriter) Flush() {
	if len(w.buf) > 0 {
		w.push(string(w.buf))
		w.buf = nil
	}
}

// Lines returns the retained lines, oldest first.
func (w *tailWriter) Lines() []string {
	if len(w.lines) == 0 {
		return nil
	}
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}

func (w *tailWriter) push(line string) {
	w.lines = append(w.lines, strings.TrimSuffix(line, "\r"))
	if len(w.lines) > w.n {
		w.lines = w.lines[len(w.lines)-w.n:]
	}
}
