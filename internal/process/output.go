package process

import (
	"bytes"
	"sync"
)

// maxLineLength caps a buffered output line; longer lines are flushed early.
const maxLineLength = 4096

// lineWriter forwards child output to the logger one line at a time.
type lineWriter struct {
	logger Logger
	name   string
	stream string

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(logger Logger, name, stream string) *lineWriter {
	return &lineWriter{logger: logger, name: name, stream: stream}
}

// Write implements io.Writer. It never fails.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(w.buf)
		w.buf = nil
	}

	return len(p), nil
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debug("process output",
		"name", w.name,
		"stream", w.stream,
		"line", string(line),
	)
}
