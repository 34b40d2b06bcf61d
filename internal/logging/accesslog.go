package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// AccessLog buffers per-request log lines keyed by an opaque span id and
// flushes each span's lines as a single atomic write when the span closes,
// so interleaved concurrent requests never produce interleaved log output.
// Spans that recorded at least one error-level line flush to the error
// sink instead of the access sink.
type AccessLog struct {
	mu      sync.Mutex
	pending map[string]*spanBuffer

	accessOut io.Writer
	errorOut  io.Writer
}

type spanBuffer struct {
	lines    []string
	hasError bool
}

// NewAccessLog returns an AccessLog writing completed spans to accessOut,
// or to errorOut if the span recorded an error. A nil accessOut defaults to
// os.Stdout.
func NewAccessLog(accessOut, errorOut io.Writer) *AccessLog {
	if accessOut == nil {
		accessOut = os.Stdout
	}
	if errorOut == nil {
		errorOut = os.Stderr
	}
	return &AccessLog{
		pending:   make(map[string]*spanBuffer),
		accessOut: accessOut,
		errorOut:  errorOut,
	}
}

// Open registers a new span id. Calling Record before Open is a no-op: the
// line is dropped rather than attributed to an unknown span.
func (a *AccessLog) Open(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[id] = &spanBuffer{}
}

// Record appends a formatted line to the span's pending buffer. level
// determines only whether the span is routed to the error sink on Close;
// the line itself is written verbatim.
func (a *AccessLog) Record(id string, level logrus.Level, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.pending[id]
	if !ok {
		return
	}
	buf.lines = append(buf.lines, line)
	if level <= logrus.ErrorLevel {
		buf.hasError = true
	}
}

// Close flushes the span's buffered lines as one write and discards the
// buffer. Closing an unknown or already-closed id is a no-op.
func (a *AccessLog) Close(id string) {
	a.mu.Lock()
	buf, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok || len(buf.lines) == 0 {
		return
	}

	out := a.accessOut
	if buf.hasError {
		out = a.errorOut
	}
	joined := make([]byte, 0, 64*len(buf.lines))
	for _, line := range buf.lines {
		joined = append(joined, line...)
		joined = append(joined, '\n')
	}
	out.Write(joined)
}
