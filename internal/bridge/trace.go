package bridge

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
)

// TraceWriter records bridge samples as CSV rows.
type TraceWriter struct {
	f   *os.File
	w   *csv.Writer
	enc *csvutil.Encoder
	err error
}

// NewTraceWriter creates (or truncates) path and writes the header row.
func NewTraceWriter(path string) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create current trace: %w", err)
	}
	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(Sample{}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return &TraceWriter{f: f, w: w, enc: enc}, nil
}

// Write appends one sample. It can be passed to WithSink; the first error is
// kept and returned by Close.
func (t *TraceWriter) Write(s Sample) {
	if t.err != nil {
		return
	}
	t.err = t.enc.Encode(s)
}

// Close flushes buffered rows and closes the file.
func (t *TraceWriter) Close() error {
	t.w.Flush()
	if t.err == nil {
		t.err = t.w.Error()
	}
	if err := t.f.Close(); t.err == nil {
		t.err = err
	}
	return t.err
}
