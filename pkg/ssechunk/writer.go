package ssechunk

import (
	"fmt"
	"io"
)

// Writer writes well-formed Anthropic-dialect SSE events to an
// http.ResponseWriter-like sink. Adapted from the teacher's
// pkg/providerutils/streaming SSEWriter, narrowed to the named-event-plus-
// JSON-data shape every Anthropic SSE frame uses.
type Writer struct {
	w       io.Writer
	flusher interface{ Flush() }
}

// NewWriter wraps w. If w also implements an http.Flusher-shaped Flush(),
// every WriteEvent call flushes immediately so the client sees bytes as soon
// as they're translated (spec §5: streams are processed chunk-by-chunk).
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: w}
	if f, ok := w.(interface{ Flush() }); ok {
		wr.flusher = f
	}
	return wr
}

// WriteEvent writes one "event: <name>\ndata: <data>\n\n" frame.
func (w *Writer) WriteEvent(name, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
