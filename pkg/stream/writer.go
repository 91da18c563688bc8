package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Headers of an NDJSON chat response.
var Headers = map[string]string{
	"Content-Type":      "application/json-lines; charset=utf-8",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

// WriteHeaders starts a streaming response and flushes it immediately.
func WriteHeaders(w http.ResponseWriter) {
	for k, v := range Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Writer is the output sink handed to the engine. It splits what the engine
// writes into lines, feeds each chunk to the aggregator and forwards the
// enriched chunk to the client. Lines that are not chunks pass through.
//
// When out is an http.ResponseWriter the stream headers are written on
// Start or on the first Write, whichever comes first.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	agg     *Aggregator
	buf     bytes.Buffer
	started bool
}

func NewWriter(out io.Writer, agg *Aggregator) *Writer {
	return &Writer{out: out, agg: agg}
}

// Start commits the response to streaming.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start()
}

// Started reports whether the stream headers have been written.
func (w *Writer) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Writer) start() {
	if w.started {
		return
	}
	w.started = true
	if rw, ok := w.out.(http.ResponseWriter); ok {
		WriteHeaders(rw)
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.start()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}
	w.flush()
	return len(p), nil
}

// Close forwards a trailing line without newline, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.String()
	w.buf.Reset()
	err := w.emit(line)
	w.flush()
	return err
}

func (w *Writer) emit(line string) error {
	_, err := io.WriteString(w.out, w.transform(line))
	return err
}

func (w *Writer) transform(text string) string {
	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 {
		return text
	}

	var chunk StructuredChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil || chunk.Type == "" {
		return text
	}

	msg := w.agg.Ingest(chunk)
	enriched, err := json.Marshal(Enrich(chunk, msg))
	if err != nil {
		return text
	}
	return string(enriched) + "\n"
}

func (w *Writer) flush() {
	if f, ok := w.out.(http.Flusher); ok {
		f.Flush()
	}
}
