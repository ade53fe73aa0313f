package streaminghttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type writeFlusher interface {
	io.Writer
	http.Flusher
}

// lockedWriteFlusher serializes writes and flushes on a shared response
// writer so a streaming goroutine and the handler cannot interleave frames.
type lockedWriteFlusher struct {
	mu sync.Mutex
	w  io.Writer
	f  http.Flusher
}

func newLockedWriteFlusher(w io.Writer, f http.Flusher) *lockedWriteFlusher {
	return &lockedWriteFlusher{w: w, f: f}
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f.Flush()
}

// writeSSEEvent frames one message as a server-sent event and flushes it. An
// empty eventID omits the id field.
func writeSSEEvent(w writeFlusher, eventID string, data []byte) error {
	var buf bytes.Buffer
	if eventID != "" {
		fmt.Fprintf(&buf, "id: %s\n", eventID)
	}
	buf.WriteString("event: message\n")
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	w.Flush()
	return nil
}
