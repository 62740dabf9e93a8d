package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// sseKeepaliveInterval is how often a comment line is written to hold idle
// streams open through proxies.
const sseKeepaliveInterval = 15 * time.Second

// sseEventError is the SSE event type used for terminal error records.
const sseEventError = "error"

// sseWriter emits Server-Sent Events frames: an incrementing id line, an
// optional event line, one data line, and a blank terminator.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	nextID  int
}

// newSSEWriter prepares the response for SSE and returns the writer. It
// fails when the underlying ResponseWriter cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported: http.Flusher not available")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher, nextID: 1}, nil
}

// writeEvent marshals payload and writes one SSE record. eventType may be
// empty for the default event type.
func (s *sseWriter) writeEvent(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\n", s.nextID); err != nil {
		return err
	}
	s.nextID++
	if eventType != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeKeepalive writes a comment line that clients ignore.
func (s *sseWriter) writeKeepalive() {
	fmt.Fprintf(s.w, ": keepalive %s\n\n", time.Now().UTC().Format(time.RFC3339))
	s.flusher.Flush()
}
