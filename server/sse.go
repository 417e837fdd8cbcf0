package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

// Event types emitted on the wire. Clients treat "done" and "error" as
// terminal; fragments already received before an "error" stay valid.
const (
	eventFragment = "fragment"
	eventError    = "error"
	eventDone     = "done"
)

type ssePayload struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// sseWriter renders the fragment sequence as server-sent events, flushing
// after every event so the first fragment reaches the client immediately.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

var _ streamx.Writer = (*sseWriter)(nil)

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) WriteFragment(text string) error {
	return s.writeEvent(eventFragment, ssePayload{Content: text})
}

func (s *sseWriter) WriteError(msg string) error {
	return s.writeEvent(eventError, ssePayload{Error: msg})
}

func (s *sseWriter) WriteDone() error {
	return s.writeEvent(eventDone, ssePayload{})
}

func (s *sseWriter) writeEvent(eventType string, payload ssePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
