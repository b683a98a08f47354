// Package sse writes the turn event stream to the client.
package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type EventType string

const (
	EventText  EventType = "text"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Event is one frame: data: {"type":...,"content":...}
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

var (
	ErrClosed            = errors.New("sse stream closed")
	ErrStreamUnsupported = errors.New("streaming unsupported")
)

// Stream is a single client event stream. Emit is safe for concurrent use.
// Once the client goes away or a write fails every Emit returns ErrClosed.
type Stream struct {
	log     *logger.Logger
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Open writes the stream headers and flushes them. A heartbeat > 0 sends a
// comment line at that interval until the stream closes.
func Open(ctx context.Context, log *logger.Logger, w http.ResponseWriter, heartbeat time.Duration) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &Stream{log: log, w: w, flusher: flusher, done: make(chan struct{})}
	go s.watch(ctx, heartbeat)
	return s, nil
}

func (s *Stream) watch(ctx context.Context, heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.log.Debug("SSE client context done", "err", ctx.Err())
			s.Close()
			return
		case <-tick:
			s.mu.Lock()
			if !s.closed {
				if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
					s.closeLocked()
				} else {
					s.flusher.Flush()
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Stream) Emit(typ EventType, content any) error {
	raw, err := json.Marshal(Event{Type: typ, Content: content})
	if err != nil {
		return fmt.Errorf("encode sse event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		s.log.Debug("SSE write failed", "error", err)
		s.closeLocked()
		return ErrClosed
	}
	s.flusher.Flush()
	return nil
}

func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
