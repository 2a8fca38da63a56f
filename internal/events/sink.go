package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// keepaliveFrame is a comment line per the NDJSON framing: lines starting
// with ':' carry no event and are skipped by readers.
const keepaliveFrame = ": keepalive\n"

// Flusher mirrors http.Flusher so the sink can push each line through
// response buffering without importing net/http.
type Flusher interface {
	Flush()
}

// Mirror receives a copy of every delivered event, already marshaled.
// Mirrors are best-effort; errors never affect the primary stream.
type Mirror func(kind Type, payload []byte)

// Sink writes one JSON object per line to a client connection. The first
// write failure marks the sink closed and every later Send becomes a no-op,
// so a departed client never blocks or aborts the job driving it.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	flush  Flusher
	mirror Mirror
	clock  func() time.Time
	lastTS time.Time
	closed bool
	log    *slog.Logger
}

type SinkOption func(*Sink)

func WithFlusher(f Flusher) SinkOption {
	return func(s *Sink) { s.flush = f }
}

func WithMirror(m Mirror) SinkOption {
	return func(s *Sink) { s.mirror = m }
}

func withClock(clock func() time.Time) SinkOption {
	return func(s *Sink) { s.clock = clock }
}

func NewSink(w io.Writer, log *slog.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		w:     w,
		clock: time.Now,
		log:   log.With(slog.String("component", "events")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if f, ok := w.(Flusher); ok && s.flush == nil {
		s.flush = f
	}
	return s
}

// Send stamps, marshals, and writes the event. It returns false when the
// sink is already closed or the write fails; callers treat that as "client
// gone" and keep working.
func (s *Sink) Send(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	now := s.clock().UTC()
	if now.Before(s.lastTS) {
		now = s.lastTS
	}
	s.lastTS = now
	evt.stamp(now)

	payload, err := json.Marshal(evt)
	if err != nil {
		s.log.Error("marshal event", slog.String("type", string(evt.Kind())), slog.String("error", err.Error()))
		return false
	}
	if _, err := s.w.Write(append(payload, '\n')); err != nil {
		s.closed = true
		s.log.Debug("stream client gone", slog.String("error", err.Error()))
		return false
	}
	if s.flush != nil {
		s.flush.Flush()
	}
	if s.mirror != nil {
		s.mirror(evt.Kind(), payload)
	}
	return true
}

// Keepalive writes a comment frame so intermediaries keep the connection
// open during long synthesis gaps.
func (s *Sink) Keepalive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, err := io.WriteString(s.w, keepaliveFrame); err != nil {
		s.closed = true
		return false
	}
	if s.flush != nil {
		s.flush.Flush()
	}
	return true
}

// StartKeepalive emits keepalive frames every interval until ctx is done
// or the sink closes. The returned stop function waits for the goroutine.
func (s *Sink) StartKeepalive(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if !s.Keepalive() {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the sink closed without touching the writer; the HTTP layer
// owns the connection lifecycle.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
