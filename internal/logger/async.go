package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered output on shutdown.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncSink is shared by an AsyncHandler and every handler derived from it
// through WithAttrs/WithGroup.
type asyncSink struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan job
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

type job struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to a worker pool through a bounded channel so
// per-turn logging in the orchestrator never blocks on the writer. Records
// are dropped, and counted, when the buffer is full.
type AsyncHandler struct {
	inner slog.Handler
	sink  *asyncSink
}

// NewAsyncHandler starts workers draining a buffer of size records.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	s := &asyncSink{ch: make(chan job, size)}
	for range workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for j := range s.ch {
				_ = j.h.Handle(context.Background(), j.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, sink: s}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	h.sink.mu.RLock()
	defer h.sink.mu.RUnlock()
	if h.sink.closed {
		h.sink.dropped.Add(1)
		return nil
	}
	select {
	case h.sink.ch <- job{h: h.inner, rec: rec.Clone()}:
	default:
		h.sink.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), sink: h.sink}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), sink: h.sink}
}

// DroppedCount returns how many records were discarded.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.sink.dropped.Load()
}

// Close drains the buffer and reports drops through the inner handler.
// Records handled after Close are dropped. Close is idempotent.
func (h *AsyncHandler) Close() {
	h.sink.once.Do(func() {
		h.sink.mu.Lock()
		h.sink.closed = true
		close(h.sink.ch)
		h.sink.mu.Unlock()

		h.sink.wg.Wait()
		if n := h.sink.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}

// contextHandler copies the request and execution IDs from the record's
// context onto the record before passing it on, so they survive the async
// hop where the context is gone.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	if id := ExecutionID(ctx); id != "" {
		rec.AddAttrs(slog.String("execution_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
