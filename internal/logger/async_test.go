package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/VoiceForge/internal/config"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func turnRecord(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandlerDeliversAfterClose(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 1000, 2)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = ah.Handle(context.Background(), turnRecord("step validated"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != 500 {
		t.Fatalf("expected 500 records, got %d", got)
	}
	if ah.DroppedCount() != 0 {
		t.Fatalf("expected no drops, got %d", ah.DroppedCount())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	inner := &recordingHandler{delay: 10 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 50 {
		_ = ah.Handle(context.Background(), turnRecord("flood"))
	}
	ah.Close()

	dropped := ah.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops with a one-record buffer")
	}
	if got := int64(inner.count()); got != 50-dropped+1 {
		t.Fatalf("expected delivered records plus one drop report, got %d (dropped %d)", got, dropped)
	}
}

func TestAsyncHandlerCloseIdempotent(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	derived := ah.WithAttrs([]slog.Attr{slog.String("language", "en-US")})

	ah.Close()
	ah.Close()

	if err := derived.Handle(context.Background(), turnRecord("late")); err != nil {
		t.Fatalf("Handle after Close returned %v", err)
	}
	if ah.DroppedCount() != 1 {
		t.Fatalf("expected the late record counted as dropped, got %d", ah.DroppedCount())
	}
}

func TestContextHandlerAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(contextHandler{slog.NewJSONHandler(&buf, nil)})

	ctx := WithExecutionID(WithRequestID(context.Background(), "req-1"), "exec-1")
	l.InfoContext(ctx, "turn sent")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if rec["request_id"] != "req-1" || rec["execution_id"] != "exec-1" {
		t.Fatalf("expected ids on record, got %v", rec)
	}
}

func TestContextHandlerSurvivesAsync(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "svc", Async: true}, &buf)

	l.InfoContext(WithRequestID(context.Background(), "req-async"), "queued")
	closer.Close()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if rec["request_id"] != "req-async" {
		t.Fatalf("expected request_id after async hop, got %v", rec["request_id"])
	}
}
