package ensemble_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/VoiceForge/internal/adapter/ensemble"
	"github.com/Strob0t/VoiceForge/internal/domain/conversation"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
)

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/evaluate" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req judge.BehavioralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Context.ScenarioName != "weather" || len(req.Context.History) != 1 {
			t.Fatalf("context not forwarded: %+v", req.Context)
		}
		_, _ = w.Write([]byte(`{"final_decision":"pass","final_score":0.91,"confidence":"high"}`))
	}))
	defer srv.Close()

	c := ensemble.NewClient(srv.URL, "", time.Second)
	v, err := c.Evaluate(context.Background(), judge.BehavioralRequest{
		UserUtterance: "What's the weather today?",
		AIResponse:    "Sunny.",
		Context: judge.Context{
			StepPosition: 1,
			ScenarioName: "weather",
			History:      []conversation.Turn{{StepPosition: 0, UserUtterance: "hi", AIResponse: "hello"}},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := validation.LLMVerdict{Decision: validation.LLMPass, Score: 0.91, Confidence: validation.ConfidenceHigh}
	if *v != want {
		t.Fatalf("got %+v, want %+v", *v, want)
	}
}

func TestEvaluateRejectsUnknownVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"final_decision":"probably","final_score":0.5,"confidence":"high"}`))
	}))
	defer srv.Close()

	_, err := ensemble.NewClient(srv.URL, "", time.Second).Evaluate(context.Background(), judge.BehavioralRequest{})
	if !errors.Is(err, judge.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEvaluateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := ensemble.NewClient(srv.URL, "", 50*time.Millisecond).Evaluate(context.Background(), judge.BehavioralRequest{})
	if !errors.Is(err, judge.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not enforced")
	}
}
