package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Strob0t/VoiceForge/internal/adapter/memory"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
	"github.com/Strob0t/VoiceForge/internal/port/messagequeue"
	"github.com/Strob0t/VoiceForge/internal/port/speech"
)

// --- speech platform ---

type fakePlatform struct {
	mu      sync.Mutex
	calls   []speech.Request
	respond func(req speech.Request) (*speech.Response, error)
}

func (f *fakePlatform) Query(_ context.Context, req speech.Request) (*speech.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakePlatform) Calls() []speech.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]speech.Request(nil), f.calls...)
}

// weatherPlatform answers every turn with a well-classified weather reply
// and a state that counts turns.
func weatherPlatform() *fakePlatform {
	return &fakePlatform{respond: func(req speech.Request) (*speech.Response, error) {
		turn := 1
		if n, ok := req.Info.State["turn_count"].(int); ok {
			turn = n + 1
		}
		return &speech.Response{
			Transcript:     req.Utterance,
			SpokenResponse: "Today it is sunny.",
			Classification: "WeatherCommand",
			Confidence:     0.95,
			State: map[string]any{
				"conversation_id": "conv-" + req.Info.Language,
				"turn_count":      turn,
			},
		}, nil
	}}
}

// --- judges ---

type fakeLLM struct {
	mu    sync.Mutex
	calls []judge.BehavioralRequest
	fn    func(ctx context.Context, req judge.BehavioralRequest) (*judge.BehavioralVerdict, error)
}

func (f *fakeLLM) Evaluate(ctx context.Context, req judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeLLM) Calls() []judge.BehavioralRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]judge.BehavioralRequest(nil), f.calls...)
}

func llmReturning(d validation.LLMDecision, c validation.Confidence) *fakeLLM {
	return &fakeLLM{fn: func(context.Context, judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
		return &judge.BehavioralVerdict{Decision: d, Score: 0.9, Confidence: c}, nil
	}}
}

func llmFailing() *fakeLLM {
	return &fakeLLM{fn: func(context.Context, judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
		return nil, errors.New("ensemble exploded")
	}}
}

type slowRules struct {
	delay time.Duration
	calls int
	mu    sync.Mutex
}

func (s *slowRules) Evaluate(ctx context.Context, req judge.DeterministicRequest) (*validation.DeterministicResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return RuleJudge{}.Evaluate(ctx, req)
}

// --- message queue ---

type published struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
	failWith  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return q.failWith
	}
	q.published = append(q.published, published{subject: subject, data: data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

// deliver hands every message published on subject to its subscriber.
func (q *fakeQueue) deliver(ctx context.Context, subject string) error {
	q.mu.Lock()
	h := q.handlers[subject]
	var msgs []published
	for _, m := range q.published {
		if m.subject == subject {
			msgs = append(msgs, m)
		}
	}
	q.mu.Unlock()
	for _, m := range msgs {
		if err := h(ctx, m.subject, m.data); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, m := range q.published {
		out[i] = m.subject
	}
	return out
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// --- broadcaster ---

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	h.events = append(h.events, eventType)
	h.mu.Unlock()
}

func (h *fakeHub) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// --- wiring ---

type harness struct {
	store     *memory.Store
	platform  *fakePlatform
	llm       *fakeLLM
	queue     *fakeQueue
	hub       *fakeHub
	scenarios *ScenarioService
	reviews   *ReviewQueueService
	streaks   *DefectStreakService
	orch      *OrchestratorService
}

func newHarness(platform *fakePlatform, llm *fakeLLM) *harness {
	cfg := config.Defaults()
	cfg.Review.CalibrationRate = 0

	h := &harness{
		store:    memory.NewStore(),
		platform: platform,
		llm:      llm,
		queue:    newFakeQueue(),
		hub:      &fakeHub{},
	}
	h.scenarios = NewScenarioService(h.store, memory.NewCache(), time.Minute)
	h.reviews = NewReviewQueueService(h.store, cfg.Review, h.hub)
	h.streaks = NewDefectStreakService(h.store, h.queue, h.hub, cfg.Defects)
	combiner := NewDecisionCombiner(RuleJudge{}, llm, time.Second)
	h.orch = NewOrchestratorService(h.store, h.scenarios, platform, combiner, h.reviews, h.streaks, cfg.Engine, cfg.Speech)
	h.orch.SetQueue(h.queue)
	h.orch.SetHub(h.hub)
	return h
}

func floatPtr(f float64) *float64 { return &f }

func weatherExpected() *validation.ExpectedOutcome {
	return &validation.ExpectedOutcome{Classification: "WeatherCommand", MinConfidence: floatPtr(0.7)}
}

// weatherScript has three steps, each in en-US (primary) and de-DE.
func weatherScript() *scenario.Script {
	steps := make([]scenario.Step, 3)
	for i := range steps {
		steps[i] = scenario.Step{
			Utterance: "What's the weather?",
			Language:  "en-US",
			Variants:  map[string]string{"de-DE": "Wie ist das Wetter?"},
			Expected:  weatherExpected(),
		}
	}
	return &scenario.Script{ID: "weather", Name: "weather check", PrimaryLanguage: "en-US", Steps: steps}
}
