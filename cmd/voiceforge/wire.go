package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/VoiceForge/internal/adapter/ensemble"
	"github.com/Strob0t/VoiceForge/internal/adapter/memory"
	cfnats "github.com/Strob0t/VoiceForge/internal/adapter/nats"
	"github.com/Strob0t/VoiceForge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/adapter/postgres"
	"github.com/Strob0t/VoiceForge/internal/adapter/ristretto"
	"github.com/Strob0t/VoiceForge/internal/adapter/speechapi"
	"github.com/Strob0t/VoiceForge/internal/adapter/tiered"
	"github.com/Strob0t/VoiceForge/internal/adapter/ws"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/port/broadcast"
	"github.com/Strob0t/VoiceForge/internal/port/cache"
	"github.com/Strob0t/VoiceForge/internal/port/database"
	"github.com/Strob0t/VoiceForge/internal/port/messagequeue"
	"github.com/Strob0t/VoiceForge/internal/resilience"
	"github.com/Strob0t/VoiceForge/internal/service"
)

// wireOptions selects the infrastructure a subcommand needs.
type wireOptions struct {
	memory bool // in-process store and cache, no Postgres or NATS
	queue  bool // connect NATS and enable the dispatcher
	api    bool // create the WebSocket hub and the idempotency store
}

// stack is the wired dependency graph.
type stack struct {
	pool        *pgxpool.Pool
	queue       *cfnats.Queue
	hub         *ws.Hub
	idempotency cache.Cache

	store        database.Store
	scenarios    *service.ScenarioService
	orchestrator *service.OrchestratorService
	dispatch     *service.DispatchService
	reviews      *service.ReviewQueueService
	streaks      *service.DefectStreakService

	closers []func()
}

// Close releases resources in reverse acquisition order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func wire(ctx context.Context, cfg *config.Config, opts wireOptions) (*stack, error) {
	s := &stack{}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	// --- Observability ---

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	})
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	var mq messagequeue.Queue
	if opts.queue && !opts.memory {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		s.queue = q
		mq = q
		s.closers = append(s.closers, func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		})
	}

	var scripts cache.Cache
	if opts.memory {
		s.store = memory.NewStore()
		scripts = memory.NewCache()
	} else {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.pool = pool
		s.closers = append(s.closers, pool.Close)
		s.store = postgres.NewStore(pool)
		slog.Info("postgres connected")

		if scripts, err = s.scenarioCache(ctx, cfg.Cache); err != nil {
			return nil, err
		}
	}

	var hub broadcast.Broadcaster
	if opts.api {
		s.hub = ws.NewHub(cfg.Server.CORSOrigin, slog.Default())
		hub = s.hub
		if s.idempotency, err = s.idempotencyStore(ctx, cfg.Server); err != nil {
			return nil, err
		}
	}

	// --- Outbound clients ---

	speech := speechapi.NewClient(cfg.Speech.URL, cfg.Speech.APIKey, cfg.Speech.Timeout)
	speech.SetBreaker(resilience.NewBreaker("speech", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	judges := ensemble.NewClient(cfg.Ensemble.URL, cfg.Ensemble.APIKey, cfg.Ensemble.Timeout)
	judges.SetBreaker(resilience.NewBreaker("ensemble", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	s.scenarios = service.NewScenarioService(s.store, scripts, cfg.Cache.L2TTL)

	s.reviews = service.NewReviewQueueService(s.store, cfg.Review, hub)
	s.reviews.SetMetrics(metrics)

	s.streaks = service.NewDefectStreakService(s.store, mq, hub, cfg.Defects)
	s.streaks.SetMetrics(metrics)

	combiner := service.NewDecisionCombiner(service.RuleJudge{}, judges, cfg.Ensemble.Timeout)
	combiner.SetMetrics(metrics)

	s.orchestrator = service.NewOrchestratorService(
		s.store, s.scenarios, speech, combiner, s.reviews, s.streaks, cfg.Engine, cfg.Speech,
	)
	s.orchestrator.SetMetrics(metrics)
	if mq != nil {
		s.orchestrator.SetQueue(mq)
		s.dispatch = service.NewDispatchService(s.store, s.scenarios, mq, s.orchestrator, cfg.Worker.MaxConcurrent)
	}
	if hub != nil {
		s.orchestrator.SetHub(hub)
	}

	ok = true
	return s, nil
}

// scenarioCache fronts a NATS KV bucket with ristretto. Without NATS the
// in-process tier is used alone.
func (s *stack) scenarioCache(ctx context.Context, cfg config.Cache) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	s.closers = append(s.closers, l1.Close)
	if s.queue == nil {
		return l1, nil
	}
	kv, err := s.queue.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.L1TTL), nil
}

// idempotencyStore keeps replayable responses in a NATS KV bucket so every
// API replica sees them; a single process without NATS keeps them in memory.
func (s *stack) idempotencyStore(ctx context.Context, cfg config.Server) (cache.Cache, error) {
	if s.queue == nil {
		return memory.NewCache(), nil
	}
	kv, err := s.queue.KeyValue(ctx, "voiceforge-idempotency", cfg.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency: %w", err)
	}
	return natskv.New(kv), nil
}
