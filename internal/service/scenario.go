package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/cache"
	"github.com/Strob0t/VoiceForge/internal/port/database"
)

// ScenarioService manages versioned conversation scripts. Script versions
// are immutable, so reads by version go through the cache.
type ScenarioService struct {
	store database.ScenarioStore
	cache cache.Cache
	ttl   time.Duration
}

// NewScenarioService creates a ScenarioService. c may be nil.
func NewScenarioService(store database.ScenarioStore, c cache.Cache, ttl time.Duration) *ScenarioService {
	return &ScenarioService{store: store, cache: c, ttl: ttl}
}

// Create validates and stores sc as a new version.
func (s *ScenarioService) Create(ctx context.Context, sc *scenario.Script) error {
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.store.CreateScenario(ctx, sc); err != nil {
		return fmt.Errorf("create scenario: %w", err)
	}
	s.put(ctx, sc)
	slog.Info("scenario stored", "scenario_id", sc.ID, "version", sc.Version, "steps", len(sc.Steps))
	return nil
}

// Import parses a YAML script document and stores it.
func (s *ScenarioService) Import(ctx context.Context, data []byte) (*scenario.Script, error) {
	var sc scenario.Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: parse scenario: %w", domain.ErrValidation, err)
	}
	if err := s.Create(ctx, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Get returns the latest version of a script.
func (s *ScenarioService) Get(ctx context.Context, id string) (*scenario.Script, error) {
	sc, err := s.store.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	s.put(ctx, sc)
	return sc, nil
}

// GetVersion returns one immutable version of a script.
func (s *ScenarioService) GetVersion(ctx context.Context, id string, version int) (*scenario.Script, error) {
	key := scenarioKey(ctx, id, version)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var sc scenario.Script
			if err := json.Unmarshal(data, &sc); err == nil {
				return &sc, nil
			}
		}
	}

	sc, err := s.store.GetScenarioVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	s.put(ctx, sc)
	return sc, nil
}

// List returns the latest version of every script.
func (s *ScenarioService) List(ctx context.Context) ([]scenario.Script, error) {
	return s.store.ListScenarios(ctx)
}

func (s *ScenarioService) put(ctx context.Context, sc *scenario.Script) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, scenarioKey(ctx, sc.ID, sc.Version), data, s.ttl); err != nil {
		slog.Debug("scenario cache set failed", "scenario_id", sc.ID, "error", err)
	}
}

func scenarioKey(ctx context.Context, id string, version int) string {
	return fmt.Sprintf("scenario:%s:%s:v%d", middleware.TenantIDFromContext(ctx), id, version)
}
