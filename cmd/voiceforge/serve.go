package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/VoiceForge/internal/adapter/http"
	cfmcp "github.com/Strob0t/VoiceForge/internal/adapter/mcp"
	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/middleware"
)

const version = "0.1.0"

func newServeCommand(app *App) *cobra.Command {
	var (
		inMemory   bool
		withWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket feed and MCP reviewer server",
		Long: `Run the HTTP API. With --memory the API keeps everything in process and
executes scenarios inside the request; otherwise executions are queued on
NATS for workers. --with-worker also consumes the queue in this process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app, inMemory, withWorker)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "memory", false, "use the in-memory store instead of Postgres and NATS")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the execution worker in this process")
	return cmd
}

func serve(ctx context.Context, app *App, inMemory, withWorker bool) error {
	cfg := app.Config
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"memory", inMemory,
	)

	st, err := wire(ctx, cfg, wireOptions{memory: inMemory, queue: true, api: true})
	if err != nil {
		return err
	}
	defer st.Close()

	if !inMemory {
		if err := migrateUp(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	}

	st.reviews.StartSweeper(ctx)
	defer st.reviews.StopSweeper()

	if withWorker && st.dispatch != nil {
		cancelWorker, err := st.dispatch.StartWorker(ctx)
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		defer func() {
			cancelWorker()
			st.dispatch.Wait()
		}()
	}

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "voiceforge",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, cfmcp.ServerDeps{
			Reviews:    st.reviews,
			Executions: st.orchestrator,
			Defects:    st.streaks,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown failed", "error", err)
			}
		}()
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Scenarios:    st.scenarios,
		Orchestrator: st.orchestrator,
		Dispatch:     st.dispatch,
		Reviews:      st.reviews,
		Streaks:      st.streaks,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Health endpoint with service status
	r.Get("/health", healthHandler(st))

	// WebSocket endpoint; kept outside the tracing and timeout wrappers so
	// the connection can be hijacked.
	r.With(middleware.TenantID).Get("/ws", st.hub.HandleWS)

	// API routes
	r.Group(func(r chi.Router) {
		r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
		r.Use(middleware.TenantID)
		if cfg.Server.RateLimitRPS > 0 {
			rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
			rl.StartCleanup(ctx, 5*time.Minute, 30*time.Minute)
			r.Use(rl.Handler)
		}
		r.Use(middleware.Idempotency(st.idempotency, cfg.Server.IdempotencyTTL))
		r.Use(chimw.Timeout(5 * time.Minute))
		cfhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports whether the backing services are reachable.
func healthHandler(st *stack) http.HandlerFunc {
	type healthStatus struct {
		Status      string `json:"status"`
		Postgres    string `json:"postgres"`
		NATS        string `json:"nats"`
		Connections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "disabled", NATS: "disabled"}
		code := http.StatusOK

		if st.pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := st.pool.Ping(ctx); err != nil {
				status.Postgres = "down"
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			} else {
				status.Postgres = "up"
			}
		}
		if st.queue != nil {
			if st.queue.IsConnected() {
				status.NATS = "up"
			} else {
				status.NATS = "down"
				status.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		if st.hub != nil {
			status.Connections = st.hub.ConnectionCount()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
