package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stakecast/round-engine/internal/chain"
	"github.com/stakecast/round-engine/internal/config"
	"github.com/stakecast/round-engine/internal/escrow"
	"github.com/stakecast/round-engine/internal/metrics"
	"github.com/stakecast/round-engine/internal/monitor"
	"github.com/stakecast/round-engine/internal/round"
	"github.com/stakecast/round-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("SC_CONFIG"))
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DB.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DB.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Redis.TTL)
			slog.Info("redis cache enabled", "ttl", cfg.Redis.TTL)
		}
	} else {
		slog.Warn("db url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Height source ---
	heights, err := chain.NewIntervalClock(cfg.Chain.Genesis, cfg.Chain.BlockInterval)
	if err != nil {
		slog.Error("invalid chain clock", "err", err)
		os.Exit(1)
	}

	// --- Escrow ledger ---
	// In-process ledger; production deployments plug the host ledger in.
	ledger := escrow.NewMemoryLedger()

	// --- Protocol parameters ---
	params := config.NewParams(cfg.Params)

	// --- Event hub ---
	hub := round.NewEventHub()
	go hub.Run()

	// --- Round lifecycle service ---
	svc := round.NewService(st, ledger, heights, params, hub)

	// --- Resolution sweep ---
	if cfg.Cron.Enabled {
		sweeper := monitor.NewSweeper(st, heights, context.Background())
		if err := sweeper.Start(cfg.Cron.ResolveSweep); err != nil {
			slog.Error("failed to start resolution sweep", "err", err)
			os.Exit(1)
		}
		defer sweeper.Stop()
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"round-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time lifecycle events.
		r.Get("/ws", hub.HandleWS)

		// Round lifecycle.
		r.Get("/rounds", svc.ListRounds)
		r.Post("/rounds", svc.CreateRound)
		r.Get("/rounds/{asset}/{roundID}", svc.GetRound)
		r.Get("/rounds/{asset}/{roundID}/sentiment", svc.GetSentiment)
		r.Get("/rounds/{asset}/{roundID}/predictions/{predictor}", svc.GetPrediction)
		r.Post("/rounds/{asset}/{roundID}/resolve", svc.ResolveRound)
		r.Post("/rounds/{asset}/{roundID}/claim", svc.ClaimReward)

		// Prediction submission.
		r.Post("/predictions", svc.SubmitPrediction)

		// Reputation and global counters.
		r.Get("/reputation/{predictor}", svc.GetReputation)
		r.Get("/stats", svc.GetStats)

		// Owner-gated protocol parameters.
		r.Put("/admin/params", svc.UpdateParams)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("round-engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down round-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("round-engine stopped")
}
