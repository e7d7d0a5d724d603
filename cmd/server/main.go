package main

import (
	"context"
	"flag"
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

	"github.com/upspin-bets/wager-engine/internal/book"
	"github.com/upspin-bets/wager-engine/internal/config"
	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/ledger"
	"github.com/upspin-bets/wager-engine/internal/limits"
	"github.com/upspin-bets/wager-engine/internal/market"
	"github.com/upspin-bets/wager-engine/internal/metrics"
	"github.com/upspin-bets/wager-engine/internal/milestone"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
	"github.com/upspin-bets/wager-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
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
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			slog.Info("redis cache enabled", "ttl", cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Entity locks ---
	locks := keylock.NewRegistry(cfg.Engine.LockWait)

	// --- Event emitters: WebSocket hub plus the structured log trail ---
	hub := events.NewHub()
	go hub.Run()
	emitter := events.Multi{hub, events.NewLogEmitter(logger)}

	// --- Exposure limits ---
	var limiter *limits.StakeLimiter
	if cfg.Engine.MaxStakeMarket.IsPositive() || cfg.Engine.MaxStakeTotal.IsPositive() {
		limiter = limits.NewStakeLimiter(cfg.Engine.MaxStakeMarket.Decimal, cfg.Engine.MaxStakeTotal.Decimal)
	}

	// --- Services ---
	ledgerSvc := ledger.NewService(st, emitter, cfg.Engine.SignupGrant.Decimal)
	marketSvc := market.NewService(st, locks, emitter, cfg.Server.ResolveToken)
	wagerSvc := wager.NewService(st, ledgerSvc, marketSvc, locks, limiter, emitter)
	marketSvc.SetSettler(wagerSvc)
	bookSvc := book.NewService(st, ledgerSvc, locks, emitter)
	milestoneSvc := milestone.NewService(st, locks, emitter)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Seed curated milestones ---
	seeds := make([]model.Milestone, 0, len(cfg.Milestones))
	for _, ms := range cfg.Milestones {
		seeds = append(seeds, model.Milestone{
			ID:            ms.ID,
			Name:          ms.Name,
			Description:   ms.Description,
			RequiredCoins: ms.RequiredCoins.Decimal,
			RewardCoins:   ms.RewardCoins.Decimal,
		})
	}
	if err := milestoneSvc.Seed(rootCtx, seeds); err != nil {
		slog.Error("milestone seeding failed", "err", err)
		os.Exit(1)
	}

	// --- Odds drift scheduler ---
	drifter := market.NewDrifter(st, locks, marketSvc, cfg.Drift.Rate.Decimal, cfg.Drift.Interval)
	go drifter.Run(rootCtx)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for the dashboard's cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time domain events.
		r.Get("/ws", hub.HandleWS)

		// Accounts and ledger.
		r.Post("/accounts", ledgerSvc.CreateAccount)
		r.Get("/accounts/{accountID}", ledgerSvc.GetAccount)
		r.Post("/accounts/{accountID}/deactivate", ledgerSvc.DeactivateAccount)
		r.Get("/accounts/{accountID}/ledger", ledgerSvc.GetLedger)
		r.Get("/accounts/{accountID}/wagers", wagerSvc.GetAccountWagers)
		r.Get("/accounts/{accountID}/claims", milestoneSvc.GetAccountClaims)
		r.Get("/leaderboard", ledgerSvc.Leaderboard)

		// Markets.
		r.Post("/markets", marketSvc.CreateMarket)
		r.Get("/markets", marketSvc.ListMarkets)
		r.Get("/markets/{marketID}", marketSvc.GetMarket)
		r.Get("/markets/{marketID}/odds", marketSvc.GetOdds)
		r.Get("/markets/{marketID}/history", marketSvc.GetHistory)
		r.Get("/markets/{marketID}/book", bookSvc.GetDepth)
		r.Post("/markets/{marketID}/resolve", marketSvc.Resolve)

		// Wagers.
		r.Post("/wagers", wagerSvc.OpenWager)
		r.Post("/wagers/{wagerID}/close", wagerSvc.CloseWager)

		// Orders.
		r.Post("/orders", bookSvc.SubmitOrder)
		r.Post("/orders/{orderID}/cancel", bookSvc.CancelOrder)

		// Milestones.
		r.Get("/milestones", milestoneSvc.ListMilestones)
		r.Post("/milestones/{milestoneID}/claim", milestoneSvc.ClaimMilestone)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("wager-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-rootCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down wager-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("wager-engine stopped")
}
