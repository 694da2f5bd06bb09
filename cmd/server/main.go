package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/liqguard/insurance-engine/internal/amount"
	"github.com/liqguard/insurance-engine/internal/api"
	"github.com/liqguard/insurance-engine/internal/claims"
	"github.com/liqguard/insurance-engine/internal/config"
	"github.com/liqguard/insurance-engine/internal/identity"
	"github.com/liqguard/insurance-engine/internal/logger"
	"github.com/liqguard/insurance-engine/internal/metrics"
	"github.com/liqguard/insurance-engine/internal/monitor"
	"github.com/liqguard/insurance-engine/internal/notify"
	"github.com/liqguard/insurance-engine/internal/oracle"
	"github.com/liqguard/insurance-engine/internal/pool"
	"github.com/liqguard/insurance-engine/internal/pricing"
	"github.com/liqguard/insurance-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional; LIQ_* env vars always apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("insurance-engine exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Store ---
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	// --- Notifications ---
	hub := notify.NewWSHub(log)
	go hub.Run(ctx)

	sinks := []notify.Sink{hub, notify.NewLogSink(log)}
	if cfg.NATS.URL != "" {
		nc, err := notify.ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		sinks = append(sinks, notify.NewNATSSink(nc, cfg.NATS.SubjectPrefix, log))
		log.Info("nats notifications enabled", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}
	sink := notify.NewMulti(sinks...)

	// --- Ledger ---
	admin, err := identity.ParseNonNull(cfg.Ledger.Admin)
	if err != nil {
		return fmt.Errorf("ledger.admin: %w", err)
	}
	settler := admin
	if cfg.Ledger.Settler != "" {
		if settler, err = identity.ParseNonNull(cfg.Ledger.Settler); err != nil {
			return fmt.Errorf("ledger.settler: %w", err)
		}
	}
	schedule, err := pricing.NewSchedule(pricing.Params{
		Base:             cfg.Pricing.BaseBps,
		LeverageFactor:   cfg.Pricing.LeverageFactorBps,
		VolatilityFactor: cfg.Pricing.VolatilityFactorBps,
	})
	if err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	engine, err := pool.New(admin,
		pool.WithSchedule(schedule),
		pool.WithAPR(cfg.Ledger.APRBps),
		pool.WithVolatility(cfg.Ledger.Volatility),
		pool.WithSettlementAuthority(settler),
		pool.WithEventSink(store.NewMirror(st, log)),
		pool.WithEventSink(notify.NewLedgerForwarder(sink)),
		pool.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// --- Claim pipeline ---
	sub, err := claims.New(cfg.Submitter.Mode, engine, settler, log)
	if err != nil {
		return err
	}
	feed, err := priceFeed(cfg)
	if err != nil {
		return err
	}
	mon := monitor.New(engine, oracle.New(feed), sub, st, sink, monitor.Config{
		CheckTimeout: cfg.Monitor.CheckTimeout,
		Concurrency:  cfg.Monitor.Concurrency,
		Decimals:     cfg.Units.Decimals,
	}, log)

	if cfg.Monitor.Enabled {
		sched, err := monitor.NewScheduler(ctx, mon, cfg.Monitor.Schedule, log)
		if err != nil {
			return fmt.Errorf("monitor.schedule: %w", err)
		}
		sched.Start()
		cleanup = append(cleanup, sched.Stop)
	}

	// --- HTTP ---
	h := api.NewHandler(engine, st, mon, sub, cfg.Units.Decimals, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(api.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"insurance-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived; kept outside the request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			h.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("insurance-engine listening",
			zap.String("addr", cfg.Server.HTTPAddr),
			zap.String("admin", admin.String()),
			zap.String("settler", settler.String()),
			zap.String("submitter", cfg.Submitter.Mode),
			zap.String("oracle", cfg.Oracle.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down insurance-engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openStore returns PostgreSQL (optionally behind a Redis cache) when a
// database URL is configured, or the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("database.url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), func() {}, nil
	}

	pgCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("database.url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		pgCfg.MaxConns = cfg.Database.MaxConns
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection: %w", err)
	}
	closers := []func(){pgPool.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pg := store.NewPostgresStore(pgPool)
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { rdb.Close() })
		st = store.NewCachedStore(pg, rdb, cfg.Redis.TTL)
		log.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}
	return st, closeAll, nil
}

// priceFeed builds the position oracle's price source.
func priceFeed(cfg config.Config) (oracle.PriceFeed, error) {
	switch cfg.Oracle.Mode {
	case "http":
		if cfg.Oracle.URL == "" {
			return nil, errors.New("oracle.url is required in http mode")
		}
		return oracle.NewHTTPFeed(cfg.Oracle.URL, cfg.Units.Decimals, cfg.Oracle.Timeout), nil
	case "static", "":
		if cfg.Oracle.StaticPrice == "" {
			return oracle.NewUnpricedFeed(), nil
		}
		d, err := decimal.NewFromString(cfg.Oracle.StaticPrice)
		if err != nil {
			return nil, fmt.Errorf("oracle.static_price: %w", err)
		}
		price, err := amount.FromDecimal(d, cfg.Units.Decimals)
		if err != nil {
			return nil, fmt.Errorf("oracle.static_price: %w", err)
		}
		return oracle.NewStaticFeed(price), nil
	default:
		return nil, fmt.Errorf("unknown oracle.mode %q", cfg.Oracle.Mode)
	}
}
