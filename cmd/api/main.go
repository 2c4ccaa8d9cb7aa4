package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"routeopt/internal/api"
	"routeopt/internal/buildinfo"
	"routeopt/internal/config"
	"routeopt/internal/decision"
	"routeopt/internal/events"
	"routeopt/internal/logging"
	"routeopt/internal/optimizer"
	"routeopt/internal/payload"
	"routeopt/internal/session"
	"routeopt/internal/store"
	"routeopt/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Production())
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.Any("build", buildinfo.Info()), zap.String("env", cfg.Env))

	data, closeStore := openStore(cfg, logger)
	defer closeStore()

	var rdb *redis.Client
	var broker events.Broker = events.NewMemory()
	var sessions session.Store = session.NewMemory(cfg.Session.TTL)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		broker = events.NewRedis(rdb, logger.Named("events"))
		sessions = session.NewRedis(rdb, cfg.Session.TTL)
		logger.Info("using redis for sessions and events")
	}

	client := optimizer.NewClient(cfg.Optimizer.URL, cfg.Optimizer.Timeout, cfg.Production(), logger.Named("optimizer"))
	client.OnStatusChange(api.PublishOptimizerStatus(broker))
	monitor := optimizer.NewMonitor(client, cfg.Optimizer.HealthInterval)
	monitor.Start()
	defer monitor.Close()

	pub := webhooks.NewPublisher(data, logger.Named("webhooks"))
	recorder := decision.NewRecorder(client, data, pub, logger.Named("decision"))
	builder := payload.NewBuilder(client, cfg.Production(), cfg.Optimizer.UseMockData, logger.Named("payload"))
	svc := session.NewService(sessions, data, builder, client, recorder, broker, logger.Named("session"))

	srv := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     data,
		Sessions:  svc,
		Optimizer: client,
		Decisions: recorder,
		Broker:    broker,
		Pub:       pub,
		Redis:     rdb,
		Log:       logger.Named("http"),
	})
	worker := srv.NewWebhookWorker()
	worker.Start()
	defer worker.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("API listening", zap.String("addr", cfg.Addr()), zap.String("optimizer", cfg.Optimizer.URL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to a seeded in-memory store.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		m := store.NewMemory()
		store.SeedDemo(m)
		logger.Info("using in-memory store with demo data", zap.String("tenant", store.DemoTenant))
		return m, func() {}
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	if cfg.DBMigrate {
		if err := pg.MigrateDir("db/migrations"); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}
	return pg, func() { _ = pg.Close() }
}
