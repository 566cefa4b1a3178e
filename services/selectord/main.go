package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pixrouter/config"
	"pixrouter/observability"
	"pixrouter/observability/logging"
	telemetry "pixrouter/observability/otel"
	"pixrouter/selector"
	"pixrouter/services/selectord/loader"
	"pixrouter/services/selectord/middleware"
	"pixrouter/services/selectord/server"
	"pixrouter/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "selectord.toml", "path to selectord config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if dsn := strings.TrimSpace(os.Getenv("PIXROUTER_DB_DSN")); dsn != "" {
		cfg.DatabaseURL = dsn
	}

	logger := logging.SetupWithSink("selectord", cfg.Environment, cfg.LogFile.Sink())

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry.OTELConfig("selectord", cfg.Environment))
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	registry := selector.NewRegistry()
	hub := server.NewStreamHub(logger)
	sel := selector.New(registry,
		selector.OnDecision(observability.DecisionHook(logger)),
		selector.OnDecision(hub.Publish),
	)

	var (
		repo   storage.Repository
		source loader.Source
	)
	if cfg.FileMode() {
		source = loader.FileSource{Path: cfg.RulesetFile}
	} else {
		db, err := openDatabase(cfg)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		if err := storage.AutoMigrate(db); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		repo = storage.NewRepository(db)
		if cfg.Redis.Enabled() {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			repo = storage.NewCachedRepository(repo, client, cfg.Redis.CacheTTL.Duration)
		}
		if err := syncCatalog(cfg, repo, logger); err != nil {
			log.Fatalf("sync gateway catalog: %v", err)
		}
		source = loader.RepositorySource{Repo: repo}
	}

	fallback, err := storage.OpenSnapshotStore(cfg.SnapshotPath(), nil)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	defer fallback.Close()

	ldr, err := loader.New(loader.Config{
		Registry: registry,
		Source:   source,
		Fallback: fallback,
		Interval: cfg.PollInterval.Duration,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("init loader: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Starting without an active snapshot is survivable: selections answer
	// 503 until a reload or an admin activation succeeds.
	if err := ldr.Bootstrap(ctx); err != nil {
		logger.Warn("starting without an active snapshot", "err", err)
	}
	go ldr.Run(ctx)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sighup:
				_ = ldr.Reload(ctx, "sighup")
			}
		}
	}()

	authCfg := middleware.AuthConfig{
		Enabled:  cfg.Auth.Enabled,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}
	if cfg.Auth.Enabled {
		secret, err := cfg.Auth.ResolveSecret()
		if err != nil {
			log.Fatalf("resolve auth secret: %v", err)
		}
		authCfg.Secret = secret
	}
	limits := make(map[string]middleware.RateLimit, len(cfg.Limits))
	for name, limit := range cfg.Limits {
		limits[name] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}

	srv, err := server.New(server.Config{
		Selector: sel,
		Repo:     repo,
		Reloader: ldr,
		Hub:      hub,
		Auth:     authCfg,
		Limits:   limits,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), "selectord"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("selectord listening",
			"addr", cfg.ListenAddress,
			"mode", sourceMode(cfg),
			"poll_interval", cfg.PollInterval.Duration.String(),
		)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return gorm.Open(sqlite.Open(cfg.LocalDatabasePath()), gormCfg)
}

// syncCatalog pushes the on-disk gateway catalog into the repository on
// boot. A missing file is fine on first run; a malformed one is not.
func syncCatalog(cfg *config.Config, repo storage.Repository, logger *slog.Logger) error {
	path := strings.TrimSpace(cfg.CatalogFile)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("gateway catalog file not found, skipping sync", "path", path)
		return nil
	}
	entries, err := storage.LoadCatalog(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return storage.SyncCatalog(ctx, repo, entries)
}

func sourceMode(cfg *config.Config) string {
	if cfg.FileMode() {
		return "file"
	}
	return "repository"
}
