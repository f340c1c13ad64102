package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/sigil/adapters/events"
	"github.com/layer-3/sigil/adapters/hasher"
	"github.com/layer-3/sigil/adapters/metrics"
	"github.com/layer-3/sigil/adapters/repository"
	"github.com/layer-3/sigil/adapters/store"
	"github.com/layer-3/sigil/adapters/tokenizer"
	"github.com/layer-3/sigil/adapters/verifier"
	"github.com/layer-3/sigil/config"
	"github.com/layer-3/sigil/ports"
	"github.com/layer-3/sigil/service"
	httptransport "github.com/layer-3/sigil/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	signKey, generated, err := tokenizer.LoadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("no signing key configured, using an ephemeral key; tokens will not survive a restart")
	}

	// Parse Redis URL and create client
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Initialize Watermill Redis publisher
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return err
	}
	defer publisher.Close()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authMetrics, err := metrics.NewPrometheus(registry)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(
		service.Config{
			Domain:    cfg.ChallengeDomain,
			NonceTTL:  cfg.NonceTTL,
			AccessTTL: cfg.AccessTokenTTL,
		},
		service.Dependencies{
			Store: store.NewRedisStore(redisClient),
			Verifiers: service.NewVerifiers(
				verifier.NewEVMVerifier(),
				verifier.NewSolanaVerifier(),
				verifier.NewCosmosVerifier(cfg.CosmosPrefixes...),
			),
			Repository: repo,
			Hasher:     hasher.NewBcryptHasher(0),
			Tokenizer:  tokenizer.NewJWTTokenizer(signKey),
			Events:     events.NewWatermillPublisher(publisher, cfg.EventsTopic),
			Metrics:    authMetrics,
			Logger:     logger,
		},
	)

	// Setup Gin router
	router := httptransport.SetupRouter(authService, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRepository connects to PostgreSQL and applies migrations, or falls back to the
// in-memory repository when no DSN is configured
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.Repository, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("DATABASE_DSN is empty, accounts are kept in memory")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := repository.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repository.NewPostgresRepository(db), func() { _ = db.Close() }, nil
}
