// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/github"
	"github.com/briangreenhill/gitreal/internal/config"
	"github.com/briangreenhill/gitreal/internal/db"
	"github.com/briangreenhill/gitreal/internal/fetch"
	"github.com/briangreenhill/gitreal/internal/http/routes"
	"github.com/briangreenhill/gitreal/internal/jobs"
	"github.com/briangreenhill/gitreal/plugins"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache
	repoCache, err := cache.NewBounded[string](cfg.Cache.MaxSize, cfg.Cache.TTL(),
		cache.WithLogger(logger.With().Str("component", "cache").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("create cache")
	}

	respCache, err := cache.NewBounded[[]byte](cfg.GitHub.ResponseCacheSize, cfg.GitHub.ResponseCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("create response cache")
	}

	// Sources
	gh, err := github.New(
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithToken(cfg.GitHub.Token),
		github.WithMaxFiles(cfg.GitHub.MaxFiles),
		github.WithMaxBytes(cfg.GitHub.MaxBytes),
		github.WithResponseCache(respCache),
		github.WithLogger(logger.With().Str("component", "github").Logger()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create github client")
	}
	sources := plugins.NewRegistry()
	sources.Register(github.NewPlugin(gh))

	orchOpts := []fetch.Option{
		fetch.WithMinContentBytes(cfg.Cache.MinContentBytes),
		fetch.WithFetchTimeout(cfg.Cache.FetchTimeout),
		fetch.WithLogger(logger.With().Str("component", "fetch").Logger()),
	}

	// DB (optional)
	var fetches routes.FetchLister
	if cfg.HasDatabase() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("migrate fetch log")
		}
		queries := db.New(pool)
		orchOpts = append(orchOpts, fetch.WithRecorder(db.Recorder{Q: queries}))
		fetches = queries
	}

	orch := fetch.New(repoCache, sources, orchOpts...)

	// Queue (optional). Prefetches are consumed in-process so they warm this cache.
	var queue jobs.Enqueuer
	if cfg.HasQueue() {
		client := jobs.NewClient(cfg.RedisAddr)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close queue client")
			}
		}()
		queue = client

		jobLog := logger.With().Str("component", "jobs").Logger()
		worker := jobs.NewServer(cfg.RedisAddr, 4, jobLog)
		if err := worker.Start(jobs.NewServeMux(orch, jobLog)); err != nil {
			logger.Fatal().Err(err).Msg("start prefetch worker")
		}
		defer worker.Shutdown()
	}

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:       sess,
		Repos:      orch,
		Queue:      queue,
		Fetches:    fetches,
		AdminToken: cfg.AdminToken,
		Log:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Int("cache_max_size", cfg.Cache.MaxSize).
		Dur("cache_ttl", cfg.Cache.TTL()).
		Bool("database", cfg.HasDatabase()).
		Bool("queue", cfg.HasQueue()).
		Msg("starting api")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Msg("api stopped")
}
