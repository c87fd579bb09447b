package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/github"
	"github.com/briangreenhill/gitreal/internal/config"
	"github.com/briangreenhill/gitreal/internal/db"
	"github.com/briangreenhill/gitreal/internal/fetch"
	"github.com/briangreenhill/gitreal/internal/jobs"
	"github.com/briangreenhill/gitreal/plugins"
)

// The standalone worker drains the prefetch queue and records every fetch in
// the audit log. It keeps no content cache: the API process runs the same
// handler in-process to warm the cache it serves from.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = logger.Level(cfg.Level())

	if !cfg.HasQueue() {
		logger.Fatal().Msg("REDIS_ADDR is required for the worker")
	}
	if !cfg.HasDatabase() {
		logger.Fatal().Msg("DATABASE_URL is required for the worker")
	}

	respCache, err := cache.NewBounded[[]byte](cfg.GitHub.ResponseCacheSize, cfg.GitHub.ResponseCacheTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("create response cache")
	}

	gh, err := github.New(
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithToken(cfg.GitHub.Token),
		github.WithMaxFiles(cfg.GitHub.MaxFiles),
		github.WithMaxBytes(cfg.GitHub.MaxBytes),
		github.WithResponseCache(respCache),
		github.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create github client")
	}
	sources := plugins.NewRegistry()
	sources.Register(github.NewPlugin(gh))

	opts := []fetch.Option{
		fetch.WithMinContentBytes(cfg.Cache.MinContentBytes),
		fetch.WithFetchTimeout(cfg.Cache.FetchTimeout),
		fetch.WithLogger(logger),
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer pool.Close()
	if err := db.Migrate(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate fetch log")
	}
	opts = append(opts, fetch.WithRecorder(db.Recorder{Q: db.New(pool)}))

	orch := fetch.New(fetch.NoStore{}, sources, opts...)

	srv := jobs.NewServer(cfg.RedisAddr, 8, logger)
	logger.Info().Str("queue", jobs.QueuePrefetch).Msg("worker running")
	if err := srv.Run(jobs.NewServeMux(orch, logger)); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}
