package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/gitreal/github"
	"github.com/briangreenhill/gitreal/internal/fetch"
)

// ErrAlreadyQueued is returned when an identical prefetch is still pending.
var ErrAlreadyQueued = errors.New("prefetch already queued")

// Fetcher is the part of the orchestrator the prefetch handler needs.
type Fetcher interface {
	FetchURL(ctx context.Context, raw string) (fetch.Result, error)
}

// Enqueuer schedules repository prefetches.
type Enqueuer interface {
	EnqueuePrefetch(ctx context.Context, url string) (string, error)
}

// Client enqueues prefetch tasks on Redis.
type Client struct {
	c *asynq.Client
}

func NewClient(redisAddr string) *Client {
	return &Client{c: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (c *Client) Close() error {
	return c.c.Close()
}

// EnqueuePrefetch queues a fetch of url and returns the task id.
// The same url is accepted at most once per minute.
func (c *Client) EnqueuePrefetch(ctx context.Context, url string) (string, error) {
	payload, err := json.Marshal(PrefetchPayload{URL: url})
	if err != nil {
		return "", err
	}

	info, err := c.c.EnqueueContext(ctx, asynq.NewTask(TaskPrefetchRepo, payload),
		asynq.Queue(QueuePrefetch),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrAlreadyQueued
	}
	if err != nil {
		return "", fmt.Errorf("enqueue prefetch: %w", err)
	}
	return info.ID, nil
}

// NewPrefetchHandler fetches the task's repository through f, warming its cache.
// Failures that a retry cannot fix are reported with asynq.SkipRetry.
func NewPrefetchHandler(f Fetcher, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p PrefetchPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error().Err(err).Msg("[prefetch] bad payload")
			return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
		}

		start := time.Now()
		res, err := f.FetchURL(ctx, p.URL)
		duration := time.Since(start)

		if err != nil {
			if isPermanent(err) {
				log.Warn().Err(err).Str("url", p.URL).Dur("duration", duration).Msg("[prefetch] permanent error (dropping job)")
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			log.Warn().Err(err).Str("url", p.URL).Dur("duration", duration).Msg("[prefetch] retryable error")
			return err
		}

		log.Info().Str("key", res.Key).Bool("cached", res.Cached).Dur("duration", duration).Msg("[prefetch] done")
		return nil
	}
}

// isPermanent reports whether retrying the fetch cannot succeed.
func isPermanent(err error) bool {
	return errors.Is(err, fetch.ErrInvalidURL) ||
		errors.Is(err, fetch.ErrUnsupportedHost) ||
		errors.Is(err, fetch.ErrInsufficientContent) ||
		errors.Is(err, github.ErrNotFound) ||
		errors.Is(err, github.ErrUnauthorized)
}

// NewServeMux routes prefetch tasks to f.
func NewServeMux(f Fetcher, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskPrefetchRepo, NewPrefetchHandler(f, log))
	return mux
}

// NewServer creates a queue consumer for the prefetch queue.
func NewServer(redisAddr string, concurrency int, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueuePrefetch: 1,
		},
		Logger: logAdapter{log: log},
	})
}

// logAdapter routes asynq's internal logging through zerolog.
type logAdapter struct {
	log zerolog.Logger
}

func (l logAdapter) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l logAdapter) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l logAdapter) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l logAdapter) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l logAdapter) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

var _ asynq.Logger = logAdapter{}
