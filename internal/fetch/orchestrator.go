// Package fetch serves repository snapshots from a bounded cache and falls
// back to the remote source on a miss, caching only usable results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/plugins"
)

// DefaultMinContentBytes is the smallest flattened repository worth caching.
// Anything shorter is an empty, private or missing repository.
const DefaultMinContentBytes = 100

// DefaultFetchTimeout bounds a single remote fetch shared by all waiting callers.
const DefaultFetchTimeout = 2 * time.Minute

var (
	ErrInvalidURL          = errors.New("invalid repository url")
	ErrUnsupportedHost     = errors.New("no source registered for host")
	ErrInsufficientContent = errors.New("repository is empty, private, or branch not found")
)

// ContentCache is the cache the orchestrator reads through.
type ContentCache interface {
	cache.Cache[string]
	Stats() cache.Stats
}

// NoStore is a ContentCache that holds nothing: every lookup misses and
// writes are dropped. Fetches through it still pass the validity check and
// reach the Recorder.
type NoStore struct{}

func (NoStore) Get(string) (string, bool) { return "", false }
func (NoStore) Set(string, string)        {}
func (NoStore) Delete(string)             {}
func (NoStore) Clear()                    {}
func (NoStore) Contains(string) bool      { return false }
func (NoStore) Len() int                  { return 0 }
func (NoStore) Stats() cache.Stats        { return cache.Stats{} }

var _ ContentCache = NoStore{}

// Recorder receives one Record per remote fetch attempt.
type Recorder interface {
	RecordFetch(ctx context.Context, r Record) error
}

// Record describes a single remote fetch.
type Record struct {
	ID       uuid.UUID
	Key      string
	Source   string
	Bytes    int
	Stored   bool
	Err      string
	Duration time.Duration
	At       time.Time
}

// Result is a repository snapshot and where it came from.
type Result struct {
	Target  plugins.Target `json:"target"`
	Key     string         `json:"key"`
	Content string         `json:"content"`
	Cached  bool           `json:"cached"`
}

type Orchestrator struct {
	cache    ContentCache
	sources  *plugins.Registry
	recorder Recorder
	minBytes int
	timeout  time.Duration
	log      zerolog.Logger

	group singleflight.Group
}

type Option func(*Orchestrator)

// WithMinContentBytes sets the validity threshold for caching fetched content.
func WithMinContentBytes(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.minBytes = n
		}
	}
}

// WithFetchTimeout bounds each remote fetch. The fetch does not inherit the
// cancellation of the caller that started it.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func New(c ContentCache, sources *plugins.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:    c,
		sources:  sources,
		minBytes: DefaultMinContentBytes,
		timeout:  DefaultFetchTimeout,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FetchURL parses raw and fetches the repository it names.
func (o *Orchestrator) FetchURL(ctx context.Context, raw string) (Result, error) {
	t, err := ParseRepoURL(raw)
	if err != nil {
		return Result{}, err
	}
	return o.Fetch(ctx, t)
}

// Fetch returns the flattened contents of t.
//
// A cache hit performs no remote I/O. Lookup and fetch run as one flight per
// key, so concurrent callers share a single remote call and a caller arriving
// after a fetch completed sees its stored result. The result is cached only if
// it is at least the minimum content size; anything smaller returns
// ErrInsufficientContent and leaves the cache untouched.
//
// Cancelling ctx abandons the wait for this caller only. The shared fetch
// keeps running under its own timeout for everyone else.
func (o *Orchestrator) Fetch(ctx context.Context, t plugins.Target) (Result, error) {
	key := t.Key()
	res := Result{Target: t, Key: key}

	src, ok := o.sources.Get(t.Host)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnsupportedHost, t.Host)
	}

	ch := o.group.DoChan(key, func() (any, error) {
		if content, ok := o.cache.Get(key); ok {
			return flight{content: content, cached: true}, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		content, err := o.fetchAndStore(fctx, src, t, key)
		return flight{content: content}, err
	})

	select {
	case <-ctx.Done():
		o.log.Debug().Str("key", key).Msg("caller gave up waiting for fetch")
		return res, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return res, r.Err
		}
		f := r.Val.(flight)
		if f.cached {
			o.log.Info().Str("key", key).Msg("cache hit")
		} else if r.Shared {
			o.log.Debug().Str("key", key).Msg("joined in-flight fetch")
		}
		res.Content, res.Cached = f.content, f.cached
		return res, nil
	}
}

// flight is the value shared by callers collapsed onto one key.
type flight struct {
	content string
	cached  bool
}

func (o *Orchestrator) fetchAndStore(ctx context.Context, src plugins.Source, t plugins.Target, key string) (string, error) {
	branch := t.Branch
	if branch == "" {
		branch = "default"
	}
	o.log.Info().Str("key", key).Str("branch", branch).Msg("cache miss, fetching")

	start := time.Now()
	content, err := src.Fetch(ctx, t)
	rec := Record{
		ID:       uuid.New(),
		Key:      key,
		Source:   src.Name(),
		Bytes:    len(content),
		Duration: time.Since(start),
		At:       start.UTC(),
	}

	switch {
	case err != nil:
		rec.Err = err.Error()
	case len(content) < o.minBytes:
		err = fmt.Errorf("%w: %s returned %d bytes", ErrInsufficientContent, key, len(content))
		rec.Err = err.Error()
	default:
		o.cache.Set(key, content)
		rec.Stored = true
	}
	o.record(ctx, rec)

	if err != nil {
		o.log.Warn().Err(err).Str("key", key).Dur("duration", rec.Duration).Msg("fetch failed")
		return "", err
	}
	o.log.Info().Str("key", key).Int("bytes", rec.Bytes).Dur("duration", rec.Duration).Msg("fetched and cached")
	return content, nil
}

func (o *Orchestrator) record(ctx context.Context, r Record) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordFetch(context.WithoutCancel(ctx), r); err != nil {
		o.log.Error().Err(err).Str("key", r.Key).Msg("record fetch")
	}
}

// Invalidate drops the cached snapshot of t, if any.
func (o *Orchestrator) Invalidate(t plugins.Target) {
	o.cache.Delete(t.Key())
}

// Purge drops every cached snapshot.
func (o *Orchestrator) Purge() {
	o.cache.Clear()
}

// Stats reports the cache's size and counters.
func (o *Orchestrator) Stats() cache.Stats {
	return o.cache.Stats()
}
