package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/plugins"
)

var repoContent = strings.Repeat("package main\n", 20)

type stubSource struct {
	name    string
	content string
	err     error
	calls   atomic.Int32

	started chan struct{}
	release chan struct{}
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, t plugins.Target) (string, error) {
	if s.calls.Add(1) == 1 && s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.content, s.err
}

type memRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *memRecorder) RecordFetch(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return m.err
}

func newOrchestrator(t *testing.T, src *stubSource, opts ...Option) (*Orchestrator, *cache.Bounded[string]) {
	t.Helper()
	c, err := cache.NewBounded[string](4, time.Hour)
	require.NoError(t, err)
	reg := plugins.NewRegistry()
	reg.Register(src)
	return New(c, reg, opts...), c
}

var target = plugins.Target{Host: "github.com", Owner: "octo", Repo: "hello", Branch: "main"}

func TestFetchMissThenHit(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	rec := &memRecorder{}
	o, c := newOrchestrator(t, src, WithRecorder(rec))

	res, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "octo/hello/main", res.Key)
	assert.Equal(t, repoContent, res.Content)
	assert.True(t, c.Contains("octo/hello/main"))

	res, err = o.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, repoContent, res.Content)

	assert.EqualValues(t, 1, src.calls.Load(), "a hit performs no remote fetch")
	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].Stored)
	assert.Equal(t, len(repoContent), rec.records[0].Bytes)
	assert.Equal(t, "github.com", rec.records[0].Source)
}

func TestFetchDoesNotCacheShortContent(t *testing.T) {
	src := &stubSource{name: "github.com", content: strings.Repeat("x", 99)}
	rec := &memRecorder{}
	o, c := newOrchestrator(t, src, WithRecorder(rec))

	_, err := o.Fetch(context.Background(), target)
	require.ErrorIs(t, err, ErrInsufficientContent)
	assert.Equal(t, 0, c.Len())

	_, err = o.Fetch(context.Background(), target)
	require.ErrorIs(t, err, ErrInsufficientContent)
	assert.EqualValues(t, 2, src.calls.Load(), "invalid results are never served from cache")

	require.Len(t, rec.records, 2)
	assert.False(t, rec.records[0].Stored)
	assert.NotEmpty(t, rec.records[0].Err)
}

func TestFetchThresholdIsInclusive(t *testing.T) {
	src := &stubSource{name: "github.com", content: strings.Repeat("x", 100)}
	o, c := newOrchestrator(t, src)

	_, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestFetchCustomThreshold(t *testing.T) {
	src := &stubSource{name: "github.com", content: "tiny"}
	o, _ := newOrchestrator(t, src, WithMinContentBytes(4))

	res, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "tiny", res.Content)
}

func TestFetchSourceErrorIsNotCached(t *testing.T) {
	boom := errors.New("connection reset")
	src := &stubSource{name: "github.com", content: repoContent, err: boom}
	o, c := newOrchestrator(t, src)

	_, err := o.Fetch(context.Background(), target)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestFetchRecorderErrorIsSwallowed(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	o, _ := newOrchestrator(t, src, WithRecorder(&memRecorder{err: errors.New("db down")}))

	_, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
}

func TestFetchUnsupportedHost(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	o, _ := newOrchestrator(t, src)

	_, err := o.Fetch(context.Background(), plugins.Target{Host: "gitlab.com", Owner: "a", Repo: "b"})
	require.ErrorIs(t, err, ErrUnsupportedHost)
}

func TestFetchURL(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	o, c := newOrchestrator(t, src)

	res, err := o.FetchURL(context.Background(), "https://github.com/octo/hello")
	require.NoError(t, err)
	assert.Equal(t, "octo/hello/None", res.Key)
	assert.True(t, c.Contains("octo/hello/None"))

	_, err = o.FetchURL(context.Background(), "not a url")
	require.ErrorIs(t, err, ErrInvalidURL)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	src := &stubSource{
		name:    "github.com",
		content: repoContent,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, _ := newOrchestrator(t, src)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Fetch(context.Background(), target)
			if err == nil && res.Content != repoContent {
				err = errors.New("unexpected content")
			}
			errs <- err
		}()
	}

	<-src.started
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestFetchSurvivesCancelledInitiator(t *testing.T) {
	src := &stubSource{
		name:    "github.com",
		content: repoContent,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o, c := newOrchestrator(t, src)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := o.Fetch(ctxA, target)
		errA <- err
	}()
	<-src.started

	type outcome struct {
		res Result
		err error
	}
	outB := make(chan outcome, 1)
	go func() {
		res, err := o.Fetch(context.Background(), target)
		outB <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(src.release)
	b := <-outB
	require.NoError(t, b.err)
	assert.Equal(t, repoContent, b.res.Content)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.True(t, c.Contains(target.Key()), "the shared fetch still stores its result")
}

func TestFetchTimeout(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent, release: make(chan struct{})}
	o, c := newOrchestrator(t, src, WithFetchTimeout(30*time.Millisecond))

	_, err := o.Fetch(context.Background(), target)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

// countingCache counts lookups on the wrapped cache.
type countingCache struct {
	ContentCache
	gets atomic.Int32
}

func (c *countingCache) Get(key string) (string, bool) {
	c.gets.Add(1)
	return c.ContentCache.Get(key)
}

func TestFetchLookupRunsInsideFlight(t *testing.T) {
	src := &stubSource{
		name:    "github.com",
		content: repoContent,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	inner, err := cache.NewBounded[string](4, time.Hour)
	require.NoError(t, err)
	cc := &countingCache{ContentCache: inner}
	reg := plugins.NewRegistry()
	reg.Register(src)
	o := New(cc, reg)

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Fetch(context.Background(), target)
		}()
	}
	<-src.started
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	assert.EqualValues(t, 1, cc.gets.Load(), "callers joining a flight do not look up on their own")

	res, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestFetchThroughNoStore(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	rec := &memRecorder{}
	reg := plugins.NewRegistry()
	reg.Register(src)
	o := New(NoStore{}, reg, WithRecorder(rec))

	for i := 0; i < 2; i++ {
		res, err := o.Fetch(context.Background(), target)
		require.NoError(t, err)
		assert.False(t, res.Cached)
		assert.Equal(t, repoContent, res.Content)
	}

	assert.EqualValues(t, 2, src.calls.Load())
	require.Len(t, rec.records, 2)
	assert.Equal(t, 0, o.Stats().Len)

	src.content = "tiny"
	_, err := o.Fetch(context.Background(), target)
	require.ErrorIs(t, err, ErrInsufficientContent)
}

func TestInvalidateAndPurge(t *testing.T) {
	src := &stubSource{name: "github.com", content: repoContent}
	o, c := newOrchestrator(t, src)

	other := target
	other.Repo = "world"

	_, err := o.Fetch(context.Background(), target)
	require.NoError(t, err)
	_, err = o.Fetch(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, 2, o.Stats().Len)

	o.Invalidate(target)
	assert.False(t, c.Contains(target.Key()))
	assert.Equal(t, 1, c.Len())

	o.Purge()
	assert.Equal(t, 0, o.Stats().Len)
}
