// Package github fetches repositories from the GitHub REST API and flattens
// their source files into a single text document.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/gitreal/cache"
)

const (
	DefaultBaseURL  = "https://api.github.com"
	DefaultMaxFiles = 40
	DefaultMaxBytes = 200_000

	// Conditional-request cache for raw API responses.
	DefaultResponseCacheSize = 512
	DefaultResponseCacheTTL  = 10 * time.Minute
)

var (
	ErrNotFound     = errors.New("repository, branch or path not found")
	ErrUnauthorized = errors.New("access denied")
)

type Client struct {
	http    *http.Client
	baseURL *url.URL
	token   string

	maxFiles  int
	maxBytes  int
	workers   int
	respCache httpcache.Cache
	log       zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && raw != "" {
			c.baseURL = u
		}
	}
}

// WithToken authenticates every request with a personal access token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxFiles caps how many files are included in a flattened repository.
func WithMaxFiles(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxFiles = n
		}
	}
}

// WithMaxBytes caps the size of a flattened repository.
func WithMaxBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithResponseCache sets the store behind the HTTP conditional-request cache.
// *cache.Bounded[[]byte] satisfies httpcache.Cache.
func WithResponseCache(rc httpcache.Cache) Option {
	return func(c *Client) { c.respCache = rc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client. Responses are kept in an in-memory HTTP cache and
// revalidated with ETags, so repeated tree and file lookups cost 304s.
func New(opts ...Option) (*Client, error) {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  u,
		maxFiles: DefaultMaxFiles,
		maxBytes: DefaultMaxBytes,
		workers:  4,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		return nil, errors.New("http client required")
	}

	if c.respCache == nil {
		rc, err := cache.NewBounded[[]byte](DefaultResponseCacheSize, DefaultResponseCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("response cache: %w", err)
		}
		c.respCache = rc
	}

	transport := httpcache.NewTransport(c.respCache)
	transport.Transport = c.http.Transport
	transport.MarkCachedResponses = true
	hc := &http.Client{Transport: transport, Timeout: c.http.Timeout}

	if c.token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token}))
		hc.Timeout = c.http.Timeout
	}
	c.http = hc

	return c, nil
}

func (c *Client) newReq(ctx context.Context, p string, q map[string]string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	qq := u.Query()
	for k, v := range q {
		qq.Set(k, v)
	}
	u.RawQuery = qq.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, p string, q map[string]string, out any) error {
	req, err := c.newReq(ctx, p, q)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.Header.Get(httpcache.XFromCache) != "" {
		c.log.Debug().Str("path", p).Msg("github response served from http cache")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
		// httpcache stores the response once the body reaches EOF.
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	case http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", p, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("GET %s: %s: %w", p, resp.Status, ErrUnauthorized)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("GET %s: %s: %s", p, resp.Status, string(b))
	}
}

// GetRepository returns repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var r Repository
	if err := c.doJSON(ctx, path.Join("/repos", owner, repo), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetTree returns the recursive file tree at ref.
func (c *Client) GetTree(ctx context.Context, owner, repo, ref string) (*Tree, error) {
	var t Tree
	p := path.Join("/repos", owner, repo, "git/trees", ref)
	if err := c.doJSON(ctx, p, map[string]string{"recursive": "1"}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetFile returns the decoded contents of a single file at ref.
func (c *Client) GetFile(ctx context.Context, owner, repo, filePath, ref string) ([]byte, error) {
	var fc FileContent
	p := path.Join("/repos", owner, repo, "contents", filePath)
	if err := c.doJSON(ctx, p, map[string]string{"ref": ref}, &fc); err != nil {
		return nil, err
	}
	return fc.Decode()
}
