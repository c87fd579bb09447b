package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/github"
	"github.com/briangreenhill/gitreal/internal/db"
	"github.com/briangreenhill/gitreal/internal/fetch"
	appmw "github.com/briangreenhill/gitreal/internal/http/middleware"
	"github.com/briangreenhill/gitreal/internal/jobs"
	"github.com/briangreenhill/gitreal/plugins"
)

const (
	sessionReposKey = "repos"
	accessDenied    = "ACCESS DENIED: Repo is empty, Private, or Branch not found."
)

// Repos is the repository cache the API serves.
type Repos interface {
	FetchURL(ctx context.Context, raw string) (fetch.Result, error)
	Invalidate(t plugins.Target)
	Purge()
	Stats() cache.Stats
}

// FetchLister lists the fetch audit log.
type FetchLister interface {
	ListRecentFetches(ctx context.Context, limit int32) ([]db.FetchLog, error)
}

type Server struct {
	Router  *chi.Mux
	Sess    *scs.SessionManager
	Repos   Repos
	Queue   jobs.Enqueuer // nil when no queue is configured
	Fetches FetchLister   // nil when no database is configured
}

type ServerOptions struct {
	Sess       *scs.SessionManager
	Repos      Repos
	Queue      jobs.Enqueuer
	Fetches    FetchLister
	AdminToken string
	Log        zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	sess := opts.Sess
	if sess == nil {
		sess = scs.New()
	}
	r.Use(sess.LoadAndSave)

	s := &Server{Router: r, Sess: sess, Repos: opts.Repos, Queue: opts.Queue, Fetches: opts.Fetches}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Post("/repos", s.handleAddRepo)
	r.Post("/repos/prefetch", s.handlePrefetch)
	r.Get("/session/repos", s.handleSessionRepos)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Get("/fetches", s.handleRecentFetches)

	if opts.AdminToken != "" {
		r.Group(func(ar chi.Router) {
			ar.Use(appmw.RequireAdminToken(opts.AdminToken))
			ar.Delete("/cache", s.handlePurge)
			ar.Delete("/cache/{owner}/{repo}", s.handleInvalidate)
		})
	}

	return s
}

type repoRequest struct {
	GitHubURL string `json:"github_url"`
}

type repoResponse struct {
	Status  string `json:"status"`
	Key     string `json:"key"`
	Cached  bool   `json:"cached"`
	Bytes   int    `json:"bytes"`
	Content string `json:"content"`
}

func (s *Server) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.Repos.FetchURL(r.Context(), req.GitHubURL)
	if err != nil {
		status, msg := fetchErrorStatus(err)
		hlog.FromRequest(r).Warn().Err(err).Str("url", req.GitHubURL).Int("status", status).Msg("add repo failed")
		writeError(w, r, status, msg)
		return
	}

	s.rememberRepo(r.Context(), res.Key)

	writeJSON(w, r, http.StatusOK, repoResponse{
		Status:  "success",
		Key:     res.Key,
		Cached:  res.Cached,
		Bytes:   len(res.Content),
		Content: res.Content,
	})
}

// fetchErrorStatus maps a fetch failure to an HTTP status and client message.
func fetchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, fetch.ErrInvalidURL), errors.Is(err, fetch.ErrUnsupportedHost):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, fetch.ErrInsufficientContent),
		errors.Is(err, github.ErrNotFound),
		errors.Is(err, github.ErrUnauthorized):
		return http.StatusUnprocessableEntity, accessDenied
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "repository fetch timed out"
	default:
		return http.StatusBadGateway, "repository fetch failed"
	}
}

// rememberRepo appends key to the session's list of added repositories.
func (s *Server) rememberRepo(ctx context.Context, key string) {
	repos, _ := s.Sess.Get(ctx, sessionReposKey).([]string)
	for _, k := range repos {
		if k == key {
			return
		}
	}
	s.Sess.Put(ctx, sessionReposKey, append(repos, key))
}

func (s *Server) handleSessionRepos(w http.ResponseWriter, r *http.Request) {
	repos, _ := s.Sess.Get(r.Context(), sessionReposKey).([]string)
	if repos == nil {
		repos = []string{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"repos": repos})
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := fetch.ParseRepoURL(req.GitHubURL)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if s.Queue == nil {
		writeError(w, r, http.StatusServiceUnavailable, "prefetch queue not configured")
		return
	}

	id, err := s.Queue.EnqueuePrefetch(r.Context(), req.GitHubURL)
	switch {
	case errors.Is(err, jobs.ErrAlreadyQueued):
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued", "key": t.Key()})
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("[asynq] enqueue failed")
		writeError(w, r, http.StatusServiceUnavailable, "could not enqueue prefetch")
	default:
		hlog.FromRequest(r).Info().Str("task_id", id).Str("key", t.Key()).Msg("[asynq] enqueued prefetch")
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "queued", "key": t.Key(), "task_id": id})
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.Repos.Stats())
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	s.Repos.Purge()
	hlog.FromRequest(r).Info().Msg("cache purged")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	t := plugins.Target{
		Host:   github.Host,
		Owner:  chi.URLParam(r, "owner"),
		Repo:   chi.URLParam(r, "repo"),
		Branch: r.URL.Query().Get("branch"),
	}
	s.Repos.Invalidate(t)
	hlog.FromRequest(r).Info().Str("key", t.Key()).Msg("cache entry invalidated")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentFetches(w http.ResponseWriter, r *http.Request) {
	if s.Fetches == nil {
		writeError(w, r, http.StatusServiceUnavailable, "fetch log not configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	items, err := s.Fetches.ListRecentFetches(r.Context(), int32(limit))
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list recent fetches")
		writeError(w, r, http.StatusInternalServerError, "could not load fetch log")
		return
	}
	if items == nil {
		items = []db.FetchLog{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"fetches": items})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"status": "error", "message": msg})
}
