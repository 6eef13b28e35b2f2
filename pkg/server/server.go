package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	cachepkg "github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/engine"
	"github.com/promptgate/promptgate/pkg/jobs"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/ratelimit"
	"github.com/promptgate/promptgate/pkg/runner"
)

// Server is the HTTP gateway: a thin adapter exposing one route per engine
// operation.
type Server struct {
	cfg      *config.Config
	limiter  *ratelimit.Limiter
	cache    *cachepkg.Cache
	runner   *runner.Runner
	engine   *engine.Engine
	registry *jobs.Registry
	router   chi.Router
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, l *ratelimit.Limiter, c *cachepkg.Cache, r *runner.Runner, e *engine.Engine, reg *jobs.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		limiter:  l,
		cache:    c,
		runner:   r,
		engine:   e,
		registry: reg,
		router:   chi.NewRouter(),
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/usage", s.handleUsage)
	s.router.Post("/prompt", s.handlePrompt)
	s.router.Post("/prompt/async", s.handlePromptAsync)
	s.router.Get("/job/{id}", s.handleJob)
	s.router.Get("/jobs", s.handleJobs)
	s.router.Post("/batch", s.handleBatch)
	s.router.Post("/stream", s.handleStream)
	s.router.Get("/cache/stats", s.handleCacheStats)
	s.router.Post("/cache/clear", s.handleCacheClear)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("promptgate listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	usage, err := s.limiter.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "usage stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"usage":     usage,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.limiter.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "usage stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePromptRequest(w, r)
	if !ok {
		return
	}

	result := s.runner.Run(r.Context(), req.Prompt, req.ExtraFlags, req.CacheEnabled())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePromptAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePromptRequest(w, r)
	if !ok {
		return
	}

	job := s.registry.Create()
	depth, err := s.engine.Enqueue(req.Prompt, req.ExtraFlags, func(res models.Result) {
		if err := s.registry.Complete(job.ID, res); err != nil {
			log.Printf("complete job %s: %v", job.ID, err)
		}
	})
	if err != nil {
		// The job record was already created; finish it so it never lingers
		// as processing.
		if cerr := s.registry.Complete(job.ID, models.Result{Error: "queue unavailable"}); cerr != nil {
			log.Printf("fail job %s: %v", job.ID, cerr)
		}
		writeJSONError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"status":      "queued",
		"queue_depth": depth,
		"check_url":   "/job/" + job.ID,
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	summaries := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  summaries,
		"total": len(summaries),
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompts []string `json:"prompts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Prompts) == 0 {
		writeJSONError(w, http.StatusBadRequest, "missing 'prompts' in request body")
		return
	}

	job := s.registry.CreateBatch(len(req.Prompts))
	go func() {
		results := s.runner.RunBatch(context.Background(), req.Prompts)
		if err := s.registry.CompleteBatch(job.ID, results); err != nil {
			log.Printf("complete batch job %s: %v", job.ID, err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":        job.ID,
		"status":        string(models.StatusProcessing),
		"total_prompts": len(req.Prompts),
		"check_url":     "/job/" + job.ID,
	})
}

// handleStream runs the prompt synchronously and reports progress as SSE
// events: a processing event, the result, then a completed event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePromptRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, map[string]any{"status": "processing"})
	flusher.Flush()

	result := s.runner.Run(r.Context(), req.Prompt, req.ExtraFlags, req.CacheEnabled())

	writeSSE(w, result)
	writeSSE(w, map[string]any{"status": "completed"})
	flusher.Flush()
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, models.CacheStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		s.cache.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "cache cleared",
		"status":  "success",
	})
}

func decodePromptRequest(w http.ResponseWriter, r *http.Request) (models.PromptRequest, bool) {
	var req models.PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'prompt' in request body")
		return req, false
	}
	return req, true
}

func writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
