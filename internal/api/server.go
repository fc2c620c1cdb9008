package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/metrics"
	"github.com/JakeFAU/voyage-scraper/internal/pipeline"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

const (
	maxBodyBytes   = 1 << 20
	maxBatchTerms  = 500
	readinessLimit = 10 * time.Second
)

// Scraper runs scrape requests.
type Scraper interface {
	Scrape(ctx context.Context, source voyage.Source, terms []string) (pipeline.Outcome, error)
	Supports(source voyage.Source) bool
}

// BalanceChecker reports the remaining CAPTCHA-solving balance.
type BalanceChecker interface {
	Balance(ctx context.Context) (float64, error)
}

// Options tune the server.
type Options struct {
	// RequestTimeout bounds a whole request. Zero disables the limit.
	RequestTimeout time.Duration
	// Captcha is optional; when set, readiness requires a positive balance.
	Captcha BalanceChecker
}

// Server wires HTTP handlers to the scrape pipeline.
type Server struct {
	router  chi.Router
	scraper Scraper
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scraper Scraper, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{scraper: scraper, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/scrape", s.scrapeOne)
	r.Post("/scrape/", s.scrapeOne)
	r.Post("/scrape/batch", s.scrapeBatch)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Captcha == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessLimit)
	defer cancel()
	balance, err := s.opts.Captcha.Balance(ctx)
	if err != nil {
		s.logger.Warn("captcha balance check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "captcha solver unreachable")
		return
	}
	if balance <= 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "captcha balance exhausted", "balance": balance})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "captcha_balance": balance})
}

type scrapeRequest struct {
	Source string `json:"source"`
	// Script is the older name of Source.
	Script     string `json:"script"`
	SearchTerm string `json:"search_term"`
}

type batchRequest struct {
	Source      string   `json:"source"`
	Script      string   `json:"script"`
	SearchTerms []string `json:"search_terms"`
}

type scrapeResponse struct {
	ElapsedTime float64        `json:"elapsed_time"`
	Result      []voyage.Entry `json:"result"`
	RunID       string         `json:"run_id,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (s *Server) scrapeOne(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		writeError(w, http.StatusBadRequest, "search_term is required")
		return
	}
	s.run(w, r, firstNonEmpty(req.Source, req.Script), []string{term})
}

func (s *Server) scrapeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.SearchTerms) == 0 {
		writeError(w, http.StatusBadRequest, "search_terms is required")
		return
	}
	if len(req.SearchTerms) > maxBatchTerms {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d search_terms per request", maxBatchTerms))
		return
	}
	terms := make([]string, len(req.SearchTerms))
	for i, term := range req.SearchTerms {
		terms[i] = strings.TrimSpace(term)
		if terms[i] == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("search_terms[%d] is blank", i))
			return
		}
	}
	s.run(w, r, firstNonEmpty(req.Source, req.Script), terms)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, rawSource string, terms []string) {
	if strings.TrimSpace(rawSource) == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	source, err := voyage.ParseSource(rawSource)
	if err != nil || !s.scraper.Supports(source) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unsupported source %q", rawSource))
		return
	}

	start := time.Now()
	// Browser work cannot be interrupted mid-task, so the run outlives the client.
	out, err := s.scraper.Scrape(context.WithoutCancel(r.Context()), source, terms)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.logger.Error("scrape failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("source", string(source)),
			zap.Error(err),
		)
		status := http.StatusInternalServerError
		if errors.Is(err, voyage.ErrUnknownSource) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, scrapeResponse{ElapsedTime: elapsed, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{ElapsedTime: elapsed, Result: out.Entries, RunID: out.RunID})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
