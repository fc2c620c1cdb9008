// Package pipeline runs one scrape request end to end: tasks, orchestration, persistence
// and browser cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/logging"
	"github.com/JakeFAU/voyage-scraper/internal/orchestrator"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
	"github.com/JakeFAU/voyage-scraper/internal/writer"
)

// ErrNoTerms is returned when a request carries no usable search term.
var ErrNoTerms = errors.New("no search terms")

// Sweeper terminates browser processes a request left behind.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// LaunchFunc creates the session factory for one request together with the sweeper that
// owns its browsers, so one request's cleanup never touches another's browsers.
type LaunchFunc func() (voyage.SessionFactory, Sweeper, error)

// ResultWriter persists merged entries and returns their URI.
type ResultWriter interface {
	Write(ctx context.Context, runID string, source voyage.Source, entries []voyage.Entry) (string, error)
}

// SourceHandlers are the per-site strategies.
type SourceHandlers struct {
	Link      string
	Automator voyage.Automator
	Extractor voyage.Extractor
}

// Config controls every request.
type Config struct {
	Parallel int
	Reuse    bool
}

// Deps are the collaborators a Service needs. Pacer is optional.
type Deps struct {
	Launch  LaunchFunc
	Sources map[voyage.Source]SourceHandlers
	Writer  ResultWriter
	Pacer   orchestrator.Pacer
	IDs     voyage.IDGenerator
}

// Outcome is the result of one request.
type Outcome struct {
	RunID   string
	Source  voyage.Source
	Entries []voyage.Entry
	// URI is empty when persisting failed.
	URI     string
	Elapsed time.Duration
}

// Service runs scrape requests. It is safe for concurrent use.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]Sweeper
}

// New validates deps and returns a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	if deps.Launch == nil || deps.Writer == nil || deps.IDs == nil {
		return nil, errors.New("pipeline needs a launcher, writer and id generator")
	}
	if len(deps.Sources) == 0 {
		return nil, errors.New("pipeline needs at least one source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, logger: logger, active: make(map[string]Sweeper)}, nil
}

// Supports reports whether source is configured.
func (s *Service) Supports(source voyage.Source) bool {
	_, ok := s.deps.Sources[source]
	return ok
}

// Scrape looks up every term on source. The returned entries align with terms; lookups
// that failed carry a nil record. Errors mean the run itself could not happen.
func (s *Service) Scrape(ctx context.Context, source voyage.Source, terms []string) (Outcome, error) {
	start := time.Now()
	handlers, ok := s.deps.Sources[source]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", voyage.ErrUnknownSource, source)
	}
	tasks := make([]voyage.SearchTask, 0, len(terms))
	for _, term := range terms {
		tasks = append(tasks, voyage.SearchTask{SearchTerm: strings.TrimSpace(term), SourceLink: handlers.Link})
	}
	if len(tasks) == 0 {
		return Outcome{}, ErrNoTerms
	}

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		return Outcome{}, fmt.Errorf("run id: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("source", string(source)))
	logger.Info("scrape started", zap.Int("tasks", len(tasks)))

	factory, sweeper, err := s.deps.Launch()
	if err != nil {
		return Outcome{}, fmt.Errorf("launch browsers: %w", err)
	}
	s.track(runID, sweeper)
	defer s.release(ctx, runID, sweeper, logger)

	orch, err := orchestrator.New(orchestrator.Config{
		Source:   source,
		Parallel: s.cfg.Parallel,
		Reuse:    s.cfg.Reuse,
		Pacer:    s.deps.Pacer,
	}, factory, handlers.Automator, handlers.Extractor, logger.Named("orchestrator"))
	if err != nil {
		return Outcome{}, fmt.Errorf("create orchestrator: %w", err)
	}
	records, err := orch.Run(ctx, tasks)
	if err != nil {
		return Outcome{}, err
	}
	entries, err := writer.Merge(tasks, records)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{RunID: runID, Source: source, Entries: entries}
	if out.URI, err = s.deps.Writer.Write(ctx, runID, source, entries); err != nil {
		logger.Error("persist results", zap.Error(err))
	}
	out.Elapsed = logging.Elapsed(logger, "scrape", start, zap.Int("tasks", len(tasks)))
	return out, nil
}

// Shutdown terminates the browsers of every request still running.
func (s *Service) Shutdown(ctx context.Context) int {
	s.mu.Lock()
	sweepers := make([]Sweeper, 0, len(s.active))
	for _, sw := range s.active {
		sweepers = append(sweepers, sw)
	}
	s.mu.Unlock()

	n := 0
	for _, sw := range sweepers {
		n += sw.Sweep(ctx)
	}
	return n
}

func (s *Service) track(runID string, sw Sweeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[runID] = sw
}

func (s *Service) release(ctx context.Context, runID string, sw Sweeper, logger *zap.Logger) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
	if n := sw.Sweep(ctx); n > 0 {
		logger.Warn("terminated lingering browsers", zap.Int("count", n))
	}
}
