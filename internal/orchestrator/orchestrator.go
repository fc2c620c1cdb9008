// Package orchestrator runs search tasks on a bounded pool of browser workers and returns
// one record per task in input order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/voyage-scraper/internal/logging"
	"github.com/JakeFAU/voyage-scraper/internal/metrics"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// maxAttempts bounds how often one task is tried, each retry on a fresh session.
const maxAttempts = 2

var errTaskPanic = errors.New("task panicked")

// Pacer delays task starts for a source.
type Pacer interface {
	Wait(ctx context.Context, source string) error
}

// Config controls one orchestrator run.
type Config struct {
	Source   voyage.Source
	Parallel int
	// Reuse keeps each worker's session open across its tasks.
	Reuse bool
	// Pacer is optional.
	Pacer Pacer
}

// Orchestrator fans tasks out to workers. Build a new one per request.
type Orchestrator struct {
	cfg       Config
	factory   voyage.SessionFactory
	automator voyage.Automator
	extractor voyage.Extractor
	logger    *zap.Logger
}

// New validates cfg and returns an Orchestrator.
func New(
	cfg Config,
	factory voyage.SessionFactory,
	automator voyage.Automator,
	extractor voyage.Extractor,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if cfg.Parallel < 1 {
		return nil, fmt.Errorf("parallel must be at least 1, got %d", cfg.Parallel)
	}
	if factory == nil || automator == nil || extractor == nil {
		return nil, errors.New("orchestrator needs a session factory, automator and extractor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		factory:   factory,
		automator: automator,
		extractor: extractor,
		logger:    logger,
	}, nil
}

// Run executes every task and returns records aligned with tasks. A nil record marks a
// task that failed or found nothing; task failures never fail the run.
func (o *Orchestrator) Run(ctx context.Context, tasks []voyage.SearchTask) ([]*voyage.Record, error) {
	results := make([]*voyage.Record, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	jobs := make(chan int)
	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for i := range tasks {
			jobs <- i
		}
		return nil
	})
	for id := range min(o.cfg.Parallel, len(tasks)) {
		w := &worker{o: o, logger: o.logger.With(zap.Int("worker", id))}
		g.Go(func() error {
			defer w.discard(ctx)
			for i := range jobs {
				results[i] = w.run(ctx, i, tasks[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run tasks: %w", err)
	}
	return results, nil
}

// worker owns at most one session. Only its goroutine touches it.
type worker struct {
	o       *Orchestrator
	session voyage.Session
	logger  *zap.Logger
}

func (w *worker) run(ctx context.Context, index int, task voyage.SearchTask) *voyage.Record {
	source := string(w.o.cfg.Source)
	fields := logging.Task(source, index, task.SearchTerm)
	logger := w.logger.With(fields...)
	start := time.Now()
	outcome := metrics.OutcomeFailed
	logger.Info("task started")
	defer func() {
		metrics.ObserveTask(source, outcome, time.Since(start))
		logging.Elapsed(logger, "task", start, zap.String("outcome", outcome))
	}()

	if w.o.cfg.Pacer != nil {
		if err := w.o.cfg.Pacer.Wait(ctx, source); err != nil {
			logger.Error("task not started", zap.Error(err))
			return nil
		}
	}

	var snap voyage.Snapshot
	for attempt := 1; ; attempt++ {
		var err error
		snap, err = w.search(ctx, task)
		if err == nil {
			break
		}
		w.discard(ctx)
		if errors.Is(err, errTaskPanic) || attempt >= maxAttempts || ctx.Err() != nil {
			logger.Error("task failed",
				zap.Int("attempt", attempt), zap.Error(err), zap.Stack("stack"))
			return nil
		}
		logger.Warn("task attempt failed, retrying on a fresh session",
			zap.Int("attempt", attempt), zap.Error(err))
		metrics.ObserveRetry(source)
	}

	if snap.Empty() {
		outcome = metrics.OutcomeNotFound
		return nil
	}
	rec, err := w.extract(snap)
	if err != nil {
		logger.Error("extraction failed", zap.Error(err), zap.Stack("stack"))
		return nil
	}
	outcome = metrics.OutcomeFound
	return rec
}

func (w *worker) search(ctx context.Context, task voyage.SearchTask) (snap voyage.Snapshot, err error) {
	defer w.recoverTask(&err)
	if w.session == nil {
		s, err := w.o.factory.NewSession(ctx)
		if err != nil {
			return voyage.Snapshot{}, fmt.Errorf("start session: %w", err)
		}
		w.session = s
	}
	snap, err = w.o.automator.Search(ctx, w.session, task)
	if err != nil {
		return voyage.Snapshot{}, err
	}
	if w.o.cfg.Reuse {
		w.session.MarkUsed()
	} else {
		w.discard(ctx)
	}
	return snap, nil
}

func (w *worker) extract(snap voyage.Snapshot) (rec *voyage.Record, err error) {
	defer w.recoverTask(&err)
	return w.o.extractor.Extract(snap)
}

func (w *worker) recoverTask(err *error) {
	if r := recover(); r != nil {
		w.logger.Error("recovered from panic", zap.Any("panic", r), zap.Stack("stack"))
		*err = fmt.Errorf("%w: %v", errTaskPanic, r)
	}
}

func (w *worker) discard(ctx context.Context) {
	if w.session == nil {
		return
	}
	if err := w.session.Close(ctx); err != nil {
		w.logger.Warn("close session", zap.Error(err))
	}
	w.session = nil
}
