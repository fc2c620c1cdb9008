package browser

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/metrics"
)

const reapPollInterval = 100 * time.Millisecond

// Reaper tracks browser processes and makes sure none outlive the request that launched them.
// Termination is graceful first: wait, SIGTERM, wait, then SIGKILL.
type Reaper struct {
	mu     sync.Mutex
	procs  map[int]*os.Process
	grace  time.Duration
	logger *zap.Logger
}

// NewReaper constructs a Reaper with the given grace period per escalation step.
func NewReaper(grace time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		procs:  make(map[int]*os.Process),
		grace:  grace,
		logger: logger,
	}
}

// Track registers a launched process.
func (r *Reaper) Track(p *os.Process) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.procs[p.Pid] = p
	r.mu.Unlock()
}

// Tracked returns the number of processes still registered.
func (r *Reaper) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// Terminate stops p and forgets it. It returns once the process is gone or has been killed.
func (r *Reaper) Terminate(ctx context.Context, p *os.Process) error {
	if p == nil {
		return nil
	}
	r.mu.Lock()
	delete(r.procs, p.Pid)
	r.mu.Unlock()

	if r.waitExit(ctx, p) {
		return nil
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Debug("sigterm failed", zap.Int("pid", p.Pid), zap.Error(err))
	} else if err == nil {
		metrics.ObserveReap("SIGTERM")
	}
	if r.waitExit(ctx, p) {
		return nil
	}
	r.logger.Warn("browser ignored sigterm, killing", zap.Int("pid", p.Pid))
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	metrics.ObserveReap("SIGKILL")
	return nil
}

// Sweep terminates every tracked process and returns how many were still registered.
func (r *Reaper) Sweep(ctx context.Context) int {
	r.mu.Lock()
	procs := make([]*os.Process, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *os.Process) {
			defer wg.Done()
			if err := r.Terminate(ctx, p); err != nil {
				r.logger.Error("failed to terminate browser", zap.Int("pid", p.Pid), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()
	if len(procs) > 0 {
		r.logger.Info("swept lingering browsers", zap.Int("count", len(procs)))
	}
	return len(procs)
}

// waitExit polls until p has exited or the grace period ends.
func (r *Reaper) waitExit(ctx context.Context, p *os.Process) bool {
	deadline := time.Now().Add(r.grace)
	for {
		if !alive(p) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !alive(p)
		case <-time.After(reapPollInterval):
		}
	}
}

func alive(p *os.Process) bool {
	return p.Signal(syscall.Signal(0)) == nil
}
