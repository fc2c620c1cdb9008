package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/captcha"
	"github.com/JakeFAU/voyage-scraper/internal/clock/system"
	"github.com/JakeFAU/voyage-scraper/internal/metrics"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

const (
	defaultChallengePoll = 3 * time.Second
	consentLabel         = "agree"
)

// TokenSolver solves a Turnstile widget on demand.
type TokenSolver interface {
	SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error)
}

// Options are the site-independent knobs of an Automator.
type Options struct {
	ChallengePoll time.Duration
	// ChallengeMaxWait caps CHALLENGE_WAIT. Zero waits for as long as the interstitial stays.
	ChallengeMaxWait time.Duration
	// Solver, when set, is asked once per interstitial for a Turnstile token.
	Solver TokenSolver
	Clock  voyage.Clock
}

// Automator runs the search state machine for one site. It implements voyage.Automator
// and holds no per-task state, so one value serves every worker.
type Automator struct {
	site   Site
	opts   Options
	logger *zap.Logger
}

// New builds an Automator for site.
func New(site Site, opts Options, logger *zap.Logger) (*Automator, error) {
	if site.Resolver == nil {
		return nil, fmt.Errorf("site %s has no resolver", site.Source)
	}
	if site.SearchInput == "" {
		return nil, fmt.Errorf("site %s has no search input selector", site.Source)
	}
	if opts.ChallengePoll <= 0 {
		opts.ChallengePoll = defaultChallengePoll
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if site.Category == "" {
		site.Category = DefaultCategory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Automator{
		site:   site,
		opts:   opts,
		logger: logger.With(zap.String("source", string(site.Source))),
	}, nil
}

// Source reports which site the automator drives.
func (a *Automator) Source() voyage.Source {
	return a.site.Source
}

// Search drives drv to the detail page for task. Not finding the vessel is not an error:
// it returns an empty snapshot after leaving diagnostics behind.
func (a *Automator) Search(ctx context.Context, drv voyage.Driver, task voyage.SearchTask) (voyage.Snapshot, error) {
	logger := a.logger.With(zap.String("search_term", task.SearchTerm))
	var (
		cands []voyage.Candidate
		match voyage.Candidate
	)

	state := StateQueryEntry
	if drv.IsNew() {
		state = StateInit
	}
	for {
		logger.Debug("search state", zap.String("state", string(state)))
		switch state {
		case StateInit:
			if err := drv.Navigate(ctx, task.SourceLink, a.site.Referer); err != nil {
				return voyage.Snapshot{}, fmt.Errorf("open site: %w", err)
			}
			if err := sleep(ctx, a.site.Timings.Settle); err != nil {
				return voyage.Snapshot{}, err
			}
			state = StateConsentHandling

		case StateConsentHandling:
			a.dismissConsent(ctx, drv, logger)
			state = StateQueryEntry

		case StateQueryEntry:
			if err := a.enterQuery(ctx, drv, task.SearchTerm, logger); err != nil {
				return voyage.Snapshot{}, err
			}
			state = StateCandidateSearch

		case StateCandidateSearch, StateCandidateSearchRetry:
			var err error
			cands, err = a.site.Resolver.Candidates(ctx, drv, task.SearchTerm, a.site.Timings.Wait)
			if err != nil {
				return voyage.Snapshot{}, fmt.Errorf("read candidates: %w", err)
			}
			if len(cands) == 0 && state == StateCandidateSearch {
				logger.Debug("no candidates yet, retrying")
				if err := sleep(ctx, a.site.Timings.RetryDelay); err != nil {
					return voyage.Snapshot{}, err
				}
				state = StateCandidateSearchRetry
				continue
			}
			idx := Match(cands, task.SearchTerm, a.site.Category)
			if idx < 0 {
				state = StateNotFound
				continue
			}
			match = cands[idx]
			state = StateDetailNavigation

		case StateDetailNavigation:
			if err := a.site.Resolver.Open(ctx, drv, task, match); err != nil {
				return voyage.Snapshot{}, err
			}
			if a.site.DetailAnchor != "" {
				if _, err := drv.WaitFor(ctx, a.site.DetailAnchor, a.site.Timings.Wait); err != nil {
					return voyage.Snapshot{}, fmt.Errorf("wait for detail page: %w", err)
				}
			}
			state = StateChallengeWait

		case StateChallengeWait:
			if err := a.awaitChallenge(ctx, drv, logger); err != nil {
				return voyage.Snapshot{}, err
			}
			state = StateExtractionReady

		case StateExtractionReady:
			snap, err := a.capture(ctx, drv, logger)
			if err != nil {
				return voyage.Snapshot{}, err
			}
			logger.Debug("search state", zap.String("state", string(StateFound)), zap.String("url", snap.URL))
			return snap, nil

		case StateNotFound:
			a.reportNotFound(ctx, drv, task, cands, logger)
			return voyage.Snapshot{}, nil

		default:
			return voyage.Snapshot{}, fmt.Errorf("unknown search state %q", state)
		}
	}
}

func (a *Automator) dismissConsent(ctx context.Context, drv voyage.Driver, logger *zap.Logger) {
	if a.site.ConsentButtons == "" {
		return
	}
	first, err := drv.WaitFor(ctx, a.site.ConsentButtons, a.site.Timings.Wait)
	if err != nil || first == nil {
		logger.Debug("no consent dialog", zap.Error(err))
		return
	}
	buttons, err := drv.QueryAll(ctx, a.site.ConsentButtons)
	if err != nil {
		logger.Debug("consent buttons unreadable", zap.Error(err))
		return
	}
	for _, b := range buttons {
		text, err := b.Text(ctx)
		if err != nil {
			continue
		}
		// The footer also offers DISAGREE, so the label must match exactly.
		if !strings.EqualFold(strings.TrimSpace(text), consentLabel) {
			continue
		}
		if err := drv.Click(ctx, b); err != nil {
			logger.Debug("consent click failed", zap.Error(err))
			return
		}
		logger.Debug("consent button clicked", zap.String("label", text))
		return
	}
	logger.Debug("consent dialog has no agree button", zap.Int("buttons", len(buttons)))
}

func (a *Automator) enterQuery(ctx context.Context, drv voyage.Driver, term string, logger *zap.Logger) error {
	if a.site.SearchTrigger != "" {
		trigger, err := drv.WaitFor(ctx, a.site.SearchTrigger, a.site.Timings.Wait)
		if err != nil {
			return fmt.Errorf("wait for search trigger: %w", err)
		}
		if trigger != nil {
			if err := drv.Click(ctx, trigger); err != nil {
				return fmt.Errorf("open search: %w", err)
			}
		}
	}
	input, err := drv.WaitFor(ctx, a.site.SearchInput, a.site.Timings.Wait)
	if err != nil {
		return fmt.Errorf("wait for search input: %w", err)
	}
	if input == nil {
		a.screenshot(ctx, drv, term, logger)
		return fmt.Errorf("%w: %s", ErrSearchInputMissing, a.site.SearchInput)
	}
	for i, chunk := range Chunks(term, ChunkSize) {
		if i > 0 {
			if err := sleep(ctx, a.site.Timings.ChunkDelay); err != nil {
				return err
			}
		}
		if err := drv.Type(ctx, input, chunk, a.site.Timings.KeyDelay); err != nil {
			return fmt.Errorf("type search term: %w", err)
		}
	}
	return nil
}

func (a *Automator) awaitChallenge(ctx context.Context, drv voyage.Driver, logger *zap.Logger) error {
	title, err := drv.Title(ctx)
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	if !captcha.IsChallengeTitle(title) {
		return nil
	}

	logger.Info("challenge page detected, waiting for it to clear")
	start := time.Now()
	asked := false
	for polls := 1; captcha.IsChallengeTitle(title); polls++ {
		if a.opts.Solver != nil && !asked {
			asked = true
			a.solveChallenge(ctx, drv, logger)
		}
		if a.opts.ChallengeMaxWait > 0 && time.Since(start) >= a.opts.ChallengeMaxWait {
			metrics.ObserveChallengeWait(string(a.site.Source), time.Since(start))
			return fmt.Errorf("%w after %s", ErrChallengeTimeout, a.opts.ChallengeMaxWait)
		}
		if err := sleep(ctx, a.opts.ChallengePoll); err != nil {
			return fmt.Errorf("challenge wait: %w", err)
		}
		if title, err = drv.Title(ctx); err != nil {
			return fmt.Errorf("read title: %w", err)
		}
		logger.Debug("challenge poll", zap.Int("poll", polls), zap.String("title", title))
	}
	waited := time.Since(start)
	metrics.ObserveChallengeWait(string(a.site.Source), waited)
	logger.Info("challenge cleared", zap.Duration("waited", waited))
	return nil
}

func (a *Automator) solveChallenge(ctx context.Context, drv voyage.Driver, logger *zap.Logger) {
	siteKey := turnstileSiteKey(ctx, drv, logger)
	if siteKey == "" {
		logger.Debug("no turnstile widget on challenge page")
		return
	}
	pageURL, err := drv.URL(ctx)
	if err != nil {
		logger.Debug("challenge url unreadable", zap.Error(err))
		return
	}
	token, err := a.opts.Solver.SolveTurnstile(ctx, siteKey, pageURL)
	if err != nil {
		logger.Warn("turnstile solve failed, waiting for the page instead", zap.Error(err))
		return
	}
	if _, err := drv.RunScript(ctx, captcha.InjectTokenScript, token); err != nil {
		logger.Warn("turnstile token injection failed", zap.Error(err))
	}
}

// turnstileSiteKey reads the key off the rendered widget, falling back to the page markup
// for widgets injected through turnstile.render.
func turnstileSiteKey(ctx context.Context, drv voyage.Driver, logger *zap.Logger) string {
	if widget, err := drv.Query(ctx, captcha.TurnstileSelector); err == nil && widget != nil {
		key, ok, err := widget.Attr(ctx, captcha.SiteKeyAttr)
		if err != nil {
			logger.Debug("turnstile widget attribute unreadable", zap.Error(err))
		}
		if ok && strings.TrimSpace(key) != "" {
			return strings.TrimSpace(key)
		}
	}
	html, err := drv.HTML(ctx)
	if err != nil {
		logger.Debug("challenge markup unreadable", zap.Error(err))
		return ""
	}
	return captcha.TurnstileSiteKey(html)
}

func (a *Automator) capture(ctx context.Context, drv voyage.Driver, logger *zap.Logger) (voyage.Snapshot, error) {
	if a.site.ReadyAnchor != "" {
		anchor, err := drv.WaitFor(ctx, a.site.ReadyAnchor, a.site.Timings.Wait)
		if err != nil {
			return voyage.Snapshot{}, fmt.Errorf("wait for voyage section: %w", err)
		}
		if anchor == nil {
			logger.Warn("voyage section did not render, capturing page as is",
				zap.String("anchor", a.site.ReadyAnchor))
		}
	}
	if err := sleep(ctx, a.site.Timings.Settle); err != nil {
		return voyage.Snapshot{}, err
	}
	html, err := drv.HTML(ctx)
	if err != nil {
		return voyage.Snapshot{}, err
	}
	pageURL, err := drv.URL(ctx)
	if err != nil {
		return voyage.Snapshot{}, err
	}
	return voyage.Snapshot{Source: a.site.Source, URL: pageURL, HTML: html}, nil
}

func (a *Automator) reportNotFound(
	ctx context.Context,
	drv voyage.Driver,
	task voyage.SearchTask,
	cands []voyage.Candidate,
	logger *zap.Logger,
) {
	logger.Debug("search state", zap.String("state", string(StateNotFound)))
	logger.Warn("vessel not found", zap.Int("candidates", len(cands)))
	a.screenshot(ctx, drv, task.SearchTerm, logger)
	if len(cands) > 0 {
		logger.Warn("alternative candidates", zap.Strings("alternatives", describe(cands)))
	}
	if err := drv.Reload(ctx); err != nil {
		logger.Warn("reload after not found failed", zap.Error(err))
	}
}

func (a *Automator) screenshot(ctx context.Context, drv voyage.Driver, term string, logger *zap.Logger) {
	path, err := drv.Screenshot(ctx, ScreenshotName(term, a.opts.Clock.Now()))
	if err != nil {
		logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	logger.Info("saved screenshot", zap.String("path", path))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
