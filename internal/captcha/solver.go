// Package captcha integrates the 2Captcha service, both as a browser extension
// loaded into sessions and as an API solver for Cloudflare Turnstile.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("captcha solver not configured")

// ChallengeTitle is the document title of the Cloudflare interstitial.
const ChallengeTitle = "Just a moment..."

// client is the slice of the 2Captcha client the solver needs.
type client interface {
	Solve(req api2captcha.Request) (string, string, error)
	GetBalance() (float64, error)
}

// Config tunes the 2Captcha client.
type Config struct {
	APIKey          string
	Timeout         time.Duration
	PollingInterval time.Duration
}

// Solver solves Turnstile challenges through the 2Captcha API.
type Solver struct {
	client client
	logger *zap.Logger
}

// NewSolver builds a Solver. An empty API key returns ErrNotConfigured.
func NewSolver(cfg Config, logger *zap.Logger) (*Solver, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := api2captcha.NewClient(cfg.APIKey)
	if cfg.Timeout > 0 {
		c.DefaultTimeout = int(cfg.Timeout.Seconds())
	}
	if cfg.PollingInterval > 0 {
		c.PollingInterval = int(cfg.PollingInterval.Seconds())
	}
	return &Solver{client: c, logger: logger}, nil
}

// SolveTurnstile returns a Turnstile token for siteKey on pageURL.
// The 2Captcha client blocks while polling, so ctx only bounds how long the caller waits.
func (s *Solver) SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error) {
	turnstile := api2captcha.CloudflareTurnstile{SiteKey: siteKey, Url: pageURL}
	req := turnstile.ToRequest()

	type result struct {
		code string
		id   string
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		code, id, err := s.client.Solve(req)
		done <- result{code: code, id: id, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("solve turnstile: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			s.logger.Error("turnstile solve failed",
				zap.String("site_key", siteKey),
				zap.String("captcha_id", r.id),
				zap.Error(r.err),
			)
			return "", fmt.Errorf("solve turnstile: %w", r.err)
		}
		s.logger.Info("turnstile solved",
			zap.String("site_key", siteKey),
			zap.Duration("solving_time", time.Since(start)),
		)
		return r.code, nil
	}
}

// Balance returns the account balance, which doubles as a key health check.
func (s *Solver) Balance(ctx context.Context) (float64, error) {
	type result struct {
		balance float64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		b, err := s.client.GetBalance()
		done <- result{balance: b, err: err}
	}()
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("get balance: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return 0, fmt.Errorf("get balance: %w", r.err)
		}
		return r.balance, nil
	}
}

// TurnstileSelector matches a rendered Turnstile widget; its key is in SiteKeyAttr.
const (
	TurnstileSelector = ".cf-turnstile[data-sitekey]"
	SiteKeyAttr       = "data-sitekey"
)

var turnstileSiteKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`class="[^"]*cf-turnstile[^"]*"[^>]*data-sitekey="([^"]+)"`),
	regexp.MustCompile(`data-sitekey="([^"]+)"[^>]*class="[^"]*cf-turnstile`),
	regexp.MustCompile(`turnstile\.render\([^)]*sitekey['"]?\s*:\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`[?&]sitekey=([0-9A-Za-z_-]+)`),
}

// TurnstileSiteKey extracts the Turnstile site key from page markup, or "".
func TurnstileSiteKey(html string) string {
	for _, re := range turnstileSiteKeyPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// IsChallengeTitle reports whether title is the interstitial marker.
func IsChallengeTitle(title string) bool {
	return strings.EqualFold(strings.TrimSpace(title), ChallengeTitle)
}

// InjectTokenScript fills the Turnstile response field with arguments[0] and fires the
// widget callback when the page registered one.
const InjectTokenScript = `
const token = arguments[0];
const fields = document.querySelectorAll('[name="cf-turnstile-response"], [name="g-recaptcha-response"]');
fields.forEach((f) => { f.value = token; });
const widget = document.querySelector('.cf-turnstile[data-callback]');
if (widget) {
	const cb = window[widget.getAttribute('data-callback')];
	if (typeof cb === 'function') { cb(token); }
}
return fields.length;
`
