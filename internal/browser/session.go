package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/metrics"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// ErrSessionStart marks a browser that crashed or hung while launching.
var ErrSessionStart = errors.New("browser session start failed")

// Factory launches chromedp sessions. It implements voyage.SessionFactory.
type Factory struct {
	cfg      Config
	proxies  *rotation
	reaper   *Reaper
	logger   *zap.Logger
	pickUA   func(int) int
	sessions atomic.Int64
}

// NewFactory validates cfg and prepares proxy rotation.
func NewFactory(cfg Config, reaper *Reaper, logger *zap.Logger) (*Factory, error) {
	if reaper == nil {
		return nil, fmt.Errorf("reaper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	proxies, err := newRotation(cfg.Proxies)
	if err != nil {
		return nil, err
	}
	if cfg.ExtensionDir != "" {
		if info, statErr := os.Stat(cfg.ExtensionDir); statErr != nil || !info.IsDir() {
			return nil, fmt.Errorf("extension dir %q is not a directory", cfg.ExtensionDir)
		}
	}
	return &Factory{
		cfg:     cfg,
		proxies: proxies,
		reaper:  reaper,
		logger:  logger,
	}, nil
}

// NewSession launches a browser and returns it once the first tab is ready.
// A browser that does not come up within the navigation timeout is torn down.
func (f *Factory) NewSession(ctx context.Context) (voyage.Session, error) {
	p := f.proxies.pick()
	ua := pickUserAgent(f.cfg.UserAgents, f.pickUA)
	id := f.sessions.Add(1)
	logger := f.logger.With(zap.Int64("session", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(f.cfg, p, ua)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		reaper:      f.reaper,
		cfg:         f.cfg,
		logger:      logger,
	}
	s.isNew.Store(true)
	s.listen(p)

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx, s.setupAction(ua, p))
	}()

	timer := time.NewTimer(f.cfg.navTimeout())
	defer timer.Stop()
	var err error
	select {
	case err = <-started:
	case <-timer.C:
		err = fmt.Errorf("browser did not start within %s", f.cfg.navTimeout())
	case <-ctx.Done():
		err = ctx.Err()
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		s.process = c.Browser.Process()
		f.reaper.Track(s.process)
	}
	if err != nil {
		if tdErr := s.teardown(context.Background()); tdErr != nil {
			logger.Warn("teardown after failed start", zap.Error(tdErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	metrics.IncActiveSessions()
	logger.Debug("browser session started",
		zap.Bool("headless", f.cfg.Headless),
		zap.String("proxy", p.server),
		zap.String("user_agent", ua),
		zap.Bool("extension", f.cfg.ExtensionDir != ""),
	)
	return s, nil
}

// Session is one browser instance with a single tab. It implements voyage.Session.
// Only the owning worker may call it.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	process     *os.Process
	reaper      *Reaper
	cfg         Config
	logger      *zap.Logger

	isNew     atomic.Bool
	closeOnce sync.Once
}

func (s *Session) setupAction(ua string, p proxy) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua != "" {
			if err := emulation.SetUserAgentOverride(ua).WithAcceptLanguage("en-US,en").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		patterns := s.fetchPatterns(p)
		if len(patterns) == 0 {
			return nil
		}
		if err := fetch.Enable().WithPatterns(patterns).WithHandleAuthRequests(p.hasAuth()).Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		return nil
	})
}

// fetchPatterns pauses everything when proxy credentials must be answered,
// otherwise only the resource types that are blocked.
func (s *Session) fetchPatterns(p proxy) []*fetch.RequestPattern {
	if p.hasAuth() {
		return []*fetch.RequestPattern{{URLPattern: "*"}}
	}
	if !s.cfg.BlockResources {
		return nil
	}
	patterns := make([]*fetch.RequestPattern, 0, len(blockedResourceTypes))
	for _, rt := range blockedResourceTypes {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt})
	}
	return patterns
}

func (s *Session) listen(p proxy) {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go s.resolvePaused(e)
		case *fetch.EventAuthRequired:
			go s.answerAuth(e, p)
		}
	})
}

func (s *Session) resolvePaused(e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(s.ctx, c.Target)
	var err error
	if s.cfg.BlockResources && isBlocked(e.ResourceType) {
		err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(e.RequestID).Do(execCtx)
	}
	if err != nil && s.ctx.Err() == nil {
		s.logger.Debug("paused request not resolved", zap.String("url", e.Request.URL), zap.Error(err))
	}
}

func (s *Session) answerAuth(e *fetch.EventAuthRequired, p proxy) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(s.ctx, c.Target)
	resp := &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: p.username,
		Password: p.password,
	}
	if err := fetch.ContinueWithAuth(e.RequestID, resp).Do(execCtx); err != nil && s.ctx.Err() == nil {
		s.logger.Debug("proxy auth not answered", zap.Error(err))
	}
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return err
	}
	return nil
}

// IsNew reports whether the session has not served a task yet.
func (s *Session) IsNew() bool {
	return s.isNew.Load()
}

// MarkUsed records that the session has served a task.
func (s *Session) MarkUsed() {
	s.isNew.Store(false)
}

// Navigate loads url with the given referer and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url, referer string) error {
	if err := s.run(ctx, s.cfg.navTimeout(), refererAction(referer), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// NavigateDirect deep-links to url without waiting for the page to finish loading.
func (s *Session) NavigateDirect(ctx context.Context, url, referer string) error {
	target, err := json.Marshal(url)
	if err != nil {
		return fmt.Errorf("encode url: %w", err)
	}
	assign := chromedp.Evaluate("window.location.assign("+string(target)+")", nil)
	if err := s.run(ctx, s.cfg.navTimeout(), refererAction(referer), assign); err != nil {
		return fmt.Errorf("navigate direct %s: %w", url, err)
	}
	return nil
}

// refererAction sets the Referer sent with every request until the next navigation.
func refererAction(referer string) *network.SetExtraHTTPHeadersParams {
	headers := network.Headers{}
	if referer != "" {
		headers["Referer"] = referer
	}
	return network.SetExtraHTTPHeaders(headers)
}

// Query returns the first match for selector, or nil without waiting.
func (s *Session) Query(ctx context.Context, selector string) (voyage.Element, error) {
	nodes, err := s.nodes(ctx, selector, chromedp.ByQuery)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &element{s: s, node: nodes[0]}, nil
}

// QueryAll returns every match for selector without waiting.
func (s *Session) QueryAll(ctx context.Context, selector string) ([]voyage.Element, error) {
	nodes, err := s.nodes(ctx, selector, chromedp.ByQueryAll)
	if err != nil {
		return nil, err
	}
	return wrapNodes(s, nodes), nil
}

func (s *Session) nodes(ctx context.Context, selector string, opts ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts = append(opts, chromedp.AtLeast(0))
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	return nodes, nil
}

// WaitFor waits until selector is present. A timeout yields nil, nil.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) (voyage.Element, error) {
	var nodes []*cdp.Node
	err := s.run(ctx, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQuery))
	switch {
	case err == nil && len(nodes) > 0:
		return &element{s: s, node: nodes[0]}, nil
	case err == nil:
		return nil, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("wait for %s: %w", selector, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return nil, nil
	default:
		return nil, fmt.Errorf("wait for %s: %w", selector, err)
	}
}

// Click clicks el once it is visible.
func (s *Session) Click(ctx context.Context, el voyage.Element) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Click([]cdp.NodeID{n.node.NodeID}, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Type focuses el and sends text one key at a time.
func (s *Session) Type(ctx context.Context, el voyage.Element, text string, interCharDelay time.Duration) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Focus([]cdp.NodeID{n.node.NodeID}, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	for i, r := range []rune(text) {
		if i > 0 && interCharDelay > 0 {
			if err := sleep(ctx, interCharDelay); err != nil {
				return err
			}
		}
		if err := s.run(ctx, s.cfg.navTimeout(), chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}
	return nil
}

// RunScript evaluates code as the body of an async function called with args,
// and returns its JSON-encoded result.
func (s *Session) RunScript(ctx context.Context, code string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode script args: %w", err)
	}
	expr := "(async function(){\n" + code + "\n}).apply(null, " + string(encoded) + ")"
	var raw []byte
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Evaluate(expr, &raw, awaitPromise)); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Screenshot writes a full-page PNG named name into the screenshot directory and returns its path.
func (s *Session) Screenshot(ctx context.Context, name string) (string, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	dir := s.cfg.ScreenshotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// HTML returns the current document markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// URL returns the current document location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, s.cfg.navTimeout(), chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Close shuts the browser down and makes sure its process is gone.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		metrics.DecActiveSessions()
		err = s.teardown(ctx)
	})
	return err
}

func (s *Session) teardown(ctx context.Context) error {
	s.cancel()
	err := s.reaper.Terminate(ctx, s.process)
	s.allocCancel()
	if err != nil {
		return fmt.Errorf("terminate browser: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
