// Package browser implements the chromedp-backed driver session used by the search automators.
package browser

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultWindowWidth  = 1920
	defaultWindowHeight = 1080
)

// Config controls how sessions are launched.
type Config struct {
	Headless       bool
	ExecPath       string
	Proxies        []string
	UserAgents     []string
	BlockResources bool
	// ExtensionDir is an unpacked extension loaded into every session.
	ExtensionDir  string
	NavTimeout    time.Duration
	CloseGrace    time.Duration
	ScreenshotDir string
	WindowWidth   int
	WindowHeight  int
}

func (c Config) navTimeout() time.Duration {
	if c.NavTimeout <= 0 {
		return defaultNavTimeout
	}
	return c.NavTimeout
}

// blockedResourceTypes are failed before they hit the network when BlockResources is set.
var blockedResourceTypes = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeStylesheet,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

func isBlocked(rt network.ResourceType) bool {
	for _, b := range blockedResourceTypes {
		if rt == b {
			return true
		}
	}
	return false
}

// proxy is one parsed proxy entry. Chrome cannot take credentials on the command line,
// so they are kept aside and answered through the Fetch domain.
type proxy struct {
	server   string
	username string
	password string
}

func (p proxy) hasAuth() bool {
	return p.username != ""
}

func parseProxy(raw string) (proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return proxy{}, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return proxy{}, fmt.Errorf("parse proxy: %w", err)
	}
	if u.Host == "" {
		return proxy{}, fmt.Errorf("parse proxy: missing host in %q", raw)
	}
	p := proxy{server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		p.username = u.User.Username()
		p.password, _ = u.User.Password()
	}
	return p, nil
}

// rotation hands out proxies round-robin across sessions.
type rotation struct {
	proxies []proxy
	next    atomic.Uint64
}

func newRotation(raw []string) (*rotation, error) {
	r := &rotation{}
	for _, entry := range raw {
		p, err := parseProxy(entry)
		if err != nil {
			return nil, err
		}
		if p.server != "" {
			r.proxies = append(r.proxies, p)
		}
	}
	return r, nil
}

func (r *rotation) pick() proxy {
	if len(r.proxies) == 0 {
		return proxy{}
	}
	i := r.next.Add(1) - 1
	return r.proxies[i%uint64(len(r.proxies))]
}

func pickUserAgent(agents []string, intn func(int) int) string {
	if len(agents) == 0 {
		return ""
	}
	if intn == nil {
		intn = rand.IntN
	}
	return agents[intn(len(agents))]
}

func allocatorOptions(cfg Config, p proxy, userAgent string) []chromedp.ExecAllocatorOption {
	width, height := cfg.WindowWidth, cfg.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = defaultWindowWidth, defaultWindowHeight
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if p.server != "" {
		opts = append(opts, chromedp.ProxyServer(p.server))
	}
	if cfg.ExtensionDir != "" {
		opts = append(opts,
			chromedp.Flag("disable-extensions", false),
			chromedp.Flag("load-extension", cfg.ExtensionDir),
			chromedp.Flag("disable-extensions-except", cfg.ExtensionDir),
		)
	}
	return opts
}

// stealthScript runs before any page script to hide the usual automation markers.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5], configurable: true });
window.chrome = window.chrome || { runtime: {} };
const originalQuery = window.navigator.permissions && window.navigator.permissions.query;
if (originalQuery) {
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: originalQuery(parameters)
	);
}
`
