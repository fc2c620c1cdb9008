package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

type fakeElement struct {
	text     string
	attrs    map[string]string
	children map[string][]voyage.Element
}

func (e *fakeElement) Text(context.Context) (string, error) { return e.text, nil }

func (e *fakeElement) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Find(_ context.Context, selector string) ([]voyage.Element, error) {
	return e.children[selector], nil
}

func candidateElement(name, category string) *fakeElement {
	return &fakeElement{
		text: name,
		children: map[string][]voyage.Element{
			"div.Qr4sP": {&fakeElement{text: name}},
			"div.-JP51": {&fakeElement{text: category}},
		},
	}
}

// fakeDriver is a scripted page. A selector in dom resolves once it has been waited on
// appearAfter[selector] times, and listed once QueryAll ran appearAfter["all:"+selector]
// times. Titles are returned in order with the last one repeating.
type fakeDriver struct {
	mu sync.Mutex

	isNew       bool
	dom         map[string][]voyage.Element
	appearAfter map[string]int
	asked       map[string]int
	titles      []string
	html        string
	url         string
	scriptFn    func(code string, args []any) (json.RawMessage, error)
	onType      func(d *fakeDriver)

	typed       []string
	navigations []string
	referers    []string
	direct      []string
	clicks      []voyage.Element
	screenshots []string
	scripts     []string
	reloads     int
	titleCalls  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		isNew:       true,
		dom:         map[string][]voyage.Element{},
		appearAfter: map[string]int{},
		asked:       map[string]int{},
		html:        "<html><body>detail</body></html>",
		url:         "https://example.test/detail",
	}
}

func (d *fakeDriver) lookup(key, selector string) []voyage.Element {
	d.asked[key]++
	if d.asked[key] <= d.appearAfter[key] {
		return nil
	}
	return d.dom[selector]
}

func (d *fakeDriver) Navigate(_ context.Context, url, referer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, url)
	d.referers = append(d.referers, referer)
	return nil
}

func (d *fakeDriver) NavigateDirect(_ context.Context, url, referer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.direct = append(d.direct, url)
	d.referers = append(d.referers, referer)
	return nil
}

func (d *fakeDriver) Query(_ context.Context, selector string) (voyage.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if els := d.lookup(selector, selector); len(els) > 0 {
		return els[0], nil
	}
	return nil, nil
}

func (d *fakeDriver) QueryAll(_ context.Context, selector string) ([]voyage.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookup("all:"+selector, selector), nil
}

func (d *fakeDriver) Click(_ context.Context, el voyage.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, el)
	return nil
}

func (d *fakeDriver) Type(_ context.Context, _ voyage.Element, text string, _ time.Duration) error {
	d.mu.Lock()
	d.typed = append(d.typed, text)
	hook := d.onType
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

func (d *fakeDriver) WaitFor(ctx context.Context, selector string, _ time.Duration) (voyage.Element, error) {
	return d.Query(ctx, selector)
}

func (d *fakeDriver) RunScript(_ context.Context, code string, args ...any) (json.RawMessage, error) {
	d.mu.Lock()
	d.scripts = append(d.scripts, code)
	fn := d.scriptFn
	d.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(code, args)
}

func (d *fakeDriver) Screenshot(_ context.Context, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshots = append(d.screenshots, name)
	return "/tmp/" + name, nil
}

func (d *fakeDriver) HTML(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

func (d *fakeDriver) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.titleCalls++
	if len(d.titles) == 0 {
		return "Vessel details", nil
	}
	t := d.titles[0]
	if len(d.titles) > 1 {
		d.titles = d.titles[1:]
	}
	return t, nil
}

func (d *fakeDriver) URL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Reload(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	return nil
}

func (d *fakeDriver) IsNew() bool { return d.isNew }

func (d *fakeDriver) askedFor(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asked[key]
}

func (d *fakeDriver) typedText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.typed, "")
}

// searchResponse builds the payload searchScript resolves to.
func searchResponse(status int, body string) json.RawMessage {
	raw, err := json.Marshal(map[string]any{"status": status, "body": body})
	if err != nil {
		panic(fmt.Sprintf("marshal search response: %v", err))
	}
	return raw
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeSolver struct {
	mu      sync.Mutex
	token   string
	err     error
	siteKey string
	pageURL string
	calls   int
}

func (s *fakeSolver) SolveTurnstile(_ context.Context, siteKey, pageURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.siteKey = siteKey
	s.pageURL = pageURL
	return s.token, s.err
}
