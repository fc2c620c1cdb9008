package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// Resolver lists the candidates for a typed term and opens the chosen one.
type Resolver interface {
	Candidates(ctx context.Context, drv voyage.Driver, term string, wait time.Duration) ([]voyage.Candidate, error)
	Open(ctx context.Context, drv voyage.Driver, task voyage.SearchTask, c voyage.Candidate) error
}

// DOMResolver reads the autosuggest list rendered under the search box and clicks an entry.
type DOMResolver struct {
	List     string
	Name     string
	Category string
}

// Candidates waits for the list and reads every entry's name and category.
func (r *DOMResolver) Candidates(ctx context.Context, drv voyage.Driver, _ string, wait time.Duration) ([]voyage.Candidate, error) {
	if _, err := drv.WaitFor(ctx, r.List, wait); err != nil {
		return nil, fmt.Errorf("wait for results: %w", err)
	}
	items, err := drv.QueryAll(ctx, r.List)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	cands := make([]voyage.Candidate, 0, len(items))
	for _, it := range items {
		name, err := firstText(ctx, it, r.Name)
		if err != nil {
			return nil, err
		}
		category, err := firstText(ctx, it, r.Category)
		if err != nil {
			return nil, err
		}
		cands = append(cands, voyage.Candidate{DisplayName: name, Category: category, Handle: it})
	}
	return cands, nil
}

// Open clicks the candidate in place.
func (r *DOMResolver) Open(ctx context.Context, drv voyage.Driver, _ voyage.SearchTask, c voyage.Candidate) error {
	if c.Handle == nil {
		return fmt.Errorf("candidate %q has no element to click", c.DisplayName)
	}
	if err := drv.Click(ctx, c.Handle); err != nil {
		return fmt.Errorf("open candidate: %w", err)
	}
	return nil
}

func firstText(ctx context.Context, el voyage.Element, selector string) (string, error) {
	found, err := el.Find(ctx, selector)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", selector, err)
	}
	if len(found) == 0 {
		return "", nil
	}
	text, err := found[0].Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// searchScript fetches arguments[0] from inside the page so the site's cookies and
// clearance apply, and hands back the status and raw body.
const searchScript = `
const res = await fetch(arguments[0], {
	credentials: 'include',
	headers: { 'Accept': 'application/json', 'X-Requested-With': 'XMLHttpRequest' },
});
return { status: res.status, body: await res.text() };
`

// APIResolver asks the site's search endpoint for candidates and deep-links to the
// detail page, sending the task's source link as referer.
type APIResolver struct {
	BaseURL  string
	Endpoint string
	// ResultsPath is a gjson path to the result array; empty means the body itself.
	ResultsPath   string
	NameField     string
	CategoryField string
	URLField      string
}

// Candidates calls the endpoint with the term and parses the JSON result list.
func (r *APIResolver) Candidates(ctx context.Context, drv voyage.Driver, term string, _ time.Duration) ([]voyage.Candidate, error) {
	endpoint := r.BaseURL + r.Endpoint + url.QueryEscape(normalize(term))
	raw, err := drv.RunScript(ctx, searchScript, endpoint)
	if err != nil {
		return nil, fmt.Errorf("call search endpoint: %w", err)
	}
	resp := gjson.ParseBytes(raw)
	if status := resp.Get("status").Int(); status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrSearchAPI, status)
	}
	body := resp.Get("body").String()
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrSearchAPI)
	}
	results := gjson.Parse(body)
	if r.ResultsPath != "" {
		results = results.Get(r.ResultsPath)
	}
	var cands []voyage.Candidate
	var resolveErr error
	results.ForEach(func(_, v gjson.Result) bool {
		detail, err := r.resolve(v.Get(r.URLField).String())
		if err != nil {
			resolveErr = err
			return false
		}
		cands = append(cands, voyage.Candidate{
			DisplayName: strings.TrimSpace(v.Get(r.NameField).String()),
			Category:    strings.TrimSpace(v.Get(r.CategoryField).String()),
			DetailURL:   detail,
		})
		return true
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return cands, nil
}

// Open navigates straight to the candidate's detail page.
func (r *APIResolver) Open(ctx context.Context, drv voyage.Driver, task voyage.SearchTask, c voyage.Candidate) error {
	if c.DetailURL == "" {
		return fmt.Errorf("candidate %q has no detail url", c.DisplayName)
	}
	if err := drv.NavigateDirect(ctx, c.DetailURL, task.SourceLink); err != nil {
		return fmt.Errorf("open candidate: %w", err)
	}
	return nil
}

func (r *APIResolver) resolve(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	base, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse detail url %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}
