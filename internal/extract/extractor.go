package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/clock/system"
	"github.com/JakeFAU/voyage-scraper/internal/timeconv"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// ErrRootMissing means the page lacks the container every rule is scoped under.
var ErrRootMissing = errors.New("voyage section not found")

// Extractor applies a rule table to snapshots. It implements voyage.Extractor.
type Extractor struct {
	rules  Rules
	times  *timeconv.Converter
	logger *zap.Logger
}

// New builds an Extractor for rules.
func New(rules Rules, times *timeconv.Converter, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if times == nil {
		times = timeconv.New(system.New(), logger)
	}
	return &Extractor{rules: rules, times: times, logger: logger}
}

// ForSource builds the Extractor for a supported source.
func ForSource(source voyage.Source, times *timeconv.Converter, logger *zap.Logger) (*Extractor, error) {
	rules, err := RulesFor(source)
	if err != nil {
		return nil, err
	}
	return New(rules, times, logger), nil
}

// Extract reads a record out of snap. Fields the page lacks stay nil; fields whose text
// could not be converted are "".
func (e *Extractor) Extract(snap voyage.Snapshot) (*voyage.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	root := doc.Find(e.rules.Root).First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRootMissing, e.rules.Root)
	}

	rec := &voyage.Record{URL: voyage.StringPtr(snap.URL)}
	for _, rule := range e.rules.Fields {
		raw := e.value(root, rule)
		if raw == "" {
			e.logger.Debug("field not on page", zap.String("field", string(rule.Field)))
			continue
		}
		// A present but unparseable value is kept as "" so it stays distinct from a missing one.
		value := e.transform(rule, raw)
		if value == "" {
			e.logger.Debug("field value not understood", zap.String("field", string(rule.Field)), zap.String("raw", raw))
		}
		if err := assign(rec, rule.Field, value); err != nil {
			return nil, err
		}
	}
	rec.NextPortDateStatus = e.status(root)
	return rec, nil
}

func (e *Extractor) value(root *goquery.Selection, rule FieldRule) string {
	region := firstRegion(root, rule.Scope, rule.Contains)
	if region == nil {
		return ""
	}
	for _, sel := range []string{rule.Primary, rule.Fallback} {
		if sel == "" {
			continue
		}
		found := region.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		if rule.Attr != "" {
			if v, ok := found.Attr(rule.Attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
			continue
		}
		if text := strings.TrimSpace(found.Text()); text != "" {
			return text
		}
	}
	return ""
}

func (e *Extractor) transform(rule FieldRule, value string) string {
	if value == "" {
		return ""
	}
	switch rule.Transform {
	case TrimPrefix:
		if len(value) >= len(rule.Prefix) && strings.EqualFold(value[:len(rule.Prefix)], rule.Prefix) {
			value = value[len(rule.Prefix):]
		}
		return strings.TrimSpace(value)
	case OffsetTime:
		return e.times.OffsetStamp(value)
	case MonthDayTime:
		return e.times.MonthDay(value)
	default:
		return value
	}
}

func (e *Extractor) status(root *goquery.Selection) *voyage.Status {
	rule := e.rules.Status
	region := firstRegion(root, rule.Scope, rule.Contains)
	if region == nil {
		return nil
	}
	if rule.Require != "" && region.Find(rule.Require).Length() == 0 {
		return nil
	}
	text := region.Text()
	if rule.Selector != "" {
		text = region.Find(rule.Selector).First().Text()
	}
	if s, ok := ClassifyStatus(text); ok {
		return &s
	}
	if rule.Default != nil {
		s := *rule.Default
		return &s
	}
	return nil
}

// firstRegion returns the first scoped region whose text contains contains, or nil.
func firstRegion(root *goquery.Selection, scope, contains string) *goquery.Selection {
	regions := root
	if scope != "" {
		regions = root.Find(scope)
	}
	want := strings.ToLower(contains)
	var match *goquery.Selection
	regions.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if want == "" || strings.Contains(strings.ToLower(s.Text()), want) {
			match = s
			return false
		}
		return true
	})
	return match
}

func assign(rec *voyage.Record, field Field, value string) error {
	v := voyage.StringPtr(value)
	switch field {
	case FieldLastPortName:
		rec.LastPortName = v
	case FieldLastPortCode:
		rec.LastPortCode = v
	case FieldLastPortETD:
		rec.LastPortETD = v
	case FieldNextPortName:
		rec.NextPortName = v
	case FieldNextPortCode:
		rec.NextPortCode = v
	case FieldNextPortDate:
		rec.NextPortDate = v
	default:
		return fmt.Errorf("unknown record field %q", field)
	}
	return nil
}
