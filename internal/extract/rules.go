// Package extract maps rendered detail pages to voyage records through declarative
// per-site rule tables.
package extract

import (
	"strings"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// Field names a VoyageRecord field a rule fills.
type Field string

// Record fields.
const (
	FieldLastPortName Field = "last_port_name"
	FieldLastPortCode Field = "last_port_code"
	FieldLastPortETD  Field = "last_port_etd"
	FieldNextPortName Field = "next_port_name"
	FieldNextPortCode Field = "next_port_code"
	FieldNextPortDate Field = "next_port_date"
)

// Transform post-processes the raw text a rule selected.
type Transform int

// Transforms.
const (
	Identity Transform = iota
	// TrimPrefix strips FieldRule.Prefix, ignoring case.
	TrimPrefix
	// OffsetTime parses "YYYY-MM-DD HH:MM (UTC±N)".
	OffsetTime
	// MonthDayTime parses "Mon D, HH:MM" in the current UTC year.
	MonthDayTime
)

// FieldRule resolves one record field.
type FieldRule struct {
	Field Field
	// Scope selects candidate regions below the root. Empty means the root itself.
	Scope string
	// Contains keeps only regions whose lower-cased text contains it.
	Contains string
	Primary  string
	Fallback string
	// Attr reads an attribute instead of the element text.
	Attr      string
	Prefix    string
	Transform Transform
}

// StatusRule classifies the next-port timestamp.
type StatusRule struct {
	Scope    string
	Contains string
	// Require must exist in the region for any status to be set.
	Require string
	// Selector picks the text to classify. Empty classifies the whole region.
	Selector string
	// Default applies when the text names no known status.
	Default *voyage.Status
}

// Rules is one site's extraction table.
type Rules struct {
	Source voyage.Source
	// Root must exist; its absence fails the extraction.
	Root   string
	Fields []FieldRule
	Status StatusRule
}

// ClassifyStatus maps free text to an arrival status.
func ClassifyStatus(text string) (voyage.Status, bool) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "estimated"):
		return voyage.StatusEstimated, true
	case strings.Contains(lower, "actual"):
		return voyage.StatusActual, true
	case strings.Contains(lower, "arrived"):
		return voyage.StatusArrived, true
	default:
		return "", false
	}
}

func statusPtr(s voyage.Status) *voyage.Status {
	return &s
}

// VesselFinderRules reads the vesselfinder.com voyage panel. The site only marks
// arrivals, so a timestamp without a marker is an estimate.
func VesselFinderRules() Rules {
	const (
		last = "div.s0 > div.flx.vcenter._rLk01"
		next = "div.s0 > .flx.vcenter:not(._rLk01)"
	)
	return Rules{
		Source: voyage.SourceVesselFinder,
		Root:   "div.s0",
		Fields: []FieldRule{
			{Field: FieldLastPortName, Scope: last, Primary: "a._npNa", Fallback: "._3-Yih"},
			{Field: FieldLastPortETD, Scope: last, Primary: "div._value", Transform: MonthDayTime},
			{Field: FieldNextPortName, Scope: next, Primary: "a._npNa", Fallback: "._3-Yih"},
			{Field: FieldNextPortDate, Scope: next, Primary: "div._value", Transform: MonthDayTime},
		},
		Status: StatusRule{
			Scope:    next,
			Require:  "div._value",
			Selector: "div._value",
			Default:  statusPtr(voyage.StatusEstimated),
		},
	}
}

// MarineTrafficRules reads the marinetraffic.com voyage section.
func MarineTrafficRules() Rules {
	const (
		names = "div.css-j5005a > div.css-v8enum > div"
		times = "div.css-j5005a > div.css-bhljxn > div"
	)
	return Rules{
		Source: voyage.SourceMarineTraffic,
		Root:   "#vesselDetails_voyageSection > div > div.css-qxl29p > div",
		Fields: []FieldRule{
			{
				Field: FieldLastPortName, Scope: names, Contains: "departure from",
				Primary: "span", Prefix: "Departure from ", Transform: TrimPrefix,
			},
			{Field: FieldLastPortCode, Scope: names, Contains: "departure from", Primary: "a"},
			{
				Field: FieldNextPortName, Scope: names, Contains: "arrival at",
				Primary: "span", Prefix: "Arrival at ", Transform: TrimPrefix,
			},
			{Field: FieldNextPortCode, Scope: names, Contains: "arrival at", Primary: "a"},
			{
				Field: FieldLastPortETD, Scope: times, Contains: "departure",
				Primary: "span.css-ypywbf", Transform: OffsetTime,
			},
			{
				Field: FieldNextPortDate, Scope: times, Contains: "arrival",
				Primary: "span.css-ypywbf", Transform: OffsetTime,
			},
		},
		Status: StatusRule{
			Scope:    times,
			Contains: "arrival",
			Require:  "span.css-ypywbf",
		},
	}
}

// RulesFor returns the table for source.
func RulesFor(source voyage.Source) (Rules, error) {
	switch source {
	case voyage.SourceVesselFinder:
		return VesselFinderRules(), nil
	case voyage.SourceMarineTraffic:
		return MarineTrafficRules(), nil
	default:
		return Rules{}, voyage.ErrUnknownSource
	}
}
