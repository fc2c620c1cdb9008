// Package voyage defines the domain types and ports shared by the scrape pipeline.
package voyage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSource is returned when a source identifier does not name a supported site.
var ErrUnknownSource = errors.New("unknown source")

// Source identifies one of the vessel-tracking websites.
type Source string

// Supported sources.
const (
	SourceVesselFinder  Source = "vesselfinder"
	SourceMarineTraffic Source = "marinetraffic"
)

// Sources lists every supported source in a stable order.
func Sources() []Source {
	return []Source{SourceVesselFinder, SourceMarineTraffic}
}

// ParseSource maps an identifier (or its siteA/siteB alias) to a Source.
func ParseSource(raw string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SourceVesselFinder), "sitea":
		return SourceVesselFinder, nil
	case string(SourceMarineTraffic), "siteb":
		return SourceMarineTraffic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
	}
}

// Status classifies the next-port timestamp.
type Status string

// Arrival statuses.
const (
	StatusEstimated Status = "Estimated"
	StatusActual    Status = "Actual"
	StatusArrived   Status = "Arrived"
)

// SearchTask is one unit of scrape work.
type SearchTask struct {
	SearchTerm string
	SourceLink string
}

// Candidate is a search-result entry that may or may not be the wanted vessel.
type Candidate struct {
	DisplayName string
	Category    string
	// DetailURL is set by resolvers that learn the detail page without clicking.
	DetailURL string
	// Handle is set by resolvers that open the detail page by clicking.
	Handle Element
}

// Snapshot is the raw page content captured once the detail view has rendered.
type Snapshot struct {
	Source Source
	URL    string
	HTML   string
}

// Empty reports whether the snapshot is the not-found signal.
func (s Snapshot) Empty() bool {
	return s.HTML == ""
}

// Record is the canonical voyage output unit. Absent values stay nil.
type Record struct {
	LastPortName       *string `json:"last_port_name"`
	LastPortCode       *string `json:"last_port_code"`
	LastPortETD        *string `json:"last_port_etd"`
	NextPortName       *string `json:"next_port_name"`
	NextPortCode       *string `json:"next_port_code"`
	NextPortDate       *string `json:"next_port_date"`
	NextPortDateStatus *Status `json:"next_port_date_status"`
	URL                *string `json:"url,omitempty"`
}

// Entry pairs a record with the term that produced it. A nil Record marks a failed lookup.
type Entry struct {
	SearchText string
	Record     *Record
}

// Failed reports whether the lookup for this entry produced the empty sentinel.
func (e Entry) Failed() bool {
	return e.Record == nil
}

// MarshalJSON flattens the record and search text into one object.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Record == nil {
		return json.Marshal(struct {
			SearchText string `json:"search_text"`
		}{e.SearchText})
	}
	return json.Marshal(struct {
		*Record
		SearchText string `json:"search_text"`
	}{e.Record, e.SearchText})
}

// UnmarshalJSON restores an entry, treating an object without voyage keys as the sentinel.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	e.SearchText = ""
	e.Record = nil
	if v, ok := raw["search_text"]; ok {
		if err := json.Unmarshal(v, &e.SearchText); err != nil {
			return fmt.Errorf("decode search_text: %w", err)
		}
	}
	if _, ok := raw["last_port_name"]; !ok {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	e.Record = &rec
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
