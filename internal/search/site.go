package search

import (
	"time"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// Timings holds the pauses and bounded waits a site needs.
type Timings struct {
	// Wait bounds every wait-for-element.
	Wait time.Duration
	// Settle is the pause after opening the site and before capturing the detail page.
	Settle time.Duration
	// ChunkDelay separates the two-character chunks typed into the search box.
	ChunkDelay time.Duration
	// KeyDelay separates keys within a chunk.
	KeyDelay time.Duration
	// RetryDelay precedes the single candidate-search retry.
	RetryDelay time.Duration
}

// Site describes one vessel-tracking website.
type Site struct {
	Source voyage.Source
	// Referer is sent when a new session opens the site.
	Referer        string
	ConsentButtons string
	// SearchTrigger is clicked before the search input, when the input is hidden behind it.
	SearchTrigger string
	SearchInput   string
	// DetailAnchor is awaited right after opening the detail page, before the challenge check.
	DetailAnchor string
	// ReadyAnchor proves the voyage section has rendered.
	ReadyAnchor string
	Category    string
	Timings     Timings
	Resolver    Resolver
}

// ChunkSize is how many characters are typed at once.
const ChunkSize = 2

// VesselFinderSite is the DOM-driven vesselfinder.com configuration.
func VesselFinderSite() Site {
	return Site{
		Source:         voyage.SourceVesselFinder,
		Referer:        "https://www.google.com/",
		ConsentButtons: ".qc-cmp2-footer button",
		SearchInput:    `input[name="tsf"]`,
		ReadyAnchor:    "div.s0",
		Category:       DefaultCategory,
		Timings: Timings{
			Wait:       5 * time.Second,
			Settle:     2 * time.Second,
			ChunkDelay: 400 * time.Millisecond,
			KeyDelay:   60 * time.Millisecond,
			RetryDelay: 2 * time.Second,
		},
		Resolver: &DOMResolver{
			List:     "div.E5ZNs.xaBpY._-0TrM > div > div",
			Name:     "div.Qr4sP",
			Category: "div.-JP51",
		},
	}
}

// MarineTrafficSite is the API-assisted marinetraffic.com configuration.
func MarineTrafficSite() Site {
	return Site{
		Source:         voyage.SourceMarineTraffic,
		Referer:        "https://www.marinetraffic.com/en/ais/home/centerx:-12.0/centery:25.0/zoom:4",
		ConsentButtons: ".qc-cmp2-footer button",
		SearchTrigger:  "#searchMarineTraffic",
		SearchInput:    "#searchMT",
		DetailAnchor:   "#mainSection",
		ReadyAnchor:    "#vesselDetails_voyageSection > div",
		Category:       DefaultCategory,
		Timings: Timings{
			Wait:       10 * time.Second,
			Settle:     2 * time.Second,
			ChunkDelay: 500 * time.Millisecond,
			KeyDelay:   60 * time.Millisecond,
			RetryDelay: 2 * time.Second,
		},
		Resolver: &APIResolver{
			BaseURL:       "https://www.marinetraffic.com",
			Endpoint:      "/en/search/searchAsset?what=vessel&term=",
			NameField:     "value",
			CategoryField: "desc",
			URLField:      "url",
		},
	}
}

// SiteFor returns the configuration for source.
func SiteFor(source voyage.Source) (Site, error) {
	switch source {
	case voyage.SourceVesselFinder:
		return VesselFinderSite(), nil
	case voyage.SourceMarineTraffic:
		return MarineTrafficSite(), nil
	default:
		return Site{}, voyage.ErrUnknownSource
	}
}
