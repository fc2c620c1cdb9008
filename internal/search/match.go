package search

import (
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// DefaultCategory restricts matches to container vessels.
const DefaultCategory = "Container Ship"

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Match returns the index of the first candidate whose name equals term (ignoring case and
// repeated whitespace) and whose category contains category verbatim, or -1.
func Match(cands []voyage.Candidate, term, category string) int {
	want := normalize(term)
	for i, c := range cands {
		if !strings.EqualFold(normalize(c.DisplayName), want) {
			continue
		}
		if strings.Contains(c.Category, category) {
			return i
		}
	}
	return -1
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Chunks splits s into pieces of size runes.
func Chunks(s string, size int) []string {
	runes := []rune(s)
	if size <= 0 || len(runes) == 0 {
		return nil
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		out = append(out, string(runes[i:end]))
	}
	return out
}

// ScreenshotName builds "<sanitized term>_<UTC timestamp>.png".
func ScreenshotName(term string, at time.Time) string {
	base := strings.Trim(invalidFilenameChars.ReplaceAllString(strings.TrimSpace(term), "_"), "_")
	if base == "" {
		base = "search"
	}
	return base + "_" + at.UTC().Format("20060102T150405Z") + ".png"
}

func describe(cands []voyage.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, normalize(c.DisplayName)+" ("+normalize(c.Category)+")")
	}
	return out
}
