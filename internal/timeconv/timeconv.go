// Package timeconv normalizes the free-text timestamps shown by vessel-tracking sites.
package timeconv

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

// Layout is the canonical output format.
const Layout = "2006-01-02 15:04"

var (
	offsetStampPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2})\s*\(UTC\s*([+-])\s*(\d{1,2})(?::(\d{2}))?\)`)
	monthDayPattern    = regexp.MustCompile(`([A-Za-z]+ \d{1,2}), (\d{2}:\d{2})`)
)

// Converter turns site timestamps into Layout strings. Unparseable input yields "".
type Converter struct {
	clock  voyage.Clock
	logger *zap.Logger
}

// New constructs a Converter. The clock supplies the year for month/day stamps.
func New(clock voyage.Clock, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{clock: clock, logger: logger}
}

// Convert tries the offset form first and falls back to the month/day form.
func (c *Converter) Convert(text string) string {
	if offsetStampPattern.MatchString(text) {
		return c.OffsetStamp(text)
	}
	return c.MonthDay(text)
}

// OffsetStamp parses "YYYY-MM-DD HH:MM (UTC±N)" and formats it in the wall clock of that offset.
func (c *Converter) OffsetStamp(text string) string {
	m := offsetStampPattern.FindStringSubmatch(text)
	if m == nil {
		c.logger.Warn("timestamp does not match offset pattern", zap.String("text", text))
		return ""
	}
	hours, err := strconv.Atoi(m[3])
	if err != nil {
		c.logger.Warn("invalid utc offset hours", zap.String("text", text), zap.Error(err))
		return ""
	}
	minutes := 0
	if m[4] != "" {
		minutes, err = strconv.Atoi(m[4])
		if err != nil {
			c.logger.Warn("invalid utc offset minutes", zap.String("text", text), zap.Error(err))
			return ""
		}
	}
	if hours > 14 || minutes > 59 {
		c.logger.Warn("utc offset out of range", zap.String("text", text))
		return ""
	}
	offset := hours*3600 + minutes*60
	if m[2] == "-" {
		offset = -offset
	}
	zone := time.FixedZone("UTC"+m[2]+m[3], offset)
	ts, err := time.ParseInLocation(Layout, m[1], zone)
	if err != nil {
		c.logger.Warn("timestamp parse failed", zap.String("text", text), zap.Error(err))
		return ""
	}
	return ts.In(zone).Format(Layout)
}

// MonthDay parses the first "Mon D, HH:MM" found in text, assuming the current UTC year.
func (c *Converter) MonthDay(text string) string {
	m := monthDayPattern.FindStringSubmatch(text)
	if m == nil {
		c.logger.Debug("timestamp does not match month/day pattern", zap.String("text", text))
		return ""
	}
	year := c.clock.Now().UTC().Year()
	stamp := strconv.Itoa(year) + " " + normalizeMonth(m[1]) + ", " + m[2]
	ts, err := time.ParseInLocation("2006 Jan 2, 15:04", stamp, time.UTC)
	if err != nil {
		c.logger.Warn("timestamp parse failed", zap.String("text", text), zap.Error(err))
		return ""
	}
	return ts.Format(Layout)
}

// normalizeMonth title-cases the month token so "MAR 3" and "mar 3" parse like "Mar 3".
func normalizeMonth(s string) string {
	name, day, ok := strings.Cut(s, " ")
	if !ok || name == "" {
		return s
	}
	if len(name) > 3 {
		name = name[:3]
	}
	return strings.ToUpper(name[:1]) + strings.ToLower(name[1:]) + " " + day
}
