package core

import (
	"strings"
	"time"
)

var releaseTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
}

// ParseReleaseTime reads the Date and Valid-Until values found in Release
// files, which archives write in a few RFC 1123 variants. Unparseable
// input yields the zero time.
func ParseReleaseTime(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range releaseTimeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// Date returns the Date field, zero when absent.
func (r ReleaseFile) Date() time.Time {
	return ParseReleaseTime(r.Stanza.Get("Date"))
}

// Expired reports whether the Valid-Until field lies before now.
func (r ReleaseFile) Expired(now time.Time) bool {
	validUntil := ParseReleaseTime(r.Stanza.Get("Valid-Until"))
	return !validUntil.IsZero() && validUntil.Before(now)
}
