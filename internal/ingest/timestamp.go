package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Layouts carrying an explicit offset are absolute; the rest are read as
// device-local wall clock in the correlator's location.
var (
	offsetLayouts = []string{time.RFC3339Nano}
	localLayouts  = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
	}
)

// ParseTimestamp parses a device or annotation timestamp such as
// "2024-01-01 10:00:00". The first space is replaced with "T" so that the
// date and time parse as one combined value.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	if loc == nil {
		loc = time.UTC
	}
	s = strings.Replace(s, " ", "T", 1)

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}
