package ingest

import (
	"time"

	"github.com/prudhvinik1/wearsync/internal/models"
)

const (
	DefaultMatchWindow = 3500 * time.Millisecond
	DefaultStaleAfter  = 10 * time.Second
)

// Correlator stamps sensor rows with the pending annotation whose timestamp
// they fall near. It holds no state between calls.
type Correlator struct {
	Window     time.Duration
	StaleAfter time.Duration
	Location   *time.Location
}

func NewCorrelator(window, staleAfter time.Duration, loc *time.Location) *Correlator {
	if loc == nil {
		loc = time.UTC
	}
	return &Correlator{Window: window, StaleAfter: staleAfter, Location: loc}
}

func DefaultCorrelator() *Correlator {
	return NewCorrelator(DefaultMatchWindow, DefaultStaleAfter, time.UTC)
}

type Result struct {
	Rows []models.EnrichedRow
	// Matched is true when at least one row was stamped.
	Matched bool
	// Stale is true when nothing matched and the annotation is older than
	// StaleAfter relative to the last row.
	Stale bool
}

// ClearPending reports whether the pending annotation was consumed.
func (r *Result) ClearPending() bool {
	return r.Matched || r.Stale
}

func (r *Result) MatchedRows() int {
	n := 0
	for _, row := range r.Rows {
		if row.IsMatched() {
			n++
		}
	}
	return n
}

// Correlate enriches rows in order. Every row gets the same serverTime.
// Rows whose timestamp does not parse are kept but never match.
func (c *Correlator) Correlate(rows []models.SensorRow, pending models.PendingAnnotation, serverTime time.Time) *Result {
	result := &Result{Rows: make([]models.EnrichedRow, 0, len(rows))}
	if len(rows) == 0 {
		return result
	}

	eventTime, active := c.eventTime(pending)

	var lastRowTime *time.Time
	for i, row := range rows {
		enriched := models.EnrichedRow{SensorRow: row, ServerTime: serverTime}

		rowTime, err := ParseTimestamp(row.Timestamp, c.Location)
		if err == nil {
			enriched.RecordedAt = &rowTime
			if active && absDuration(rowTime.Sub(eventTime)) < c.Window {
				enriched.MatchedUser = pending.User
				enriched.MatchedDevice = pending.DeviceID
				enriched.MatchedEvent = pending.Event
				enriched.MatchedNote = pending.Note
				result.Matched = true
			}
		}
		if i == len(rows)-1 {
			lastRowTime = enriched.RecordedAt
		}

		result.Rows = append(result.Rows, enriched)
	}

	if !result.Matched && active && lastRowTime != nil && lastRowTime.Sub(eventTime) > c.StaleAfter {
		result.Stale = true
	}

	return result
}

// eventTime returns the annotation instant, or false when nothing is pending
// or its timestamp cannot be read.
func (c *Correlator) eventTime(pending models.PendingAnnotation) (time.Time, bool) {
	if !pending.IsPending() {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(pending.EventTimestamp, c.Location)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
