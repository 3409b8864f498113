package models

import (
	"strconv"
	"strings"
	"time"
)

// SensorRow is one telemetry sample as reported by the wearable, in wire
// order: timestamp, device, status, battery, steps, maxG, fall. Fields keep
// the text the device sent; the typed accessors return nil when a value does
// not read as its type.
type SensorRow struct {
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"device"`
	Status    string `json:"status"`
	Battery   string `json:"battery"`
	Steps     string `json:"steps"`
	MaxG      string `json:"max_g"`
	Fall      string `json:"fall"`
}

func (r SensorRow) BatteryLevel() *float64 {
	return parseNumber(r.Battery)
}

func (r SensorRow) StepCount() *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(r.Steps), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func (r SensorRow) MaxGValue() *float64 {
	return parseNumber(r.MaxG)
}

// FallDetected reads 1/0, true/false and yes/no in any case.
func (r SensorRow) FallDetected() *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(r.Fall)) {
	case "1", "t", "true", "y", "yes":
		v = true
	case "0", "f", "false", "n", "no":
		v = false
	default:
		return nil
	}
	return &v
}

// EnrichedRow is a SensorRow after correlation. The Matched* fields are
// empty unless the row fell inside the pending annotation's window.
type EnrichedRow struct {
	SensorRow

	// RecordedAt is the parsed Timestamp; nil when the device clock value
	// could not be parsed.
	RecordedAt *time.Time `json:"recorded_at,omitempty"`

	MatchedUser   string `json:"ctx_user"`
	MatchedDevice string `json:"ctx_device"`
	MatchedEvent  string `json:"ctx_event"`
	MatchedNote   string `json:"ctx_note"`

	ServerTime time.Time `json:"server_time"`
}

func (r EnrichedRow) IsMatched() bool {
	return r.MatchedUser != "" || r.MatchedDevice != "" || r.MatchedEvent != "" || r.MatchedNote != ""
}

// BatteryStatus is the latest summary of a device, served to the companion app.
type BatteryStatus struct {
	Timestamp string  `json:"timestamp"`
	Device    string  `json:"device,omitempty"`
	Status    string  `json:"status"`
	Battery   float64 `json:"battery"`
}

func NoBatteryData() BatteryStatus {
	return BatteryStatus{Battery: 0, Status: "No Data", Timestamp: ""}
}

// BatteryOf returns the row's battery level, or 0 when it is not a number.
func BatteryOf(row SensorRow) float64 {
	if level := row.BatteryLevel(); level != nil {
		return *level
	}
	return 0
}

func parseNumber(raw string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}
