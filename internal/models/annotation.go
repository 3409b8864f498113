package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTimestampField = errors.New("timestamp must be a string or epoch milliseconds")

// PendingAnnotation is the single un-matched event a user tagged for a
// device. An empty EventTimestamp means nothing is pending.
type PendingAnnotation struct {
	User           string `json:"user"`
	DeviceID       string `json:"device_id"`
	Event          string `json:"event"`
	Note           string `json:"note"`
	EventTimestamp string `json:"event_timestamp"`
}

func (a PendingAnnotation) IsPending() bool {
	return a.EventTimestamp != ""
}

// ClearedAnnotation is the empty slot for a device.
func ClearedAnnotation(deviceID string) PendingAnnotation {
	return PendingAnnotation{DeviceID: deviceID}
}

// AnnotationRequest is the payload posted by the companion app.
type AnnotationRequest struct {
	User      string `json:"user"`
	Device    string `json:"device"`
	Event     string `json:"event"`
	Context   string `json:"context"`
	Timestamp string `json:"timestamp"`
}

// UnmarshalJSON accepts timestamp as a string or as epoch milliseconds. A
// numeric timestamp is stored as an RFC 3339 UTC string.
func (r *AnnotationRequest) UnmarshalJSON(data []byte) error {
	type plain AnnotationRequest
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := decodeTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

func decodeTimestamp(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidTimestampField, raw)
		}
		return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano), nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidTimestampField, raw)
}

func (r AnnotationRequest) ToPending() PendingAnnotation {
	return PendingAnnotation{
		User:           r.User,
		DeviceID:       r.Device,
		Event:          r.Event,
		Note:           r.Context,
		EventTimestamp: r.Timestamp,
	}
}
