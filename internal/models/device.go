package models

import (
	"time"

	"github.com/google/uuid"
)

// UnknownDevice is the device name used when a batch does not identify its
// sender. Every flow resolves a missing name to this value.
const UnknownDevice = "Unknown"

type Device struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// DeviceName returns name, or UnknownDevice when name is blank.
func DeviceName(name string) string {
	if name == "" {
		return UnknownDevice
	}
	return name
}
