package models

import "time"

// Presence tells whether a device has uploaded recently. It is refreshed on
// every ingested batch and expires on its own.
type Presence struct {
	Device   string    `json:"device"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
	Activity string    `json:"activity,omitempty"`
	Battery  float64   `json:"battery"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// OfflinePresence is reported for devices with no live presence entry.
func OfflinePresence(device string) Presence {
	return Presence{
		Device: device,
		Status: string(StatusOffline),
	}
}
