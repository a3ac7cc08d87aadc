package models

import "time"

// Event channels shared by the pub/sub bus, the Kafka mirror, and the
// audit sink.
const (
	EventLicenseCreated     = "license.created"
	EventLicenseActivated   = "license.activated"
	EventLicenseDeactivated = "license.deactivated"
	EventLicenseExpired     = "license.expired"
	EventLicenseRevoked     = "license.revoked"
	EventUserRegistered     = "user.registered"
	EventUserLogin          = "user.login"
	EventCacheInvalidate    = "cache.invalidate"
)

// Event is the wire payload for every channel: the affected entity
// identifier plus a timestamp, with optional structured context.
type Event struct {
	Channel   string                 `json:"channel"`
	EntityID  string                 `json:"entityId"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// AuditEntry is the row shape written to the ClickHouse audit table.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityID   string    `json:"entityId"`
	UserID     string    `json:"userId,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
