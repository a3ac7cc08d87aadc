package models

import "time"

// SessionRecord is the JSON document stored under session:<id>.
type SessionRecord struct {
	Data         map[string]interface{} `json:"data"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastActivity time.Time              `json:"lastActivity"`
}

// SessionInfo is what callers get back: the identifier plus the expiry
// computed from the store's remaining TTL at read time.
type SessionInfo struct {
	ID           string                 `json:"id"`
	Data         map[string]interface{} `json:"data"`
	CreatedAt    time.Time              `json:"createdAt"`
	LastActivity time.Time              `json:"lastActivity"`
	ExpiresAt    time.Time              `json:"expiresAt"`
}
