package models

import (
	"strings"
	"time"
)

type LicenseType string

const (
	LicenseTypeTrial      LicenseType = "TRIAL"
	LicenseTypeStandard   LicenseType = "STANDARD"
	LicenseTypePremium    LicenseType = "PREMIUM"
	LicenseTypeEnterprise LicenseType = "ENTERPRISE"
)

// ParseLicenseType maps the wire value to a known type, case insensitive.
func ParseLicenseType(s string) (LicenseType, bool) {
	switch LicenseType(strings.ToUpper(s)) {
	case LicenseTypeTrial:
		return LicenseTypeTrial, true
	case LicenseTypeStandard:
		return LicenseTypeStandard, true
	case LicenseTypePremium:
		return LicenseTypePremium, true
	case LicenseTypeEnterprise:
		return LicenseTypeEnterprise, true
	}
	return "", false
}

type LicenseStatus string

const (
	LicenseStatusPending LicenseStatus = "PENDING"
	LicenseStatusActive  LicenseStatus = "ACTIVE"
	LicenseStatusExpired LicenseStatus = "EXPIRED"
	LicenseStatusRevoked LicenseStatus = "REVOKED"
)

type License struct {
	ID                 string                 `db:"id" json:"id"`
	Key                string                 `db:"key" json:"key"`
	Type               LicenseType            `db:"type" json:"type"`
	Status             LicenseStatus          `db:"status" json:"status"`
	UserID             string                 `db:"user_id" json:"userId"`
	ProductID          string                 `db:"product_id" json:"productId"`
	MaxActivations     int                    `db:"max_activations" json:"maxActivations"`
	CurrentActivations int                    `db:"current_activations" json:"currentActivations"`
	Features           map[string]string      `db:"features" json:"features,omitempty"`
	Metadata           map[string]interface{} `db:"-" json:"metadata,omitempty"`
	ExpiresAt          *time.Time             `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt          time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time              `db:"updated_at" json:"updatedAt"`
}

// EffectiveStatus derives the status as of now. Expiry is evaluated lazily:
// a stored ACTIVE or PENDING status is reported as EXPIRED once expires_at
// has passed, regardless of what the durable record says.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.Status == LicenseStatusRevoked {
		return LicenseStatusRevoked
	}
	if l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
		return LicenseStatusExpired
	}
	return l.Status
}

func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

func (l *License) RemainingActivations() int {
	remaining := l.MaxActivations - l.CurrentActivations
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DefaultMaxActivations returns the per-type activation quota used when the
// issue request does not specify one.
func (t LicenseType) DefaultMaxActivations() int {
	switch t {
	case LicenseTypeTrial:
		return 1
	case LicenseTypeStandard:
		return 3
	case LicenseTypePremium:
		return 5
	case LicenseTypeEnterprise:
		return 25
	default:
		return 1
	}
}

// DefaultValidity returns the per-type validity period; zero means the
// license never expires.
func (t LicenseType) DefaultValidity() time.Duration {
	switch t {
	case LicenseTypeTrial:
		return 14 * 24 * time.Hour
	case LicenseTypeStandard, LicenseTypePremium:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

type Activation struct {
	ID          string                 `db:"id" json:"id"`
	LicenseID   string                 `db:"license_id" json:"licenseId"`
	HardwareID  string                 `db:"hardware_id" json:"hardwareId"`
	DeviceName  string                 `db:"device_name" json:"deviceName,omitempty"`
	IPAddress   string                 `db:"ip_address" json:"ipAddress,omitempty"`
	Metadata    map[string]interface{} `db:"-" json:"metadata,omitempty"`
	ActivatedAt time.Time              `db:"activated_at" json:"activatedAt"`
	LastSeenAt  time.Time              `db:"last_seen_at" json:"lastSeenAt"`
}

type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Username  string    `db:"username" json:"username"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
