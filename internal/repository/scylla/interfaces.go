package scylla

import (
	"context"

	"license-service/internal/models"
)

// LicenseRepository is the durable record-keeper contract for license
// rows. The activation counter is mutated only through
// AcquireActivationSlot / ReleaseActivationSlot, never by direct writes.
type LicenseRepository interface {
	CreateLicense(ctx context.Context, license *models.License) error
	GetLicenseByID(ctx context.Context, id string) (*models.License, error)
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	KeyExists(ctx context.Context, key string) (bool, error)

	// AcquireActivationSlot atomically increments current_activations,
	// guarded by the max_activations bound, promoting PENDING to ACTIVE in
	// the same conditional write. Returns the updated license, or a domain
	// rejection when the key is at quota, expired, or revoked.
	AcquireActivationSlot(ctx context.Context, licenseID string) (*models.License, error)

	// ReleaseActivationSlot atomically decrements the counter, flooring
	// at zero.
	ReleaseActivationSlot(ctx context.Context, licenseID string) error

	UpdateStatus(ctx context.Context, id string, status models.LicenseStatus) error
	ResetActivations(ctx context.Context, id string) error
	TransferOwner(ctx context.Context, id, fromUserID, toUserID string) error
}

type ActivationRepository interface {
	CreateActivation(ctx context.Context, activation *models.Activation) error
	GetActivation(ctx context.Context, licenseID, hardwareID string) (*models.Activation, error)
	TouchActivation(ctx context.Context, activation *models.Activation) error
	DeleteActivation(ctx context.Context, licenseID, hardwareID string) (bool, error)
	DeleteActivationsForLicense(ctx context.Context, licenseID string) error
	ListActivations(ctx context.Context, licenseID string) ([]*models.Activation, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}
