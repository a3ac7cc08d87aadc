// Package scyllatest provides in-memory repository implementations with
// the same conditional-update semantics as the ScyllaDB-backed ones, for
// tests that exercise the activation engine without a cluster.
package scyllatest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/repository/scylla"
)

type LicenseRepo struct {
	mu       sync.Mutex
	byID     map[string]*models.License
	keyToID  map[string]string
	Acquires int // total successful slot acquisitions, for assertions
}

var _ scylla.LicenseRepository = (*LicenseRepo)(nil)

func NewLicenseRepo() *LicenseRepo {
	return &LicenseRepo{
		byID:    make(map[string]*models.License),
		keyToID: make(map[string]string),
	}
}

func clone(lic *models.License) *models.License {
	c := *lic
	return &c
}

func (r *LicenseRepo) CreateLicense(ctx context.Context, lic *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lic.ID == "" {
		lic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lic.CreatedAt = now
	lic.UpdatedAt = now
	r.byID[lic.ID] = clone(lic)
	r.keyToID[lic.Key] = lic.ID
	return nil
}

func (r *LicenseRepo) GetLicenseByID(ctx context.Context, id string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lic, ok := r.byID[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	return clone(lic), nil
}

func (r *LicenseRepo) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	r.mu.Lock()
	id, ok := r.keyToID[key]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	return r.GetLicenseByID(ctx, id)
}

func (r *LicenseRepo) KeyExists(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keyToID[key]
	return ok, nil
}

func (r *LicenseRepo) AcquireActivationSlot(ctx context.Context, licenseID string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byID[licenseID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}

	switch lic.EffectiveStatus(time.Now().UTC()) {
	case models.LicenseStatusRevoked:
		return nil, apperr.New(apperr.KindKeyRevoked, "KEY_REVOKED", "license key has been revoked")
	case models.LicenseStatusExpired:
		return nil, apperr.New(apperr.KindKeyExpired, "KEY_EXPIRED", "license key has expired")
	}

	if lic.CurrentActivations >= lic.MaxActivations {
		return nil, apperr.New(apperr.KindMaxActivations, "MAX_ACTIVATIONS_REACHED", "maximum activations reached")
	}

	lic.CurrentActivations++
	lic.Status = models.LicenseStatusActive
	lic.UpdatedAt = time.Now().UTC()
	r.Acquires++
	return clone(lic), nil
}

func (r *LicenseRepo) ReleaseActivationSlot(ctx context.Context, licenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lic, ok := r.byID[licenseID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	if lic.CurrentActivations > 0 {
		lic.CurrentActivations--
	}
	lic.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *LicenseRepo) UpdateStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lic, ok := r.byID[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	lic.Status = status
	lic.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *LicenseRepo) ResetActivations(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lic, ok := r.byID[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	lic.CurrentActivations = 0
	lic.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *LicenseRepo) TransferOwner(ctx context.Context, id, fromUserID, toUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lic, ok := r.byID[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found")
	}
	if lic.UserID != fromUserID {
		return apperr.New(apperr.KindConflict, "OWNER_MISMATCH", "license is not owned by the given user")
	}
	lic.UserID = toUserID
	lic.UpdatedAt = time.Now().UTC()
	return nil
}

type activationKey struct {
	licenseID  string
	hardwareID string
}

type ActivationRepo struct {
	mu   sync.Mutex
	rows map[activationKey]*models.Activation
}

var _ scylla.ActivationRepository = (*ActivationRepo)(nil)

func NewActivationRepo() *ActivationRepo {
	return &ActivationRepo{rows: make(map[activationKey]*models.Activation)}
}

func (r *ActivationRepo) CreateActivation(ctx context.Context, activation *models.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if activation.ID == "" {
		activation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	activation.ActivatedAt = now
	activation.LastSeenAt = now
	c := *activation
	r.rows[activationKey{activation.LicenseID, activation.HardwareID}] = &c
	return nil
}

func (r *ActivationRepo) GetActivation(ctx context.Context, licenseID, hardwareID string) (*models.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[activationKey{licenseID, hardwareID}]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "ACTIVATION_NOT_FOUND", "activation not found")
	}
	c := *row
	return &c, nil
}

func (r *ActivationRepo) TouchActivation(ctx context.Context, activation *models.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := activationKey{activation.LicenseID, activation.HardwareID}
	if _, ok := r.rows[key]; !ok {
		return apperr.New(apperr.KindNotFound, "ACTIVATION_NOT_FOUND", "activation not found")
	}
	activation.LastSeenAt = time.Now().UTC()
	c := *activation
	r.rows[key] = &c
	return nil
}

func (r *ActivationRepo) DeleteActivation(ctx context.Context, licenseID, hardwareID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := activationKey{licenseID, hardwareID}
	if _, ok := r.rows[key]; !ok {
		return false, nil
	}
	delete(r.rows, key)
	return true, nil
}

func (r *ActivationRepo) DeleteActivationsForLicense(ctx context.Context, licenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.rows {
		if key.licenseID == licenseID {
			delete(r.rows, key)
		}
	}
	return nil
}

func (r *ActivationRepo) ListActivations(ctx context.Context, licenseID string) ([]*models.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Activation
	for key, row := range r.rows {
		if key.licenseID == licenseID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

type UserRepo struct {
	mu   sync.Mutex
	rows map[string]*models.User
}

var _ scylla.UserRepository = (*UserRepo)(nil)

func NewUserRepo() *UserRepo {
	return &UserRepo{rows: make(map[string]*models.User)}
}

func (r *UserRepo) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	c := *user
	r.rows[user.ID] = &c
	return nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	c := *row
	return &c, nil
}
