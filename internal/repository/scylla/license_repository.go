package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/util"
)

// casRetries bounds the optimistic-concurrency loop on the activation
// counter. Losing this many consecutive races means the cluster is
// thrashing; surfacing the failure beats spinning.
const casRetries = 5

const (
	insertLicenseCQL = `INSERT INTO licenses
		(id, key, type, status, user_id, product_id, max_activations, current_activations,
		 features, metadata, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertLicenseKeyCQL = `INSERT INTO license_keys (key, license_id) VALUES (?, ?)`
	selectLicenseCQL    = `SELECT id, key, type, status, user_id, product_id, max_activations,
		current_activations, features, metadata, expires_at, created_at, updated_at
		FROM licenses WHERE id = ?`
	selectLicenseIDByKeyCQL = `SELECT license_id FROM license_keys WHERE key = ?`
	casCounterCQL           = `UPDATE licenses SET current_activations = ?, status = ?, updated_at = ?
		WHERE id = ? IF current_activations = ? AND status = ?`
	updateStatusCQL     = `UPDATE licenses SET status = ?, updated_at = ? WHERE id = ?`
	resetActivationsCQL = `UPDATE licenses SET current_activations = 0, updated_at = ? WHERE id = ?`
	transferOwnerCQL    = `UPDATE licenses SET user_id = ?, updated_at = ? WHERE id = ? IF user_id = ?`
)

type licenseRepository struct {
	client *ScyllaClient
}

func NewLicenseRepository(client *ScyllaClient, logger *zap.Logger) LicenseRepository {
	return &licenseRepository{client: client}
}

func (r *licenseRepository) CreateLicense(ctx context.Context, license *models.License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	license.CreatedAt = now
	license.UpdatedAt = now

	metadata, err := marshalMetadata(license.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "license metadata is not serializable", err)
	}

	// Batched with the key mapping so lookups by key never observe a
	// half-created license.
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(insertLicenseCQL,
		license.ID, license.Key, string(license.Type), string(license.Status),
		license.UserID, license.ProductID, license.MaxActivations, license.CurrentActivations,
		license.Features, metadata, expiresAtColumn(license.ExpiresAt), license.CreatedAt, license.UpdatedAt)
	batch.Query(insertLicenseKeyCQL, license.Key, license.ID)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("failed to create license",
			zap.String("license_id", license.ID),
			zap.Error(err))
		return storeErr("failed to create license", err)
	}

	util.Info("license created",
		zap.String("license_id", license.ID),
		zap.String("type", string(license.Type)),
		zap.String("user_id", license.UserID))

	return nil
}

func (r *licenseRepository) GetLicenseByID(ctx context.Context, id string) (*models.License, error) {
	license := &models.License{}
	var (
		licType, status, metadata string
		expiresAt                 time.Time
	)

	err := r.client.Session.Query(selectLicenseCQL, id).WithContext(ctx).Scan(
		&license.ID, &license.Key, &licType, &status, &license.UserID, &license.ProductID,
		&license.MaxActivations, &license.CurrentActivations, &license.Features,
		&metadata, &expiresAt, &license.CreatedAt, &license.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.Wrap(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found", err)
		}
		return nil, storeErr("failed to read license", err)
	}

	license.Type = models.LicenseType(licType)
	license.Status = models.LicenseStatus(status)
	if !expiresAt.IsZero() {
		license.ExpiresAt = &expiresAt
	}
	license.Metadata = unmarshalMetadata(metadata)

	return license, nil
}

func (r *licenseRepository) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	var licenseID string
	err := r.client.Session.Query(selectLicenseIDByKeyCQL, key).WithContext(ctx).Scan(&licenseID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.Wrap(apperr.KindNotFound, "LICENSE_NOT_FOUND", "license not found", err)
		}
		return nil, storeErr("failed to resolve license key", err)
	}
	return r.GetLicenseByID(ctx, licenseID)
}

func (r *licenseRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	var licenseID string
	err := r.client.Session.Query(selectLicenseIDByKeyCQL, key).WithContext(ctx).Scan(&licenseID)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, storeErr("failed to check key existence", err)
	}
	return true, nil
}

// AcquireActivationSlot enforces current_activations <= max_activations
// with a lightweight transaction. The condition pins both the counter and
// the status read beforehand, so a concurrent activation, revocation, or
// promotion makes the write a no-op and the loop re-reads.
func (r *licenseRepository) AcquireActivationSlot(ctx context.Context, licenseID string) (*models.License, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		license, err := r.GetLicenseByID(ctx, licenseID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		switch license.EffectiveStatus(now) {
		case models.LicenseStatusRevoked:
			return nil, apperr.New(apperr.KindKeyRevoked, "KEY_REVOKED", "license key has been revoked")
		case models.LicenseStatusExpired:
			return nil, apperr.New(apperr.KindKeyExpired, "KEY_EXPIRED", "license key has expired")
		}

		if license.CurrentActivations >= license.MaxActivations {
			return nil, apperr.New(apperr.KindMaxActivations, "MAX_ACTIVATIONS_REACHED",
				fmt.Sprintf("license allows at most %d activations", license.MaxActivations))
		}

		// First successful activation promotes PENDING to ACTIVE.
		newStatus := models.LicenseStatusActive

		prev := map[string]interface{}{}
		applied, err := r.client.Session.Query(casCounterCQL,
			license.CurrentActivations+1, string(newStatus), now,
			licenseID, license.CurrentActivations, string(license.Status)).
			WithContext(ctx).MapScanCAS(prev)
		if err != nil {
			return nil, storeErr("activation counter update failed", err)
		}

		if applied {
			license.CurrentActivations++
			license.Status = newStatus
			license.UpdatedAt = now
			return license, nil
		}

		util.Debug("activation CAS lost race, retrying",
			zap.String("license_id", licenseID),
			zap.Int("attempt", attempt+1))
	}

	return nil, apperr.New(apperr.KindStoreUnavailable, "STORE_CONTENTION",
		"activation counter under sustained contention")
}

func (r *licenseRepository) ReleaseActivationSlot(ctx context.Context, licenseID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		license, err := r.GetLicenseByID(ctx, licenseID)
		if err != nil {
			return err
		}

		if license.CurrentActivations <= 0 {
			return nil
		}

		now := time.Now().UTC()
		prev := map[string]interface{}{}
		applied, err := r.client.Session.Query(casCounterCQL,
			license.CurrentActivations-1, string(license.Status), now,
			licenseID, license.CurrentActivations, string(license.Status)).
			WithContext(ctx).MapScanCAS(prev)
		if err != nil {
			return storeErr("activation counter update failed", err)
		}
		if applied {
			return nil
		}
	}

	return apperr.New(apperr.KindStoreUnavailable, "STORE_CONTENTION",
		"activation counter under sustained contention")
}

func (r *licenseRepository) UpdateStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	err := r.client.Session.Query(updateStatusCQL, string(status), time.Now().UTC(), id).
		WithContext(ctx).Exec()
	if err != nil {
		return storeErr("failed to update license status", err)
	}
	return nil
}

func (r *licenseRepository) ResetActivations(ctx context.Context, id string) error {
	err := r.client.Session.Query(resetActivationsCQL, time.Now().UTC(), id).
		WithContext(ctx).Exec()
	if err != nil {
		return storeErr("failed to reset activation counter", err)
	}
	return nil
}

func (r *licenseRepository) TransferOwner(ctx context.Context, id, fromUserID, toUserID string) error {
	prev := map[string]interface{}{}
	applied, err := r.client.Session.Query(transferOwnerCQL,
		toUserID, time.Now().UTC(), id, fromUserID).
		WithContext(ctx).MapScanCAS(prev)
	if err != nil {
		return storeErr("failed to transfer license", err)
	}
	if !applied {
		return apperr.New(apperr.KindConflict, "TRANSFER_CONFLICT",
			"license is not owned by the given user")
	}

	util.Info("license transferred",
		zap.String("license_id", id),
		zap.String("from_user", fromUserID),
		zap.String("to_user", toUserID))
	return nil
}

func storeErr(message string, cause error) error {
	return apperr.Wrap(apperr.KindStoreUnavailable, "STORE_UNAVAILABLE", message, cause)
}

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalMetadata(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil
	}
	return metadata
}

func expiresAtColumn(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
