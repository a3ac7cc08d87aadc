package scylla

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/util"
)

const (
	insertActivationCQL = `INSERT INTO activations
		(license_id, hardware_id, id, device_name, ip_address, metadata, activated_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectActivationCQL = `SELECT license_id, hardware_id, id, device_name, ip_address, metadata,
		activated_at, last_seen_at FROM activations WHERE license_id = ? AND hardware_id = ?`
	touchActivationCQL = `UPDATE activations SET device_name = ?, ip_address = ?, metadata = ?,
		last_seen_at = ? WHERE license_id = ? AND hardware_id = ?`
	deleteActivationCQL     = `DELETE FROM activations WHERE license_id = ? AND hardware_id = ? IF EXISTS`
	deleteAllActivationsCQL = `DELETE FROM activations WHERE license_id = ?`
	listActivationsCQL      = `SELECT license_id, hardware_id, id, device_name, ip_address, metadata,
		activated_at, last_seen_at FROM activations WHERE license_id = ?`
)

type activationRepository struct {
	client *ScyllaClient
}

func NewActivationRepository(client *ScyllaClient, logger *zap.Logger) ActivationRepository {
	return &activationRepository{client: client}
}

func (r *activationRepository) CreateActivation(ctx context.Context, activation *models.Activation) error {
	if activation.ID == "" {
		activation.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if activation.ActivatedAt.IsZero() {
		activation.ActivatedAt = now
	}
	activation.LastSeenAt = now

	metadata, err := marshalMetadata(activation.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "activation metadata is not serializable", err)
	}

	err = r.client.Session.Query(insertActivationCQL,
		activation.LicenseID, activation.HardwareID, activation.ID,
		activation.DeviceName, activation.IPAddress, metadata,
		activation.ActivatedAt, activation.LastSeenAt).
		WithContext(ctx).Exec()
	if err != nil {
		util.Error("failed to create activation",
			zap.String("license_id", activation.LicenseID),
			zap.String("hardware_id", activation.HardwareID),
			zap.Error(err))
		return storeErr("failed to create activation", err)
	}

	util.Info("activation created",
		zap.String("license_id", activation.LicenseID),
		zap.String("hardware_id", activation.HardwareID))
	return nil
}

func (r *activationRepository) GetActivation(ctx context.Context, licenseID, hardwareID string) (*models.Activation, error) {
	activation := &models.Activation{}
	var metadata string

	err := r.client.Session.Query(selectActivationCQL, licenseID, hardwareID).WithContext(ctx).Scan(
		&activation.LicenseID, &activation.HardwareID, &activation.ID,
		&activation.DeviceName, &activation.IPAddress, &metadata,
		&activation.ActivatedAt, &activation.LastSeenAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.Wrap(apperr.KindNotFound, "ACTIVATION_NOT_FOUND", "activation not found", err)
		}
		return nil, storeErr("failed to read activation", err)
	}

	activation.Metadata = unmarshalMetadata(metadata)
	return activation, nil
}

// TouchActivation refreshes the mutable fields of an existing record.
// Used by idempotent re-activation, which never touches the counter.
func (r *activationRepository) TouchActivation(ctx context.Context, activation *models.Activation) error {
	metadata, err := marshalMetadata(activation.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "VALIDATION_ERROR", "activation metadata is not serializable", err)
	}

	activation.LastSeenAt = time.Now().UTC()
	err = r.client.Session.Query(touchActivationCQL,
		activation.DeviceName, activation.IPAddress, metadata, activation.LastSeenAt,
		activation.LicenseID, activation.HardwareID).
		WithContext(ctx).Exec()
	if err != nil {
		return storeErr("failed to refresh activation", err)
	}
	return nil
}

// DeleteActivation removes the row only if it still exists and reports
// whether the delete applied, so concurrent deactivations of the same
// device release the activation slot exactly once.
func (r *activationRepository) DeleteActivation(ctx context.Context, licenseID, hardwareID string) (bool, error) {
	prev := map[string]interface{}{}
	applied, err := r.client.Session.Query(deleteActivationCQL, licenseID, hardwareID).
		WithContext(ctx).MapScanCAS(prev)
	if err != nil {
		return false, storeErr("failed to delete activation", err)
	}
	return applied, nil
}

func (r *activationRepository) DeleteActivationsForLicense(ctx context.Context, licenseID string) error {
	err := r.client.Session.Query(deleteAllActivationsCQL, licenseID).
		WithContext(ctx).Exec()
	if err != nil {
		return storeErr("failed to delete activations", err)
	}
	return nil
}

func (r *activationRepository) ListActivations(ctx context.Context, licenseID string) ([]*models.Activation, error) {
	iter := r.client.Session.Query(listActivationsCQL, licenseID).WithContext(ctx).Iter()

	var activations []*models.Activation
	for {
		activation := &models.Activation{}
		var metadata string
		if !iter.Scan(&activation.LicenseID, &activation.HardwareID, &activation.ID,
			&activation.DeviceName, &activation.IPAddress, &metadata,
			&activation.ActivatedAt, &activation.LastSeenAt) {
			break
		}
		activation.Metadata = unmarshalMetadata(metadata)
		activations = append(activations, activation)
	}

	if err := iter.Close(); err != nil {
		return nil, storeErr("failed to list activations", err)
	}
	return activations, nil
}
