// Package service hosts the license activation engine: the state machine
// that issues, activates, deactivates, revokes, and transfers license
// keys while preserving the activation-count invariant.
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/cache"
	"license-service/internal/events"
	"license-service/internal/license"
	"license-service/internal/models"
	"license-service/internal/repository/scylla"
	"license-service/internal/util"
)

// Indexer mirrors license documents into the search index. Optional; a
// nil indexer disables mirroring.
type Indexer interface {
	IndexLicense(ctx context.Context, lic *models.License) error
	RemoveLicense(ctx context.Context, id string) error
}

type IssueRequest struct {
	Type           models.LicenseType
	UserID         string
	ProductID      string
	MaxActivations int
	ExpiresInDays  int
	Features       map[string]string
	Metadata       map[string]interface{}
	IssueActive    bool
}

type ActivateRequest struct {
	Key        string
	UserID     string
	HardwareID string
	DeviceName string
	IPAddress  string
	Metadata   map[string]interface{}
}

type ActivateResult struct {
	License     *models.License    `json:"license"`
	Activation  *models.Activation `json:"activation"`
	Reactivated bool               `json:"reactivated"`
}

type VerifyResult struct {
	Valid      bool               `json:"valid"`
	Reasons    []string           `json:"reasons,omitempty"`
	License    *models.License    `json:"license,omitempty"`
	Activation *models.Activation `json:"activation,omitempty"`
}

type LicenseService struct {
	licenses    scylla.LicenseRepository
	activations scylla.ActivationRepository
	users       scylla.UserRepository
	generator   *license.Generator
	validator   *license.Validator
	bus         *events.Bus
	invalidator *cache.Invalidator
	indexer     Indexer
}

func NewLicenseService(
	licenses scylla.LicenseRepository,
	activations scylla.ActivationRepository,
	users scylla.UserRepository,
	generator *license.Generator,
	validator *license.Validator,
	bus *events.Bus,
	invalidator *cache.Invalidator,
	indexer Indexer,
) *LicenseService {
	return &LicenseService{
		licenses:    licenses,
		activations: activations,
		users:       users,
		generator:   generator,
		validator:   validator,
		bus:         bus,
		invalidator: invalidator,
		indexer:     indexer,
	}
}

// Issue creates a new license with a freshly generated key. Per-type
// defaults fill in anything the request leaves unset.
func (s *LicenseService) Issue(ctx context.Context, req IssueRequest) (*models.License, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "userId is required")
	}
	if _, err := s.users.GetUserByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	maxActivations := req.MaxActivations
	if maxActivations <= 0 {
		maxActivations = req.Type.DefaultMaxActivations()
	}

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		expiresAt = &t
	} else if validity := req.Type.DefaultValidity(); validity > 0 {
		t := time.Now().UTC().Add(validity)
		expiresAt = &t
	}

	key, err := s.generator.Generate(ctx)
	if err != nil {
		util.Error("license key generation failed", zap.Error(err))
		return nil, err
	}

	status := models.LicenseStatusPending
	if req.IssueActive {
		status = models.LicenseStatusActive
	}

	lic := &models.License{
		Key:            key,
		Type:           req.Type,
		Status:         status,
		UserID:         req.UserID,
		ProductID:      req.ProductID,
		MaxActivations: maxActivations,
		Features:       req.Features,
		Metadata:       req.Metadata,
		ExpiresAt:      expiresAt,
	}

	if err := s.licenses.CreateLicense(ctx, lic); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, models.EventLicenseCreated, lic.ID, map[string]interface{}{
		"userId": lic.UserID,
		"type":   string(lic.Type),
	})
	s.mirror(ctx, lic)
	s.invalidate(ctx, lic.UserID)

	return lic, nil
}

// Get returns the license for a key with expiry applied lazily: a stale
// stored status never masks an elapsed expires_at.
func (s *LicenseService) Get(ctx context.Context, key string) (*models.License, error) {
	lic, err := s.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	s.noteExpired(ctx, lic)
	lic.Status = lic.EffectiveStatus(time.Now().UTC())
	return lic, nil
}

// Activate binds a device to a license key. Re-activating the same
// (key, hardwareId) pair refreshes the existing record and never touches
// the counter; a new device claims a slot through a single conditional
// update at the store.
func (s *LicenseService) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	if req.HardwareID == "" {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "hardwareId is required")
	}

	result, err := s.validator.Validate(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		s.noteExpired(ctx, result.License)
		return nil, rejectionFromReasons(result.Reasons)
	}
	lic := result.License

	existing, err := s.activations.GetActivation(ctx, lic.ID, req.HardwareID)
	if err == nil {
		existing.DeviceName = req.DeviceName
		existing.IPAddress = req.IPAddress
		if req.Metadata != nil {
			existing.Metadata = req.Metadata
		}
		if err := s.activations.TouchActivation(ctx, existing); err != nil {
			return nil, err
		}
		util.Debug("idempotent re-activation",
			zap.String("license_id", lic.ID),
			zap.String("hardware_id", req.HardwareID))
		return &ActivateResult{License: lic, Activation: existing, Reactivated: true}, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	updated, err := s.licenses.AcquireActivationSlot(ctx, lic.ID)
	if err != nil {
		return nil, err
	}

	activation := &models.Activation{
		LicenseID:  updated.ID,
		HardwareID: req.HardwareID,
		DeviceName: req.DeviceName,
		IPAddress:  req.IPAddress,
		Metadata:   req.Metadata,
	}
	if err := s.activations.CreateActivation(ctx, activation); err != nil {
		// Give the slot back; otherwise the quota leaks.
		if relErr := s.licenses.ReleaseActivationSlot(ctx, updated.ID); relErr != nil {
			util.Error("failed to release activation slot after record failure",
				zap.String("license_id", updated.ID),
				zap.Error(relErr))
		}
		return nil, err
	}

	s.bus.Publish(ctx, models.EventLicenseActivated, updated.ID, map[string]interface{}{
		"userId":     updated.UserID,
		"hardwareId": req.HardwareID,
		"ipAddress":  req.IPAddress,
	})
	s.mirror(ctx, updated)
	s.invalidateFor(ctx, updated)

	return &ActivateResult{License: updated, Activation: activation}, nil
}

// Verify is the read-only companion to Activate: it validates the key and
// reports whether the given hardware holds an activation.
func (s *LicenseService) Verify(ctx context.Context, key, hardwareID string) (*VerifyResult, error) {
	result, err := s.validator.Validate(ctx, key)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return &VerifyResult{Valid: false, Reasons: result.Reasons}, nil
	}

	verify := &VerifyResult{Valid: true, License: result.License}
	if hardwareID != "" {
		activation, err := s.activations.GetActivation(ctx, result.License.ID, hardwareID)
		if err == nil {
			verify.Activation = activation
		} else if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, err
		} else {
			verify.Valid = false
			verify.Reasons = []string{"device is not activated"}
		}
	}
	return verify, nil
}

// Deactivate releases a device's activation slot.
func (s *LicenseService) Deactivate(ctx context.Context, key, hardwareID string) error {
	lic, err := s.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		return err
	}

	// The conditional delete is the authoritative existence check. Only the
	// caller whose delete applied releases the slot, so two racing
	// deactivations of one device cannot decrement the counter twice.
	applied, err := s.activations.DeleteActivation(ctx, lic.ID, hardwareID)
	if err != nil {
		return err
	}
	if !applied {
		return apperr.New(apperr.KindNotFound, "ACTIVATION_NOT_FOUND", "activation not found")
	}
	if err := s.licenses.ReleaseActivationSlot(ctx, lic.ID); err != nil {
		return err
	}

	s.bus.Publish(ctx, models.EventLicenseDeactivated, lic.ID, map[string]interface{}{
		"userId":     lic.UserID,
		"hardwareId": hardwareID,
	})
	s.invalidateFor(ctx, lic)

	return nil
}

// Revoke is terminal: status becomes REVOKED, every activation record is
// deleted, and no later activation can succeed.
func (s *LicenseService) Revoke(ctx context.Context, key string) error {
	lic, err := s.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		return err
	}
	if lic.Status == models.LicenseStatusRevoked {
		return nil
	}

	if err := s.licenses.UpdateStatus(ctx, lic.ID, models.LicenseStatusRevoked); err != nil {
		return err
	}
	if err := s.activations.DeleteActivationsForLicense(ctx, lic.ID); err != nil {
		return err
	}
	if err := s.licenses.ResetActivations(ctx, lic.ID); err != nil {
		return err
	}

	lic.Status = models.LicenseStatusRevoked
	lic.CurrentActivations = 0

	s.bus.Publish(ctx, models.EventLicenseRevoked, lic.ID, map[string]interface{}{
		"userId": lic.UserID,
	})
	s.mirror(ctx, lic)
	s.invalidateFor(ctx, lic)

	util.Info("license revoked",
		zap.String("license_id", lic.ID),
		zap.String("user_id", lic.UserID))
	return nil
}

// Transfer reassigns ownership without altering activations.
func (s *LicenseService) Transfer(ctx context.Context, key, fromUserID, toUserID string) (*models.License, error) {
	if _, err := s.users.GetUserByID(ctx, toUserID); err != nil {
		return nil, err
	}

	lic, err := s.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.licenses.TransferOwner(ctx, lic.ID, fromUserID, toUserID); err != nil {
		return nil, err
	}

	lic.UserID = toUserID
	s.mirror(ctx, lic)
	s.invalidate(ctx, fromUserID)
	s.invalidateFor(ctx, lic)

	return lic, nil
}

func (s *LicenseService) ListActivations(ctx context.Context, key string) ([]*models.Activation, error) {
	lic, err := s.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.activations.ListActivations(ctx, lic.ID)
}

func (s *LicenseService) mirror(ctx context.Context, lic *models.License) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexLicense(ctx, lic); err != nil {
		util.Warn("failed to index license",
			zap.String("license_id", lic.ID),
			zap.Error(err))
	}
}

// noteExpired persists a lazily detected expiry and announces it. The
// stored status flips to EXPIRED on first detection, so the event fires
// once rather than on every read of a stale key.
func (s *LicenseService) noteExpired(ctx context.Context, lic *models.License) {
	if lic == nil || lic.Status == models.LicenseStatusExpired {
		return
	}
	if lic.EffectiveStatus(time.Now().UTC()) != models.LicenseStatusExpired {
		return
	}
	if err := s.licenses.UpdateStatus(ctx, lic.ID, models.LicenseStatusExpired); err != nil {
		util.Warn("failed to persist expiry",
			zap.String("license_id", lic.ID),
			zap.Error(err))
		return
	}
	s.bus.Publish(ctx, models.EventLicenseExpired, lic.ID, map[string]interface{}{
		"userId": lic.UserID,
	})
}

// invalidateFor evicts cached responses touching the license: detail and
// activation pages carry the key in their path, user-scoped listings carry
// the owner id in query or caller identity.
func (s *LicenseService) invalidateFor(ctx context.Context, lic *models.License) {
	s.invalidate(ctx, lic.Key)
	s.invalidate(ctx, lic.UserID)
}

func (s *LicenseService) invalidate(ctx context.Context, substr string) {
	if s.invalidator == nil || substr == "" {
		return
	}
	if _, err := s.invalidator.InvalidatePattern(ctx, substr); err != nil {
		util.Warn("cache invalidation failed",
			zap.String("pattern", substr),
			zap.Error(err))
	}
}

// rejectionFromReasons maps the validator's reason list onto the error
// taxonomy so transports can answer with the right status and code.
func rejectionFromReasons(reasons []string) error {
	joined := strings.Join(reasons, "; ")
	details := map[string]interface{}{"reasons": reasons}

	for _, reason := range reasons {
		switch {
		case strings.Contains(reason, "revoked"):
			return apperr.New(apperr.KindKeyRevoked, "KEY_REVOKED", joined).WithDetails(details)
		case strings.Contains(reason, "expired"):
			return apperr.New(apperr.KindKeyExpired, "KEY_EXPIRED", joined).WithDetails(details)
		}
	}
	return apperr.New(apperr.KindInvalidKey, "INVALID_KEY", joined).WithDetails(details)
}
