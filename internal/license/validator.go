package license

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/repository/scylla"
)

// ValidationResult accumulates every reason a key was rejected so callers
// can present all problems at once.
type ValidationResult struct {
	Valid   bool
	Reasons []string
	License *models.License
}

// Validator performs read-only key checks: format and checksum first,
// then status and expiry against the durable record. It never mutates
// activation state.
type Validator struct {
	secret   []byte
	licenses scylla.LicenseRepository
}

func NewValidator(secret []byte, licenses scylla.LicenseRepository) *Validator {
	return &Validator{secret: secret, licenses: licenses}
}

// CheckFormat validates segment shape and checksum without any store
// access. Returns the reasons a key is malformed, empty when well formed.
func (v *Validator) CheckFormat(key string) []string {
	var reasons []string

	segments := strings.Split(key, keySeparator)
	if len(segments) != randomSegments+1 {
		return []string{"key must have " + strconv.Itoa(randomSegments+1) + " segments"}
	}

	for _, segment := range segments {
		if len(segment) != segmentLength {
			reasons = append(reasons, "each segment must be "+strconv.Itoa(segmentLength)+" characters")
			break
		}
	}
	for _, segment := range segments {
		if strings.Trim(segment, alphabet) != "" {
			reasons = append(reasons, "key contains invalid characters")
			break
		}
	}
	if len(reasons) > 0 {
		return reasons
	}

	payload := strings.Join(segments[:randomSegments], keySeparator)
	expected := checksumSegment(v.secret, payload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(segments[randomSegments])) != 1 {
		reasons = append(reasons, "checksum mismatch")
	}

	return reasons
}

// Validate runs the full check. Format failures short-circuit without a
// store read. A store fault is returned as an error, distinct from a
// domain rejection.
func (v *Validator) Validate(ctx context.Context, key string) (*ValidationResult, error) {
	if reasons := v.CheckFormat(key); len(reasons) > 0 {
		return &ValidationResult{Valid: false, Reasons: reasons}, nil
	}

	lic, err := v.licenses.GetLicenseByKey(ctx, key)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindNotFound {
			return &ValidationResult{Valid: false, Reasons: []string{"key not found"}}, nil
		}
		return nil, err
	}

	var reasons []string
	switch lic.EffectiveStatus(time.Now().UTC()) {
	case models.LicenseStatusRevoked:
		reasons = append(reasons, "key has been revoked")
	case models.LicenseStatusExpired:
		reasons = append(reasons, "key has expired")
	}

	return &ValidationResult{
		Valid:   len(reasons) == 0,
		Reasons: reasons,
		License: lic,
	}, nil
}

