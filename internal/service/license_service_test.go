package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/apperr"
	"license-service/internal/cache"
	"license-service/internal/client/clienttest"
	"license-service/internal/events"
	"license-service/internal/license"
	"license-service/internal/models"
	"license-service/internal/repository/scylla/scyllatest"
)

var testSecret = []byte("service-test-signing-secret")

type fixture struct {
	licenses    *scyllatest.LicenseRepo
	activations *scyllatest.ActivationRepo
	users       *scyllatest.UserRepo
	service     *LicenseService
	bus         *events.Bus
	userID      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	licenses := scyllatest.NewLicenseRepo()
	activations := scyllatest.NewActivationRepo()
	users := scyllatest.NewUserRepo()
	store := clienttest.New()

	user := &models.User{Email: "dev@example.com", Username: "dev"}
	require.NoError(t, users.CreateUser(context.Background(), user))

	bus := events.NewBus(store, nil)
	svc := NewLicenseService(
		licenses,
		activations,
		users,
		license.NewGenerator(testSecret, licenses, 10),
		license.NewValidator(testSecret, licenses),
		bus,
		cache.NewInvalidator(store),
		nil,
	)

	return &fixture{
		licenses:    licenses,
		activations: activations,
		users:       users,
		service:     svc,
		bus:         bus,
		userID:      user.ID,
	}
}

func (f *fixture) issue(t *testing.T, req IssueRequest) *models.License {
	t.Helper()
	if req.UserID == "" {
		req.UserID = f.userID
	}
	lic, err := f.service.Issue(context.Background(), req)
	require.NoError(t, err)
	return lic
}

func TestIssueAppliesTypeDefaults(t *testing.T) {
	f := newFixture(t)

	trial := f.issue(t, IssueRequest{Type: models.LicenseTypeTrial})
	assert.Equal(t, 1, trial.MaxActivations)
	assert.Equal(t, models.LicenseStatusPending, trial.Status)
	require.NotNil(t, trial.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 14), *trial.ExpiresAt, time.Minute)

	enterprise := f.issue(t, IssueRequest{Type: models.LicenseTypeEnterprise})
	assert.Equal(t, 25, enterprise.MaxActivations)
	assert.Nil(t, enterprise.ExpiresAt)
}

func TestIssueRejectsUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Issue(context.Background(), IssueRequest{
		Type:   models.LicenseTypeStandard,
		UserID: "nobody",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestActivateClaimsSlotAndPromotesPending(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})
	require.Equal(t, models.LicenseStatusPending, lic.Status)

	result, err := f.service.Activate(context.Background(), ActivateRequest{
		Key:        lic.Key,
		HardwareID: "hw-1",
		DeviceName: "build-box",
	})
	require.NoError(t, err)

	assert.False(t, result.Reactivated)
	assert.Equal(t, models.LicenseStatusActive, result.License.Status)
	assert.Equal(t, 1, result.License.CurrentActivations)
	assert.Equal(t, "hw-1", result.Activation.HardwareID)
}

func TestActivateIsIdempotentPerDevice(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeTrial})

	first, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)
	require.False(t, first.Reactivated)

	second, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)
	assert.True(t, second.Reactivated)

	// Counter must not move for the repeat.
	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentActivations)
	assert.False(t, second.Activation.LastSeenAt.Before(first.Activation.LastSeenAt))
}

func TestActivateEnforcesQuotaUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard, MaxActivations: 3})

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = f.service.Activate(context.Background(), ActivateRequest{
				Key:        lic.Key,
				HardwareID: fmt.Sprintf("hw-%d", n),
			})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.IsKind(err, apperr.KindMaxActivations):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, rejected)

	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentActivations)

	rows, err := f.activations.ListActivations(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestActivateRejectsExpiredKey(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard, ExpiresInDays: 1})

	past := time.Now().UTC().Add(-time.Hour)
	lic.ExpiresAt = &past
	require.NoError(t, f.licenses.CreateLicense(context.Background(), lic))

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindKeyExpired))
}

func TestGetPersistsLazyExpiryAndAnnouncesIt(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard, ExpiresInDays: 1})

	past := time.Now().UTC().Add(-time.Hour)
	lic.ExpiresAt = &past
	require.NoError(t, f.licenses.CreateLicense(context.Background(), lic))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []models.Event
	go f.bus.Subscribe(ctx, models.EventLicenseExpired, func(event models.Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})

	// Subscription registration races with the first publish; prove the
	// subscriber is live before the one-shot announcement fires.
	require.Eventually(t, func() bool {
		f.bus.Publish(ctx, models.EventLicenseExpired, "warmup", map[string]interface{}{})
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := f.service.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusExpired, got.Status)

	stored, err := f.licenses.GetLicenseByID(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusExpired, stored.Status)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range received {
			if event.EntityID == lic.ID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// A second read sees the persisted status and stays quiet.
	_, err = f.service.Get(ctx, lic.Key)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var announcements int
	for _, event := range received {
		if event.EntityID == lic.ID {
			announcements++
		}
	}
	assert.Equal(t, 1, announcements)
}

func TestDeactivateReleasesSlot(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)

	require.NoError(t, f.service.Deactivate(context.Background(), lic.Key, "hw-1"))

	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentActivations)

	// The freed slot is reusable by another device.
	_, err = f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-2"})
	require.NoError(t, err)
}

func TestDeactivateUnknownDeviceFails(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	err := f.service.Deactivate(context.Background(), lic.Key, "never-activated")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestConcurrentDeactivateReleasesSlotOnce(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard, MaxActivations: 1})

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = f.service.Deactivate(context.Background(), lic.Key, "hw-1")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.IsKind(err, apperr.KindNotFound):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentActivations)

	// Exactly one slot was freed, so a new device activation fills the
	// quota again and the counter matches the surviving records.
	_, err = f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-2"})
	require.NoError(t, err)

	rows, err := f.activations.ListActivations(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	stored, err = f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentActivations)
}

func TestRevokeIsTerminal(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(context.Background(), lic.Key))

	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, stored.Status)
	assert.Equal(t, 0, stored.CurrentActivations)

	rows, err := f.activations.ListActivations(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Later activations must fail, even for a previously activated device.
	_, err = f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindKeyRevoked))

	// Revoking again is a no-op.
	require.NoError(t, f.service.Revoke(context.Background(), lic.Key))
}

func TestTransferKeepsActivations(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)

	other := &models.User{Email: "other@example.com", Username: "other"}
	require.NoError(t, f.users.CreateUser(context.Background(), other))

	transferred, err := f.service.Transfer(context.Background(), lic.Key, f.userID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, transferred.UserID)

	stored, err := f.licenses.GetLicenseByID(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentActivations)
}

func TestTransferRejectsWrongOwner(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	other := &models.User{Email: "other@example.com", Username: "other"}
	require.NoError(t, f.users.CreateUser(context.Background(), other))

	_, err := f.service.Transfer(context.Background(), lic.Key, "not-the-owner", other.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestVerifyReportsDeviceBinding(t *testing.T) {
	f := newFixture(t)
	lic := f.issue(t, IssueRequest{Type: models.LicenseTypeStandard})

	_, err := f.service.Activate(context.Background(), ActivateRequest{Key: lic.Key, HardwareID: "hw-1"})
	require.NoError(t, err)

	bound, err := f.service.Verify(context.Background(), lic.Key, "hw-1")
	require.NoError(t, err)
	assert.True(t, bound.Valid)
	require.NotNil(t, bound.Activation)

	unbound, err := f.service.Verify(context.Background(), lic.Key, "hw-2")
	require.NoError(t, err)
	assert.False(t, unbound.Valid)
	assert.Contains(t, unbound.Reasons, "device is not activated")
}
