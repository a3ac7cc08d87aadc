package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/cache"
	"license-service/internal/client/clienttest"
	"license-service/internal/events"
	"license-service/internal/license"
	"license-service/internal/models"
	"license-service/internal/repository/scylla/scyllatest"
	"license-service/internal/service"
	"license-service/internal/util"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	licenses := scyllatest.NewLicenseRepo()
	activations := scyllatest.NewActivationRepo()
	users := scyllatest.NewUserRepo()
	store := clienttest.New()
	secret := []byte("handler-test-secret")

	user := &models.User{Email: "dev@example.com", Username: "dev"}
	require.NoError(t, users.CreateUser(context.Background(), user))

	licenseService := service.NewLicenseService(
		licenses,
		activations,
		users,
		license.NewGenerator(secret, licenses, 10),
		license.NewValidator(secret, licenses),
		events.NewBus(store, nil),
		cache.NewInvalidator(store),
		nil,
	)
	userService := service.NewUserService(users, nil, events.NewBus(store, nil))

	router := NewRouter(RouterDeps{
		LicenseHandler: NewLicenseHandler(licenseService, nil, util.Get()),
		UserHandler:    NewUserHandler(userService, util.Get()),
		Logger:         util.Get(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, user.ID
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, Response) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer res.Body.Close()

	var envelope Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&envelope))
	return res, envelope
}

func issueKey(t *testing.T, server *httptest.Server, userID string, maxActivations int) string {
	t.Helper()

	res, envelope := postJSON(t, server.URL+"/api/v1/licenses", map[string]interface{}{
		"type":           "STANDARD",
		"userId":         userID,
		"maxActivations": maxActivations,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.True(t, envelope.Success)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	key, ok := data["key"].(string)
	require.True(t, ok)
	return key
}

func TestIssueActivateLifecycle(t *testing.T) {
	server, userID := newTestServer(t)
	key := issueKey(t, server, userID, 1)

	res, envelope := postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-1",
		"deviceName": "laptop",
	})
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.True(t, envelope.Success)

	// Same device again: refresh, not a second slot.
	res, _ = postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-1",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// A second device exceeds the quota.
	res, envelope = postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-2",
	})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "MAX_ACTIVATIONS_REACHED", envelope.Error.Code)
}

func TestActivateRejectsMalformedKey(t *testing.T) {
	server, _ := newTestServer(t)

	res, envelope := postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        "not-a-key",
		"hardwareId": "hw-1",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_KEY", envelope.Error.Code)
}

func TestRevokeThenActivate(t *testing.T) {
	server, userID := newTestServer(t)
	key := issueKey(t, server, userID, 3)

	res, err := http.Post(fmt.Sprintf("%s/api/v1/licenses/%s/revoke", server.URL, key), "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	activateRes, envelope := postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-1",
	})
	assert.Equal(t, http.StatusForbidden, activateRes.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "KEY_REVOKED", envelope.Error.Code)
}

func TestGetUnknownLicenseIs404(t *testing.T) {
	server, _ := newTestServer(t)

	res, err := http.Get(server.URL + "/api/v1/licenses/ABCDE-FGHJK-LMNPQ-RSTUV-WXYZ2")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestIssueRejectsUnknownType(t *testing.T) {
	server, userID := newTestServer(t)

	res, envelope := postJSON(t, server.URL+"/api/v1/licenses", map[string]interface{}{
		"type":   "LIFETIME",
		"userId": userID,
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	server, userID := newTestServer(t)
	key := issueKey(t, server, userID, 2)

	postJSON(t, server.URL+"/api/v1/licenses/activate", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-1",
	})

	res, envelope := postJSON(t, server.URL+"/api/v1/licenses/verify", map[string]interface{}{
		"key":        key,
		"hardwareId": "hw-1",
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
