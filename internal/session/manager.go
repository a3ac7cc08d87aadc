// Package session implements the user session lifecycle on top of the
// key-value store. Records live under session:<id> with a TTL that slides
// on every update. Enumeration of sessions by user is deliberately not
// part of the contract; callers needing it must maintain their own index.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"license-service/internal/client"
	"license-service/internal/models"
	"license-service/internal/util"
)

const sessionPrefix = "session:"

// 32 bytes gives the 256 bits of entropy session identifiers require.
const idByteLength = 32

type Manager struct {
	store client.Store
	ttl   time.Duration
}

func NewManager(store client.Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// Create stores a new session and returns its identifier with the computed
// expiry.
func (m *Manager) Create(ctx context.Context, data map[string]interface{}) (*models.SessionInfo, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	if data == nil {
		data = map[string]interface{}{}
	}

	now := time.Now().UTC()
	record := models.SessionRecord{
		Data:         data,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := m.persist(ctx, id, &record, m.ttl); err != nil {
		util.Error("failed to create session", zap.Error(err))
		return nil, err
	}

	util.Debug("session created", zap.String("session_id", id))

	return &models.SessionInfo{
		ID:           id,
		Data:         record.Data,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
		ExpiresAt:    now.Add(m.ttl),
	}, nil
}

// Get reads a session without refreshing its TTL. The expiry is computed
// from the store's remaining TTL at read time.
func (m *Manager) Get(ctx context.Context, id string) (*models.SessionInfo, bool) {
	record, ok := m.read(ctx, id)
	if !ok {
		return nil, false
	}

	expiresAt := time.Time{}
	if ttl, err := m.store.TTL(ctx, sessionPrefix+id); err == nil && ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl)
	}

	return &models.SessionInfo{
		ID:           id,
		Data:         record.Data,
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
		ExpiresAt:    expiresAt,
	}, true
}

// Update merges partial into the session data, stamps last activity, and
// re-persists with the full TTL, sliding the expiration. Returns false
// when the session does not exist.
func (m *Manager) Update(ctx context.Context, id string, partial map[string]interface{}) bool {
	record, ok := m.read(ctx, id)
	if !ok {
		util.Warn("session update on missing session", zap.String("session_id", id))
		return false
	}

	for k, v := range partial {
		record.Data[k] = v
	}
	record.LastActivity = time.Now().UTC()

	if err := m.persist(ctx, id, record, m.ttl); err != nil {
		util.Error("failed to update session",
			zap.String("session_id", id),
			zap.Error(err))
		return false
	}
	return true
}

// Touch refreshes the TTL and last-activity stamp without changing data.
func (m *Manager) Touch(ctx context.Context, id string) bool {
	return m.Update(ctx, id, map[string]interface{}{})
}

// Extend resets the TTL to d without rewriting the record.
func (m *Manager) Extend(ctx context.Context, id string, d time.Duration) bool {
	ok, err := m.store.Expire(ctx, sessionPrefix+id, d)
	if err != nil {
		util.Error("failed to extend session",
			zap.String("session_id", id),
			zap.Duration("ttl", d),
			zap.Error(err))
		return false
	}
	return ok
}

// Destroy deletes the session. Idempotent: destroying an absent session
// still succeeds.
func (m *Manager) Destroy(ctx context.Context, id string) bool {
	if _, err := m.store.Del(ctx, sessionPrefix+id); err != nil {
		util.Error("failed to destroy session",
			zap.String("session_id", id),
			zap.Error(err))
		return false
	}
	util.Debug("session destroyed", zap.String("session_id", id))
	return true
}

func (m *Manager) read(ctx context.Context, id string) (*models.SessionRecord, bool) {
	raw, err := m.store.Get(ctx, sessionPrefix+id)
	if err != nil {
		if !errors.Is(err, client.ErrKeyNotFound) {
			util.Warn("session read failed",
				zap.String("session_id", id),
				zap.Error(err))
		}
		return nil, false
	}

	var record models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		util.Error("corrupt session record",
			zap.String("session_id", id),
			zap.Error(err))
		return nil, false
	}
	if record.Data == nil {
		record.Data = map[string]interface{}{}
	}
	return &record, true
}

func (m *Manager) persist(ctx context.Context, id string, record *models.SessionRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := m.store.Set(ctx, sessionPrefix+id, string(raw), ttl); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func generateSessionID() (string, error) {
	buf := make([]byte, idByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
