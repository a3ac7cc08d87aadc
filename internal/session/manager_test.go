package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/client/clienttest"
)

func TestCreateAndGetRoundTrip(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Hour)
	ctx := context.Background()

	created, err := manager.Create(ctx, map[string]interface{}{"userId": "u-1"})
	require.NoError(t, err)
	assert.Len(t, created.ID, 64) // 32 random bytes, hex encoded

	got, ok := manager.Get(ctx, created.ID)
	require.True(t, ok)
	assert.Equal(t, "u-1", got.Data["userId"])
	assert.False(t, got.ExpiresAt.IsZero())
}

func TestGetUnknownSession(t *testing.T) {
	manager := NewManager(clienttest.New(), time.Hour)

	_, ok := manager.Get(context.Background(), "no-such-session")
	assert.False(t, ok)
}

func TestSessionIDsAreUnique(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Hour)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		info, err := manager.Create(ctx, nil)
		require.NoError(t, err)
		require.False(t, seen[info.ID])
		seen[info.ID] = true
	}
}

func TestSessionExpires(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	created, err := manager.Create(ctx, nil)
	require.NoError(t, err)

	store.Advance(time.Minute + time.Second)

	_, ok := manager.Get(ctx, created.ID)
	assert.False(t, ok)
}

func TestUpdateSlidesExpiration(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	created, err := manager.Create(ctx, nil)
	require.NoError(t, err)

	// Touch just before expiry; the full TTL starts over.
	store.Advance(50 * time.Second)
	require.True(t, manager.Update(ctx, created.ID, map[string]interface{}{"seen": true}))

	store.Advance(50 * time.Second)
	got, ok := manager.Get(ctx, created.ID)
	require.True(t, ok)
	assert.Equal(t, true, got.Data["seen"])
}

func TestUpdateMergesData(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Hour)
	ctx := context.Background()

	created, err := manager.Create(ctx, map[string]interface{}{"a": "1"})
	require.NoError(t, err)

	require.True(t, manager.Update(ctx, created.ID, map[string]interface{}{"b": "2"}))

	got, ok := manager.Get(ctx, created.ID)
	require.True(t, ok)
	assert.Equal(t, "1", got.Data["a"])
	assert.Equal(t, "2", got.Data["b"])
}

func TestUpdateMissingSessionReturnsFalse(t *testing.T) {
	manager := NewManager(clienttest.New(), time.Hour)
	assert.False(t, manager.Update(context.Background(), "gone", map[string]interface{}{"a": 1}))
}

func TestExtendResetsTTLWithoutRewrite(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Minute)
	ctx := context.Background()

	created, err := manager.Create(ctx, nil)
	require.NoError(t, err)

	require.True(t, manager.Extend(ctx, created.ID, time.Hour))

	store.Advance(30 * time.Minute)
	_, ok := manager.Get(ctx, created.ID)
	assert.True(t, ok)
}

func TestDestroyIsIdempotent(t *testing.T) {
	store := clienttest.New()
	manager := NewManager(store, time.Hour)
	ctx := context.Background()

	created, err := manager.Create(ctx, nil)
	require.NoError(t, err)

	assert.True(t, manager.Destroy(ctx, created.ID))
	_, ok := manager.Get(ctx, created.ID)
	assert.False(t, ok)

	assert.True(t, manager.Destroy(ctx, created.ID))
}
