package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/client/clienttest"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestGetSetRoundTrip(t *testing.T) {
	store := clienttest.New()
	c := New(store, 5*time.Minute)
	ctx := context.Background()

	key := Key("licenses:user-1")
	require.True(t, c.Set(ctx, key, payload{Name: "alpha", Count: 3}, 0))

	var got payload
	require.True(t, c.Get(ctx, key, &got))
	assert.Equal(t, payload{Name: "alpha", Count: 3}, got)
}

func TestGetMissOnAbsentKey(t *testing.T) {
	c := New(clienttest.New(), 5*time.Minute)

	var got payload
	assert.False(t, c.Get(context.Background(), Key("nothing"), &got))
}

func TestStoreFaultDegradesToMiss(t *testing.T) {
	store := clienttest.New()
	c := New(store, 5*time.Minute)
	ctx := context.Background()

	key := Key("licenses:user-1")
	require.True(t, c.Set(ctx, key, payload{Name: "alpha"}, 0))

	store.FailAll = true

	var got payload
	assert.False(t, c.Get(ctx, key, &got))
	assert.False(t, c.Set(ctx, key, payload{Name: "beta"}, 0))
	assert.Zero(t, c.Delete(ctx, key))
}

func TestEntriesExpire(t *testing.T) {
	store := clienttest.New()
	c := New(store, 5*time.Minute)
	ctx := context.Background()

	key := Key("short-lived")
	require.True(t, c.Set(ctx, key, payload{}, time.Minute))

	store.Advance(2 * time.Minute)

	var got payload
	assert.False(t, c.Get(ctx, key, &got))
}

func TestDefaultTTLApplied(t *testing.T) {
	store := clienttest.New()
	c := New(store, time.Minute)
	ctx := context.Background()

	key := Key("defaulted")
	require.True(t, c.Set(ctx, key, payload{}, 0))

	ttl, ok := c.TTL(ctx, key)
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)
}

func TestInvalidatePatternRemovesOnlyMatches(t *testing.T) {
	store := clienttest.New()
	c := New(store, 5*time.Minute)
	inv := NewInvalidator(store)
	ctx := context.Background()

	require.True(t, c.Set(ctx, Key("licenses:user-1:list"), payload{}, 0))
	require.True(t, c.Set(ctx, Key("licenses:user-1:detail"), payload{}, 0))
	require.True(t, c.Set(ctx, Key("licenses:user-2:list"), payload{}, 0))

	removed, err := inv.InvalidatePattern(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var got payload
	assert.False(t, c.Get(ctx, Key("licenses:user-1:list"), &got))
	assert.False(t, c.Get(ctx, Key("licenses:user-1:detail"), &got))
	assert.True(t, c.Get(ctx, Key("licenses:user-2:list"), &got))
}

func TestInvalidatePatternNoMatches(t *testing.T) {
	store := clienttest.New()
	inv := NewInvalidator(store)

	removed, err := inv.InvalidatePattern(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInvalidateManyEntries(t *testing.T) {
	store := clienttest.New()
	c := New(store, 5*time.Minute)
	inv := NewInvalidator(store)
	ctx := context.Background()

	// More entries than one delete batch.
	for i := 0; i < 250; i++ {
		require.True(t, c.Set(ctx, Key("bulk:"+strconv.Itoa(i)), payload{Count: i}, 0))
	}

	removed, err := inv.InvalidatePattern(ctx, "bulk")
	require.NoError(t, err)
	assert.Equal(t, int64(250), removed)
}
