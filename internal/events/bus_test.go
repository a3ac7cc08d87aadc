package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/client/clienttest"
	"license-service/internal/models"
)

type recordedMessage struct {
	key     string
	value   string
	headers map[string]string
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (f *fakeProducer) ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, recordedMessage{string(key), string(value), headers})
	return nil
}

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	store := clienttest.New()
	bus := NewBus(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []models.Event
	go bus.Subscribe(ctx, models.EventLicenseActivated, func(event models.Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})

	// Subscription registration races with the first publish; retry until
	// the event lands.
	require.Eventually(t, func() bool {
		bus.Publish(ctx, models.EventLicenseActivated, "lic-1", map[string]interface{}{"hardwareId": "hw-1"})
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	event := received[0]
	assert.Equal(t, models.EventLicenseActivated, event.Channel)
	assert.Equal(t, "lic-1", event.EntityID)
	assert.Equal(t, "hw-1", event.Payload["hardwareId"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestLicenseEventsMirroredToKafka(t *testing.T) {
	store := clienttest.New()
	producer := &fakeProducer{}
	bus := NewBus(store, producer)

	bus.Publish(context.Background(), models.EventLicenseCreated, "lic-1", nil)

	require.Equal(t, 1, producer.count())
	msg := producer.messages[0]
	assert.Equal(t, "lic-1", msg.key)
	assert.Equal(t, models.EventLicenseCreated, msg.headers["channel"])
	assert.Contains(t, msg.value, models.EventLicenseCreated)
}

func TestCacheEventsNotMirrored(t *testing.T) {
	store := clienttest.New()
	producer := &fakeProducer{}
	bus := NewBus(store, producer)

	bus.Publish(context.Background(), models.EventCacheInvalidate, "user-1", nil)

	assert.Zero(t, producer.count())
}

func TestPublishFailureDoesNotPanic(t *testing.T) {
	store := clienttest.New()
	store.FailAll = true
	bus := NewBus(store, nil)

	// Must not return or panic; delivery is best effort.
	bus.Publish(context.Background(), models.EventLicenseCreated, "lic-1", nil)
}
