// Package events carries domain events between subsystems and across
// service instances. The bus rides the key-value store's pub/sub for
// intra-cluster delivery (at-most-once, unordered) and optionally mirrors
// license and user events onto Kafka for durable downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"license-service/internal/client"
	"license-service/internal/models"
	"license-service/internal/util"
)

// Producer is the slice of the Kafka client the bus needs; nil disables
// the mirror.
type Producer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

type Handler func(event models.Event)

type Bus struct {
	store    client.Store
	producer Producer
}

func NewBus(store client.Store, producer Producer) *Bus {
	return &Bus{store: store, producer: producer}
}

// Publish serializes the event onto its channel. Publish failures are
// logged, not returned: event delivery is best effort and must never fail
// the operation that produced the event.
func (b *Bus) Publish(ctx context.Context, channel, entityID string, payload map[string]interface{}) {
	event := models.Event{
		Channel:   channel,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	raw, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to marshal event",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}

	if err := b.store.Publish(ctx, channel, string(raw)); err != nil {
		util.Warn("failed to publish event",
			zap.String("channel", channel),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}

	// Durable mirror for license.* and user.* channels only; cache
	// invalidation is meaningless outside the cluster.
	if b.producer != nil && !strings.HasPrefix(channel, "cache.") {
		if err := b.producer.ProduceMessage(ctx, []byte(entityID), raw, map[string]string{"channel": channel}); err != nil {
			util.Warn("failed to mirror event to kafka",
				zap.String("channel", channel),
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}

	util.Debug("event published",
		zap.String("channel", channel),
		zap.String("entity_id", entityID))
}

// Subscribe runs handler for every event on channel until ctx is
// cancelled. It blocks; run it on its own goroutine.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return b.store.Subscribe(ctx, channel, func(ch, payload string) {
		var event models.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			util.Warn("dropping malformed event",
				zap.String("channel", ch),
				zap.Error(err))
			return
		}
		if event.Channel == "" {
			event.Channel = ch
		}
		handler(event)
	})
}
