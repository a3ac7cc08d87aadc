package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"license-service/internal/client"
	"license-service/internal/models"
	"license-service/internal/util"
)

const deleteBatchSize = 100

// Invalidator removes cached API responses by substring pattern and tells
// other processes sharing the store to do the same via the
// cache.invalidate channel.
type Invalidator struct {
	store client.Store
}

func NewInvalidator(store client.Store) *Invalidator {
	return &Invalidator{store: store}
}

// InvalidatePattern deletes every cache:api entry whose key contains
// substr and publishes a cache.invalidate event. Returns how many entries
// were removed. Failures degrade to partial invalidation, logged.
func (i *Invalidator) InvalidatePattern(ctx context.Context, substr string) (int64, error) {
	keys, err := i.store.ScanAll(ctx, apiNamespace+"*"+substr+"*")
	if err != nil {
		util.Warn("cache invalidation scan failed",
			zap.String("pattern", substr),
			zap.Error(err))
		return 0, err
	}

	var removed int64
	if len(keys) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]int64, (len(keys)+deleteBatchSize-1)/deleteBatchSize)

		for batch := 0; batch*deleteBatchSize < len(keys); batch++ {
			start := batch * deleteBatchSize
			end := start + deleteBatchSize
			if end > len(keys) {
				end = len(keys)
			}
			chunk := keys[start:end]
			slot := batch
			g.Go(func() error {
				n, err := i.store.Del(gctx, chunk...)
				if err != nil {
					return err
				}
				results[slot] = n
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			util.Warn("cache invalidation delete failed",
				zap.String("pattern", substr),
				zap.Error(err))
		}
		for _, n := range results {
			removed += n
		}
	}

	i.publishInvalidate(ctx, substr)

	util.Debug("cache entries invalidated",
		zap.String("pattern", substr),
		zap.Int64("removed", removed))

	return removed, nil
}

func (i *Invalidator) publishInvalidate(ctx context.Context, pattern string) {
	event := models.Event{
		Channel:   models.EventCacheInvalidate,
		EntityID:  pattern,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := i.store.Publish(ctx, models.EventCacheInvalidate, string(payload)); err != nil {
		util.Warn("failed to publish cache.invalidate",
			zap.String("pattern", pattern),
			zap.Error(err))
	}
}
