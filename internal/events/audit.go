package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"license-service/internal/client"
	"license-service/internal/models"
	"license-service/internal/util"
)

const (
	auditInsertQuery = "INSERT INTO audit_log (id, action, entity_id, user_id, ip_address, detail, occurred_at)"
	auditBatchSize   = 200
	auditFlushEvery  = 5 * time.Second
)

// AuditSink subscribes to the license and user channels and batches the
// events into ClickHouse. Losing audit rows on a sink fault is accepted;
// the durable Kafka mirror is the authoritative stream.
type AuditSink struct {
	clickhouse *client.ClickHouseClient
	bus        *Bus

	mu      sync.Mutex
	pending [][]interface{}
}

func NewAuditSink(clickhouse *client.ClickHouseClient, bus *Bus) *AuditSink {
	return &AuditSink{clickhouse: clickhouse, bus: bus}
}

// Run subscribes to every audited channel and flushes batches until ctx is
// cancelled.
func (s *AuditSink) Run(ctx context.Context) {
	channels := []string{
		models.EventLicenseCreated,
		models.EventLicenseActivated,
		models.EventLicenseDeactivated,
		models.EventLicenseExpired,
		models.EventLicenseRevoked,
		models.EventUserRegistered,
		models.EventUserLogin,
	}

	for _, channel := range channels {
		ch := channel
		go func() {
			if err := s.bus.Subscribe(ctx, ch, s.record); err != nil && ctx.Err() == nil {
				util.Warn("audit subscription ended",
					zap.String("channel", ch),
					zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(auditFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// Stop flushes whatever is still pending. Cancel Run's context before
// calling.
func (s *AuditSink) Stop() {
	s.flush(context.Background())
}

func (s *AuditSink) record(event models.Event) {
	userID := ""
	ipAddress := ""
	detail := ""
	if event.Payload != nil {
		if v, ok := event.Payload["userId"].(string); ok {
			userID = v
		}
		if v, ok := event.Payload["ipAddress"].(string); ok {
			ipAddress = v
		}
		if v, ok := event.Payload["detail"].(string); ok {
			detail = v
		}
	}

	s.mu.Lock()
	s.pending = append(s.pending, []interface{}{
		uuid.NewString(),
		event.Channel,
		event.EntityID,
		userID,
		ipAddress,
		detail,
		event.Timestamp,
	})
	full := len(s.pending) >= auditBatchSize
	s.mu.Unlock()

	if full {
		s.flush(context.Background())
	}
}

func (s *AuditSink) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.clickhouse.BatchInsert(flushCtx, auditInsertQuery, batch); err != nil {
		util.Warn("audit batch insert failed",
			zap.Int("rows", len(batch)),
			zap.Error(err))
		return
	}

	util.Debug("audit batch flushed", zap.Int("rows", len(batch)))
}
