package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
)

// TrendCache serves trend and anomaly history reads cache-aside. History
// only grows at ingest time, so entries are TTL-bounded rather than
// invalidated per write; the alert path never reads through here.
type TrendCache struct {
	cache  Cache
	logger *zap.Logger
	ttl    time.Duration
}

// NewTrendCache creates a history cache with the given TTL.
func NewTrendCache(cache Cache, logger *zap.Logger, ttl time.Duration) *TrendCache {
	if ttl <= 0 {
		ttl = ShortCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrendCache{
		cache:  cache,
		logger: logger,
		ttl:    ttl,
	}
}

func trendKey(patientID uuid.UUID, testCode string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%d", TrendPrefix, patientID, testCode, limit)
}

func anomalyKey(patientID uuid.UUID, testCode string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%d", AnomalyPrefix, patientID, testCode, limit)
}

// GetTrendHistory returns cached trend records, or nil, nil on a miss.
func (c *TrendCache) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error) {
	var records []*analysis.TrendRecord
	if err := c.cache.GetJSON(ctx, trendKey(patientID, testCode, limit), &records); err != nil {
		var notFound ErrCacheKeyNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// SetTrendHistory stores trend records for a patient and test code.
func (c *TrendCache) SetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*analysis.TrendRecord) error {
	if err := c.cache.SetJSON(ctx, trendKey(patientID, testCode, limit), records, c.ttl); err != nil {
		c.logger.Warn("failed to cache trend history",
			zap.String("patient_id", patientID.String()),
			zap.String("test_code", testCode),
			zap.Error(err))
		return err
	}
	return nil
}

// GetAnomalyHistory returns cached anomaly records, or nil, nil on a miss.
func (c *TrendCache) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error) {
	var records []*analysis.AnomalyRecord
	if err := c.cache.GetJSON(ctx, anomalyKey(patientID, testCode, limit), &records); err != nil {
		var notFound ErrCacheKeyNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// SetAnomalyHistory stores anomaly records for a patient and test code.
func (c *TrendCache) SetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*analysis.AnomalyRecord) error {
	if err := c.cache.SetJSON(ctx, anomalyKey(patientID, testCode, limit), records, c.ttl); err != nil {
		c.logger.Warn("failed to cache anomaly history",
			zap.String("patient_id", patientID.String()),
			zap.String("test_code", testCode),
			zap.Error(err))
		return err
	}
	return nil
}
