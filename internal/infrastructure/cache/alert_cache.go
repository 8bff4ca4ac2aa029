package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
)

// AlertCache keeps the open-alert snapshot for each patient so dashboard
// and clinician reads skip the database on the hot path. The alerting
// service invalidates the snapshot on every lifecycle transition, so a
// stale entry can only survive until its TTL.
type AlertCache struct {
	cache  Cache
	logger *zap.Logger
	ttl    time.Duration
}

// NewAlertCache creates an alert snapshot cache with the given TTL.
func NewAlertCache(cache Cache, logger *zap.Logger, ttl time.Duration) *AlertCache {
	if ttl <= 0 {
		ttl = ShortCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertCache{
		cache:  cache,
		logger: logger,
		ttl:    ttl,
	}
}

func activeAlertKey(patientID uuid.UUID) string {
	return ActiveAlertPrefix + patientID.String()
}

// GetActiveAlerts returns the cached open-alert snapshot for a patient,
// or nil, nil on a miss.
func (c *AlertCache) GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	key := activeAlertKey(patientID)

	var alerts []*alert.CriticalAlert
	if err := c.cache.GetJSON(ctx, key, &alerts); err != nil {
		var notFound ErrCacheKeyNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}

	return alerts, nil
}

// SetActiveAlerts stores the open-alert snapshot for a patient.
func (c *AlertCache) SetActiveAlerts(ctx context.Context, patientID uuid.UUID, alerts []*alert.CriticalAlert) error {
	key := activeAlertKey(patientID)

	if err := c.cache.SetJSON(ctx, key, alerts, c.ttl); err != nil {
		c.logger.Warn("failed to cache active alerts",
			zap.String("patient_id", patientID.String()),
			zap.Error(err))
		return err
	}

	return nil
}

// InvalidateActiveAlerts drops a patient's snapshot after a lifecycle
// transition.
func (c *AlertCache) InvalidateActiveAlerts(ctx context.Context, patientID uuid.UUID) error {
	return c.cache.Delete(ctx, activeAlertKey(patientID))
}
