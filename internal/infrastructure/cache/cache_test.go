package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/testutil/fixtures"
)

func setupTestRedis(t *testing.T) (*redisCache, *miniredis.Miniredis, func()) {
	// Start mini Redis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Create test configuration
	cfg := &config.RedisConfig{
		URL:      mr.Addr(),
		Password: "",
		DB:       0,
	}

	logger := zaptest.NewLogger(t)

	// Create cache
	cache, err := NewRedisCache(cfg, logger)
	require.NoError(t, err)

	redisCache := cache.(*redisCache)

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return redisCache, mr, cleanup
}

func TestNewRedisCache(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		cache, _, cleanup := setupTestRedis(t)
		defer cleanup()

		assert.NotNil(t, cache)
		assert.NotNil(t, cache.client)
		assert.NotNil(t, cache.logger)
	})

	t.Run("nil logger", func(t *testing.T) {
		cfg := &config.RedisConfig{URL: "localhost:6379"}
		_, err := NewRedisCache(cfg, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("nil config", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		_, err := NewRedisCache(nil, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		cfg := &config.RedisConfig{
			URL: "localhost:1", // Non-existent port
		}
		logger := zaptest.NewLogger(t)

		_, err := NewRedisCache(cfg, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis connection failed")
	})
}

func TestRedisCache_BasicOperations(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		key := "test:key"
		value := "test_value"

		// Set
		err := cache.Set(ctx, key, value, time.Hour)
		require.NoError(t, err)

		// Get
		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := cache.Get(ctx, "non_existent_key")
		assert.Error(t, err)

		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
		assert.Equal(t, "non_existent_key", notFoundErr.Key)
	})

	t.Run("Delete", func(t *testing.T) {
		key := "test:delete"
		value := "delete_me"

		// Set
		err := cache.Set(ctx, key, value, time.Hour)
		require.NoError(t, err)

		// Verify exists
		exists, err := cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		// Delete
		err = cache.Delete(ctx, key)
		require.NoError(t, err)

		// Verify deleted
		exists, err = cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Exists", func(t *testing.T) {
		key := "test:exists"

		// Should not exist initially
		exists, err := cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		// Set value
		err = cache.Set(ctx, key, "value", time.Hour)
		require.NoError(t, err)

		// Should exist now
		exists, err = cache.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestRedisCache_AtomicOperations(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("SetNX", func(t *testing.T) {
		key := "test:setnx"
		value1 := "first_value"
		value2 := "second_value"

		// First SetNX should succeed
		success, err := cache.SetNX(ctx, key, value1, time.Hour)
		require.NoError(t, err)
		assert.True(t, success)

		// Second SetNX should fail (key exists)
		success, err = cache.SetNX(ctx, key, value2, time.Hour)
		require.NoError(t, err)
		assert.False(t, success)

		// Value should be the first one
		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value1, result)
	})

	t.Run("Increment", func(t *testing.T) {
		key := "test:incr"

		// First increment (key doesn't exist)
		result, err := cache.Increment(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result)

		// Second increment
		result, err = cache.Increment(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), result)
	})

	t.Run("Expire", func(t *testing.T) {
		key := "test:expire"
		value := "expire_me"

		// Set value without TTL
		err := cache.Set(ctx, key, value, 0)
		require.NoError(t, err)

		// Set expiration
		err = cache.Expire(ctx, key, 1*time.Second)
		require.NoError(t, err)

		// Value should exist immediately
		result, err := cache.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, result)

		// Fast forward time in miniredis to trigger expiration
		mr.FastForward(1100 * time.Millisecond)

		// Value should be expired
		_, err = cache.Get(ctx, key)
		assert.Error(t, err)
		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
	})

	t.Run("Expire on missing key", func(t *testing.T) {
		err := cache.Expire(ctx, "test:missing", time.Minute)
		assert.Error(t, err)
		var notFoundErr ErrCacheKeyNotFound
		assert.ErrorAs(t, err, &notFoundErr)
	})
}

func TestRedisCache_JSONOperations(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()

	type TestStruct struct {
		ID   int      `json:"id"`
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}

	t.Run("SetJSON and GetJSON", func(t *testing.T) {
		key := "test:json"
		original := TestStruct{
			ID:   123,
			Name: "test_object",
			Tags: []string{"tag1", "tag2"},
		}

		// Set JSON
		err := cache.SetJSON(ctx, key, original, time.Hour)
		require.NoError(t, err)

		// Get JSON
		var result TestStruct
		err = cache.GetJSON(ctx, key, &result)
		require.NoError(t, err)

		assert.Equal(t, original, result)
	})

	t.Run("GetJSON with invalid JSON", func(t *testing.T) {
		key := "test:invalid_json"

		// Set invalid JSON
		err := cache.Set(ctx, key, "invalid json", time.Hour)
		require.NoError(t, err)

		// Try to get as JSON
		var result TestStruct
		err = cache.GetJSON(ctx, key, &result)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "json unmarshal failed")
	})
}

func TestAlertCache(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	alertCache := NewAlertCache(cache, logger, time.Minute)

	t.Run("miss returns nil without error", func(t *testing.T) {
		alerts, err := alertCache.GetActiveAlerts(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, alerts)
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		patientID := uuid.New()
		stored := fixtures.NewAlertBuilder(t).
			WithPatientID(patientID).
			WithTitle("Critical potassium").
			Build()

		err := alertCache.SetActiveAlerts(ctx, patientID, []*alert.CriticalAlert{stored})
		require.NoError(t, err)

		alerts, err := alertCache.GetActiveAlerts(ctx, patientID)
		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, stored.ID, alerts[0].ID)
		assert.Equal(t, stored.Title, alerts[0].Title)
		assert.Equal(t, stored.Status, alerts[0].Status)
	})

	t.Run("invalidate drops snapshot", func(t *testing.T) {
		patientID := uuid.New()
		stored := fixtures.NewAlertBuilder(t).WithPatientID(patientID).Build()

		require.NoError(t, alertCache.SetActiveAlerts(ctx, patientID, []*alert.CriticalAlert{stored}))
		require.NoError(t, alertCache.InvalidateActiveAlerts(ctx, patientID))

		alerts, err := alertCache.GetActiveAlerts(ctx, patientID)
		require.NoError(t, err)
		assert.Nil(t, alerts)
	})

	t.Run("snapshot expires after TTL", func(t *testing.T) {
		patientID := uuid.New()
		stored := fixtures.NewAlertBuilder(t).WithPatientID(patientID).Build()

		require.NoError(t, alertCache.SetActiveAlerts(ctx, patientID, []*alert.CriticalAlert{stored}))

		mr.FastForward(2 * time.Minute)

		alerts, err := alertCache.GetActiveAlerts(ctx, patientID)
		require.NoError(t, err)
		assert.Nil(t, alerts)
	})
}

func TestTrendCache(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	trendCache := NewTrendCache(cache, logger, time.Minute)

	patientID := uuid.New()

	t.Run("trend miss returns nil without error", func(t *testing.T) {
		records, err := trendCache.GetTrendHistory(ctx, patientID, "GLU", 10)
		require.NoError(t, err)
		assert.Nil(t, records)
	})

	t.Run("trend history round trip", func(t *testing.T) {
		record, err := analysis.NewTrendRecord(
			patientID, "GLU",
			analysis.TrendIncreasing, 12.5,
			30, 6, 0.9, "glucose rising across recent samples",
		)
		require.NoError(t, err)

		stored := []*analysis.TrendRecord{record}
		require.NoError(t, trendCache.SetTrendHistory(ctx, patientID, "GLU", 10, stored))

		records, err := trendCache.GetTrendHistory(ctx, patientID, "GLU", 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, record.ID, records[0].ID)
		assert.Equal(t, analysis.TrendIncreasing, records[0].Direction)
	})

	t.Run("limit is part of the key", func(t *testing.T) {
		records, err := trendCache.GetTrendHistory(ctx, patientID, "GLU", 5)
		require.NoError(t, err)
		assert.Nil(t, records)
	})

	t.Run("anomaly history round trip", func(t *testing.T) {
		refRange, err := values.NewReferenceRange(70, 100)
		require.NoError(t, err)

		record, err := analysis.NewAnomalyRecord(
			patientID, "GLU", 260, "mg/dL", refRange,
			160, analysis.SeveritySevere,
			"glucose far above reference range", "verify sample and recheck",
			time.Now().UTC(),
		)
		require.NoError(t, err)

		stored := []*analysis.AnomalyRecord{record}
		require.NoError(t, trendCache.SetAnomalyHistory(ctx, patientID, "GLU", 10, stored))

		records, err := trendCache.GetAnomalyHistory(ctx, patientID, "GLU", 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, record.ID, records[0].ID)
		assert.Equal(t, analysis.SeveritySevere, records[0].Severity)
	})
}

func TestRedisCache_Close(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	// Close should not error
	err := cache.Close()
	assert.NoError(t, err)
}
