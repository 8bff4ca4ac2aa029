package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
)

func newTestErrorHandler(includeInternal bool) *DefaultErrorHandler {
	return NewDefaultErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), includeInternal)
}

func TestDefaultErrorHandler_HandleError(t *testing.T) {
	h := newTestErrorHandler(false)
	ctx := context.Background()

	t.Run("app errors carry their own status and code", func(t *testing.T) {
		err := domainerrors.NewBusinessError("ALERT_NOT_OPEN", "alert is already resolved")

		status, code, message, _ := h.HandleError(ctx, err)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "ALERT_NOT_OPEN", code)
		assert.Equal(t, "alert is already resolved", message)
	})

	t.Run("wrapped app errors still win", func(t *testing.T) {
		wrapped := domainerrors.Wrap(domainerrors.NewNotFoundError("rule"), "loading rule")

		status, code, _, _ := h.HandleError(ctx, wrapped)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "RESOURCE_NOT_FOUND", code)
	})

	t.Run("validation errors include field details", func(t *testing.T) {
		err := &ValidationError{
			Message: "Request validation failed",
			Fields:  map[string]string{"test_code": "must be an uppercase test code"},
		}

		status, code, _, details := h.HandleError(ctx, err)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "VALIDATION_ERROR", code)

		fields, ok := details["fields"].(map[string]string)
		require.True(t, ok)
		assert.Contains(t, fields, "test_code")
	})

	t.Run("sql no rows maps to 404", func(t *testing.T) {
		status, code, _, _ := h.HandleError(ctx, fmt.Errorf("lookup: %w", sql.ErrNoRows))
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "RESOURCE_NOT_FOUND", code)
	})

	t.Run("canceled contexts map to 499", func(t *testing.T) {
		status, code, _, _ := h.HandleError(ctx, context.Canceled)
		assert.Equal(t, statusClientClosedRequest, status)
		assert.Equal(t, "REQUEST_CANCELED", code)
	})

	t.Run("deadline exceeded maps to 408", func(t *testing.T) {
		status, code, _, _ := h.HandleError(ctx, context.DeadlineExceeded)
		assert.Equal(t, http.StatusRequestTimeout, status)
		assert.Equal(t, "REQUEST_TIMEOUT", code)
	})

	t.Run("json syntax errors map to MALFORMED_JSON", func(t *testing.T) {
		var dst map[string]interface{}
		jsonErr := json.Unmarshal([]byte(`{"a":`), &dst)
		require.Error(t, jsonErr)

		status, code, _, _ := h.HandleError(ctx, jsonErr)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "MALFORMED_JSON", code)
	})

	t.Run("json type errors name the field", func(t *testing.T) {
		var dst struct {
			Count int `json:"count"`
		}
		jsonErr := json.Unmarshal([]byte(`{"count":"three"}`), &dst)
		require.Error(t, jsonErr)

		status, code, message, _ := h.HandleError(ctx, jsonErr)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_FIELD_TYPE", code)
		assert.Contains(t, message, "count")
	})

	t.Run("connection failures map to 502", func(t *testing.T) {
		status, code, _, _ := h.HandleError(ctx, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, "UPSTREAM_UNAVAILABLE", code)
	})

	t.Run("unknown errors are redacted in production", func(t *testing.T) {
		status, code, message, _ := h.HandleError(ctx, errors.New("pgx: constraint violated on alerts_pkey"))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "INTERNAL_ERROR", code)
		assert.Equal(t, "An internal error occurred", message)
	})

	t.Run("unknown errors surface in development", func(t *testing.T) {
		dev := newTestErrorHandler(true)

		_, _, message, _ := dev.HandleError(ctx, errors.New("pgx: constraint violated on alerts_pkey"))
		assert.Contains(t, message, "alerts_pkey")
	})
}

func TestDefaultErrorHandler_IsRetryable(t *testing.T) {
	h := newTestErrorHandler(false)

	assert.True(t, h.IsRetryable(domainerrors.NewTimeoutError("analysis")))
	assert.True(t, h.IsRetryable(context.DeadlineExceeded))
	assert.True(t, h.IsRetryable(errors.New("read tcp: connection reset by peer")))
	assert.False(t, h.IsRetryable(domainerrors.NewBusinessError("ALERT_NOT_OPEN", "no")))
	assert.False(t, h.IsRetryable(errors.New("boring failure")))
}

func TestDefaultErrorHandler_SuggestRetryAfter(t *testing.T) {
	h := newTestErrorHandler(false)

	assert.Equal(t, 1, h.SuggestRetryAfter(domainerrors.NewRateLimitError("slow down")))
	assert.Equal(t, 5, h.SuggestRetryAfter(domainerrors.NewTimeoutError("analysis")))
	assert.Equal(t, 5, h.SuggestRetryAfter(context.DeadlineExceeded))
	assert.Equal(t, 0, h.SuggestRetryAfter(domainerrors.NewBusinessError("NOPE", "no")))
	assert.Equal(t, 0, h.SuggestRetryAfter(errors.New("boring failure")))
}

func TestDefaultErrorHandler_HandlePanic(t *testing.T) {
	h := newTestErrorHandler(false)

	status, code, message := h.HandlePanic(context.Background(), "index out of range")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.Equal(t, "An internal error occurred", message)
}
