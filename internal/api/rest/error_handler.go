package rest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	domainerrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
)

// ErrorHandler maps service errors onto HTTP responses.
type ErrorHandler interface {
	// HandleError converts an error to status code, error code, message,
	// and optional details
	HandleError(ctx context.Context, err error) (statusCode int, errorCode string, message string, details map[string]interface{})
	HandlePanic(ctx context.Context, recovered interface{}) (statusCode int, errorCode string, message string)
	IsRetryable(err error) bool
	SuggestRetryAfter(err error) int
}

// DefaultErrorHandler is the standard error mapping used by the API server.
type DefaultErrorHandler struct {
	logger          *slog.Logger
	includeInternal bool
}

// NewDefaultErrorHandler creates an error handler. includeInternal controls
// whether raw error strings leak into 500 responses; keep it off outside
// development.
func NewDefaultErrorHandler(logger *slog.Logger, includeInternal bool) *DefaultErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultErrorHandler{
		logger:          logger,
		includeInternal: includeInternal,
	}
}

// HandleError maps an error chain onto an HTTP response. AppError carries its
// own status code and wins over every other classification, so errors.As runs
// before anything else looks at the chain.
func (h *DefaultErrorHandler) HandleError(ctx context.Context, err error) (int, string, string, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, "", "", nil
	}

	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		h.logAppError(ctx, appErr)
		return appErr.StatusCode, appErr.Code, appErr.Message, appErr.Details
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		details := map[string]interface{}{}
		if len(validationErr.Fields) > 0 {
			details["fields"] = validationErr.Fields
		}
		return http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, details
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "RESOURCE_NOT_FOUND", "The requested resource was not found", nil
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "REQUEST_CANCELED", "The request was canceled", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT", "The request timed out", nil
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, "MALFORMED_JSON", fmt.Sprintf("Invalid JSON at offset %d", syntaxErr.Offset), nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return http.StatusBadRequest, "INVALID_FIELD_TYPE",
			fmt.Sprintf("Field %q expects %s", typeErr.Field, typeErr.Type), nil
	}

	if isConnectionError(err) {
		h.logger.ErrorContext(ctx, "upstream connection failure", "error", err)
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "A dependent service is unavailable", nil
	}

	h.logger.ErrorContext(ctx, "unhandled error", "error", err)
	message := "An internal error occurred"
	if h.includeInternal {
		message = err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", message, nil
}

// HandlePanic converts a recovered panic into a 500 response.
func (h *DefaultErrorHandler) HandlePanic(ctx context.Context, recovered interface{}) (int, string, string) {
	h.logger.ErrorContext(ctx, "panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", string(debug.Stack()),
	)
	return http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred"
}

// IsRetryable reports whether the client may safely retry the request.
func (h *DefaultErrorHandler) IsRetryable(err error) bool {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) || isConnectionError(err)
}

// SuggestRetryAfter returns a Retry-After value in seconds, or 0 when the
// error is not retryable.
func (h *DefaultErrorHandler) SuggestRetryAfter(err error) int {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		switch {
		case appErr.Code == "RATE_LIMIT_EXCEEDED":
			return 1
		case appErr.Retryable:
			return 5
		}
		return 0
	}
	if h.IsRetryable(err) {
		return 5
	}
	return 0
}

func (h *DefaultErrorHandler) logAppError(ctx context.Context, appErr *domainerrors.AppError) {
	attrs := []any{
		"error_type", string(appErr.Type),
		"error_code", appErr.Code,
		"message", appErr.Message,
	}
	if appErr.Cause != nil {
		attrs = append(attrs, "cause", appErr.Cause.Error())
	}
	if appErr.StatusCode >= 500 {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
}

// statusClientClosedRequest is nginx's non-standard 499 for canceled requests.
const statusClientClosedRequest = 499

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
