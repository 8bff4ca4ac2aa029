package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	contextKeyRequestMeta contextKey = "request_meta"
)

const defaultMaxBodyBytes = 1 << 20

// HandlerFunc is the shape every endpoint handler takes: return a payload to
// serialize into the success envelope, or an error for the error handler.
type HandlerFunc func(ctx context.Context, r *http.Request) (interface{}, error)

// BaseHandler carries the machinery shared by all endpoint handlers:
// validation, tracing, and uniform response envelopes.
type BaseHandler struct {
	validator    *validator.Validate
	tracer       trace.Tracer
	errorHandler ErrorHandler
	apiVersion   string
}

// NewBaseHandler wires the shared handler plumbing and registers the
// clinical field validators.
func NewBaseHandler(errorHandler ErrorHandler, apiVersion string) *BaseHandler {
	v := validator.New()
	registerClinicalValidators(v)

	if apiVersion == "" {
		apiVersion = "v1"
	}

	return &BaseHandler{
		validator:    v,
		tracer:       otel.Tracer("api.rest"),
		errorHandler: errorHandler,
		apiVersion:   apiVersion,
	}
}

var (
	testCodeRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,11}$`)
	actorRe    = regexp.MustCompile(`^[a-z][a-z0-9._ '-]{1,63}$`)
)

// registerClinicalValidators adds the domain formats request DTOs rely on:
// short uppercase lab test codes and lowercase clinician identifiers.
func registerClinicalValidators(v *validator.Validate) {
	v.RegisterValidation("testcode", func(fl validator.FieldLevel) bool {
		return testCodeRe.MatchString(fl.Field().String())
	})
	v.RegisterValidation("actor", func(fl validator.FieldLevel) bool {
		return actorRe.MatchString(fl.Field().String())
	})
}

// ResponseEnvelope is the uniform JSON shape for every API response.
type ResponseEnvelope struct {
	Success bool          `json:"success"`
	Data    interface{}   `json:"data,omitempty"`
	Error   *ErrorDetails `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta,omitempty"`
}

// ErrorDetails describes a failed request.
type ErrorDetails struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
}

// ResponseMeta carries per-request bookkeeping.
type ResponseMeta struct {
	RequestID  string `json:"request_id,omitempty"`
	Timestamp  string `json:"timestamp"`
	Version    string `json:"version"`
	DurationMS int64  `json:"duration_ms"`
}

// RequestMeta is extracted once per request and stored in the context.
type RequestMeta struct {
	RequestID string
	TraceID   string
	ClientIP  string
	UserAgent string
	StartTime time.Time
}

// ValidationError reports DTO validation failures field by field.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

type handlerConfig struct {
	timeout       time.Duration
	successStatus int
	maxBodyBytes  int64
}

// HandlerOption customizes a wrapped handler.
type HandlerOption func(*handlerConfig)

// WithTimeout bounds the handler's context.
func WithTimeout(d time.Duration) HandlerOption {
	return func(c *handlerConfig) { c.timeout = d }
}

// WithSuccessStatus overrides the 200 written on success.
func WithSuccessStatus(status int) HandlerOption {
	return func(c *handlerConfig) { c.successStatus = status }
}

// WithMaxBodyBytes overrides the request body limit.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(c *handlerConfig) { c.maxBodyBytes = n }
}

// WrapHandler turns a HandlerFunc into an http.Handler with tracing, request
// metadata, and envelope serialization.
func (h *BaseHandler) WrapHandler(method, pattern string, handler HandlerFunc, opts ...HandlerOption) http.Handler {
	cfg := handlerConfig{
		successStatus: http.StatusOK,
		maxBodyBytes:  defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), fmt.Sprintf("%s %s", method, pattern),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", method),
				attribute.String("http.route", pattern),
			),
		)
		defer span.End()

		meta := h.requestMeta(ctx, r)
		ctx = context.WithValue(ctx, contextKeyRequestMeta, meta)

		if cfg.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}

		if cfg.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.maxBodyBytes)
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, startTime: meta.StartTime}

		result, err := handler(ctx, r.WithContext(ctx))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			h.writeError(ctx, rw, err)
			return
		}

		span.SetStatus(codes.Ok, "")
		h.writeSuccess(ctx, rw, cfg.successStatus, result)
	})
}

// ParseAndValidate decodes the JSON body into dst and runs struct
// validation. Callers pass a pointer.
func (h *BaseHandler) ParseAndValidate(r *http.Request, dst interface{}) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return &ValidationError{Message: fmt.Sprintf("unsupported content type %q", contentType)}
	}

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return err
	}

	if err := h.validator.Struct(dst); err != nil {
		return h.formatValidationError(err)
	}
	return nil
}

// ValidateStruct runs struct validation without decoding, for DTOs built
// from query or path parameters.
func (h *BaseHandler) ValidateStruct(dst interface{}) error {
	if err := h.validator.Struct(dst); err != nil {
		return h.formatValidationError(err)
	}
	return nil
}

func (h *BaseHandler) formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Message: err.Error()}
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		fields[strings.ToLower(fe.Field())] = validationMessage(fe)
	}
	return &ValidationError{
		Message: "Request validation failed",
		Fields:  fields,
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "testcode":
		return "must be an uppercase test code"
	case "actor":
		return "must be a clinician identifier"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", strings.ToLower(fe.Param()))
	case "dive":
		return "contains an invalid element"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func (h *BaseHandler) writeSuccess(ctx context.Context, rw *responseWriter, status int, data interface{}) {
	envelope := ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    h.responseMeta(ctx, rw),
	}
	h.writeJSON(rw, status, envelope)
}

func (h *BaseHandler) writeError(ctx context.Context, rw *responseWriter, err error) {
	status, code, message, details := h.errorHandler.HandleError(ctx, err)

	errDetails := &ErrorDetails{
		Code:    code,
		Message: message,
		Details: details,
	}
	if retryAfter := h.errorHandler.SuggestRetryAfter(err); retryAfter > 0 {
		errDetails.RetryAfter = retryAfter
		rw.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	envelope := ResponseEnvelope{
		Success: false,
		Error:   errDetails,
		Meta:    h.responseMeta(ctx, rw),
	}
	h.writeJSON(rw, status, envelope)
}

func (h *BaseHandler) writeJSON(rw *responseWriter, status int, envelope ResponseEnvelope) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	// Headers are out the door; an encode failure here is unrecoverable
	_ = json.NewEncoder(rw).Encode(envelope)
}

func (h *BaseHandler) responseMeta(ctx context.Context, rw *responseWriter) *ResponseMeta {
	meta := &ResponseMeta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.apiVersion,
	}
	if reqMeta := RequestMetaFromContext(ctx); reqMeta != nil {
		meta.RequestID = reqMeta.RequestID
		meta.DurationMS = time.Since(reqMeta.StartTime).Milliseconds()
	}
	return meta
}

func (h *BaseHandler) requestMeta(ctx context.Context, r *http.Request) *RequestMeta {
	// Middleware may have populated the metadata already
	if meta := RequestMetaFromContext(ctx); meta != nil {
		return meta
	}

	meta := &RequestMeta{
		RequestID: r.Header.Get("X-Request-ID"),
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		StartTime: time.Now(),
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}
	return meta
}

// RequestMetaFromContext returns the request metadata, or nil outside a
// wrapped handler.
func RequestMetaFromContext(ctx context.Context) *RequestMeta {
	meta, _ := ctx.Value(contextKeyRequestMeta).(*RequestMeta)
	return meta
}

// clientIP resolves the originating address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

// responseWriter captures the status code and first-write time for logging
// and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	startTime  time.Time
}

func (rw *responseWriter) WriteHeader(status int) {
	if rw.written {
		return
	}
	rw.statusCode = status
	rw.written = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
