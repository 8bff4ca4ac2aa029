package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// ContractValidator checks HTTP traffic against the OpenAPI document in
// api/openapi.yaml.
type ContractValidator struct {
	loader *openapi3.Loader
	doc    *openapi3.T
	router routers.Router
}

// NewContractValidator loads and validates the OpenAPI document, then builds
// a route matcher from it.
func NewContractValidator(specPath string) (*ContractValidator, error) {
	loader := &openapi3.Loader{Context: context.Background(), IsExternalRefsAllowed: true}

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build OpenAPI router: %w", err)
	}

	return &ContractValidator{
		loader: loader,
		doc:    doc,
		router: router,
	}, nil
}

// ValidateRequest checks the request against the matched operation.
func (cv *ContractValidator) ValidateRequest(req *http.Request) error {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("no matching operation: %w", err)
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
	}
	if err := openapi3filter.ValidateRequest(cv.loader.Context, input); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}
	return nil
}

// ValidateResponseBody checks a captured response against the matched
// operation.
func (cv *ContractValidator) ValidateResponseBody(req *http.Request, status int, header http.Header, body []byte) error {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("no matching operation: %w", err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status: status,
		Header: header,
	}
	input.SetBodyBytes(body)

	if err := openapi3filter.ValidateResponse(cv.loader.Context, input); err != nil {
		return fmt.Errorf("response validation: %w", err)
	}
	return nil
}

// HasRoute reports whether the document describes the request's operation.
func (cv *ContractValidator) HasRoute(req *http.Request) bool {
	_, _, err := cv.router.FindRoute(req)
	return err == nil
}

// ContractConfig controls contract enforcement.
type ContractConfig struct {
	// Enforce rejects nonconforming requests with 400; otherwise
	// violations only log
	Enforce bool
	// SkipPaths lists path prefixes exempt from validation
	SkipPaths []string
}

// DefaultContractConfig logs violations without rejecting, which is the
// safe posture while clients are still converging on the contract.
func DefaultContractConfig() ContractConfig {
	return ContractConfig{
		Enforce:   false,
		SkipPaths: []string{"/healthz", "/readyz", "/startupz", "/metrics", "/ws/"},
	}
}

// contractMiddleware validates incoming requests against the OpenAPI
// document.
func contractMiddleware(validator *ContractValidator, cfg ContractConfig, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			start := time.Now()
			err := validator.ValidateRequest(r)
			if err != nil {
				logger.WarnContext(r.Context(), "contract violation",
					"method", r.Method,
					"path", r.URL.Path,
					"error", contractViolationMessage(err),
					"validation_ms", time.Since(start).Milliseconds(),
				)
				if cfg.Enforce {
					writeMiddlewareError(w, http.StatusBadRequest, "CONTRACT_VIOLATION", "Request does not conform to the API contract")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// contractViolationMessage flattens openapi3filter's error types into one
// log-friendly line.
func contractViolationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Error()
	}
	var secErr *openapi3filter.SecurityRequirementsError
	if errors.As(err, &secErr) {
		return secErr.Error()
	}
	return err.Error()
}
