package rest

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	domainerrors "github.com/vitalsense/clinical-signal-engine/internal/domain/errors"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/service/alerting"
	analysissvc "github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ingestion"
	"github.com/vitalsense/clinical-signal-engine/internal/service/rules"
)

// Services groups the service dependencies of the API layer.
type Services struct {
	Ingestion ingestion.Service
	Analysis  analysissvc.Service
	Alerting  alerting.Service
	Rules     rules.Service
}

// HistoryCache is the optional read-through cache for trend and anomaly
// history queries. A nil cache disables the fast path.
type HistoryCache interface {
	GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error)
	SetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*analysis.TrendRecord) error
	GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error)
	SetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*analysis.AnomalyRecord) error
}

// Handlers implements the v1 API endpoints.
type Handlers struct {
	*BaseHandler
	services     Services
	historyCache HistoryCache
	logger       *slog.Logger
}

// NewHandlers wires the endpoint handlers. historyCache may be nil.
func NewHandlers(base *BaseHandler, services Services, historyCache HistoryCache, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		BaseHandler:  base,
		services:     services,
		historyCache: historyCache,
		logger:       logger,
	}
}

// RegisterRoutes attaches every v1 endpoint to the mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /measurements", h.WrapHandler(http.MethodPost, "/measurements", h.handleSubmitMeasurement, WithSuccessStatus(http.StatusCreated)))
	mux.Handle("POST /measurements/batch", h.WrapHandler(http.MethodPost, "/measurements/batch", h.handleSubmitMeasurementBatch, WithMaxBodyBytes(8<<20)))
	mux.Handle("GET /measurements/stats", h.WrapHandler(http.MethodGet, "/measurements/stats", h.handlePipelineStats))

	mux.Handle("GET /patients/{patient_id}/alerts", h.WrapHandler(http.MethodGet, "/patients/{patient_id}/alerts", h.handleGetActiveAlerts))
	mux.Handle("GET /patients/{patient_id}/trends/{test_code}", h.WrapHandler(http.MethodGet, "/patients/{patient_id}/trends/{test_code}", h.handleGetTrendHistory))
	mux.Handle("GET /patients/{patient_id}/anomalies/{test_code}", h.WrapHandler(http.MethodGet, "/patients/{patient_id}/anomalies/{test_code}", h.handleGetAnomalyHistory))

	mux.Handle("GET /alerts/{alert_id}", h.WrapHandler(http.MethodGet, "/alerts/{alert_id}", h.handleGetAlert))
	mux.Handle("POST /alerts/{alert_id}/acknowledge", h.WrapHandler(http.MethodPost, "/alerts/{alert_id}/acknowledge", h.handleAcknowledgeAlert))
	mux.Handle("POST /alerts/{alert_id}/resolve", h.WrapHandler(http.MethodPost, "/alerts/{alert_id}/resolve", h.handleResolveAlert))

	mux.Handle("POST /rules", h.WrapHandler(http.MethodPost, "/rules", h.handleCreateRule, WithSuccessStatus(http.StatusCreated)))
	mux.Handle("GET /rules", h.WrapHandler(http.MethodGet, "/rules", h.handleListRules))
	mux.Handle("GET /rules/{rule_id}", h.WrapHandler(http.MethodGet, "/rules/{rule_id}", h.handleGetRule))
	mux.Handle("PUT /rules/{rule_id}", h.WrapHandler(http.MethodPut, "/rules/{rule_id}", h.handleUpdateRule))
	mux.Handle("DELETE /rules/{rule_id}", h.WrapHandler(http.MethodDelete, "/rules/{rule_id}", h.handleDeleteRule))
	mux.Handle("POST /rules/{rule_id}/activate", h.WrapHandler(http.MethodPost, "/rules/{rule_id}/activate", h.handleActivateRule))
	mux.Handle("POST /rules/{rule_id}/deactivate", h.WrapHandler(http.MethodPost, "/rules/{rule_id}/deactivate", h.handleDeactivateRule))
}

// Measurement endpoints

func (h *Handlers) handleSubmitMeasurement(ctx context.Context, r *http.Request) (interface{}, error) {
	var req SubmitMeasurementRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	m, err := h.services.Ingestion.Ingest(ctx, submissionFromRequest(req))
	if err != nil {
		return nil, err
	}
	return newMeasurementResponse(m), nil
}

func (h *Handlers) handleSubmitMeasurementBatch(ctx context.Context, r *http.Request) (interface{}, error) {
	var req BatchMeasurementRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	subs := make([]ingestion.Submission, 0, len(req.Measurements))
	for _, item := range req.Measurements {
		subs = append(subs, submissionFromRequest(item))
	}

	result, err := h.services.Ingestion.IngestBatch(ctx, subs)
	if err != nil {
		return nil, err
	}
	return newBatchIngestResponse(result), nil
}

func (h *Handlers) handlePipelineStats(ctx context.Context, r *http.Request) (interface{}, error) {
	return newPipelineStatsResponse(h.services.Ingestion.Stats()), nil
}

func submissionFromRequest(req SubmitMeasurementRequest) ingestion.Submission {
	return ingestion.Submission{
		PatientID:     req.PatientID,
		TestCode:      req.TestCode,
		TestName:      req.TestName,
		Value:         req.Value,
		Unit:          req.Unit,
		ReferenceLow:  req.ReferenceLow,
		ReferenceHigh: req.ReferenceHigh,
		ObservedAt:    req.ObservedAt,
		Category:      req.Category,
	}
}

// Patient query endpoints

func (h *Handlers) handleGetActiveAlerts(ctx context.Context, r *http.Request) (interface{}, error) {
	patientID, err := pathUUID(r, "patient_id")
	if err != nil {
		return nil, err
	}

	alerts, err := h.services.Alerting.GetActiveAlerts(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return newAlertListResponse(patientID, alerts), nil
}

func (h *Handlers) handleGetTrendHistory(ctx context.Context, r *http.Request) (interface{}, error) {
	patientID, testCode, limit, err := h.historyParams(r)
	if err != nil {
		return nil, err
	}

	if h.historyCache != nil {
		if cached, err := h.historyCache.GetTrendHistory(ctx, patientID, testCode, limit); err != nil {
			h.logger.WarnContext(ctx, "trend cache read failed", "error", err)
		} else if cached != nil {
			return newTrendHistoryResponse(patientID, testCode, cached), nil
		}
	}

	trends, err := h.services.Analysis.GetTrendHistory(ctx, patientID, testCode, limit)
	if err != nil {
		return nil, err
	}

	if h.historyCache != nil && len(trends) > 0 {
		if err := h.historyCache.SetTrendHistory(ctx, patientID, testCode, limit, trends); err != nil {
			h.logger.WarnContext(ctx, "trend cache write failed", "error", err)
		}
	}
	return newTrendHistoryResponse(patientID, testCode, trends), nil
}

func (h *Handlers) handleGetAnomalyHistory(ctx context.Context, r *http.Request) (interface{}, error) {
	patientID, testCode, limit, err := h.historyParams(r)
	if err != nil {
		return nil, err
	}

	if h.historyCache != nil {
		if cached, err := h.historyCache.GetAnomalyHistory(ctx, patientID, testCode, limit); err != nil {
			h.logger.WarnContext(ctx, "anomaly cache read failed", "error", err)
		} else if cached != nil {
			return newAnomalyHistoryResponse(patientID, testCode, cached), nil
		}
	}

	anomalies, err := h.services.Analysis.GetAnomalyHistory(ctx, patientID, testCode, limit)
	if err != nil {
		return nil, err
	}

	if h.historyCache != nil && len(anomalies) > 0 {
		if err := h.historyCache.SetAnomalyHistory(ctx, patientID, testCode, limit, anomalies); err != nil {
			h.logger.WarnContext(ctx, "anomaly cache write failed", "error", err)
		}
	}
	return newAnomalyHistoryResponse(patientID, testCode, anomalies), nil
}

func (h *Handlers) historyParams(r *http.Request) (uuid.UUID, string, int, error) {
	patientID, err := pathUUID(r, "patient_id")
	if err != nil {
		return uuid.Nil, "", 0, err
	}

	testCode := r.PathValue("test_code")
	if !testCodeRe.MatchString(testCode) {
		return uuid.Nil, "", 0, &ValidationError{
			Message: "Request validation failed",
			Fields:  map[string]string{"test_code": "must be an uppercase test code"},
		}
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return uuid.Nil, "", 0, &ValidationError{
				Message: "Request validation failed",
				Fields:  map[string]string{"limit": "must be an integer"},
			}
		}
	}
	if err := h.ValidateStruct(&HistoryQuery{Limit: limit}); err != nil {
		return uuid.Nil, "", 0, err
	}

	return patientID, testCode, limit, nil
}

// Alert action endpoints

func (h *Handlers) handleGetAlert(ctx context.Context, r *http.Request) (interface{}, error) {
	alertID, err := pathUUID(r, "alert_id")
	if err != nil {
		return nil, err
	}

	a, err := h.services.Alerting.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	return newAlertResponse(a), nil
}

func (h *Handlers) handleAcknowledgeAlert(ctx context.Context, r *http.Request) (interface{}, error) {
	alertID, err := pathUUID(r, "alert_id")
	if err != nil {
		return nil, err
	}

	var req AcknowledgeAlertRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	a, err := h.services.Alerting.Acknowledge(ctx, alertID, req.AcknowledgedBy)
	if err != nil {
		return nil, err
	}
	return newAlertResponse(a), nil
}

func (h *Handlers) handleResolveAlert(ctx context.Context, r *http.Request) (interface{}, error) {
	alertID, err := pathUUID(r, "alert_id")
	if err != nil {
		return nil, err
	}

	var req ResolveAlertRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	a, err := h.services.Alerting.Resolve(ctx, alertID, req.ResolvedBy)
	if err != nil {
		return nil, err
	}
	return newAlertResponse(a), nil
}

// Rule management endpoints

func (h *Handlers) handleCreateRule(ctx context.Context, r *http.Request) (interface{}, error) {
	var req CreateRuleRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	category, err := rule.ParseCategory(req.Category)
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_CATEGORY", err.Error())
	}
	severity, err := rule.ParseSeverity(req.Severity)
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_SEVERITY", err.Error())
	}

	created, err := h.services.Rules.CreateRule(ctx, rules.CreateParams{
		Name:                    req.Name,
		Description:             req.Description,
		Category:                category,
		Severity:                severity,
		Conditions:              conditionsFromRequest(req.Conditions),
		EscalationPath:          req.EscalationPath,
		TimeToEscalationMinutes: req.TimeToEscalationMinutes,
		ActivateImmediately:     req.ActivateImmediately,
	})
	if err != nil {
		return nil, err
	}
	return newRuleResponse(created), nil
}

func (h *Handlers) handleListRules(ctx context.Context, r *http.Request) (interface{}, error) {
	list, err := h.services.Rules.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return newRuleListResponse(list), nil
}

func (h *Handlers) handleGetRule(ctx context.Context, r *http.Request) (interface{}, error) {
	ruleID, err := pathUUID(r, "rule_id")
	if err != nil {
		return nil, err
	}

	found, err := h.services.Rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return newRuleResponse(found), nil
}

func (h *Handlers) handleUpdateRule(ctx context.Context, r *http.Request) (interface{}, error) {
	ruleID, err := pathUUID(r, "rule_id")
	if err != nil {
		return nil, err
	}

	var req UpdateRuleRequest
	if err := h.ParseAndValidate(r, &req); err != nil {
		return nil, err
	}

	severity, err := rule.ParseSeverity(req.Severity)
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_SEVERITY", err.Error())
	}

	updated, err := h.services.Rules.UpdateRule(ctx, ruleID, rules.UpdateParams{
		Name:                    req.Name,
		Description:             req.Description,
		Severity:                severity,
		Conditions:              conditionsFromRequest(req.Conditions),
		EscalationPath:          req.EscalationPath,
		TimeToEscalationMinutes: req.TimeToEscalationMinutes,
	})
	if err != nil {
		return nil, err
	}
	return newRuleResponse(updated), nil
}

func (h *Handlers) handleDeleteRule(ctx context.Context, r *http.Request) (interface{}, error) {
	ruleID, err := pathUUID(r, "rule_id")
	if err != nil {
		return nil, err
	}

	if err := h.services.Rules.DeleteRule(ctx, ruleID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": true, "id": ruleID}, nil
}

func (h *Handlers) handleActivateRule(ctx context.Context, r *http.Request) (interface{}, error) {
	ruleID, err := pathUUID(r, "rule_id")
	if err != nil {
		return nil, err
	}

	activated, err := h.services.Rules.ActivateRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return newRuleResponse(activated), nil
}

func (h *Handlers) handleDeactivateRule(ctx context.Context, r *http.Request) (interface{}, error) {
	ruleID, err := pathUUID(r, "rule_id")
	if err != nil {
		return nil, err
	}

	deactivated, err := h.services.Rules.DeactivateRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	return newRuleResponse(deactivated), nil
}

// Helpers

func conditionsFromRequest(reqs []RuleConditionRequest) []rule.Condition {
	conditions := make([]rule.Condition, 0, len(reqs))
	for _, c := range reqs {
		conditions = append(conditions, rule.Condition{
			TestCode: c.TestCode,
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
		})
	}
	return conditions
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{
			Message: "Request validation failed",
			Fields:  map[string]string{name: "must be a valid UUID"},
		}
	}
	return id, nil
}

// measurementCategoryValues keeps the request DTO's oneof tag and the domain
// parser in sync; tests assert the two agree.
var measurementCategoryValues = []string{
	measurement.CategoryLab.String(),
	measurement.CategoryVital.String(),
	measurement.CategoryClinicalNote.String(),
	measurement.CategoryImagingFinding.String(),
}
