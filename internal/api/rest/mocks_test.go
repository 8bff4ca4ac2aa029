package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	domainanalysis "github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/values"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/service/alerting"
	analysissvc "github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ingestion"
	"github.com/vitalsense/clinical-signal-engine/internal/service/rules"
)

// MockServices bundles mocks for every service the handlers call.
type MockServices struct {
	Ingestion *MockIngestionService
	Analysis  *MockAnalysisService
	Alerting  *MockAlertingService
	Rules     *MockRulesService
}

func NewMockServices() *MockServices {
	return &MockServices{
		Ingestion: new(MockIngestionService),
		Analysis:  new(MockAnalysisService),
		Alerting:  new(MockAlertingService),
		Rules:     new(MockRulesService),
	}
}

func (m *MockServices) AsServices() Services {
	return Services{
		Ingestion: m.Ingestion,
		Analysis:  m.Analysis,
		Alerting:  m.Alerting,
		Rules:     m.Rules,
	}
}

func (m *MockServices) AssertExpectations(t *testing.T) {
	m.Ingestion.AssertExpectations(t)
	m.Analysis.AssertExpectations(t)
	m.Alerting.AssertExpectations(t)
	m.Rules.AssertExpectations(t)
}

// MockIngestionService implements ingestion.Service.
type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) Ingest(ctx context.Context, sub ingestion.Submission) (*measurement.Measurement, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*measurement.Measurement), args.Error(1)
}

func (m *MockIngestionService) IngestBatch(ctx context.Context, subs []ingestion.Submission) (*ingestion.BatchResult, error) {
	args := m.Called(ctx, subs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestion.BatchResult), args.Error(1)
}

func (m *MockIngestionService) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockIngestionService) Stop() {
	m.Called()
}

func (m *MockIngestionService) Stats() ingestion.PipelineStats {
	args := m.Called()
	return args.Get(0).(ingestion.PipelineStats)
}

// MockAnalysisService implements analysis.Service.
type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) AnalyzeMeasurement(ctx context.Context, meas *measurement.Measurement) (*analysissvc.Result, error) {
	args := m.Called(ctx, meas)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysissvc.Result), args.Error(1)
}

func (m *MockAnalysisService) BuildCompletedEvent(patientID uuid.UUID, results []*analysissvc.Result) domainanalysis.CompletedEvent {
	args := m.Called(patientID, results)
	return args.Get(0).(domainanalysis.CompletedEvent)
}

func (m *MockAnalysisService) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.TrendRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainanalysis.TrendRecord), args.Error(1)
}

func (m *MockAnalysisService) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.AnomalyRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainanalysis.AnomalyRecord), args.Error(1)
}

// MockAlertingService implements alerting.Service.
type MockAlertingService struct {
	mock.Mock
}

func (m *MockAlertingService) HandleCreationRequest(ctx context.Context, req *alert.CreationRequest) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertingService) Acknowledge(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, alertID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertingService) Resolve(ctx context.Context, alertID uuid.UUID, actor string) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, alertID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertingService) GetAlert(ctx context.Context, alertID uuid.UUID) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, alertID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertingService) GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertingService) RunSweep(ctx context.Context) (alerting.SweepStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(alerting.SweepStats), args.Error(1)
}

func (m *MockAlertingService) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAlertingService) Stop() {
	m.Called()
}

// MockRulesService implements rules.Service.
type MockRulesService struct {
	mock.Mock
}

func (m *MockRulesService) CreateRule(ctx context.Context, params rules.CreateParams) (*rule.AlertRule, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) UpdateRule(ctx context.Context, id uuid.UUID, params rules.UpdateParams) (*rule.AlertRule, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) ActivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) DeactivateRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) GetRule(ctx context.Context, id uuid.UUID) (*rule.AlertRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) ListRules(ctx context.Context) ([]*rule.AlertRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*rule.AlertRule), args.Error(1)
}

func (m *MockRulesService) DeleteRule(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRulesService) Reload(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockHistoryCache implements HistoryCache.
type MockHistoryCache struct {
	mock.Mock
}

func (m *MockHistoryCache) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.TrendRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainanalysis.TrendRecord), args.Error(1)
}

func (m *MockHistoryCache) SetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*domainanalysis.TrendRecord) error {
	args := m.Called(ctx, patientID, testCode, limit, records)
	return args.Error(0)
}

func (m *MockHistoryCache) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*domainanalysis.AnomalyRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domainanalysis.AnomalyRecord), args.Error(1)
}

func (m *MockHistoryCache) SetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int, records []*domainanalysis.AnomalyRecord) error {
	args := m.Called(ctx, patientID, testCode, limit, records)
	return args.Error(0)
}

// ====================================
// Fixtures
// ====================================

// testConfig builds a minimal config; the generous rate limit keeps
// table-driven tests from tripping 429s.
func testConfig() *config.Config {
	return &config.Config{
		Version:     "test",
		Environment: "test",
		Server: config.ServerConfig{
			Port:            0,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     5 * time.Second,
			ShutdownTimeout: time.Second,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 10000,
			BurstSize:         10000,
		},
	}
}

// setupServer builds a full server around mocks and returns its handler
// chain, so tests exercise middleware exactly as production traffic does.
func setupServer(t *testing.T, mocks *MockServices) http.Handler {
	t.Helper()

	srv, err := NewServer(ServerDeps{
		Config:   testConfig(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Services: mocks.AsServices(),
	})
	require.NoError(t, err)
	return srv.Handler()
}

func makeRequest(handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// makeRawRequest sends an unmarshaled body, for malformed-payload cases.
func makeRawRequest(handler http.Handler, method, path, body, contentType string) *httptest.ResponseRecorder {
	req := newJSONRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	return recordRequest(handler, req)
}

func newJSONRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return httptest.NewRequest(method, path, reader)
}

func recordRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) ResponseEnvelope {
	t.Helper()

	var env ResponseEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

func envelopeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error, "expected error envelope, body: %s", w.Body.String())
	return env.Error.Code
}

func testMeasurement(patientID uuid.UUID) *measurement.Measurement {
	rng, _ := values.NewReferenceRange(3.5, 5.0)
	m, _ := measurement.NewMeasurement(
		patientID, "K", "Potassium", 4.1, "mmol/L", rng,
		time.Now().Add(-time.Minute), measurement.CategoryLab,
	)
	return m
}

func testRule(t *testing.T) *rule.AlertRule {
	t.Helper()

	r, err := rule.NewAlertRule(
		"Critical potassium",
		rule.CategoryLabCritical,
		rule.SeverityCritical,
		[]rule.Condition{{TestCode: "K", Field: "value", Operator: "greater_than", Value: 6.0}},
		[]string{"nurse", "physician"},
		15,
	)
	require.NoError(t, err)
	return r
}

func testAlert(t *testing.T, patientID uuid.UUID) *alert.CriticalAlert {
	t.Helper()

	a, err := alert.NewCriticalAlert(alert.CreationRequest{
		PatientID:               patientID,
		RuleID:                  uuid.New(),
		Category:                rule.CategoryLabCritical,
		Severity:                rule.SeverityCritical,
		Title:                   "Critical potassium",
		Description:             "Potassium above panic threshold",
		RecommendedAction:       "Repeat draw and notify physician",
		EscalationPath:          []string{"nurse", "physician"},
		TimeToEscalationMinutes: 15,
		Trigger: alert.TriggerSnapshot{
			Source:     "rule_engine",
			TestCode:   "K",
			Summary:    "K 6.8 mmol/L",
			Severity:   rule.SeverityCritical,
			RecordedAt: time.Now(),
		},
	})
	require.NoError(t, err)
	return a
}

func testTrend(patientID uuid.UUID) *domainanalysis.TrendRecord {
	return &domainanalysis.TrendRecord{
		ID:                   uuid.New(),
		PatientID:            patientID,
		TestCode:             "K",
		Direction:            domainanalysis.TrendIncreasing,
		ChangePercentage:     12.5,
		WindowDays:           7,
		SampleCount:          5,
		Confidence:           0.82,
		ClinicalSignificance: "rising across the week",
		ComputedAt:           time.Now(),
	}
}

func testAnomaly(patientID uuid.UUID) *domainanalysis.AnomalyRecord {
	rng, _ := values.NewReferenceRange(3.5, 5.0)
	return &domainanalysis.AnomalyRecord{
		ID:                  uuid.New(),
		PatientID:           patientID,
		TestCode:            "K",
		CurrentValue:        6.8,
		Unit:                "mmol/L",
		ReferenceRange:      rng,
		DeviationPercentage: 36.0,
		Severity:            domainanalysis.SeveritySevere,
		ClinicalImplication: "hyperkalemia",
		RecommendedAction:   "repeat draw",
		ObservedAt:          time.Now(),
		CreatedAt:           time.Now(),
	}
}

func validSubmissionBody(patientID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"patient_id":     patientID.String(),
		"test_code":      "K",
		"test_name":      "Potassium",
		"value":          4.1,
		"unit":           "mmol/L",
		"reference_low":  3.5,
		"reference_high": 5.0,
		"observed_at":    time.Now().Add(-time.Minute).Format(time.RFC3339),
		"category":       "lab",
	}
}

func validRuleBody() map[string]interface{} {
	return map[string]interface{}{
		"name":     "Critical potassium",
		"category": "lab_critical",
		"severity": "critical",
		"conditions": []map[string]interface{}{
			{"test_code": "K", "field": "value", "operator": "greater_than", "value": 6.0},
		},
		"escalation_path":            []string{"nurse", "physician"},
		"time_to_escalation_minutes": 15,
	}
}
