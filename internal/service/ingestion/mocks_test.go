package ingestion

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
	domainanalysis "github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
	"github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
)

type MockMeasurementStore struct {
	mock.Mock
}

func (m *MockMeasurementStore) Store(ctx context.Context, msr *measurement.Measurement) error {
	args := m.Called(ctx, msr)
	return args.Error(0)
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeMeasurement(ctx context.Context, msr *measurement.Measurement) (*analysis.Result, error) {
	args := m.Called(ctx, msr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Result), args.Error(1)
}

func (m *MockAnalyzer) BuildCompletedEvent(patientID uuid.UUID, results []*analysis.Result) domainanalysis.CompletedEvent {
	args := m.Called(patientID, results)
	return args.Get(0).(domainanalysis.CompletedEvent)
}

type MockRuleEvaluator struct {
	mock.Mock
}

func (m *MockRuleEvaluator) Evaluate(ctx context.Context, msr *measurement.Measurement, trend *domainanalysis.TrendRecord, anomaly *domainanalysis.AnomalyRecord) ([]*alert.CreationRequest, error) {
	args := m.Called(ctx, msr, trend, anomaly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CreationRequest), args.Error(1)
}

type MockAlertLifecycle struct {
	mock.Mock
}

func (m *MockAlertLifecycle) HandleCreationRequest(ctx context.Context, req *alert.CreationRequest) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

type MockCompletedPublisher struct {
	mock.Mock
}

func (m *MockCompletedPublisher) PublishAnalysisCompleted(ctx context.Context, event domainanalysis.CompletedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
