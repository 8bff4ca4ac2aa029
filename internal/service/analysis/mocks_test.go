package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/measurement"
)

type MockMeasurementRepository struct {
	mock.Mock
}

func (m *MockMeasurementRepository) GetWindow(ctx context.Context, patientID uuid.UUID, testCode string, from, to time.Time) ([]*measurement.Measurement, error) {
	args := m.Called(ctx, patientID, testCode, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*measurement.Measurement), args.Error(1)
}

type MockAnalysisRepository struct {
	mock.Mock
}

func (m *MockAnalysisRepository) StoreTrend(ctx context.Context, tr *analysis.TrendRecord) error {
	args := m.Called(ctx, tr)
	return args.Error(0)
}

func (m *MockAnalysisRepository) StoreAnomaly(ctx context.Context, ar *analysis.AnomalyRecord) error {
	args := m.Called(ctx, ar)
	return args.Error(0)
}

func (m *MockAnalysisRepository) GetTrendHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.TrendRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*analysis.TrendRecord), args.Error(1)
}

func (m *MockAnalysisRepository) GetAnomalyHistory(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*analysis.AnomalyRecord, error) {
	args := m.Called(ctx, patientID, testCode, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*analysis.AnomalyRecord), args.Error(1)
}
