package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/vitalsense/clinical-signal-engine/internal/domain/alert"
)

type MockAlertRepository struct {
	mock.Mock
}

func (m *MockAlertRepository) Create(ctx context.Context, a *alert.CriticalAlert) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAlertRepository) UpdateFromStatus(ctx context.Context, a *alert.CriticalAlert, expected alert.Status) error {
	args := m.Called(ctx, a, expected)
	return args.Error(0)
}

func (m *MockAlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertRepository) GetOpenByPatientAndRule(ctx context.Context, patientID, ruleID uuid.UUID) (*alert.CriticalAlert, error) {
	args := m.Called(ctx, patientID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertRepository) ListOpenByPatient(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertRepository) ListEscalationDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertRepository) ListExpireDue(ctx context.Context, now time.Time) ([]*alert.CriticalAlert, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CriticalAlert), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishAlertEvent(ctx context.Context, event alert.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockAlertCache struct {
	mock.Mock
}

func (m *MockAlertCache) GetActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*alert.CriticalAlert, error) {
	args := m.Called(ctx, patientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*alert.CriticalAlert), args.Error(1)
}

func (m *MockAlertCache) SetActiveAlerts(ctx context.Context, patientID uuid.UUID, alerts []*alert.CriticalAlert) error {
	args := m.Called(ctx, patientID, alerts)
	return args.Error(0)
}

func (m *MockAlertCache) InvalidateActiveAlerts(ctx context.Context, patientID uuid.UUID) error {
	args := m.Called(ctx, patientID)
	return args.Error(0)
}
