package http

import (
	"context"

	"github.com/flurbudurbur/localsync/internal/domain"

	"github.com/stretchr/testify/mock"
)

// MockCrudRepo is a mock for domain.CrudRepo
type MockCrudRepo struct {
	mock.Mock
}

func (m *MockCrudRepo) NextTransaction(ctx context.Context) (*domain.CrudTransaction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CrudTransaction), args.Error(1)
}

func (m *MockCrudRepo) Batch(ctx context.Context, limit int) (*domain.CrudBatch, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CrudBatch), args.Error(1)
}

func (m *MockCrudRepo) Pending(ctx context.Context) ([]domain.CrudEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CrudEntry), args.Error(1)
}

func (m *MockCrudRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockSyncService is a mock for syncService
type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) Trigger() {
	m.Called()
}

func (m *MockSyncService) Credentials() *domain.Credentials {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*domain.Credentials)
}

// MockLogLevelSetter is a mock for logLevelSetter
type MockLogLevelSetter struct {
	mock.Mock
}

func (m *MockLogLevelSetter) SetLogLevel(level string) {
	m.Called(level)
}

type MockCheckpointReader struct {
	mock.Mock
}

func (m *MockCheckpointReader) WriteCheckpoint(ctx context.Context) (*string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}
