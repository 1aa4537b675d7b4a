package server

import (
	"context"
	"testing"
	"time"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockScheduler is a mock for scheduler.Service
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Start() { m.Called() }
func (m *MockScheduler) Stop()  { m.Called() }

func (m *MockScheduler) AddJob(job cron.Job, interval time.Duration, identifier string) (int, error) {
	args := m.Called(job, interval, identifier)
	return args.Int(0), args.Error(1)
}

func (m *MockScheduler) AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error) {
	args := m.Called(job, spec, identifier)
	return args.Int(0), args.Error(1)
}

func (m *MockScheduler) RemoveJobByIdentifier(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockScheduler) GetNextRun(id string) (time.Time, error) {
	args := m.Called(id)
	return args.Get(0).(time.Time), args.Error(1)
}

// MockStatusLoader is a mock for statusLoader
type MockStatusLoader struct {
	mock.Mock
}

func (m *MockStatusLoader) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fakeConnector blocks in Connect until its context ends.
type fakeConnector struct {
	connected chan struct{}
	returned  chan struct{}
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{connected: make(chan struct{}), returned: make(chan struct{})}
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	close(f.connected)
	<-ctx.Done()
	close(f.returned)
	return nil
}

func (f *fakeConnector) Disconnect() {}

func TestServer_StartShutdown(t *testing.T) {
	sched := new(MockScheduler)
	sched.On("Start").Return()
	sched.On("Stop").Return()

	loader := new(MockStatusLoader)
	loader.On("Load", mock.Anything).Return(nil)

	conn := newFakeConnector()
	cfg := &domain.Config{Sync: domain.SyncConfig{Endpoint: "https://sync.example.com"}}

	srv := NewServer(logger.Mock(), cfg, sched, loader, conn)
	require.NoError(t, srv.Start())

	select {
	case <-conn.connected:
	case <-time.After(time.Second):
		t.Fatal("sync engine was not connected")
	}

	srv.Shutdown()

	select {
	case <-conn.returned:
	default:
		t.Fatal("Shutdown returned before the sync engine stopped")
	}

	sched.AssertExpectations(t)
	loader.AssertExpectations(t)
}

func TestServer_Start_NoEndpoint(t *testing.T) {
	sched := new(MockScheduler)
	sched.On("Start").Return()
	sched.On("Stop").Return()

	loader := new(MockStatusLoader)
	loader.On("Load", mock.Anything).Return(nil)

	conn := newFakeConnector()

	srv := NewServer(logger.Mock(), &domain.Config{}, sched, loader, conn)
	require.NoError(t, srv.Start())
	srv.Shutdown()

	select {
	case <-conn.connected:
		t.Fatal("connected without an endpoint")
	default:
	}
	sched.AssertExpectations(t)
}

func TestServer_Start_LoadError(t *testing.T) {
	sched := new(MockScheduler)

	loader := new(MockStatusLoader)
	loader.On("Load", mock.Anything).Return(assert.AnError)

	srv := NewServer(logger.Mock(), &domain.Config{}, sched, loader, newFakeConnector())

	assert.ErrorIs(t, srv.Start(), assert.AnError)
	sched.AssertNotCalled(t, "Start")
}
