package events

import (
	"testing"

	"github.com/flurbudurbur/localsync/internal/domain"
	"github.com/flurbudurbur/localsync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEventBus is a mock for EventBus.Bus
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Subscribe(topic string, fn interface{}) error {
	args := m.Called(topic, fn)
	return args.Error(0)
}

func (m *MockEventBus) SubscribeAsync(topic string, fn interface{}, transactional bool) error {
	args := m.Called(topic, fn, transactional)
	return args.Error(0)
}

func (m *MockEventBus) SubscribeOnce(topic string, fn interface{}) error {
	args := m.Called(topic, fn)
	return args.Error(0)
}

func (m *MockEventBus) SubscribeOnceAsync(topic string, fn interface{}) error {
	args := m.Called(topic, fn)
	return args.Error(0)
}

func (m *MockEventBus) Unsubscribe(topic string, handler interface{}) error {
	args := m.Called(topic, handler)
	return args.Error(0)
}

func (m *MockEventBus) Publish(topic string, args ...interface{}) {
	m.Called(append([]interface{}{topic}, args...)...)
}

func (m *MockEventBus) HasCallback(topic string) bool {
	args := m.Called(topic)
	return args.Bool(0)
}

func (m *MockEventBus) WaitAsync() {
	m.Called()
}

// MockUploadTrigger is a mock for UploadTrigger
type MockUploadTrigger struct {
	mock.Mock
}

func (m *MockUploadTrigger) Trigger() {
	m.Called()
}

const handlerType = "func(*domain.TableUpdateEvent)"

func TestNewSubscribers(t *testing.T) {
	log := logger.Mock()
	mockBus := new(MockEventBus)
	mockUploads := new(MockUploadTrigger)

	var capturedHandler interface{}
	mockBus.On("Subscribe", domain.EventTablesUpdated, mock.AnythingOfType(handlerType)).
		Run(func(args mock.Arguments) {
			capturedHandler = args.Get(1)
		}).
		Return(nil)

	_ = NewSubscribers(log, mockBus, mockUploads)

	mockBus.AssertCalled(t, "Subscribe", domain.EventTablesUpdated, mock.AnythingOfType(handlerType))
	require.NotNil(t, capturedHandler, "Handler function should have been captured")

	handlerFunc, ok := capturedHandler.(func(*domain.TableUpdateEvent))
	require.True(t, ok, "Captured handler is not of the expected type")

	mockUploads.On("Trigger").Return()

	// application tables alone do not start an upload
	handlerFunc(&domain.TableUpdateEvent{Tables: domain.NewChangeSet("lists")})
	mockUploads.AssertNotCalled(t, "Trigger")

	handlerFunc(&domain.TableUpdateEvent{Tables: domain.NewChangeSet("lists", "ps_crud")})
	mockUploads.AssertNumberOfCalls(t, "Trigger", 1)

	handlerFunc(nil)
	mockUploads.AssertNumberOfCalls(t, "Trigger", 1)
}

func TestSubscriber_Register_SubscribeError(t *testing.T) {
	log := logger.Mock()
	mockBus := new(MockEventBus)
	mockUploads := new(MockUploadTrigger)

	mockBus.On("Subscribe", domain.EventTablesUpdated, mock.AnythingOfType(handlerType)).Return(assert.AnError)

	assert.NotPanics(t, func() {
		_ = NewSubscribers(log, mockBus, mockUploads)
	})
	mockBus.AssertCalled(t, "Subscribe", domain.EventTablesUpdated, mock.AnythingOfType(handlerType))
}
