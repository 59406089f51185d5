package application

import (
	"context"
	"time"

	"github.com/nireo/usercore/pkg/domain"
)

// Shared mock implementations for testing

// MockLogger provides a mock implementation of domain.Logger for testing
type MockLogger struct {
	logs []string
}

func NewMockLogger() *MockLogger {
	return &MockLogger{
		logs: make([]string, 0),
	}
}

// Structured logging methods
func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.logs = append(m.logs, "DEBUG: "+msg)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.logs = append(m.logs, "INFO: "+msg)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.logs = append(m.logs, "WARN: "+msg)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.logs = append(m.logs, "ERROR: "+msg)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.logs = append(m.logs, "FATAL: "+msg)
}

// Formatted logging methods
func (m *MockLogger) Debugf(format string, args ...any) {
	m.logs = append(m.logs, "DEBUG: "+format)
}

func (m *MockLogger) Infof(format string, args ...any) {
	m.logs = append(m.logs, "INFO: "+format)
}

func (m *MockLogger) Warnf(format string, args ...any) {
	m.logs = append(m.logs, "WARN: "+format)
}

func (m *MockLogger) Errorf(format string, args ...any) {
	m.logs = append(m.logs, "ERROR: "+format)
}

func (m *MockLogger) Fatalf(format string, args ...any) {
	m.logs = append(m.logs, "FATAL: "+format)
}

func (m *MockLogger) GetLogs() []string {
	return m.logs
}

// MockEventDispatcher provides a mock implementation of domain.EventDispatcher for testing
type MockEventDispatcher struct {
	handlers map[domain.EventKind][]domain.EventHandler
}

func NewMockEventDispatcher() *MockEventDispatcher {
	return &MockEventDispatcher{
		handlers: make(map[domain.EventKind][]domain.EventHandler),
	}
}

func (m *MockEventDispatcher) Dispatch(ctx context.Context, envelopes []domain.Envelope) error {
	for _, envelope := range envelopes {
		for _, handler := range m.handlers[envelope.Event().EventType()] {
			if err := handler.Handle(ctx, envelope); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MockEventDispatcher) Subscribe(eventType domain.EventKind, handler domain.EventHandler) error {
	m.handlers[eventType] = append(m.handlers[eventType], handler)
	return nil
}

func (m *MockEventDispatcher) Start() error { return nil }

// MockEnvelope provides a mock implementation of domain.Envelope for testing
type MockEnvelope struct {
	event     domain.Event
	eventID   string
	timestamp time.Time
}

func NewMockEnvelope(event domain.Event) *MockEnvelope {
	return &MockEnvelope{
		event:     event,
		eventID:   "mock-event-id",
		timestamp: time.Now(),
	}
}

func (m *MockEnvelope) Event() domain.Event { return m.event }

func (m *MockEnvelope) Metadata() map[string]interface{} { return make(map[string]interface{}) }

func (m *MockEnvelope) EventID() string { return m.eventID }

func (m *MockEnvelope) Timestamp() time.Time { return m.timestamp }

// MockEventHandler provides a mock implementation of domain.EventHandler for testing
type MockEventHandler struct {
	handleFunc func(context.Context, domain.Envelope) error
	eventTypes []domain.EventKind
}

func NewMockEventHandler(eventTypes []domain.EventKind, handleFunc func(context.Context, domain.Envelope) error) *MockEventHandler {
	return &MockEventHandler{
		handleFunc: handleFunc,
		eventTypes: eventTypes,
	}
}

func (m *MockEventHandler) Handle(ctx context.Context, envelope domain.Envelope) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, envelope)
	}
	return nil
}

func (m *MockEventHandler) EventTypes() []domain.EventKind {
	return m.eventTypes
}
