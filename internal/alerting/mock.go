package alerting

import (
	"context"
	"sync"
)

// Captured is one alert seen by a MockAlerter. Event is set when the alert
// was raised through Notify or AlertEvent.
type Captured struct {
	Event    AlertEvent
	Severity Severity
	Message  string
	Fields   []any
}

// MockAlerter records alerts for assertions in tests.
type MockAlerter struct {
	mu       sync.Mutex
	captured []Captured
	err      error
}

// NewMockAlerter returns an empty recorder.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Name() string { return "mock" }

// Alert records the alert and returns the error set by SetError.
func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	event, _ := eventOf(fields)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = append(m.captured, Captured{
		Event:    event,
		Severity: severity,
		Message:  message,
		Fields:   append([]any(nil), fields...),
	})
	return m.err
}

// SetError makes later Alert calls fail with err. The alert is still recorded.
func (m *MockAlerter) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Events returns the event tags in the order they were raised, skipping
// untagged alerts.
func (m *MockAlerter) Events() []AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []AlertEvent
	for _, c := range m.captured {
		if c.Event != "" {
			events = append(events, c.Event)
		}
	}
	return events
}

// HasEvent reports whether an alert tagged with event was raised.
func (m *MockAlerter) HasEvent(event AlertEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.captured {
		if c.Event == event {
			return true
		}
	}
	return false
}

func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

// Last returns the most recent alert.
func (m *MockAlerter) Last() (Captured, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.captured) == 0 {
		return Captured{}, false
	}
	return m.captured[len(m.captured)-1], true
}

// Clear drops everything recorded so far.
func (m *MockAlerter) Clear() {
	m.mu.Lock()
	m.captured = nil
	m.mu.Unlock()
}
