package alerting

import "context"

// EventFilter drops alerts whose event is not allowed. Alerts sent without
// an event field always pass.
type EventFilter struct {
	next  Alerter
	allow func(AlertEvent) bool
}

// NewEventFilter wraps next so only events accepted by allow are delivered.
func NewEventFilter(next Alerter, allow func(AlertEvent) bool) *EventFilter {
	return &EventFilter{next: next, allow: allow}
}

// Name returns the wrapped alerter's name.
func (f *EventFilter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert when its event is allowed.
func (f *EventFilter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if event, ok := eventOf(fields); ok && f.allow != nil && !f.allow(event) {
		return nil
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

// eventOf reads the event name Notify places first in fields.
func eventOf(fields []any) (AlertEvent, bool) {
	if len(fields) < 2 || fields[0] != "event" {
		return "", false
	}
	s, ok := fields[1].(string)
	return AlertEvent(s), ok
}
