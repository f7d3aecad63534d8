package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MultiAlerter fans each alert out to every channel concurrently. A failing
// channel never stops delivery to the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a fan-out over alerters.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		logger:   logger,
	}
}

// Name implements Alerter.
func (m *MultiAlerter) Name() string { return "multi" }

// AddAlerter registers another channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	m.alerters = append(m.alerters, alerter)
	m.mu.Unlock()
}

// Len returns the number of channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerters)
}

// Alert delivers to every channel and joins the failures, each prefixed
// with its channel name.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := slices.Clone(m.alerters)
	m.mu.RUnlock()

	var (
		g      errgroup.Group
		errMu  sync.Mutex
		failed []error
	)
	for _, a := range alerters {
		g.Go(func() error {
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert channel failed",
					"channel", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errMu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", a.Name(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failed...)
}

// AlertEvent sends event with its default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return Notify(ctx, m, event, message, fields...)
}
