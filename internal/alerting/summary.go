package alerting

import (
	"time"
)

// RunSummary contains pipeline counters for the stop notification.
type RunSummary struct {
	StartedAt time.Time
	StoppedAt time.Time
	Processed int64
	Executed  int64
	Rejected  int64
	Expired   int64
	Failed    int64
}

// Uptime returns the run duration truncated to seconds.
func (s RunSummary) Uptime() time.Duration {
	if s.StartedAt.IsZero() || s.StoppedAt.Before(s.StartedAt) {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt).Truncate(time.Second)
}

// FillRate returns executed / processed, or 0 when nothing was processed.
func (s RunSummary) FillRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Executed) / float64(s.Processed)
}

// Fields returns the summary as alert key/value pairs.
func (s RunSummary) Fields() []any {
	return []any{
		"uptime", s.Uptime().String(),
		"processed", s.Processed,
		"executed", s.Executed,
		"rejected", s.Rejected,
		"expired", s.Expired,
		"failed", s.Failed,
	}
}
