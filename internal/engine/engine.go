// Package engine provides the pipeline that connects signal producers to the
// allocator and the execution dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/execution"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/risk"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
)

// ErrAlreadyRunning is returned by Start and AddProducer on a running pipeline.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Config holds pipeline configuration.
type Config struct {
	QueueCapacity     int
	DefaultTTL        time.Duration // applied to signals with TTL 0
	ReconcileInterval time.Duration // 0 disables the periodic flat-position sweep
	DecayInterval     time.Duration
	DecayFactor       decimal.Decimal // 0 disables bucket decay
	SampleInterval    time.Duration   // queue depth and bucket gauges
}

// DefaultConfig returns default pipeline config.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     256,
		DefaultTTL:        30 * time.Second,
		ReconcileInterval: 30 * time.Second,
		SampleInterval:    5 * time.Second,
	}
}

// Allocator is the risk side of the pipeline.
type Allocator interface {
	Evaluate(ctx context.Context, sig types.Signal) (*types.SizedOrder, error)
	Cancel(order *types.SizedOrder) decimal.Decimal
	Settle(order *types.SizedOrder)
	ReconcileAll(ctx context.Context) (decimal.Decimal, error)
	RunDecay(ctx context.Context, interval time.Duration, factor decimal.Decimal) error
	Snapshot() risk.Snapshot
}

// Runner is a long-lived task owned by the pipeline, such as a producer or
// the screener. Run returns when ctx is done.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Envelope is a queued signal with its enqueue time.
type Envelope struct {
	Signal     types.Signal
	EnqueuedAt time.Time
}

// Stats holds pipeline counters.
type Stats struct {
	Processed  int64
	Expired    int64
	Rejected   int64
	Executed   int64
	Failed     int64
	QueueDepth int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAlerter sends lifecycle notifications through a.
func WithAlerter(a alerting.Alerter) Option {
	return func(p *Pipeline) { p.alerter = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithScreener runs s alongside the producers.
func WithScreener(s Runner) Option {
	return func(p *Pipeline) { p.screener = s }
}

// Pipeline owns one bounded signal queue, the producers that fill it and the
// single consumer that drains it in order. Pipelines share no state, so
// several can run in one process.
type Pipeline struct {
	cfg      Config
	registry *universe.Registry
	alloc    Allocator
	exec     execution.Executor
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	queue chan Envelope

	mu        sync.Mutex
	running   bool
	producers []Runner
	screener  Runner
	cancel    context.CancelFunc
	startedAt time.Time
	wg        sync.WaitGroup

	processed atomic.Int64
	expired   atomic.Int64
	rejected  atomic.Int64
	executed  atomic.Int64
	failed    atomic.Int64
}

// NewPipeline creates a pipeline around registry, alloc and exec.
func NewPipeline(cfg Config, registry *universe.Registry, alloc Allocator, exec execution.Executor, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.DefaultTTL < 0 {
		cfg.DefaultTTL = 0
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}

	p := &Pipeline{
		cfg:      cfg,
		registry: registry,
		alloc:    alloc,
		exec:     exec,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
		queue:    make(chan Envelope, cfg.QueueCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the universe registry the pipeline's producers read.
func (p *Pipeline) Registry() *universe.Registry { return p.registry }

// AddProducer registers a producer. Producers must be added before Start.
func (p *Pipeline) AddProducer(r Runner) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.producers = append(p.producers, r)
	return nil
}

// Emit enqueues sig. It blocks while the queue is full and returns ctx.Err()
// if ctx is done first.
func (p *Pipeline) Emit(ctx context.Context, sig types.Signal) error {
	env := Envelope{Signal: sig, EnqueuedAt: p.now()}
	select {
	case p.queue <- env:
		return nil
	default:
	}

	p.logger.Debug("signal queue full, producer waiting",
		"strategy", sig.Strategy,
		"symbol", sig.Symbol,
		"capacity", cap(p.queue),
	)
	select {
	case p.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start spawns the producers, the consumer, the screener and the background
// sweeps. It returns immediately.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.startedAt = p.now()
	producers := append([]Runner(nil), p.producers...)
	screener := p.screener
	p.mu.Unlock()

	p.logger.Info("starting pipeline",
		"producers", len(producers),
		"queue_capacity", cap(p.queue),
		"default_ttl", p.cfg.DefaultTTL,
		"screener", screener != nil,
	)

	p.wg.Add(1)
	go p.consume(runCtx)

	for _, r := range producers {
		p.spawn(runCtx, "producer", r)
	}
	if screener != nil {
		p.spawn(runCtx, "screener", screener)
	}

	if p.cfg.DecayFactor.IsPositive() && p.cfg.DecayInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.alloc.RunDecay(runCtx, p.cfg.DecayInterval, p.cfg.DecayFactor)
		}()
	}

	if p.cfg.ReconcileInterval > 0 {
		p.wg.Add(1)
		go p.reconcileLoop(runCtx)
	}

	p.wg.Add(1)
	go p.sampleLoop(runCtx)

	p.notify(ctx, alerting.EventPipelineStarted, "pipeline started",
		"producers", len(producers),
		"queue_capacity", cap(p.queue),
	)
	return nil
}

// spawn runs r until ctx is done, containing panics and unexpected returns.
func (p *Pipeline) spawn(ctx context.Context, kind string, r Runner) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				p.recorder.RecordError(kind + "_panic")
				p.logger.Error("task panicked", "kind", kind, "name", r.Name(), "panic", rec)
			}
		}()

		err := r.Run(ctx)
		if err != nil && ctx.Err() == nil {
			p.recorder.RecordError(kind + "_exit")
			p.logger.Error("task exited", "kind", kind, "name", r.Name(), "err", err)
		}
	}()
}

// consume drains the queue in order until ctx is done.
func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()

	p.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			if n := len(p.queue); n > 0 {
				p.logger.Info("consumer stopped with queued signals", "discarded", n)
			} else {
				p.logger.Info("consumer stopped")
			}
			return
		case env := <-p.queue:
			p.process(ctx, env)
		}
	}
}

// process handles one envelope: latency, TTL, allocation, dispatch.
func (p *Pipeline) process(ctx context.Context, env Envelope) {
	sig := env.Signal
	now := p.now()
	p.processed.Add(1)
	p.recorder.RecordSignalLatency(sig.Strategy, now.Sub(env.EnqueuedAt))

	ttl := sig.TTL
	if ttl == 0 {
		ttl = p.cfg.DefaultTTL
	}
	if sig.Expired(ttl, env.EnqueuedAt, now) {
		p.expired.Add(1)
		p.recorder.RecordSignalExpired(sig.Strategy)
		p.logger.Debug("signal expired",
			"signal_id", sig.ID,
			"strategy", sig.Strategy,
			"symbol", sig.Symbol,
			"age", now.Sub(env.EnqueuedAt),
			"ttl", ttl,
		)
		return
	}

	order, err := p.alloc.Evaluate(ctx, sig)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrAllocationRejected):
			p.rejected.Add(1)
		case ctx.Err() != nil:
		default:
			p.failed.Add(1)
			p.recorder.RecordError("evaluate")
			p.logger.Error("evaluate failed", "signal_id", sig.ID, "err", err)
		}
		return
	}

	p.dispatch(ctx, order)
}

// dispatch executes order. Any error or panic releases the reservation; a
// success settles it so the flat-position sweep may later release it.
// Execution is detached from ctx so shutdown lets an in-flight order finish.
func (p *Pipeline) dispatch(ctx context.Context, order *types.SizedOrder) {
	defer func() {
		if rec := recover(); rec != nil {
			released := p.alloc.Cancel(order)
			p.failed.Add(1)
			p.recorder.RecordError("dispatch_panic")
			p.logger.Error("dispatch panicked",
				"client_order_id", order.ClientOrderID,
				"released", released,
				"panic", fmt.Sprint(rec),
			)
		}
	}()

	res, err := p.exec.Execute(context.WithoutCancel(ctx), *order)
	if err != nil {
		p.alloc.Cancel(order)
		if res != nil && res.Status == types.ExecutionRejected {
			p.rejected.Add(1)
		} else {
			p.failed.Add(1)
		}
		return
	}
	p.alloc.Settle(order)
	p.executed.Add(1)
}

func (p *Pipeline) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.alloc.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("reconcile sweep failed", "err", err)
			}
		}
	}
}

func (p *Pipeline) sampleLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Pipeline) sample() {
	p.recorder.RecordQueueDepth(len(p.queue))
	p.recorder.RecordHeartbeat()

	snap := p.alloc.Snapshot()
	for _, b := range snap.Buckets {
		p.recorder.RecordBucket(b.Name, b.Usage, b.Headroom)
	}
	for name, s := range snap.Strategies {
		p.recorder.RecordOpenPositions(name, s.OpenPositions)
	}
}

// Stop cancels every task and waits for them, bounded by ctx. An in-flight
// dispatch runs to completion.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	startedAt := p.startedAt
	p.mu.Unlock()

	p.logger.Info("stopping pipeline")
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("wait for tasks: %w", ctx.Err())
	}

	stats := p.Stats()
	summary := alerting.RunSummary{
		StartedAt: startedAt,
		StoppedAt: p.now(),
		Processed: stats.Processed,
		Executed:  stats.Executed,
		Rejected:  stats.Rejected,
		Expired:   stats.Expired,
		Failed:    stats.Failed,
	}
	p.notify(ctx, alerting.EventPipelineStopped, "pipeline stopped", summary.Fields()...)
	p.logger.Info("pipeline stopped", summary.Fields()...)
	return err
}

// IsRunning returns true if the pipeline is running.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Expired:    p.expired.Load(),
		Rejected:   p.rejected.Load(),
		Executed:   p.executed.Load(),
		Failed:     p.failed.Load(),
		QueueDepth: len(p.queue),
	}
}

// HealthCheck reports the pipeline as unhealthy when stopped and degraded
// while the queue is full.
func (p *Pipeline) HealthCheck() metrics.Check {
	if !p.IsRunning() {
		return metrics.Check{Status: metrics.StatusUnhealthy, Message: "pipeline not running"}
	}
	if depth := len(p.queue); depth >= cap(p.queue) {
		return metrics.Check{Status: metrics.StatusDegraded, Message: fmt.Sprintf("signal queue full (%d)", depth)}
	}
	return metrics.Check{Status: metrics.StatusHealthy}
}

func (p *Pipeline) notify(ctx context.Context, event alerting.AlertEvent, msg string, fields ...any) {
	if err := alerting.Notify(context.WithoutCancel(ctx), p.alerter, event, msg, fields...); err != nil {
		p.logger.Warn("failed to send alert", "event", string(event), "err", err)
	}
}
