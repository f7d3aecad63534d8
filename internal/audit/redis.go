package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	universeChannelPrefix = "universe."
	universeKeyPrefix     = "universe:latest:"
	executionKeyPrefix    = "executions:"
	leverageChannel       = "leverage.mismatch"

	// DefaultExecutionHistory bounds each strategy's execution list.
	DefaultExecutionHistory = 1000
)

var _ Sink = (*RedisSink)(nil)

// RedisSink publishes universe versions on universe.<strategy> and keeps the
// latest under universe:latest:<strategy>. Executions are pushed onto a
// capped list per strategy. Leverage mismatches are published.
type RedisSink struct {
	client  *redis.Client
	history int64
}

// NewRedisSink wraps client. history <= 0 uses DefaultExecutionHistory.
func NewRedisSink(client *redis.Client, history int) *RedisSink {
	if history <= 0 {
		history = DefaultExecutionHistory
	}
	return &RedisSink{client: client, history: int64(history)}
}

// UniverseChannel returns the pub/sub channel for strategy.
func UniverseChannel(strategy string) string { return universeChannelPrefix + strategy }

// UniverseKey returns the key holding the latest universe for strategy.
func UniverseKey(strategy string) string { return universeKeyPrefix + strategy }

// ExecutionKey returns the list key holding recent executions for strategy.
func ExecutionKey(strategy string) string { return executionKeyPrefix + strategy }

func (r *RedisSink) RecordUniverse(ctx context.Context, snap UniverseSnapshot) error {
	if snap.Symbols == nil {
		snap.Symbols = []string{}
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, UniverseKey(snap.Strategy), payload, 0)
	pipe.Publish(ctx, UniverseChannel(snap.Strategy), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish universe: %w", err)
	}
	return nil
}

func (r *RedisSink) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode execution: %w", err)
	}

	key := ExecutionKey(rec.Strategy)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, r.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push execution: %w", err)
	}
	return nil
}

func (r *RedisSink) RecordLeverage(ctx context.Context, ev LeverageEvent) error {
	if !ev.Mismatch {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode leverage event: %w", err)
	}
	if err := r.client.Publish(ctx, leverageChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish leverage event: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
