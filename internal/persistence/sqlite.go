package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS universe_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy TEXT NOT NULL,
			version INTEGER NOT NULL,
			symbols TEXT NOT NULL,
			recorded_at DATETIME NOT NULL,
			UNIQUE(strategy, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_universe_strategy ON universe_snapshots(strategy)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT UNIQUE NOT NULL,
			signal_id TEXT,
			strategy TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			market TEXT NOT NULL,
			bucket TEXT NOT NULL,
			status TEXT NOT NULL,
			notional TEXT NOT NULL,
			margin_fraction TEXT NOT NULL,
			requested_leverage INTEGER,
			applied_leverage INTEGER,
			filled_qty TEXT NOT NULL DEFAULT '0',
			avg_price TEXT NOT NULL DEFAULT '0',
			stop_attached INTEGER NOT NULL DEFAULT 0,
			take_profit_attached INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			finished_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_strategy ON executions(strategy)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_finished_at ON executions(finished_at)`,

		`CREATE TABLE IF NOT EXISTS leverage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT,
			symbol TEXT NOT NULL,
			requested INTEGER NOT NULL,
			applied INTEGER NOT NULL,
			mismatch INTEGER NOT NULL DEFAULT 0,
			at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leverage_at ON leverage_events(at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveUniverseSnapshot saves a universe version. Re-saving the same
// strategy and version replaces the symbol list.
func (r *SQLiteRepository) SaveUniverseSnapshot(ctx context.Context, snapshot UniverseSnapshot) error {
	symbols, err := json.Marshal(snapshot.Symbols)
	if err != nil {
		return fmt.Errorf("encode symbols: %w", err)
	}
	if snapshot.RecordedAt.IsZero() {
		snapshot.RecordedAt = time.Now()
	}

	query := `INSERT INTO universe_snapshots (strategy, version, symbols, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy, version) DO UPDATE SET
			symbols = excluded.symbols,
			recorded_at = excluded.recorded_at`

	_, err = r.db.ExecContext(ctx, query,
		snapshot.Strategy,
		int64(snapshot.Version),
		string(symbols),
		snapshot.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert universe snapshot: %w", err)
	}

	return nil
}

// GetLatestUniverse returns the highest recorded version for a strategy,
// or nil if none exists.
func (r *SQLiteRepository) GetLatestUniverse(ctx context.Context, strategy string) (*UniverseSnapshot, error) {
	snaps, err := r.GetUniverseHistory(ctx, strategy, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetUniverseHistory returns universe versions for a strategy, newest first.
func (r *SQLiteRepository) GetUniverseHistory(ctx context.Context, strategy string, limit int) ([]UniverseSnapshot, error) {
	query := `SELECT id, strategy, version, symbols, recorded_at
		FROM universe_snapshots WHERE strategy = ? ORDER BY version DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("query universe history: %w", err)
	}
	defer rows.Close()

	var snaps []UniverseSnapshot
	for rows.Next() {
		var s UniverseSnapshot
		var version int64
		var symbols string
		if err := rows.Scan(&s.ID, &s.Strategy, &version, &symbols, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan universe snapshot: %w", err)
		}
		s.Version = uint64(version)
		if err := json.Unmarshal([]byte(symbols), &s.Symbols); err != nil {
			return nil, fmt.Errorf("decode symbols: %w", err)
		}
		snaps = append(snaps, s)
	}

	return snaps, rows.Err()
}

// SaveExecution saves an execution outcome. A second save for the same
// client order ID overwrites the first.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, exec ExecutionRecord) error {
	query := `INSERT INTO executions (client_order_id, signal_id, strategy, symbol, side, market, bucket, status,
			notional, margin_fraction, requested_leverage, applied_leverage, filled_qty, avg_price,
			stop_attached, take_profit_attached, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			status = excluded.status,
			applied_leverage = excluded.applied_leverage,
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			stop_attached = excluded.stop_attached,
			take_profit_attached = excluded.take_profit_attached,
			error = excluded.error,
			finished_at = excluded.finished_at`

	_, err := r.db.ExecContext(ctx, query,
		exec.ClientOrderID,
		nullString(exec.SignalID),
		exec.Strategy,
		exec.Symbol,
		exec.Side,
		exec.Market,
		exec.Bucket,
		exec.Status,
		exec.Notional.String(),
		exec.MarginFraction.String(),
		nullInt(exec.RequestedLeverage),
		nullInt(exec.AppliedLeverage),
		exec.FilledQty.String(),
		exec.AvgPrice.String(),
		boolToInt(exec.StopAttached),
		boolToInt(exec.TakeProfitAttached),
		nullString(exec.Error),
		exec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

const executionColumns = `id, client_order_id, signal_id, strategy, symbol, side, market, bucket, status,
	notional, margin_fraction, requested_leverage, applied_leverage, filled_qty, avg_price,
	stop_attached, take_profit_attached, error, finished_at`

// GetExecution returns the execution for a client order ID, or nil if none exists.
func (r *SQLiteRepository) GetExecution(ctx context.Context, clientOrderID string) (*ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE client_order_id = ?`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, clientOrderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return exec, nil
}

// GetExecutions returns executions finished within a time range.
func (r *SQLiteRepository) GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE finished_at >= ? AND finished_at <= ? ORDER BY finished_at ASC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// GetExecutionsByStrategy returns the most recent executions for a strategy.
func (r *SQLiteRepository) GetExecutionsByStrategy(ctx context.Context, strategy string, limit int) ([]ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE strategy = ? ORDER BY finished_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions by strategy: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// SaveLeverageEvent saves a leverage check.
func (r *SQLiteRepository) SaveLeverageEvent(ctx context.Context, event LeverageEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	query := `INSERT INTO leverage_events (client_order_id, symbol, requested, applied, mismatch, at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		nullString(event.ClientOrderID),
		event.Symbol,
		event.Requested,
		event.Applied,
		boolToInt(event.Mismatch),
		event.At,
	)
	if err != nil {
		return fmt.Errorf("insert leverage event: %w", err)
	}

	return nil
}

// GetLeverageMismatches returns mismatched leverage events within a time range.
func (r *SQLiteRepository) GetLeverageMismatches(ctx context.Context, from, to time.Time) ([]LeverageEvent, error) {
	query := `SELECT id, client_order_id, symbol, requested, applied, mismatch, at
		FROM leverage_events WHERE mismatch = 1 AND at >= ? AND at <= ? ORDER BY at ASC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query leverage events: %w", err)
	}
	defer rows.Close()

	var events []LeverageEvent
	for rows.Next() {
		var e LeverageEvent
		var clientOrderID sql.NullString
		var mismatch int
		if err := rows.Scan(&e.ID, &clientOrderID, &e.Symbol, &e.Requested, &e.Applied, &mismatch, &e.At); err != nil {
			return nil, fmt.Errorf("scan leverage event: %w", err)
		}
		e.ClientOrderID = clientOrderID.String
		e.Mismatch = mismatch == 1
		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var e ExecutionRecord
	var signalID, errText sql.NullString
	var requested, applied sql.NullInt64
	var notional, margin, filledQty, avgPrice string
	var stop, tp int

	err := row.Scan(
		&e.ID,
		&e.ClientOrderID,
		&signalID,
		&e.Strategy,
		&e.Symbol,
		&e.Side,
		&e.Market,
		&e.Bucket,
		&e.Status,
		&notional,
		&margin,
		&requested,
		&applied,
		&filledQty,
		&avgPrice,
		&stop,
		&tp,
		&errText,
		&e.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	e.SignalID = signalID.String
	e.Error = errText.String
	e.Notional, _ = decimal.NewFromString(notional)
	e.MarginFraction, _ = decimal.NewFromString(margin)
	e.FilledQty, _ = decimal.NewFromString(filledQty)
	e.AvgPrice, _ = decimal.NewFromString(avgPrice)
	e.RequestedLeverage = intPtr(requested)
	e.AppliedLeverage = intPtr(applied)
	e.StopAttached = stop == 1
	e.TakeProfitAttached = tp == 1

	return &e, nil
}

func collectExecutions(rows *sql.Rows) ([]ExecutionRecord, error) {
	var execs []ExecutionRecord
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
