package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"optionsBrain/internal/domain"
	"optionsBrain/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository using SQLite. The position
// table is keyed by trade id and holds the legs as a JSON column, so the
// whole table loads back into memory in one query at startup.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/brain.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close() // Close the connection if ping fails
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		trade_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		bias TEXT NOT NULL,
		legs TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		highest_pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		close_order_id TEXT NOT NULL DEFAULT '',
		close_limit REAL NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL,
		filled_at TIMESTAMP DEFAULT NULL,
		close_submitted_at TIMESTAMP DEFAULT NULL,
		retry_after TIMESTAMP DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Save inserts or replaces a position by trade id.
func (r *Repository) Save(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT OR REPLACE INTO positions (
		trade_id, symbol, strategy, bias, legs, entry_price, quantity, highest_pnl,
		status, order_id, close_order_id, close_limit,
		opened_at, filled_at, close_submitted_at, retry_after)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	legs, err := json.Marshal(pos.Legs)
	if err != nil {
		return fmt.Errorf("failed to encode legs for position %s: %w", pos.TradeID, err)
	}

	_, err = r.db.ExecContext(ctx, query,
		pos.TradeID, pos.Symbol, string(pos.Strategy), string(pos.Bias), string(legs),
		pos.EntryPrice, pos.Quantity, pos.HighestPnL,
		string(pos.Status), pos.OrderID, pos.CloseOrderID, pos.CloseLimit,
		pos.OpenedAt, nullTime(pos.FilledAt), nullTime(pos.CloseSubmittedAt), nullTime(pos.RetryAfter))
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w", pos.TradeID, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"tradeID": pos.TradeID, "symbol": pos.Symbol, "status": string(pos.Status)})
	return nil
}

// Delete removes a position by trade id. Deleting a missing position is not
// an error; reconciliation must stay idempotent.
func (r *Repository) Delete(ctx context.Context, tradeID string) error {
	const query = `DELETE FROM positions WHERE trade_id = ?`
	if _, err := r.db.ExecContext(ctx, query, tradeID); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", tradeID, err)
	}
	r.logger.Debug(ctx, "Position deleted", map[string]interface{}{"tradeID": tradeID})
	return nil
}

// LoadAll retrieves every persisted position, oldest first.
func (r *Repository) LoadAll(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT trade_id, symbol, strategy, bias, legs, entry_price, quantity, highest_pnl,
	       status, order_id, close_order_id, close_limit,
	       opened_at, filled_at, close_submitted_at, retry_after
	FROM positions
	ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during LoadAll: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var strategy, bias, status, legs string
	var filledAt, closeSubmittedAt, retryAfter sql.NullTime
	err := s.Scan(
		&p.TradeID, &p.Symbol, &strategy, &bias, &legs, &p.EntryPrice, &p.Quantity, &p.HighestPnL,
		&status, &p.OrderID, &p.CloseOrderID, &p.CloseLimit,
		&p.OpenedAt, &filledAt, &closeSubmittedAt, &retryAfter)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	if err := json.Unmarshal([]byte(legs), &p.Legs); err != nil {
		return nil, fmt.Errorf("failed to decode legs for position %s: %w", p.TradeID, err)
	}
	p.Strategy = domain.Strategy(strategy)
	p.Bias = domain.Bias(bias)
	p.Status = domain.PositionStatus(status)
	if filledAt.Valid {
		p.FilledAt = filledAt.Time
	}
	if closeSubmittedAt.Valid {
		p.CloseSubmittedAt = closeSubmittedAt.Time
	}
	if retryAfter.Valid {
		p.RetryAfter = retryAfter.Time
	}
	return p, nil
}

// nullTime maps the zero time to NULL so restored positions keep zero-value
// semantics for unset timestamps.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
