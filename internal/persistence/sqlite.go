package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (creating if needed) the journal at path.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &SQLiteJournal{db: db}

	if err := j.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Migrate runs database migrations.
func (j *SQLiteJournal) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			platform TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			wait_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_platform ON session_events(platform, timestamp)`,

		`CREATE TABLE IF NOT EXISTS account_snapshots (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			platform TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			account_id TEXT NOT NULL DEFAULT '',
			balance TEXT NOT NULL,
			available TEXT NOT NULL,
			frozen TEXT NOT NULL DEFAULT '0',
			margin TEXT NOT NULL DEFAULT '0',
			close_profit TEXT NOT NULL DEFAULT '0',
			floating_pnl TEXT NOT NULL DEFAULT '0',
			open_positions INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_account_snapshots_key ON account_snapshots(platform, account, timestamp)`,
	}

	for _, m := range migrations {
		if _, err := j.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// RecordSessionEvent appends a session event. A blank ID is assigned.
func (j *SQLiteJournal) RecordSessionEvent(ctx context.Context, event SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `INSERT INTO session_events
		(id, timestamp, platform, account, kind, outcome, error, wait_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.Platform,
		event.Account,
		event.Kind,
		event.Outcome,
		event.Error,
		event.Wait.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}

	return nil
}

// GetSessionEvents returns the newest events first. An empty platform matches all.
func (j *SQLiteJournal) GetSessionEvents(ctx context.Context, platform string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, platform, account, kind, outcome, error, wait_ms
		FROM session_events
		WHERE (? = '' OR platform = ?)
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, platform, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var waitMS int64
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Platform, &e.Account, &e.Kind, &e.Outcome, &e.Error, &waitMS); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Wait = time.Duration(waitMS) * time.Millisecond
		events = append(events, e)
	}

	return events, rows.Err()
}

// SaveAccountSnapshot stores an account snapshot. A blank ID is assigned.
func (j *SQLiteJournal) SaveAccountSnapshot(ctx context.Context, snapshot AccountSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}

	query := `INSERT INTO account_snapshots
		(id, timestamp, platform, account, account_id, balance, available, frozen, margin, close_profit, floating_pnl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.Timestamp,
		snapshot.Platform,
		snapshot.Account,
		snapshot.AccountID,
		snapshot.Balance.String(),
		snapshot.Available.String(),
		snapshot.Frozen.String(),
		snapshot.Margin.String(),
		snapshot.CloseProfit.String(),
		snapshot.FloatingPnL.String(),
		snapshot.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("insert account snapshot: %w", err)
	}

	return nil
}

const snapshotColumns = `id, timestamp, platform, account, account_id, balance, available, frozen, margin, close_profit, floating_pnl, open_positions`

// GetLatestAccountSnapshot returns nil, nil when no snapshot exists.
func (j *SQLiteJournal) GetLatestAccountSnapshot(ctx context.Context, platform, account string) (*AccountSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM account_snapshots
		WHERE platform = ? AND account = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1`

	row := j.db.QueryRowContext(ctx, query, platform, account)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// GetAccountHistory returns snapshots in [from, to], oldest first.
func (j *SQLiteJournal) GetAccountHistory(ctx context.Context, platform, account string, from, to time.Time) ([]AccountSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM account_snapshots
		WHERE platform = ? AND account = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`

	rows, err := j.db.QueryContext(ctx, query, platform, account, from, to)
	if err != nil {
		return nil, fmt.Errorf("query account history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []AccountSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (AccountSnapshot, error) {
	var s AccountSnapshot
	var balance, available, frozen, margin, closeProfit, floating string

	err := row.Scan(&s.ID, &s.Timestamp, &s.Platform, &s.Account, &s.AccountID,
		&balance, &available, &frozen, &margin, &closeProfit, &floating, &s.OpenPositions)
	if errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("scan row: %w", err)
	}

	s.Balance, _ = decimal.NewFromString(balance)
	s.Available, _ = decimal.NewFromString(available)
	s.Frozen, _ = decimal.NewFromString(frozen)
	s.Margin, _ = decimal.NewFromString(margin)
	s.CloseProfit, _ = decimal.NewFromString(closeProfit)
	s.FloatingPnL, _ = decimal.NewFromString(floating)

	return s, nil
}

// Ensure SQLiteJournal implements Journal
var _ Journal = (*SQLiteJournal)(nil)
