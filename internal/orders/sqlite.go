package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded Store backend used for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the order_intents table if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_intents (
			order_id               TEXT PRIMARY KEY,
			beneficiary_account_id TEXT NOT NULL,
			amount                 INTEGER NOT NULL,
			currency               TEXT NOT NULL,
			description            TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL,
			created_at             TIMESTAMP NOT NULL,
			captured_at            TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("migrating order_intents: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, intent *Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_intents (order_id, beneficiary_account_id, amount, currency, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, intent.OrderID, intent.BeneficiaryID, int64(intent.Amount), intent.Currency, intent.Description, string(intent.Status), intent.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrConflict
		}
		return fmt.Errorf("inserting order intent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*Intent, error) {
	var intent Intent
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, beneficiary_account_id, amount, currency, description, status, created_at, captured_at
		FROM order_intents WHERE order_id = ?
	`, orderID).Scan(
		&intent.OrderID, &intent.BeneficiaryID, &intent.Amount, &intent.Currency,
		&intent.Description, &status, &intent.CreatedAt, &intent.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying order intent: %w", err)
	}
	intent.Status = Status(status)
	return &intent, nil
}

func (s *SQLiteStore) MarkCaptured(ctx context.Context, orderID string, capturedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_intents SET status = ?, captured_at = ?
		WHERE order_id = ? AND status = ?
	`, string(StatusCaptured), capturedAt, orderID, string(StatusCreated))
	if err != nil {
		return fmt.Errorf("marking order captured: %w", err)
	}
	return s.classifyNoRows(ctx, orderID, res)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_intents SET status = ?
		WHERE order_id = ? AND status = ?
	`, string(StatusFailed), orderID, string(StatusCreated))
	if err != nil {
		return fmt.Errorf("marking order failed: %w", err)
	}
	return s.classifyNoRows(ctx, orderID, res)
}

func (s *SQLiteStore) classifyNoRows(ctx context.Context, orderID string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, orderID); err != nil {
		return err
	}
	return ErrAlreadyFinal
}

func (s *SQLiteStore) FindStaleCreated(ctx context.Context, olderThan time.Duration, limit int) ([]Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, beneficiary_account_id, amount, currency, description, status, created_at, captured_at
		FROM order_intents
		WHERE status = ? AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`, string(StatusCreated), time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale intents: %w", err)
	}
	defer rows.Close()

	var intents []Intent
	for rows.Next() {
		var intent Intent
		var status string
		if err := rows.Scan(
			&intent.OrderID, &intent.BeneficiaryID, &intent.Amount, &intent.Currency,
			&intent.Description, &status, &intent.CreatedAt, &intent.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning stale intent: %w", err)
		}
		intent.Status = Status(status)
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
