package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the primary Store backend.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Migrate creates the order_intents table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS order_intents (
			order_id               TEXT PRIMARY KEY,
			beneficiary_account_id TEXT NOT NULL,
			amount                 BIGINT NOT NULL,
			currency               TEXT NOT NULL,
			description            TEXT NOT NULL DEFAULT '',
			status                 TEXT NOT NULL,
			created_at             TIMESTAMPTZ NOT NULL,
			captured_at            TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("migrating order_intents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO order_intents (order_id, beneficiary_account_id, amount, currency, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, intent.OrderID, intent.BeneficiaryID, int64(intent.Amount), intent.Currency, intent.Description, string(intent.Status), intent.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("inserting order intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Intent, error) {
	var intent Intent
	var status string
	err := s.Pool.QueryRow(ctx, `
		SELECT order_id, beneficiary_account_id, amount, currency, description, status, created_at, captured_at
		FROM order_intents WHERE order_id = $1
	`, orderID).Scan(
		&intent.OrderID, &intent.BeneficiaryID, &intent.Amount, &intent.Currency,
		&intent.Description, &status, &intent.CreatedAt, &intent.CapturedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying order intent: %w", err)
	}
	intent.Status = Status(status)
	return &intent, nil
}

// MarkCaptured performs the exclusive Created->Captured transition via a
// conditional update; only the first caller's update matches a row.
func (s *PostgresStore) MarkCaptured(ctx context.Context, orderID string, capturedAt time.Time) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE order_intents SET status = $1, captured_at = $2
		WHERE order_id = $3 AND status = $4
	`, string(StatusCaptured), capturedAt, orderID, string(StatusCreated))
	if err != nil {
		return fmt.Errorf("marking order captured: %w", err)
	}
	return s.classifyNoRows(ctx, orderID, tag.RowsAffected())
}

func (s *PostgresStore) MarkFailed(ctx context.Context, orderID string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE order_intents SET status = $1
		WHERE order_id = $2 AND status = $3
	`, string(StatusFailed), orderID, string(StatusCreated))
	if err != nil {
		return fmt.Errorf("marking order failed: %w", err)
	}
	return s.classifyNoRows(ctx, orderID, tag.RowsAffected())
}

func (s *PostgresStore) classifyNoRows(ctx context.Context, orderID string, affected int64) error {
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, orderID); err != nil {
		return err
	}
	return ErrAlreadyFinal
}

func (s *PostgresStore) FindStaleCreated(ctx context.Context, olderThan time.Duration, limit int) ([]Intent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT order_id, beneficiary_account_id, amount, currency, description, status, created_at, captured_at
		FROM order_intents
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
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
