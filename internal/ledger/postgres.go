package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/wager-settlement/internal/money"
)

// PostgresStore is the primary Store backend.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// Migrate creates the balance and transaction tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS account_balances (
			account_id TEXT PRIMARY KEY,
			balance    BIGINT NOT NULL CHECK (balance >= 0)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			type        TEXT NOT NULL,
			amount      BIGINT NOT NULL,
			status      TEXT NOT NULL,
			reference   TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_account_idx ON transactions (account_id, created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("migrating ledger tables: %w", err)
	}
	return nil
}

// Balance returns the spendable balance. Accounts that have never been
// credited report zero rather than an error.
func (s *PostgresStore) Balance(ctx context.Context, accountID string) (money.Amount, error) {
	var balance int64
	err := s.Pool.QueryRow(ctx,
		"SELECT balance FROM account_balances WHERE account_id = $1", accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return money.Amount(balance), nil
}

func (s *PostgresStore) SetBalance(ctx context.Context, accountID string, balance money.Amount) error {
	if balance < 0 {
		return ErrNegativeBalance
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO account_balances (account_id, balance) VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET balance = EXCLUDED.balance
	`, accountID, int64(balance))
	if err != nil {
		return fmt.Errorf("writing balance: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, txn *Transaction) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, status, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO NOTHING
	`, txn.ID, txn.AccountID, string(txn.Type), int64(txn.Amount), txn.Status, txn.Reference, txn.Description, txn.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("appending transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	var txn Transaction
	var typ string
	err := s.Pool.QueryRow(ctx, `
		SELECT id, account_id, type, amount, status, reference, description, created_at
		FROM transactions WHERE reference = $1
	`, reference).Scan(
		&txn.ID, &txn.AccountID, &typ, &txn.Amount, &txn.Status,
		&txn.Reference, &txn.Description, &txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying transaction: %w", err)
	}
	txn.Type = TransactionType(typ)
	return &txn, nil
}

func (s *PostgresStore) TransactionsByAccount(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, account_id, type, amount, status, reference, description, created_at
		FROM transactions WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var txn Transaction
		var typ string
		if err := rows.Scan(
			&txn.ID, &txn.AccountID, &typ, &txn.Amount, &txn.Status,
			&txn.Reference, &txn.Description, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		txn.Type = TransactionType(typ)
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
