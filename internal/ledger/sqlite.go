package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/wager-settlement/internal/money"
)

// SQLiteStore is the embedded Store backend used for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the balance and transaction tables if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS account_balances (
			account_id TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL CHECK (balance >= 0)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			type        TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			status      TEXT NOT NULL,
			reference   TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_account_idx ON transactions (account_id, created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("migrating ledger tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Balance(ctx context.Context, accountID string) (money.Amount, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM account_balances WHERE account_id = ?", accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return money.Amount(balance), nil
}

func (s *SQLiteStore) SetBalance(ctx context.Context, accountID string, balance money.Amount) error {
	if balance < 0 {
		return ErrNegativeBalance
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, balance) VALUES (?, ?)
		ON CONFLICT (account_id) DO UPDATE SET balance = excluded.balance
	`, accountID, int64(balance))
	if err != nil {
		return fmt.Errorf("writing balance: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, txn *Transaction) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, type, amount, status, reference, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO NOTHING
	`, txn.ID, txn.AccountID, string(txn.Type), int64(txn.Amount), txn.Status, txn.Reference, txn.Description, txn.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("appending transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLiteStore) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	var txn Transaction
	var typ string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, type, amount, status, reference, description, created_at
		FROM transactions WHERE reference = ?
	`, reference).Scan(
		&txn.ID, &txn.AccountID, &typ, &txn.Amount, &txn.Status,
		&txn.Reference, &txn.Description, &txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying transaction: %w", err)
	}
	txn.Type = TransactionType(typ)
	return &txn, nil
}

func (s *SQLiteStore) TransactionsByAccount(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, type, amount, status, reference, description, created_at
		FROM transactions WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
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
