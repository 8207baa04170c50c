package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/example/wager-settlement/internal/money"
)

// TransactionType classifies a ledger record.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeAdjustment TransactionType = "adjustment"
)

// Transaction is one immutable row of the append-only ledger. Corrections
// are new adjustment records, never edits.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      money.Amount    `json:"amount"`
	Status      string          `json:"status"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Account is a spendable balance, mutated only by the Writer.
type Account struct {
	AccountID string       `json:"account_id"`
	Balance   money.Amount `json:"balance"`
}

var (
	// ErrNotFound means the requested transaction or account is absent.
	ErrNotFound = errors.New("ledger record not found")
	// ErrNegativeBalance guards the non-negative balance invariant.
	ErrNegativeBalance = errors.New("balance would go negative")
)

// Store persists balances and the transaction history. AppendTransaction is
// keyed by the unique reference: a second append with the same reference is
// a no-op reporting inserted=false, never a duplicate row.
type Store interface {
	Balance(ctx context.Context, accountID string) (money.Amount, error)
	SetBalance(ctx context.Context, accountID string, balance money.Amount) error
	AppendTransaction(ctx context.Context, txn *Transaction) (inserted bool, err error)
	TransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	TransactionsByAccount(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}
