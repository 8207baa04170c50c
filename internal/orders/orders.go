package orders

import (
	"context"
	"errors"
	"time"

	"github.com/example/wager-settlement/internal/money"
)

// Status of an order intent. Transitions are forward-only: Created moves to
// Captured or Failed exactly once and never back.
type Status string

const (
	StatusCreated  Status = "created"
	StatusCaptured Status = "captured"
	StatusFailed   Status = "failed"
)

// Intent is the durable record of a payment order created with the gateway.
// The amount and beneficiary are fixed at creation; intents are retained
// indefinitely for audit and never deleted.
type Intent struct {
	OrderID       string       `json:"order_id"`
	BeneficiaryID string       `json:"beneficiary_account_id"`
	Amount        money.Amount `json:"amount"`
	Currency      string       `json:"currency"`
	Description   string       `json:"description"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	CapturedAt    *time.Time   `json:"captured_at,omitempty"`
}

var (
	// ErrConflict means an intent with the same order id already exists.
	ErrConflict = errors.New("order intent already exists")
	// ErrNotFound means no intent exists for the order id.
	ErrNotFound = errors.New("order intent not found")
	// ErrAlreadyFinal means another caller won the Created->Captured (or
	// Created->Failed) transition first. For capture this is the
	// idempotence signal, not a failure.
	ErrAlreadyFinal = errors.New("order intent already finalized")
)

// Store is the durable order-intent store. MarkCaptured and MarkFailed are
// atomic and exclusive: exactly one caller observes the fresh transition,
// every other caller gets ErrAlreadyFinal.
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, orderID string) (*Intent, error)
	MarkCaptured(ctx context.Context, orderID string, capturedAt time.Time) error
	MarkFailed(ctx context.Context, orderID string) error

	// FindStaleCreated returns intents still in Created older than the
	// cutoff, for the reconciliation sweep.
	FindStaleCreated(ctx context.Context, olderThan time.Duration, limit int) ([]Intent, error)
}
