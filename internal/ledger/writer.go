package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/wager-settlement/internal/events"
	"github.com/example/wager-settlement/internal/money"
	"github.com/example/wager-settlement/internal/orders"
)

// Capture is the gateway's terminal answer for an order, as the Writer
// needs it.
type Capture struct {
	TransactionID string
	Completed     bool
}

// OutcomeKind classifies a settlement result.
type OutcomeKind string

const (
	// OutcomeSettled means this call performed the one and only credit.
	OutcomeSettled OutcomeKind = "settled"
	// OutcomeAlreadySettled means an earlier call won the capture
	// transition; the caller should treat this as success.
	OutcomeAlreadySettled OutcomeKind = "already_settled"
	// OutcomeFailed means the gateway reported the capture as not
	// completed; nothing was credited.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the caller-visible result of Settle.
type Outcome struct {
	Kind          OutcomeKind
	AccountID     string
	NewBalance    money.Amount
	TransactionID string
}

var (
	// ErrUnknownOrder means no intent exists for the order id.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrLedgerFailure means a balance or ledger write failed after the
	// capture transition committed. The balance and transaction history
	// may disagree until a retry or the reconciliation sweep heals them.
	ErrLedgerFailure = errors.New("ledger write failure")
)

// Reference derives the unique ledger reference for an order. It is a pure
// function of the immutable order id, so retried settlements collide on the
// reference instead of duplicating credits.
func Reference(orderID string) string {
	return "BAL-" + orderID
}

// Writer applies capture results to balances and the transaction history
// exactly once. All balance mutation in the system flows through it.
type Writer struct {
	orders orders.Store
	store  Store
	events events.Publisher
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWriter(orderStore orders.Store, ledgerStore Store, pub events.Publisher, logger *slog.Logger) *Writer {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		orders: orderStore,
		store:  ledgerStore,
		events: pub,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

// lockAccount serializes balance mutation per account. Different accounts
// proceed independently.
func (w *Writer) lockAccount(accountID string) func() {
	w.mu.Lock()
	l, ok := w.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[accountID] = l
	}
	w.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Settle applies a capture result for the given order. It is safe to call
// any number of times, concurrently or not: exactly one call credits the
// balance and appends the transaction record; every other call for a
// captured order returns OutcomeAlreadySettled, repairing a missing
// transaction record if an earlier attempt was interrupted.
func (w *Writer) Settle(ctx context.Context, orderID string, capture Capture) (*Outcome, error) {
	intent, err := w.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, ErrUnknownOrder
		}
		return nil, fmt.Errorf("loading order intent: %w", err)
	}

	if !capture.Completed {
		return w.settleFailure(ctx, intent)
	}

	unlock := w.lockAccount(intent.BeneficiaryID)
	defer unlock()

	err = w.orders.MarkCaptured(ctx, orderID, time.Now().UTC())
	switch {
	case errors.Is(err, orders.ErrAlreadyFinal):
		return w.reconcile(ctx, intent, capture)
	case errors.Is(err, orders.ErrNotFound):
		return nil, ErrUnknownOrder
	case err != nil:
		return nil, fmt.Errorf("capture transition: %w", err)
	}

	// The transition has committed. From here the credit must run to
	// completion even if the original caller has gone away.
	return w.credit(context.WithoutCancel(ctx), intent, capture)
}

// settleFailure records the gateway's negative answer. No ledger entry is
// written for a failed capture.
func (w *Writer) settleFailure(ctx context.Context, intent *orders.Intent) (*Outcome, error) {
	err := w.orders.MarkFailed(ctx, intent.OrderID)
	if errors.Is(err, orders.ErrAlreadyFinal) {
		// A successful capture already won; a late failure report
		// cannot undo it.
		if cur, gerr := w.orders.Get(ctx, intent.OrderID); gerr == nil && cur.Status == orders.StatusCaptured {
			balance, berr := w.store.Balance(ctx, intent.BeneficiaryID)
			if berr != nil {
				return nil, w.ledgerFailure(intent, "balance read failed", berr)
			}
			return &Outcome{Kind: OutcomeAlreadySettled, AccountID: intent.BeneficiaryID, NewBalance: balance}, nil
		}
	} else if err != nil && !errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("failure transition: %w", err)
	}
	return &Outcome{Kind: OutcomeFailed, AccountID: intent.BeneficiaryID}, nil
}

// credit performs the read-modify-write of the balance and appends the
// transaction record, as one logical unit under the account lock.
func (w *Writer) credit(ctx context.Context, intent *orders.Intent, capture Capture) (*Outcome, error) {
	balance, err := w.store.Balance(ctx, intent.BeneficiaryID)
	if err != nil {
		return nil, w.ledgerFailure(intent, "balance read failed", err)
	}

	newBalance := balance + intent.Amount
	if err := w.store.SetBalance(ctx, intent.BeneficiaryID, newBalance); err != nil {
		return nil, w.ledgerFailure(intent, "balance write failed", err)
	}

	txn := w.newDepositRecord(intent, capture)
	if _, err := w.store.AppendTransaction(ctx, txn); err != nil {
		// Balance is credited but the audit record is missing; the next
		// Settle call for this order repairs it via reconcile.
		return nil, w.ledgerFailure(intent, "transaction append failed after balance write", err)
	}

	w.events.BalanceCredited(events.BalanceCredited{
		AccountID:     intent.BeneficiaryID,
		Amount:        intent.Amount,
		NewBalance:    newBalance,
		OrderID:       intent.OrderID,
		TransactionID: txn.ID,
		OccurredAt:    time.Now().UTC(),
	})

	return &Outcome{
		Kind:          OutcomeSettled,
		AccountID:     intent.BeneficiaryID,
		NewBalance:    newBalance,
		TransactionID: txn.ID,
	}, nil
}

// reconcile handles the already-captured case: the credit happened (or was
// interrupted after the balance write), so the balance is never touched
// again. A missing transaction record is written now; this check is what
// makes interrupted settlements heal on retry.
func (w *Writer) reconcile(ctx context.Context, intent *orders.Intent, capture Capture) (*Outcome, error) {
	cur, err := w.orders.Get(ctx, intent.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reloading order intent: %w", err)
	}
	if cur.Status == orders.StatusFailed {
		return &Outcome{Kind: OutcomeFailed, AccountID: intent.BeneficiaryID}, nil
	}

	txn, err := w.store.TransactionByReference(ctx, Reference(intent.OrderID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, w.ledgerFailure(intent, "reconciliation lookup failed", err)
	}

	if txn == nil {
		txn = w.newDepositRecord(intent, capture)
		if _, err := w.store.AppendTransaction(context.WithoutCancel(ctx), txn); err != nil {
			return nil, w.ledgerFailure(intent, "reconciliation append failed", err)
		}
		w.logger.Info("repaired missing transaction record",
			"order_id", intent.OrderID,
			"account_id", intent.BeneficiaryID,
			"reference", txn.Reference,
		)
	}

	balance, err := w.store.Balance(ctx, intent.BeneficiaryID)
	if err != nil {
		return nil, w.ledgerFailure(intent, "balance read failed", err)
	}

	return &Outcome{
		Kind:          OutcomeAlreadySettled,
		AccountID:     intent.BeneficiaryID,
		NewBalance:    balance,
		TransactionID: txn.ID,
	}, nil
}

func (w *Writer) newDepositRecord(intent *orders.Intent, capture Capture) *Transaction {
	return &Transaction{
		ID:          uuid.NewString(),
		AccountID:   intent.BeneficiaryID,
		Type:        TypeDeposit,
		Amount:      intent.Amount,
		Status:      "completed",
		Reference:   Reference(intent.OrderID),
		Description: fmt.Sprintf("gateway capture %s for order %s", capture.TransactionID, intent.OrderID),
		CreatedAt:   time.Now().UTC(),
	}
}

// ledgerFailure logs the full context of a write failure after capture was
// confirmed. These are never silently dropped: operators get the log line
// and the caller gets ErrLedgerFailure.
func (w *Writer) ledgerFailure(intent *orders.Intent, msg string, err error) error {
	w.logger.Error("ledger failure: "+msg,
		"order_id", intent.OrderID,
		"account_id", intent.BeneficiaryID,
		"amount", int64(intent.Amount),
		"error", err,
	)
	return fmt.Errorf("%w: %s: %v", ErrLedgerFailure, msg, err)
}

// Balance exposes the current spendable balance for dashboard reads.
func (w *Writer) Balance(ctx context.Context, accountID string) (money.Amount, error) {
	return w.store.Balance(ctx, accountID)
}

// Transactions exposes recent history for dashboard reads.
func (w *Writer) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return w.store.TransactionsByAccount(ctx, accountID, limit)
}
