package settlement

import (
	"errors"

	"github.com/example/wager-settlement/internal/ledger"
)

// Caller-facing error taxonomy. Gateway and storage failures are classified
// here at the orchestrator boundary; raw transport or SQL errors never
// reach the caller.
var (
	// ErrInvalidInput is a caller error (bad beneficiary, currency, or
	// payload); not retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAmount means the order is below the platform minimum.
	ErrInvalidAmount = errors.New("amount below minimum")
	// ErrGatewayUnavailable is transient; capture may be retried safely
	// because settlement is idempotent.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrUnknownOrder means the order id is stale or was never created
	// here.
	ErrUnknownOrder = ledger.ErrUnknownOrder
	// ErrLedgerFailure is fatal for the request and flags the account for
	// manual reconciliation; the next retry or sweep pass usually heals it.
	ErrLedgerFailure = ledger.ErrLedgerFailure
)
