package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/wager-settlement/internal/gateway"
	"github.com/example/wager-settlement/internal/ledger"
	"github.com/example/wager-settlement/internal/money"
	"github.com/example/wager-settlement/internal/orders"
	"github.com/example/wager-settlement/pkg/audit"
)

// GatewayClient is the slice of the payment gateway the orchestrator needs.
type GatewayClient interface {
	CreateOrder(ctx context.Context, amount money.Amount, currency, description string) (*gateway.OrderHandle, error)
	CaptureOrder(ctx context.Context, orderID string) (*gateway.CaptureResult, error)
}

// Service sequences order creation and capture through the gateway and the
// ledger writer, translating gateway responses into ledger operations.
type Service struct {
	gateway   GatewayClient
	orders    orders.Store
	writer    *ledger.Writer
	auditor   *audit.ChainLogger
	logger    *slog.Logger
	minAmount money.Amount
}

func NewService(gw GatewayClient, orderStore orders.Store, writer *ledger.Writer, auditor *audit.ChainLogger, logger *slog.Logger, minAmount money.Amount) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if auditor == nil {
		auditor = audit.NewChainLogger()
	}
	return &Service{
		gateway:   gw,
		orders:    orderStore,
		writer:    writer,
		auditor:   auditor,
		logger:    logger,
		minAmount: minAmount,
	}
}

// CreateIntentRequest describes a new top-up order.
type CreateIntentRequest struct {
	Amount        money.Amount
	Currency      string
	Description   string
	BeneficiaryID string
}

// OrderHandle is returned to the caller, who completes the payment with
// the gateway out-of-band.
type OrderHandle struct {
	OrderID string         `json:"order_id"`
	Status  orders.Status  `json:"status"`
	Links   []gateway.Link `json:"links,omitempty"`
}

// CreateIntent validates the request, registers the order with the gateway
// and persists the intent as Created.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*OrderHandle, error) {
	if req.Amount < s.minAmount {
		return nil, fmt.Errorf("%w: got %s, minimum %s", ErrInvalidAmount, req.Amount, s.minAmount)
	}
	if req.BeneficiaryID == "" {
		return nil, fmt.Errorf("%w: beneficiary account is required", ErrInvalidInput)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidInput)
	}

	handle, err := s.gateway.CreateOrder(ctx, req.Amount, req.Currency, req.Description)
	if err != nil {
		if errors.Is(err, gateway.ErrAmountBelowMinimum) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return nil, s.classifyGatewayError("create_order", err)
	}

	intent := &orders.Intent{
		OrderID:       handle.ID,
		BeneficiaryID: req.BeneficiaryID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		Status:        orders.StatusCreated,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.orders.Create(ctx, intent); err != nil {
		// The gateway assigns order ids, so a conflict can only be a
		// replay of our own create; the stored intent already matches.
		if !errors.Is(err, orders.ErrConflict) {
			return nil, fmt.Errorf("%w: persisting intent: %v", ErrLedgerFailure, err)
		}
	}

	s.logger.Info("order intent created",
		"order_id", handle.ID,
		"account_id", req.BeneficiaryID,
		"amount", int64(req.Amount),
		"currency", req.Currency,
	)

	return &OrderHandle{OrderID: handle.ID, Status: orders.StatusCreated, Links: handle.Links}, nil
}

// Capture drives an order to settlement. Safe to call any number of times
// for the same order: repeats resolve without error and without
// double-crediting.
func (s *Service) Capture(ctx context.Context, orderID string) (*ledger.Outcome, error) {
	res, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			if apiErr.StatusCode == http.StatusNotFound {
				// Consult our own store before deciding: a stale
				// gateway answer must not hide a settled order.
				if _, gerr := s.orders.Get(ctx, orderID); errors.Is(gerr, orders.ErrNotFound) {
					return nil, ErrUnknownOrder
				}
			}
			if apiErr.AlreadyCaptured() {
				// An earlier attempt captured this order and died
				// before the ledger saw it. Funds moved; the retry
				// must credit, never fail the intent.
				s.logger.Info("gateway reports order already captured",
					"order_id", orderID,
					"code", apiErr.Code,
				)
				return s.settle(ctx, orderID, ledger.Capture{Completed: true})
			}
			// A genuine decline means this order can no longer be
			// captured; the ledger writer records the failure.
			return s.settle(ctx, orderID, ledger.Capture{Completed: false})
		}
		return nil, s.classifyGatewayError("capture_order", err)
	}

	return s.settle(ctx, orderID, ledger.Capture{
		TransactionID: res.TransactionID,
		Completed:     res.Completed,
	})
}

func (s *Service) settle(ctx context.Context, orderID string, capture ledger.Capture) (*ledger.Outcome, error) {
	out, err := s.writer.Settle(ctx, orderID, capture)
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerFailure) {
			s.audit("settlement", orderID, "ledger_failure", err.Error())
		}
		return nil, err
	}

	s.audit("settlement", orderID, string(out.Kind), "")
	return out, nil
}

// classifyGatewayError maps transport, credential and gateway errors onto
// the caller taxonomy, keeping the machine-readable cause in the chain.
func (s *Service) classifyGatewayError(op string, err error) error {
	var credErr *gateway.CredentialError
	if errors.As(err, &credErr) {
		s.logger.Error("gateway credential failure", "op", op, "error", err)
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	s.logger.Warn("gateway call failed", "op", op, "error", err)
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

func (s *Service) audit(event, orderID, outcome, detail string) {
	payload, _ := json.Marshal(map[string]string{
		"event":    event,
		"order_id": orderID,
		"outcome":  outcome,
		"detail":   detail,
	})
	s.auditor.Append(string(payload))
}

// Balance returns the spendable balance for a dashboard read.
func (s *Service) Balance(ctx context.Context, accountID string) (money.Amount, error) {
	return s.writer.Balance(ctx, accountID)
}

// Transactions returns recent history for a dashboard read.
func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error) {
	return s.writer.Transactions(ctx, accountID, limit)
}
