package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/wager-settlement/internal/gateway"
	"github.com/example/wager-settlement/internal/ledger"
	"github.com/example/wager-settlement/internal/money"
	"github.com/example/wager-settlement/internal/security"
	"github.com/example/wager-settlement/internal/settlement"
)

// Amounts cross the API as decimal strings ("25.00") and live as minor
// units everywhere behind it.

type createOrderRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	BeneficiaryID string `json:"beneficiary_id"`
	Description   string `json:"description"`
}

type createOrderResponse struct {
	CorrelationID string         `json:"correlation_id"`
	OrderID       string         `json:"order_id"`
	Status        string         `json:"status"`
	Links         []gateway.Link `json:"links,omitempty"`
}

type captureResponse struct {
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	Result        string `json:"result"`
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	NewBalance    string `json:"new_balance,omitempty"`
}

type balanceResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccountID     string `json:"account_id"`
	Balance       string `json:"balance"`
}

type transactionView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type transactionsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	AccountID     string            `json:"account_id"`
	Transactions  []transactionView `json:"transactions"`
}

func handleCreateOrder(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		body := http.MaxBytesReader(w, r.Body, deps.MaxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
			return
		}

		amount, err := money.Parse(req.Amount)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "invalid_amount", "amount must be a positive decimal with at most two fraction digits")
			return
		}

		handle, err := deps.Settler.CreateIntent(r.Context(), settlement.CreateIntentRequest{
			Amount:        amount,
			Currency:      req.Currency,
			Description:   req.Description,
			BeneficiaryID: req.BeneficiaryID,
		})
		if err != nil {
			writeSettlementError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, createOrderResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			OrderID:       handle.OrderID,
			Status:        string(handle.Status),
			Links:         handle.Links,
		})
	}
}

func handleCapture(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")
		if orderID == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "missing_order_id", "")
			return
		}

		out, err := deps.Settler.Capture(r.Context(), orderID)
		if err != nil {
			writeSettlementError(w, r, err)
			return
		}

		resp := captureResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			OrderID:       orderID,
			Result:        string(out.Kind),
			Success:       out.Kind != ledger.OutcomeFailed,
			TransactionID: out.TransactionID,
		}
		if resp.Success {
			resp.NewBalance = out.NewBalance.String()
		}
		settlementOutcomes.WithLabelValues(string(out.Kind)).Inc()
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		balance, err := deps.Settler.Balance(r.Context(), accountID)
		if err != nil {
			writeSettlementError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Balance:       balance.String(),
		})
	}
}

func handleTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_limit", "")
				return
			}
			limit = i
		}

		txns, err := deps.Settler.Transactions(r.Context(), accountID, limit)
		if err != nil {
			writeSettlementError(w, r, err)
			return
		}

		views := make([]transactionView, 0, len(txns))
		for _, txn := range txns {
			views = append(views, transactionView{
				ID:          txn.ID,
				Type:        string(txn.Type),
				Amount:      txn.Amount.String(),
				Status:      txn.Status,
				Reference:   txn.Reference,
				Description: txn.Description,
				CreatedAt:   txn.CreatedAt.UTC().Format(time.RFC3339),
			})
		}

		writeJSON(w, r, http.StatusOK, transactionsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Transactions:  views,
		})
	}
}

func writeSettlementError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settlement.ErrInvalidAmount):
		security.WriteJSONError(w, r, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	case errors.Is(err, settlement.ErrInvalidInput):
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, settlement.ErrUnknownOrder):
		security.WriteJSONError(w, r, http.StatusNotFound, "unknown_order", "")
	case errors.Is(err, settlement.ErrGatewayUnavailable):
		security.WriteJSONError(w, r, http.StatusBadGateway, "gateway_unavailable", "payment gateway did not give a definitive answer, retry the capture")
	case errors.Is(err, settlement.ErrLedgerFailure):
		security.WriteJSONError(w, r, http.StatusInternalServerError, "ledger_failure", "capture recorded but the ledger write failed, reconciliation will repair it")
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}
