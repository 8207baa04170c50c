package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wager-settlement/internal/ledger"
	"github.com/example/wager-settlement/internal/money"
	"github.com/example/wager-settlement/internal/orders"
	"github.com/example/wager-settlement/internal/settlement"
)

type stubSettler struct {
	createErr  error
	captureErr error
	outcome    *ledger.Outcome

	lastCreate settlement.CreateIntentRequest
	lastOrder  string
}

func (s *stubSettler) CreateIntent(_ context.Context, req settlement.CreateIntentRequest) (*settlement.OrderHandle, error) {
	s.lastCreate = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &settlement.OrderHandle{OrderID: "ORD-1", Status: orders.StatusCreated}, nil
}

func (s *stubSettler) Capture(_ context.Context, orderID string) (*ledger.Outcome, error) {
	s.lastOrder = orderID
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return s.outcome, nil
}

func (s *stubSettler) Balance(context.Context, string) (money.Amount, error) {
	return 2500, nil
}

func (s *stubSettler) Transactions(context.Context, string, int) ([]ledger.Transaction, error) {
	return []ledger.Transaction{{
		ID:        "txn-1",
		AccountID: "acct-1",
		Type:      ledger.TypeDeposit,
		Amount:    2500,
		Status:    "completed",
		Reference: "BAL-ORD-1",
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}}, nil
}

func newTestRouter(s Settler) http.Handler {
	return NewRouter(Dependencies{Settler: s})
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderEndpoint(t *testing.T) {
	stub := &stubSettler{}
	h := newTestRouter(stub)

	rec := post(t, h, "/v1/orders", map[string]string{
		"amount":         "25.00",
		"currency":       "USD",
		"beneficiary_id": "acct-1",
		"description":    "chip top-up",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, money.Amount(2500), stub.lastCreate.Amount)
	assert.Equal(t, "acct-1", stub.lastCreate.BeneficiaryID)

	var resp createOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ORD-1", resp.OrderID)
	assert.Equal(t, "created", resp.Status)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestCreateOrderRejectsMalformedAmount(t *testing.T) {
	stub := &stubSettler{}
	h := newTestRouter(stub)

	for _, amount := range []string{"", "25.005", "-5.00", "abc", ".50"} {
		rec := post(t, h, "/v1/orders", map[string]string{
			"amount": amount, "currency": "USD", "beneficiary_id": "acct-1",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "amount %q", amount)
		assert.Contains(t, rec.Body.String(), "invalid_amount")
	}
	assert.Empty(t, stub.lastCreate.BeneficiaryID, "service not reached")
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{settlement.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
		{settlement.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{settlement.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
	}

	for _, tc := range cases {
		h := newTestRouter(&stubSettler{createErr: tc.err})
		rec := post(t, h, "/v1/orders", map[string]string{
			"amount": "25.00", "currency": "USD", "beneficiary_id": "acct-1",
		})
		assert.Equal(t, tc.wantStatus, rec.Code)
		assert.Contains(t, rec.Body.String(), tc.wantCode)
	}
}

func TestCaptureEndpoint(t *testing.T) {
	stub := &stubSettler{outcome: &ledger.Outcome{
		Kind:          ledger.OutcomeSettled,
		AccountID:     "acct-1",
		NewBalance:    2500,
		TransactionID: "txn-1",
	}}
	h := newTestRouter(stub)

	rec := post(t, h, "/v1/orders/ORD-1/capture", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ORD-1", stub.lastOrder)

	var resp captureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "settled", resp.Result)
	assert.Equal(t, "25.00", resp.NewBalance)
	assert.Equal(t, "txn-1", resp.TransactionID)
}

func TestCaptureFailedOutcome(t *testing.T) {
	stub := &stubSettler{outcome: &ledger.Outcome{Kind: ledger.OutcomeFailed}}
	h := newTestRouter(stub)

	rec := post(t, h, "/v1/orders/ORD-1/capture", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp captureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "failed", resp.Result)
	assert.Empty(t, resp.NewBalance)
}

func TestCaptureErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{settlement.ErrUnknownOrder, http.StatusNotFound, "unknown_order"},
		{settlement.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
		{settlement.ErrLedgerFailure, http.StatusInternalServerError, "ledger_failure"},
	}

	for _, tc := range cases {
		h := newTestRouter(&stubSettler{captureErr: tc.err})
		rec := post(t, h, "/v1/orders/ORD-1/capture", nil)
		assert.Equal(t, tc.wantStatus, rec.Code)
		assert.Contains(t, rec.Body.String(), tc.wantCode)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	h := newTestRouter(&stubSettler{})

	rec := get(h, "/v1/accounts/acct-1/balance")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acct-1", resp.AccountID)
	assert.Equal(t, "25.00", resp.Balance)
}

func TestTransactionsEndpoint(t *testing.T) {
	h := newTestRouter(&stubSettler{})

	rec := get(h, "/v1/accounts/acct-1/transactions?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp transactionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "deposit", resp.Transactions[0].Type)
	assert.Equal(t, "25.00", resp.Transactions[0].Amount)
	assert.Equal(t, "BAL-ORD-1", resp.Transactions[0].Reference)
}

func TestTransactionsRejectsBadLimit(t *testing.T) {
	h := newTestRouter(&stubSettler{})

	rec := get(h, "/v1/accounts/acct-1/transactions?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(&stubSettler{})
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(&stubSettler{})
	rec := get(h, "/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestCorrelationIDPropagates(t *testing.T) {
	h := newTestRouter(&stubSettler{})

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/balance", nil)
	req.Header.Set("X-Correlation-ID", "cid-fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "cid-fixed", rec.Header().Get("X-Correlation-ID"))

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cid-fixed", resp.CorrelationID)
}
