package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway implements just enough of the provider API: token issuance,
// order creation and capture.
type fakeGateway struct {
	t *testing.T

	tokenFetches  atomic.Int64
	orderCreates  atomic.Int64
	captures      atomic.Int64
	rejectedToken string // bearer value to reject with 401

	captureStatus string
}

func (fg *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fg.tokenFetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	authed := func(w http.ResponseWriter, r *http.Request) bool {
		got := r.Header.Get("Authorization")
		if got == "" || got == "Bearer "+fg.rejectedToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"name": "UNAUTHORIZED", "message": "token expired"})
			return false
		}
		return true
	}

	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		fg.orderCreates.Add(1)

		var req createOrderRequest
		require.NoError(fg.t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(fg.t, req.Amount.Value)
		assert.NotEmpty(fg.t, req.Amount.CurrencyCode)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORD-123",
			"status": "CREATED",
			"links": []map[string]string{
				{"href": "https://gateway.example.test/orders/ORD-123", "rel": "self", "method": "GET"},
			},
		})
	})

	mux.HandleFunc("POST /orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		if !authed(w, r) {
			return
		}
		fg.captures.Add(1)

		id := r.PathValue("id")
		if id == "ORD-MISSING" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"name": "RESOURCE_NOT_FOUND", "message": "order not found"})
			return
		}

		status := fg.captureStatus
		if status == "" {
			status = "COMPLETED"
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "TXN-9", "status": status})
	})

	return mux
}

func newTestClient(t *testing.T, fg *fakeGateway) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	creds := NewTokenSource(srv.URL, "client-1", "s3cret", nil)
	return NewClient(srv.URL, creds, 1000, 0), srv
}

func TestCreateOrder(t *testing.T) {
	fg := &fakeGateway{t: t}
	client, _ := newTestClient(t, fg)

	handle, err := client.CreateOrder(context.Background(), 2500, "USD", "chip top-up")
	require.NoError(t, err)

	assert.Equal(t, "ORD-123", handle.ID)
	assert.Equal(t, "CREATED", handle.Status)
	assert.Len(t, handle.Links, 1)
	assert.Equal(t, int64(1), fg.orderCreates.Load())
}

func TestCreateOrderRejectsBelowMinimumBeforeNetwork(t *testing.T) {
	fg := &fakeGateway{t: t}
	client, _ := newTestClient(t, fg)

	_, err := client.CreateOrder(context.Background(), 999, "USD", "too small")
	require.ErrorIs(t, err, ErrAmountBelowMinimum)

	assert.Equal(t, int64(0), fg.orderCreates.Load(), "no network call for rejected amount")
	assert.Equal(t, int64(0), fg.tokenFetches.Load())
}

func TestCaptureOrderCompleted(t *testing.T) {
	fg := &fakeGateway{t: t}
	client, _ := newTestClient(t, fg)

	res, err := client.CaptureOrder(context.Background(), "ORD-123")
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, "ORD-123", res.OrderID)
	assert.Equal(t, "TXN-9", res.TransactionID)
}

func TestCaptureOrderNotCompleted(t *testing.T) {
	fg := &fakeGateway{t: t, captureStatus: "DECLINED"}
	client, _ := newTestClient(t, fg)

	res, err := client.CaptureOrder(context.Background(), "ORD-123")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, "DECLINED", res.Status)
}

func TestAuthFailureForcesOneRefreshAndRetry(t *testing.T) {
	fg := &fakeGateway{t: t}
	srv := httptest.NewServer(fg.handler())
	t.Cleanup(srv.Close)

	creds := NewTokenSource(srv.URL, "client-1", "s3cret", nil)
	client := NewClient(srv.URL, creds, 1000, 0)

	// Pre-seed an expired-on-the-gateway credential that still looks fresh
	// locally, then have the gateway reject it.
	stale, err := creds.Token(context.Background())
	require.NoError(t, err)
	creds.mu.Lock()
	creds.current = Token{Value: "stale-token", ExpiresAt: stale.ExpiresAt}
	creds.mu.Unlock()
	fg.rejectedToken = "stale-token"

	res, err := client.CaptureOrder(context.Background(), "ORD-123")
	require.NoError(t, err)
	assert.True(t, res.Completed)

	// One fetch to seed, one forced refresh after the 401.
	assert.Equal(t, int64(2), fg.tokenFetches.Load())
	assert.Equal(t, int64(1), fg.captures.Load())
}

func TestGatewayErrorPayloadSurfaced(t *testing.T) {
	fg := &fakeGateway{t: t}
	client, _ := newTestClient(t, fg)

	_, err := client.CaptureOrder(context.Background(), "ORD-MISSING")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "RESOURCE_NOT_FOUND", apiErr.Code)
	assert.Equal(t, "order not found", apiErr.Message)
	assert.NotEmpty(t, apiErr.Raw)
	assert.False(t, apiErr.Temporary())
}
