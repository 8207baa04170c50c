package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/wager-settlement/internal/money"
)

// ErrAmountBelowMinimum is returned before any network call when an order
// is smaller than the configured gateway minimum.
var ErrAmountBelowMinimum = errors.New("amount below gateway minimum")

// APIError is a non-2xx gateway response, surfaced with the machine-readable
// payload the gateway sent rather than swallowed.
type APIError struct {
	StatusCode int
	Code       string `json:"name"`
	Message    string `json:"message"`
	Raw        json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway error %d", e.StatusCode)
}

// Temporary reports whether the failure looks transient (server-side or
// throttling) and is therefore safe to retry at the caller's discretion.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AlreadyCaptured reports whether the rejection means the order was
// captured by an earlier attempt. Funds moved, so callers must settle the
// order as completed rather than fail it.
func (e *APIError) AlreadyCaptured() bool {
	switch e.Code {
	case "ORDER_ALREADY_CAPTURED", "DUPLICATE_INVOICE_ID":
		return true
	}
	return false
}

// OrderHandle is the gateway's reference for a created order. The caller
// completes the payment with the gateway out-of-band using it.
type OrderHandle struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// CaptureResult is the gateway's terminal answer for a capture attempt.
type CaptureResult struct {
	OrderID       string
	TransactionID string
	Status        string
	Completed     bool
}

// Client drives the external payment gateway. It holds no state beyond the
// shared credential source; every call is an outbound HTTP request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *TokenSource
	minAmount  money.Amount
}

func NewClient(baseURL string, creds *TokenSource, minAmount money.Amount, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		minAmount:  minAmount,
	}
}

type createOrderRequest struct {
	Amount      orderAmount `json:"amount"`
	Description string      `json:"description,omitempty"`
}

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// CreateOrder registers a new order with the gateway and returns its handle.
func (c *Client) CreateOrder(ctx context.Context, amount money.Amount, currency, description string) (*OrderHandle, error) {
	if amount < c.minAmount {
		return nil, fmt.Errorf("%w: got %s, minimum %s", ErrAmountBelowMinimum, amount, c.minAmount)
	}

	body := createOrderRequest{
		Amount:      orderAmount{CurrencyCode: currency, Value: amount.String()},
		Description: description,
	}

	var handle OrderHandle
	if err := c.do(ctx, http.MethodPost, "/orders", body, &handle); err != nil {
		return nil, err
	}
	if handle.ID == "" {
		return nil, fmt.Errorf("gateway returned order without id")
	}
	return &handle, nil
}

type captureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CaptureOrder finalizes a previously created order. The call is idempotent
// on the gateway side and safe to repeat for the same order id.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	var resp captureResponse
	if err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/capture", nil, &resp); err != nil {
		return nil, err
	}
	return &CaptureResult{
		OrderID:       orderID,
		TransactionID: resp.ID,
		Status:        resp.Status,
		Completed:     strings.EqualFold(resp.Status, "COMPLETED"),
	}, nil
}

// do issues an authenticated request. On an auth rejection it forces one
// credential refresh and retries the call exactly once.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return err
	}

	status, err := c.doOnce(ctx, method, path, body, out, tok)
	if status == http.StatusUnauthorized {
		c.creds.Invalidate(tok)
		tok, err = c.creds.Token(ctx)
		if err != nil {
			return err
		}
		_, err = c.doOnce(ctx, method, path, body, out, tok)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, tok Token) (int, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, readAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	apiErr := &APIError{StatusCode: resp.StatusCode, Raw: raw}
	_ = json.Unmarshal(raw, apiErr)
	return apiErr
}
