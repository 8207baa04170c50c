package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a bearer credential for the payment gateway. It lives only in
// process memory and is shared by every caller of the client.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t Token) valid(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// CredentialError wraps a failure to obtain a gateway credential.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return "gateway credential fetch failed: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TokenSource caches the gateway access credential and refreshes it lazily.
// Concurrent callers that hit an expired credential share a single refresh
// request; they all receive the result of the one in-flight fetch.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	// skew is subtracted from the expiry when deciding whether the cached
	// token is still usable.
	skew time.Duration

	// allowStale keeps the previous, possibly expired token as a last
	// resort when a refresh fails. Off unless explicitly opted into.
	allowStale bool

	mu      sync.Mutex
	current Token
	group   singleflight.Group
}

type TokenSourceOption func(*TokenSource)

// WithExpirySkew overrides the default refresh skew.
func WithExpirySkew(d time.Duration) TokenSourceOption {
	return func(ts *TokenSource) { ts.skew = d }
}

// WithStaleFallback opts into serving the previous token when a refresh
// fails. Callers that set this accept the risk of an auth rejection
// downstream in exchange for availability.
func WithStaleFallback() TokenSourceOption {
	return func(ts *TokenSource) { ts.allowStale = true }
}

func NewTokenSource(baseURL, clientID, clientSecret string, httpClient *http.Client, opts ...TokenSourceOption) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ts := &TokenSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		skew:         30 * time.Second,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// Token returns the cached credential, refreshing it first when expired or
// absent.
func (ts *TokenSource) Token(ctx context.Context) (Token, error) {
	now := time.Now()

	ts.mu.Lock()
	tok := ts.current
	ts.mu.Unlock()
	if tok.valid(now, ts.skew) {
		return tok, nil
	}

	return ts.refresh(ctx, tok)
}

// Invalidate drops the given token from the cache. The client calls this
// when the gateway rejects a credential that has not yet reached its
// recorded expiry.
func (ts *TokenSource) Invalidate(tok Token) {
	ts.mu.Lock()
	if ts.current.Value == tok.Value {
		ts.current = Token{}
	}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context, stale Token) (Token, error) {
	v, err, _ := ts.group.Do("token", func() (any, error) {
		// Another waiter may have already refreshed by the time we get
		// the slot.
		ts.mu.Lock()
		cur := ts.current
		ts.mu.Unlock()
		if cur.valid(time.Now(), ts.skew) {
			return cur, nil
		}

		tok, err := ts.fetch(ctx)
		if err != nil {
			return Token{}, err
		}

		ts.mu.Lock()
		ts.current = tok
		ts.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		if ts.allowStale && stale.Value != "" {
			return stale, nil
		}
		return Token{}, &CredentialError{Err: err}
	}
	return v.(Token), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (ts *TokenSource) fetch(ctx context.Context) (Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, err
	}
	req.SetBasicAuth(ts.clientID, ts.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, readAPIError(resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response missing access_token")
	}

	return Token{
		Value:     tr.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
