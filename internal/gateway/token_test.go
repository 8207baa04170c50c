package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenEndpoint(t *testing.T, fetches *atomic.Int64, expiresIn int64, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-1", user)
		require.Equal(t, "s3cret", pass)

		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"name": "SERVICE_UNAVAILABLE", "message": "down"})
			return
		}

		n := fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenCachedUntilSkewedExpiry(t *testing.T) {
	var fetches atomic.Int64
	srv := tokenEndpoint(t, &fetches, 3600, nil)
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "client-1", "s3cret", nil)

	tok1, err := ts.Token(context.Background())
	require.NoError(t, err)
	tok2, err := ts.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1.Value, tok2.Value)
	assert.Equal(t, int64(1), fetches.Load())
}

func TestTokenRefreshedWhenInsideSkew(t *testing.T) {
	var fetches atomic.Int64
	// expires_in 10s with a 30s skew means the token is never considered
	// fresh, so every call refreshes.
	srv := tokenEndpoint(t, &fetches, 10, nil)
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "client-1", "s3cret", nil)

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), fetches.Load())
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	var fetches atomic.Int64
	srv := tokenEndpoint(t, &fetches, 3600, nil)
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "client-1", "s3cret", nil)

	const callers = 32
	var wg sync.WaitGroup
	tokens := make([]Token, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := ts.Token(context.Background())
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "concurrent callers must share one fetch")
	for _, tok := range tokens {
		assert.Equal(t, tokens[0].Value, tok.Value)
	}
}

func TestFetchFailureSurfacesCredentialError(t *testing.T) {
	var fetches atomic.Int64
	var fail atomic.Bool
	fail.Store(true)
	srv := tokenEndpoint(t, &fetches, 3600, &fail)
	defer srv.Close()

	ts := NewTokenSource(srv.URL, "client-1", "s3cret", nil)

	_, err := ts.Token(context.Background())
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "SERVICE_UNAVAILABLE", apiErr.Code)
}

func TestStaleFallbackOptIn(t *testing.T) {
	var fetches atomic.Int64
	var fail atomic.Bool
	srv := tokenEndpoint(t, &fetches, 10, &fail)
	defer srv.Close()

	strict := NewTokenSource(srv.URL, "client-1", "s3cret", nil)
	lenient := NewTokenSource(srv.URL, "client-1", "s3cret", nil, WithStaleFallback())

	// Seed both with a token that the 30s skew immediately marks expired.
	seeded, err := lenient.Token(context.Background())
	require.NoError(t, err)
	_, err = strict.Token(context.Background())
	require.NoError(t, err)

	fail.Store(true)

	// Strict source propagates the refresh failure.
	_, err = strict.Token(context.Background())
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)

	// Opted-in source serves the previous token as a last resort.
	tok, err := lenient.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, seeded.Value, tok.Value)
}

func TestInvalidateDropsOnlyMatchingToken(t *testing.T) {
	ts := NewTokenSource("http://unused", "id", "secret", nil)
	ts.current = Token{Value: "current", ExpiresAt: time.Now().Add(time.Hour)}

	ts.Invalidate(Token{Value: "other"})
	assert.Equal(t, "current", ts.current.Value)

	ts.Invalidate(Token{Value: "current"})
	assert.Empty(t, ts.current.Value)
}
