package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/wager-settlement/internal/ledger"
	"github.com/example/wager-settlement/internal/money"
	"github.com/example/wager-settlement/internal/security"
	"github.com/example/wager-settlement/internal/settlement"
	"github.com/example/wager-settlement/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Settler is the slice of the settlement service the HTTP layer needs.
type Settler interface {
	CreateIntent(ctx context.Context, req settlement.CreateIntentRequest) (*settlement.OrderHandle, error)
	Capture(ctx context.Context, orderID string) (*ledger.Outcome, error)
	Balance(ctx context.Context, accountID string) (money.Amount, error)
	Transactions(ctx context.Context, accountID string, limit int) ([]ledger.Transaction, error)
}

type Dependencies struct {
	Logger      *slog.Logger
	Settler     Settler
	Auditor     Auditor
	RateLimiter *security.RedisTokenBucket

	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(Metrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(security.RateLimitMiddleware(deps.RateLimiter, rateLimitKeyByIP))
		}
		if deps.Auditor != nil {
			r.Use(AuditMiddleware(deps.Auditor))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", handleCreateOrder(deps))
			r.Post("/{orderID}/capture", handleCapture(deps))
		})

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/balance", handleBalance(deps))
			r.Get("/transactions", handleTransactions(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
	})

	return r
}

func rateLimitKeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	return "ip:" + host
}
