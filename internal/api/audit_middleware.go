package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/wager-settlement/internal/security"
)

// AuditMiddleware appends one tamper-evident entry per settlement API call.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)

			cid := security.CorrelationIDFromContext(r.Context())
			a.Append(fmt.Sprintf("cid=%s method=%s path=%s status=%d dur_ms=%d",
				cid, r.Method, r.URL.Path, sw.status, time.Since(start).Milliseconds()))
		})
	}
}
