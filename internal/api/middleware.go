package api

import (
	"net/http"
	"strconv"

	"github.com/shehryarbajwa/checkin-mini/internal/ratelimit"
)

// RateLimitHeaders reports the remaining manual-trigger budget on
// responses. Enforcement happens at the orchestrator chokepoint, where
// scheduled triggers are limited too; the middleware only surfaces the
// budget to API clients.
func RateLimitHeaders(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokens := limiter.Tokens("manual")
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}
