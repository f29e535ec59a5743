package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/pkg/ratelimit"
)

// EventsKeyHeader carries the shared key of collaborator services.
const EventsKeyHeader = "X-Events-Key"

// EventsKeyMiddleware admits collaborator calls that present the configured
// key. Wrong keys count against the caller's IP.
type EventsKeyMiddleware struct {
	key     []byte
	limiter *ratelimit.KeyAttemptLimiter
}

// NewEventsKeyMiddleware creates the middleware. An empty key rejects every
// call with 404, as if the endpoint did not exist.
func NewEventsKeyMiddleware(key string, limiter *ratelimit.KeyAttemptLimiter) *EventsKeyMiddleware {
	return &EventsKeyMiddleware{key: []byte(key), limiter: limiter}
}

// Require checks the key before calling next.
func (m *EventsKeyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.key) == 0 {
			pkg.ErrorWithMessage(w, http.StatusNotFound, "not found")
			return
		}

		ip := ratelimit.ExtractIP(r)
		if !m.limiter.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(m.limiter.RetryAfterSeconds(ip)))
			pkg.ErrorWithMessage(w, http.StatusTooManyRequests, "too many attempts")
			return
		}

		presented := []byte(r.Header.Get(EventsKeyHeader))
		if subtle.ConstantTimeCompare(presented, m.key) != 1 {
			log.Warn().Str("component", "http").Str("ip", ip).Msg("rejected events call with bad key")
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid events key")
			return
		}

		m.limiter.Reset(ip)
		next.ServeHTTP(w, r)
	})
}
