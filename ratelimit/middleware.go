package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the rate-limit identifier from a request.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the caller's IP address.
func ByClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// errorBody is the structured 429 response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Middleware gates requests through the limiter and sets the rate-limit
// response headers on every response, throttled or not.
func Middleware(l *Limiter, limit int, windowSize time.Duration, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ByClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := l.Check(r.Context(), key(r), limit, windowSize)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				var body errorBody
				body.Error.Code = "rate_limited"
				body.Error.Message = fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, windowSize)
				json.NewEncoder(w).Encode(body)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
