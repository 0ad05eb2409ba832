package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	newHandler := func(limit int) http.Handler {
		l := ratelimit.New(nil, breaker.NewRegistry(zerolog.Nop()), zerolog.Nop())
		mw := ratelimit.Middleware(l, limit, time.Minute, ratelimit.ByClientIP)
		return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}

	t.Run("sets rate limit headers on allowed requests", func(t *testing.T) {
		h := newHandler(3)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "1.2.3.4:9999"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("throttles with 429, Retry-After and a structured body", func(t *testing.T) {
		h := newHandler(1)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "1.2.3.4:9999"

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.JSONEq(t,
			`{"error":{"code":"rate_limited","message":"rate limit of 1 requests per 1m0s exceeded"}}`,
			rec.Body.String())
	})

	t.Run("different client IPs are limited independently", func(t *testing.T) {
		h := newHandler(1)

		first := httptest.NewRequest(http.MethodGet, "/", nil)
		first.RemoteAddr = "1.1.1.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, first)
		require.Equal(t, http.StatusOK, rec.Code)

		second := httptest.NewRequest(http.MethodGet, "/", nil)
		second.RemoteAddr = "2.2.2.2:1000"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, second)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
