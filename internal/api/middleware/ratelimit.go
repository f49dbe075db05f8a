// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// limitHandler is the shared JSON 429 response.
func limitHandler(window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}
}

// APIRateLimit bounds per-IP request rates with two sliding windows: a
// short burst window and a sustained per-minute window.
func APIRateLimit(rps, burst int) func(http.Handler) http.Handler {
	burstLimit := httprate.Limit(
		burst,
		time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitHandler(time.Second)),
	)
	sustained := httprate.Limit(
		rps*60,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitHandler(time.Minute)),
	)
	return func(next http.Handler) http.Handler {
		return burstLimit(sustained(next))
	}
}
