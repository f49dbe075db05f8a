// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ManuGH/gridjam/internal/log"
)

// AccessLog emits one structured log line per request, correlated by the
// chi request id.
func AccessLog() func(http.Handler) http.Handler {
	logger := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str(log.FieldRequestID, chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int(log.FieldStatus, ww.Status()).
				Str(log.FieldRemoteAddr, r.RemoteAddr).
				Int64(log.FieldLatencyMS, time.Since(start).Milliseconds()).
				Msg("request")
		})
	}
}
