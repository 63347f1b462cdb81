package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"stepChallengeAPI/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id, stores a request-scoped logger
// in the context and logs the outcome once the handler returns.
func RequestLogger(base *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLog := base.With("request_id", requestID)
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r.WithContext(logger.IntoContext(r.Context(), reqLog)))

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if actor, ok := GetActor(r.Context()); ok {
				fields = append(fields, "user_id", actor.UserID)
			}
			if ww.statusCode >= http.StatusInternalServerError {
				reqLog.Errorw("request failed", fields...)
			} else {
				reqLog.Infow("request handled", fields...)
			}
		})
	}
}
