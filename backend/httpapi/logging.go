package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"onvifsimple/gover/backend/logging"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// RequestIDFromContext returns the id assigned by Logging, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// WithRequestID stores id for RequestIDFromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// Logging assigns every request a uuid and logs method, path, status and latency.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(WithRequestID(r.Context(), id)))
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			log.Printf("[http] %s %s %s -> %d (%d bytes, %s)", id, r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
			return
		}
		logging.Debugf("[http] %s %s %s -> %d (%d bytes, %s)", id, r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
	})
}
