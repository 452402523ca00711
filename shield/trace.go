package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/rivalwatch/kit"
)

// TraceID assigns a random trace ID to each request, exposes it as
// X-Trace-ID, and stores a request-scoped logger in the context. An incoming
// X-Trace-ID header is reused so a scheduler can correlate its own logs.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 64 {
			id := make([]byte, 8)
			rand.Read(id)
			traceID = hex.EncodeToString(id)
		}

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithTransport(ctx, "http")
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.Info("request", "duration_ms", time.Since(start).Milliseconds())
	})
}
