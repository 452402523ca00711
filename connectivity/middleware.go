package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost wrapper.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			dur := time.Since(start)
			if err != nil {
				logger.ErrorContext(ctx, "connectivity: call failed",
					"duration_ms", dur.Milliseconds(),
					"payload_bytes", len(payload),
					"error", err)
			} else {
				logger.DebugContext(ctx, "connectivity: call ok",
					"duration_ms", dur.Milliseconds(),
					"payload_bytes", len(payload),
					"response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// Timeout bounds each call to d. Zero disables it.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d <= 0 {
				return next(ctx, payload)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Retry retries failed calls with exponential backoff starting at base.
// It stops early when ctx is done.
func Retry(maxRetries int, base time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || attempt == maxRetries {
					break
				}
				wait := base * (1 << uint(attempt))
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying call",
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}

// Recovery converts panics in downstream handlers into *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "connectivity: handler panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// routePolicy is the retry/timeout part of a route's config JSON.
type routePolicy struct {
	TimeoutMs  int64 `json:"timeout_ms"`
	MaxRetries int   `json:"max_retries"`
	BackoffMs  int64 `json:"backoff_ms"`
}

func parseRoutePolicy(cfg json.RawMessage) routePolicy {
	var p routePolicy
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &p)
	}
	if p.BackoffMs <= 0 {
		p.BackoffMs = 200
	}
	return p
}

// policyMiddleware builds the per-route retry and timeout wrappers. The
// timeout applies per attempt.
func policyMiddleware(p routePolicy, logger *slog.Logger) HandlerMiddleware {
	var mws []HandlerMiddleware
	if p.MaxRetries > 0 {
		mws = append(mws, Retry(p.MaxRetries, time.Duration(p.BackoffMs)*time.Millisecond, logger))
	}
	if p.TimeoutMs > 0 {
		mws = append(mws, Timeout(time.Duration(p.TimeoutMs)*time.Millisecond))
	}
	return Chain(mws...)
}
