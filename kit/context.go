// Package kit carries the transport-agnostic plumbing shared by the HTTP API
// and the MCP tools: request-scoped context values and the Endpoint
// abstraction both transports dispatch to.
package kit

import "context"

type contextKey string

const (
	OwnerIDKey   contextKey = "kit_owner_id"
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli"
	TraceIDKey   contextKey = "kit_trace_id"
)

func WithOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, id)
}
func GetOwnerID(ctx context.Context) string {
	v, _ := ctx.Value(OwnerIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}
