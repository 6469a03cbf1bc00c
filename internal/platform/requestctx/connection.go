// Package requestctx carries per-connection identity through context.
package requestctx

import "context"

type connectionIDContextKey struct{}

// WithConnectionID stores the transport-assigned connection id in context.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, connectionIDContextKey{}, connectionID)
}

// ConnectionIDFromContext returns the connection id stored in context, or "".
func ConnectionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(connectionIDContextKey{}).(string)
	return value
}
