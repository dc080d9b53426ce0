package context

import (
	"context"

	"github.com/smallbiznis/mordomozap/internal/tenantcontext"
)

type requestIDKey struct{}

// WithRequestID stores the correlation id of the inbound request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func TenantIDFromContext(ctx context.Context) string {
	tenantID, _ := tenantcontext.TenantIDFromContext(ctx)
	return tenantID
}
