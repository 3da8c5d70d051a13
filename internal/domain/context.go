package domain

import "context"

type ctxKey string

const (
	threadCtxKey   ctxKey = "thread_id"
	customerCtxKey ctxKey = "customer_id"
)

// ContextWithThreadID returns a new context carrying the thread ID (ULID).
func ContextWithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadCtxKey, threadID)
}

// ThreadIDFromContext extracts the thread ID from the context.
// Returns empty string if not set.
func ThreadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(threadCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithCustomerID returns a new context carrying the customer identity
// that scopes side-effecting tools. Identity is always threaded through the
// call chain explicitly; there is no process-wide session state.
func ContextWithCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerCtxKey, customerID)
}

// CustomerIDFromContext extracts the customer ID from the context.
// Returns empty string if not set.
func CustomerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(customerCtxKey).(string); ok {
		return v
	}
	return ""
}
