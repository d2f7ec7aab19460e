package accountctx

import (
	"context"
	"strings"
)

type accountKey struct{}

type requestKey struct{}

// WithAccountID stores the authenticated account ID in the context.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, accountKey{}, accountID)
}

// AccountID returns the account ID from context, if set.
func AccountID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(accountKey{}).(string)
	return id, ok && id != ""
}

// WithRequestID stores the billable request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey{}, requestID)
}

// RequestID returns the billable request ID from context, if set.
func RequestID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestKey{}).(string)
	return id, ok && id != ""
}
