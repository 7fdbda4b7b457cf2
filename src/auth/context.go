package auth

import (
	"context"
)

type contextKey string

const OperatorKey contextKey = "operator"

// WithOperator stores the acting operator's name on the context.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, OperatorKey, operator)
}

// GetOperatorFromContext returns the operator name placed by the auth
// middleware, if any.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(OperatorKey).(string)
	if !ok || operator == "" {
		return "", false
	}
	return operator, true
}
