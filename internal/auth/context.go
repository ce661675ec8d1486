package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxSystemName ctxKey = iota

func WithSystem(ctx context.Context, systemName string) context.Context {
	return context.WithValue(ctx, ctxSystemName, systemName)
}

// SystemName returns the authenticated agent's telephony system.
func SystemName(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxSystemName).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("system_name not in context")
}
