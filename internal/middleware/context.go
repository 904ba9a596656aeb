package middleware

import (
	"context"
)

// context keys are unexported to avoid collisions
type ctxKey string

const (
	ctxKeyIsHTMX   ctxKey = "is_htmx"
	ctxKeySession  ctxKey = "session"
	ctxKeyLanguage ctxKey = "language"
)

// WithHTMX marks request as HTMX
func WithHTMX(ctx context.Context, is bool) context.Context {
	return context.WithValue(ctx, ctxKeyIsHTMX, is)
}

// IsHTMX returns whether this is an htmx request
func IsHTMX(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyIsHTMX).(bool)
	return v
}

// WithLanguage stores the resolved language code.
func WithLanguage(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, ctxKeyLanguage, code)
}

// Language returns the language resolved for the request, or "".
func Language(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyLanguage).(string)
	return v
}
