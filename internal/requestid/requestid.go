// Package requestid propagates a per-request ID through contexts, HTTP
// headers and log lines.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header carries the request ID on requests and responses.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns l with the request ID of ctx attached, if ctx carries one.
func Logger(ctx context.Context, l zerolog.Logger) *zerolog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		l = l.With().Str("request_id", id).Logger()
	}
	return &l
}

// Middleware reuses an incoming X-Request-ID or mints one, and exposes it
// through the user context, c.Locals("request_id") and the response header.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		ctx := c.UserContext()
		if id == "" {
			ctx, id = New(ctx)
		} else {
			ctx = WithRequestID(ctx, id)
		}
		c.SetUserContext(ctx)
		c.Locals("request_id", id)
		c.Set(Header, id)
		return c.Next()
	}
}
