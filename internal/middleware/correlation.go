package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type scopeKey struct{}

// requestScope is what a request carries into services and logs.
type requestScope struct {
	correlationID string
	submissionID  uint
}

const localCorrelationID = "correlation_id"

// CorrelationID tags each request with X-Correlation-ID (or X-Request-ID), minting a UUID when neither is sent.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get("X-Correlation-ID"))
		if id == "" {
			id = strings.TrimSpace(c.Get("X-Request-ID"))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(localCorrelationID, id)
		c.Set("X-Correlation-ID", id)
		c.SetUserContext(ContextWithCorrelation(c.UserContext(), id))

		return c.Next()
	}
}

func scopeFrom(ctx context.Context) requestScope {
	if ctx == nil {
		return requestScope{}
	}
	scope, _ := ctx.Value(scopeKey{}).(requestScope)
	return scope
}

// ContextWithCorrelation returns ctx carrying the correlation id.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	scope := scopeFrom(ctx)
	scope.correlationID = correlationID
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ContextWithSubmission returns ctx carrying the submission the request is scoped to.
func ContextWithSubmission(ctx context.Context, submissionID uint) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	scope := scopeFrom(ctx)
	scope.submissionID = submissionID
	return context.WithValue(ctx, scopeKey{}, scope)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return scopeFrom(ctx).correlationID
}

func SubmissionIDFromContext(ctx context.Context) uint {
	return scopeFrom(ctx).submissionID
}

// GetCorrelationID returns the correlation identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelationID).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// RequestContext is the context handlers pass to services.
func RequestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if CorrelationIDFromContext(ctx) == "" {
		ctx = ContextWithCorrelation(ctx, GetCorrelationID(c))
	}
	return ctx
}

// RequestLogger derives a logger tagged with the request's correlation and submission ids.
func RequestLogger(c *fiber.Ctx, base zerolog.Logger) zerolog.Logger {
	if c == nil {
		return base
	}
	fields := base.With()
	if id := GetCorrelationID(c); id != "" {
		fields = fields.Str("correlation_id", id)
	}
	if submissionID, ok := SubmissionFromLocals(c); ok {
		fields = fields.Uint("submission_id", submissionID)
	}
	return fields.Logger()
}
