package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const principalKey ctxKey = "auth_principal"

var tracer = otel.Tracer("github.com/WailSalutem-Health-Care/tenant-service/auth")

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	Validate(token string) (*Claims, error)
}

var _ TokenValidator = (*TokenAuthority)(nil)

// MetricsRecorder interface for recording auth metrics
type MetricsRecorder interface {
	RecordAuthFailure(ctx context.Context, reason string)
}

// Middleware validates the bearer token and injects a Principal into the request context.
func Middleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return MiddlewareWithMetrics(v, logger, nil)
}

// MiddlewareWithMetrics validates token with metrics recording
func MiddlewareWithMetrics(v TokenValidator, logger *zap.Logger, metrics MetricsRecorder) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx, span := tracer.Start(ctx, "auth.Middleware",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			reject := func(reason, msg string) {
				span.SetStatus(codes.Error, msg)
				span.SetAttributes(attribute.String("error.type", reason))
				if metrics != nil {
					metrics.RecordAuthFailure(ctx, reason)
				}
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "unauthenticated",
					"message": msg,
				})
			}

			authz := r.Header.Get("Authorization")
			if authz == "" {
				reject("missing_authorization", "Missing authorization")
				return
			}

			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				reject("invalid_header_format", "Invalid authorization header")
				return
			}

			claims, err := v.Validate(parts[1])
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				reject("invalid_token", "Invalid token")
				return
			}

			pr := claims.Principal()
			span.SetAttributes(
				attribute.String("admin.id", pr.AdminID),
				attribute.String("organization.id", pr.OrgID),
			)
			span.SetStatus(codes.Ok, "authentication successful")

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, pr)))
		})
	}
}

// ContextWithPrincipal returns ctx carrying pr, as the middleware does for a
// valid token.
func ContextWithPrincipal(ctx context.Context, pr *Principal) context.Context {
	return context.WithValue(ctx, principalKey, pr)
}

// FromContext extracts Principal from context.
func FromContext(ctx context.Context) (*Principal, bool) {
	pr, ok := ctx.Value(principalKey).(*Principal)
	return pr, ok
}
