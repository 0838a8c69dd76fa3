package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// VerificationRecorder records verification outcomes.
type VerificationRecorder interface {
	RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration)
}

type otelRecorder struct {
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewOTelRecorder reports verification outcomes on meter.
func NewOTelRecorder(meter metric.Meter) (VerificationRecorder, error) {
	attempts, err := meter.Int64Counter("auth.oidc.verifications",
		metric.WithDescription("OIDC token verifications by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("auth.oidc.verification.latency",
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &otelRecorder{attempts: attempts, latency: latency}, nil
}

func (r *otelRecorder) RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success), attribute.String("reason", reason))
	r.attempts.Add(ctx, 1, attrs)
	r.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

// ServicePolicy names the tokens an internal endpoint accepts.
type ServicePolicy struct {
	Audience string
	Issuers  []string
	// Emails restricts the token's email claim when non-empty.
	Emails []string
}

// OIDCValidator validates Google-signed OIDC tokens presented by schedulers and push subscriptions.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   *zap.Logger
	recorder VerificationRecorder
	now      func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{
		cache:  cache,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCRecorder sets the verification recorder.
func WithOIDCRecorder(recorder VerificationRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.recorder = recorder
	}
}

// WithOIDCClock injects a custom clock.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// ServiceIdentity captures details about the authenticated service principal.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// RequireOIDC rejects requests that do not carry a valid token matching policy.
func (v *OIDCValidator) RequireOIDC(policy ServicePolicy) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(policy.Audience)
	issuers := trimmedSet(policy.Issuers, false)
	emails := trimmedSet(policy.Emails, true)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()
			reject := func(status int, code, reason, message string) {
				v.record(ctx, false, reason, start)
				respondAuthError(w, status, code, message)
			}

			if audience == "" {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "audience_not_configured", "oidc audience not configured")
				return
			}
			tokenStr, source := extractOIDCToken(r)
			if tokenStr == "" {
				reject(http.StatusUnauthorized, "unauthenticated", "token_missing", "oidc token missing")
				return
			}
			if v == nil || v.cache == nil {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "cache_unavailable", "oidc verification unavailable")
				return
			}

			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Error("oidc keys unavailable", zap.Error(err))
					reject(http.StatusServiceUnavailable, "invalid_token", "jwks_unavailable", "oidc token verification failed")
					return
				}
				v.logger.Warn("oidc verification failed", zap.String("source", source), zap.Error(err))
				reject(http.StatusUnauthorized, "invalid_token", "token_invalid", "oidc token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				v.logger.Warn("oidc issuer mismatch", zap.String("issuer", issuer))
				reject(http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "oidc issuer mismatch")
				return
			}
			if !slices.Contains(audienceFromClaims(claims), audience) {
				v.logger.Warn("oidc audience mismatch", zap.String("expected", audience), zap.String("source", source))
				reject(http.StatusUnauthorized, "invalid_token", "audience_mismatch", "oidc audience mismatch")
				return
			}
			email, _ := claims["email"].(string)
			if len(emails) > 0 && !slices.Contains(emails, strings.ToLower(email)) {
				v.logger.Warn("oidc caller not allowed", zap.String("email", email))
				reject(http.StatusForbidden, "forbidden", "email_not_allowed", "caller is not permitted")
				return
			}

			subject, _ := claims["sub"].(string)
			identity := &ServiceIdentity{
				Subject:  subject,
				Email:    email,
				Issuer:   issuer,
				Audience: audience,
			}
			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.recorder == nil {
		return
	}
	v.recorder.RecordVerification(ctx, success, reason, v.now().Sub(start))
}

func extractOIDCToken(r *http.Request) (token string, source string) {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer, "authorization"
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	switch v := claims["aud"].(type) {
	case string:
		return []string{strings.TrimSpace(v)}
	case []string:
		return trimmedSet(v, false)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
		return out
	default:
		return nil
	}
}

func trimmedSet(values []string, lower bool) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value != "" && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}
