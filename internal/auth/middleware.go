package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type ctxKey struct{}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

// FromContext returns the verified claims, or nil for an anonymous request.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ctxKey{}).(*Claims)
	return claims
}

// Middleware verifies the bearer token and stores its claims in the request
// context. Requests without a valid token are passed to deny.
func Middleware(v *Verifier, log *slog.Logger, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return verify(v, log, deny, true)
}

// Optional is Middleware for routes that also serve anonymous callers. A
// request with no Authorization header continues without claims; a bad token
// is still denied.
func Optional(v *Verifier, log *slog.Logger, deny http.HandlerFunc) func(http.Handler) http.Handler {
	return verify(v, log, deny, false)
}

func verify(v *Verifier, log *slog.Logger, deny http.HandlerFunc, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" && !required {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				deny(w, r)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				log.Info("auth failure", "path", r.URL.Path, "err", err)
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
