// Package middleware wires authentication, request identity, logging, and
// the audit bridge into the HTTP handler chain.
package middleware

import (
	"net/http"
	"strings"

	"github.com/castellanhq/castellan/pkg/authz"
	"github.com/castellanhq/castellan/pkg/contextkeys"
	"github.com/castellanhq/castellan/pkg/httputil"
	"github.com/castellanhq/castellan/pkg/token"
)

// ClaimsExtractor turns a raw bearer credential into claims. Satisfied by
// token.Extract (parse only) and by a Verifier's Verify method (parse plus
// signature check).
type ClaimsExtractor func(r *http.Request, raw string) (*token.Claims, error)

// ExtractOnly returns an extractor that trusts upstream verification and
// only decodes the payload.
func ExtractOnly() ClaimsExtractor {
	return func(_ *http.Request, raw string) (*token.Claims, error) {
		return token.Extract(raw)
	}
}

// VerifyWith returns an extractor that verifies signatures in-process.
func VerifyWith(v *token.Verifier) ClaimsExtractor {
	return func(r *http.Request, raw string) (*token.Claims, error) {
		return v.Verify(r.Context(), raw)
	}
}

// AuthMiddleware authenticates requests and resolves their authorization
// context before the handler runs.
type AuthMiddleware struct {
	extract  ClaimsExtractor
	resolver *authz.Resolver
	optional bool
}

// NewAuthMiddleware creates the authentication middleware. When optional is
// true, requests without credentials pass through unauthenticated and the
// handlers decide what anonymous callers may do.
func NewAuthMiddleware(extract ClaimsExtractor, resolver *authz.Resolver, optional bool) *AuthMiddleware {
	return &AuthMiddleware{extract: extract, resolver: resolver, optional: optional}
}

// Handler wraps next with bearer authentication and context resolution.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "missing authorization header"), false)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "invalid authorization header format"), false)
			return
		}

		claims, err := m.extract(r, parts[1])
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		ac, err := m.resolver.Resolve(r.Context(), claims)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		if carrier := carrierFrom(r.Context()); carrier != nil {
			carrier.claims = claims
			carrier.authz = ac
		}

		ctx := contextkeys.WithIdentity(r.Context(), claims)
		ctx = contextkeys.WithAuthz(ctx, ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthzContext extracts the resolved authorization context from a request.
func GetAuthzContext(r *http.Request) *authz.Context {
	ac, ok := r.Context().Value(contextkeys.AuthzKey).(*authz.Context)
	if !ok {
		return nil
	}
	return ac
}

// GetClaims extracts the provider claims from a request.
func GetClaims(r *http.Request) *token.Claims {
	claims, ok := r.Context().Value(contextkeys.IdentityKey).(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

// RequirePermission creates middleware that rejects callers lacking a
// permission in the organization named by the orgParam path variable.
func RequirePermission(orgParam, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthzContext(r)
			if ac == nil {
				httputil.WriteAppError(w, httputil.NewAppError(http.StatusUnauthorized, httputil.CodeUnauthorized, "authentication required"), false)
				return
			}

			orgID, err := httputil.ParsePathInt64(r, orgParam)
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			if !ac.HasPermission(orgID, permission) {
				httputil.WriteAppError(w, httputil.NewAppError(http.StatusForbidden, httputil.CodeForbidden, permission+" permission required"), false)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
