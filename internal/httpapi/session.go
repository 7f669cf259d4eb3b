package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// TokenDecoder is the part of auth.Codec the middleware needs.
type TokenDecoder interface {
	DecodeKind(raw string, kind auth.TokenKind) (*auth.Claims, error)
}

// Authenticate verifies the access token carried by the request and stores its
// claims in the context. The Authorization header wins over the cookie.
func Authenticate(codec TokenDecoder, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := requestToken(r, cookieName)
			if err != nil {
				reason := "missing"
				if !errors.Is(err, errMissingToken) {
					reason = "malformed"
				}
				obs.ObserveTokenRejection(reason)
				unauthorized(w, r)
				return
			}
			claims, err := codec.DecodeKind(token, auth.TokenAccess)
			if err != nil {
				reason := auth.TokenErrorReason(err)
				obs.ObserveTokenRejection(reason)
				obs.From(r.Context()).Debug("token rejected", zap.String("reason", reason), zap.Error(err))
				unauthorized(w, r)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = auth.ContextWithToken(ctx, token)
			ctx = obs.WithLogger(ctx, obs.From(ctx).With(
				zap.String("user_id", claims.Subject),
				zap.String("account_id", claims.AccountID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermissions lets the request through when the active account holds
// any of perms. Requests without claims are refused as well.
func RequirePermissions(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok || !claims.Allows(perms...) {
				obs.From(r.Context()).Debug("permission denied", zap.Strings("required", perms))
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="eostre"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized")
}

func requestToken(r *http.Request, cookieName string) (string, error) {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		return extractBearerToken(h)
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value), nil
		}
	}
	return "", errMissingToken
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims
}
