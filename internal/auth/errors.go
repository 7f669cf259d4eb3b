package auth

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("resource conflict")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrForbidden            = errors.New("forbidden")
	ErrNoAuthorizedAccounts = errors.New("no authorized accounts")
	ErrEmailUnavailable     = errors.New("email address unavailable")
)

// Token decode failures. Each wraps the underlying jwt error.
var (
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenSignature   = errors.New("token signature mismatch")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrTokenIssuer      = errors.New("token issuer mismatch")
	ErrTokenAudience    = errors.New("token audience mismatch")
	ErrTokenKind        = errors.New("unexpected token kind")
	ErrSigningDisabled  = errors.New("codec has no signing key")
)

// IsTokenError reports whether err is any token decode failure.
func IsTokenError(err error) bool {
	for _, target := range []error{
		ErrTokenInvalid, ErrTokenExpired, ErrTokenMalformed, ErrTokenSignature,
		ErrTokenNotYetValid, ErrTokenIssuer, ErrTokenAudience, ErrTokenKind,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TokenErrorReason returns a short label for a token failure, used in logs and metrics.
func TokenErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrTokenIssuer):
		return "issuer"
	case errors.Is(err, ErrTokenAudience):
		return "audience"
	case errors.Is(err, ErrTokenKind):
		return "kind"
	default:
		return "invalid"
	}
}
