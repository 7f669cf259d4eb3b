package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultAlgorithm = "RS256"

var supportedAlgorithms = map[string]jwt.SigningMethod{
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
	"PS256": jwt.SigningMethodPS256,
	"PS384": jwt.SigningMethodPS384,
	"PS512": jwt.SigningMethodPS512,
}

// SupportedAlgorithm reports whether alg can be used by the codec.
func SupportedAlgorithm(alg string) bool {
	_, ok := supportedAlgorithms[alg]
	return ok
}

// Codec mints and decodes signed claim sets. The signing algorithm is fixed at
// construction; the alg header of an inbound token is only compared against it.
type Codec struct {
	keys     KeyPair
	method   jwt.SigningMethod
	issuer   string
	audience string
	keyID    string
	leeway   time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithAlgorithm selects the signing algorithm (RS256 by default).
func WithAlgorithm(alg string) CodecOption {
	return func(c *Codec) error {
		alg = strings.ToUpper(strings.TrimSpace(alg))
		if alg == "" {
			return nil
		}
		method, ok := supportedAlgorithms[alg]
		if !ok {
			return fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidInput, alg)
		}
		c.method = method
		return nil
	}
}

// WithIssuer sets the iss claim minted and required on decode.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience sets the aud claim minted and required on decode.
func WithAudience(aud string) CodecOption {
	return func(c *Codec) error {
		c.audience = strings.TrimSpace(aud)
		return nil
	}
}

// WithKeyID sets the kid header on minted tokens.
func WithKeyID(kid string) CodecOption {
	return func(c *Codec) error {
		c.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithLeeway tolerates clock skew when checking time based claims.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *Codec) error {
		if d < 0 {
			return fmt.Errorf("%w: leeway must not be negative", ErrInvalidInput)
		}
		c.leeway = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec builds a codec. A KeyPair without a private key yields a verify-only codec.
func NewCodec(keys KeyPair, opts ...CodecOption) (*Codec, error) {
	if keys.Public == nil {
		return nil, errors.New("auth: public key is required")
	}
	c := &Codec{
		keys:   keys,
		method: supportedAlgorithms[defaultAlgorithm],
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(c.audience))
	}
	c.parser = jwt.NewParser(parserOpts...)
	return c, nil
}

// Algorithm returns the configured signing algorithm.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// CanSign reports whether the codec holds a private key.
func (c *Codec) CanSign() bool { return c.keys.Private != nil }

// Mint stamps iat, nbf, exp, jti and the token kind onto claims and signs them.
func (c *Codec) Mint(claims Claims, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	if !c.CanSign() {
		return "", time.Time{}, ErrSigningDisabled
	}
	if kind != TokenAccess && kind != TokenRefresh {
		return "", time.Time{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}

	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims.TokenKind = kind
	claims.Version = ClaimsVersion
	if claims.Permissions == nil {
		claims.Permissions = PermissionMap{}
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.ID = uuid.NewString()
	claims.Issuer = c.issuer
	claims.Audience = nil
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}

	token := jwt.NewWithClaims(c.method, &claims)
	if c.keyID != "" {
		token.Header["kid"] = c.keyID
	}
	signed, err := token.SignedString(c.keys.Private)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Decode verifies raw with the configured algorithm and public key and returns its claims.
// It never mutates state.
func (c *Codec) Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.keys.Public, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	if claims.TokenKind != TokenAccess && claims.TokenKind != TokenRefresh {
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrTokenInvalid, claims.TokenKind)
	}
	if claims.Permissions == nil {
		claims.Permissions = PermissionMap{}
	}
	return claims, nil
}

// DecodeKind decodes raw and requires its token_kind to equal kind.
func (c *Codec) DecodeKind(raw string, kind TokenKind) (*Claims, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenKind != kind {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTokenKind, kind, claims.TokenKind)
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	var kind error
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		kind = ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		kind = ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		kind = ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		kind = ErrTokenNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		kind = ErrTokenIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		kind = ErrTokenAudience
	default:
		kind = ErrTokenInvalid
	}
	return fmt.Errorf("%w: %w", kind, err)
}
