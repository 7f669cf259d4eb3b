package auth

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sampleClaims() Claims {
	return Claims{
		Username:  "alice",
		UserType:  UserTypeUser,
		AccountID: "demo",
		Permissions: PermissionMap{
			"demo":  {"account.read", "account.write"},
			"other": {"x.read"},
		},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, clock, WithAudience("eostre"), WithKeyID("k1"))

	for _, kind := range []TokenKind{TokenAccess, TokenRefresh} {
		ttl := 15 * time.Minute
		token, exp, err := codec.Mint(sampleClaims(), kind, ttl)
		if err != nil {
			t.Fatalf("Mint(%s): %v", kind, err)
		}
		if !exp.Equal(clock.Now().Add(ttl)) {
			t.Fatalf("unexpected exp %v", exp)
		}

		got, err := codec.Decode(token)
		if err != nil {
			t.Fatalf("Decode(%s): %v", kind, err)
		}
		want := sampleClaims()
		if got.Subject != want.Subject || got.Username != want.Username || got.UserType != want.UserType || got.AccountID != want.AccountID {
			t.Fatalf("identity fields not preserved: %+v", got)
		}
		if !reflect.DeepEqual(got.Permissions, want.Permissions) {
			t.Fatalf("permissions not preserved: %v", got.Permissions)
		}
		if got.TokenKind != kind {
			t.Fatalf("expected kind %s, got %s", kind, got.TokenKind)
		}
		if got.Version != ClaimsVersion {
			t.Fatalf("expected version %d, got %d", ClaimsVersion, got.Version)
		}
		if got.IssuedAt.Unix() != clock.Now().Unix() || got.ExpiresAt.Unix() != clock.Now().Add(ttl).Unix() {
			t.Fatalf("unexpected iat/exp: %v %v", got.IssuedAt, got.ExpiresAt)
		}
		if !(got.ExpiresAt.After(got.IssuedAt.Time)) {
			t.Fatalf("exp must be after iat")
		}
		if got.ID == "" {
			t.Fatalf("expected jti to be set")
		}
	}
}

func TestCodecUsesDistinctClaimNames(t *testing.T) {
	clock := newClock(time.Now())
	codec := newTestCodec(t, clock)
	token, _, err := codec.Mint(sampleClaims(), TokenRefresh, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	payload := parsed.Claims.(jwt.MapClaims)
	if payload["user_type"] != "user" || payload["token_kind"] != "refresh" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["type"]; ok {
		t.Fatalf("payload must not carry an ambiguous type field")
	}
}

func TestCodecDecodeExpired(t *testing.T) {
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	codec := newTestCodec(t, clock)
	token, _, err := codec.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	clock.Advance(2 * time.Minute)

	_, err = codec.Decode(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token must not be reported as generic invalid")
	}
}

func TestCodecDecodeSignatureMismatch(t *testing.T) {
	clock := newClock(time.Now())
	_, other := keyPairs(t)
	foreign, err := NewCodec(other, WithClock(clock.Now), WithIssuer("eostre-test"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, err := foreign.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	codec := newTestCodec(t, clock)
	if _, err := codec.Decode(token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
}

func TestCodecRejectsForeignAlgorithm(t *testing.T) {
	clock := newClock(time.Now())
	codec := newTestCodec(t, clock)

	claims := sampleClaims()
	claims.TokenKind = TokenAccess
	claims.IssuedAt = jwt.NewNumericDate(clock.Now())
	claims.ExpiresAt = jwt.NewNumericDate(clock.Now().Add(time.Minute))
	claims.Issuer = "eostre-test"
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString([]byte("public-key-bytes"))
	if err != nil {
		t.Fatalf("sign HS256: %v", err)
	}
	if _, err := codec.Decode(forged); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected HS256 token to fail signature check, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Decode(none); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestCodecDecodeFailureKinds(t *testing.T) {
	clock := newClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	keys, _ := keyPairs(t)

	minter, err := NewCodec(keys, WithClock(func() time.Time { return clock.Now().Add(time.Hour) }), WithIssuer("eostre-test"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	future, _, err := minter.Mint(sampleClaims(), TokenAccess, 2*time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	otherIssuer, err := NewCodec(keys, WithClock(clock.Now), WithIssuer("someone-else"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	wrongIss, _, err := otherIssuer.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	otherAudience, err := NewCodec(keys, WithClock(clock.Now), WithIssuer("eostre-test"), WithAudience("mobile"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	wrongAud, _, err := otherAudience.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	codec := newTestCodec(t, clock, WithAudience("web"))
	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"malformed", "not-a-token", ErrTokenMalformed},
		{"empty", "   ", ErrTokenMalformed},
		{"truncated", strings.Join(strings.Split(wrongIss, ".")[:2], "."), ErrTokenMalformed},
		{"not yet valid", future, ErrTokenNotYetValid},
		{"issuer", wrongIss, ErrTokenIssuer},
		{"audience", wrongAud, ErrTokenAudience},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decode(tc.token)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !IsTokenError(err) {
				t.Fatalf("expected token error classification for %v", err)
			}
		})
	}
}

func TestCodecDecodeKind(t *testing.T) {
	clock := newClock(time.Now())
	codec := newTestCodec(t, clock)
	access, _, err := codec.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := codec.DecodeKind(access, TokenRefresh); !errors.Is(err, ErrTokenKind) {
		t.Fatalf("expected ErrTokenKind, got %v", err)
	}
	if _, err := codec.DecodeKind(access, TokenAccess); err != nil {
		t.Fatalf("DecodeKind(access): %v", err)
	}
}

func TestCodecDecodeIsPure(t *testing.T) {
	clock := newClock(time.Now())
	codec := newTestCodec(t, clock)
	token, _, err := codec.Mint(sampleClaims(), TokenAccess, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	first, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	first.Permissions["demo"] = nil
	second, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(second.Permissions["demo"]) != 2 {
		t.Fatalf("decode results must not share state")
	}
}

func TestVerifyOnlyCodecCannotMint(t *testing.T) {
	keys, _ := keyPairs(t)
	codec, err := NewCodec(KeyPair{Public: keys.Public})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, _, err := codec.Mint(sampleClaims(), TokenAccess, time.Minute); !errors.Is(err, ErrSigningDisabled) {
		t.Fatalf("expected ErrSigningDisabled, got %v", err)
	}
}

func TestNewCodecValidation(t *testing.T) {
	keys, _ := keyPairs(t)
	if _, err := NewCodec(KeyPair{}); err == nil {
		t.Fatalf("expected error without public key")
	}
	if _, err := NewCodec(keys, WithAlgorithm("HS256")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unsupported algorithm error, got %v", err)
	}
	codec, err := NewCodec(keys, WithAlgorithm("ps256"))
	if err != nil {
		t.Fatalf("NewCodec(PS256): %v", err)
	}
	if codec.Algorithm() != "PS256" {
		t.Fatalf("unexpected algorithm %s", codec.Algorithm())
	}
	if _, _, err := codec.Mint(sampleClaims(), TokenAccess, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ttl validation error, got %v", err)
	}
}
