package auth

import "github.com/golang-jwt/jwt/v5"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// ClaimsVersion is stamped into every minted token as "ver". Bump it when claims change shape.
const ClaimsVersion = 1

// Claims is the signed payload of access and refresh tokens.
type Claims struct {
	Username    string        `json:"username"`
	UserType    UserType      `json:"user_type"`
	AccountID   string        `json:"account_id"`
	Permissions PermissionMap `json:"permissions"`
	TokenKind   TokenKind     `json:"token_kind"`
	Version     int           `json:"ver"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// ForAccount returns a copy of c scoped to accountID. The permission map is kept as is.
func (c Claims) ForAccount(accountID string) Claims {
	c.AccountID = accountID
	c.Permissions = c.Permissions.Clone()
	c.RegisteredClaims = jwt.RegisteredClaims{Subject: c.Subject}
	return c
}

// NewClaims builds the unsigned claims for user scoped to accountID.
func NewClaims(user User, accountID string, perms PermissionMap) Claims {
	if perms == nil {
		perms = PermissionMap{}
	}
	return Claims{
		Username:         user.Name,
		UserType:         user.Type,
		AccountID:        accountID,
		Permissions:      perms,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}
}
