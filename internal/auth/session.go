package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// SessionStore is the persistence the token rotation policy reads.
type SessionStore interface {
	UserStore
	GrantStore
	GetAccount(ctx context.Context, id string) (Account, error)
}

// Service issues and rotates access/refresh token pairs.
//
// Tokens are stateless: there is no server-side revocation list. Logging out or revoking a
// grant does not invalidate an access token already issued; it stays valid until its exp.
// Grants are re-resolved only at login and refresh, which bounds the staleness window to the
// access token TTL.
type Service struct {
	store       SessionStore
	codec       *Codec
	credentials *Credentials
	resolver    *GrantResolver
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// NewService constructs the session service. The codec must be able to sign.
func NewService(store SessionStore, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: session store is required")
	}
	if codec == nil || !codec.CanSign() {
		return nil, errors.New("auth: signing codec is required")
	}
	svc := &Service{
		store:       store,
		codec:       codec,
		credentials: NewCredentials(store),
		resolver:    NewGrantResolver(store),
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.accessTTL >= svc.refreshTTL {
		return nil, fmt.Errorf("auth: access ttl %s must be shorter than refresh ttl %s", svc.accessTTL, svc.refreshTTL)
	}
	return svc, nil
}

// Resolver exposes the grant resolver used for minting.
func (s *Service) Resolver() *GrantResolver { return s.resolver }

// RefreshTTL returns the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Claims           Claims
}

// LoginRequest carries login input. AccountID is optional.
type LoginRequest struct {
	Username  string
	Email     string
	Password  string
	AccountID string
}

// Login authenticates credentials, resolves grants and mints a fresh pair. Without an
// explicit account the earliest granted account holding permissions is selected.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenPair, error) {
	id := Identifier{Username: req.Username, Email: req.Email}
	if id.Empty() {
		return TokenPair{}, fmt.Errorf("%w: username or email is required", ErrInvalidInput)
	}
	if req.Password == "" {
		return TokenPair{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	user, err := s.credentials.Authenticate(ctx, id, req.Password)
	if err != nil {
		return TokenPair{}, err
	}
	perms, accounts, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}

	accountID := strings.TrimSpace(req.AccountID)
	if accountID != "" {
		if !perms.Has(accountID) {
			return TokenPair{}, fmt.Errorf("%w: account %s is not authorized", ErrForbidden, accountID)
		}
	} else if accountID = DefaultAccount(perms, accounts); accountID == "" {
		return TokenPair{}, ErrNoAuthorizedAccounts
	}

	return s.mintPair(NewClaims(user, accountID, perms))
}

// Refresh validates a refresh token, re-resolves grants and mints a new pair. The previous
// refresh token is not invalidated and remains usable until its own exp.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	prev, err := s.codec.DecodeKind(refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.store.GetUser(ctx, prev.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, fmt.Errorf("%w: subject not found", ErrTokenInvalid)
		}
		return TokenPair{}, err
	}
	if !user.CanLogin() {
		return TokenPair{}, fmt.Errorf("%w: subject disabled", ErrTokenInvalid)
	}

	perms, accounts, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	accountID := prev.AccountID
	if !perms.Has(accountID) {
		accountID = DefaultAccount(perms, accounts)
	}
	if accountID == "" {
		return TokenPair{}, ErrNoAuthorizedAccounts
	}
	return s.mintPair(NewClaims(user, accountID, perms))
}

// SwitchAccount re-scopes current to target using the permission map already embedded in
// the token. A target absent from that map is forbidden.
func (s *Service) SwitchAccount(ctx context.Context, current *Claims, target string) (TokenPair, error) {
	if current == nil {
		return TokenPair{}, ErrTokenInvalid
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return TokenPair{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	if !current.Permissions.Has(target) {
		return TokenPair{}, fmt.Errorf("%w: account %s is not authorized", ErrForbidden, target)
	}
	acc, err := s.store.GetAccount(ctx, target)
	if err != nil {
		return TokenPair{}, err
	}
	if acc.Deleted {
		return TokenPair{}, fmt.Errorf("%w: account %s", ErrNotFound, target)
	}
	return s.mintPair(current.ForAccount(target))
}

func (s *Service) mintPair(claims Claims) (TokenPair, error) {
	access, accessExp, err := s.codec.Mint(claims, TokenAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Mint(claims, TokenRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	claims.TokenKind = TokenAccess
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Claims:           claims,
	}, nil
}

// DefaultAccount picks the first account, in grant order, that is a key of perms.
func DefaultAccount(perms PermissionMap, accounts []Account) string {
	for _, acc := range accounts {
		if perms.Has(acc.ID) {
			return acc.ID
		}
	}
	return ""
}
