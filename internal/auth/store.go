package auth

import (
	"context"
	"time"
)

// UserStore reads users for authentication.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	FindByUsername(ctx context.Context, name string) (User, error)
	// FindByVerifiedEmail matches only active, verified email rows.
	FindByVerifiedEmail(ctx context.Context, address string) (User, error)
}

// GrantStore reads grants joined with their account and role permissions.
type GrantStore interface {
	GrantsForUser(ctx context.Context, userID string) ([]GrantRecord, error)
}

// AccountStore manages accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	// CreateAccount stores acc together with the owner grants, which get the
	// new account id. Either everything is stored or nothing is.
	CreateAccount(ctx context.Context, acc Account, owners ...Grant) (Account, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (Account, error)
	ListAccountUsers(ctx context.Context, accountID string) ([]User, error)
}

// RoleStore manages the global role and permission catalog.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	CreateRole(ctx context.Context, role Role, permissionNames []string) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// GrantWriter creates and revokes grants.
type GrantWriter interface {
	CreateGrant(ctx context.Context, g Grant) (Grant, error)
	RevokeGrant(ctx context.Context, accountID, grantID string, at time.Time) (Grant, error)
}

// EmailStore manages user email addresses.
type EmailStore interface {
	FindEmail(ctx context.Context, address string) (Email, error)
	AddEmail(ctx context.Context, e Email) (Email, error)
}

// UserWriter creates users.
type UserWriter interface {
	CreateUser(ctx context.Context, u User) (User, error)
}

// EventStore persists audit events.
type EventStore interface {
	AppendEvent(ctx context.Context, e Event) error
}

// Store is everything the admin server persists.
type Store interface {
	UserStore
	UserWriter
	GrantStore
	GrantWriter
	AccountStore
	RoleStore
	EmailStore
	EventStore
}

// AccountUpdate carries optional account changes.
type AccountUpdate struct {
	DisplayName *string
	Active      *bool
}
