package auth

import "time"

// UserType distinguishes interactive users from service identities.
type UserType string

const (
	UserTypeUser    UserType = "user"
	UserTypeService UserType = "service"
)

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	return t == UserTypeUser || t == UserTypeService
}

// User represents a human or service identity that can hold grants on accounts.
type User struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            UserType  `json:"type"`
	Email           string    `json:"email,omitempty"`
	AlternateEmails []string  `json:"alternate_emails,omitempty"`
	PersonalName    string    `json:"personal_name,omitempty"`
	FamilyNames     string    `json:"family_names,omitempty"`
	DisplayName     string    `json:"display_name,omitempty"`
	PasswordHash    string    `json:"-"`
	Active          bool      `json:"active"`
	Deleted         bool      `json:"deleted"`
	CreatedAt       time.Time `json:"created_date"`
	UpdatedAt       time.Time `json:"modified_date"`
}

// CanLogin reports whether the user is allowed to authenticate.
func (u User) CanLogin() bool {
	return u.Active && !u.Deleted
}

// Greeting returns the name used when addressing the user in messages.
func (u User) Greeting() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// Email is an address owned by a user.
type Email struct {
	Address    string     `json:"email"`
	UserID     string     `json:"user_id"`
	Primary    bool       `json:"primary"`
	Active     bool       `json:"active"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_date"`
}

// Account is the tenant boundary grants and resources are scoped to.
type Account struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Active      bool      `json:"active"`
	Deleted     bool      `json:"deleted"`
	CreatedAt   time.Time `json:"created_date"`
	UpdatedAt   time.Time `json:"modified_date"`
}

// Permission is an atomic capability identified by a dotted name.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Scope       string `json:"scope"`
	Active      bool   `json:"active"`
}

// Permission scopes.
const (
	ScopeRead   = "read"
	ScopeWrite  = "write"
	ScopeCreate = "create"
	ScopeDelete = "delete"
)

// Role is a global, named bundle of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name,omitempty"`
	Active      bool         `json:"active"`
	Deleted     bool         `json:"deleted"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_date"`
	UpdatedAt   time.Time    `json:"modified_date"`
}

// PermissionNames returns the names of the role's permissions.
func (r Role) PermissionNames() []string {
	out := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		out = append(out, p.Name)
	}
	return out
}

// Grant binds a user to a role within one account.
type Grant struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	AccountID   string     `json:"account_id,omitempty"`
	RoleID      string     `json:"role_id,omitempty"`
	Active      bool       `json:"active"`
	GrantedAt   time.Time  `json:"granted_date"`
	RevokedAt   *time.Time `json:"revoked_date,omitempty"`
	GrantedByID string     `json:"granted_by,omitempty"`
}

// GrantRecord is a grant joined with its account and role, as read for permission resolution.
// Account and Role are nil when the grant row references nothing (or a deleted row).
type GrantRecord struct {
	Grant
	Account *Account `json:"account,omitempty"`
	Role    *Role    `json:"role,omitempty"`
}

// UserDetail is a user with their grants and resolved permissions, as listed per account.
type UserDetail struct {
	User
	Grants      []GrantRecord `json:"grants"`
	Permissions PermissionMap `json:"permissions"`
}

// Event is a persisted audit record.
type Event struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_date"`
}
