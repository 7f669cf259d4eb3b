package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var accountNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{1,62}$`)

// AdminService implements account, user, role and grant management.
type AdminService struct {
	store    Store
	resolver *GrantResolver
	now      func() time.Time
}

// NewAdminService constructs the admin service.
func NewAdminService(store Store) (*AdminService, error) {
	if store == nil {
		return nil, errors.New("admin store is required")
	}
	return &AdminService{store: store, resolver: NewGrantResolver(store), now: time.Now}, nil
}

func (s *AdminService) GetAccount(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acc.Deleted {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *AdminService) CreateAccount(ctx context.Context, name, displayName string) (Account, error) {
	acc, err := newAccount(name, displayName)
	if err != nil {
		return Account{}, err
	}
	return s.store.CreateAccount(ctx, acc)
}

// CreateOwnedAccount creates an account and grants ownerID the account.admin
// role on it. The grant is stored with the account, so a missing or inactive
// role fails the whole call and leaves no account behind.
func (s *AdminService) CreateOwnedAccount(ctx context.Context, name, displayName, ownerID string) (Account, error) {
	acc, err := newAccount(name, displayName)
	if err != nil {
		return Account{}, err
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Account{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, ownerID); err != nil {
		return Account{}, err
	}
	role, err := s.store.GetRole(ctx, RoleAccountAdmin)
	if errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("role %s is not installed; run the migrations", RoleAccountAdmin)
	}
	if err != nil {
		return Account{}, err
	}
	if !role.Active || role.Deleted {
		return Account{}, fmt.Errorf("role %s is not active", RoleAccountAdmin)
	}
	return s.store.CreateAccount(ctx, acc, Grant{
		UserID:      ownerID,
		RoleID:      role.ID,
		Active:      true,
		GrantedAt:   s.now().UTC(),
		GrantedByID: ownerID,
	})
}

func newAccount(name, displayName string) (Account, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !accountNamePattern.MatchString(name) {
		return Account{}, fmt.Errorf("%w: account name must be 2-63 lowercase letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = name
	}
	return Account{Name: name, DisplayName: displayName, Active: true}, nil
}

func (s *AdminService) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	if upd.DisplayName != nil {
		trimmed := strings.TrimSpace(*upd.DisplayName)
		if trimmed == "" {
			return Account{}, fmt.Errorf("%w: display_name cannot be empty", ErrInvalidInput)
		}
		upd.DisplayName = &trimmed
	}
	return s.store.UpdateAccount(ctx, id, upd)
}

// ListAccountUsers returns active users holding an active grant on accountID.
func (s *AdminService) ListAccountUsers(ctx context.Context, accountID string) ([]User, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return s.store.ListAccountUsers(ctx, accountID)
}

// ListUserDetails returns the account's users with their grants and permission maps.
func (s *AdminService) ListUserDetails(ctx context.Context, accountID string) ([]UserDetail, error) {
	users, err := s.ListAccountUsers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]UserDetail, 0, len(users))
	for _, u := range users {
		grants, err := s.store.GrantsForUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		perms, _ := ResolvePermissions(grants)
		out = append(out, UserDetail{User: u, Grants: grants, Permissions: perms})
	}
	return out, nil
}

// NewUser is the input for CreateUser.
type NewUser struct {
	Name         string
	Type         UserType
	Email        string
	Password     string
	DisplayName  string
	PersonalName string
	FamilyNames  string
}

func (s *AdminService) CreateUser(ctx context.Context, in NewUser) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = UserTypeUser
	}
	if !in.Type.Valid() {
		return User{}, fmt.Errorf("%w: unsupported user type %s", ErrInvalidInput, in.Type)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, User{
		Name:         name,
		Type:         in.Type,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PersonalName: strings.TrimSpace(in.PersonalName),
		FamilyNames:  strings.TrimSpace(in.FamilyNames),
		Active:       true,
	})
}

// ListRoles returns active, non-deleted roles with their permissions.
func (s *AdminService) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := roles[:0]
	for _, r := range roles {
		if r.Active && !r.Deleted {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *AdminService) CreateRole(ctx context.Context, name, displayName string, permissions []string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, Role{
		Name:        name,
		DisplayName: strings.TrimSpace(displayName),
		Active:      true,
	}, dedupeStrings(permissions))
}

func (s *AdminService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GrantRole binds userID to roleID on accountID. A matching active grant is a conflict.
func (s *AdminService) GrantRole(ctx context.Context, accountID, userID, roleID, grantedBy string) (Grant, error) {
	accountID = strings.TrimSpace(accountID)
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if accountID == "" || userID == "" || roleID == "" {
		return Grant{}, fmt.Errorf("%w: account_id, user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return Grant{}, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return Grant{}, err
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Grant{}, err
	}
	if !role.Active || role.Deleted {
		return Grant{}, fmt.Errorf("%w: role %s is not active", ErrInvalidInput, roleID)
	}
	existing, err := s.store.GrantsForUser(ctx, userID)
	if err != nil {
		return Grant{}, err
	}
	for _, g := range existing {
		if g.Active && g.RevokedAt == nil && g.AccountID == accountID && g.RoleID == role.ID {
			return Grant{}, fmt.Errorf("%w: grant already exists", ErrConflict)
		}
	}
	return s.store.CreateGrant(ctx, Grant{
		UserID:      userID,
		AccountID:   accountID,
		RoleID:      role.ID,
		Active:      true,
		GrantedAt:   s.now().UTC(),
		GrantedByID: grantedBy,
	})
}

// RevokeGrant deactivates a grant on accountID. Tokens already minted keep their
// permissions until they expire.
func (s *AdminService) RevokeGrant(ctx context.Context, accountID, grantID string) (Grant, error) {
	accountID = strings.TrimSpace(accountID)
	grantID = strings.TrimSpace(grantID)
	if accountID == "" || grantID == "" {
		return Grant{}, fmt.Errorf("%w: account_id and grant id are required", ErrInvalidInput)
	}
	return s.store.RevokeGrant(ctx, accountID, grantID, s.now().UTC())
}

// AuthorizedAccounts returns the accounts userID currently holds a qualifying grant on.
func (s *AdminService) AuthorizedAccounts(ctx context.Context, userID string) ([]Account, error) {
	return s.resolver.AuthorizedAccounts(ctx, userID)
}

// RecordEvent persists an audit event.
func (s *AdminService) RecordEvent(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	return s.store.AppendEvent(ctx, e)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
