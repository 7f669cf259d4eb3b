package memory

import (
	"context"
	"fmt"
	"time"

	"eostre.org/internal/auth"
)

// Demo describes the fixture SeedDemo creates.
type Demo struct {
	Account     auth.Account
	Role        auth.Role
	User        auth.User
	ServiceUser auth.User
}

// SeedDemo loads the same demo data as the SQL seed: the account.admin role,
// the demo account, an interactive user and a service user, both granted
// account.admin on demo.
func SeedDemo(ctx context.Context, s *Store, username, password string) (Demo, error) {
	admin, err := auth.NewAdminService(s)
	if err != nil {
		return Demo{}, err
	}
	var d Demo
	if d.Role, err = admin.CreateRole(ctx, auth.RoleAccountAdmin, "Account Administrator",
		[]string{auth.PermAccountRead, auth.PermAccountWrite}); err != nil {
		return Demo{}, fmt.Errorf("seed role: %w", err)
	}
	if d.Account, err = admin.CreateAccount(ctx, "demo", "Demo Account"); err != nil {
		return Demo{}, fmt.Errorf("seed account: %w", err)
	}
	if d.User, err = admin.CreateUser(ctx, auth.NewUser{
		Name:        username,
		Email:       username + "@example.com",
		Password:    password,
		DisplayName: username,
	}); err != nil {
		return Demo{}, fmt.Errorf("seed user: %w", err)
	}
	if d.ServiceUser, err = admin.CreateUser(ctx, auth.NewUser{
		Name:     "location-sync",
		Type:     auth.UserTypeService,
		Email:    "location-sync@example.com",
		Password: password,
	}); err != nil {
		return Demo{}, fmt.Errorf("seed service user: %w", err)
	}

	// Primary addresses created with the user count as verified in the demo.
	verified := time.Now().UTC()
	s.mu.Lock()
	for addr, e := range s.emails {
		e.VerifiedAt = &verified
		s.emails[addr] = e
	}
	s.mu.Unlock()

	for _, u := range []auth.User{d.User, d.ServiceUser} {
		if _, err := admin.GrantRole(ctx, d.Account.ID, u.ID, d.Role.ID, ""); err != nil {
			return Demo{}, fmt.Errorf("seed grant: %w", err)
		}
	}
	return d, nil
}
