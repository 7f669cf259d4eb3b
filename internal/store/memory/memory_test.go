package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/location"
)

func TestSeedDemoSupportsLogin(t *testing.T) {
	ctx := context.Background()
	s := New()
	demo, err := SeedDemo(ctx, s, "alice", "wonderland")
	if err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	user, err := auth.NewCredentials(s).Authenticate(ctx, auth.Identifier{Email: "alice@example.com"}, "wonderland")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	perms, accounts, err := auth.NewGrantResolver(s).Resolve(ctx, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != demo.Account.ID {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if got := perms.For(demo.Account.ID); len(got) != 2 {
		t.Fatalf("unexpected permissions %v", got)
	}
}

func TestGrantsHideDeletedRoles(t *testing.T) {
	ctx := context.Background()
	s := New()
	demo, err := SeedDemo(ctx, s, "alice", "pw")
	if err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	s.mu.Lock()
	r := s.roles[demo.Role.ID]
	r.Deleted = true
	s.roles[demo.Role.ID] = r
	s.mu.Unlock()

	recs, err := s.GrantsForUser(ctx, demo.User.ID)
	if err != nil {
		t.Fatalf("GrantsForUser: %v", err)
	}
	if len(recs) != 1 || recs[0].Role != nil || recs[0].Account == nil {
		t.Fatalf("expected grant with nil role, got %+v", recs)
	}
}

func TestRevokeGrantScopedToAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	demo, _ := SeedDemo(ctx, s, "alice", "pw")
	recs, _ := s.GrantsForUser(ctx, demo.User.ID)
	grantID := recs[0].ID

	if _, err := s.RevokeGrant(ctx, "other", grantID, time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	g, err := s.RevokeGrant(ctx, demo.Account.ID, grantID, time.Now())
	if err != nil || g.Active || g.RevokedAt == nil {
		t.Fatalf("unexpected revoke result %+v %v", g, err)
	}
	users, _ := s.ListAccountUsers(ctx, demo.Account.ID)
	for _, u := range users {
		if u.ID == demo.User.ID {
			t.Fatalf("revoked user still listed")
		}
	}
}

func TestCreateAccountWithOwnerIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	demo, err := SeedDemo(ctx, s, "alice", "pw")
	if err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	_, err = s.CreateAccount(ctx, auth.Account{Name: "acme", Active: true},
		auth.Grant{UserID: demo.User.ID, RoleID: "no-such-role", Active: true})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s.mu.RLock()
	n := len(s.accounts)
	s.mu.RUnlock()
	if n != 1 {
		t.Fatalf("failed create left %d accounts", n)
	}

	acc, err := s.CreateAccount(ctx, auth.Account{Name: "acme", Active: true},
		auth.Grant{UserID: demo.User.ID, RoleID: auth.RoleAccountAdmin, Active: true})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	recs, _ := s.GrantsForUser(ctx, demo.User.ID)
	var found bool
	for _, r := range recs {
		if r.AccountID == acc.ID && r.RoleID == demo.Role.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("owner grant on %s missing from %+v", acc.ID, recs)
	}
}

func TestCreateRoleRejectsUnknownPermission(t *testing.T) {
	s := New()
	_, err := s.CreateRole(context.Background(), auth.Role{Name: "x", Active: true}, []string{"nope.read"})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLocationsListOnlyVisible(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.CreateLocation(ctx, location.Location{ID: "a", AccountID: "demo", Active: true})
	_, _ = s.CreateLocation(ctx, location.Location{ID: "b", AccountID: "demo", Active: true, Deleted: true})
	_, _ = s.CreateLocation(ctx, location.Location{ID: "c", AccountID: "acme", Active: true})

	got, err := s.ListLocations(ctx, "demo")
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected locations %+v", got)
	}
	if _, err := s.UpdateLocation(ctx, location.Location{ID: "zzz"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
