package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdminCreateAccountValidation(t *testing.T) {
	svc, err := NewAdminService(newFakeStore())
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "  ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "Has Spaces", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad name, got %v", err)
	}
	acc, err := svc.CreateAccount(ctx, " Demo ", "")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.Name != "demo" || acc.DisplayName != "demo" || !acc.Active {
		t.Fatalf("unexpected account %+v", acc)
	}
	if _, err := svc.CreateAccount(ctx, "demo", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAdminCreateOwnedAccountNeedsAdminRole(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "u1", "bob", "pw")
	store.addRole("ops", PermAccountRead, PermAccountWrite)
	svc, _ := NewAdminService(store)
	ctx := context.Background()

	if _, err := svc.CreateOwnedAccount(ctx, "acme", "", "u1"); err == nil {
		t.Fatal("expected an error without the account.admin role")
	}
	if len(store.accounts) != 0 || len(store.grants) != 0 {
		t.Fatalf("failed create left state behind: accounts=%v grants=%v", store.accounts, store.grants)
	}

	off := store.addRole(RoleAccountAdmin, PermAccountRead, PermAccountWrite)
	off.Active = false
	store.roles[RoleAccountAdmin] = off
	if _, err := svc.CreateOwnedAccount(ctx, "acme", "", "u1"); err == nil {
		t.Fatal("expected an error with an inactive account.admin role")
	}
	if len(store.accounts) != 0 {
		t.Fatalf("inactive role left an account behind: %v", store.accounts)
	}

	store.addRole(RoleAccountAdmin, PermAccountRead, PermAccountWrite)
	if _, err := svc.CreateOwnedAccount(ctx, "acme", "", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}
	acc, err := svc.CreateOwnedAccount(ctx, "acme", "Acme", "u1")
	if err != nil {
		t.Fatalf("CreateOwnedAccount: %v", err)
	}
	if len(store.grants) != 1 {
		t.Fatalf("expected one owner grant, got %+v", store.grants)
	}
	g := store.grants[0]
	if g.AccountID != acc.ID || g.UserID != "u1" || g.RoleID != RoleAccountAdmin || !g.Active || g.GrantedByID != "u1" {
		t.Fatalf("unexpected owner grant %+v", g)
	}
}

func TestAdminCreateUserHashesPassword(t *testing.T) {
	store := newFakeStore()
	svc, _ := NewAdminService(store)
	user, err := svc.CreateUser(context.Background(), NewUser{Name: "carol", Email: "Carol@Example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "carol@example.com" || user.Type != UserTypeUser {
		t.Fatalf("unexpected user %+v", user)
	}
	if err := VerifyPassword(store.users[user.ID].PasswordHash, "pw"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), NewUser{Name: "dave", Email: "dave@example.com", Password: "pw", Type: "robot"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad type, got %v", err)
	}
}

func TestAdminGrantAndRevoke(t *testing.T) {
	store := newFakeStore()
	store.accounts["demo"] = Account{ID: "demo", Name: "demo", Active: true}
	store.addRole("account.admin", "account.read", "account.write")
	store.addUser(t, "u1", "alice", "pw")
	svc, _ := NewAdminService(store)
	ctx := context.Background()

	grant, err := svc.GrantRole(ctx, "demo", "u1", "account.admin", "admin-id")
	if err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if !grant.Active || grant.GrantedByID != "admin-id" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if _, err := svc.GrantRole(ctx, "demo", "u1", "account.admin", "admin-id"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.GrantRole(ctx, "demo", "u1", "missing", "admin-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for role, got %v", err)
	}
	if _, err := svc.GrantRole(ctx, "demo", "ghost", "account.admin", "admin-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user, got %v", err)
	}

	details, err := svc.ListUserDetails(ctx, "demo")
	if err != nil {
		t.Fatalf("ListUserDetails: %v", err)
	}
	if len(details) != 1 || len(details[0].Permissions["demo"]) != 2 {
		t.Fatalf("unexpected details %+v", details)
	}

	revoked, err := svc.RevokeGrant(ctx, "demo", grant.ID)
	if err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	if revoked.Active || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked grant, got %+v", revoked)
	}
	if _, err := svc.RevokeGrant(ctx, "other", grant.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound revoking across accounts, got %v", err)
	}

	accounts, err := svc.AuthorizedAccounts(ctx, "u1")
	if err != nil {
		t.Fatalf("AuthorizedAccounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts after revocation, got %+v", accounts)
	}
}

func TestAdminListRolesFiltersInactive(t *testing.T) {
	store := newFakeStore()
	store.addRole("live", "a")
	dead := store.addRole("dead", "b")
	dead.Deleted = true
	store.roles["dead"] = dead
	svc, _ := NewAdminService(store)

	roles, err := svc.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "live" {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

func TestAdminRecordEventStampsTime(t *testing.T) {
	store := newFakeStore()
	svc, _ := NewAdminService(store)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	if err := svc.RecordEvent(context.Background(), Event{Type: "system", Description: "test"}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if len(store.events) != 1 || store.events[0].CreatedAt.Year() != 2026 {
		t.Fatalf("unexpected events %+v", store.events)
	}
}
