package auth

import (
	"context"
	"sort"
)

// PermissionMap maps an account id to the sorted permission names held there.
type PermissionMap map[string][]string

// For returns the permissions held in accountID, or nil when the account is absent.
func (m PermissionMap) For(accountID string) []string {
	return m[accountID]
}

// Has reports whether accountID is a key of the map.
func (m PermissionMap) Has(accountID string) bool {
	_, ok := m[accountID]
	return ok
}

// Accounts returns the map keys in ascending order.
func (m PermissionMap) Accounts() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (m PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// GrantResolver derives permission maps and authorized accounts from stored grants.
type GrantResolver struct {
	grants GrantStore
}

// NewGrantResolver constructs a resolver over grants.
func NewGrantResolver(grants GrantStore) *GrantResolver {
	return &GrantResolver{grants: grants}
}

// PermissionsFor returns the user's account to permission mapping.
func (r *GrantResolver) PermissionsFor(ctx context.Context, userID string) (PermissionMap, error) {
	perms, _, err := r.Resolve(ctx, userID)
	return perms, err
}

// AuthorizedAccounts returns the distinct accounts the user holds a qualifying grant on,
// earliest grant first.
func (r *GrantResolver) AuthorizedAccounts(ctx context.Context, userID string) ([]Account, error) {
	_, accounts, err := r.Resolve(ctx, userID)
	return accounts, err
}

// Resolve computes both the permission map and the authorized accounts from one read.
func (r *GrantResolver) Resolve(ctx context.Context, userID string) (PermissionMap, []Account, error) {
	records, err := r.grants.GrantsForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	perms, accounts := ResolvePermissions(records)
	return perms, accounts, nil
}

// ResolvePermissions is the pure core of the resolver. A grant qualifies when it is active,
// not revoked, and references a role and an account that are both active and not deleted. An account is present in the returned
// map only if its qualifying grants contribute at least one active permission; accounts whose
// roles are empty still appear in the account list.
func ResolvePermissions(records []GrantRecord) (PermissionMap, []Account) {
	type accountEntry struct {
		account Account
		first   GrantRecord
		perms   map[string]struct{}
	}
	entries := make(map[string]*accountEntry)

	for _, g := range records {
		if !qualifies(g) {
			continue
		}
		e, ok := entries[g.Account.ID]
		if !ok {
			e = &accountEntry{account: *g.Account, first: g, perms: make(map[string]struct{})}
			entries[g.Account.ID] = e
		} else if g.GrantedAt.Before(e.first.GrantedAt) {
			e.first = g
		}
		for _, p := range g.Role.Permissions {
			if !p.Active || p.Name == "" {
				continue
			}
			e.perms[p.Name] = struct{}{}
		}
	}

	perms := make(PermissionMap, len(entries))
	ordered := make([]*accountEntry, 0, len(entries))
	for id, e := range entries {
		ordered = append(ordered, e)
		if len(e.perms) == 0 {
			continue
		}
		perms[id] = sortedPermissions(e.perms)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.first.GrantedAt.Equal(b.first.GrantedAt) {
			return a.first.GrantedAt.Before(b.first.GrantedAt)
		}
		return a.account.ID < b.account.ID
	})
	accounts := make([]Account, 0, len(ordered))
	for _, e := range ordered {
		accounts = append(accounts, e.account)
	}
	return perms, accounts
}

func qualifies(g GrantRecord) bool {
	if !g.Active || g.RevokedAt != nil {
		return false
	}
	if g.Role == nil || !g.Role.Active || g.Role.Deleted {
		return false
	}
	return g.Account != nil && g.Account.Active && !g.Account.Deleted
}

func sortedPermissions(perms map[string]struct{}) []string {
	out := make([]string, 0, len(perms))
	for k := range perms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
