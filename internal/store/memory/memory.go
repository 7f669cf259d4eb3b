// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/ids"
	"eostre.org/internal/location"
)

var (
	_ auth.Store     = (*Store)(nil)
	_ location.Store = (*Store)(nil)
)

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	users       map[string]auth.User
	emails      map[string]auth.Email
	accounts    map[string]auth.Account
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	grants      []auth.Grant
	events      []auth.Event
	locations   map[string]location.Location
	now         func() time.Time
}

func New() *Store {
	s := &Store{
		users:       make(map[string]auth.User),
		emails:      make(map[string]auth.Email),
		accounts:    make(map[string]auth.Account),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		locations:   make(map[string]location.Location),
		now:         time.Now,
	}
	for _, p := range auth.BuiltinPermissions {
		p.ID = ids.New()
		s.permissions[p.Name] = p
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

// Users -----------------------------------------------------------------------

func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.withEmails(u), nil
}

func (s *Store) FindByUsername(_ context.Context, name string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			return s.withEmails(u), nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) FindByVerifiedEmail(_ context.Context, address string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[strings.ToLower(address)]
	if !ok || !e.Active || e.VerifiedAt == nil {
		return auth.User{}, auth.ErrNotFound
	}
	u, ok := s.users[e.UserID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return s.withEmails(u), nil
}

func (s *Store) CreateUser(_ context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Name == u.Name {
			return auth.User{}, auth.ErrConflict
		}
	}
	if u.Email != "" {
		if _, taken := s.emails[u.Email]; taken {
			return auth.User{}, auth.ErrConflict
		}
	}
	now := s.now().UTC()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	if u.Email != "" {
		s.emails[u.Email] = auth.Email{Address: u.Email, UserID: u.ID, Primary: true, Active: true, CreatedAt: now}
	}
	return u, nil
}

// withEmails fills the alternate addresses. Callers hold the lock.
func (s *Store) withEmails(u auth.User) auth.User {
	u.AlternateEmails = nil
	for _, e := range s.emails {
		if e.UserID == u.ID && !e.Primary && e.Active {
			u.AlternateEmails = append(u.AlternateEmails, e.Address)
		}
	}
	sort.Strings(u.AlternateEmails)
	return u
}

// Emails ----------------------------------------------------------------------

func (s *Store) FindEmail(_ context.Context, address string) (auth.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emails[strings.ToLower(address)]
	if !ok {
		return auth.Email{}, auth.ErrNotFound
	}
	return e, nil
}

func (s *Store) AddEmail(_ context.Context, e auth.Email) (auth.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Address = strings.ToLower(e.Address)
	if _, ok := s.emails[e.Address]; ok {
		return auth.Email{}, auth.ErrConflict
	}
	if _, ok := s.users[e.UserID]; !ok {
		return auth.Email{}, auth.ErrNotFound
	}
	e.CreatedAt = s.now().UTC()
	s.emails[e.Address] = e
	return e, nil
}

// Accounts --------------------------------------------------------------------

func (s *Store) GetAccount(_ context.Context, id string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return acc, nil
}

func (s *Store) CreateAccount(_ context.Context, acc auth.Account, owners ...auth.Grant) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Name == acc.Name {
			return auth.Account{}, auth.ErrConflict
		}
	}
	now := s.now().UTC()
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	grants := make([]auth.Grant, 0, len(owners))
	for _, g := range owners {
		if _, ok := s.users[g.UserID]; !ok {
			return auth.Account{}, auth.ErrNotFound
		}
		if _, ok := s.roles[g.RoleID]; !ok {
			r, found := s.roleByNameLocked(g.RoleID)
			if !found {
				return auth.Account{}, auth.ErrNotFound
			}
			g.RoleID = r.ID
		}
		if g.ID == "" {
			g.ID = ids.New()
		}
		if g.GrantedAt.IsZero() {
			g.GrantedAt = now
		}
		g.AccountID = acc.ID
		grants = append(grants, g)
	}
	acc.CreatedAt, acc.UpdatedAt = now, now
	s.accounts[acc.ID] = acc
	s.grants = append(s.grants, grants...)
	return acc, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, upd auth.AccountUpdate) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok || acc.Deleted {
		return auth.Account{}, auth.ErrNotFound
	}
	if upd.DisplayName != nil {
		acc.DisplayName = *upd.DisplayName
	}
	if upd.Active != nil {
		acc.Active = *upd.Active
	}
	acc.UpdatedAt = s.now().UTC()
	s.accounts[id] = acc
	return acc, nil
}

func (s *Store) ListAccountUsers(_ context.Context, accountID string) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []auth.User
	for _, g := range s.grants {
		if g.AccountID != accountID || !g.Active || g.RevokedAt != nil || seen[g.UserID] {
			continue
		}
		u, ok := s.users[g.UserID]
		if !ok || !u.Active || u.Deleted {
			continue
		}
		seen[g.UserID] = true
		out = append(out, s.withEmails(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Roles and permissions ------------------------------------------------------

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetRole looks a role up by id or by name.
func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[id]; ok {
		return r, nil
	}
	for _, r := range s.roles {
		if r.Name == id {
			return r, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) CreateRole(_ context.Context, role auth.Role, names []string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return auth.Role{}, auth.ErrConflict
		}
	}
	role.Permissions = nil
	for _, n := range names {
		p, ok := s.permissions[n]
		if !ok {
			return auth.Role{}, fmt.Errorf("%w: unknown permission %s", auth.ErrInvalidInput, n)
		}
		role.Permissions = append(role.Permissions, p)
	}
	now := s.now().UTC()
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Grants ----------------------------------------------------------------------

func (s *Store) GrantsForUser(_ context.Context, userID string) ([]auth.GrantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.GrantRecord
	for _, g := range s.grants {
		if g.UserID != userID {
			continue
		}
		rec := auth.GrantRecord{Grant: g}
		if acc, ok := s.accounts[g.AccountID]; ok && !acc.Deleted {
			acc := acc
			rec.Account = &acc
		}
		if role, ok := s.roles[g.RoleID]; ok && !role.Deleted {
			role := role
			rec.Role = &role
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) CreateGrant(_ context.Context, g auth.Grant) (auth.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[g.AccountID]; !ok {
		return auth.Grant{}, auth.ErrNotFound
	}
	if _, ok := s.roles[g.RoleID]; !ok {
		if r, found := s.roleByNameLocked(g.RoleID); found {
			g.RoleID = r.ID
		} else {
			return auth.Grant{}, auth.ErrNotFound
		}
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = s.now().UTC()
	}
	s.grants = append(s.grants, g)
	return g, nil
}

func (s *Store) RevokeGrant(_ context.Context, accountID, grantID string, at time.Time) (auth.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.grants {
		if g.ID != grantID || g.AccountID != accountID {
			continue
		}
		g.Active = false
		g.RevokedAt = &at
		s.grants[i] = g
		return g, nil
	}
	return auth.Grant{}, auth.ErrNotFound
}

func (s *Store) roleByNameLocked(name string) (auth.Role, bool) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, true
		}
	}
	return auth.Role{}, false
}

// Events ----------------------------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, e auth.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded audit events.
func (s *Store) Events() []auth.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auth.Event(nil), s.events...)
}

// Locations -------------------------------------------------------------------

func (s *Store) ListLocations(_ context.Context, accountID string) ([]location.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]location.Location, 0)
	for _, l := range s.locations {
		if l.AccountID == accountID && l.Visible() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (location.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok {
		return location.Location{}, auth.ErrNotFound
	}
	return l, nil
}

func (s *Store) CreateLocation(_ context.Context, l location.Location) (location.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = ids.New()
	}
	if _, ok := s.locations[l.ID]; ok {
		return location.Location{}, auth.ErrConflict
	}
	s.locations[l.ID] = l
	return l, nil
}

func (s *Store) UpdateLocation(_ context.Context, l location.Location) (location.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[l.ID]; !ok {
		return location.Location{}, auth.ErrNotFound
	}
	s.locations[l.ID] = l
	return l, nil
}
