package auth

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

var (
	testKeysOnce sync.Once
	testKeys     KeyPair
	otherKeys    KeyPair
)

func keyPairs(t *testing.T) (KeyPair, KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		testKeys = generateKeyPair(t)
		otherKeys = generateKeyPair(t)
	})
	return testKeys, otherKeys
}

func generateKeyPair(t *testing.T) KeyPair {
	t.Helper()
	privPEM, pubPEM, err := GenerateKeyPEM(2048)
	if err != nil {
		t.Fatalf("GenerateKeyPEM: %v", err)
	}
	priv, err := ParsePrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKeyPEM: %v", err)
	}
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM: %v", err)
	}
	return KeyPair{Private: priv, Public: pub}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{now: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCodec(t *testing.T, clock *fixedClock, opts ...CodecOption) *Codec {
	t.Helper()
	keys, _ := keyPairs(t)
	opts = append([]CodecOption{WithClock(clock.Now), WithIssuer("eostre-test")}, opts...)
	codec, err := NewCodec(keys, opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]User
	emails   map[string]Email
	accounts map[string]Account
	roles    map[string]Role
	grants   []Grant
	events   []Event
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]User{},
		emails:   map[string]Email{},
		accounts: map[string]Account{},
		roles:    map[string]Role{},
	}
}

func (s *fakeStore) addUser(t *testing.T, id, name, password string) User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := User{ID: id, Name: name, Type: UserTypeUser, PasswordHash: hash, Active: true}
	s.users[id] = u
	return u
}

func (s *fakeStore) addRole(id string, perms ...string) Role {
	r := Role{ID: id, Name: id, Active: true}
	for _, p := range perms {
		r.Permissions = append(r.Permissions, Permission{ID: p, Name: p, Active: true})
	}
	s.roles[id] = r
	return r
}

func (s *fakeStore) addGrant(userID, accountID, roleID string, at time.Time) Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g := Grant{ID: "g" + strconv.Itoa(s.seq), UserID: userID, AccountID: accountID, RoleID: roleID, Active: true, GrantedAt: at}
	s.grants = append(s.grants, g)
	return g
}

func (s *fakeStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) FindByUsername(_ context.Context, name string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fakeStore) FindByVerifiedEmail(_ context.Context, address string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[address]
	if !ok || !e.Active || e.VerifiedAt == nil {
		return User{}, ErrNotFound
	}
	u, ok := s.users[e.UserID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) CreateUser(_ context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Name == u.Name {
			return User{}, ErrConflict
		}
	}
	s.seq++
	u.ID = "u" + strconv.Itoa(s.seq)
	s.users[u.ID] = u
	return u, nil
}

func (s *fakeStore) GrantsForUser(_ context.Context, userID string) ([]GrantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []GrantRecord
	for _, g := range s.grants {
		if g.UserID != userID {
			continue
		}
		rec := GrantRecord{Grant: g}
		if acc, ok := s.accounts[g.AccountID]; ok {
			acc := acc
			rec.Account = &acc
		}
		if role, ok := s.roles[g.RoleID]; ok {
			role := role
			rec.Role = &role
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) CreateGrant(_ context.Context, g Grant) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g.ID = "g" + strconv.Itoa(s.seq)
	s.grants = append(s.grants, g)
	return g, nil
}

func (s *fakeStore) RevokeGrant(_ context.Context, accountID, grantID string, at time.Time) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.grants {
		if g.ID == grantID && g.AccountID == accountID {
			g.Active = false
			g.RevokedAt = &at
			s.grants[i] = g
			return g, nil
		}
	}
	return Grant{}, ErrNotFound
}

func (s *fakeStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *fakeStore) CreateAccount(_ context.Context, acc Account, owners ...Grant) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Name == acc.Name {
			return Account{}, ErrConflict
		}
	}
	if acc.ID == "" {
		acc.ID = acc.Name
	}
	for _, g := range owners {
		if _, ok := s.roles[g.RoleID]; !ok {
			return Account{}, ErrNotFound
		}
	}
	s.accounts[acc.ID] = acc
	for _, g := range owners {
		s.seq++
		g.ID = "g" + strconv.Itoa(s.seq)
		g.AccountID = acc.ID
		s.grants = append(s.grants, g)
	}
	return acc, nil
}

func (s *fakeStore) UpdateAccount(_ context.Context, id string, upd AccountUpdate) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if upd.DisplayName != nil {
		acc.DisplayName = *upd.DisplayName
	}
	if upd.Active != nil {
		acc.Active = *upd.Active
	}
	s.accounts[id] = acc
	return acc, nil
}

func (s *fakeStore) ListAccountUsers(_ context.Context, accountID string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []User
	for _, g := range s.grants {
		if g.AccountID != accountID || !g.Active || seen[g.UserID] {
			continue
		}
		if u, ok := s.users[g.UserID]; ok && u.Active && !u.Deleted {
			seen[g.UserID] = true
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) ListRoles(_ context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) GetRole(_ context.Context, id string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) CreateRole(_ context.Context, role Role, names []string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role.ID = role.Name
	for _, n := range names {
		role.Permissions = append(role.Permissions, Permission{ID: n, Name: n, Active: true})
	}
	s.roles[role.ID] = role
	return role, nil
}

func (s *fakeStore) ListPermissions(_ context.Context) ([]Permission, error) {
	return BuiltinPermissions, nil
}

func (s *fakeStore) FindEmail(_ context.Context, address string) (Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[address]
	if !ok {
		return Email{}, ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) AddEmail(_ context.Context, e Email) (Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[e.Address]; ok {
		return Email{}, ErrConflict
	}
	s.emails[e.Address] = e
	return e, nil
}

func (s *fakeStore) AppendEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

var _ Store = (*fakeStore)(nil)
