package auth

import (
	"context"
	"errors"
	"strings"
)

// Identifier selects the lookup used by Authenticate. Exactly one field should be set;
// Username wins when both are.
type Identifier struct {
	Username string
	Email    string
}

// Empty reports whether neither field was supplied.
func (id Identifier) Empty() bool {
	return strings.TrimSpace(id.Username) == "" && strings.TrimSpace(id.Email) == ""
}

// Credentials verifies login credentials against stored password hashes.
type Credentials struct {
	users UserStore
}

// NewCredentials constructs a credential store over users.
func NewCredentials(users UserStore) *Credentials {
	return &Credentials{users: users}
}

// Authenticate returns the user matching id and password. An unknown user, a disabled
// user and a wrong password all yield ErrInvalidCredentials.
func (c *Credentials) Authenticate(ctx context.Context, id Identifier, password string) (User, error) {
	if id.Empty() {
		return User{}, ErrInvalidCredentials
	}

	var (
		user User
		err  error
	)
	if name := strings.TrimSpace(id.Username); name != "" {
		user, err = c.users.FindByUsername(ctx, name)
	} else {
		user, err = c.users.FindByVerifiedEmail(ctx, strings.ToLower(strings.TrimSpace(id.Email)))
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyHash, password)
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.CanLogin() {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
