package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/ids"
)

// userSelect reads a user with its primary address and the comma joined
// active alternates.
const userSelect = `
	select u.id, u.name, u.type,
	       coalesce(u.personal_name, ''), coalesce(u.family_names, ''), coalesce(u.display_name, ''),
	       u.password_hash, u.active, u.deleted, u.created_at, u.updated_at,
	       coalesce((select e.address from emails e where e.user_id = u.id and e.is_primary limit 1), ''),
	       coalesce((select string_agg(e.address, ',' order by e.address)
	                 from emails e where e.user_id = u.id and not e.is_primary and e.active), '')
	from users u`

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u    auth.User
		typ  string
		alts string
	)
	if err := row.Scan(&u.ID, &u.Name, &typ, &u.PersonalName, &u.FamilyNames, &u.DisplayName,
		&u.PasswordHash, &u.Active, &u.Deleted, &u.CreatedAt, &u.UpdatedAt, &u.Email, &alts); err != nil {
		return auth.User{}, err
	}
	u.Type = auth.UserType(typ)
	u.AlternateEmails = splitList(alts)
	return u, nil
}

func (s *Store) queryUser(ctx context.Context, where string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+"\n\twhere "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.queryUser(ctx, "u.id = $1", id)
}

func (s *Store) FindByUsername(ctx context.Context, name string) (auth.User, error) {
	return s.queryUser(ctx, "u.name = $1", name)
}

func (s *Store) FindByVerifiedEmail(ctx context.Context, address string) (auth.User, error) {
	return s.queryUser(ctx, `u.id = (
		select user_id from emails
		where address = $1 and active and verified_at is not null)`, strings.ToLower(address))
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(u.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users (id, name, type, personal_name, family_names, display_name, password_hash, active, deleted)
		values ($1, $2, $3, $4, $5, $6, $7, $8, false)
		returning created_at, updated_at
	`, u.ID, u.Name, string(u.Type), nullIfEmpty(u.PersonalName), nullIfEmpty(u.FamilyNames),
		nullIfEmpty(u.DisplayName), u.PasswordHash, u.Active).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, translate(err)
	}
	if u.Email != "" {
		if _, err := tx.ExecContext(ctx, `
			insert into emails (address, user_id, is_primary, active)
			values ($1, $2, true, true)
		`, u.Email, u.ID); err != nil {
			return auth.User{}, translate(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// --- emails ---

func (s *Store) FindEmail(ctx context.Context, address string) (auth.Email, error) {
	if s.db == nil {
		return auth.Email{}, errNoDB
	}
	var (
		e        auth.Email
		verified sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select address, user_id, is_primary, active, verified_at, created_at
		from emails
		where address = $1
	`, strings.ToLower(address)).Scan(&e.Address, &e.UserID, &e.Primary, &e.Active, &verified, &e.CreatedAt)
	if err != nil {
		return auth.Email{}, translate(err)
	}
	e.VerifiedAt = timePtr(verified)
	return e, nil
}

func (s *Store) AddEmail(ctx context.Context, e auth.Email) (auth.Email, error) {
	if s.db == nil {
		return auth.Email{}, errNoDB
	}
	e.Address = strings.ToLower(e.Address)
	err := s.db.QueryRowContext(ctx, `
		insert into emails (address, user_id, is_primary, active, verified_at)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, e.Address, e.UserID, e.Primary, e.Active, nullTime(e.VerifiedAt)).Scan(&e.CreatedAt)
	if err != nil {
		return auth.Email{}, translate(err)
	}
	return e, nil
}

// --- events ---

func (s *Store) AppendEvent(ctx context.Context, e auth.Event) error {
	if s.db == nil {
		return errNoDB
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := marshalJSON(e.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into events (id, user_id, type, description, data, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, e.ID, nullIfEmpty(e.UserID), e.Type, e.Description, data, e.CreatedAt)
	return translate(err)
}

// SetPasswordHash replaces the hash of a user that still carries the locked
// seed placeholder. It reports whether a row changed.
func (s *Store) SetPasswordHash(ctx context.Context, name, hash string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where name = $1 and password_hash = '!'
	`, name, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
