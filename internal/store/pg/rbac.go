package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/ids"
)

// --- accounts ---

const accountColumns = `id, name, coalesce(display_name, ''), active, deleted, created_at, updated_at`

func scanAccount(row rowScanner) (auth.Account, error) {
	var acc auth.Account
	err := row.Scan(&acc.ID, &acc.Name, &acc.DisplayName, &acc.Active, &acc.Deleted, &acc.CreatedAt, &acc.UpdatedAt)
	return acc, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
	if err != nil {
		return auth.Account{}, translate(err)
	}
	return acc, nil
}

// CreateAccount inserts the account and its owner grants in one transaction.
func (s *Store) CreateAccount(ctx context.Context, acc auth.Account, owners ...auth.Grant) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	if acc.ID == "" {
		acc.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanAccount(tx.QueryRowContext(ctx, `
		insert into accounts (id, name, display_name, active, deleted)
		values ($1, $2, $3, $4, false)
		returning `+accountColumns,
		acc.ID, acc.Name, nullIfEmpty(acc.DisplayName), acc.Active))
	if err != nil {
		return auth.Account{}, translate(err)
	}
	for _, g := range owners {
		if g.ID == "" {
			g.ID = ids.New()
		}
		if g.GrantedAt.IsZero() {
			g.GrantedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into grants (id, user_id, account_id, role_id, active, granted_at, granted_by)
			values ($1, $2, $3, $4, $5, $6, $7)`,
			g.ID, g.UserID, created.ID, g.RoleID, g.Active, g.GrantedAt, nullIfEmpty(g.GrantedByID)); err != nil {
			return auth.Account{}, translate(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Account{}, err
	}
	return created, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd auth.AccountUpdate) (auth.Account, error) {
	if s.db == nil {
		return auth.Account{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, nullIfEmpty(*upd.DisplayName))
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update accounts set %s where id = $%d and not deleted`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Account{}, translate(err)
		}
		if err := affected(res); err != nil {
			return auth.Account{}, err
		}
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) ListAccountUsers(ctx context.Context, accountID string) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, userSelect+`
	where u.active and not u.deleted
	  and exists (
		select 1 from grants g
		where g.user_id = u.id and g.account_id = $1 and g.active and g.revoked_at is null)
	order by u.name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// --- roles and permissions ---

const roleColumns = `r.id, r.name, coalesce(r.display_name, ''), r.active, r.deleted, r.created_at, r.updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Active, &r.Deleted, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles r order by r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	perms, err := s.rolePermissions(ctx, `
		select rp.role_id, p.id, p.name, coalesce(p.display_name, ''), p.scope, p.active
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		order by p.name`)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = perms[roles[i].ID]
	}
	return roles, nil
}

// GetRole looks a role up by id or by name.
func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles r where r.id = $1 or r.name = $1`, id))
	if err != nil {
		return auth.Role{}, translate(err)
	}
	perms, err := s.rolePermissions(ctx, `
		select rp.role_id, p.id, p.name, coalesce(p.display_name, ''), p.scope, p.active
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name`, r.ID)
	if err != nil {
		return auth.Role{}, err
	}
	r.Permissions = perms[r.ID]
	return r, nil
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role, names []string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	if role.ID == "" {
		role.ID = ids.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := scanRole(tx.QueryRowContext(ctx, `
		insert into roles as r (id, name, display_name, active, deleted)
		values ($1, $2, $3, $4, false)
		returning `+roleColumns,
		role.ID, role.Name, nullIfEmpty(role.DisplayName), role.Active))
	if err != nil {
		return auth.Role{}, translate(err)
	}

	for _, name := range names {
		var p auth.Permission
		err := tx.QueryRowContext(ctx, `
			select id, name, coalesce(display_name, ''), scope, active
			from permissions where name = $1
		`, name).Scan(&p.ID, &p.Name, &p.DisplayName, &p.Scope, &p.Active)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Role{}, fmt.Errorf("%w: unknown permission %s", auth.ErrInvalidInput, name)
		}
		if err != nil {
			return auth.Role{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, created.ID, p.ID); err != nil {
			return auth.Role{}, translate(err)
		}
		created.Permissions = append(created.Permissions, p)
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return created, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(display_name, ''), scope, active
		from permissions
		where active
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Scope, &p.Active); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// rolePermissions groups (role_id, permission...) rows by role, dropping
// duplicate pairs.
func (s *Store) rolePermissions(ctx context.Context, query string, args ...any) (map[string][]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]auth.Permission)
	seen := make(map[[2]string]bool)
	for rows.Next() {
		var (
			roleID string
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.DisplayName, &p.Scope, &p.Active); err != nil {
			return nil, err
		}
		key := [2]string{roleID, p.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out[roleID] = append(out[roleID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// --- grants ---

const grantColumns = `id, user_id, account_id, role_id, active, granted_at, revoked_at, coalesce(granted_by, '')`

func scanGrant(row rowScanner) (auth.Grant, error) {
	var (
		g       auth.Grant
		revoked sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.AccountID, &g.RoleID, &g.Active, &g.GrantedAt, &revoked, &g.GrantedByID); err != nil {
		return auth.Grant{}, err
	}
	g.RevokedAt = timePtr(revoked)
	return g, nil
}

// GrantsForUser returns every grant of the user. Account and Role stay nil
// when the referenced row is deleted.
func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]auth.GrantRecord, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.user_id, g.account_id, g.role_id, g.active, g.granted_at, g.revoked_at, coalesce(g.granted_by, ''),
		       a.id, a.name, a.display_name, a.active, a.created_at, a.updated_at,
		       r.id, r.name, r.display_name, r.active, r.created_at, r.updated_at
		from grants g
		left join accounts a on a.id = g.account_id and not a.deleted
		left join roles r on r.id = g.role_id and not r.deleted
		where g.user_id = $1
		order by g.granted_at, g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []auth.GrantRecord
	for rows.Next() {
		var (
			rec                           auth.GrantRecord
			revoked                       sql.NullTime
			accID, accName, accDisplay    sql.NullString
			roleID, roleName, roleDisplay sql.NullString
			accActive, roleActive         sql.NullBool
			accCreated, accUpdated        sql.NullTime
			roleCreated, roleUpdated      sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.AccountID, &rec.RoleID, &rec.Active, &rec.GrantedAt, &revoked, &rec.GrantedByID,
			&accID, &accName, &accDisplay, &accActive, &accCreated, &accUpdated,
			&roleID, &roleName, &roleDisplay, &roleActive, &roleCreated, &roleUpdated); err != nil {
			return nil, err
		}
		rec.RevokedAt = timePtr(revoked)
		if accID.Valid {
			rec.Account = &auth.Account{
				ID: accID.String, Name: accName.String, DisplayName: accDisplay.String,
				Active: accActive.Bool, CreatedAt: accCreated.Time, UpdatedAt: accUpdated.Time,
			}
		}
		if roleID.Valid {
			rec.Role = &auth.Role{
				ID: roleID.String, Name: roleName.String, DisplayName: roleDisplay.String,
				Active: roleActive.Bool, CreatedAt: roleCreated.Time, UpdatedAt: roleUpdated.Time,
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	perms, err := s.rolePermissions(ctx, `
		select rp.role_id, p.id, p.name, coalesce(p.display_name, ''), p.scope, p.active
		from grants g
		join role_permissions rp on rp.role_id = g.role_id
		join permissions p on p.id = rp.permission_id
		where g.user_id = $1
		order by p.name`, userID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Role != nil {
			records[i].Role.Permissions = perms[records[i].Role.ID]
		}
	}
	return records, nil
}

func (s *Store) CreateGrant(ctx context.Context, g auth.Grant) (auth.Grant, error) {
	if s.db == nil {
		return auth.Grant{}, errNoDB
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	created, err := scanGrant(s.db.QueryRowContext(ctx, `
		insert into grants (id, user_id, account_id, role_id, active, granted_at, granted_by)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+grantColumns,
		g.ID, g.UserID, g.AccountID, g.RoleID, g.Active, g.GrantedAt, nullIfEmpty(g.GrantedByID)))
	if err != nil {
		return auth.Grant{}, translate(err)
	}
	return created, nil
}

// RevokeGrant deactivates a grant; grants of other accounts are not found.
func (s *Store) RevokeGrant(ctx context.Context, accountID, grantID string, at time.Time) (auth.Grant, error) {
	if s.db == nil {
		return auth.Grant{}, errNoDB
	}
	g, err := scanGrant(s.db.QueryRowContext(ctx, `
		update grants set active = false, revoked_at = $3
		where id = $1 and account_id = $2
		returning `+grantColumns,
		grantID, accountID, at))
	if err != nil {
		return auth.Grant{}, translate(err)
	}
	return g, nil
}
