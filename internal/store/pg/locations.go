package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"eostre.org/internal/ids"
	"eostre.org/internal/location"
)

const locationColumns = `id, name, coalesce(display_name, ''), account_id, active, deleted, deleted_at,
	created_by, created_at, coalesce(modified_by, ''), modified_at, geo_point, address`

func scanLocation(row rowScanner) (location.Location, error) {
	var (
		l         location.Location
		deleted   sql.NullTime
		geo, addr []byte
	)
	if err := row.Scan(&l.ID, &l.Name, &l.DisplayName, &l.AccountID, &l.Active, &l.Deleted, &deleted,
		&l.CreatedBy, &l.CreatedDate, &l.ModifiedBy, &l.ModifiedDate, &geo, &addr); err != nil {
		return location.Location{}, err
	}
	l.DeletedDate = timePtr(deleted)
	if len(geo) > 0 {
		if err := json.Unmarshal(geo, &l.GeoPoint); err != nil {
			return location.Location{}, fmt.Errorf("decode geo_point: %w", err)
		}
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &l.Address); err != nil {
			return location.Location{}, fmt.Errorf("decode address: %w", err)
		}
	}
	return l, nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}

// ListLocations returns the account's active, non-deleted locations.
func (s *Store) ListLocations(ctx context.Context, accountID string) ([]location.Location, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+locationColumns+`
		from locations
		where account_id = $1 and active and not deleted
		order by id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]location.Location, 0)
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (location.Location, error) {
	if s.db == nil {
		return location.Location{}, errNoDB
	}
	l, err := scanLocation(s.db.QueryRowContext(ctx, `select `+locationColumns+` from locations where id = $1`, id))
	if err != nil {
		return location.Location{}, translate(err)
	}
	return l, nil
}

func (s *Store) CreateLocation(ctx context.Context, l location.Location) (location.Location, error) {
	if s.db == nil {
		return location.Location{}, errNoDB
	}
	if l.ID == "" {
		l.ID = ids.New()
	}
	geo, err := marshalJSON(l.GeoPoint)
	if err != nil {
		return location.Location{}, err
	}
	addr, err := marshalJSON(l.Address)
	if err != nil {
		return location.Location{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into locations (id, name, display_name, account_id, active, deleted, deleted_at,
			created_by, created_at, modified_by, modified_at, geo_point, address)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, l.ID, l.Name, nullIfEmpty(l.DisplayName), l.AccountID, l.Active, l.Deleted, nullTime(l.DeletedDate),
		l.CreatedBy, l.CreatedDate, nullIfEmpty(l.ModifiedBy), l.ModifiedDate, geo, addr)
	if err != nil {
		return location.Location{}, translate(err)
	}
	return l, nil
}

// UpdateLocation overwrites every mutable column of an existing row.
func (s *Store) UpdateLocation(ctx context.Context, l location.Location) (location.Location, error) {
	if s.db == nil {
		return location.Location{}, errNoDB
	}
	geo, err := marshalJSON(l.GeoPoint)
	if err != nil {
		return location.Location{}, err
	}
	addr, err := marshalJSON(l.Address)
	if err != nil {
		return location.Location{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		update locations
		set name = $2, display_name = $3, active = $4, deleted = $5, deleted_at = $6,
		    modified_by = $7, modified_at = $8, geo_point = $9, address = $10
		where id = $1
	`, l.ID, l.Name, nullIfEmpty(l.DisplayName), l.Active, l.Deleted, nullTime(l.DeletedDate),
		nullIfEmpty(l.ModifiedBy), l.ModifiedDate, geo, addr)
	if err != nil {
		return location.Location{}, translate(err)
	}
	if err := affected(res); err != nil {
		return location.Location{}, err
	}
	return l, nil
}
