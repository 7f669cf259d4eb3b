package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"eostre.org/internal/auth"
	"eostre.org/internal/ids"
	"eostre.org/internal/obs"
	"eostre.org/internal/stream"
)

// Store persists locations. Lookups of unknown ids return auth.ErrNotFound.
type Store interface {
	// ListLocations returns the account's active, non-deleted locations.
	ListLocations(ctx context.Context, accountID string) ([]Location, error)
	GetLocation(ctx context.Context, id string) (Location, error)
	CreateLocation(ctx context.Context, loc Location) (Location, error)
	UpdateLocation(ctx context.Context, loc Location) (Location, error)
}

// Publisher forwards changes outside the process.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Actor is the authenticated caller a write is performed for.
type Actor struct {
	UserID    string
	AccountID string
}

// Service implements account scoped location management.
type Service struct {
	store      Store
	hub        *stream.Stream[Change]
	publishers []Publisher
	now        func() time.Time
}

type Option func(*Service)

// WithHub publishes changes on an in-process stream.
func WithHub(h *stream.Stream[Change]) Option {
	return func(s *Service) { s.hub = h }
}

// WithPublisher adds an external publisher such as MQTT.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("location store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Hub returns the change stream, or nil when streaming is disabled.
func (s *Service) Hub() *stream.Stream[Change] { return s.hub }

// List returns the account's visible locations. When ids are given, exactly
// those locations are returned, deleted ones included; any id that does not
// belong to the account is reported as not found.
func (s *Service) List(ctx context.Context, accountID string, idList []string) ([]Location, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, auth.ErrForbidden
	}
	if len(idList) == 0 {
		return s.store.ListLocations(ctx, accountID)
	}
	out := make([]Location, 0, len(idList))
	for _, id := range idList {
		loc, err := s.owned(ctx, accountID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, actor Actor, in Input) (Location, error) {
	if err := checkAccount(actor, in.AccountID); err != nil {
		return Location{}, err
	}
	if err := in.validate(); err != nil {
		return Location{}, err
	}
	now := s.now().UTC()
	loc := Location{
		ID:           ids.New(),
		Name:         strings.TrimSpace(in.Name),
		DisplayName:  strings.TrimSpace(in.DisplayName),
		AccountID:    actor.AccountID,
		Active:       true,
		CreatedBy:    actor.UserID,
		CreatedDate:  now,
		ModifiedBy:   actor.UserID,
		ModifiedDate: now,
		GeoPoint:     in.GeoPoint,
		Address:      in.Address,
	}
	if in.Active != nil {
		loc.Active = *in.Active
	}
	created, err := s.store.CreateLocation(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	s.emit(ctx, OpCreated, created)
	return created, nil
}

func (s *Service) Update(ctx context.Context, actor Actor, in Input) (Location, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Location{}, fmt.Errorf("%w: the id value for the location is required for updates", auth.ErrInvalidInput)
	}
	if err := checkAccount(actor, in.AccountID); err != nil {
		return Location{}, err
	}
	if err := in.validate(); err != nil {
		return Location{}, err
	}
	loc, err := s.owned(ctx, actor.AccountID, id)
	if err != nil {
		return Location{}, err
	}
	loc.Name = strings.TrimSpace(in.Name)
	loc.DisplayName = strings.TrimSpace(in.DisplayName)
	loc.GeoPoint = in.GeoPoint
	loc.Address = in.Address
	if in.Active != nil {
		loc.Active = *in.Active
	}
	loc.ModifiedBy = actor.UserID
	loc.ModifiedDate = s.now().UTC()

	updated, err := s.store.UpdateLocation(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	s.emit(ctx, OpUpdated, updated)
	return updated, nil
}

// Delete soft deletes the location: it stays readable by id but leaves listings.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) (Location, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Location{}, fmt.Errorf("%w: the id value for the location is required", auth.ErrInvalidInput)
	}
	loc, err := s.owned(ctx, actor.AccountID, id)
	if err != nil {
		return Location{}, err
	}
	now := s.now().UTC()
	loc.Deleted = true
	loc.Active = false
	loc.DeletedDate = &now
	loc.ModifiedBy = actor.UserID
	loc.ModifiedDate = now

	deleted, err := s.store.UpdateLocation(ctx, loc)
	if err != nil {
		return Location{}, err
	}
	s.emit(ctx, OpDeleted, deleted)
	return deleted, nil
}

// owned loads id and hides locations of other accounts behind ErrNotFound.
func (s *Service) owned(ctx context.Context, accountID, id string) (Location, error) {
	loc, err := s.store.GetLocation(ctx, strings.TrimSpace(id))
	if err != nil {
		return Location{}, err
	}
	if loc.AccountID != accountID {
		return Location{}, auth.ErrNotFound
	}
	return loc, nil
}

func checkAccount(actor Actor, requested string) error {
	if actor.AccountID == "" {
		return auth.ErrForbidden
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != actor.AccountID {
		return fmt.Errorf("%w: the account_id value of the object does not match the account_id of the user", auth.ErrForbidden)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, op Op, loc Location) {
	c := Change{Op: op, AccountID: loc.AccountID, Location: loc, At: s.now().UTC()}
	if s.hub != nil {
		s.hub.Publish(c)
	}
	for _, p := range s.publishers {
		if err := p.Publish(ctx, c); err != nil {
			obs.From(ctx).Warn("publish location change",
				zap.String("op", string(op)),
				zap.String("location_id", loc.ID),
				zap.Error(err))
		}
	}
}
