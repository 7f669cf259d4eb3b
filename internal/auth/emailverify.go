package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultValidationTTL = 2 * time.Hour
	tokenEventEmail      = "email"
)

// TokenEvent is a pending, single-use validation token.
type TokenEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	CreatedBy  string    `json:"created_by"`
	CreatedFor string    `json:"created_for"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the event is no longer usable at now.
func (e TokenEvent) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TokenEventStore keeps pending token events. Lookups of missing or expired events
// return ErrNotFound.
type TokenEventStore interface {
	// CreateEvent stores ev only if no live event holds ev.Key, and returns
	// ErrConflict otherwise. The check and the write are one atomic step.
	CreateEvent(ctx context.Context, ev TokenEvent) error
	SaveEvent(ctx context.Context, ev TokenEvent) error
	GetEvent(ctx context.Context, id string) (TokenEvent, error)
	FindEventByKey(ctx context.Context, key string) (TokenEvent, error)
	DeleteEvent(ctx context.Context, ev TokenEvent) error
}

// Mailer delivers validation links.
type Mailer interface {
	SendValidation(ctx context.Context, to, name, link string) error
}

// ValidationStore is the user and email persistence email validation needs.
type ValidationStore interface {
	UserStore
	EmailStore
}

// EmailValidator issues and confirms email ownership tokens.
type EmailValidator struct {
	store   ValidationStore
	events  TokenEventStore
	mailer  Mailer
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// ValidatorOption configures EmailValidator.
type ValidatorOption func(*EmailValidator)

// WithMailer enables delivery. Without a mailer the link is returned to the caller.
func WithMailer(m Mailer) ValidatorOption {
	return func(v *EmailValidator) { v.mailer = m }
}

// WithValidationTTL overrides the two hour token lifetime.
func WithValidationTTL(ttl time.Duration) ValidatorOption {
	return func(v *EmailValidator) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithValidatorClock overrides the time source.
func WithValidatorClock(fn func() time.Time) ValidatorOption {
	return func(v *EmailValidator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewEmailValidator constructs a validator producing links under baseURL.
func NewEmailValidator(store ValidationStore, events TokenEventStore, baseURL string, opts ...ValidatorOption) *EmailValidator {
	v := &EmailValidator{
		store:   store,
		events:  events,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     defaultValidationTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidationResult reports how a validation request was fulfilled.
type ValidationResult struct {
	Sent bool
	URL  string
}

// SendValidation creates or renews a validation token for address on behalf of userID.
// Addresses owned by or pending for another user are refused with a generic error.
func (v *EmailValidator) SendValidation(ctx context.Context, userID, address string) (ValidationResult, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || !strings.Contains(address, "@") {
		return ValidationResult{}, fmt.Errorf("%w: no email address provided", ErrInvalidInput)
	}

	existing, err := v.store.FindEmail(ctx, address)
	switch {
	case err == nil && existing.UserID == userID:
		return ValidationResult{}, fmt.Errorf("%w: the provided email is already validated", ErrEmailUnavailable)
	case err == nil:
		return ValidationResult{}, fmt.Errorf("%w: unable to process the provided email address", ErrEmailUnavailable)
	case !errors.Is(err, ErrNotFound):
		return ValidationResult{}, err
	}

	now := v.now().UTC()
	ev, err := v.events.FindEventByKey(ctx, address)
	switch {
	case err == nil && ev.CreatedFor != userID:
		return ValidationResult{}, fmt.Errorf("%w: unable to process the provided email address", ErrEmailUnavailable)
	case err == nil:
		ev.ExpiresAt = now.Add(v.ttl)
		if err := v.events.SaveEvent(ctx, ev); err != nil {
			return ValidationResult{}, err
		}
	case errors.Is(err, ErrNotFound):
		ev = TokenEvent{
			ID:         uuid.NewString(),
			Type:       tokenEventEmail,
			Key:        address,
			CreatedBy:  userID,
			CreatedFor: userID,
			ExpiresAt:  now.Add(v.ttl),
		}
		// Another request may have claimed the address since the lookup.
		err := v.events.CreateEvent(ctx, ev)
		if errors.Is(err, ErrConflict) {
			return ValidationResult{}, fmt.Errorf("%w: unable to process the provided email address", ErrEmailUnavailable)
		}
		if err != nil {
			return ValidationResult{}, err
		}
	default:
		return ValidationResult{}, err
	}

	link := v.link(ev.ID)
	if v.mailer == nil {
		return ValidationResult{URL: link}, nil
	}
	user, err := v.store.GetUser(ctx, userID)
	if err != nil {
		return ValidationResult{}, err
	}
	if err := v.mailer.SendValidation(ctx, address, user.Greeting(), link); err != nil {
		return ValidationResult{}, fmt.Errorf("send validation email: %w", err)
	}
	return ValidationResult{Sent: true}, nil
}

// Confirm consumes token and attaches its address to the requesting user as a verified email.
func (v *EmailValidator) Confirm(ctx context.Context, token string) (Email, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Email{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	ev, err := v.events.GetEvent(ctx, token)
	if err != nil {
		return Email{}, err
	}
	now := v.now().UTC()
	if ev.Type != tokenEventEmail || ev.Expired(now) {
		return Email{}, ErrNotFound
	}
	email, err := v.store.AddEmail(ctx, Email{
		Address:    ev.Key,
		UserID:     ev.CreatedFor,
		Active:     true,
		VerifiedAt: &now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Email{}, fmt.Errorf("%w: unable to process the provided email address", ErrEmailUnavailable)
		}
		return Email{}, err
	}
	if err := v.events.DeleteEvent(ctx, ev); err != nil {
		return Email{}, err
	}
	return email, nil
}

func (v *EmailValidator) link(id string) string {
	return v.baseURL + "/v1/email/validate?token=" + url.QueryEscape(id)
}
