package location_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"eostre.org/internal/auth"
	"eostre.org/internal/location"
	"eostre.org/internal/store/memory"
	"eostre.org/internal/stream"
)

type recordingPublisher struct {
	changes []location.Change
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, c location.Change) error {
	p.changes = append(p.changes, c)
	return p.err
}

func newService(t *testing.T, opts ...location.Option) *location.Service {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]location.Option{location.WithClock(func() time.Time { return clock })}, opts...)
	svc, err := location.NewService(memory.New(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func point(lon, lat float64) location.GeoPoint {
	return location.GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

var alice = location.Actor{UserID: "alice-id", AccountID: "demo"}

func TestCreateStampsAuditFields(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newService(t, location.WithPublisher(pub))

	loc, err := svc.Create(context.Background(), alice, location.Input{
		Name:     "HQ",
		GeoPoint: point(-105.27, 40.01),
		Address:  location.Address{Locality: "Boulder", CountryRegion: &location.CountryRegion{Name: "United States"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if loc.ID == "" || loc.AccountID != "demo" || loc.CreatedBy != "alice-id" || loc.ModifiedBy != "alice-id" {
		t.Fatalf("unexpected location %+v", loc)
	}
	if !loc.Active || loc.Deleted || loc.CreatedDate.IsZero() {
		t.Fatalf("expected active new location, got %+v", loc)
	}
	if len(pub.changes) != 1 || pub.changes[0].Op != location.OpCreated {
		t.Fatalf("expected created change, got %+v", pub.changes)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   location.Input
		want error
	}{
		{"missing name", location.Input{GeoPoint: point(0, 0)}, auth.ErrInvalidInput},
		{"longitude", location.Input{Name: "x", GeoPoint: point(181, 0)}, auth.ErrInvalidInput},
		{"latitude", location.Input{Name: "x", GeoPoint: point(0, -90.5)}, auth.ErrInvalidInput},
		{"type", location.Input{Name: "x", GeoPoint: location.GeoPoint{Type: "Polygon", Coordinates: []float64{0, 0}}}, auth.ErrInvalidInput},
		{"short coordinates", location.Input{Name: "x", GeoPoint: location.GeoPoint{Type: "Point", Coordinates: []float64{1}}}, auth.ErrInvalidInput},
		{"other account", location.Input{Name: "x", AccountID: "acme", GeoPoint: point(0, 0)}, auth.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, alice, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	withElevation := location.Input{Name: "peak", GeoPoint: location.GeoPoint{Type: "Point", Coordinates: []float64{86.92, 27.98, 8848}}}
	loc, err := svc.Create(ctx, alice, withElevation)
	if err != nil {
		t.Fatalf("Create with elevation: %v", err)
	}
	if elev, ok := loc.GeoPoint.Elevation(); !ok || elev != 8848 {
		t.Fatalf("expected elevation to be kept, got %v", loc.GeoPoint)
	}
}

func TestUpdateAndAccountScoping(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	loc, err := svc.Create(ctx, alice, location.Input{Name: "HQ", GeoPoint: point(1, 1)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Update(ctx, alice, location.Input{Name: "HQ", GeoPoint: point(1, 1)}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing id, got %v", err)
	}
	if _, err := svc.Update(ctx, alice, location.Input{ID: "unknown", Name: "HQ", GeoPoint: point(1, 1)}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, alice, location.Input{ID: loc.ID, AccountID: "acme", Name: "HQ", GeoPoint: point(1, 1)}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	bob := location.Actor{UserID: "bob-id", AccountID: "acme"}
	if _, err := svc.Update(ctx, bob, location.Input{ID: loc.ID, Name: "stolen", GeoPoint: point(1, 1)}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected other account's location to be hidden, got %v", err)
	}

	updated, err := svc.Update(ctx, alice, location.Input{ID: loc.ID, Name: "Head Office", DisplayName: "HQ", GeoPoint: point(2, 3)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Head Office" || updated.GeoPoint.Lat() != 3 || updated.CreatedBy != "alice-id" {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestDeleteIsSoft(t *testing.T) {
	hub := stream.New[location.Change](8)
	svc := newService(t, location.WithHub(hub))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx, func(c location.Change) bool { return c.AccountID == "demo" })

	loc, _ := svc.Create(ctx, alice, location.Input{Name: "HQ", GeoPoint: point(1, 1)})
	if _, err := svc.Delete(ctx, alice, ""); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Delete(ctx, alice, "unknown"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	deleted, err := svc.Delete(ctx, alice, loc.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted.Deleted || deleted.Active || deleted.DeletedDate == nil {
		t.Fatalf("expected soft delete, got %+v", deleted)
	}

	visible, _ := svc.List(ctx, "demo", nil)
	if len(visible) != 0 {
		t.Fatalf("deleted location still listed: %+v", visible)
	}
	byID, err := svc.List(ctx, "demo", []string{loc.ID})
	if err != nil || len(byID) != 1 || !byID[0].Deleted {
		t.Fatalf("expected deleted location by id, got %+v %v", byID, err)
	}
	if _, err := svc.List(ctx, "acme", []string{loc.ID}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across accounts, got %v", err)
	}

	if c := <-events; c.Op != location.OpCreated {
		t.Fatalf("expected created first, got %s", c.Op)
	}
	if c := <-events; c.Op != location.OpDeleted {
		t.Fatalf("expected deleted second, got %s", c.Op)
	}
}

func TestPublisherFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newService(t, location.WithPublisher(pub))
	if _, err := svc.Create(context.Background(), alice, location.Input{Name: "HQ", GeoPoint: point(0, 0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(pub.changes) != 1 {
		t.Fatalf("expected publish attempt")
	}
}
