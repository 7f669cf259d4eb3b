package location

import (
	"fmt"
	"strings"
	"time"

	"eostre.org/internal/auth"
)

// GeoPoint is a GeoJSON point: coordinates are [lon, lat] with an optional elevation.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Lon returns the longitude.
func (g GeoPoint) Lon() float64 {
	if len(g.Coordinates) < 1 {
		return 0
	}
	return g.Coordinates[0]
}

// Lat returns the latitude.
func (g GeoPoint) Lat() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[1]
}

// Elevation returns the optional third coordinate.
func (g GeoPoint) Elevation() (float64, bool) {
	if len(g.Coordinates) < 3 {
		return 0, false
	}
	return g.Coordinates[2], true
}

// Validate checks the point type and coordinate bounds.
func (g GeoPoint) Validate() error {
	if g.Type != "Point" {
		return fmt.Errorf("%w: geo_point type must be Point", auth.ErrInvalidInput)
	}
	if n := len(g.Coordinates); n < 2 || n > 3 {
		return fmt.Errorf("%w: geo_point needs [lon, lat] or [lon, lat, elevation]", auth.ErrInvalidInput)
	}
	if lon := g.Lon(); lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of bounds (-180 to 180)", auth.ErrInvalidInput, lon)
	}
	if lat := g.Lat(); lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of bounds (-90 to 90)", auth.ErrInvalidInput, lat)
	}
	return nil
}

type AdminDistrict struct {
	Name      string `json:"name,omitempty"`
	ShortName string `json:"shortName,omitempty"`
}

type CountryRegion struct {
	Name string `json:"name,omitempty"`
}

// Address is a postal address in the shape geocoders return it.
type Address struct {
	CountryRegion    *CountryRegion  `json:"countryRegion,omitempty"`
	AddressLine      string          `json:"addressLine,omitempty"`
	AdminDistricts   []AdminDistrict `json:"adminDistricts,omitempty"`
	FormattedAddress string          `json:"formattedAddress,omitempty"`
	Locality         string          `json:"locality,omitempty"`
	PostalCode       string          `json:"postalCode,omitempty"`
	StreetName       string          `json:"streetName,omitempty"`
	StreetNumber     string          `json:"streetNumber,omitempty"`
}

// Location is an account scoped place.
type Location struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name,omitempty"`
	AccountID    string     `json:"account_id"`
	Active       bool       `json:"active"`
	Deleted      bool       `json:"deleted"`
	DeletedDate  *time.Time `json:"deleted_date,omitempty"`
	CreatedBy    string     `json:"created_by"`
	CreatedDate  time.Time  `json:"created_date"`
	ModifiedBy   string     `json:"modified_by,omitempty"`
	ModifiedDate time.Time  `json:"modified_date"`
	GeoPoint     GeoPoint   `json:"geo_point"`
	Address      Address    `json:"address"`
}

// Visible reports whether the location shows up in default listings.
func (l Location) Visible() bool {
	return l.Active && !l.Deleted
}

// Input carries the client writable fields of a location.
type Input struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	AccountID   string   `json:"account_id,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	GeoPoint    GeoPoint `json:"geo_point"`
	Address     Address  `json:"address"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	return in.GeoPoint.Validate()
}

// Op names a location change.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Change is published after every successful write.
type Change struct {
	Op        Op        `json:"op"`
	AccountID string    `json:"account_id"`
	Location  Location  `json:"location"`
	At        time.Time `json:"at"`
}
