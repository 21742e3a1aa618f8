package location

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelvins/geocoder"
)

// ErrNotConfigured is returned when no geocoding API key was provided.
var ErrNotConfigured = errors.New("location resolver not configured")

// ErrNotFound is returned when the query cannot be geocoded.
var ErrNotFound = errors.New("location not found")

// Resolved is a canonicalized location: the display name the rest of the
// system keys caches on, plus coordinates for the UI map.
type Resolved struct {
	Name      string  `json:"name"` // "City, Region, Country"
	City      string  `json:"city"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Resolver canonicalizes free-form location input ("london", "Paris, FR")
// via forward + reverse geocoding. It is optional: without an API key every
// call returns ErrNotConfigured and the UI falls back to raw input.
type Resolver struct {
	enabled bool
}

// New creates a Resolver. The geocoder library keys off a package-level API
// key, so only one Resolver configuration is meaningful per process.
func New(apiKey string) *Resolver {
	if apiKey == "" {
		return &Resolver{}
	}
	geocoder.ApiKey = apiKey
	return &Resolver{enabled: true}
}

// Enabled reports whether geocoding is available.
func (r *Resolver) Enabled() bool {
	return r.enabled
}

// Resolve canonicalizes a free-form query into a Resolved location.
func (r *Resolver) Resolve(query string) (Resolved, error) {
	if !r.enabled {
		return Resolved{}, ErrNotConfigured
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return Resolved{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}

	addr := parseQuery(query)
	loc, err := geocoder.Geocoding(addr)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	// Reverse the coordinates to get a normalized address, so "london" and
	// "London, UK" both canonicalize to the same display name.
	addresses, err := geocoder.GeocodingReverse(loc)
	if err != nil || len(addresses) == 0 {
		// Coordinates are still useful; fall back to the parsed input.
		return resolvedFrom(addr, loc), nil
	}
	return resolvedFrom(addresses[0], loc), nil
}

func parseQuery(query string) geocoder.Address {
	parts := strings.Split(query, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	addr := geocoder.Address{City: parts[0]}
	switch len(parts) {
	case 1:
	case 2:
		addr.Country = parts[1]
	default:
		addr.State = parts[1]
		addr.Country = parts[2]
	}
	return addr
}

func resolvedFrom(addr geocoder.Address, loc geocoder.Location) Resolved {
	res := Resolved{
		City:      addr.City,
		Region:    addr.State,
		Country:   addr.Country,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
	}

	parts := make([]string, 0, 3)
	for _, p := range []string{res.City, res.Region, res.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	res.Name = strings.Join(parts, ", ")
	return res
}
