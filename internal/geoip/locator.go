package geoip

import "context"

// Location is a coarse IP-derived location. The zero value means the
// lookup failed or the provider knows nothing; unknown never counts as
// anomalous on its own.
type Location struct {
	Country string
	Region  string
	City    string
}

// Unknown reports whether the lookup produced no usable location.
func (l Location) Unknown() bool {
	return l.Country == ""
}

// Locator resolves a client IP to a coarse location. Implementations are
// best-effort external collaborators; errors degrade to Unknown.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// NoopLocator always answers "unknown". Used when no geolocation
// provider is configured.
type NoopLocator struct{}

func (NoopLocator) Locate(ctx context.Context, ip string) (Location, error) {
	return Location{}, nil
}

// StaticLocator answers from a fixed IP→location table. Useful in
// development and tests.
type StaticLocator struct {
	Entries map[string]Location
}

func (s *StaticLocator) Locate(ctx context.Context, ip string) (Location, error) {
	if loc, ok := s.Entries[ip]; ok {
		return loc, nil
	}
	return Location{}, nil
}
