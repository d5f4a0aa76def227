package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-gateway/internal/common"
	"github.com/i474232898/weather-gateway/internal/weather"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Geocoder resolves a location to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, loc weather.Location) (Coordinates, error)
}

// GoogleGeocoder resolves locations through the Google Geocoding API.
// Results are kept for the life of the process.
type GoogleGeocoder struct {
	lookup func(geocoder.Address) (geocoder.Location, error)

	mu    sync.RWMutex
	known map[string]Coordinates
}

// NewGoogleGeocoder configures the geocoder package with apiKey. The key is
// process-wide state of that package.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{
		lookup: geocoder.Geocoding,
		known:  make(map[string]Coordinates),
	}
}

func (g *GoogleGeocoder) Resolve(ctx context.Context, loc weather.Location) (Coordinates, error) {
	key := loc.Key()

	g.mu.RLock()
	c, ok := g.known[key]
	g.mu.RUnlock()
	if ok {
		return c, nil
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	// The geocoder package takes no context; the lookup is abandoned, not
	// canceled, when ctx ends first.
	done := make(chan result, 1)
	go func() {
		l, err := g.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
		done <- result{loc: l, err: err}
	}()

	select {
	case <-ctx.Done():
		return Coordinates{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Coordinates{}, fmt.Errorf("geocode %s: %w", key, r.err)
		}
		c = Coordinates{Lat: r.loc.Latitude, Lon: r.loc.Longitude}
	}

	g.mu.Lock()
	g.known[key] = c
	g.mu.Unlock()
	return c, nil
}

var errUnknownLocation = fmt.Errorf("%w: location has no configured coordinates", errClientInput)

// StaticGeocoder serves coordinates from a fixed table keyed by
// "city:country".
type StaticGeocoder map[string]Coordinates

func (s StaticGeocoder) Resolve(_ context.Context, loc weather.Location) (Coordinates, error) {
	c, ok := s[loc.Key()]
	if !ok {
		return Coordinates{}, errUnknownLocation
	}
	return c, nil
}

// ParseStaticGeocoder reads "london:gb=51.5074,-0.1278;paris:fr=48.8566,2.3522".
func ParseStaticGeocoder(table string) (StaticGeocoder, error) {
	coords := StaticGeocoder{}
	for _, entry := range strings.Split(table, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		subject, pair, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("coordinates entry %q: missing '='", entry)
		}
		latText, lonText, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("coordinates entry %q: want lat,lon", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinates entry %q: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
		if err != nil {
			return nil, fmt.Errorf("coordinates entry %q: %w", entry, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("coordinates entry %q: out of range", entry)
		}
		coords[common.NormalizeSubject(subject)] = Coordinates{Lat: lat, Lon: lon}
	}
	return coords, nil
}

// FallbackGeocoder tries each geocoder in order and returns the first hit.
type FallbackGeocoder []Geocoder

func (f FallbackGeocoder) Resolve(ctx context.Context, loc weather.Location) (Coordinates, error) {
	var errs []error
	for _, g := range f {
		c, err := g.Resolve(ctx, loc)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Coordinates{}, errUnknownLocation
	}
	return Coordinates{}, errors.Join(errs...)
}
