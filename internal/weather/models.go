package weather

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-gateway/internal/common"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location represents a logical place for which we track weather.
// City/Country must be provided.
type Location struct {
	City    string `json:"city" msgpack:"city"`
	Country string `json:"country" msgpack:"country"`
}

// Key returns the canonical subject for this location, e.g. "london:gb".
// Cache entries, limiter windows and nearby tables are all keyed by it.
func (l Location) Key() string {
	return common.NormalizeSubject(l.City) + ":" + common.NormalizeSubject(l.Country)
}

func (l Location) Validate() error {
	if strings.TrimSpace(l.City) == "" || strings.TrimSpace(l.Country) == "" {
		return fmt.Errorf("%w: city and country are required", ErrInvalidLocation)
	}
	return nil
}

// ParseLocation is the inverse of Location.Key.
func ParseLocation(subject string) (Location, error) {
	i := strings.LastIndex(subject, ":")
	if i < 0 {
		return Location{}, fmt.Errorf("%w: %q is not city:country", ErrInvalidLocation, subject)
	}
	loc := Location{
		City:    strings.TrimSpace(subject[:i]),
		Country: strings.TrimSpace(subject[i+1:]),
	}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// WeatherSnapshot is the normalized, aggregated weather view at a point in time.
type WeatherSnapshot struct {
	Location    Location  `json:"location" msgpack:"location"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"` // always UTC
	Temperature float64   `json:"temperatureC" msgpack:"temperatureC"`
	Humidity    float64   `json:"humidityPercent" msgpack:"humidityPercent"`
	WindSpeed   float64   `json:"windSpeed" msgpack:"windSpeed"`
	Pressure    float64   `json:"pressureHpa" msgpack:"pressureHpa"`
	PrecipMM    float64   `json:"precipMm" msgpack:"precipMm"`
	Condition   Condition `json:"condition" msgpack:"condition"`

	// Providers contributing to this snapshot.
	Providers []ProviderContribution `json:"providers,omitempty" msgpack:"providers,omitempty"`
}

// ObservedAt is the observation time the cache ages the entry from.
func (s WeatherSnapshot) ObservedAt() time.Time {
	return s.Timestamp
}

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider" msgpack:"provider"`
	Timestamp    time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Source tells whether a snapshot was served from cache or fetched upstream.
type Source string

const (
	SourceCache    Source = "cache"
	SourceUpstream Source = "upstream"
)
