package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/weather"
)

// openMeteoTimeLayout is the layout of "current.time"; values are UTC.
const openMeteoTimeLayout = "2006-01-02T15:04"

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name     string
	baseURL  string
	geocoder Geocoder
	httpCfg  HTTPClientConfig
	circuit  *breaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, geo Geocoder, breakers *breaker.Registry) *OpenMeteoProvider {
	const name = "openmeteo"
	return &OpenMeteoProvider{
		name:     name,
		baseURL:  "https://api.open-meteo.com/v1/forecast",
		geocoder: geo,
		httpCfg:  HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit:  newBreaker(breakers, name),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.geocoder == nil {
		return weather.ProviderReading{}, fmt.Errorf("openmeteo: %w", errUnknownLocation)
	}
	coords, err := p.geocoder.Resolve(ctx, loc)
	if err != nil {
		// Geocoding failures do not count against the forecast breaker.
		return weather.ProviderReading{}, fmt.Errorf("openmeteo: %w: %w", errClientInput, err)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(coords.Lat, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(coords.Lon, 'f', 4, 64))
		values.Set("current", "temperature_2m,relative_humidity_2m,precipitation,weather_code,surface_pressure,wind_speed_10m")
		values.Set("wind_speed_unit", "ms")
		values.Set("timezone", "UTC")

		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.ProviderReading{}, err
	}

	body, err := decodeBody[meteoCurrent]("openmeteo", resp)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	return body.reading(p.name), nil
}

type meteoCurrent struct {
	Current struct {
		Time          string  `json:"time"`
		Temperature   float64 `json:"temperature_2m"`
		Humidity      float64 `json:"relative_humidity_2m"`
		Precipitation float64 `json:"precipitation"`
		WeatherCode   int     `json:"weather_code"`
		Pressure      float64 `json:"surface_pressure"`
		WindSpeed     float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

func (m meteoCurrent) reading(provider string) weather.ProviderReading {
	cur := m.Current

	observed, err := time.Parse(openMeteoTimeLayout, cur.Time)
	if err != nil {
		observed = time.Now()
	}

	return weather.ProviderReading{
		ProviderName: provider,
		Timestamp:    observed.UTC(),
		TemperatureC: cur.Temperature,
		HumidityPct:  cur.Humidity,
		WindSpeedMS:  cur.WindSpeed,
		PressureHpa:  cur.Pressure,
		PrecipMm:     cur.Precipitation,
		Condition:    mapOpenMeteoCondition(cur.WeatherCode),
	}
}

// mapOpenMeteoCondition maps WMO weather codes.
func mapOpenMeteoCondition(code int) weather.Condition {
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
