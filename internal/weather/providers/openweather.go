package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/weather"
)

// OpenWeatherProvider reads current conditions from OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *breaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, breakers *breaker.Registry) *OpenWeatherProvider {
	const name = "openweathermap"
	return &OpenWeatherProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker(breakers, name),
	}
}

func (p *OpenWeatherProvider) Name() string { return p.name }

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, fmt.Errorf("openweather: %w", errMissingAPIKey)
	}

	query := url.Values{
		"appid": {p.apiKey},
		"units": {"metric"},
		"q":     {loc.City + "," + loc.Country},
	}.Encode()

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+query, nil)
	})
	if err != nil {
		return weather.ProviderReading{}, err
	}

	body, err := decodeBody[owmCurrent]("openweather", resp)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	return body.reading(p.name), nil
}

// owmCurrent is the subset of /data/2.5/weather the gateway reads.
type owmCurrent struct {
	Observed int64 `json:"dt"`
	Main     struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		LastHour   float64 `json:"1h"`
		Last3Hours float64 `json:"3h"`
	} `json:"rain"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

func (c owmCurrent) reading(provider string) weather.ProviderReading {
	observed := time.Now().UTC()
	if c.Observed > 0 {
		observed = time.Unix(c.Observed, 0).UTC()
	}

	// 1h is absent when only the 3h accumulation is reported.
	rain := c.Rain.LastHour
	if rain == 0 {
		rain = c.Rain.Last3Hours
	}

	group := ""
	if len(c.Weather) > 0 {
		group = c.Weather[0].Main
	}

	return weather.ProviderReading{
		ProviderName: provider,
		Timestamp:    observed,
		TemperatureC: c.Main.Temp,
		HumidityPct:  c.Main.Humidity,
		WindSpeedMS:  c.Wind.Speed,
		PressureHpa:  c.Main.Pressure,
		PrecipMm:     rain,
		Condition:    mapOpenWeatherCondition(group),
	}
}

// mapOpenWeatherCondition maps OWM weather groups.
func mapOpenWeatherCondition(group string) weather.Condition {
	switch group {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust":
		return weather.ConditionMist
	}
	return weather.ConditionUnknown
}
