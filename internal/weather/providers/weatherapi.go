package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/weather-gateway/internal/breaker"
	"github.com/i474232898/weather-gateway/internal/common"
	"github.com/i474232898/weather-gateway/internal/weather"
)

const kphPerMS = 3.6

// WeatherAPIProvider reads current conditions from WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *breaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, breakers *breaker.Registry) *WeatherAPIProvider {
	const name = "weatherapi"
	return &WeatherAPIProvider{
		name:    name,
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: HTTPClientConfig{Client: client, Backoff: DefaultBackoff},
		circuit: newBreaker(breakers, name),
	}
}

func (p *WeatherAPIProvider) Name() string { return p.name }

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	if p.apiKey == "" {
		return weather.ProviderReading{}, fmt.Errorf("weatherapi: %w", errMissingAPIKey)
	}

	query := url.Values{
		"key": {p.apiKey},
		"q":   {loc.City + "," + loc.Country},
	}.Encode()

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+query, nil)
	})
	if err != nil {
		return weather.ProviderReading{}, err
	}

	body, err := decodeBody[wapiCurrent]("weatherapi", resp)
	if err != nil {
		return weather.ProviderReading{}, err
	}
	return body.reading(p.name), nil
}

type wapiCurrent struct {
	Current struct {
		UpdatedEpoch int64   `json:"last_updated_epoch"`
		TempC        float64 `json:"temp_c"`
		Humidity     float64 `json:"humidity"`
		WindKph      float64 `json:"wind_kph"`
		PressureMb   float64 `json:"pressure_mb"`
		PrecipMm     float64 `json:"precip_mm"`
		Condition    struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

func (w wapiCurrent) reading(provider string) weather.ProviderReading {
	cur := w.Current

	observed := time.Now().UTC()
	if cur.UpdatedEpoch > 0 {
		observed = time.Unix(cur.UpdatedEpoch, 0).UTC()
	}

	return weather.ProviderReading{
		ProviderName: provider,
		Timestamp:    observed,
		TemperatureC: cur.TempC,
		HumidityPct:  cur.Humidity,
		WindSpeedMS:  cur.WindKph / kphPerMS,
		PressureHpa:  cur.PressureMb,
		PrecipMm:     cur.PrecipMm,
		Condition:    mapWeatherAPICondition(cur.Condition.Text),
	}
}

// mapWeatherAPICondition classifies WeatherAPI's free-text condition. Order
// matters: "thundery showers" is a storm, "light snow showers" is snow.
func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.ContainsAnyFold(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.ContainsAnyFold(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.ContainsAnyFold(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.ContainsAnyFold(text, "mist", "fog"):
		return weather.ConditionMist
	case common.ContainsAnyFold(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.ContainsAnyFold(text, "sunny", "clear"):
		return weather.ConditionClear
	}
	return weather.ConditionUnknown
}
