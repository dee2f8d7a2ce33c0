// Package openweather implements domain.ObservationSource against the
// OpenWeatherMap current-weather API.
package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

const capability = "observation-source"

// DefaultBaseURL is the production OpenWeatherMap endpoint.
const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// Client fetches current weather observations from OpenWeatherMap.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates an OpenWeatherMap client. baseURL may be empty for the
// production endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// Fetch retrieves the current weather for a location name. Failures are
// wrapped with a retry classification: unknown locations and rejected API
// keys are terminal, everything else is transient.
func (c *Client) Fetch(ctx context.Context, location string) (domain.Observation, error) {
	params := url.Values{
		"q":     {location},
		"appid": {c.apiKey},
	}
	fullURL := c.baseURL + "/weather?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.Observation{}, domain.Terminal(capability, fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
			return domain.Observation{}, domain.Transient(capability, domain.ErrTimeout)
		}
		return domain.Observation{}, domain.Transient(capability, fmt.Errorf("weather request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Observation{}, domain.Transient(capability, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return domain.Observation{}, domain.Terminal(capability,
			fmt.Errorf("%w: %q", domain.ErrNotFound, location))
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.Observation{}, domain.Terminal(capability, domain.ErrAuthRejected)
	default:
		return domain.Observation{}, domain.Transient(capability,
			fmt.Errorf("%w: status %d: %s", domain.ErrProviderError, resp.StatusCode, body))
	}

	var wr weatherResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return domain.Observation{}, domain.Transient(capability, fmt.Errorf("decode response: %w", err))
	}

	obs := domain.Observation{
		Location:      location,
		ObservedAt:    time.Unix(wr.Dt, 0).UTC(),
		TemperatureC:  kelvinToCelsius(wr.Main.Temp),
		WindSpeedMS:   wr.Wind.Speed,
		HumidityPct:   wr.Main.Humidity,
		PressureHPa:   wr.Main.Pressure,
		CloudCoverPct: wr.Clouds.All,
		SeaLevelHPa:   wr.Main.SeaLevel,
		RawPayload:    body,
	}
	if wr.Dt == 0 {
		obs.ObservedAt = time.Now().UTC()
	}
	if len(wr.Weather) > 0 {
		obs.Description = wr.Weather[0].Description
	}
	if wr.Rain.OneHour > 0 {
		obs.PrecipitationMM = wr.Rain.OneHour
	}

	c.logger.Debug("observation fetched",
		"location", location,
		"description", obs.Description,
		"temperature_c", obs.TemperatureC)
	return obs, nil
}

// kelvinToCelsius converts and rounds to one decimal place, matching the
// precision the alert text reports.
func kelvinToCelsius(k float64) float64 {
	return math.Round((k-273.15)*10) / 10
}

// OpenWeatherMap API response types.

type weatherResponse struct {
	Weather []weatherEntry `json:"weather"`
	Main    mainBlock      `json:"main"`
	Wind    windBlock      `json:"wind"`
	Clouds  cloudsBlock    `json:"clouds"`
	Rain    rainBlock      `json:"rain"`
	Dt      int64          `json:"dt"`
}

type weatherEntry struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type mainBlock struct {
	Temp     float64 `json:"temp"` // Kelvin
	Humidity float64 `json:"humidity"`
	Pressure float64 `json:"pressure"`
	SeaLevel float64 `json:"sea_level"`
}

type windBlock struct {
	Speed float64 `json:"speed"` // m/s
}

type cloudsBlock struct {
	All float64 `json:"all"`
}

type rainBlock struct {
	OneHour float64 `json:"1h"`
}
