package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const defaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// ErrProviderUnavailable is returned while the circuit breaker is open.
var ErrProviderUnavailable = errors.New("weather provider temporarily unavailable")

// OpenMeteo fetches hourly forecasts (°F, mm) from the Open-Meteo API.
type OpenMeteo struct {
	baseURL    string
	latitude   float64
	longitude  float64
	httpClient *http.Client
	circuit    *gobreaker.CircuitBreaker
}

// NewOpenMeteo creates the provider. An empty baseURL selects the public API;
// a nil client gets a 30 second timeout.
func NewOpenMeteo(baseURL string, latitude, longitude float64, httpClient *http.Client) *OpenMeteo {
	u := strings.TrimSpace(baseURL)
	if u == "" {
		u = defaultOpenMeteoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenMeteo{
		baseURL:    strings.TrimRight(u, "/"),
		latitude:   latitude,
		longitude:  longitude,
		httpClient: httpClient,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openmeteo",
			MaxRequests: 1,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (p *OpenMeteo) requestURL(hoursAhead int) string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(p.latitude, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(p.longitude, 'f', 4, 64))
	values.Set("hourly", "temperature_2m,precipitation")
	values.Set("temperature_unit", "fahrenheit")
	values.Set("precipitation_unit", "mm")
	values.Set("timezone", "GMT")
	values.Set("forecast_hours", strconv.Itoa(hoursAhead))
	return p.baseURL + "?" + values.Encode()
}

// Fetch implements Provider.
func (p *OpenMeteo) Fetch(ctx context.Context, hoursAhead int) (*ForecastPayload, error) {
	result, err := p.circuit.Execute(func() (interface{}, error) {
		return p.fetch(ctx, hoursAhead)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, err
	}
	payload, ok := result.(*ForecastPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return payload, nil
}

func (p *OpenMeteo) fetch(ctx context.Context, hoursAhead int) (*ForecastPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.requestURL(hoursAhead), nil)
	if err != nil {
		return nil, fmt.Errorf("build forecast request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("failed to fetch forecast: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload ForecastPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode forecast response: %w", err)
	}
	if payload.Hourly.Time == nil || payload.Hourly.Temperature == nil || payload.Hourly.Precipitation == nil {
		return nil, ErrMissingArrays
	}
	return &payload, nil
}
