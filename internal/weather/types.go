package weather

import (
	"context"
	"time"
)

// Location is a point on the globe in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Snapshot is one hourly forecast entry.
type Snapshot struct {
	Timestamp       time.Time
	TemperatureF    float64
	PrecipitationMM float64
}

// Conditions are the weather values the scheduler cares about right now.
type Conditions struct {
	TemperatureF    float64
	PrecipitationMM float64
}

// ForecastPayload is the raw hourly forecast returned by a Provider. The three
// arrays are parallel; Time holds ISO-8601 timestamps.
type ForecastPayload struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Hourly    HourlyArrays `json:"hourly"`
}

type HourlyArrays struct {
	Time          []string  `json:"time"`
	Temperature   []float64 `json:"temperature_2m"`
	Precipitation []float64 `json:"precipitation"`
}

// Provider fetches an hourly forecast covering at least hoursAhead hours.
type Provider interface {
	Fetch(ctx context.Context, hoursAhead int) (*ForecastPayload, error)
}

// Notifier receives service events. Implementations must be safe to call from
// the fetch loop; a nil Notifier disables notifications.
type Notifier interface {
	Notify(ctx context.Context, eventType, message string, details map[string]any) error
}

// Event types emitted by Service.
const (
	EventRecovered   = "weather_service_recovered"
	EventDegraded    = "weather_service_degraded"
	EventOffline     = "weather_service_offline"
	EventOutageAlert = "weather_service_outage_alert"
)
