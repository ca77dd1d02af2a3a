package weather

import "fmt"

// State is the availability of weather data as seen by the scheduler.
type State int

const (
	StateOnline State = iota
	StateDegradedOfflineUsingCache
	StateOfflineNoWeatherData
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateDegradedOfflineUsingCache:
		return "degraded_offline_using_cache"
	case StateOfflineNoWeatherData:
		return "offline_no_weather_data"
	default:
		return "unknown"
	}
}

// event maps a newly entered state to its notification event type.
func (s State) event() string {
	switch s {
	case StateOnline:
		return EventRecovered
	case StateDegradedOfflineUsingCache:
		return EventDegraded
	default:
		return EventOffline
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "online":
		*s = StateOnline
	case "degraded_offline_using_cache":
		*s = StateDegradedOfflineUsingCache
	case "offline_no_weather_data":
		*s = StateOfflineNoWeatherData
	default:
		return fmt.Errorf("unknown weather state %q", text)
	}
	return nil
}
