package weather

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Config tunes the resilient weather service.
type Config struct {
	Latitude  float64
	Longitude float64

	// ForecastHours is both the provider request size and the cache horizon.
	ForecastHours int

	RefreshInterval  time.Duration
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	// CacheValidHours is how old a cached forecast may be and still be used
	// while the provider is unreachable.
	CacheValidHours float64

	OutageAlertAfter time.Duration
	FetchTimeout     time.Duration

	// LocationTolerance is the degree tolerance used to decide whether a cache
	// found at startup belongs to the configured location.
	LocationTolerance float64
}

func (c Config) withDefaults() Config {
	if c.ForecastHours <= 0 {
		c.ForecastHours = 48
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Minute
	}
	if c.MaxRetryInterval < c.RetryInterval {
		c.MaxRetryInterval = c.RetryInterval
	}
	if c.CacheValidHours <= 0 {
		c.CacheValidHours = 6
	}
	if c.OutageAlertAfter <= 0 {
		c.OutageAlertAfter = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.LocationTolerance <= 0 {
		c.LocationTolerance = 0.01
	}
	return c
}

// Service wraps a forecast Provider with an availability state machine, a
// caller-driven retry backoff, outage alerting and fail-safe reads backed by
// a Cache. Fetch failures never escape as errors: they are reported through the
// boolean result of FetchAndCacheForecast and the state machine.
type Service struct {
	cfg      Config
	provider Provider
	cache    *Cache
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu                    sync.Mutex
	state                 State
	offlineSince          time.Time
	fetchAttempted        bool
	observed              bool
	observedState         State
	currentRetryInterval  time.Duration
	lastSuccessfulFetchAt time.Time
	alertSentForOutage    bool
}

// Status is a point-in-time view of the service for status reporting.
type Status struct {
	State                 State      `json:"state"`
	OfflineSince          *time.Time `json:"offline_since,omitempty"`
	LastSuccessfulFetchAt *time.Time `json:"last_successful_fetch_at,omitempty"`
	CacheAgeHours         *float64   `json:"cache_age_hours,omitempty"`
	RetryInterval         string     `json:"retry_interval"`
	NextFetchInterval     string     `json:"next_fetch_interval"`
	OutageAlertSent       bool       `json:"outage_alert_sent"`
}

type pendingEvent struct {
	eventType string
	message   string
	details   map[string]any
}

// NewService creates a Service. notifier and logger may be nil.
func NewService(cfg Config, provider Provider, cache *Cache, notifier Notifier, logger *slog.Logger) *Service {
	return newService(cfg, provider, cache, notifier, logger, time.Now)
}

func newService(cfg Config, provider Provider, cache *Cache, notifier Notifier, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:                  cfg,
		provider:             provider,
		cache:                cache,
		notifier:             notifier,
		logger:               logger,
		now:                  now,
		currentRetryInterval: cfg.RetryInterval,
	}

	if s.cacheUsable() {
		age, _ := cache.AgeHours()
		s.state = StateDegradedOfflineUsingCache
		s.lastSuccessfulFetchAt = now().Add(-time.Duration(age * float64(time.Hour)))
		logger.Info("starting with cached weather", "cache_age_hours", age)
	} else {
		s.state = StateOfflineNoWeatherData
		if cache != nil && cache.IsValid(s.cfg.CacheValidHours) {
			logger.Warn("ignoring weather cache fetched for a different location")
		}
		logger.Info("starting without usable weather cache")
	}
	return s
}

// cacheUsable reports whether the cache is fresh enough and belongs to the
// configured location.
func (s *Service) cacheUsable() bool {
	if s.cache == nil || !s.cache.IsValid(s.cfg.CacheValidHours) {
		return false
	}
	return s.cache.LocationMatches(s.cfg.Latitude, s.cfg.Longitude, s.cfg.LocationTolerance)
}

// FetchAndCacheForecast fetches a fresh forecast and persists it. It returns
// false on any failure; the failure is recorded in the state machine.
func (s *Service) FetchAndCacheForecast(ctx context.Context) bool {
	err := s.fetchAndSave(ctx)

	s.mu.Lock()
	s.fetchAttempted = true
	now := s.now()
	if err == nil {
		s.offlineSince = time.Time{}
		s.currentRetryInterval = s.cfg.RetryInterval
		s.alertSentForOutage = false
		s.lastSuccessfulFetchAt = now
	} else if s.offlineSince.IsZero() {
		s.offlineSince = now
	}
	events := s.updateStateLocked(now)
	state := s.state
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("weather fetch failed", "state", state.String(), "error", err)
	} else {
		s.logger.Debug("weather fetch succeeded", "state", state.String())
	}
	s.dispatch(ctx, events)
	return err == nil
}

func (s *Service) fetchAndSave(ctx context.Context) (err error) {
	if s.provider == nil {
		return fmt.Errorf("no weather provider configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("weather provider panicked: %v", r)
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	payload, err := s.provider.Fetch(fetchCtx, s.cfg.ForecastHours)
	if err != nil {
		return fmt.Errorf("fetch forecast: %w", err)
	}
	if s.cache == nil {
		return fmt.Errorf("no weather cache configured")
	}
	if !s.cache.Save(s.cfg.Latitude, s.cfg.Longitude, payload, s.cfg.ForecastHours) {
		return fmt.Errorf("forecast could not be cached")
	}
	return nil
}

// computeStateLocked derives the state from offlineSince and cache validity.
// Before the first fetch attempt there is no evidence the provider is up, so
// the cache alone decides between degraded and offline.
func (s *Service) computeStateLocked() State {
	if s.fetchAttempted && s.offlineSince.IsZero() {
		return StateOnline
	}
	if s.cacheUsable() {
		return StateDegradedOfflineUsingCache
	}
	return StateOfflineNoWeatherData
}

// updateStateLocked recomputes the state and returns the notifications it
// implies. The startup state is not an observation, and neither is the first
// state computed after the first fetch, so nothing fires until a real
// transition happens.
func (s *Service) updateStateLocked(now time.Time) []pendingEvent {
	newState := s.computeStateLocked()
	s.state = newState
	if !s.fetchAttempted {
		return nil
	}

	var events []pendingEvent
	if s.observed && newState != s.observedState {
		s.logger.Info("weather service state changed", "from", s.observedState.String(), "to", newState.String())
		events = append(events, pendingEvent{
			eventType: newState.event(),
			message:   fmt.Sprintf("Weather service state changed from %s to %s", s.observedState, newState),
			details: map[string]any{
				"previous_state": s.observedState.String(),
				"new_state":      newState.String(),
			},
		})
	}
	s.observed = true
	s.observedState = newState

	if !s.offlineSince.IsZero() && !s.alertSentForOutage {
		outage := now.Sub(s.offlineSince)
		if outage >= s.cfg.OutageAlertAfter {
			s.alertSentForOutage = true
			s.logger.Warn("weather service outage alert", "offline_minutes", int(outage.Minutes()))
			events = append(events, pendingEvent{
				eventType: EventOutageAlert,
				message:   fmt.Sprintf("Weather service has been offline for %d minutes", int(outage.Minutes())),
				details: map[string]any{
					"offline_since":   s.offlineSince.UTC().Format(time.RFC3339),
					"offline_minutes": int(outage.Minutes()),
					"state":           newState.String(),
				},
			})
		}
	}
	return events
}

func (s *Service) dispatch(ctx context.Context, events []pendingEvent) {
	if s.notifier == nil {
		return
	}
	for _, e := range events {
		if err := s.notifier.Notify(ctx, e.eventType, e.message, e.details); err != nil {
			s.logger.Warn("could not deliver notification", "event", e.eventType, "error", err)
		}
	}
}

// State recomputes and returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	events := s.updateStateLocked(s.now())
	state := s.state
	s.mu.Unlock()
	s.dispatch(context.Background(), events)
	return state
}

// IsOffline reports whether no weather data at all is available.
func (s *Service) IsOffline() bool {
	return s.State() == StateOfflineNoWeatherData
}

// NextFetchInterval is the refresh interval while online and the current
// retry interval otherwise.
func (s *Service) NextFetchInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFetchIntervalLocked()
}

func (s *Service) nextFetchIntervalLocked() time.Duration {
	if s.state == StateOnline {
		return s.cfg.RefreshInterval
	}
	return s.currentRetryInterval
}

// UpdateRetryInterval doubles the retry interval up to the configured maximum.
// The polling loop calls it after a failed fetch; it does nothing while online.
func (s *Service) UpdateRetryInterval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOnline {
		return
	}
	s.currentRetryInterval = min(s.currentRetryInterval*2, s.cfg.MaxRetryInterval)
	s.logger.Debug("retry interval increased", "retry_interval", s.currentRetryInterval.String())
}

// CurrentConditions returns the cached conditions nearest to now. It never
// fabricates data: with no usable weather it reports false.
func (s *Service) CurrentConditions() (Conditions, bool) {
	if s.State() == StateOfflineNoWeatherData || s.cache == nil {
		return Conditions{}, false
	}
	return s.cache.CurrentConditions()
}

// CheckPrecipitationForecast looks for the first snapshot within the next
// hoursAhead hours that has precipitation while colder than tempThresholdF.
func (s *Service) CheckPrecipitationForecast(hoursAhead, tempThresholdF float64) (Snapshot, bool) {
	if s.State() == StateOfflineNoWeatherData || s.cache == nil {
		return Snapshot{}, false
	}

	now := s.now()
	cutoff := now.Add(time.Duration(hoursAhead * float64(time.Hour)))
	for _, snap := range s.cache.Snapshots() {
		if snap.Timestamp.After(cutoff) {
			break
		}
		if snap.Timestamp.Before(now) {
			continue
		}
		if snap.PrecipitationMM > 0 && snap.TemperatureF < tempThresholdF {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// Status returns a snapshot of the service state for reporting.
func (s *Service) Status() Status {
	state := s.State()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:             state,
		RetryInterval:     s.currentRetryInterval.String(),
		NextFetchInterval: s.nextFetchIntervalLocked().String(),
		OutageAlertSent:   s.alertSentForOutage,
	}
	if !s.offlineSince.IsZero() {
		t := s.offlineSince
		st.OfflineSince = &t
	}
	if !s.lastSuccessfulFetchAt.IsZero() {
		t := s.lastSuccessfulFetchAt
		st.LastSuccessfulFetchAt = &t
	}
	if s.cache != nil {
		if age, ok := s.cache.AgeHours(); ok {
			st.CacheAgeHours = &age
		}
	}
	return st
}
