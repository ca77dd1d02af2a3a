package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cor0nius/matguard/internal/schedule"
	"github.com/cor0nius/matguard/internal/solar"
	"github.com/cor0nius/matguard/internal/weather"
)

// --- Mocks ---

// mockStore is a func-field mock for the Store interface.
type mockStore struct {
	getFunc   func(ctx context.Context, key string) (string, error)
	setFunc   func(ctx context.Context, key string, value any, expiration time.Duration) error
	flushFunc func(ctx context.Context) error
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, key)
	}
	return "", ErrStoreMiss
}

func (m *mockStore) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if m.setFunc != nil {
		return m.setFunc(ctx, key, value, expiration)
	}
	return nil
}

func (m *mockStore) Flush(ctx context.Context) error {
	if m.flushFunc != nil {
		return m.flushFunc(ctx)
	}
	return nil
}

// mockProvider serves a forecast built by payloadFunc, or fails with err.
type mockProvider struct {
	mu          sync.Mutex
	err         error
	payloadFunc func() *weather.ForecastPayload
}

func (m *mockProvider) Fetch(_ context.Context, _ int) (*weather.ForecastPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.payloadFunc == nil {
		return nil, errors.New("payloadFunc not implemented in mock")
	}
	return m.payloadFunc(), nil
}

type recordingOutlet struct {
	mu     sync.Mutex
	states []bool
	err    error
}

func (o *recordingOutlet) SetState(_ context.Context, on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.states = append(o.states, on)
	return nil
}

func (o *recordingOutlet) last() (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return false, false
	}
	return o.states[len(o.states)-1], true
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// forecastFrom builds hourly entries starting at the next full hour so every
// entry lands inside the cache window. temps and precips are indexed together.
func forecastFrom(temps, precips []float64) func() *weather.ForecastPayload {
	return func() *weather.ForecastPayload {
		start := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
		p := &weather.ForecastPayload{}
		for i := range temps {
			p.Hourly.Time = append(p.Hourly.Time, start.Add(time.Duration(i)*time.Hour).Format("2006-01-02T15:04"))
			p.Hourly.Temperature = append(p.Hourly.Temperature, temps[i])
			p.Hourly.Precipitation = append(p.Hourly.Precipitation, precips[i])
		}
		return p
	}
}

func testSettings() settings {
	return settings{
		Latitude:               39.74,
		Longitude:              -104.99,
		Timezone:               "UTC",
		WeatherCachePath:       "",
		OpenMeteoURL:           "http://localhost/forecast",
		ForecastHours:          48,
		RefreshInterval:        30 * time.Minute,
		RetryInterval:          time.Minute,
		MaxRetryInterval:       30 * time.Minute,
		CacheValidHours:        6,
		OutageAlertAfter:       time.Hour,
		FetchTimeout:           time.Second,
		TickInterval:           time.Minute,
		MaxRuntimeHours:        8,
		CooldownMinutes:        30,
		BlackIceTempF:          34,
		BlackIceLookaheadHours: 3,
		SchedulesFile:          "schedules.yaml",
		Port:                   "8080",
	}
}

type testAPIConfig struct {
	*apiConfig
	provider *mockProvider
}

// newTestAPIConfig builds an apiConfig with an in-memory store and weather
// cache and a mock provider. The provider fails until configured.
func newTestAPIConfig(t *testing.T, s settings) *testAPIConfig {
	t.Helper()
	logger := discardLogger()
	provider := &mockProvider{err: errors.New("provider not configured")}
	cache := weather.NewCache(s.WeatherCachePath, logger)
	service := weather.NewService(s.weatherConfig(), provider, cache, nil, logger)

	return &testAPIConfig{
		apiConfig: &apiConfig{
			settings: s,
			location: time.UTC,
			sun:      solar.New(s.Latitude, s.Longitude, time.UTC),
			weather:  service,
			store:    newMemoryStore(),
			notifier: newLogNotifier(logger),
			port:     s.Port,
			logger:   logger,
		},
		provider: provider,
	}
}

func (tc *testAPIConfig) addOutlet(t *testing.T, name string, raws ...map[string]any) *recordingOutlet {
	t.Helper()
	schedules, err := schedule.NewAll(raws, nil)
	require.NoError(t, err)
	out := &recordingOutlet{}
	tc.outlets = append(tc.outlets, &outletPlan{name: name, outlet: out, schedules: schedules})
	return out
}
