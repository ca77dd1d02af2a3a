package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// This file implements the durable forecast cache. The cache holds exactly one
// forecast set, the last one fetched successfully, and is replaced wholesale on
// every save. Anything suspicious in the file on disk makes the whole cache
// count as absent; it is never repaired.

var (
	ErrMissingArrays = errors.New("forecast payload is missing hourly arrays")
	ErrEmptyWindow   = errors.New("forecast payload has no entries inside the horizon")
)

// Cache is a single-snapshot-set forecast store backed by a JSON file.
// It is safe for concurrent use.
type Cache struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	data *cacheData
}

type cacheData struct {
	FetchedAt time.Time
	Location  Location
	Forecast  []Snapshot
}

// cacheFile is the on-disk layout. Pointer fields let load tell a missing key
// from a zero value.
type cacheFile struct {
	FetchedAt *string         `json:"fetched_at"`
	Location  *cacheLocation  `json:"location"`
	Forecast  []cacheSnapshot `json:"forecast"`
}

type cacheLocation struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type cacheSnapshot struct {
	Timestamp       *string  `json:"timestamp"`
	TemperatureF    *float64 `json:"temperature_f"`
	PrecipitationMM *float64 `json:"precipitation_mm"`
}

// NewCache creates a cache bound to path and loads whatever valid data the file
// holds. An empty path keeps the cache in memory only.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	c.data = c.load()
	return c
}

func (c *Cache) load() *cacheData {
	if c.path == "" {
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("could not read weather cache", "path", c.path, "error", err)
		}
		return nil
	}
	data, err := decodeCacheFile(raw)
	if err != nil {
		c.logger.Warn("ignoring invalid weather cache", "path", c.path, "error", err)
		return nil
	}
	c.logger.Info("loaded weather cache", "path", c.path, "fetched_at", data.FetchedAt, "entries", len(data.Forecast))
	return data
}

func decodeCacheFile(raw []byte) (*cacheData, error) {
	var f cacheFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode cache file: %w", err)
	}
	if f.FetchedAt == nil {
		return nil, errors.New("missing fetched_at")
	}
	fetchedAt, err := parseTimestamp(*f.FetchedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid fetched_at: %w", err)
	}
	if f.Location == nil || f.Location.Latitude == nil || f.Location.Longitude == nil {
		return nil, errors.New("missing location")
	}
	if len(f.Forecast) == 0 {
		return nil, errors.New("empty forecast")
	}

	forecast := make([]Snapshot, 0, len(f.Forecast))
	for i, s := range f.Forecast {
		if s.Timestamp == nil || s.TemperatureF == nil || s.PrecipitationMM == nil {
			return nil, fmt.Errorf("forecast entry %d is incomplete", i)
		}
		ts, err := parseTimestamp(*s.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("forecast entry %d: %w", i, err)
		}
		forecast = append(forecast, Snapshot{
			Timestamp:       ts,
			TemperatureF:    *s.TemperatureF,
			PrecipitationMM: *s.PrecipitationMM,
		})
	}
	sort.SliceStable(forecast, func(i, j int) bool {
		return forecast[i].Timestamp.Before(forecast[j].Timestamp)
	})

	return &cacheData{
		FetchedAt: fetchedAt,
		Location:  Location{Latitude: *f.Location.Latitude, Longitude: *f.Location.Longitude},
		Forecast:  forecast,
	}, nil
}

// Save extracts the hourly forecast from payload, keeps the entries within
// [now, now+horizonHours], and atomically replaces the cache on disk and in
// memory. It reports false, leaving the previous cache untouched, if the
// payload is unusable or the file could not be written.
func (c *Cache) Save(lat, lon float64, payload *ForecastPayload, horizonHours int) bool {
	if err := c.save(lat, lon, payload, horizonHours); err != nil {
		c.logger.Error("could not save weather cache", "path", c.path, "error", err)
		return false
	}
	return true
}

func (c *Cache) save(lat, lon float64, payload *ForecastPayload, horizonHours int) error {
	if payload == nil || payload.Hourly.Time == nil || payload.Hourly.Temperature == nil || payload.Hourly.Precipitation == nil {
		return ErrMissingArrays
	}

	now := c.now().UTC()
	end := now.Add(time.Duration(horizonHours) * time.Hour)
	n := min(len(payload.Hourly.Time), len(payload.Hourly.Temperature), len(payload.Hourly.Precipitation))

	forecast := make([]Snapshot, 0, n)
	for i := 0; i < n; i++ {
		ts, err := parseTimestamp(payload.Hourly.Time[i])
		if err != nil {
			c.logger.Debug("skipping forecast entry with bad timestamp", "value", payload.Hourly.Time[i], "error", err)
			continue
		}
		if ts.Before(now) || ts.After(end) {
			continue
		}
		forecast = append(forecast, Snapshot{
			Timestamp:       ts,
			TemperatureF:    payload.Hourly.Temperature[i],
			PrecipitationMM: math.Max(0, payload.Hourly.Precipitation[i]),
		})
	}
	if len(forecast) == 0 {
		return ErrEmptyWindow
	}
	sort.SliceStable(forecast, func(i, j int) bool {
		return forecast[i].Timestamp.Before(forecast[j].Timestamp)
	})

	data := &cacheData{
		FetchedAt: now,
		Location:  Location{Latitude: lat, Longitude: lon},
		Forecast:  forecast,
	}
	if err := c.writeFile(data); err != nil {
		return err
	}

	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	c.logger.Debug("weather cache saved", "entries", len(forecast), "horizon_hours", horizonHours)
	return nil
}

// writeFile writes data next to the target and renames it into place, so a
// concurrent reader never sees a torn file.
func (c *Cache) writeFile(data *cacheData) error {
	if c.path == "" {
		return nil
	}

	fetchedAt := data.FetchedAt.Format(time.RFC3339)
	lat, lon := data.Location.Latitude, data.Location.Longitude
	f := cacheFile{
		FetchedAt: &fetchedAt,
		Location:  &cacheLocation{Latitude: &lat, Longitude: &lon},
		Forecast:  make([]cacheSnapshot, len(data.Forecast)),
	}
	for i := range data.Forecast {
		s := data.Forecast[i]
		ts := s.Timestamp.Format(time.RFC3339)
		f.Forecast[i] = cacheSnapshot{Timestamp: &ts, TemperatureF: &s.TemperatureF, PrecipitationMM: &s.PrecipitationMM}
	}

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d", c.path, time.Now().UTC().UnixNano())
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// AgeHours returns the hours elapsed since the cached forecast was fetched.
func (c *Cache) AgeHours() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return 0, false
	}
	return c.now().Sub(c.data.FetchedAt).Hours(), true
}

// FetchedAt returns when the cached forecast was fetched.
func (c *Cache) FetchedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return time.Time{}, false
	}
	return c.data.FetchedAt, true
}

// IsValid reports whether a cache exists and is at most maxHours old.
func (c *Cache) IsValid(maxHours float64) bool {
	age, ok := c.AgeHours()
	return ok && age <= maxHours
}

// LocationMatches reports whether the cache was fetched for a point within
// tolerance degrees of (lat, lon) on both axes.
func (c *Cache) LocationMatches(lat, lon, tolerance float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return false
	}
	return math.Abs(c.data.Location.Latitude-lat) <= tolerance &&
		math.Abs(c.data.Location.Longitude-lon) <= tolerance
}

// SnapshotAt returns the snapshot whose timestamp is nearest to t.
func (c *Cache) SnapshotAt(t time.Time) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || len(c.data.Forecast) == 0 {
		return Snapshot{}, false
	}

	best := c.data.Forecast[0]
	bestDiff := absDuration(best.Timestamp.Sub(t))
	for _, s := range c.data.Forecast[1:] {
		if d := absDuration(s.Timestamp.Sub(t)); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best, true
}

// CurrentConditions returns the conditions of the snapshot nearest to now.
func (c *Cache) CurrentConditions() (Conditions, bool) {
	s, ok := c.SnapshotAt(c.now())
	if !ok {
		return Conditions{}, false
	}
	return Conditions{TemperatureF: s.TemperatureF, PrecipitationMM: s.PrecipitationMM}, true
}

// Snapshots returns a copy of the cached forecast in ascending time order.
func (c *Cache) Snapshots() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil
	}
	out := make([]Snapshot, len(c.data.Forecast))
	copy(out, c.data.Forecast)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// parseTimestamp accepts RFC 3339 as well as the zone-less ISO-8601 form
// Open-Meteo emits, which is read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
