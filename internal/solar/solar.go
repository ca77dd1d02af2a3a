// Package solar computes sunrise and sunset times for a fixed location.
//
// Results are memoized per civil date, so repeated lookups for the same day
// during a scheduling tick do not recompute the solar position.
package solar

import (
	"fmt"
	"sync"
	"time"

	"github.com/cor0nius/matguard/internal/clock"
	"github.com/nathan-osman/go-sunrise"
)

// CalculationError is returned when the sun does not cross the horizon on the
// requested date (polar day or polar night) and no fallback was supplied.
type CalculationError struct {
	Date      string
	Latitude  float64
	Longitude float64
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("no sunrise/sunset on %s at (%.4f, %.4f)", e.Date, e.Latitude, e.Longitude)
}

// Times holds the sunrise and sunset instants for one date.
type Times struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Calculator computes sunrise/sunset for a latitude, longitude and timezone.
// It is safe for concurrent use.
type Calculator struct {
	latitude  float64
	longitude float64
	loc       *time.Location

	mu    sync.Mutex
	cache map[string]Times
}

// New creates a Calculator. A nil loc means UTC.
func New(latitude, longitude float64, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		latitude:  latitude,
		longitude: longitude,
		loc:       loc,
		cache:     make(map[string]Times),
	}
}

// Location returns the timezone results are expressed in.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Calculate returns sunrise and sunset for the civil date of date (taken in the
// calculator's timezone). Both instants are in the calculator's timezone.
func (c *Calculator) Calculate(date time.Time) (Times, error) {
	local := date.In(c.loc)
	key := local.Format(time.DateOnly)

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	y, m, d := local.Date()
	rise, set := sunrise.SunriseSunset(c.latitude, c.longitude, y, m, d)
	if rise.IsZero() || set.IsZero() {
		return Times{}, &CalculationError{Date: key, Latitude: c.latitude, Longitude: c.longitude}
	}

	times := Times{Sunrise: rise.In(c.loc), Sunset: set.In(c.loc)}
	c.mu.Lock()
	c.cache[key] = times
	c.mu.Unlock()
	return times, nil
}

// Sunrise returns the time of day of sunrise shifted by offsetMinutes. The
// offset is applied to the full instant, so it may roll into the adjacent day.
// If the calculation fails and fallback is non-nil, the fallback is returned.
func (c *Calculator) Sunrise(date time.Time, offsetMinutes int, fallback *clock.Time) (clock.Time, error) {
	return c.event(date, offsetMinutes, fallback, func(t Times) time.Time { return t.Sunrise })
}

// Sunset is the sunset counterpart of Sunrise.
func (c *Calculator) Sunset(date time.Time, offsetMinutes int, fallback *clock.Time) (clock.Time, error) {
	return c.event(date, offsetMinutes, fallback, func(t Times) time.Time { return t.Sunset })
}

func (c *Calculator) event(date time.Time, offsetMinutes int, fallback *clock.Time, pick func(Times) time.Time) (clock.Time, error) {
	times, err := c.Calculate(date)
	if err != nil {
		if fallback != nil {
			return *fallback, nil
		}
		return 0, err
	}
	shifted := pick(times).Add(time.Duration(offsetMinutes) * time.Minute)
	return clock.Of(shifted.In(c.loc)), nil
}

// ClearCache drops all memoized results.
func (c *Calculator) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]Times)
	c.mu.Unlock()
}

// cached reports how many dates are memoized.
func (c *Calculator) cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
