package solar

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cor0nius/matguard/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func denver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	return loc
}

func within(t *testing.T, got clock.Time, lo, hi string) {
	t.Helper()
	lower, err := clock.Parse(lo)
	require.NoError(t, err)
	upper, err := clock.Parse(hi)
	require.NoError(t, err)
	assert.True(t, got >= lower && got <= upper, "expected %s to be within [%s, %s]", got, lo, hi)
}

func TestCalculate_SummerSolsticeDenver(t *testing.T) {
	loc := denver(t)
	calc := New(39.7392, -104.9903, loc)
	date := time.Date(2024, 6, 21, 12, 0, 0, 0, loc)

	times, err := calc.Calculate(date)
	require.NoError(t, err)

	within(t, clock.Of(times.Sunrise), "05:15", "05:50")
	within(t, clock.Of(times.Sunset), "20:15", "20:45")
	assert.Equal(t, loc, times.Sunrise.Location())
}

func TestCalculate_IsMemoizedPerDate(t *testing.T) {
	calc := New(51.1093, 17.0386, time.UTC)
	day := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

	first, err := calc.Calculate(day)
	require.NoError(t, err)
	second, err := calc.Calculate(day.Add(10 * time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calc.cached())

	_, err = calc.Calculate(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, calc.cached())

	calc.ClearCache()
	assert.Equal(t, 0, calc.cached())
}

func TestCalculate_Deterministic(t *testing.T) {
	day := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	a := New(45.5, -122.6, time.UTC)
	b := New(45.5, -122.6, time.UTC)

	ta, err := a.Calculate(day)
	require.NoError(t, err)
	tb, err := b.Calculate(day)
	require.NoError(t, err)

	assert.True(t, ta.Sunrise.Equal(tb.Sunrise))
	assert.True(t, ta.Sunset.Equal(tb.Sunset))
}

func TestSunriseSunset_Offsets(t *testing.T) {
	calc := New(39.7392, -104.9903, time.UTC)
	day := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	times, err := calc.Calculate(day)
	require.NoError(t, err)

	got, err := calc.Sunrise(day, 30, nil)
	require.NoError(t, err)
	assert.Equal(t, clock.Of(times.Sunrise.Add(30*time.Minute)), got)

	got, err = calc.Sunset(day, -45, nil)
	require.NoError(t, err)
	assert.Equal(t, clock.Of(times.Sunset.Add(-45*time.Minute)), got)
}

func TestSunset_OffsetCrossesMidnight(t *testing.T) {
	// In UTC, Denver's sunset lands around 01:00-03:00 of the next UTC day,
	// so a large negative offset pulls it back across midnight.
	calc := New(39.7392, -104.9903, time.UTC)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)

	times, err := calc.Calculate(day)
	require.NoError(t, err)
	expected := clock.Of(times.Sunset.Add(-180 * time.Minute))

	got, err := calc.Sunset(day, -180, nil)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
	assert.True(t, got >= 0 && got < clock.Day)
}

func TestPolarNight(t *testing.T) {
	calc := New(78.2232, 15.6267, time.UTC) // Longyearbyen
	day := time.Date(2024, 12, 21, 0, 0, 0, 0, time.UTC)

	_, err := calc.Calculate(day)
	var calcErr *CalculationError
	require.True(t, errors.As(err, &calcErr))
	assert.Equal(t, "2024-12-21", calcErr.Date)

	_, err = calc.Sunrise(day, 0, nil)
	assert.True(t, errors.As(err, &calcErr))

	fallback := clock.New(9, 15, 0)
	got, err := calc.Sunrise(day, 20, &fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = calc.Sunset(day, 0, &fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}

func TestCalculate_Concurrent(t *testing.T) {
	calc := New(40.0, -105.0, time.UTC)
	day := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := calc.Calculate(day)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calc.cached())
}
