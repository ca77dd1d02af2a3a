package weather

import (
	"context"
	"sync"
	"time"
)

// --- Test doubles ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubProvider returns whatever fetchFunc returns and counts calls.
type stubProvider struct {
	mu        sync.Mutex
	calls     int
	fetchFunc func(ctx context.Context, hoursAhead int) (*ForecastPayload, error)
}

func (p *stubProvider) Fetch(ctx context.Context, hoursAhead int) (*ForecastPayload, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fetchFunc
	p.mu.Unlock()
	return fn(ctx, hoursAhead)
}

type sentEvent struct {
	eventType string
	message   string
	details   map[string]any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, eventType, message string, details map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{eventType: eventType, message: message, details: details})
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.eventType)
	}
	return out
}

// hourlyPayload builds an Open-Meteo style payload with one entry per hour
// starting at start.
func hourlyPayload(start time.Time, hours int, temp func(i int) float64, precip func(i int) float64) *ForecastPayload {
	p := &ForecastPayload{}
	for i := 0; i < hours; i++ {
		p.Hourly.Time = append(p.Hourly.Time, start.Add(time.Duration(i)*time.Hour).UTC().Format("2006-01-02T15:04"))
		p.Hourly.Temperature = append(p.Hourly.Temperature, temp(i))
		p.Hourly.Precipitation = append(p.Hourly.Precipitation, precip(i))
	}
	return p
}

func constant(v float64) func(int) float64 {
	return func(int) float64 { return v }
}
