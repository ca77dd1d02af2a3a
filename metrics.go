package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cor0nius/matguard/internal/weather"
)

// This file defines the Prometheus metrics that are exposed by the application.

// httpRequestsTotal is a Prometheus counter vector that tracks the total number of HTTP requests.
// It is partitioned by the request's URL path, HTTP method, and the resulting status code.
var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "matguard_http_requests_total",
	Help: "Total number of HTTP requests by path, method and code.",
}, []string{"path", "method", "code"})

var weatherFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "matguard_weather_fetches_total",
	Help: "Forecast provider calls by result.",
}, []string{"result"})

// weatherServiceState is 0 online, 1 degraded (using cache), 2 offline.
var weatherServiceState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "matguard_weather_service_state",
	Help: "Weather service availability: 0 online, 1 degraded using cache, 2 offline.",
})

var outletOn = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "matguard_outlet_on",
	Help: "1 while the outlet is commanded on.",
}, []string{"outlet"})

var outletSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "matguard_outlet_switches_total",
	Help: "Outlet state changes by outlet and new state.",
}, []string{"outlet", "state"})

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "matguard_notifications_total",
	Help: "Notifications by event type and delivery result.",
}, []string{"event_type", "result"})

func recordWeatherState(s weather.State) {
	weatherServiceState.Set(float64(s))
}

// meteredProvider counts provider calls on their way to the real provider.
type meteredProvider struct {
	next weather.Provider
}

func (p *meteredProvider) Fetch(ctx context.Context, hoursAhead int) (*weather.ForecastPayload, error) {
	payload, err := p.next.Fetch(ctx, hoursAhead)
	if err != nil {
		weatherFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	weatherFetchesTotal.WithLabelValues("success").Inc()
	return payload, nil
}
