package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cor0nius/matguard/internal/weather"
)

func TestWebhookNotifier(t *testing.T) {
	fixedNow := time.Date(2026, 1, 12, 7, 30, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		statusCode int
		wantErr    string
		wantResult string
	}{
		{
			name:       "Delivered",
			statusCode: http.StatusNoContent,
			wantResult: "sent",
		},
		{
			name:       "Rejected",
			statusCode: http.StatusBadGateway,
			wantErr:    "webhook returned 502 Bad Gateway: upstream unavailable",
			wantResult: "error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			notificationsTotal.Reset()

			var got notification
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(body, &got))

				w.WriteHeader(tc.statusCode)
				if tc.statusCode >= 300 {
					_, _ = io.WriteString(w, "upstream unavailable\n")
				}
			}))
			defer server.Close()

			n := newWebhookNotifier(server.URL, server.Client(), discardLogger())
			n.now = func() time.Time { return fixedNow }

			err := n.Notify(context.Background(), weather.EventOutageAlert, "Weather service has been offline for 1h", map[string]any{"attempts": 5})

			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.NotEqual(t, uuid.Nil, got.ID)
			assert.Equal(t, weather.EventOutageAlert, got.EventType)
			assert.Equal(t, "Weather service has been offline for 1h", got.Message)
			assert.Equal(t, map[string]any{"attempts": float64(5)}, got.Details)
			assert.True(t, fixedNow.Equal(got.Timestamp))
			assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues(weather.EventOutageAlert, tc.wantResult)))
		})
	}
}

func TestWebhookNotifier_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	n := newWebhookNotifier(url, nil, discardLogger())
	err := n.Notify(context.Background(), weather.EventOffline, "offline", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "send notification")
}

func TestLogNotifier(t *testing.T) {
	notificationsTotal.Reset()

	n := newLogNotifier(discardLogger())
	require.NoError(t, n.Notify(context.Background(), weather.EventRecovered, "Weather service recovered", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues(weather.EventRecovered, "logged")))
}
