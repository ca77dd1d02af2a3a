package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cor0nius/matguard/internal/weather"
)

// This file contains the HTTP handlers of the status surface. They only read:
// decisions are made by the scheduler and published to the store.

type statusResponse struct {
	Weather weather.Status `json:"weather"`
	Outlets []outletStatus `json:"outlets"`
}

type outletStatus struct {
	Name      string          `json:"name"`
	Schedules []string        `json:"schedules"`
	Decision  *decisionRecord `json:"decision,omitempty"`
}

type configResponse struct {
	DevMode      bool    `json:"dev_mode"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timezone     string  `json:"timezone"`
	TickInterval string  `json:"tick_interval"`
	Outlets      int     `json:"outlets"`
}

// handlerStatus reports the weather service status and the last decision
// published for every outlet.
func (cfg *apiConfig) handlerStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodGet {
		cfg.respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}

	resp := statusResponse{
		Weather: cfg.weather.Status(),
		Outlets: make([]outletStatus, 0, len(cfg.outlets)),
	}
	for _, plan := range cfg.outlets {
		st := outletStatus{Name: plan.name, Schedules: make([]string, 0, len(plan.schedules))}
		for _, s := range plan.schedules {
			st.Schedules = append(st.Schedules, s.Name)
		}

		raw, err := cfg.store.Get(ctx, outletKey(plan.name))
		switch {
		case errors.Is(err, ErrStoreMiss):
		case err != nil:
			cfg.logger.Warn("could not read outlet decision", "outlet", plan.name, "error", err)
		default:
			var rec decisionRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				cfg.logger.Warn("ignoring malformed outlet decision", "outlet", plan.name, "error", err)
			} else {
				st.Decision = &rec
			}
		}
		resp.Outlets = append(resp.Outlets, st)
	}

	cfg.respondWithJSON(w, http.StatusOK, resp)
}

func (cfg *apiConfig) handlerHealthz(w http.ResponseWriter, r *http.Request) {
	cfg.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (cfg *apiConfig) handlerConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		cfg.respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}
	cfg.respondWithJSON(w, http.StatusOK, configResponse{
		DevMode:      cfg.devMode,
		Latitude:     cfg.settings.Latitude,
		Longitude:    cfg.settings.Longitude,
		Timezone:     cfg.settings.Timezone,
		TickInterval: cfg.settings.TickInterval.String(),
		Outlets:      len(cfg.outlets),
	})
}

// handlerResetState drops every published decision. Registered in dev mode only.
func (cfg *apiConfig) handlerResetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		cfg.respondWithError(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
		return
	}
	if err := cfg.store.Flush(r.Context()); err != nil {
		cfg.respondWithError(w, http.StatusInternalServerError, "Failed to reset state", err)
		return
	}
	cfg.logger.Debug("published state flushed")
	cfg.respondWithJSON(w, http.StatusOK, map[string]string{"status": "state reset"})
}
