package main

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cor0nius/matguard/internal/schedule"
	"github.com/cor0nius/matguard/internal/weather"
)

const decisionTTL = 10 * time.Minute

// Scheduler drives the two loops of the controller: the weather fetch loop,
// paced by the weather service, and the schedule tick, run by cron.
type Scheduler struct {
	cfg       *apiConfig
	evaluator *schedule.Evaluator
	tracker   *runtimeTracker
	cron      *cron.Cron
	tickSpec  string
	now       func() time.Time

	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	weatherJob func(ctx context.Context) bool
	tickJob    func(ctx context.Context)
}

// decisionRecord is what gets published per outlet after each tick.
type decisionRecord struct {
	Outlet        string     `json:"outlet"`
	On            bool       `json:"on"`
	Reason        string     `json:"reason"`
	Schedule      string     `json:"schedule,omitempty"`
	Priority      string     `json:"priority,omitempty"`
	Active        []string   `json:"active_schedules,omitempty"`
	WeatherState  string     `json:"weather_state"`
	OnSince       *time.Time `json:"on_since,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	EvaluatedAt   time.Time  `json:"evaluated_at"`
}

func outletKey(name string) string {
	return "outlet:" + name
}

func NewScheduler(cfg *apiConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		evaluator: schedule.NewEvaluator(cfg.sun, cfg.location, cfg.logger.With("component", "evaluator")),
		tracker: newRuntimeTracker(cfg.location,
			hours(cfg.settings.MaxRuntimeHours),
			time.Duration(cfg.settings.CooldownMinutes*float64(time.Minute)),
		),
		cron:     cron.New(cron.WithLocation(cfg.location)),
		tickSpec: "@every " + cfg.settings.TickInterval.String(),
		now:      time.Now,
		stop:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.weatherJob = s.runWeatherJob
	s.tickJob = s.runTick
	return s
}

// Start launches the weather loop, runs one schedule tick and starts cron.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.tickSpec, func() { s.tickJob(s.ctx) }); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.weatherLoop()

	s.tickJob(s.ctx)
	s.cron.Start()
	return nil
}

// Stop halts both loops and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cfg.logger.Info("scheduler stopped")
}

func (s *Scheduler) weatherLoop() {
	defer s.wg.Done()
	for {
		if !s.weatherJob(s.ctx) {
			s.cfg.weather.UpdateRetryInterval()
		}
		wait := s.cfg.weather.NextFetchInterval()
		s.cfg.logger.Debug("next weather fetch scheduled", "in", wait.String())

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runWeatherJob(ctx context.Context) bool {
	ok := s.cfg.weather.FetchAndCacheForecast(ctx)
	recordWeatherState(s.cfg.weather.State())
	return ok
}

// observe builds the evaluator's view of the weather. The second result is
// true when no weather data is available at all.
func (s *Scheduler) observe() (*schedule.Observed, bool) {
	if s.cfg.weather.IsOffline() {
		return nil, true
	}
	cond, ok := s.cfg.weather.CurrentConditions()
	if !ok {
		return nil, true
	}

	temp := cond.TemperatureF
	precipitating := cond.PrecipitationMM > 0
	blackIce := false
	if temp <= s.cfg.settings.BlackIceTempF {
		if precipitating {
			blackIce = true
		} else {
			_, blackIce = s.cfg.weather.CheckPrecipitationForecast(s.cfg.settings.BlackIceLookaheadHours, s.cfg.settings.BlackIceTempF)
		}
	}
	return &schedule.Observed{
		TemperatureF:        &temp,
		PrecipitationActive: &precipitating,
		BlackIceRisk:        &blackIce,
	}, false
}

func (s *Scheduler) runTick(ctx context.Context) {
	now := s.now()
	state := s.cfg.weather.State()
	recordWeatherState(state)
	observed, offline := s.observe()

	for _, plan := range s.cfg.outlets {
		d, err := s.evaluator.ShouldTurnOn(plan.schedules, now, observed, offline)
		if err != nil {
			s.cfg.logger.Warn("some schedules could not be evaluated", "outlet", plan.name, "error", err)
		}
		v := s.tracker.Apply(plan.name, d, now)

		if err := plan.outlet.SetState(ctx, v.On); err != nil {
			s.cfg.logger.Error("could not switch outlet", "outlet", plan.name, "on", v.On, "error", err)
			continue
		}
		if v.Changed {
			outletSwitchesTotal.WithLabelValues(plan.name, onOff(v.On)).Inc()
			s.cfg.logger.Info("outlet state changed", "outlet", plan.name, "on", v.On, "reason", v.Reason)
		}
		if v.On {
			outletOn.WithLabelValues(plan.name).Set(1)
		} else {
			outletOn.WithLabelValues(plan.name).Set(0)
		}

		record := newDecisionRecord(plan.name, d, v, state, now)
		if err := s.cfg.store.Set(ctx, outletKey(plan.name), record, decisionTTL); err != nil {
			s.cfg.logger.Warn("could not publish decision", "outlet", plan.name, "error", err)
		}
	}
}

func newDecisionRecord(outlet string, d schedule.Decision, v verdict, state weather.State, now time.Time) decisionRecord {
	rec := decisionRecord{
		Outlet:        outlet,
		On:            v.On,
		Reason:        v.Reason,
		WeatherState:  state.String(),
		OnSince:       v.OnSince,
		CooldownUntil: v.CooldownUntil,
		EvaluatedAt:   now.UTC(),
	}
	if d.Winner != nil {
		rec.Schedule = d.Winner.Name
		rec.Priority = d.Winner.Priority.String()
	}
	for _, a := range d.Active {
		rec.Active = append(rec.Active, a.Name)
	}
	return rec
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
