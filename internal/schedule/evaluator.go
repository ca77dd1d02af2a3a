package schedule

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cor0nius/matguard/internal/clock"
)

// NoActiveReason is the decision reason when nothing wants the device on.
const NoActiveReason = "No active schedules want device ON"

// SolarTimes resolves sunrise and sunset for a date. *solar.Calculator
// satisfies it.
type SolarTimes interface {
	Sunrise(date time.Time, offsetMinutes int, fallback *clock.Time) (clock.Time, error)
	Sunset(date time.Time, offsetMinutes int, fallback *clock.Time) (clock.Time, error)
}

// Observed is the weather the conditions are checked against. A nil field is
// unknown and fails any condition that needs it.
type Observed struct {
	TemperatureF        *float64
	PrecipitationActive *bool
	BlackIceRisk        *bool
}

// Decision is the outcome of one evaluation.
type Decision struct {
	On     bool
	Winner *Schedule
	Reason string
	// Active lists every schedule that wanted the device on, in input order.
	Active []*Schedule
}

// Evaluator decides whether a device should be on. It keeps no state between
// calls and is safe for concurrent use.
type Evaluator struct {
	solar  SolarTimes
	loc    *time.Location
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator that reads wall-clock times in loc. solar
// may be nil when no schedule uses solar times.
func NewEvaluator(solar SolarTimes, loc *time.Location, logger *slog.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{solar: solar, loc: loc, logger: logger}
}

// ShouldTurnOn evaluates schedules at now. Conditioned schedules never activate
// while weatherOffline is set. A schedule whose solar time cannot be resolved
// is treated as inactive and its error is returned alongside the decision.
func (e *Evaluator) ShouldTurnOn(schedules []*Schedule, now time.Time, observed *Observed, weatherOffline bool) (Decision, error) {
	local := now.In(e.loc)
	weekday := ISOWeekday(local.Weekday())
	tod := clock.Of(local)

	var (
		active []*Schedule
		errs   []error
	)
	for _, s := range schedules {
		if s == nil || !s.Enabled || !s.RunsOn(weekday) {
			continue
		}

		if !s.AllDay {
			in, err := e.inWindow(s, local, tod)
			if err != nil {
				e.logger.Warn("could not resolve schedule window", "schedule", s.Name, "error", err)
				errs = append(errs, fmt.Errorf("schedule %q: %w", s.Name, err))
				continue
			}
			if !in {
				continue
			}
		}

		if !s.Conditions.Empty() {
			if weatherOffline {
				e.logger.Debug("skipping conditioned schedule, weather offline", "schedule", s.Name)
				continue
			}
			if !conditionsMet(s.Conditions, observed) {
				continue
			}
		}
		active = append(active, s)
	}

	d := Decision{Active: active}
	if len(active) == 0 {
		d.Reason = NoActiveReason
		return d, errors.Join(errs...)
	}

	winner := active[0]
	for _, s := range active[1:] {
		if s.Priority < winner.Priority {
			winner = s
		}
	}
	d.On = true
	d.Winner = winner
	d.Reason = reasonFor(winner, active)
	return d, errors.Join(errs...)
}

// ShouldTurnOff is the negation of ShouldTurnOn. Runtime and cooldown limits are
// not considered here.
func (e *Evaluator) ShouldTurnOff(schedules []*Schedule, now time.Time, observed *Observed, weatherOffline bool) (bool, string, error) {
	d, err := e.ShouldTurnOn(schedules, now, observed, weatherOffline)
	if d.On {
		return false, d.Reason, err
	}
	return true, d.Reason, err
}

func (e *Evaluator) inWindow(s *Schedule, day time.Time, now clock.Time) (bool, error) {
	if s.On == nil || s.Off == nil {
		return false, errors.New("missing on/off time")
	}
	on, _, err := e.resolve(*s.On, day)
	if err != nil {
		return false, fmt.Errorf("on time: %w", err)
	}
	off, known, err := e.resolve(*s.Off, day)
	if err != nil {
		return false, fmt.Errorf("off time: %w", err)
	}
	if !known {
		return now >= on, nil
	}
	return InWindow(now, on, off), nil
}

// resolve returns the time of day a TimeSpec fires on day. Duration specs have no
// fixed time of day and report known == false.
func (e *Evaluator) resolve(spec TimeSpec, day time.Time) (t clock.Time, known bool, err error) {
	switch spec.Kind {
	case KindClock:
		return spec.Clock, true, nil
	case KindSolar:
		if e.solar == nil {
			return 0, false, errors.New("no solar calculator configured")
		}
		if spec.Event == Sunrise {
			t, err = e.solar.Sunrise(day, spec.OffsetMinutes, spec.Fallback)
		} else {
			t, err = e.solar.Sunset(day, spec.OffsetMinutes, spec.Fallback)
		}
		if err != nil {
			return 0, false, err
		}
		return t, true, nil
	case KindDuration:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("unknown time type %v", spec.Kind)
	}
}

// InWindow reports whether t falls in the half-open window [on, off). When on
// is not before off the window wraps past midnight.
func InWindow(t, on, off clock.Time) bool {
	if on < off {
		return t >= on && t < off
	}
	return t >= on || t < off
}

func conditionsMet(c Conditions, obs *Observed) bool {
	if obs == nil {
		return false
	}
	if c.TemperatureMax != nil {
		if obs.TemperatureF == nil || *obs.TemperatureF > *c.TemperatureMax {
			return false
		}
	}
	if c.PrecipitationActive != nil {
		if obs.PrecipitationActive == nil || *obs.PrecipitationActive != *c.PrecipitationActive {
			return false
		}
	}
	if c.BlackIceRisk != nil {
		if obs.BlackIceRisk == nil || *obs.BlackIceRisk != *c.BlackIceRisk {
			return false
		}
	}
	return true
}

func reasonFor(winner *Schedule, active []*Schedule) string {
	reason := fmt.Sprintf("Schedule '%s' (priority %s) wants device ON", winner.Name, winner.Priority)
	var others []string
	for _, s := range active {
		if s != winner {
			others = append(others, fmt.Sprintf("'%s'", s.Name))
		}
	}
	if len(others) > 0 {
		reason += "; also active: " + strings.Join(others, ", ")
	}
	return reason
}
