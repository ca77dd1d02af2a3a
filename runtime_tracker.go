package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/cor0nius/matguard/internal/schedule"
)

// runtimeTracker holds the per-outlet state the evaluator deliberately lacks:
// when an outlet turned on, whether a duration schedule already ran today, and
// cooldowns after a forced stop.
type runtimeTracker struct {
	loc               *time.Location
	defaultMaxRuntime time.Duration
	defaultCooldown   time.Duration

	mu      sync.Mutex
	outlets map[string]*outletRuntime
}

type outletRuntime struct {
	on            bool
	onSince       time.Time
	cooldownUntil time.Time
	// durationDone is "<schedule>@<local date>" once that schedule's duration
	// has elapsed, so it does not restart until the next day.
	durationDone string
}

// verdict is the final command for one outlet.
type verdict struct {
	On            bool
	Reason        string
	Changed       bool
	OnSince       *time.Time
	CooldownUntil *time.Time
}

func newRuntimeTracker(loc *time.Location, maxRuntime, cooldown time.Duration) *runtimeTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &runtimeTracker{
		loc:               loc,
		defaultMaxRuntime: maxRuntime,
		defaultCooldown:   cooldown,
		outlets:           make(map[string]*outletRuntime),
	}
}

// Apply turns an evaluator decision into an outlet command at now.
func (rt *runtimeTracker) Apply(outlet string, d schedule.Decision, now time.Time) verdict {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	r, ok := rt.outlets[outlet]
	if !ok {
		r = &outletRuntime{}
		rt.outlets[outlet] = r
	}
	wasOn := r.on

	if !d.On || d.Winner == nil {
		r.stop()
		return rt.verdictLocked(r, wasOn, now, d.Reason)
	}
	w := d.Winner

	if now.Before(r.cooldownUntil) {
		r.stop()
		return rt.verdictLocked(r, wasOn, now, fmt.Sprintf("Cooling down until %s after reaching max runtime", r.cooldownUntil.In(rt.loc).Format("15:04")))
	}

	isDuration := w.Off != nil && w.Off.Kind == schedule.KindDuration
	dayKey := w.Name + "@" + now.In(rt.loc).Format(time.DateOnly)
	if isDuration && r.durationDone == dayKey {
		r.stop()
		return rt.verdictLocked(r, wasOn, now, fmt.Sprintf("Schedule '%s' already ran for %gh today", w.Name, w.Off.Hours))
	}

	if !r.on {
		r.on = true
		r.onSince = now
	}
	elapsed := now.Sub(r.onSince)

	if isDuration && elapsed >= hours(w.Off.Hours) {
		r.durationDone = dayKey
		r.stop()
		return rt.verdictLocked(r, wasOn, now, fmt.Sprintf("Schedule '%s' finished its %gh run", w.Name, w.Off.Hours))
	}

	maxRuntime := rt.defaultMaxRuntime
	if w.Safety.MaxRuntimeHours != nil {
		maxRuntime = hours(*w.Safety.MaxRuntimeHours)
	}
	if maxRuntime > 0 && elapsed >= maxRuntime {
		cooldown := rt.defaultCooldown
		if w.Safety.CooldownMinutes != nil {
			cooldown = time.Duration(*w.Safety.CooldownMinutes * float64(time.Minute))
		}
		r.cooldownUntil = now.Add(cooldown)
		r.stop()
		return rt.verdictLocked(r, wasOn, now, fmt.Sprintf("Max runtime of %s reached, cooling down for %s", maxRuntime, cooldown))
	}

	return rt.verdictLocked(r, wasOn, now, d.Reason)
}

func (r *outletRuntime) stop() {
	r.on = false
	r.onSince = time.Time{}
}

func (rt *runtimeTracker) verdictLocked(r *outletRuntime, wasOn bool, now time.Time, reason string) verdict {
	v := verdict{On: r.on, Reason: reason, Changed: r.on != wasOn}
	if r.on {
		t := r.onSince
		v.OnSince = &t
	}
	if now.Before(r.cooldownUntil) {
		t := r.cooldownUntil
		v.CooldownUntil = &t
	}
	return v
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
