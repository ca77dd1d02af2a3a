package schedule

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/cor0nius/matguard/internal/clock"
)

const (
	defaultName      = "Unnamed Schedule"
	maxOffsetMinutes = 180
	minTemperatureF  = -100
	maxTemperatureF  = 150
)

// FieldError reports one invalid field of a raw schedule.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// New validates a raw schedule, as decoded from YAML or JSON, and builds a
// Schedule. Every invalid field is reported; an unknown priority is the only
// problem that is logged and defaulted instead.
func New(raw map[string]any, logger *slog.Logger) (*Schedule, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if raw == nil {
		return nil, errors.New("schedule is empty")
	}

	var errs []error
	s := &Schedule{Name: defaultName, Enabled: true, Priority: Normal}

	if v, ok := raw["name"]; ok && v != nil {
		name, isString := v.(string)
		switch {
		case !isString:
			errs = append(errs, fieldErr("name", "must be a string, got %T", v))
		case strings.TrimSpace(name) != "":
			s.Name = strings.TrimSpace(name)
		}
	}

	if v, ok := raw["enabled"]; ok && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			errs = append(errs, fieldErr("enabled", "must be a boolean, got %T", v))
		}
		s.Enabled = b
	}

	if v, ok := raw["priority"]; ok && v != nil {
		str, _ := v.(string)
		p, known := ParsePriority(str)
		if !known {
			logger.Warn("unknown schedule priority, using normal", "schedule", s.Name, "priority", v)
		}
		s.Priority = p
	}

	days, err := parseDays(raw["days"])
	if err != nil {
		errs = append(errs, err)
	}
	s.Days = days

	if v, ok := raw["all_day"]; ok && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			errs = append(errs, fieldErr("all_day", "must be a boolean, got %T", v))
		}
		s.AllDay = b
	}

	if !s.AllDay {
		on, err := parseTimeSpec("on", raw["on"], false)
		if err != nil {
			errs = append(errs, err)
		}
		off, err := parseTimeSpec("off", raw["off"], true)
		if err != nil {
			errs = append(errs, err)
		}
		s.On, s.Off = on, off
	}

	conds, condErrs := parseConditions(raw["conditions"], logger, s.Name)
	errs = append(errs, condErrs...)
	s.Conditions = conds

	safety, safetyErrs := parseSafety(raw["safety"])
	errs = append(errs, safetyErrs...)
	s.Safety = safety

	if len(errs) > 0 {
		return nil, fmt.Errorf("schedule %q: %w", s.Name, errors.Join(errs...))
	}
	return s, nil
}

// NewAll validates a batch and reports every invalid schedule together. No
// schedules are returned unless all of them are valid.
func NewAll(raws []map[string]any, logger *slog.Logger) ([]*Schedule, error) {
	out := make([]*Schedule, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		s, err := New(raw, logger)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
			continue
		}
		out = append(out, s)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func parseDays(v any) ([]int, error) {
	if v == nil {
		return []int{1, 2, 3, 4, 5, 6, 7}, nil
	}
	items, ok := v.([]any)
	if !ok {
		if ints, isInts := v.([]int); isInts {
			items = make([]any, len(ints))
			for i, d := range ints {
				items[i] = d
			}
		} else {
			return nil, fieldErr("days", "must be a list of weekdays 1-7, got %T", v)
		}
	}

	seen := make(map[int]bool, len(items))
	days := make([]int, 0, len(items))
	for _, item := range items {
		f, isNum := toFloat(item)
		if !isNum || f != math.Trunc(f) || f < 1 || f > 7 {
			return nil, fieldErr("days", "invalid weekday %v, expected 1 (Monday) to 7 (Sunday)", item)
		}
		d := int(f)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days, nil
}

func parseTimeSpec(field string, v any, allowDuration bool) (*TimeSpec, error) {
	if v == nil {
		return nil, fieldErr(field, "is required unless all_day is set")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldErr(field, "must be a mapping with a type, got %T", v)
	}
	kind, _ := m["type"].(string)

	switch strings.ToLower(kind) {
	case "time":
		str, isString := m["value"].(string)
		if !isString {
			return nil, fieldErr(field+".value", "must be an HH:MM string")
		}
		t, err := clock.Parse(str)
		if err != nil {
			return nil, fieldErr(field+".value", "%v", err)
		}
		return &TimeSpec{Kind: KindClock, Clock: t}, nil

	case "solar":
		spec := &TimeSpec{Kind: KindSolar}
		event, _ := m["event"].(string)
		switch strings.ToLower(event) {
		case "sunrise":
			spec.Event = Sunrise
		case "sunset":
			spec.Event = Sunset
		default:
			return nil, fieldErr(field+".event", "must be sunrise or sunset, got %v", m["event"])
		}
		if off, present := m["offset"]; present && off != nil {
			f, isNum := toFloat(off)
			if !isNum || f != math.Trunc(f) {
				return nil, fieldErr(field+".offset", "must be a whole number of minutes, got %v", off)
			}
			if f < -maxOffsetMinutes || f > maxOffsetMinutes {
				return nil, fieldErr(field+".offset", "%v is outside [-%d, %d]", off, maxOffsetMinutes, maxOffsetMinutes)
			}
			spec.OffsetMinutes = int(f)
		}
		fb, isString := m["fallback"].(string)
		if !isString {
			return nil, fieldErr(field+".fallback", "is required for solar times")
		}
		t, err := clock.Parse(fb)
		if err != nil {
			return nil, fieldErr(field+".fallback", "%v", err)
		}
		spec.Fallback = &t
		return spec, nil

	case "duration":
		if !allowDuration {
			return nil, fieldErr(field, "duration can only be used for off")
		}
		hours, isNum := toFloat(m["hours"])
		if !isNum {
			return nil, fieldErr(field+".hours", "must be a number")
		}
		if hours <= 0 {
			return nil, fieldErr(field+".hours", "must be positive, got %v", hours)
		}
		return &TimeSpec{Kind: KindDuration, Hours: hours}, nil

	default:
		return nil, fieldErr(field+".type", "unknown time type %v", m["type"])
	}
}

func parseConditions(v any, logger *slog.Logger, name string) (Conditions, []error) {
	var c Conditions
	if v == nil {
		return c, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return c, []error{fieldErr("conditions", "must be a mapping, got %T", v)}
	}

	var errs []error
	for key, val := range m {
		switch key {
		case "temperature_max":
			f, isNum := toFloat(val)
			switch {
			case !isNum:
				errs = append(errs, fieldErr("conditions.temperature_max", "must be a number, got %T", val))
			case f < minTemperatureF || f > maxTemperatureF:
				errs = append(errs, fieldErr("conditions.temperature_max", "%v is outside [%d, %d]", f, minTemperatureF, maxTemperatureF))
			default:
				c.TemperatureMax = &f
			}
		case "precipitation_active", "black_ice_risk":
			b, isBool := val.(bool)
			if !isBool {
				errs = append(errs, fieldErr("conditions."+key, "must be a boolean, got %T", val))
				continue
			}
			if key == "precipitation_active" {
				c.PrecipitationActive = &b
			} else {
				c.BlackIceRisk = &b
			}
		default:
			logger.Warn("ignoring unknown schedule condition", "schedule", name, "condition", key)
		}
	}
	return c, errs
}

func parseSafety(v any) (Safety, []error) {
	var s Safety
	if v == nil {
		return s, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return s, []error{fieldErr("safety", "must be a mapping, got %T", v)}
	}

	var errs []error
	if val, present := m["max_runtime_hours"]; present && val != nil {
		f, isNum := toFloat(val)
		if !isNum || f <= 0 {
			errs = append(errs, fieldErr("safety.max_runtime_hours", "must be a positive number, got %v", val))
		} else {
			s.MaxRuntimeHours = &f
		}
	}
	if val, present := m["cooldown_minutes"]; present && val != nil {
		f, isNum := toFloat(val)
		if !isNum || f < 0 {
			errs = append(errs, fieldErr("safety.cooldown_minutes", "must be a non-negative number, got %v", val))
		} else {
			s.CooldownMinutes = &f
		}
	}
	return s, errs
}

// toFloat accepts the numeric types YAML and JSON decoders produce. Booleans
// and strings are not numbers.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
