package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/cor0nius/matguard/internal/clock"
)

// Priority orders competing schedules. Lower values win.
type Priority int

const (
	Critical Priority = iota
	Normal
	Low
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts the priority names case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, true
	case "normal":
		return Normal, true
	case "low":
		return Low, true
	default:
		return Normal, false
	}
}

// SpecKind tags which variant of TimeSpec is populated.
type SpecKind int

const (
	KindClock SpecKind = iota + 1
	KindSolar
	KindDuration
)

func (k SpecKind) String() string {
	switch k {
	case KindClock:
		return "time"
	case KindSolar:
		return "solar"
	case KindDuration:
		return "duration"
	default:
		return "unknown"
	}
}

type SolarEvent int

const (
	Sunrise SolarEvent = iota + 1
	Sunset
)

func (e SolarEvent) String() string {
	switch e {
	case Sunrise:
		return "sunrise"
	case Sunset:
		return "sunset"
	default:
		return "unknown"
	}
}

// TimeSpec describes when a schedule switches. Only the fields for Kind are
// meaningful.
type TimeSpec struct {
	Kind SpecKind

	// KindClock
	Clock clock.Time

	// KindSolar
	Event         SolarEvent
	OffsetMinutes int
	Fallback      *clock.Time

	// KindDuration, off specs only
	Hours float64
}

func (s TimeSpec) String() string {
	switch s.Kind {
	case KindClock:
		return s.Clock.String()
	case KindSolar:
		if s.Fallback == nil {
			return fmt.Sprintf("%s%+dm", s.Event, s.OffsetMinutes)
		}
		return fmt.Sprintf("%s%+dm (fallback %s)", s.Event, s.OffsetMinutes, *s.Fallback)
	case KindDuration:
		return fmt.Sprintf("%gh after on", s.Hours)
	default:
		return "unknown"
	}
}

// Conditions are weather requirements. A nil field is not checked.
type Conditions struct {
	TemperatureMax      *float64
	PrecipitationActive *bool
	BlackIceRisk        *bool
}

// Empty reports whether no condition is set.
func (c Conditions) Empty() bool {
	return c.TemperatureMax == nil && c.PrecipitationActive == nil && c.BlackIceRisk == nil
}

// Safety holds per-schedule overrides of the global runtime limits.
type Safety struct {
	MaxRuntimeHours *float64
	CooldownMinutes *float64
}

// Schedule is a validated on/off rule. Build one with New; treat it as
// read-only afterwards.
type Schedule struct {
	Name     string
	Enabled  bool
	Priority Priority

	// Days holds ISO weekdays, 1 = Monday through 7 = Sunday, ascending.
	Days []int

	AllDay bool
	// On and Off are nil for all-day schedules.
	On  *TimeSpec
	Off *TimeSpec

	Conditions Conditions
	Safety     Safety
}

// ISOWeekday converts a time.Weekday to 1 = Monday ... 7 = Sunday.
func ISOWeekday(d time.Weekday) int {
	return (int(d)+6)%7 + 1
}

// RunsOn reports whether the schedule applies on the given ISO weekday.
func (s *Schedule) RunsOn(isoWeekday int) bool {
	for _, d := range s.Days {
		if d == isoWeekday {
			return true
		}
	}
	return false
}
