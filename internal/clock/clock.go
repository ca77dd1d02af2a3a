// Package clock provides a wall-clock time-of-day value used by schedules and
// the solar calculator.
package clock

import (
	"fmt"
	"time"
)

// Time is a time of day, stored as the offset from local midnight.
type Time time.Duration

// Day is the length of one calendar day as a clock.Time offset.
const Day = Time(24 * time.Hour)

// New builds a Time from hours, minutes and seconds. Values are not range
// checked; callers that accept user input should go through Parse.
func New(hour, minute, second int) Time {
	return Time(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

// Parse reads a strict "HH:MM" 24-hour value.
func Parse(s string) (Time, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, ok1 := twoDigits(s[0:2])
	minute, ok2 := twoDigits(s[3:5])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if hour > 23 || minute > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return New(hour, minute, 0), nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// Of returns the time of day of t in t's own location.
func Of(t time.Time) Time {
	return New(t.Hour(), t.Minute(), t.Second())
}

// On returns the instant at which this time of day occurs on the civil date of
// day, in day's location.
func (c Time) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(time.Duration(c))
}

func (c Time) Hour() int   { return int(time.Duration(c) / time.Hour) }
func (c Time) Minute() int { return int(time.Duration(c)%time.Hour) / int(time.Minute) }

func (c Time) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}
