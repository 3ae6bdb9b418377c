// Package quiet decides whether a reminder should be hidden because the
// owner's configured quiet-hours window is currently active.
package quiet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSettings reports a malformed quiet-hours configuration, such as
// an unparseable clock string or an out-of-range hour/minute.
var ErrInvalidSettings = errors.New("invalid quiet hours settings")

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a "HH:MM" 24h clock string.
func ParseClock(value string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: malformed clock %q", ErrInvalidSettings, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("%w: malformed clock %q", ErrInvalidSettings, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("%w: malformed clock %q", ErrInvalidSettings, value)
	}
	c := Clock{Hour: hour, Minute: minute}
	if err := c.Validate(); err != nil {
		return Clock{}, err
	}
	return c, nil
}

// ClockOf extracts the clock-of-day from t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

func (c Clock) Validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("%w: clock %02d:%02d out of range", ErrInvalidSettings, c.Hour, c.Minute)
	}
	return nil
}

// Minutes returns minutes since midnight in [0, 1440).
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Settings is a user's quiet-hours configuration. Start and End are
// independent clock times interpreted in Timezone; End numerically before
// Start means the window wraps past midnight (e.g. 22:00-08:00).
type Settings struct {
	Enabled  bool
	Start    Clock
	End      Clock
	Timezone string
}

func (s Settings) Validate() error {
	if err := s.Start.Validate(); err != nil {
		return err
	}
	return s.End.Validate()
}

// Location resolves the configured IANA timezone, falling back to UTC when
// unset or unknown.
func (s Settings) Location() *time.Location {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsWithin reports whether the given local clock time falls inside the
// quiet-hours window. The start is inclusive and the end exclusive. A
// zero-length window (Start == End) is never active.
func IsWithin(now Clock, s Settings) bool {
	if !s.Enabled {
		return false
	}
	nowM := now.Minutes()
	startM := s.Start.Minutes()
	endM := s.End.Minutes()
	if startM == endM {
		return false
	}
	if endM < startM {
		// Window spans midnight: [start..24:00) U [00:00..end)
		return nowM >= startM || nowM < endM
	}
	return nowM >= startM && nowM < endM
}

// WindowStart returns the most recent instant at which the window's start
// clock occurred in the user's timezone, relative to now. For a wrapped
// window this is yesterday's start while the current moment sits in the
// post-midnight portion.
func WindowStart(now time.Time, s Settings) time.Time {
	loc := s.Location()
	localNow := now.In(loc)
	start := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		s.Start.Hour, s.Start.Minute, 0, 0, loc)
	if start.After(localNow) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// ShouldSuppress reports whether a reminder due at remindAt should be hidden
// from the pending-reviews list at the instant now.
//
// Outside the quiet-hours window nothing is suppressed. Inside it, only
// reminders whose due moment falls at or after the window's current start are
// hidden; anything already overdue before quiet hours began stays visible, so
// legitimately stale items do not vanish every night.
func ShouldSuppress(remindAt, now time.Time, s Settings) bool {
	if !s.Enabled {
		return false
	}
	localNow := now.In(s.Location())
	if !IsWithin(ClockOf(localNow), s) {
		return false
	}
	return !remindAt.Before(WindowStart(now, s))
}
