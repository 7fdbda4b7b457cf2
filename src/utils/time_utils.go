package utils

import (
	"time"

	logger "github.com/sirupsen/logrus"
)

// ResetTime resets the time component based on the granularity specified.
// Pass "minute" to reset seconds to zero.
// Pass "hour" to reset minutes and seconds to zero.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute)
	case "hour":
		return t.Truncate(time.Hour)
	default:
		logger.WithField("granularity", granularity).Warn("ResetTime: invalid granularity")
		return t
	}
}

// LoadLocation resolves an IANA timezone name, falling back to UTC when the
// name is empty or unknown.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithError(err).WithField("timezone", name).Warn("LoadLocation: unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

// DailyResetBoundary returns the most recent daily reset instant at or before
// now: today at resetHour in loc, or yesterday's if that is still ahead.
func DailyResetBoundary(now time.Time, resetHour int, loc *time.Location) time.Time {
	local := now.In(loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), resetHour, 0, 0, 0, loc)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return boundary
}

// WeeklyResetBoundary returns the most recent weekly reset instant at or
// before now: resetHour on weekday in loc, up to six days back.
func WeeklyResetBoundary(now time.Time, weekday time.Weekday, resetHour int, loc *time.Location) time.Time {
	local := now.In(loc)
	daysBack := int(local.Weekday() - weekday)
	if daysBack < 0 {
		daysBack += 7
	}
	boundary := time.Date(local.Year(), local.Month(), local.Day(), resetHour, 0, 0, 0, loc).AddDate(0, 0, -daysBack)
	if boundary.After(local) {
		boundary = boundary.AddDate(0, 0, -7)
	}
	return boundary
}
