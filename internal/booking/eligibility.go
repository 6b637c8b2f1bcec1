package booking

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrPastDate is returned when a submission targets a date that has
// already gone by in the portal's timezone.
var ErrPastDate = errors.New("target date is in the past")

// WindowPolicy describes how far ahead the portal lets anyone book and
// when, on the day the window opens, new slots are released.
type WindowPolicy struct {
	// Days is the rolling window size: a slot N days out is bookable when
	// N <= Days.
	Days int
	// ReleaseTime is the portal-local time of day (HH:MM) at which slots
	// for a newly reachable date become available. Typically just past
	// midnight.
	ReleaseTime string
	// Location is the portal's fixed operating timezone. All window math
	// happens here, never in the caller's zone.
	Location *time.Location
}

// ComputeFireAt returns the earliest instant at which a booking for
// targetDate may be attempted.
//
// Within the window the request is immediately eligible and now is
// returned. Beyond it, the fire instant is the release moment of the day
// the window first covers targetDate:
//
//	fireAt = targetDate - (Days - 1) days, at ReleaseTime portal-local
//
// The function is pure: it reads the clock only through now, so stored
// inputs re-derive the same answer.
func ComputeFireAt(targetDate time.Time, policy WindowPolicy, now time.Time) (time.Time, error) {
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}

	target := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, loc)
	today := time.Date(now.In(loc).Year(), now.In(loc).Month(), now.In(loc).Day(), 0, 0, 0, 0, loc)

	if target.Before(today) {
		return time.Time{}, errors.Wrapf(ErrPastDate, "target %s", target.Format("2006-01-02"))
	}

	daysOut := int(utcDate(target).Sub(utcDate(today)) / (24 * time.Hour))
	if daysOut <= policy.Days {
		return now, nil
	}

	release, err := time.Parse("15:04", policy.ReleaseTime)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid release time %q", policy.ReleaseTime)
	}

	openDay := target.AddDate(0, 0, -(policy.Days - 1))
	fireAt := time.Date(openDay.Year(), openDay.Month(), openDay.Day(),
		release.Hour(), release.Minute(), 0, 0, loc)
	return fireAt, nil
}

// utcDate restates t's calendar date in UTC, where every day is exactly
// 24h. Subtracting two of these counts calendar days; subtracting local
// midnights would miscount by one across a DST transition.
func utcDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
