// Package availability generates candidate appointment slots and validates
// requested intervals against working hours, holidays, and existing
// bookings. All intervals are half-open minute-of-day ranges [start, end):
// two intervals overlap iff aStart < bEnd && bStart < aEnd. The same test
// backs both slot listing and submission validation; the two paths must
// never disagree.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/fitblendz/bookingd/internal/model"
)

// DefaultGranularity is the slot step in minutes. Candidate starts are
// quantized to it; the interval an appointment occupies is measured in
// exact minutes.
const DefaultGranularity = 30

// DefaultHorizonDays bounds how far ahead bookings are accepted.
const DefaultHorizonDays = 90

var ErrInvalidDuration = errors.New("duration must be positive")

// Interval is an occupied [Start, End) range in minutes after midnight.
type Interval struct {
	Start int
	End   int
}

// Reason is the closed set of scheduling-conflict causes. Callers surface
// them verbatim and never auto-retry.
type Reason string

const (
	ReasonPastDate     Reason = "cannot book appointments in the past"
	ReasonTooFarAhead  Reason = "cannot book appointments more than 90 days in advance"
	ReasonOutsideHours Reason = "selected time is outside working hours"
	ReasonHoliday      Reason = "selected date is a holiday and we are closed"
	ReasonOverlap      Reason = "this time slot conflicts with an existing appointment"
)

// ConflictError reports why a requested interval was rejected.
type ConflictError struct {
	Reason Reason
}

func (e *ConflictError) Error() string {
	return string(e.Reason)
}

func conflict(r Reason) error {
	return &ConflictError{Reason: r}
}

// Overlaps is the half-open interval test used everywhere.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

func overlapsAny(start, end int, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

func intersectsBreak(start, end int, hours model.WorkingHours) bool {
	return hours.HasBreak && Overlaps(start, end, hours.BreakStart, hours.BreakEnd)
}

// AvailableSlots returns start minutes, in ascending order, at which a
// booking of duration minutes fits on the day described by hours without
// touching the break window or any busy interval. A closed day yields nil.
// Holiday filtering happens before this call.
func AvailableSlots(hours model.WorkingHours, busy []Interval, duration, step int) []int {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !hours.Open || hours.CloseMinute <= hours.OpenMinute {
		return nil
	}

	var slots []int
	for t := hours.OpenMinute; t+duration <= hours.CloseMinute; t += step {
		end := t + duration
		if intersectsBreak(t, end, hours) {
			continue
		}
		if overlapsAny(t, end, busy) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

// Validate checks a single requested interval. Checks run in a fixed order
// and the first failure wins: past date, beyond the horizon, outside
// working hours (including the break window), holiday, overlap with an
// existing pending/confirmed appointment.
func Validate(now time.Time, date time.Time, startMinute, duration int, hours model.WorkingHours, holiday bool, busy []Interval, horizonDays int) error {
	if duration <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidDuration, duration)
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	today := model.DateOnly(now)
	day := model.DateOnly(date)
	if day.Before(today) {
		return conflict(ReasonPastDate)
	}
	if day.After(today.AddDate(0, 0, horizonDays)) {
		return conflict(ReasonTooFarAhead)
	}

	end := startMinute + duration
	if !hours.Open || startMinute < hours.OpenMinute || end > hours.CloseMinute {
		return conflict(ReasonOutsideHours)
	}
	if intersectsBreak(startMinute, end, hours) {
		return conflict(ReasonOutsideHours)
	}

	if holiday {
		return conflict(ReasonHoliday)
	}

	if overlapsAny(startMinute, end, busy) {
		return conflict(ReasonOverlap)
	}
	return nil
}

// BusyIntervals projects active appointments onto their occupied ranges.
func BusyIntervals(appts []model.Appointment) []Interval {
	busy := make([]Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, Interval{Start: a.StartMinute, End: a.EndMinute()})
	}
	return busy
}
