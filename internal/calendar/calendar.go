// Package calendar answers two read-only questions: what the operating
// hours are for a weekday, and whether a date is a holiday. The two calls
// are independent; callers never need them transactionally consistent.
package calendar

import (
	"context"
	"time"

	"github.com/fitblendz/bookingd/internal/model"
)

// Rules is the calendar rules provider consumed by the slot engine and the
// booking ledger.
type Rules interface {
	// HoursFor returns the operating window for a weekday (0 = Monday).
	HoursFor(ctx context.Context, weekday int) (model.WorkingHours, error)
	// IsHoliday reports whether date is closed for a holiday, either an
	// exact-date match or a recurring month+day match in any year.
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// Weekday maps a date to the 0=Monday .. 6=Sunday convention used by the
// working_hours table.
func Weekday(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}

// StaticRules serves fixed hours and holidays from memory. Used in tests
// and as a fallback when no calendar rows exist yet.
type StaticRules struct {
	Hours    map[int]model.WorkingHours
	Holidays []model.Holiday
}

func (s *StaticRules) HoursFor(_ context.Context, weekday int) (model.WorkingHours, error) {
	h, ok := s.Hours[weekday]
	if !ok {
		return model.WorkingHours{Weekday: weekday, Open: false}, nil
	}
	return h, nil
}

func (s *StaticRules) IsHoliday(_ context.Context, date time.Time) (bool, error) {
	for _, h := range s.Holidays {
		if h.Date.Year() == date.Year() && h.Date.Month() == date.Month() && h.Date.Day() == date.Day() {
			return true, nil
		}
		if h.Recurring && h.Date.Month() == date.Month() && h.Date.Day() == date.Day() {
			return true, nil
		}
	}
	return false, nil
}
