package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the appointment lifecycle state. Transitions only move forward:
// pending -> confirmed or cancelled, confirmed -> completed, cancelled or
// no_show. The three remaining states are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether target is reachable from s. Re-requesting
// the current status is not a transition; callers treat it as a no-op
// success because the webhook source redelivers events.
func (s Status) CanTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusConfirmed || target == StatusCancelled
	case StatusConfirmed:
		return target == StatusCompleted || target == StatusCancelled || target == StatusNoShow
	}
	return false
}

// Service is a bookable offering. Duration is snapshotted onto the
// appointment at creation so later edits never move existing bookings.
type Service struct {
	ID              int64
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

// Appointment is the booking record. PublicID is a random UUID and the only
// identifier ever exposed outside the service.
type Appointment struct {
	ID              int64
	PublicID        string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ServiceID       int64
	ServiceName     string
	Date            time.Time // midnight UTC
	StartMinute     int       // minutes after midnight
	DurationMinutes int       // snapshot from the service
	Status          Status
	Notes           string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	CompletedAt     *time.Time
	NotifiedAt      *time.Time
	ReminderSentAt  *time.Time
}

// EndMinute is the exclusive end of the occupied interval.
func (a Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// WorkingHours is one weekday's operating window. Weekday 0 is Monday.
type WorkingHours struct {
	Weekday     int
	Open        bool
	OpenMinute  int
	CloseMinute int
	BreakStart  int
	BreakEnd    int
	HasBreak    bool
}

type Holiday struct {
	Date        time.Time
	Description string
	Recurring   bool
}

// NormalizePhone strips the leading "+" and all spaces so two renderings of
// the same number compare equal. This is the single definition of the
// sender-identity comparison rule.
func NormalizePhone(phone string) string {
	return strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(phone), "+"), " ", "")
}

// SamePhone reports whether two phone numbers denote the same identity
// under NormalizePhone.
func SamePhone(a, b string) bool {
	return NormalizePhone(a) == NormalizePhone(b)
}

// ClockString renders a minute-of-day as HH:MM.
func ClockString(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseClock parses HH:MM into a minute-of-day.
func ParseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// ParseDate parses YYYY-MM-DD into a UTC midnight time.
func ParseDate(s string) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// DateOnly truncates t to its UTC date.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
