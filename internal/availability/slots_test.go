package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/fitblendz/bookingd/internal/model"
)

func openDay(openH, closeH int) model.WorkingHours {
	return model.WorkingHours{Open: true, OpenMinute: openH * 60, CloseMinute: closeH * 60}
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	return ce.Reason
}

func TestAvailableSlots_Basic(t *testing.T) {
	hours := openDay(9, 11)
	busy := []Interval{{Start: 9*60 + 15, End: 9*60 + 45}}

	slots := AvailableSlots(hours, busy, 30, 30)
	// 09:00 and 09:30 collide with 09:15-09:45; everything else up to the
	// last start that still ends by 11:00 is free.
	want := []int{10 * 60, 10*60 + 30}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d (%v)", len(want), len(slots), slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, model.ClockString(want[i]), model.ClockString(slots[i]))
		}
	}
}

func TestAvailableSlots_EndPastClose(t *testing.T) {
	hours := openDay(9, 10)
	slots := AvailableSlots(hours, nil, 45, 30)
	// Only 09:00 fits; 09:30+45m would end past close.
	if len(slots) != 1 || slots[0] != 9*60 {
		t.Fatalf("expected [09:00], got %v", slots)
	}
}

func TestAvailableSlots_BreakWindow(t *testing.T) {
	hours := openDay(9, 13)
	hours.HasBreak = true
	hours.BreakStart = 12 * 60
	hours.BreakEnd = 12*60 + 30

	slots := AvailableSlots(hours, nil, 60, 30)
	for _, s := range slots {
		if Overlaps(s, s+60, hours.BreakStart, hours.BreakEnd) {
			t.Fatalf("slot %s intersects the break window", model.ClockString(s))
		}
	}
	// 11:00 is the last start that finishes before the break; 09:00-11:00
	// starts are clear too.
	if len(slots) != 5 {
		t.Fatalf("expected 5 slots, got %d (%v)", len(slots), slots)
	}
}

func TestAvailableSlots_ClosedOrDegenerate(t *testing.T) {
	if AvailableSlots(model.WorkingHours{Open: false}, nil, 30, 30) != nil {
		t.Fatal("closed day must yield no slots")
	}
	if AvailableSlots(openDay(9, 18), nil, 0, 30) != nil {
		t.Fatal("zero duration must yield no slots")
	}
	if AvailableSlots(openDay(9, 18), nil, -15, 30) != nil {
		t.Fatal("negative duration must yield no slots")
	}
}

func TestAvailableSlots_ExactMinuteOccupancy(t *testing.T) {
	// A 40-minute appointment at 09:00 blocks the quantized 09:30 start but
	// not 10:00: starts are quantized, occupancy is exact.
	hours := openDay(9, 11)
	busy := []Interval{{Start: 9 * 60, End: 9*60 + 40}}
	slots := AvailableSlots(hours, busy, 30, 30)
	want := []int{10 * 60, 10*60 + 30}
	if len(slots) != len(want) || slots[0] != want[0] || slots[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, slots)
	}
}

func TestValidate_ReasonOrder(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) // a Friday
	hours := openDay(9, 18)

	// Past date wins over everything else, even on a holiday.
	err := Validate(now, now.AddDate(0, 0, -1), 9*60, 30, hours, true, nil, 90)
	if reasonOf(t, err) != ReasonPastDate {
		t.Fatalf("expected past-date, got %v", err)
	}

	err = Validate(now, now.AddDate(0, 0, 91), 9*60, 30, hours, false, nil, 90)
	if reasonOf(t, err) != ReasonTooFarAhead {
		t.Fatalf("expected too-far-ahead, got %v", err)
	}

	// Outside hours is reported before the holiday on the same date.
	err = Validate(now, now.AddDate(0, 0, 1), 8*60, 30, hours, true, nil, 90)
	if reasonOf(t, err) != ReasonOutsideHours {
		t.Fatalf("expected outside-hours, got %v", err)
	}

	err = Validate(now, now.AddDate(0, 0, 1), 10*60, 30, hours, true, nil, 90)
	if reasonOf(t, err) != ReasonHoliday {
		t.Fatalf("expected holiday, got %v", err)
	}

	busy := []Interval{{Start: 10 * 60, End: 10*60 + 30}}
	err = Validate(now, now.AddDate(0, 0, 1), 10*60+15, 30, hours, false, busy, 90)
	if reasonOf(t, err) != ReasonOverlap {
		t.Fatalf("expected overlap, got %v", err)
	}
}

func TestValidate_BreakWindowEnforced(t *testing.T) {
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	hours := openDay(9, 18)
	hours.HasBreak = true
	hours.BreakStart = 13 * 60
	hours.BreakEnd = 14 * 60

	// Ends inside the break.
	err := Validate(now, now, 12*60+45, 30, hours, false, nil, 90)
	if reasonOf(t, err) != ReasonOutsideHours {
		t.Fatalf("expected break rejection, got %v", err)
	}
	// Abuts the break exactly: [12:00,13:00) does not overlap [13:00,14:00).
	if err := Validate(now, now, 12*60, 60, hours, false, nil, 90); err != nil {
		t.Fatalf("interval ending at break start must pass, got %v", err)
	}
}

func TestValidate_RunsPastClose(t *testing.T) {
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	hours := openDay(9, 18)
	// Starts before close but runs past it.
	err := Validate(now, now, 17*60+45, 30, hours, false, nil, 90)
	if reasonOf(t, err) != ReasonOutsideHours {
		t.Fatalf("expected outside-hours for interval past close, got %v", err)
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	for _, d := range []int{0, -30} {
		err := Validate(now, now, 10*60, d, openDay(9, 18), false, nil, 90)
		if !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("duration %d: expected ErrInvalidDuration, got %v", d, err)
		}
	}
}

func TestValidate_EndToEndScenario(t *testing.T) {
	// Monday 09:00-18:00, no break, no holiday. Existing confirmed
	// appointment 10:00 for 30 minutes.
	now := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	hours := openDay(9, 18)
	busy := []Interval{{Start: 10 * 60, End: 10*60 + 30}}

	err := Validate(now, monday, 10*60+15, 30, hours, false, busy, 90)
	if reasonOf(t, err) != ReasonOverlap {
		t.Fatalf("10:15 request must conflict, got %v", err)
	}
	if err := Validate(now, monday, 10*60+30, 30, hours, false, busy, 90); err != nil {
		t.Fatalf("10:30 request must succeed, got %v", err)
	}
}
