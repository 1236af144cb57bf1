package storage

import (
	"context"
	"time"

	"github.com/fitblendz/bookingd/internal/db"
	"github.com/fitblendz/bookingd/internal/model"
)

// CalendarRepository is the pg-backed calendar rules provider. Reads only;
// the two lookups are independent of each other.
type CalendarRepository struct {
	pool *db.Pool
}

func NewCalendarRepository(pool *db.Pool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

func (r *CalendarRepository) HoursFor(ctx context.Context, weekday int) (model.WorkingHours, error) {
	var (
		h          model.WorkingHours
		breakStart *int
		breakEnd   *int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT weekday, is_open, open_minute, close_minute, break_start_minute, break_end_minute
		FROM working_hours
		WHERE weekday = $1
	`, weekday).Scan(&h.Weekday, &h.Open, &h.OpenMinute, &h.CloseMinute, &breakStart, &breakEnd)
	if IsNotFound(err) {
		// No row means the shop never opens that day.
		return model.WorkingHours{Weekday: weekday, Open: false}, nil
	}
	if err != nil {
		return model.WorkingHours{}, err
	}
	if breakStart != nil && breakEnd != nil {
		h.HasBreak = true
		h.BreakStart = *breakStart
		h.BreakEnd = *breakEnd
	}
	return h, nil
}

func (r *CalendarRepository) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	day := model.DateOnly(date)
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM holidays
			WHERE date = $1
			   OR (is_recurring
			       AND EXTRACT(MONTH FROM date) = $2
			       AND EXTRACT(DAY FROM date) = $3)
		)
	`, day, int(day.Month()), day.Day()).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
