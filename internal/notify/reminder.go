package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/fitblendz/bookingd/internal/model"
)

// ReminderStore is the slice of appointment storage the reminder sweep
// needs.
type ReminderStore interface {
	DueReminders(ctx context.Context, date time.Time) ([]model.Appointment, error)
	MarkReminderSent(ctx context.Context, publicID string, at time.Time) error
}

// ReminderWorker periodically reminds customers about tomorrow's confirmed
// appointments. Each appointment is reminded at most once; a failed send
// is retried on the next sweep because the sent marker is only written
// after delivery.
type ReminderWorker struct {
	store    ReminderStore
	notifier *Service
	logger   *slog.Logger

	every    time.Duration
	leadDays int
	now      func() time.Time
}

func NewReminderWorker(store ReminderStore, notifier *Service, logger *slog.Logger, every time.Duration, leadDays int) *ReminderWorker {
	if every <= 0 {
		every = 15 * time.Minute
	}
	if leadDays <= 0 {
		leadDays = 1
	}
	return &ReminderWorker{
		store:    store,
		notifier: notifier,
		logger:   logger,
		every:    every,
		leadDays: leadDays,
		now:      time.Now,
	}
}

func (w *ReminderWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReminderWorker) sweep(ctx context.Context) {
	target := model.DateOnly(w.now().AddDate(0, 0, w.leadDays))
	due, err := w.store.DueReminders(ctx, target)
	if err != nil {
		w.logger.Error("reminder sweep failed", "date", target.Format("2006-01-02"), "err", err)
		return
	}

	for _, appt := range due {
		if !w.notifier.Customer(ctx, appt, KindReminder) {
			continue
		}
		if err := w.store.MarkReminderSent(ctx, appt.PublicID, w.now().UTC()); err != nil {
			w.logger.Warn("failed to record reminder", "appointment_id", appt.PublicID, "err", err)
		}
	}
	if len(due) > 0 {
		w.logger.Info("reminder sweep complete", "date", target.Format("2006-01-02"), "due", len(due))
	}
}
