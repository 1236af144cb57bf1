// Package ledger owns every appointment mutation. Creation runs the
// validate-then-insert sequence under a per-date advisory lock; status
// changes are authorized compare-and-set transitions; both write their
// domain event to the outbox in the same transaction.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fitblendz/bookingd/internal/availability"
	"github.com/fitblendz/bookingd/internal/calendar"
	"github.com/fitblendz/bookingd/internal/model"
	"github.com/fitblendz/bookingd/internal/outbox"
	"github.com/fitblendz/bookingd/internal/storage"
)

// ActorAdmin marks a transition request that arrived through the
// authenticated HTTP surface rather than the messaging channel. Any other
// actor value is a phone number and must match the operator.
const ActorAdmin = "admin"

type Ledger struct {
	appts    *storage.AppointmentRepository
	services *storage.ServiceRepository
	rules    calendar.Rules
	events   *outbox.Repository
	logger   *slog.Logger

	operatorPhone string
	horizonDays   int
	granularity   int

	now func() time.Time
}

func New(appts *storage.AppointmentRepository, services *storage.ServiceRepository, rules calendar.Rules, events *outbox.Repository, logger *slog.Logger, operatorPhone string, horizonDays, granularity int) *Ledger {
	if horizonDays <= 0 {
		horizonDays = availability.DefaultHorizonDays
	}
	if granularity <= 0 {
		granularity = availability.DefaultGranularity
	}
	return &Ledger{
		appts:         appts,
		services:      services,
		rules:         rules,
		events:        events,
		logger:        logger,
		operatorPhone: model.NormalizePhone(operatorPhone),
		horizonDays:   horizonDays,
		granularity:   granularity,
		now:           time.Now,
	}
}

// CreateRequest is a booking submission. Date must be a UTC midnight and
// StartMinute a minute-of-day; the service's current duration is
// snapshotted onto the appointment.
type CreateRequest struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ServiceID     int64
	Date          time.Time
	StartMinute   int
	Notes         string
}

func (r CreateRequest) validate() error {
	if r.CustomerName == "" {
		return invalid("customer name is required")
	}
	if r.CustomerEmail == "" {
		return invalid("customer email is required")
	}
	if r.CustomerPhone == "" {
		return invalid("customer phone is required")
	}
	if r.Date.IsZero() {
		return invalid("appointment date is required")
	}
	if r.StartMinute < 0 || r.StartMinute >= 24*60 {
		return invalid("appointment time is out of range")
	}
	return nil
}

// Create validates the requested interval and inserts a pending
// appointment. The per-date advisory lock serializes this with every other
// booking write for the same date, so the availability check cannot go
// stale between validate and insert.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	if err := req.validate(); err != nil {
		return model.Appointment{}, err
	}

	svc, err := l.services.GetActive(ctx, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, invalid("selected service is not available")
		}
		return model.Appointment{}, err
	}

	date := model.DateOnly(req.Date)
	hours, err := l.rules.HoursFor(ctx, calendar.Weekday(date))
	if err != nil {
		return model.Appointment{}, err
	}
	holiday, err := l.rules.IsHoliday(ctx, date)
	if err != nil {
		return model.Appointment{}, err
	}

	tx, err := l.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := l.appts.LockDate(ctx, tx, date); err != nil {
		return model.Appointment{}, err
	}
	active, err := l.appts.ListActive(ctx, tx, date)
	if err != nil {
		return model.Appointment{}, err
	}
	busy := availability.BusyIntervals(active)
	if err := availability.Validate(l.now(), date, req.StartMinute, svc.DurationMinutes, hours, holiday, busy, l.horizonDays); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		PublicID:        uuid.NewString(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		Date:            date,
		StartMinute:     req.StartMinute,
		DurationMinutes: svc.DurationMinutes,
		Status:          model.StatusPending,
		Notes:           req.Notes,
	}
	if err := l.appts.Insert(ctx, tx, &appt); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, &availability.ConflictError{Reason: availability.ReasonOverlap}
		}
		return model.Appointment{}, err
	}

	if err := l.events.Insert(ctx, tx, lifecycleEvent(outbox.EventAppointmentCreated, appt)); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	l.logger.Info("appointment created",
		"appointment_id", appt.PublicID,
		"service", appt.ServiceName,
		"date", appt.Date.Format("2006-01-02"),
		"start", model.ClockString(appt.StartMinute))
	return appt, nil
}

// TransitionResult reports the outcome of a status change. Changed is
// false when the appointment already held the target status and nothing
// was written.
type TransitionResult struct {
	Appointment model.Appointment
	Previous    model.Status
	Changed     bool
}

// Transition moves an appointment to target on behalf of actor. An actor
// that is neither the operator phone nor ActorAdmin gets ErrNotFound, the
// same answer as an unknown id. Requesting the status the appointment
// already holds succeeds without writing; an unreachable target is a
// TransitionError.
func (l *Ledger) Transition(ctx context.Context, publicID string, target model.Status, actor string) (TransitionResult, error) {
	if !target.Valid() {
		return TransitionResult{}, invalid("unknown appointment status %q", target)
	}
	if !l.authorized(actor) {
		return TransitionResult{}, ErrNotFound
	}

	tx, err := l.appts.Begin(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := l.appts.GetForUpdate(ctx, tx, publicID)
	if err != nil {
		if storage.IsNotFound(err) {
			return TransitionResult{}, ErrNotFound
		}
		return TransitionResult{}, err
	}

	apply, err := decideTransition(appt.Status, target)
	if err != nil {
		return TransitionResult{}, err
	}
	if !apply {
		return TransitionResult{Appointment: appt, Previous: appt.Status, Changed: false}, nil
	}

	ok, err := l.appts.UpdateStatus(ctx, tx, publicID, appt.Status, target)
	if err != nil {
		return TransitionResult{}, err
	}
	if !ok {
		// Row is locked, so the compare half cannot have gone stale.
		return TransitionResult{}, &TransitionError{From: appt.Status, To: target}
	}

	previous := appt.Status
	appt, err = l.appts.GetByPublicID(ctx, tx, publicID)
	if err != nil {
		return TransitionResult{}, err
	}

	if evtType := eventTypeFor(target); evtType != "" {
		if err := l.events.Insert(ctx, tx, lifecycleEvent(evtType, appt)); err != nil {
			return TransitionResult{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, err
	}

	l.logger.Info("appointment status changed",
		"appointment_id", appt.PublicID,
		"from", previous,
		"to", appt.Status,
		"actor", actorLabel(actor))
	return TransitionResult{Appointment: appt, Previous: previous, Changed: true}, nil
}

// Delete removes an appointment outright, whatever its status. No
// notification is sent; the deleted event still goes to the outbox so
// downstream consumers drop their copy.
func (l *Ledger) Delete(ctx context.Context, publicID string, actor string) error {
	if !l.authorized(actor) {
		return ErrNotFound
	}

	tx, err := l.appts.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := l.appts.GetForUpdate(ctx, tx, publicID)
	if err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	ok, err := l.appts.Delete(ctx, tx, publicID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := l.events.Insert(ctx, tx, lifecycleEvent(outbox.EventAppointmentDeleted, appt)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	l.logger.Info("appointment deleted", "appointment_id", publicID, "actor", actorLabel(actor))
	return nil
}

// AvailableSlots lists bookable HH:MM start times for a service on a date.
// A holiday or closed weekday yields an empty list, not an error.
func (l *Ledger) AvailableSlots(ctx context.Context, date time.Time, serviceID int64) ([]string, error) {
	svc, err := l.services.GetActive(ctx, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, invalid("selected service is not available")
		}
		return nil, err
	}

	date = model.DateOnly(date)
	holiday, err := l.rules.IsHoliday(ctx, date)
	if err != nil {
		return nil, err
	}
	if holiday {
		return []string{}, nil
	}
	hours, err := l.rules.HoursFor(ctx, calendar.Weekday(date))
	if err != nil {
		return nil, err
	}
	active, err := l.appts.ListActive(ctx, l.appts.Pool(), date)
	if err != nil {
		return nil, err
	}

	starts := availability.AvailableSlots(hours, availability.BusyIntervals(active), svc.DurationMinutes, l.granularity)
	slots := make([]string, 0, len(starts))
	for _, m := range starts {
		slots = append(slots, model.ClockString(m))
	}
	return slots, nil
}

func (l *Ledger) Get(ctx context.Context, publicID string) (model.Appointment, error) {
	appt, err := l.appts.GetByPublicID(ctx, l.appts.Pool(), publicID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

// OldestPending is the implicit target of an unaddressed approve or deny
// command.
func (l *Ledger) OldestPending(ctx context.Context) (model.Appointment, error) {
	appt, err := l.appts.OldestPending(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (l *Ledger) ListPending(ctx context.Context) ([]model.Appointment, error) {
	return l.appts.ListPending(ctx)
}

// LatestByPhone resolves a message sender to their most recent appointment
// by normalized phone identity.
func (l *Ledger) LatestByPhone(ctx context.Context, phone string) (model.Appointment, error) {
	appt, err := l.appts.LatestByPhone(ctx, model.NormalizePhone(phone))
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

// MarkNotified records the customer-notification timestamp outside the
// booking transaction; delivery is best effort and never rolls back a
// mutation.
func (l *Ledger) MarkNotified(ctx context.Context, publicID string) {
	if err := l.appts.MarkNotified(ctx, publicID, l.now().UTC()); err != nil {
		l.logger.Warn("failed to record notification timestamp", "appointment_id", publicID, "err", err)
	}
}

func (l *Ledger) authorized(actor string) bool {
	if actor == ActorAdmin {
		return true
	}
	return actor != "" && model.SamePhone(actor, l.operatorPhone)
}

func actorLabel(actor string) string {
	if actor == ActorAdmin {
		return ActorAdmin
	}
	return "operator"
}

// decideTransition resolves a requested status change against the current
// status. Re-requesting the held status applies nothing and succeeds, so
// redelivered webhook events and repeated admin calls are harmless; an
// unreachable target is a TransitionError; anything else gets applied.
func decideTransition(current, target model.Status) (apply bool, err error) {
	if current == target {
		return false, nil
	}
	if !current.CanTransition(target) {
		return false, &TransitionError{From: current, To: target}
	}
	return true, nil
}

func eventTypeFor(target model.Status) string {
	switch target {
	case model.StatusConfirmed:
		return outbox.EventAppointmentConfirmed
	case model.StatusCancelled:
		return outbox.EventAppointmentCancelled
	case model.StatusCompleted:
		return outbox.EventAppointmentCompleted
	case model.StatusNoShow:
		return outbox.EventAppointmentNoShow
	}
	return ""
}

func lifecycleEvent(eventType string, appt model.Appointment) outbox.Event {
	payload, _ := json.Marshal(map[string]any{
		"appointment_id": appt.PublicID,
		"customer_name":  appt.CustomerName,
		"service":        appt.ServiceName,
		"date":           appt.Date.Format("2006-01-02"),
		"start":          model.ClockString(appt.StartMinute),
		"end":            model.ClockString(appt.EndMinute()),
		"status":         appt.Status,
	})
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.PublicID,
		EventType:     eventType,
		Payload:       payload,
	}
}
