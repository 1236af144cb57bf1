package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fitblendz/bookingd/internal/db"
	"github.com/fitblendz/bookingd/internal/model"
)

// Querier is the subset of pgx satisfied by both the pool and a
// transaction, so list queries can run inside or outside the booking
// transaction without duplication.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) Pool() Querier {
	return r.pool
}

// LockDate serializes all booking writes for one calendar date within the
// current transaction, so validate-then-insert cannot interleave with a
// concurrent overlapping request. Released automatically at commit or
// rollback.
func (r *AppointmentRepository) LockDate(ctx context.Context, tx pgx.Tx, date time.Time) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, date.Format("2006-01-02"))
	return err
}

const appointmentColumns = `
	a.id, a.public_id, a.customer_name, a.customer_email, a.customer_phone,
	a.service_id, s.name, a.date, a.start_minute, a.duration_minutes,
	a.status, COALESCE(a.notes, ''), a.created_at, a.confirmed_at, a.completed_at, a.notified_at, a.reminder_sent_at`

const appointmentFrom = `
	FROM appointments a
	JOIN services s ON s.id = a.service_id`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.PublicID,
		&a.CustomerName,
		&a.CustomerEmail,
		&a.CustomerPhone,
		&a.ServiceID,
		&a.ServiceName,
		&a.Date,
		&a.StartMinute,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.NotifiedAt,
		&a.ReminderSentAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Date = model.DateOnly(a.Date)
	return a, nil
}

func (r *AppointmentRepository) scanAll(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// ListActive returns the pending/confirmed appointments for a date in
// start order. These are the intervals that block new bookings.
func (r *AppointmentRepository) ListActive(ctx context.Context, q Querier, date time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.date = $1 AND a.status IN ('pending', 'confirmed')
		ORDER BY a.start_minute ASC
	`, date)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *AppointmentRepository) Insert(ctx context.Context, tx pgx.Tx, a *model.Appointment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO appointments
			(public_id, customer_name, customer_email, customer_phone,
			 service_id, date, start_minute, duration_minutes, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, a.PublicID, a.CustomerName, a.CustomerEmail, a.CustomerPhone,
		a.ServiceID, a.Date, a.StartMinute, a.DurationMinutes, a.Status, a.Notes,
	).Scan(&a.ID, &a.CreatedAt)
}

func (r *AppointmentRepository) GetByPublicID(ctx context.Context, q Querier, publicID string) (model.Appointment, error) {
	return scanAppointment(q.QueryRow(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.public_id = $1
	`, publicID))
}

// GetForUpdate loads an appointment and locks its row for the duration of
// the transaction; status transitions use it as the compare half of
// compare-and-set.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, publicID string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.public_id = $1
		FOR UPDATE OF a
	`, publicID))
}

// UpdateStatus is the set half of compare-and-set: it only applies when the
// row still holds the expected status. confirmed_at/completed_at are set
// only on first entry into those states.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, publicID string, from, to model.Status) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN COALESCE(confirmed_at, now()) ELSE confirmed_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN COALESCE(completed_at, now()) ELSE completed_at END,
			updated_at = now()
		WHERE public_id = $1 AND status = $2
	`, publicID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the row outright, whatever its status.
func (r *AppointmentRepository) Delete(ctx context.Context, tx pgx.Tx, publicID string) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE public_id = $1`, publicID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// OldestPending is the target of an unaddressed approve/deny command:
// the earliest pending appointment by (date, time).
func (r *AppointmentRepository) OldestPending(ctx context.Context) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.status = 'pending'
		ORDER BY a.date ASC, a.start_minute ASC
		LIMIT 1
	`))
}

func (r *AppointmentRepository) ListPending(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.status = 'pending'
		ORDER BY a.date ASC, a.start_minute ASC
	`)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

// LatestByPhone returns the most recent appointment for a sender, matching
// on the normalized phone identity.
func (r *AppointmentRepository) LatestByPhone(ctx context.Context, normalizedPhone string) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE replace(replace(a.customer_phone, '+', ''), ' ', '') = $1
		ORDER BY a.date DESC, a.start_minute DESC
		LIMIT 1
	`, normalizedPhone))
}

func (r *AppointmentRepository) MarkNotified(ctx context.Context, publicID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET notified_at = $2
		WHERE public_id = $1
	`, publicID, at)
	return err
}

// DueReminders lists confirmed appointments on date that have not had
// their reminder sent yet.
func (r *AppointmentRepository) DueReminders(ctx context.Context, date time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.date = $1 AND a.status = 'confirmed' AND a.reminder_sent_at IS NULL
		ORDER BY a.start_minute ASC
	`, date)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *AppointmentRepository) MarkReminderSent(ctx context.Context, publicID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2
		WHERE public_id = $1
	`, publicID, at)
	return err
}

// IsConflict reports whether err is the exclusion-constraint violation on
// (date, interval). The advisory lock makes this the backstop, not the
// primary conflict path.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
