package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/fitblendz/bookingd/internal/model"
)

type recordingMessenger struct {
	texts   []string
	to      []string
	buttons []Button
	fail    bool
}

func (m *recordingMessenger) SendText(_ context.Context, to string, body string) error {
	if m.fail {
		return errors.New("provider unavailable")
	}
	m.to = append(m.to, to)
	m.texts = append(m.texts, body)
	return nil
}

func (m *recordingMessenger) SendButtons(_ context.Context, to string, body string, buttons []Button) error {
	if m.fail {
		return errors.New("provider unavailable")
	}
	m.to = append(m.to, to)
	m.texts = append(m.texts, body)
	m.buttons = append(m.buttons, buttons...)
	return nil
}

type recordingLog struct {
	marked []string
}

func (l *recordingLog) MarkNotified(_ context.Context, publicID string) {
	l.marked = append(l.marked, publicID)
}

func testAppointment() model.Appointment {
	date, _ := model.ParseDate("2026-09-07")
	return model.Appointment{
		PublicID:        "appt-1",
		CustomerName:    "Maya",
		CustomerEmail:   "maya@example.com",
		CustomerPhone:   "15557778888",
		ServiceName:     "Beard Trim",
		Date:            date,
		StartMinute:     600,
		DurationMinutes: 30,
		Status:          model.StatusConfirmed,
	}
}

func newTestService(m Messenger, log NotificationLog) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(m, NoopEmail{}, log, logger, "+1 555 000 1111", "FitBlendz")
}

func TestCustomerNotificationMarksNotified(t *testing.T) {
	m := &recordingMessenger{}
	log := &recordingLog{}
	svc := newTestService(m, log)

	if !svc.Customer(context.Background(), testAppointment(), KindConfirmation) {
		t.Fatalf("Customer returned false, want true")
	}
	if len(log.marked) != 1 || log.marked[0] != "appt-1" {
		t.Fatalf("marked = %v, want [appt-1]", log.marked)
	}
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "confirmed") {
		t.Fatalf("message = %v, want confirmation text", m.texts)
	}
}

func TestCustomerNotificationFailureIsSilent(t *testing.T) {
	m := &recordingMessenger{fail: true}
	log := &recordingLog{}
	svc := newTestService(m, log)

	if svc.Customer(context.Background(), testAppointment(), KindConfirmation) {
		t.Fatalf("Customer returned true with failing provider")
	}
	if len(log.marked) != 0 {
		t.Fatalf("marked = %v, want none on failed delivery", log.marked)
	}
}

func TestOperatorApprovalButtonsCarryAppointmentID(t *testing.T) {
	m := &recordingMessenger{}
	svc := newTestService(m, &recordingLog{})

	if !svc.OperatorApprovalRequest(context.Background(), testAppointment()) {
		t.Fatalf("OperatorApprovalRequest returned false")
	}
	if len(m.buttons) != 2 {
		t.Fatalf("buttons = %v, want approve and deny", m.buttons)
	}
	if m.buttons[0].ID != "approve_appt-1" || m.buttons[1].ID != "deny_appt-1" {
		t.Fatalf("button ids = %s, %s, want approve_appt-1, deny_appt-1", m.buttons[0].ID, m.buttons[1].ID)
	}
	if m.to[0] != "15550001111" {
		t.Fatalf("recipient = %s, want normalized operator number", m.to[0])
	}
}

func TestKindForStatus(t *testing.T) {
	if kind, ok := KindForStatus(model.StatusConfirmed); !ok || kind != KindConfirmation {
		t.Fatalf("KindForStatus(confirmed) = %s, %v", kind, ok)
	}
	if kind, ok := KindForStatus(model.StatusCancelled); !ok || kind != KindCancellation {
		t.Fatalf("KindForStatus(cancelled) = %s, %v", kind, ok)
	}
	if _, ok := KindForStatus(model.StatusCompleted); ok {
		t.Fatalf("KindForStatus(completed) should send nothing")
	}
	if _, ok := KindForStatus(model.StatusNoShow); ok {
		t.Fatalf("KindForStatus(no_show) should send nothing")
	}
}
