// Package notify composes and delivers customer and operator messages over
// WhatsApp and email. Delivery is best effort: every entry point returns a
// bool, never an error, and a failed send never unwinds the booking
// mutation it follows.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitblendz/bookingd/internal/model"
)

// Kind selects the message template for a customer notification.
type Kind string

const (
	KindPendingReceived Kind = "pending_received"
	KindConfirmation    Kind = "confirmation"
	KindCancellation    Kind = "cancellation"
	KindReminder        Kind = "reminder"
	KindStatusUpdate    Kind = "status_update"
)

// sendTimeout bounds every outbound delivery independently of the caller's
// context, which may already be near its deadline.
const sendTimeout = 10 * time.Second

// NotificationLog records that a customer was told about their
// appointment. The ledger implements it.
type NotificationLog interface {
	MarkNotified(ctx context.Context, publicID string)
}

type Service struct {
	wa     Messenger
	mail   EmailSender
	log    NotificationLog
	logger *slog.Logger

	operatorPhone string
	businessName  string
}

func NewService(wa Messenger, mail EmailSender, log NotificationLog, logger *slog.Logger, operatorPhone string, businessName string) *Service {
	return &Service{
		wa:            wa,
		mail:          mail,
		log:           log,
		logger:        logger,
		operatorPhone: model.NormalizePhone(operatorPhone),
		businessName:  businessName,
	}
}

// Customer sends the kind-appropriate WhatsApp text and email to the
// appointment's customer. Returns true when at least the WhatsApp leg
// succeeded; the notification timestamp is only recorded then.
func (s *Service) Customer(ctx context.Context, appt model.Appointment, kind Kind) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	subject, body := customerMessage(kind, appt, s.businessName)

	ok := true
	if err := s.wa.SendText(ctx, appt.CustomerPhone, body); err != nil {
		s.logger.Warn("whatsapp notification failed",
			"appointment_id", appt.PublicID, "kind", kind, "err", err)
		ok = false
	}
	if appt.CustomerEmail != "" {
		if err := s.mail.Send(appt.CustomerEmail, subject, body); err != nil {
			s.logger.Warn("email notification failed",
				"appointment_id", appt.PublicID, "kind", kind, "err", err)
		}
	}
	if ok {
		s.log.MarkNotified(ctx, appt.PublicID)
	}
	return ok
}

// OperatorApprovalRequest asks the operator to approve or deny a new
// pending appointment via interactive reply buttons. The button ids carry
// the public appointment id so a tap targets exactly this appointment.
func (s *Service) OperatorApprovalRequest(ctx context.Context, appt model.Appointment) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	body := fmt.Sprintf(
		"New appointment request:\n%s\n%s at %s\n%s\nPhone: %s",
		appt.CustomerName,
		appt.Date.Format("Mon 2 Jan 2006"),
		model.ClockString(appt.StartMinute),
		appt.ServiceName,
		appt.CustomerPhone,
	)
	buttons := []Button{
		{ID: "approve_" + appt.PublicID, Title: "Approve"},
		{ID: "deny_" + appt.PublicID, Title: "Deny"},
	}
	if err := s.wa.SendButtons(ctx, s.operatorPhone, body, buttons); err != nil {
		s.logger.Warn("operator approval request failed",
			"appointment_id", appt.PublicID, "err", err)
		return false
	}
	return true
}

// Reply sends a plain text answer on the messaging channel, used for
// webhook conversation responses.
func (s *Service) Reply(ctx context.Context, to string, body string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if err := s.wa.SendText(ctx, to, body); err != nil {
		s.logger.Warn("whatsapp reply failed", "to", model.NormalizePhone(to), "err", err)
		return false
	}
	return true
}

func customerMessage(kind Kind, appt model.Appointment, business string) (subject string, body string) {
	when := fmt.Sprintf("%s at %s", appt.Date.Format("Monday 2 January 2006"), model.ClockString(appt.StartMinute))

	switch kind {
	case KindPendingReceived:
		return fmt.Sprintf("%s: appointment request received", business),
			fmt.Sprintf("Hi %s! We received your request for %s on %s. We will confirm it shortly.",
				appt.CustomerName, appt.ServiceName, when)
	case KindConfirmation:
		return fmt.Sprintf("%s: appointment confirmed", business),
			fmt.Sprintf("Hi %s! Your %s appointment on %s is confirmed. See you then!",
				appt.CustomerName, appt.ServiceName, when)
	case KindCancellation:
		return fmt.Sprintf("%s: appointment cancelled", business),
			fmt.Sprintf("Hi %s, your %s appointment on %s has been cancelled. Feel free to book a new time.",
				appt.CustomerName, appt.ServiceName, when)
	case KindReminder:
		return fmt.Sprintf("%s: appointment reminder", business),
			fmt.Sprintf("Hi %s! A reminder about your %s appointment on %s.",
				appt.CustomerName, appt.ServiceName, when)
	default:
		return fmt.Sprintf("%s: appointment update", business),
			fmt.Sprintf("Hi %s, your %s appointment on %s is now %s.",
				appt.CustomerName, appt.ServiceName, when, appt.Status)
	}
}

// KindForStatus maps a status transition to the customer message it
// triggers. Completed and no-show changes are bookkeeping and send
// nothing.
func KindForStatus(target model.Status) (Kind, bool) {
	switch target {
	case model.StatusConfirmed:
		return KindConfirmation, true
	case model.StatusCancelled:
		return KindCancellation, true
	}
	return "", false
}
