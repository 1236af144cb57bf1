// Package router turns inbound messaging webhooks into ledger calls. It
// owns the verification handshake, command classification, operator
// authorization, and the two distinct targeting modes: free-text
// approve/deny acts on the oldest pending appointment, a button tap acts
// on exactly the appointment id carried in the button.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fitblendz/bookingd/internal/ledger"
	"github.com/fitblendz/bookingd/internal/model"
	"github.com/fitblendz/bookingd/internal/notify"
)

// Ledger is the slice of the booking ledger the router drives.
type Ledger interface {
	Get(ctx context.Context, publicID string) (model.Appointment, error)
	Transition(ctx context.Context, publicID string, target model.Status, actor string) (ledger.TransitionResult, error)
	OldestPending(ctx context.Context) (model.Appointment, error)
	ListPending(ctx context.Context) ([]model.Appointment, error)
	LatestByPhone(ctx context.Context, phone string) (model.Appointment, error)
}

// Notifier sends conversation replies and customer notifications. Both are
// best effort.
type Notifier interface {
	Customer(ctx context.Context, appt model.Appointment, kind notify.Kind) bool
	Reply(ctx context.Context, to string, body string) bool
}

const (
	replyNotFound         = "Appointment not found or already processed."
	replyNoPending        = "There are no pending appointments."
	replyUnauthorized     = "Sorry, this command is only available to staff."
	replyNoAppointment    = "We could not find an appointment for this phone number."
	replyButtonsDisabled  = "The approve and deny buttons for this request are no longer active."
	replyDefault          = `Thanks for your message! Send "help" to see what I can do.`
	replyCustomerHelp     = "You can send:\n- status: check your appointment\n- cancel: cancellation instructions\n- help: this message"
	replyOperatorHelp     = "Staff commands:\n- approve: confirm the oldest pending request\n- deny: decline the oldest pending request\n- pending: list all pending requests\nTap the buttons on a request to target it directly."
	replyConfirmGuidance  = "Our team confirms each request; you will get a message here as soon as yours is confirmed."
	replyCancelGuidance   = "To cancel, just reply here or call us and we will take care of it."
	maxWebhookBody        = 1 << 20
)

type Router struct {
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger

	verifyToken   string
	operatorPhone string
}

func New(l Ledger, n Notifier, logger *slog.Logger, verifyToken string, operatorPhone string) *Router {
	return &Router{
		ledger:        l,
		notifier:      n,
		logger:        logger,
		verifyToken:   verifyToken,
		operatorPhone: model.NormalizePhone(operatorPhone),
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.handleVerification(w, r)
	case http.MethodPost:
		rt.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the provider handshake. The success body is
// the challenge string and nothing else; the provider compares it
// byte-for-byte.
func (rt *Router) handleVerification(w http.ResponseWriter, r *http.Request) {
	vc, ok := DecodeVerification(r.URL.Query())
	if !ok {
		http.Error(w, "missing verification parameters", http.StatusBadRequest)
		return
	}
	if vc.Mode != "subscribe" || vc.Token != rt.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, vc.Challenge)
}

// handleDelivery processes a message notification. A processing failure
// answers 500 so the provider redelivers; every mutation downstream is
// safe under that redelivery.
func (rt *Router) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	events, err := DecodeMessages(body)
	if err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, evt := range events {
		if err := rt.dispatch(r.Context(), evt); err != nil {
			rt.logger.Error("webhook event processing failed", "err", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func (rt *Router) dispatch(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case TextCommand:
		return rt.handleText(ctx, e)
	case ButtonTap:
		return rt.handleButton(ctx, e)
	default:
		return nil
	}
}

func (rt *Router) isOperator(sender string) bool {
	return model.SamePhone(sender, rt.operatorPhone)
}

func (rt *Router) handleText(ctx context.Context, e TextCommand) error {
	switch classify(e.Body) {
	case cmdCancel:
		return rt.customerCancel(ctx, e.Sender)
	case cmdConfirm:
		rt.notifier.Reply(ctx, e.Sender, replyConfirmGuidance)
		return nil
	case cmdStatus:
		return rt.customerStatus(ctx, e.Sender)
	case cmdHelp:
		if rt.isOperator(e.Sender) {
			rt.notifier.Reply(ctx, e.Sender, replyOperatorHelp)
		} else {
			rt.notifier.Reply(ctx, e.Sender, replyCustomerHelp)
		}
		return nil
	case cmdApprove:
		return rt.operatorDecide(ctx, e.Sender, model.StatusConfirmed)
	case cmdDeny:
		return rt.operatorDecide(ctx, e.Sender, model.StatusCancelled)
	case cmdPending:
		return rt.operatorListPending(ctx, e.Sender)
	default:
		rt.notifier.Reply(ctx, e.Sender, replyDefault)
		return nil
	}
}

func (rt *Router) customerCancel(ctx context.Context, sender string) error {
	appt, err := rt.ledger.LatestByPhone(ctx, sender)
	if errors.Is(err, ledger.ErrNotFound) {
		rt.notifier.Reply(ctx, sender, replyNoAppointment)
		return nil
	}
	if err != nil {
		return err
	}
	rt.notifier.Reply(ctx, sender, fmt.Sprintf(
		"Your %s appointment is on %s at %s. %s",
		appt.ServiceName, appt.Date.Format("Monday 2 January"), model.ClockString(appt.StartMinute), replyCancelGuidance))
	return nil
}

func (rt *Router) customerStatus(ctx context.Context, sender string) error {
	appt, err := rt.ledger.LatestByPhone(ctx, sender)
	if errors.Is(err, ledger.ErrNotFound) {
		rt.notifier.Reply(ctx, sender, replyNoAppointment)
		return nil
	}
	if err != nil {
		return err
	}
	rt.notifier.Reply(ctx, sender, fmt.Sprintf(
		"Your %s appointment on %s at %s is %s.",
		appt.ServiceName, appt.Date.Format("Monday 2 January"), model.ClockString(appt.StartMinute), appt.Status))
	return nil
}

// operatorDecide handles free-text approve/deny. The target is always the
// oldest pending appointment by (date, time); ids in the message body are
// ignored.
func (rt *Router) operatorDecide(ctx context.Context, sender string, target model.Status) error {
	if !rt.isOperator(sender) {
		rt.notifier.Reply(ctx, sender, replyUnauthorized)
		return nil
	}

	appt, err := rt.ledger.OldestPending(ctx)
	if errors.Is(err, ledger.ErrNotFound) {
		rt.notifier.Reply(ctx, sender, replyNoPending)
		return nil
	}
	if err != nil {
		return err
	}
	return rt.applyDecision(ctx, sender, appt.PublicID, target, false)
}

func (rt *Router) operatorListPending(ctx context.Context, sender string) error {
	if !rt.isOperator(sender) {
		rt.notifier.Reply(ctx, sender, replyUnauthorized)
		return nil
	}

	pending, err := rt.ledger.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		rt.notifier.Reply(ctx, sender, replyNoPending)
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pending appointments (%d):\n", len(pending))
	for i, appt := range pending {
		fmt.Fprintf(&b, "%d. %s, %s at %s, %s\n   id: %s\n",
			i+1, appt.CustomerName, appt.Date.Format("Mon 2 Jan"), model.ClockString(appt.StartMinute),
			appt.ServiceName, appt.PublicID)
	}
	rt.notifier.Reply(ctx, sender, strings.TrimRight(b.String(), "\n"))
	return nil
}

// handleButton resolves approve_<id> / deny_<id> taps. A tap targets
// exactly the embedded id; anything not currently pending answers the
// not-found reply and mutates nothing.
func (rt *Router) handleButton(ctx context.Context, e ButtonTap) error {
	var target model.Status
	var id string
	switch {
	case strings.HasPrefix(e.ButtonID, "approve_"):
		target, id = model.StatusConfirmed, strings.TrimPrefix(e.ButtonID, "approve_")
	case strings.HasPrefix(e.ButtonID, "deny_"):
		target, id = model.StatusCancelled, strings.TrimPrefix(e.ButtonID, "deny_")
	default:
		return nil
	}
	if !rt.isOperator(e.Sender) {
		rt.notifier.Reply(ctx, e.Sender, replyUnauthorized)
		return nil
	}

	appt, err := rt.ledger.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		rt.notifier.Reply(ctx, e.Sender, replyNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	if appt.Status != model.StatusPending {
		rt.notifier.Reply(ctx, e.Sender, replyNotFound)
		return nil
	}
	return rt.applyDecision(ctx, e.Sender, id, target, true)
}

// applyDecision runs the transition and the outcome notifications shared
// by both targeting modes. fromButton adds the follow-up that retires the
// tapped buttons.
func (rt *Router) applyDecision(ctx context.Context, sender string, publicID string, target model.Status, fromButton bool) error {
	res, err := rt.ledger.Transition(ctx, publicID, target, sender)
	if err != nil {
		var te *ledger.TransitionError
		if errors.Is(err, ledger.ErrNotFound) || errors.As(err, &te) {
			rt.notifier.Reply(ctx, sender, replyNotFound)
			return nil
		}
		return err
	}

	appt := res.Appointment
	if res.Changed {
		if kind, ok := notify.KindForStatus(target); ok {
			rt.notifier.Customer(ctx, appt, kind)
		}
	}

	verb := "Confirmed"
	if target == model.StatusCancelled {
		verb = "Declined"
	}
	rt.notifier.Reply(ctx, sender, fmt.Sprintf(
		"%s: %s, %s at %s (%s).",
		verb, appt.CustomerName, appt.Date.Format("Mon 2 Jan"), model.ClockString(appt.StartMinute), appt.ServiceName))
	if fromButton {
		rt.notifier.Reply(ctx, sender, replyButtonsDisabled)
	}
	return nil
}
