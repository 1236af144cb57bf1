// Package handlers exposes the booking API over HTTP. Handlers translate
// wire requests into ledger calls and map domain failures onto status
// codes; they hold no booking logic of their own.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitblendz/bookingd/internal/availability"
	"github.com/fitblendz/bookingd/internal/calendar"
	"github.com/fitblendz/bookingd/internal/ledger"
	"github.com/fitblendz/bookingd/internal/model"
	"github.com/fitblendz/bookingd/internal/notify"
)

// Ledger is the slice of the booking ledger the HTTP surface drives.
type Ledger interface {
	Create(ctx context.Context, req ledger.CreateRequest) (model.Appointment, error)
	Transition(ctx context.Context, publicID string, target model.Status, actor string) (ledger.TransitionResult, error)
	Delete(ctx context.Context, publicID string, actor string) error
	AvailableSlots(ctx context.Context, date time.Time, serviceID int64) ([]string, error)
}

// Notifier sends the post-commit notifications. Best effort only.
type Notifier interface {
	Customer(ctx context.Context, appt model.Appointment, kind notify.Kind) bool
	OperatorApprovalRequest(ctx context.Context, appt model.Appointment) bool
}

// ServiceCatalog lists the currently bookable services.
type ServiceCatalog interface {
	ListActive(ctx context.Context) ([]model.Service, error)
}

type BookingHandler struct {
	ledger   Ledger
	notifier Notifier
	services ServiceCatalog
	rules    calendar.Rules
	logger   *slog.Logger
}

func NewBookingHandler(l Ledger, n Notifier, services ServiceCatalog, rules calendar.Rules, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		ledger:   l,
		notifier: n,
		services: services,
		rules:    rules,
		logger:   logger,
	}
}

type createRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	ServiceID     int64  `json:"service_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Notes         string `json:"notes"`
}

type appointmentView struct {
	AppointmentID   string `json:"appointment_id"`
	CustomerName    string `json:"customer_name"`
	Service         string `json:"service"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func viewOf(a model.Appointment) appointmentView {
	v := appointmentView{
		AppointmentID:   a.PublicID,
		CustomerName:    a.CustomerName,
		Service:         a.ServiceName,
		Date:            a.Date.Format("2006-01-02"),
		Start:           model.ClockString(a.StartMinute),
		End:             model.ClockString(a.EndMinute()),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
	}
	if !a.CreatedAt.IsZero() {
		v.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// actorFrom resolves who is asking for a mutation. The admin surface sits
// behind the deployment's own access control, so an absent header means
// the trusted admin actor; a present header is a phone identity the
// ledger authorizes like any webhook sender.
func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor-Phone")); actor != "" {
		return actor
	}
	return ledger.ActorAdmin
}

// writeDomainError maps ledger and availability failures onto HTTP status
// codes. Unknown errors are logged and answered as opaque 500s.
func (h *BookingHandler) writeDomainError(w http.ResponseWriter, err error) {
	var ve *ledger.ValidationError
	var ce *availability.ConflictError
	var te *ledger.TransitionError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, availability.ErrInvalidDuration):
		http.Error(w, "invalid appointment duration", http.StatusBadRequest)
	case errors.As(err, &ce):
		http.Error(w, ce.Error(), http.StatusConflict)
	case errors.As(err, &te):
		http.Error(w, te.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	default:
		h.logger.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Create accepts a public booking submission and, on success, fires the
// best-effort notifications: pending acknowledgement to the customer and
// an approval request with reply buttons to the operator.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	date, ok := model.ParseDate(req.Date)
	if !ok {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	start, ok := model.ParseClock(req.Time)
	if !ok {
		http.Error(w, "invalid time, want HH:MM", http.StatusBadRequest)
		return
	}

	appt, err := h.ledger.Create(r.Context(), ledger.CreateRequest{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ServiceID:     req.ServiceID,
		Date:          date,
		StartMinute:   start,
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// Notifications run after the commit and never affect the response.
	// The context is detached before the goroutine starts; the request
	// context is dead once this handler returns.
	notifyCtx := context.WithoutCancel(r.Context())
	go func(appt model.Appointment) {
		h.notifier.Customer(notifyCtx, appt, notify.KindPendingReceived)
		h.notifier.OperatorApprovalRequest(notifyCtx, appt)
	}(appt)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(viewOf(appt))
}

// Slots lists open start times for a service on a date.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	date, ok := model.ParseDate(r.URL.Query().Get("date"))
	if !ok {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	serviceID, err := strconv.ParseInt(r.URL.Query().Get("service_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid service_id", http.StatusBadRequest)
		return
	}

	slots, err := h.ledger.AvailableSlots(r.Context(), date, serviceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"date":  date.Format("2006-01-02"),
		"slots": slots,
	})
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

// SetStatus applies an administrative status transition. Requesting the
// status the appointment already holds answers 200 without changing
// anything.
func (h *BookingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	target := model.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	res, err := h.ledger.Transition(r.Context(), req.AppointmentID, target, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if res.Changed {
		if kind, ok := notify.KindForStatus(target); ok {
			notifyCtx := context.WithoutCancel(r.Context())
			go h.notifier.Customer(notifyCtx, res.Appointment, kind)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(res.Appointment))
}

type deleteRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// Delete removes an appointment unconditionally. No customer notification
// is sent.
func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	if err := h.ledger.Delete(r.Context(), req.AppointmentID, actorFrom(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceItem struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

// Services lists the bookable offerings for the public booking form.
func (h *BookingHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services, err := h.services.ListActive(r.Context())
	if err != nil {
		h.logger.Error("failed to list services", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ID:              s.ID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			PriceCents:      s.PriceCents,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"services": items})
}

type hoursItem struct {
	Weekday    int    `json:"weekday"`
	Open       bool   `json:"open"`
	OpensAt    string `json:"opens_at,omitempty"`
	ClosesAt   string `json:"closes_at,omitempty"`
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
}

// Hours publishes the weekly operating schedule, weekday 0 = Monday.
func (h *BookingHandler) Hours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := make([]hoursItem, 0, 7)
	for weekday := 0; weekday < 7; weekday++ {
		wh, err := h.rules.HoursFor(r.Context(), weekday)
		if err != nil {
			h.logger.Error("failed to load working hours", "weekday", weekday, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		item := hoursItem{Weekday: weekday, Open: wh.Open}
		if wh.Open {
			item.OpensAt = model.ClockString(wh.OpenMinute)
			item.ClosesAt = model.ClockString(wh.CloseMinute)
			if wh.HasBreak {
				item.BreakStart = model.ClockString(wh.BreakStart)
				item.BreakEnd = model.ClockString(wh.BreakEnd)
			}
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"hours": items})
}
