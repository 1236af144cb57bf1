package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fitblendz/bookingd/internal/ledger"
	"github.com/fitblendz/bookingd/internal/model"
	"github.com/fitblendz/bookingd/internal/notify"
)

const operatorPhone = "15550001111"

type fakeLedger struct {
	appts    []*model.Appointment
	operator string

	// beforeTransition runs at the top of Transition, letting tests slip a
	// concurrent status change in between the router's pending check and
	// the ledger call.
	beforeTransition func()
}

func (f *fakeLedger) find(publicID string) *model.Appointment {
	for _, a := range f.appts {
		if a.PublicID == publicID {
			return a
		}
	}
	return nil
}

func (f *fakeLedger) Get(_ context.Context, publicID string) (model.Appointment, error) {
	if a := f.find(publicID); a != nil {
		return *a, nil
	}
	return model.Appointment{}, ledger.ErrNotFound
}

func (f *fakeLedger) Transition(_ context.Context, publicID string, target model.Status, actor string) (ledger.TransitionResult, error) {
	if f.beforeTransition != nil {
		f.beforeTransition()
	}
	if actor != ledger.ActorAdmin && !model.SamePhone(actor, f.operator) {
		return ledger.TransitionResult{}, ledger.ErrNotFound
	}
	a := f.find(publicID)
	if a == nil {
		return ledger.TransitionResult{}, ledger.ErrNotFound
	}
	if a.Status == target {
		return ledger.TransitionResult{Appointment: *a, Previous: a.Status, Changed: false}, nil
	}
	if !a.Status.CanTransition(target) {
		return ledger.TransitionResult{}, &ledger.TransitionError{From: a.Status, To: target}
	}
	prev := a.Status
	a.Status = target
	if target == model.StatusConfirmed && a.ConfirmedAt == nil {
		now := time.Now()
		a.ConfirmedAt = &now
	}
	return ledger.TransitionResult{Appointment: *a, Previous: prev, Changed: true}, nil
}

func (f *fakeLedger) OldestPending(_ context.Context) (model.Appointment, error) {
	var oldest *model.Appointment
	for _, a := range f.appts {
		if a.Status != model.StatusPending {
			continue
		}
		if oldest == nil || a.Date.Before(oldest.Date) ||
			(a.Date.Equal(oldest.Date) && a.StartMinute < oldest.StartMinute) {
			oldest = a
		}
	}
	if oldest == nil {
		return model.Appointment{}, ledger.ErrNotFound
	}
	return *oldest, nil
}

func (f *fakeLedger) ListPending(_ context.Context) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.Status == model.StatusPending {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeLedger) LatestByPhone(_ context.Context, phone string) (model.Appointment, error) {
	var latest *model.Appointment
	for _, a := range f.appts {
		if !model.SamePhone(a.CustomerPhone, phone) {
			continue
		}
		if latest == nil || a.Date.After(latest.Date) {
			latest = a
		}
	}
	if latest == nil {
		return model.Appointment{}, ledger.ErrNotFound
	}
	return *latest, nil
}

type notified struct {
	publicID string
	kind     notify.Kind
}

type fakeNotifier struct {
	replies  []string
	customer []notified
}

func (f *fakeNotifier) Customer(_ context.Context, appt model.Appointment, kind notify.Kind) bool {
	f.customer = append(f.customer, notified{publicID: appt.PublicID, kind: kind})
	return true
}

func (f *fakeNotifier) Reply(_ context.Context, _ string, body string) bool {
	f.replies = append(f.replies, body)
	return true
}

func (f *fakeNotifier) lastReply() string {
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func newTestRouter(fl *fakeLedger) (*Router, *fakeNotifier) {
	fl.operator = operatorPhone
	fn := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fl, fn, logger, "shared-secret", operatorPhone), fn
}

func appt(id string, date string, start int, status model.Status) *model.Appointment {
	d, ok := model.ParseDate(date)
	if !ok {
		panic("bad date in test: " + date)
	}
	return &model.Appointment{
		PublicID:        id,
		CustomerName:    "Dana",
		CustomerEmail:   "dana@example.com",
		CustomerPhone:   "+1 555 777 8888",
		ServiceName:     "Haircut",
		Date:            d,
		StartMinute:     start,
		DurationMinutes: 30,
		Status:          status,
	}
}

func textPayload(from, body string) string {
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{"messages":[{"from":%q,"type":"text","text":{"body":%q}}]}}]}]}`, from, body)
}

func buttonPayload(from, buttonID string) string {
	return fmt.Sprintf(`{"entry":[{"changes":[{"value":{"messages":[{"from":%q,"type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":%q,"title":"x"}}}]}}]}]}`, from, buttonID)
}

func postWebhook(t *testing.T, rt *Router, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	return rec
}

func TestVerificationHandshake(t *testing.T) {
	rt, _ := newTestRouter(&fakeLedger{})

	cases := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantBody   string
	}{
		{
			name: "success echoes challenge",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"shared-secret"},
				"hub.challenge":    {"abc123"},
			},
			wantStatus: http.StatusOK,
			wantBody:   "abc123",
		},
		{
			name: "wrong token",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"wrong"},
				"hub.challenge":    {"abc123"},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "wrong mode",
			query: url.Values{
				"hub.mode":         {"unsubscribe"},
				"hub.verify_token": {"shared-secret"},
				"hub.challenge":    {"abc123"},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "missing challenge",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"shared-secret"},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "empty challenge value",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"shared-secret"},
				"hub.challenge":    {""},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "empty token value",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {""},
				"hub.challenge":    {"abc123"},
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?"+tc.query.Encode(), nil)
			rec := httptest.NewRecorder()
			rt.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("body = %q, want exactly %q", rec.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestMalformedDeliveryPayload(t *testing.T) {
	rt, _ := newTestRouter(&fakeLedger{})
	rec := postWebhook(t, rt, `{"entry": [`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFreeTextApproveTargetsOldestPending(t *testing.T) {
	later := appt("id-later", "2026-09-02", 600, model.StatusPending)
	earlier := appt("id-earlier", "2026-09-01", 840, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{later, earlier}}
	rt, fn := newTestRouter(fl)

	rec := postWebhook(t, rt, textPayload(operatorPhone, "approve please"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if earlier.Status != model.StatusConfirmed {
		t.Fatalf("earlier appointment status = %s, want confirmed", earlier.Status)
	}
	if later.Status != model.StatusPending {
		t.Fatalf("later appointment status = %s, want still pending", later.Status)
	}
	if len(fn.customer) != 1 || fn.customer[0].publicID != "id-earlier" || fn.customer[0].kind != notify.KindConfirmation {
		t.Fatalf("customer notifications = %+v, want one confirmation for id-earlier", fn.customer)
	}
}

func TestFreeTextDenyCancelsOldestPending(t *testing.T) {
	p := appt("id-1", "2026-09-01", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{p}}
	rt, fn := newTestRouter(fl)

	postWebhook(t, rt, textPayload(operatorPhone, "deny"))
	if p.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	if len(fn.customer) != 1 || fn.customer[0].kind != notify.KindCancellation {
		t.Fatalf("customer notifications = %+v, want one cancellation", fn.customer)
	}
}

func TestApproveWithNoPending(t *testing.T) {
	rt, fn := newTestRouter(&fakeLedger{})
	rec := postWebhook(t, rt, textPayload(operatorPhone, "approve"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fn.lastReply() != replyNoPending {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyNoPending)
	}
}

func TestUnauthorizedApproveMutatesNothing(t *testing.T) {
	p := appt("id-1", "2026-09-01", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{p}}
	rt, fn := newTestRouter(fl)

	rec := postWebhook(t, rt, textPayload("19998887777", "approve"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if p.Status != model.StatusPending {
		t.Fatalf("status = %s, want still pending", p.Status)
	}
	if fn.lastReply() != replyUnauthorized {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyUnauthorized)
	}
}

func TestOperatorIdentityIgnoresPlusAndSpaces(t *testing.T) {
	p := appt("id-1", "2026-09-01", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{p}}
	rt, _ := newTestRouter(fl)

	postWebhook(t, rt, textPayload("+1 555 000 1111", "approve"))
	if p.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed for differently formatted operator number", p.Status)
	}
}

func TestButtonTargetsExactAppointment(t *testing.T) {
	older := appt("id-older", "2026-09-01", 600, model.StatusPending)
	target := appt("id-target", "2026-09-03", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{older, target}}
	rt, fn := newTestRouter(fl)

	postWebhook(t, rt, buttonPayload(operatorPhone, "approve_id-target"))
	if target.Status != model.StatusConfirmed {
		t.Fatalf("target status = %s, want confirmed", target.Status)
	}
	if older.Status != model.StatusPending {
		t.Fatalf("older status = %s, want untouched pending", older.Status)
	}
	if fn.lastReply() != replyButtonsDisabled {
		t.Fatalf("last reply = %q, want buttons-disabled follow-up", fn.lastReply())
	}
}

func TestButtonOnAlreadyConfirmedIsNoOp(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	a := appt("id-1", "2026-09-01", 600, model.StatusConfirmed)
	a.ConfirmedAt = &now
	fl := &fakeLedger{appts: []*model.Appointment{a}}
	rt, fn := newTestRouter(fl)

	rec := postWebhook(t, rt, buttonPayload(operatorPhone, "approve_id-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fn.lastReply() != replyNotFound {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyNotFound)
	}
	if len(fn.customer) != 0 {
		t.Fatalf("customer notifications = %+v, want none", fn.customer)
	}
	if !a.ConfirmedAt.Equal(now) {
		t.Fatalf("ConfirmedAt changed on redelivered approval")
	}
}

func TestDuplicateApprovalDeliveryDoesNotRenotify(t *testing.T) {
	// The tap passes the pending check, but an identical delivery has
	// already confirmed the appointment by the time the transition runs.
	// The ledger reports a no-op success: no customer notification, no
	// timestamp movement, and the operator still gets a normal ack.
	firstConfirm := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	a := appt("id-1", "2026-09-01", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{a}}
	fl.beforeTransition = func() {
		a.Status = model.StatusConfirmed
		a.ConfirmedAt = &firstConfirm
	}
	rt, fn := newTestRouter(fl)

	rec := postWebhook(t, rt, buttonPayload(operatorPhone, "approve_id-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(fn.customer) != 0 {
		t.Fatalf("customer notifications = %+v, want none on redelivery", fn.customer)
	}
	if !a.ConfirmedAt.Equal(firstConfirm) {
		t.Fatal("ConfirmedAt moved on redelivered approval")
	}
	if fn.lastReply() != replyButtonsDisabled {
		t.Fatalf("last reply = %q, want buttons-disabled follow-up after ack", fn.lastReply())
	}
}

func TestButtonDenyOnUnknownID(t *testing.T) {
	rt, fn := newTestRouter(&fakeLedger{})
	postWebhook(t, rt, buttonPayload(operatorPhone, "deny_missing"))
	if fn.lastReply() != replyNotFound {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyNotFound)
	}
}

func TestButtonFromNonOperator(t *testing.T) {
	p := appt("id-1", "2026-09-01", 600, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{p}}
	rt, fn := newTestRouter(fl)

	postWebhook(t, rt, buttonPayload("19998887777", "approve_id-1"))
	if p.Status != model.StatusPending {
		t.Fatalf("status = %s, want still pending", p.Status)
	}
	if fn.lastReply() != replyUnauthorized {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyUnauthorized)
	}
}

func TestPendingListIncludesIDs(t *testing.T) {
	p1 := appt("id-aaa", "2026-09-01", 600, model.StatusPending)
	p2 := appt("id-bbb", "2026-09-02", 630, model.StatusPending)
	fl := &fakeLedger{appts: []*model.Appointment{p1, p2}}
	rt, fn := newTestRouter(fl)

	postWebhook(t, rt, textPayload(operatorPhone, "pending"))
	reply := fn.lastReply()
	if !strings.Contains(reply, "id-aaa") || !strings.Contains(reply, "id-bbb") {
		t.Fatalf("pending list %q missing appointment ids", reply)
	}
}

func TestCustomerStatusReply(t *testing.T) {
	a := appt("id-1", "2026-09-01", 600, model.StatusConfirmed)
	fl := &fakeLedger{appts: []*model.Appointment{a}}
	rt, fn := newTestRouter(fl)

	postWebhook(t, rt, textPayload("1 555 777 8888", "what is my status?"))
	reply := fn.lastReply()
	if !strings.Contains(reply, "confirmed") || !strings.Contains(reply, "Haircut") {
		t.Fatalf("status reply = %q, want service and status", reply)
	}
}

func TestCustomerStatusUnknownPhone(t *testing.T) {
	rt, fn := newTestRouter(&fakeLedger{})
	postWebhook(t, rt, textPayload("12223334444", "status"))
	if fn.lastReply() != replyNoAppointment {
		t.Fatalf("reply = %q, want %q", fn.lastReply(), replyNoAppointment)
	}
}

func TestHelpDiffersByRole(t *testing.T) {
	rt, fn := newTestRouter(&fakeLedger{})

	postWebhook(t, rt, textPayload(operatorPhone, "help"))
	if fn.lastReply() != replyOperatorHelp {
		t.Fatalf("operator help = %q, want %q", fn.lastReply(), replyOperatorHelp)
	}
	postWebhook(t, rt, textPayload("12223334444", "ayuda"))
	if fn.lastReply() != replyCustomerHelp {
		t.Fatalf("customer help = %q, want %q", fn.lastReply(), replyCustomerHelp)
	}
}

func TestClassificationOrder(t *testing.T) {
	cases := []struct {
		body string
		want command
	}{
		{"please CANCEL my booking", cmdCancel},
		{"cancelar", cmdCancel},
		{"cancel and confirm", cmdCancel},
		{"confirmar cita", cmdConfirm},
		{"estado?", cmdStatus},
		{"status of pending list", cmdStatus},
		{"AYUDA", cmdHelp},
		{"approve", cmdApprove},
		{"reject this one", cmdDeny},
		{"deny", cmdDeny},
		{"list", cmdPending},
		{"pending", cmdPending},
		{"hola", cmdDefault},
		{"", cmdDefault},
	}
	for _, tc := range cases {
		if got := classify(tc.body); got != tc.want {
			t.Errorf("classify(%q) = %d, want %d", tc.body, got, tc.want)
		}
	}
}

func TestUnrecognizedMessageIsAcknowledged(t *testing.T) {
	rt, fn := newTestRouter(&fakeLedger{})
	payload := `{"entry":[{"changes":[{"value":{"messages":[{"from":"123","type":"image"}]}}]}]}`
	rec := postWebhook(t, rt, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(fn.replies) != 0 {
		t.Fatalf("replies = %v, want none for unrecognized message", fn.replies)
	}
}
