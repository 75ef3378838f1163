package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/apptzone/libs/outbox"
	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/storage"
)

type fakeAppointments struct {
	booked   []availability.Appointment
	created  []model.Appointment
	events   []outbox.Event
	keys     map[string]storage.Outcome
	conflict bool
}

func (f *fakeAppointments) Book(ctx context.Context, b storage.Booking) (storage.Outcome, error) {
	if f.keys == nil {
		f.keys = map[string]storage.Outcome{}
	}
	if out, ok := f.keys[b.IdempotencyKey]; ok && b.IdempotencyKey != "" {
		out.Replayed = true
		return out, nil
	}
	if err := b.Check(ctx); err != nil {
		var rej *storage.Rejection
		if errors.As(err, &rej) && b.IdempotencyKey != "" {
			body, _ := json.Marshal(map[string]string{"error": rej.Message})
			out := storage.Outcome{StatusCode: rej.StatusCode, Body: body}
			f.keys[b.IdempotencyKey] = out
			return out, nil
		}
		return storage.Outcome{}, err
	}
	if f.conflict {
		return storage.Outcome{}, storage.ErrSlotConflict
	}
	id := fmt.Sprintf("appt-%d", len(f.created)+1)
	evt, err := b.Event(id)
	if err != nil {
		return storage.Outcome{}, err
	}
	body, err := b.Render(id)
	if err != nil {
		return storage.Outcome{}, err
	}
	appt := b.Appointment
	appt.ID = id
	f.created = append(f.created, appt)
	f.events = append(f.events, evt)
	f.booked = append(f.booked, availability.Appointment{StaffID: appt.StaffID, Start: appt.StartTime, End: appt.EndTime})
	out := storage.Outcome{AppointmentID: id, StatusCode: http.StatusCreated, Body: body}
	if b.IdempotencyKey != "" {
		f.keys[b.IdempotencyKey] = out
	}
	return out, nil
}

func (f *fakeAppointments) Cancel(_ context.Context, businessID, appointmentID, _ string) (model.Appointment, bool, error) {
	for i := range f.created {
		if f.created[i].ID == appointmentID && f.created[i].BusinessID == businessID {
			at := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
			f.created[i].Status = model.StatusCancelled
			f.created[i].CancelledAt = &at
			return f.created[i], true, nil
		}
	}
	return model.Appointment{}, false, storage.ErrNotFound
}

func (f *fakeAppointments) ListByBusiness(_ context.Context, businessID string, _ int) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.created {
		if a.BusinessID == businessID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListBookedForStore(_ context.Context, _ string, from, to time.Time) ([]availability.Appointment, error) {
	var out []availability.Appointment
	for _, a := range f.booked {
		if a.Start.Before(to) && a.End.After(from) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeSchedules struct {
	stores    map[string]availability.Store
	durations map[string]time.Duration
}

func (f *fakeSchedules) StoreSchedule(_ context.Context, businessID string) (availability.Store, error) {
	s, ok := f.stores[businessID]
	if !ok {
		return availability.Store{}, fmt.Errorf("%w: business %q", availability.ErrInvalidReference, businessID)
	}
	return s, nil
}

func (f *fakeSchedules) ServiceDuration(_ context.Context, _ string, serviceID string) (time.Duration, error) {
	d, ok := f.durations[serviceID]
	if !ok {
		return 0, fmt.Errorf("%w: service %q", availability.ErrInvalidReference, serviceID)
	}
	return d, nil
}

func (f *fakeSchedules) TimeOff(context.Context, string, time.Time, time.Time) ([]availability.Appointment, error) {
	return nil, nil
}

func newTestHandler(t *testing.T) (*BookingHandler, *fakeAppointments) {
	t.Helper()
	schedules := &fakeSchedules{
		stores: map[string]availability.Store{
			"biz-la": {
				ID:       "biz-la",
				TimeZone: "America/Los_Angeles",
				Hours:    []availability.OperatingWindow{{Weekday: time.Saturday, StartMinute: 540, EndMinute: 1020}},
				Staff:    []availability.Staff{{ID: "s1", Name: "Ana"}, {ID: "s2", Name: "Ben"}},
			},
			"biz-ny": {
				ID:       "biz-ny",
				TimeZone: "America/New_York",
				Hours:    []availability.OperatingWindow{{Weekday: time.Sunday, StartMinute: 60, EndMinute: 300}},
				Staff:    []availability.Staff{{ID: "s1", Name: "Ana"}},
			},
			"biz-broken": {
				ID:       "biz-broken",
				TimeZone: "Nowhere/Special",
				Staff:    []availability.Staff{{ID: "s1"}},
			},
		},
		durations: map[string]time.Duration{"svc-30": 30 * time.Minute},
	}
	repo := &fakeAppointments{}
	engine := availability.NewEngine(tz.NewConverter(nil), availability.Config{
		GridInterval:   30 * time.Minute,
		AllowPastSlots: true,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBookingHandler(repo, schedules, engine, logger), repo
}

func getSlots(t *testing.T, h *BookingHandler, query string) (*httptest.ResponseRecorder, slotsResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Slots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?"+query, nil))
	var resp slotsResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode slots: %v", err)
		}
	}
	return rec, resp
}

func postBooking(h *BookingHandler, body, idempotencyKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func TestSlots_RendersLocalAndUTC(t *testing.T) {
	h, _ := newTestHandler(t)
	rec, resp := getSlots(t, h, "business_id=biz-la&service_id=svc-30&date=2024-06-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.TimeZone != "America/Los_Angeles" || resp.Date != "2024-06-01" {
		t.Fatalf("unexpected header fields: %+v", resp)
	}
	if len(resp.Slots) != 32 {
		t.Fatalf("expected 16 slots per staff member, got %d", len(resp.Slots))
	}
	first := resp.Slots[0]
	if first.Start != "2024-06-01T09:00:00" || first.StartUTC != "2024-06-01T16:00:00Z" || first.EndUTC != "2024-06-01T16:30:00Z" {
		t.Fatalf("unexpected first slot: %+v", first)
	}
	if first.StaffID != "s1" || first.StaffName != "Ana" || resp.Slots[1].StaffID != "s2" {
		t.Fatalf("unexpected staff ordering: %+v %+v", first, resp.Slots[1])
	}
}

func TestSlots_StaffFilter(t *testing.T) {
	h, _ := newTestHandler(t)
	rec, resp := getSlots(t, h, "business_id=biz-la&service_id=svc-30&date=2024-06-01&staff_id=s2")
	if rec.Code != http.StatusOK || len(resp.Slots) != 16 {
		t.Fatalf("expected 16 slots for s2, got %d (%d)", len(resp.Slots), rec.Code)
	}
	rec, _ = getSlots(t, h, "business_id=biz-la&service_id=svc-30&date=2024-06-01&staff_id=ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown staff, got %d", rec.Code)
	}
}

func TestSlots_Errors(t *testing.T) {
	h, _ := newTestHandler(t)
	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"missing date", "business_id=biz-la&service_id=svc-30", http.StatusBadRequest},
		{"bad date", "business_id=biz-la&service_id=svc-30&date=06/01/2024", http.StatusBadRequest},
		{"unknown business", "business_id=nope&service_id=svc-30&date=2024-06-01", http.StatusNotFound},
		{"unknown service", "business_id=biz-la&service_id=svc-x&date=2024-06-01", http.StatusNotFound},
		{"bad stored zone", "business_id=biz-broken&service_id=svc-30&date=2024-06-01", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec, _ := getSlots(t, h, tc.query)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestCreate_LocalStartConvertedWithStoreZone(t *testing.T) {
	h, repo := newTestHandler(t)
	rec := postBooking(h, `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T10:00"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createBookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StartUTC != "2024-06-01T17:00:00Z" || resp.EndUTC != "2024-06-01T17:30:00Z" || resp.StartLocal != "2024-06-01T10:00:00" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(repo.created) != 1 || repo.created[0].TimeZone != "America/Los_Angeles" {
		t.Fatalf("unexpected stored appointment: %+v", repo.created)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != outbox.AppointmentBooked {
		t.Fatalf("expected booked event, got %+v", repo.events)
	}

	// The slot is gone for s1 only.
	_, slots := getSlots(t, h, "business_id=biz-la&service_id=svc-30&date=2024-06-01")
	for _, s := range slots.Slots {
		if s.StaffID == "s1" && s.Start == "2024-06-01T10:00:00" {
			t.Fatalf("booked slot still offered")
		}
	}
	if len(slots.Slots) != 31 {
		t.Fatalf("expected 31 remaining slots, got %d", len(slots.Slots))
	}
}

func TestCreate_RejectsUnavailableTimes(t *testing.T) {
	h, _ := newTestHandler(t)
	body := `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T10:00"}`
	if rec := postBooking(h, body, ""); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: %d", rec.Code)
	}
	if rec := postBooking(h, body, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("double booking: expected 422, got %d", rec.Code)
	}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"off grid", `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T10:05"}`, http.StatusUnprocessableEntity},
		{"after close", `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T16:45"}`, http.StatusUnprocessableEntity},
		{"unknown staff", `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s9","customer_name":"Kim","start_local":"2024-06-01T11:00"}`, http.StatusUnprocessableEntity},
		{"bad local", `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T11:00Z"}`, http.StatusBadRequest},
		{"no start", `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim"}`, http.StatusBadRequest},
		{"unknown business", `{"business_id":"nope","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T11:00"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		if rec := postBooking(h, tc.body, ""); rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d: %s", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestCreate_InstantStart(t *testing.T) {
	h, repo := newTestHandler(t)
	rec := postBooking(h, `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s2","customer_name":"Kim","start_time":"2024-06-01T11:30:00-07:00"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if want := time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC); !repo.created[0].StartTime.Equal(want) {
		t.Fatalf("start = %s, want %s", repo.created[0].StartTime, want)
	}
}

// The re-check passes, but the overlap constraint rejects the insert.
func TestCreate_OverlapConstraintConflict(t *testing.T) {
	h, repo := newTestHandler(t)
	repo.conflict = true
	rec := postBooking(h, `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T12:00"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreate_IdempotentReplay(t *testing.T) {
	h, repo := newTestHandler(t)
	body := `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T13:00"}`
	first := postBooking(h, body, "key-1")
	second := postBooking(h, body, "key-1")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs: %s vs %s", first.Body, second.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected a single appointment, got %d", len(repo.created))
	}
}

func TestCreate_SpringForwardGap(t *testing.T) {
	h, _ := newTestHandler(t)
	// 02:30 does not exist on 2024-03-10 in New York; it reads as 03:30 EDT.
	rec := postBooking(h, `{"business_id":"biz-ny","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-03-10T02:30"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createBookingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StartUTC != "2024-03-10T07:30:00Z" || resp.StartLocal != "2024-03-10T03:30:00" {
		t.Fatalf("unexpected gap resolution: %+v", resp)
	}
}

func TestListAndCancel(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := postBooking(h, `{"business_id":"biz-la","service_id":"svc-30","staff_id":"s1","customer_name":"Kim","start_local":"2024-06-01T15:00"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	listRec := httptest.NewRecorder()
	h.List(listRec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments?business_id=biz-la", nil))
	var items []listAppointmentItem
	if err := json.Unmarshal(listRec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 || items[0].StartLocal != "2024-06-01T15:00:00" || items[0].StartTime != "2024-06-01T22:00:00Z" {
		t.Fatalf("unexpected list: %+v", items)
	}

	cancelRec := httptest.NewRecorder()
	h.Cancel(cancelRec, httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(`{"business_id":"biz-la","appointment_id":"`+items[0].AppointmentID+`"}`)))
	if cancelRec.Code != http.StatusOK || !strings.Contains(cancelRec.Body.String(), `"status":"cancelled"`) {
		t.Fatalf("cancel: %d %s", cancelRec.Code, cancelRec.Body.String())
	}

	missing := httptest.NewRecorder()
	h.Cancel(missing, httptest.NewRequest(http.MethodPost, "/api/v1/appointments/cancel",
		strings.NewReader(`{"business_id":"biz-la","appointment_id":"nope"}`)))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}
