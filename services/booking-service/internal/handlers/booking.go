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

	"github.com/md-rashed-zaman/apptzone/libs/httpx"
	otelx "github.com/md-rashed-zaman/apptzone/libs/otel"
	"github.com/md-rashed-zaman/apptzone/libs/outbox"
	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Appointments is the persistence the handlers need; *storage.BookingRepository
// implements it.
type Appointments interface {
	Book(ctx context.Context, b storage.Booking) (storage.Outcome, error)
	Cancel(ctx context.Context, businessID, appointmentID, reason string) (model.Appointment, bool, error)
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error)
	ListBookedForStore(ctx context.Context, businessID string, from, to time.Time) ([]availability.Appointment, error)
}

type BookingHandler struct {
	repo      Appointments
	schedules scheduling.Provider
	engine    *availability.Engine
	conv      *tz.Converter
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewBookingHandler(repo Appointments, schedules scheduling.Provider, engine *availability.Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:      repo,
		schedules: schedules,
		engine:    engine,
		conv:      engine.Converter(),
		logger:    logger,
		tracer:    otelx.Tracer("booking-service/handlers"),
	}
}

type createBookingRequest struct {
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	StaffID       string `json:"staff_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	// StartLocal is store wall-clock time without offset, e.g. 2024-06-01T09:30.
	StartLocal string `json:"start_local"`
	// StartTime is an RFC 3339 instant; used when StartLocal is empty.
	StartTime string `json:"start_time"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	TimeZone      string `json:"timezone"`
	StartLocal    string `json:"start_local"`
	StartUTC      string `json:"start_utc"`
	EndUTC        string `json:"end_utc"`
}

type cancelBookingRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	StaffID       string `json:"staff_id"`
	ServiceID     string `json:"service_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	TimeZone      string `json:"timezone,omitempty"`
	StartLocal    string `json:"start_local,omitempty"`
	EndLocal      string `json:"end_local,omitempty"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type slotItem struct {
	Start     string `json:"start"`
	StartUTC  string `json:"start_utc"`
	EndUTC    string `json:"end_utc"`
	StaffID   string `json:"staff_id"`
	StaffName string `json:"staff_name,omitempty"`
}

type slotsResponse struct {
	BusinessID string     `json:"business_id"`
	TimeZone   string     `json:"timezone"`
	Date       string     `json:"date"`
	Slots      []slotItem `json:"slots"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if businessID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	date, err := tz.ParseLocalDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "availability.slots", trace.WithAttributes(
		attribute.String("business_id", businessID),
		attribute.String("service_id", serviceID),
		attribute.String("date", date.String()),
	))
	defer span.End()

	req, zone, err := h.buildRequest(ctx, businessID, serviceID, date)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.writeError(w, r, err)
		return
	}
	req.Staff = availability.FilterFor(staffID)

	slots, err := h.engine.Slots(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("slots", len(slots)))

	resp := slotsResponse{
		BusinessID: businessID,
		TimeZone:   string(zone),
		Date:       date.String(),
		Slots:      make([]slotItem, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			Start:     s.LocalStart.String(),
			StartUTC:  s.Start.UTC().Format(time.RFC3339),
			EndUTC:    s.Start.Add(req.Duration).UTC().Format(time.RFC3339),
			StaffID:   s.StaffID,
			StaffName: s.StaffName,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.StartLocal = strings.TrimSpace(req.StartLocal)
	req.StartTime = strings.TrimSpace(req.StartTime)

	if req.BusinessID == "" || req.ServiceID == "" || req.StaffID == "" || req.CustomerName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if req.StartLocal == "" && req.StartTime == "" {
		http.Error(w, "start_local or start_time is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	store, err := h.schedules.StoreSchedule(ctx, req.BusinessID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	zone, err := h.engine.ZoneFor(store)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var start time.Time
	if req.StartLocal != "" {
		local, err := tz.ParseLocalDateTime(req.StartLocal)
		if err != nil {
			http.Error(w, "invalid start_local", http.StatusBadRequest)
			return
		}
		if start, err = h.conv.ToInstant(local, zone); err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		if start, err = time.Parse(time.RFC3339, req.StartTime); err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		start = start.UTC()
	}
	date, err := h.conv.Today(start, zone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	startLocal, err := h.conv.ToLocal(start, zone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	availReq, _, err := h.buildRequestForStore(ctx, store, zone, req.ServiceID, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end := start.Add(availReq.Duration)

	appt := model.Appointment{
		BusinessID:    req.BusinessID,
		ServiceID:     req.ServiceID,
		StaffID:       req.StaffID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		StartTime:     start,
		EndTime:       end,
		TimeZone:      string(zone),
		Status:        model.StatusBooked,
	}

	outcome, err := h.repo.Book(ctx, storage.Booking{
		Appointment:    appt,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Check: func(ctx context.Context) error {
			// Re-read after the idempotency key is held. This read goes through the pool, not
			// the booking transaction; appointments_no_overlap settles any race left over.
			booked, err := h.repo.ListBookedForStore(ctx, req.BusinessID, availReq.start, availReq.end)
			if err != nil {
				return err
			}
			check := availReq.Request
			check.Appointments = booked
			ok, err := h.engine.Bookable(check, req.StaffID, start)
			if errors.Is(err, availability.ErrInvalidReference) {
				return &storage.Rejection{StatusCode: http.StatusUnprocessableEntity, Message: "unknown staff member"}
			}
			if err != nil {
				return err
			}
			if !ok {
				return &storage.Rejection{StatusCode: http.StatusUnprocessableEntity, Message: "requested time is not available"}
			}
			return nil
		},
		Event: func(id string) (outbox.Event, error) {
			return outbox.NewEvent("appointment", id, outbox.AppointmentBooked, map[string]any{
				"appointment_id": id,
				"business_id":    appt.BusinessID,
				"staff_id":       appt.StaffID,
				"service_id":     appt.ServiceID,
				"customer_email": appt.CustomerEmail,
				"customer_phone": appt.CustomerPhone,
				"start_time":     start.Format(time.RFC3339),
				"end_time":       end.UTC().Format(time.RFC3339),
				"start_local":    startLocal.String(),
				"timezone":       string(zone),
			})
		},
		Render: func(id string) ([]byte, error) {
			return json.Marshal(createBookingResponse{
				AppointmentID: id,
				TimeZone:      string(zone),
				StartLocal:    startLocal.String(),
				StartUTC:      start.Format(time.RFC3339),
				EndUTC:        end.UTC().Format(time.RFC3339),
			})
		},
	})
	if err != nil {
		var rej *storage.Rejection
		switch {
		case errors.As(err, &rej):
			writeJSON(w, rej.StatusCode, map[string]string{"error": rej.Message})
		case errors.Is(err, storage.ErrSlotConflict):
			http.Error(w, "time slot already booked", http.StatusConflict)
		default:
			h.logger.Error("booking failed", "err", err, "request_id", httpx.RequestIDFromContext(ctx))
			// Not finalized against the idempotency key, so the client may retry.
			http.Error(w, "failed to create appointment", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if outcome.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.WriteHeader(outcome.StatusCode)
	_, _ = w.Write(outcome.Body)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	appt, _, err := h.repo.Cancel(r.Context(), req.BusinessID, req.AppointmentID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "appointment not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrNotCancellable):
			http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		default:
			h.logger.Error("cancel failed", "err", err)
			http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		}
		return
	}

	resp := cancelBookingResponse{AppointmentID: appt.ID, Status: appt.Status}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.Header.Get("X-Business-Id"))
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			StaffID:       appt.StaffID,
			ServiceID:     appt.ServiceID,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        appt.Status,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.TimeZone != "" {
			zone := tz.ID(appt.TimeZone)
			start, startErr := h.conv.ToLocal(appt.StartTime, zone)
			end, endErr := h.conv.ToLocal(appt.EndTime, zone)
			if startErr == nil && endErr == nil {
				item.TimeZone = appt.TimeZone
				item.StartLocal = start.String()
				item.EndLocal = end.String()
			}
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// dayRequest is an engine request plus the instant range of its local day.
type dayRequest struct {
	availability.Request
	start, end time.Time
}

func (h *BookingHandler) buildRequest(ctx context.Context, businessID, serviceID string, date tz.LocalDate) (availability.Request, tz.ID, error) {
	store, err := h.schedules.StoreSchedule(ctx, businessID)
	if err != nil {
		return availability.Request{}, "", err
	}
	zone, err := h.engine.ZoneFor(store)
	if err != nil {
		return availability.Request{}, "", err
	}
	req, zone, err := h.buildRequestForStore(ctx, store, zone, serviceID, date)
	return req.Request, zone, err
}

// buildRequestForStore loads the duration, bookings and time off that an engine run for
// date needs.
func (h *BookingHandler) buildRequestForStore(ctx context.Context, store availability.Store, zone tz.ID, serviceID string, date tz.LocalDate) (dayRequest, tz.ID, error) {
	duration, err := h.schedules.ServiceDuration(ctx, store.ID, serviceID)
	if err != nil {
		return dayRequest{}, "", err
	}
	dayStart, dayEnd, err := h.conv.DayRange(date, zone)
	if err != nil {
		return dayRequest{}, "", err
	}
	booked, err := h.repo.ListBookedForStore(ctx, store.ID, dayStart, dayEnd)
	if err != nil {
		return dayRequest{}, "", err
	}
	timeOff, err := h.schedules.TimeOff(ctx, store.ID, dayStart, dayEnd)
	if err != nil {
		return dayRequest{}, "", err
	}
	return dayRequest{
		Request: availability.Request{
			ServiceID:    serviceID,
			Store:        store,
			Date:         date,
			Duration:     duration,
			Appointments: booked,
			TimeOff:      timeOff,
		},
		start: dayStart,
		end:   dayEnd,
	}, zone, nil
}

// writeError maps domain errors onto HTTP. A zone that fails to load here came from
// stored configuration, so it is a server error rather than bad input.
func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tz.ErrInvalidDateFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, availability.ErrInvalidReference):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrSlotConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, tz.ErrUnknownTimeZone):
		h.logger.Error("store time zone does not resolve", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		http.Error(w, "store time zone misconfigured", http.StatusInternalServerError)
	default:
		h.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
