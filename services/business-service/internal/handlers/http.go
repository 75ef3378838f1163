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

	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/business-service/internal/storage"
)

const minutesPerDay = 24 * 60

// Store is the subset of storage.Repository the HTTP API needs.
type Store interface {
	GetOrCreateProfile(ctx context.Context, businessID string) (storage.BusinessProfile, error)
	UpdateProfile(ctx context.Context, p storage.BusinessProfile) error
	ListStoreHours(ctx context.Context, businessID string) ([]storage.Hours, error)
	UpsertStoreHours(ctx context.Context, businessID string, h storage.Hours) error
	DeleteStoreHours(ctx context.Context, businessID string, weekday int) error
	CreateService(ctx context.Context, s storage.BusinessService) (string, error)
	ListServices(ctx context.Context, businessID string, limit int) ([]storage.BusinessService, error)
	CreateStaff(ctx context.Context, businessID, name string, isActive bool) (string, error)
	ListStaff(ctx context.Context, businessID string, limit int) ([]storage.Staff, error)
	ListWorkingHours(ctx context.Context, businessID, staffID string) ([]storage.Hours, error)
	UpsertWorkingHours(ctx context.Context, businessID string, h storage.Hours) error
	DeleteWorkingHours(ctx context.Context, businessID, staffID string, weekday int) error
	CreateTimeOff(ctx context.Context, businessID string, t storage.TimeOff) (string, error)
	ListTimeOff(ctx context.Context, businessID, staffID string, from, to time.Time, limit int) ([]storage.TimeOff, error)
	DeleteTimeOff(ctx context.Context, businessID, timeOffID string) error
}

type Handler struct {
	repo     Store
	resolver *tz.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo Store, resolver *tz.Resolver, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, resolver: resolver, logger: logger, now: time.Now}
}

// Register mounts the business API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/business/profile", byMethod(map[string]http.HandlerFunc{
		http.MethodGet: h.GetProfile,
		http.MethodPut: h.UpdateProfile,
	}))
	mux.HandleFunc("/api/v1/business/store-hours", byMethod(map[string]http.HandlerFunc{
		http.MethodGet:    h.ListStoreHours,
		http.MethodPut:    h.UpsertStoreHours,
		http.MethodDelete: h.DeleteStoreHours,
	}))
	mux.HandleFunc("/api/v1/business/services", byMethod(map[string]http.HandlerFunc{
		http.MethodGet:  h.ListServices,
		http.MethodPost: h.CreateService,
	}))
	mux.HandleFunc("/api/v1/business/staff", byMethod(map[string]http.HandlerFunc{
		http.MethodGet:  h.ListStaff,
		http.MethodPost: h.CreateStaff,
	}))
	mux.HandleFunc("/api/v1/business/staff/working-hours", byMethod(map[string]http.HandlerFunc{
		http.MethodGet:    h.ListWorkingHours,
		http.MethodPut:    h.UpsertWorkingHours,
		http.MethodDelete: h.DeleteWorkingHours,
	}))
	mux.HandleFunc("/api/v1/business/staff/time-off", byMethod(map[string]http.HandlerFunc{
		http.MethodGet:    h.ListTimeOff,
		http.MethodPost:   h.CreateTimeOff,
		http.MethodDelete: h.DeleteTimeOff,
	}))
}

func byMethod(routes map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fn, ok := routes[r.Method]; ok {
			fn(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

func requireBusiness(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return "", false
	}
	return businessID, true
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	p, err := h.repo.GetOrCreateProfile(r.Context(), businessID)
	if err != nil {
		h.storeError(w, err, "failed to load profile")
		return
	}

	resp := map[string]any{
		"business_id": p.BusinessID,
		"name":        p.Name,
		"timezone":    p.Timezone,
	}
	if p.Timezone != "" {
		if offset, err := h.resolver.OffsetFor(tz.ID(p.Timezone), h.now()); err == nil {
			resp["utc_offset"] = tz.FormatOffset(offset)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone != "" {
		if err := h.resolver.Validate(tz.ID(req.Timezone)); err != nil {
			http.Error(w, "unknown timezone", http.StatusBadRequest)
			return
		}
	}

	err := h.repo.UpdateProfile(r.Context(), storage.BusinessProfile{
		BusinessID: businessID,
		Name:       req.Name,
		Timezone:   req.Timezone,
	})
	if err != nil {
		h.storeError(w, err, "failed to update profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListStoreHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	hours, err := h.repo.ListStoreHours(r.Context(), businessID)
	if err != nil {
		h.storeError(w, err, "failed to list store hours")
		return
	}
	writeJSON(w, http.StatusOK, hours)
}

func (h *Handler) UpsertStoreHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Weekday     int `json:"weekday"`
		StartMinute int `json:"start_minute"`
		EndMinute   int `json:"end_minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	hours := storage.Hours{Weekday: req.Weekday, IsWorking: true, StartMinute: req.StartMinute, EndMinute: req.EndMinute}
	if msg := validateHours(hours); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertStoreHours(r.Context(), businessID, hours); err != nil {
		h.storeError(w, err, "failed to upsert store hours")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteStoreHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	weekday, ok := weekdayParam(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteStoreHours(r.Context(), businessID, weekday); err != nil {
		h.storeError(w, err, "failed to delete store hours")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name         string  `json:"name"`
		DurationMins int     `json:"duration_minutes"`
		Price        float64 `json:"price"`
		Description  string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || req.DurationMins <= 0 || req.DurationMins > minutesPerDay {
		http.Error(w, "name and duration_minutes required", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateService(r.Context(), storage.BusinessService{
		BusinessID:   businessID,
		Name:         req.Name,
		DurationMins: req.DurationMins,
		Price:        strconv.FormatFloat(req.Price, 'f', 2, 64),
		Description:  req.Description,
	})
	if err != nil {
		h.storeError(w, err, "failed to create service")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	services, err := h.repo.ListServices(r.Context(), businessID, 100)
	if err != nil {
		h.storeError(w, err, "failed to list services")
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		IsActive *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	id, err := h.repo.CreateStaff(r.Context(), businessID, req.Name, isActive)
	if err != nil {
		h.storeError(w, err, "failed to create staff")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staff, err := h.repo.ListStaff(r.Context(), businessID, 100)
	if err != nil {
		h.storeError(w, err, "failed to list staff")
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (h *Handler) ListWorkingHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}

	wh, err := h.repo.ListWorkingHours(r.Context(), businessID, staffID)
	if err != nil {
		h.storeError(w, err, "failed to list working hours")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) UpsertWorkingHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Weekday     int  `json:"weekday"`
		IsWorking   bool `json:"is_working"`
		StartMinute int  `json:"start_minute"`
		EndMinute   int  `json:"end_minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	hours := storage.Hours{
		StaffID:     staffID,
		Weekday:     req.Weekday,
		IsWorking:   req.IsWorking,
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}
	if !hours.IsWorking {
		hours.StartMinute, hours.EndMinute = 0, 0
	}
	if msg := validateHours(hours); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertWorkingHours(r.Context(), businessID, hours); err != nil {
		h.storeError(w, err, "failed to upsert working hours")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteWorkingHours puts the member back on store hours for one weekday.
func (h *Handler) DeleteWorkingHours(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}
	weekday, ok := weekdayParam(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteWorkingHours(r.Context(), businessID, staffID, weekday); err != nil {
		h.storeError(w, err, "failed to delete working hours")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeOff(r.Context(), businessID, storage.TimeOff{
		StaffID:   staffID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.storeError(w, err, "failed to create time off")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	staffID, ok := staffParam(w, r)
	if !ok {
		return
	}

	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		http.Error(w, "from and to are required (RFC3339)", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	items, err := h.repo.ListTimeOff(r.Context(), businessID, staffID, from.UTC(), to.UTC(), 100)
	if err != nil {
		h.storeError(w, err, "failed to list time off")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteTimeOff(r.Context(), businessID, id); err != nil {
		h.storeError(w, err, "failed to delete time off")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrOverlap):
		http.Error(w, "time off overlaps existing entry", http.StatusConflict)
	default:
		h.logger.Error(msg, "err", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

// validateHours returns a client message, or "" when h is acceptable.
func validateHours(h storage.Hours) string {
	if h.Weekday < 0 || h.Weekday > 6 {
		return "weekday must be between 0 and 6"
	}
	if !h.IsWorking {
		return ""
	}
	if h.StartMinute < 0 || h.EndMinute > minutesPerDay || h.StartMinute >= h.EndMinute {
		return "invalid start_minute/end_minute"
	}
	return ""
}

func staffParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	if staffID == "" {
		http.Error(w, "staff_id is required", http.StatusBadRequest)
		return "", false
	}
	return staffID, true
}

func weekdayParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	weekday, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("weekday")))
	if err != nil || weekday < 0 || weekday > 6 {
		http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
		return 0, false
	}
	return weekday, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
