package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptzone/libs/db"
	"github.com/md-rashed-zaman/apptzone/libs/outbox"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/model"
)

var (
	// ErrSlotConflict means another booking for the same staff member overlaps.
	ErrSlotConflict   = errors.New("time slot already booked")
	ErrNotFound       = errors.New("appointment not found")
	ErrNotCancellable = errors.New("appointment cannot be cancelled")
)

// Rejection is a business-rule refusal. Book records it against the idempotency key so a
// retry with the same key gets the same answer.
type Rejection struct {
	StatusCode int
	Message    string
}

func (r *Rejection) Error() string { return r.Message }

// Booking is one create request. Check runs inside the transaction once the idempotency
// key is held; Event and Render receive the new appointment id.
type Booking struct {
	Appointment    model.Appointment
	IdempotencyKey string
	Check          func(ctx context.Context) error
	Event          func(id string) (outbox.Event, error)
	Render         func(id string) ([]byte, error)
}

// Outcome is what the client sees: either the fresh result or a replay of the first one.
type Outcome struct {
	AppointmentID string
	StatusCode    int
	Body          []byte
	Replayed      bool
}

type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

// Book commits b atomically with its outbox event. Overlaps detected by the database come
// back as ErrSlotConflict.
func (r *BookingRepository) Book(ctx context.Context, b Booking) (Outcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt := b.Appointment
	if b.IdempotencyKey != "" {
		rec, exists, err := r.lockIdempotencyKey(ctx, tx, appt.BusinessID, b.IdempotencyKey)
		if err != nil {
			return Outcome{}, fmt.Errorf("lock idempotency key: %w", err)
		}
		if exists && rec.StatusCode > 0 {
			return Outcome{
				AppointmentID: rec.AppointmentID,
				StatusCode:    rec.StatusCode,
				Body:          rec.ResponsePayload,
				Replayed:      true,
			}, nil
		}
	}

	if b.Check != nil {
		if err := b.Check(ctx); err != nil {
			var rej *Rejection
			if !errors.As(err, &rej) || b.IdempotencyKey == "" {
				return Outcome{}, err
			}
			body, mErr := json.Marshal(map[string]string{"error": rej.Message})
			if mErr != nil {
				return Outcome{}, mErr
			}
			if err := r.finalizeIdempotency(ctx, tx, appt.BusinessID, b.IdempotencyKey, "", rej.StatusCode, body); err != nil {
				return Outcome{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return Outcome{}, err
			}
			return Outcome{StatusCode: rej.StatusCode, Body: body}, nil
		}
	}

	if appt.Status == "" {
		appt.Status = model.StatusBooked
	}
	id, err := r.insertAppointment(ctx, tx, &appt)
	if err != nil {
		if IsConflict(err) {
			return Outcome{}, ErrSlotConflict
		}
		return Outcome{}, err
	}

	if b.Event != nil {
		evt, err := b.Event(id)
		if err != nil {
			return Outcome{}, err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return Outcome{}, fmt.Errorf("write outbox event: %w", err)
		}
	}

	body := []byte(fmt.Sprintf(`{"appointment_id":%q}`, id))
	if b.Render != nil {
		if body, err = b.Render(id); err != nil {
			return Outcome{}, err
		}
	}
	if b.IdempotencyKey != "" {
		if err := r.finalizeIdempotency(ctx, tx, appt.BusinessID, b.IdempotencyKey, id, http.StatusCreated, body); err != nil {
			return Outcome{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, err
	}
	return Outcome{AppointmentID: id, StatusCode: http.StatusCreated, Body: body}, nil
}

// Cancel marks a booking cancelled and writes the cancellation event. Cancelling twice
// returns the first cancellation with changed == false.
func (r *BookingRepository) Cancel(ctx context.Context, businessID, appointmentID, reason string) (model.Appointment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID))
	if err != nil {
		if IsNotFound(err) {
			return model.Appointment{}, false, ErrNotFound
		}
		return model.Appointment{}, false, err
	}
	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		return appt, false, nil
	}
	if appt.Status != model.StatusBooked {
		return model.Appointment{}, false, ErrNotCancellable
	}

	var cancelledAt time.Time
	if err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND business_id = $2
		RETURNING cancelled_at
	`, appt.ID, businessID, reason).Scan(&cancelledAt); err != nil {
		return model.Appointment{}, false, err
	}
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	appt.CancelReason = reason

	evt, err := outbox.NewEvent("appointment", appt.ID, outbox.AppointmentCancelled, map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"staff_id":       appt.StaffID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"timezone":       appt.TimeZone,
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, false, fmt.Errorf("write outbox event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// ListBookedForStore returns booked intervals of every staff member in the business that
// overlap [from, to). Cancelled appointments do not block.
func (r *BookingRepository) ListBookedForStore(ctx context.Context, businessID string, from, to time.Time) ([]availability.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT staff_id::text, start_time, end_time
		FROM appointments
		WHERE business_id = $1
			AND status = 'booked'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Appointment
	for rows.Next() {
		var a availability.Appointment
		if err := rows.Scan(&a.StaffID, &a.Start, &a.End); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const appointmentColumns = `id::text, business_id::text, service_id::text, staff_id::text, customer_name,
			customer_email, customer_phone, start_time, end_time, timezone, status, cancelled_at,
			COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.ServiceID,
		&appt.StaffID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.StartTime,
		&appt.EndTime,
		&appt.TimeZone,
		&appt.Status,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func (r *BookingRepository) insertAppointment(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(business_id, service_id, staff_id, customer_name, customer_email, customer_phone, start_time, end_time, timezone, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id::text
	`, appt.BusinessID, appt.ServiceID, appt.StaffID, appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone,
		appt.StartTime.UTC(), appt.EndTime.UTC(), appt.TimeZone, appt.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) finalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID, statusCode, response)
	return err
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT business_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(
		&rec.BusinessID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
