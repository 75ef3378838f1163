package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptzone/libs/db"
	"github.com/md-rashed-zaman/apptzone/libs/outbox"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrOverlap is returned when a time-off entry collides with an existing one.
	ErrOverlap = errors.New("overlapping entry")
)

// Repository owns the business configuration tables. Every write that changes what a
// customer can book also records a schedule-updated event in the same transaction.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

type BusinessProfile struct {
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	// Timezone is an IANA zone id. Empty means the booking default applies.
	Timezone string `json:"timezone"`
}

// scheduleTx runs fn in a transaction and appends a schedule-updated event for businessID.
func (r *Repository) scheduleTx(ctx context.Context, businessID, reason string, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		evt, err := outbox.ScheduleUpdatedEvent(businessID, reason)
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

func (r *Repository) GetOrCreateProfile(ctx context.Context, businessID string) (BusinessProfile, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_profiles (business_id)
		VALUES ($1)
		ON CONFLICT (business_id) DO NOTHING
	`, businessID)
	if err != nil {
		return BusinessProfile{}, err
	}

	var p BusinessProfile
	err = r.pool.QueryRow(ctx, `
		SELECT business_id::text, name, timezone
		FROM business_profiles
		WHERE business_id = $1
	`, businessID).Scan(&p.BusinessID, &p.Name, &p.Timezone)
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, p BusinessProfile) error {
	return r.scheduleTx(ctx, p.BusinessID, "profile", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO business_profiles (business_id, name, timezone)
			VALUES ($1, $2, $3)
			ON CONFLICT (business_id) DO UPDATE
			SET name = EXCLUDED.name,
				timezone = EXCLUDED.timezone,
				updated_at = now()
		`, p.BusinessID, p.Name, p.Timezone)
		return err
	})
}

// Hours is one weekday window in minutes from local midnight. For staff rows a
// non-working day is stored with IsWorking false.
type Hours struct {
	StaffID     string `json:"staff_id,omitempty"`
	Weekday     int    `json:"weekday"`
	IsWorking   bool   `json:"is_working"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

func (r *Repository) ListStoreHours(ctx context.Context, businessID string) ([]Hours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM store_hours
		WHERE business_id = $1
		ORDER BY weekday ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hours, error) {
		h := Hours{IsWorking: true}
		err := row.Scan(&h.Weekday, &h.StartMinute, &h.EndMinute)
		return h, err
	})
}

func (r *Repository) UpsertStoreHours(ctx context.Context, businessID string, h Hours) error {
	return r.scheduleTx(ctx, businessID, "store_hours", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO store_hours (business_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (business_id, weekday) DO UPDATE
			SET start_minute = EXCLUDED.start_minute,
				end_minute = EXCLUDED.end_minute
		`, businessID, h.Weekday, h.StartMinute, h.EndMinute)
		return err
	})
}

// DeleteStoreHours closes the store on weekday.
func (r *Repository) DeleteStoreHours(ctx context.Context, businessID string, weekday int) error {
	return r.scheduleTx(ctx, businessID, "store_hours", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM store_hours
			WHERE business_id = $1 AND weekday = $2
		`, businessID, weekday)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type BusinessService struct {
	ID           string    `json:"id"`
	BusinessID   string    `json:"business_id"`
	Name         string    `json:"name"`
	DurationMins int       `json:"duration_minutes"`
	Price        string    `json:"price"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Repository) CreateService(ctx context.Context, s BusinessService) (string, error) {
	id := uuid.NewString()
	err := r.scheduleTx(ctx, s.BusinessID, "service", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO business_services (id, business_id, name, duration_minutes, price, description)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, s.BusinessID, s.Name, s.DurationMins, s.Price, s.Description)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, businessID string, limit int) ([]BusinessService, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price::text, description, created_at
		FROM business_services
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (BusinessService, error) {
		var s BusinessService
		err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.CreatedAt)
		return s, err
	})
}

type Staff struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

// CreateStaff adds a member with no hours of their own; they work the store hours until
// working hours are set.
func (r *Repository) CreateStaff(ctx context.Context, businessID, name string, isActive bool) (string, error) {
	var id string
	err := r.scheduleTx(ctx, businessID, "staff", func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO staff (business_id, name, is_active)
			VALUES ($1, $2, $3)
			RETURNING id::text
		`, businessID, name, isActive).Scan(&id)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListStaff(ctx context.Context, businessID string, limit int) ([]Staff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, is_active
		FROM staff
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Staff, error) {
		var s Staff
		err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.IsActive)
		return s, err
	})
}

func (r *Repository) ListWorkingHours(ctx context.Context, businessID, staffID string) ([]Hours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.staff_id::text, h.weekday, h.is_working, h.start_minute, h.end_minute
		FROM staff_working_hours h
		JOIN staff s ON s.id = h.staff_id
		WHERE s.business_id = $1 AND h.staff_id = $2
		ORDER BY h.weekday ASC
	`, businessID, staffID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Hours, error) {
		var h Hours
		err := row.Scan(&h.StaffID, &h.Weekday, &h.IsWorking, &h.StartMinute, &h.EndMinute)
		return h, err
	})
}

func (r *Repository) UpsertWorkingHours(ctx context.Context, businessID string, h Hours) error {
	return r.scheduleTx(ctx, businessID, "working_hours", func(tx pgx.Tx) error {
		if err := staffExists(ctx, tx, businessID, h.StaffID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO staff_working_hours (staff_id, weekday, is_working, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (staff_id, weekday) DO UPDATE
			SET is_working = EXCLUDED.is_working,
				start_minute = EXCLUDED.start_minute,
				end_minute = EXCLUDED.end_minute
		`, h.StaffID, h.Weekday, h.IsWorking, h.StartMinute, h.EndMinute)
		return err
	})
}

// DeleteWorkingHours removes the staff row for weekday so the member inherits the store
// hours again.
func (r *Repository) DeleteWorkingHours(ctx context.Context, businessID, staffID string, weekday int) error {
	return r.scheduleTx(ctx, businessID, "working_hours", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM staff_working_hours h
			USING staff s
			WHERE h.staff_id = s.id
			  AND s.business_id = $1
			  AND h.staff_id = $2
			  AND h.weekday = $3
		`, businessID, staffID, weekday)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type TimeOff struct {
	ID        string    `json:"id"`
	StaffID   string    `json:"staff_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Repository) CreateTimeOff(ctx context.Context, businessID string, t TimeOff) (string, error) {
	id := uuid.NewString()
	err := r.scheduleTx(ctx, businessID, "time_off", func(tx pgx.Tx) error {
		if err := staffExists(ctx, tx, businessID, t.StaffID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO staff_time_off (id, staff_id, start_time, end_time, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, id, t.StaffID, t.StartTime, t.EndTime, t.Reason)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrOverlap
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeOff(ctx context.Context, businessID, staffID string, from, to time.Time, limit int) ([]TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT t.id::text, t.staff_id::text, t.start_time, t.end_time, t.reason, t.created_at
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.business_id = $1
			AND t.staff_id = $2
			AND t.end_time > $3
			AND t.start_time < $4
		ORDER BY t.start_time ASC
		LIMIT $5
	`, businessID, staffID, from, to, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimeOff, error) {
		var t TimeOff
		err := row.Scan(&t.ID, &t.StaffID, &t.StartTime, &t.EndTime, &t.Reason, &t.CreatedAt)
		return t, err
	})
}

func (r *Repository) DeleteTimeOff(ctx context.Context, businessID, timeOffID string) error {
	return r.scheduleTx(ctx, businessID, "time_off", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM staff_time_off t
			USING staff s
			WHERE t.staff_id = s.id
			  AND s.business_id = $1
			  AND t.id = $2
		`, businessID, timeOffID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func staffExists(ctx context.Context, tx pgx.Tx, businessID, staffID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM staff WHERE id = $1 AND business_id = $2
		)
	`, staffID, businessID).Scan(&exists); err != nil {
		// 22P02: staffID is not a uuid.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return ErrNotFound
		}
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
