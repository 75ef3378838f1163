package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptzone/libs/db"
	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
)

// RepositoryProvider reads schedules straight from the business tables.
type RepositoryProvider struct {
	pool *db.Pool
}

func NewRepositoryProvider(pool *db.Pool) *RepositoryProvider {
	return &RepositoryProvider{pool: pool}
}

var _ Provider = (*RepositoryProvider)(nil)

func (p *RepositoryProvider) StoreSchedule(ctx context.Context, businessID string) (availability.Store, error) {
	store := availability.Store{ID: businessID}
	var zone string
	err := p.pool.QueryRow(ctx, `
		SELECT timezone
		FROM business_profiles
		WHERE business_id = $1
	`, businessID).Scan(&zone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return availability.Store{}, fmt.Errorf("%w: business %q", availability.ErrInvalidReference, businessID)
		}
		return availability.Store{}, err
	}
	store.TimeZone = tz.ID(zone)

	rows, err := p.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM store_hours
		WHERE business_id = $1
		ORDER BY weekday, start_minute
	`, businessID)
	if err != nil {
		return availability.Store{}, err
	}
	store.Hours, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (availability.OperatingWindow, error) {
		var w availability.OperatingWindow
		var wd int
		err := row.Scan(&wd, &w.StartMinute, &w.EndMinute)
		w.Weekday = time.Weekday(wd)
		return w, err
	})
	if err != nil {
		return availability.Store{}, err
	}

	rows, err = p.pool.Query(ctx, `
		SELECT s.id::text, s.name, h.weekday, h.is_working, h.start_minute, h.end_minute
		FROM staff s
		LEFT JOIN staff_working_hours h ON h.staff_id = s.id
		WHERE s.business_id = $1 AND s.is_active
		ORDER BY s.id, h.weekday
	`, businessID)
	if err != nil {
		return availability.Store{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, name            string
			weekday, start, end *int
			isWorking           *bool
		)
		if err := rows.Scan(&id, &name, &weekday, &isWorking, &start, &end); err != nil {
			return availability.Store{}, err
		}
		if n := len(store.Staff); n == 0 || store.Staff[n-1].ID != id {
			store.Staff = append(store.Staff, availability.Staff{ID: id, Name: name})
		}
		if weekday == nil {
			continue
		}
		w := availability.OperatingWindow{Weekday: time.Weekday(*weekday)}
		// A day off stays as an empty window so the member does not inherit store hours.
		if isWorking != nil && *isWorking && start != nil && end != nil {
			w.StartMinute, w.EndMinute = *start, *end
		}
		last := &store.Staff[len(store.Staff)-1]
		last.Hours = append(last.Hours, w)
	}
	if rows.Err() != nil {
		return availability.Store{}, rows.Err()
	}
	return store, nil
}

func (p *RepositoryProvider) ServiceDuration(ctx context.Context, businessID, serviceID string) (time.Duration, error) {
	var mins int
	err := p.pool.QueryRow(ctx, `
		SELECT duration_minutes
		FROM business_services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&mins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: service %q", availability.ErrInvalidReference, serviceID)
		}
		return 0, err
	}
	return time.Duration(mins) * time.Minute, nil
}

func (p *RepositoryProvider) TimeOff(ctx context.Context, businessID string, from, to time.Time) ([]availability.Appointment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT t.staff_id::text, t.start_time, t.end_time
		FROM staff_time_off t
		JOIN staff s ON s.id = t.staff_id
		WHERE s.business_id = $1
			AND t.end_time > $2
			AND t.start_time < $3
		ORDER BY t.start_time ASC
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (availability.Appointment, error) {
		var a availability.Appointment
		err := row.Scan(&a.StaffID, &a.Start, &a.End)
		return a, err
	})
}
