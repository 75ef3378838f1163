// Package scheduling loads store schedules (hours, staff, service durations, time off)
// for the availability engine.
package scheduling

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
)

// Provider is the read side of business configuration. Unknown businesses and services
// fail with availability.ErrInvalidReference.
type Provider interface {
	StoreSchedule(ctx context.Context, businessID string) (availability.Store, error)
	ServiceDuration(ctx context.Context, businessID, serviceID string) (time.Duration, error)
	TimeOff(ctx context.Context, businessID string, from, to time.Time) ([]availability.Appointment, error)
}
