package model

import "time"

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

// Appointment is a stored booking. StartTime and EndTime are instants; TimeZone is the
// store zone at booking time, kept so the booking can be shown in store-local time.
type Appointment struct {
	ID            string
	BusinessID    string
	ServiceID     string
	StaffID       string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     time.Time
	EndTime       time.Time
	TimeZone      string
	Status        string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}
