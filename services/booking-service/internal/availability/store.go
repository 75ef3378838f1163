package availability

import (
	"time"

	"github.com/md-rashed-zaman/apptzone/libs/tz"
)

// OperatingWindow is a recurring local-time window on one weekday, in minutes from local
// midnight. EndMinute may be 1440 (the following midnight).
type OperatingWindow struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"start_minute"`
	EndMinute   int          `json:"end_minute"`
}

func (w OperatingWindow) Valid() bool {
	return w.Weekday >= time.Sunday && w.Weekday <= time.Saturday &&
		w.StartMinute >= 0 && w.EndMinute <= 24*60 && w.StartMinute < w.EndMinute
}

// Store is a read-only snapshot of a store's scheduling configuration.
type Store struct {
	ID       string            `json:"id"`
	TimeZone tz.ID             `json:"timezone,omitempty"`
	Hours    []OperatingWindow `json:"hours"`
	Staff    []Staff           `json:"staff"`
}

// Staff with no Hours of their own work the store's hours.
type Staff struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Hours []OperatingWindow `json:"hours,omitempty"`
}

func (s Store) staffByID(id string) (Staff, bool) {
	for _, m := range s.Staff {
		if m.ID == id {
			return m, true
		}
	}
	return Staff{}, false
}

// windowsOn returns the member's windows for weekday, falling back to store hours.
func (m Staff) windowsOn(weekday time.Weekday, storeHours []OperatingWindow) []OperatingWindow {
	hours := m.Hours
	if len(hours) == 0 {
		hours = storeHours
	}
	var out []OperatingWindow
	for _, w := range hours {
		if w.Weekday == weekday && w.Valid() {
			out = append(out, w)
		}
	}
	return out
}

// Appointment is an existing booking (or block) for one staff member.
type Appointment struct {
	StaffID string    `json:"staff_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// StaffFilter selects which staff members a slot query covers.
type StaffFilter interface {
	allows(staffID string) bool
	only() (string, bool)
}

type allStaff struct{}

func (allStaff) allows(string) bool   { return true }
func (allStaff) only() (string, bool) { return "", false }

type onlyStaff string

func (o onlyStaff) allows(id string) bool { return string(o) == id }
func (o onlyStaff) only() (string, bool)  { return string(o), true }

func AllStaff() StaffFilter {
	return allStaff{}
}

func OnlyStaff(id string) StaffFilter {
	return onlyStaff(id)
}

// FilterFor maps an optional staff id to a filter; empty means every staff member.
func FilterFor(staffID string) StaffFilter {
	if staffID == "" {
		return AllStaff()
	}
	return OnlyStaff(staffID)
}

// Slot is a bookable start, in store-local time, for one staff member.
type Slot struct {
	LocalStart tz.LocalDateTime
	Start      time.Time
	StaffID    string
	StaffName  string
}
