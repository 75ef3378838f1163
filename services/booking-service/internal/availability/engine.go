package availability

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptzone/libs/tz"
)

var ErrInvalidReference = errors.New("invalid reference")

const DefaultGridInterval = 15 * time.Minute

type Config struct {
	// GridInterval spaces candidate starts, anchored at each window start.
	GridInterval time.Duration
	// AllowPastSlots keeps starts earlier than now. Without it every start before now is
	// dropped whatever the requested date, so a past date yields no slots.
	AllowPastSlots bool
	// DefaultTimeZone applies to stores without a zone. Empty disables the fallback.
	DefaultTimeZone tz.ID
}

// Request describes one slot query. Appointments and TimeOff are snapshots the engine
// only reads; both hold instants.
type Request struct {
	ServiceID    string
	Store        Store
	Date         tz.LocalDate
	Duration     time.Duration
	Appointments []Appointment
	TimeOff      []Appointment
	Staff        StaffFilter
	// Now overrides the engine clock when set.
	Now time.Time
}

// Engine computes bookable slots. It keeps no state between calls and is safe for
// concurrent use.
type Engine struct {
	conv *tz.Converter
	cfg  Config
	now  func() time.Time
}

func NewEngine(conv *tz.Converter, cfg Config) *Engine {
	if cfg.GridInterval <= 0 {
		cfg.GridInterval = DefaultGridInterval
	}
	return &Engine{conv: conv, cfg: cfg, now: time.Now}
}

func (e *Engine) Converter() *tz.Converter {
	return e.conv
}

// ZoneFor returns the zone slots for s are computed in.
func (e *Engine) ZoneFor(s Store) (tz.ID, error) {
	if strings.TrimSpace(string(s.TimeZone)) != "" {
		return s.TimeZone, nil
	}
	if e.cfg.DefaultTimeZone != "" {
		return e.cfg.DefaultTimeZone, nil
	}
	return "", fmt.Errorf("%w: store %q has no time zone", ErrInvalidReference, s.ID)
}

// Slots returns the bookable starts for req ordered by local start, then staff id
// (compared as strings, so "10" sorts before "2"), then instant. An empty result means
// no availability.
func (e *Engine) Slots(req Request) ([]Slot, error) {
	zone, err := e.ZoneFor(req.Store)
	if err != nil {
		return nil, err
	}
	dayStart, dayEnd, err := e.conv.DayRange(req.Date, zone)
	if err != nil {
		return nil, err
	}

	filter := req.Staff
	if filter == nil {
		filter = AllStaff()
	}
	if id, ok := filter.only(); ok {
		if _, found := req.Store.staffByID(id); !found {
			return nil, fmt.Errorf("%w: staff %q not in store %q", ErrInvalidReference, id, req.Store.ID)
		}
	}
	if req.Duration <= 0 {
		return nil, nil
	}

	var notBefore time.Time
	if !e.cfg.AllowPastSlots {
		notBefore = req.Now
		if notBefore.IsZero() {
			notBefore = e.now()
		}
		notBefore = notBefore.UTC()
	}

	busy := groupByStaff(req.Appointments)
	blocks := groupByStaff(req.TimeOff)

	var slots []Slot
	for _, member := range req.Store.Staff {
		if !filter.allows(member.ID) {
			continue
		}
		for _, w := range member.windowsOn(req.Date.Weekday(), req.Store.Hours) {
			start, err := e.conv.ToInstant(req.Date.At(w.StartMinute), zone)
			if err != nil {
				return nil, err
			}
			end, err := e.conv.ToInstant(req.Date.At(w.EndMinute), zone)
			if err != nil {
				return nil, err
			}
			if start.Before(dayStart) {
				start = dayStart
			}
			if end.After(dayEnd) {
				end = dayEnd
			}
			free := SubtractBlocks(start, end, blocks[member.ID])

			for t := range Candidates(start, end, req.Duration, e.cfg.GridInterval) {
				slotEnd := t.Add(req.Duration)
				if t.Before(notBefore) {
					continue
				}
				if !containedInAny(t, slotEnd, free) || overlapsAny(t, slotEnd, busy[member.ID]) {
					continue
				}
				local, err := e.conv.ToLocal(t, zone)
				if err != nil {
					return nil, err
				}
				slots = append(slots, Slot{
					LocalStart: local,
					Start:      t,
					StaffID:    member.ID,
					StaffName:  member.Name,
				})
			}
		}
	}

	slices.SortFunc(slots, compareSlots)
	// Overlapping windows for the same member yield the same start twice.
	return slices.CompactFunc(slots, func(a, b Slot) bool {
		return a.StaffID == b.StaffID && a.Start.Equal(b.Start)
	}), nil
}

// Bookable reports whether start is one of the slots req yields for staffID.
func (e *Engine) Bookable(req Request, staffID string, start time.Time) (bool, error) {
	req.Staff = OnlyStaff(staffID)
	slots, err := e.Slots(req)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

func compareSlots(a, b Slot) int {
	if c := a.LocalStart.Compare(b.LocalStart); c != 0 {
		return c
	}
	if c := strings.Compare(a.StaffID, b.StaffID); c != 0 {
		return c
	}
	return a.Start.Compare(b.Start)
}

func groupByStaff(appts []Appointment) map[string][]Interval {
	out := make(map[string][]Interval)
	for _, a := range appts {
		if !a.End.After(a.Start) {
			continue
		}
		out[a.StaffID] = append(out[a.StaffID], Interval{Start: a.Start.UTC(), End: a.End.UTC()})
	}
	return out
}
