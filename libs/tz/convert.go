package tz

import "time"

// Converter maps wall-clock values to instants and back using a Resolver.
//
// Wall times that fall into a DST transition resolve as follows:
//   - gap (spring forward): the missing wall time is pushed forward by the length of
//     the gap, i.e. read with the pre-transition offset. 02:30 on a US spring-forward
//     day becomes 03:30 daylight time.
//   - overlap (fall back): the earlier of the two instants wins, i.e. the
//     pre-transition offset. 01:30 on a US fall-back day is 01:30 daylight time.
type Converter struct {
	resolver *Resolver
}

func NewConverter(resolver *Resolver) *Converter {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	return &Converter{resolver: resolver}
}

func (c *Converter) Resolver() *Resolver {
	return c.resolver
}

// ToInstant resolves the wall time l in zone id to a UTC instant.
func (c *Converter) ToInstant(l LocalDateTime, id ID) (time.Time, error) {
	loc, err := c.resolver.Location(id)
	if err != nil {
		return time.Time{}, err
	}
	return resolveWall(l.wall, loc), nil
}

// ToLocal returns the wall time shown in zone id at instant.
func (c *Converter) ToLocal(instant time.Time, id ID) (LocalDateTime, error) {
	loc, err := c.resolver.Location(id)
	if err != nil {
		return LocalDateTime{}, err
	}
	return LocalDateTime{wall: wallOf(instant.In(loc))}, nil
}

// Today returns the local calendar date in zone id at instant.
func (c *Converter) Today(instant time.Time, id ID) (LocalDate, error) {
	l, err := c.ToLocal(instant, id)
	if err != nil {
		return LocalDate{}, err
	}
	return l.Date(), nil
}

// DayRange returns the half-open UTC range [start, end) covering local date d in zone id.
// Day length follows the zone: 23h or 25h on transition days.
func (c *Converter) DayRange(d LocalDate, id ID) (time.Time, time.Time, error) {
	start, err := c.ToInstant(d.At(0), id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := c.ToInstant(d.AddDays(1).At(0), id)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// resolveWall finds the instant whose wall clock in loc equals wall.
//
// Offsets are sampled a day either side of the wall value, which brackets any single
// transition. Each candidate offset is kept only if it is the offset actually in effect
// at the instant it produces.
func resolveWall(wall time.Time, loc *time.Location) time.Time {
	before := offsetAt(wall.Add(-24*time.Hour), loc)
	after := offsetAt(wall.Add(24*time.Hour), loc)

	var best time.Time
	found := false
	for _, off := range [...]time.Duration{before, offsetAt(wall, loc), after} {
		t := wall.Add(-off)
		if offsetAt(t, loc) != off {
			continue
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	if !found {
		// Gap: no offset maps back onto wall.
		best = wall.Add(-before)
	}
	return best.UTC()
}
