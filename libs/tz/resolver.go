// Package tz converts between store-local wall-clock times and absolute instants.
//
// Instants are plain time.Time values normalized to UTC. Local values (LocalDate,
// LocalDateTime) carry no zone and only become instants together with an ID.
package tz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownTimeZone   = errors.New("unknown time zone")
	ErrInvalidDateFormat = errors.New("invalid date format")
)

// ID is an IANA time zone identifier such as "America/New_York".
type ID string

// Database is the read-only source of zone rules.
type Database interface {
	Load(name string) (*time.Location, error)
}

type systemDatabase struct{}

func (systemDatabase) Load(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}

// SystemDatabase resolves zones through time.LoadLocation. Binaries import
// time/tzdata so the rules do not depend on the host.
func SystemDatabase() Database {
	return systemDatabase{}
}

// StaticDatabase pins a fixed set of locations, e.g. time.FixedZone values in tests.
type StaticDatabase map[string]*time.Location

func (d StaticDatabase) Load(name string) (*time.Location, error) {
	if loc, ok := d[name]; ok && loc != nil {
		return loc, nil
	}
	return nil, fmt.Errorf("zone %q not in static database", name)
}

type Resolver struct {
	db Database
}

func NewResolver(db Database) *Resolver {
	if db == nil {
		db = SystemDatabase()
	}
	return &Resolver{db: db}
}

// Location loads the rules for id. Empty and "Local" identifiers are rejected:
// the host zone is never a valid store zone.
func (r *Resolver) Location(id ID) (*time.Location, error) {
	name := strings.TrimSpace(string(id))
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeZone, string(id))
	}
	loc, err := r.db.Load(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTimeZone, name, err)
	}
	return loc, nil
}

// Validate reports whether id resolves.
func (r *Resolver) Validate(id ID) error {
	_, err := r.Location(id)
	return err
}

// OffsetFor returns the signed UTC offset in effect in id at instant.
func (r *Resolver) OffsetFor(id ID, instant time.Time) (time.Duration, error) {
	loc, err := r.Location(id)
	if err != nil {
		return 0, err
	}
	return offsetAt(instant, loc), nil
}

// AbbreviationFor returns the short zone label (EST, EDT, ...) in effect at instant.
func (r *Resolver) AbbreviationFor(id ID, instant time.Time) (string, error) {
	loc, err := r.Location(id)
	if err != nil {
		return "", err
	}
	name, _ := instant.In(loc).Zone()
	return name, nil
}

func offsetAt(instant time.Time, loc *time.Location) time.Duration {
	_, secs := instant.In(loc).Zone()
	return time.Duration(secs) * time.Second
}

// FormatOffset renders an offset as ±HH:MM.
func FormatOffset(d time.Duration) string {
	sign := '+'
	if d < 0 {
		sign = '-'
		d = -d
	}
	mins := int(d / time.Minute)
	return fmt.Sprintf("%c%02d:%02d", sign, mins/60, mins%60)
}
