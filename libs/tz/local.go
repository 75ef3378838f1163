package tz

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// Accepted wall-clock layouts. Fractional seconds are accepted by time.Parse after the
// seconds field; zone designators are rejected because local values carry no zone.
var dateTimeLayouts = []string{
	DateTimeLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// LocalDate is a calendar date with no zone.
type LocalDate struct {
	wall time.Time
}

func NewLocalDate(year int, month time.Month, day int) LocalDate {
	return LocalDate{wall: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return LocalDate{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return LocalDate{wall: t}, nil
}

func (d LocalDate) Year() int              { return d.wall.Year() }
func (d LocalDate) Month() time.Month      { return d.wall.Month() }
func (d LocalDate) Day() int               { return d.wall.Day() }
func (d LocalDate) Weekday() time.Weekday  { return d.wall.Weekday() }
func (d LocalDate) IsZero() bool           { return d.wall.IsZero() }
func (d LocalDate) Equal(o LocalDate) bool { return d.wall.Equal(o.wall) }
func (d LocalDate) String() string         { return d.wall.Format(DateLayout) }

func (d LocalDate) AddDays(n int) LocalDate {
	return LocalDate{wall: d.wall.AddDate(0, 0, n)}
}

// At returns the wall-clock time minute minutes after local midnight. 1440 is the
// following midnight.
func (d LocalDate) At(minute int) LocalDateTime {
	return LocalDateTime{wall: d.wall.Add(time.Duration(minute) * time.Minute)}
}

func (d LocalDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *LocalDate) UnmarshalText(b []byte) error {
	v, err := ParseLocalDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// LocalDateTime is a wall-clock date and time with no zone.
type LocalDateTime struct {
	wall time.Time
}

func NewLocalDateTime(year int, month time.Month, day, hour, minute, sec int) LocalDateTime {
	return LocalDateTime{wall: time.Date(year, month, day, hour, minute, sec, 0, time.UTC)}
}

func ParseLocalDateTime(s string) (LocalDateTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return LocalDateTime{wall: t}, nil
		}
	}
	return LocalDateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
}

func (l LocalDateTime) Date() LocalDate {
	return LocalDate{wall: time.Date(l.wall.Year(), l.wall.Month(), l.wall.Day(), 0, 0, 0, 0, time.UTC)}
}

func (l LocalDateTime) Hour() int                   { return l.wall.Hour() }
func (l LocalDateTime) Minute() int                 { return l.wall.Minute() }
func (l LocalDateTime) Second() int                 { return l.wall.Second() }
func (l LocalDateTime) Weekday() time.Weekday       { return l.wall.Weekday() }
func (l LocalDateTime) IsZero() bool                { return l.wall.IsZero() }
func (l LocalDateTime) Equal(o LocalDateTime) bool  { return l.wall.Equal(o.wall) }
func (l LocalDateTime) Before(o LocalDateTime) bool { return l.wall.Before(o.wall) }
func (l LocalDateTime) Compare(o LocalDateTime) int { return l.wall.Compare(o.wall) }

// Add moves the wall clock by d, ignoring any zone transitions.
func (l LocalDateTime) Add(d time.Duration) LocalDateTime {
	return LocalDateTime{wall: l.wall.Add(d)}
}

// String renders ISO-8601 without offset; sub-second digits only when present.
func (l LocalDateTime) String() string {
	if l.wall.Nanosecond() != 0 {
		return l.wall.Format("2006-01-02T15:04:05.999999999")
	}
	return l.wall.Format(DateTimeLayout)
}

func (l LocalDateTime) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LocalDateTime) UnmarshalText(b []byte) error {
	v, err := ParseLocalDateTime(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func wallOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
