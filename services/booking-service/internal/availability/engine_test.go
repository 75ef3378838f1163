package availability

import (
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/apptzone/libs/tz"
)

const la = tz.ID("America/Los_Angeles")

// 2024-06-01 is a Saturday.
var june1 = tz.NewLocalDate(2024, 6, 1)

func laStore() Store {
	return Store{
		ID:       "store-1",
		TimeZone: la,
		Hours:    []OperatingWindow{{Weekday: time.Saturday, StartMinute: 9 * 60, EndMinute: 17 * 60}},
		Staff: []Staff{
			{ID: "1", Name: "Ana"},
			{ID: "2", Name: "Ben"},
		},
	}
}

func newTestEngine(grid time.Duration) *Engine {
	return NewEngine(tz.NewConverter(tz.NewResolver(nil)), Config{GridInterval: grid})
}

func baseRequest() Request {
	return Request{
		ServiceID: "svc-1",
		Store:     laStore(),
		Date:      june1,
		Duration:  30 * time.Minute,
		Staff:     OnlyStaff("1"),
		Now:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func localStarts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.LocalStart.String())
	}
	return out
}

func mustInstant(t *testing.T, l tz.LocalDateTime, id tz.ID) time.Time {
	t.Helper()
	at, err := tz.NewConverter(nil).ToInstant(l, id)
	if err != nil {
		t.Fatalf("ToInstant(%s): %v", l, err)
	}
	return at
}

func TestSlots_LosAngelesWorkingDay(t *testing.T) {
	cases := []struct {
		grid time.Duration
		want int
	}{
		{15 * time.Minute, 31},
		{30 * time.Minute, 16},
	}
	for _, tc := range cases {
		slots, err := newTestEngine(tc.grid).Slots(baseRequest())
		if err != nil {
			t.Fatalf("grid %s: %v", tc.grid, err)
		}
		if len(slots) != tc.want {
			t.Fatalf("grid %s: expected %d slots, got %d", tc.grid, tc.want, len(slots))
		}
		if got := slots[0].LocalStart.String(); got != "2024-06-01T09:00:00" {
			t.Fatalf("grid %s: first slot %s", tc.grid, got)
		}
		if got := slots[len(slots)-1].LocalStart.String(); got != "2024-06-01T16:30:00" {
			t.Fatalf("grid %s: last slot %s", tc.grid, got)
		}
		// PDT is UTC-7.
		if want := time.Date(2024, 6, 1, 16, 0, 0, 0, time.UTC); !slots[0].Start.Equal(want) {
			t.Fatalf("grid %s: first instant %s, want %s", tc.grid, slots[0].Start, want)
		}
		if slots[0].StaffName != "Ana" {
			t.Fatalf("expected staff name Ana, got %q", slots[0].StaffName)
		}
	}
}

func TestSlots_AppointmentBlocksOnlyItsStaff(t *testing.T) {
	e := newTestEngine(15 * time.Minute)
	req := baseRequest()
	req.Staff = AllStaff()
	req.Appointments = []Appointment{{
		StaffID: "1",
		Start:   mustInstant(t, june1.At(10*60), la),
		End:     mustInstant(t, june1.At(10*60+30), la),
	}}

	slots, err := e.Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	byStaff := map[string][]string{}
	for _, s := range slots {
		byStaff[s.StaffID] = append(byStaff[s.StaffID], s.LocalStart.String())
	}
	for _, excluded := range []string{"2024-06-01T09:45:00", "2024-06-01T10:00:00", "2024-06-01T10:15:00"} {
		if slices.Contains(byStaff["1"], excluded) {
			t.Fatalf("staff 1 should not offer %s", excluded)
		}
		if !slices.Contains(byStaff["2"], excluded) {
			t.Fatalf("staff 2 should still offer %s", excluded)
		}
	}
	for _, kept := range []string{"2024-06-01T09:30:00", "2024-06-01T10:30:00"} {
		if !slices.Contains(byStaff["1"], kept) {
			t.Fatalf("staff 1 should offer %s", kept)
		}
	}
	if len(byStaff["1"]) != 28 || len(byStaff["2"]) != 31 {
		t.Fatalf("expected 28/31 slots, got %d/%d", len(byStaff["1"]), len(byStaff["2"]))
	}
}

func TestSlots_OrderedByLocalStartThenStaff(t *testing.T) {
	req := baseRequest()
	req.Staff = AllStaff()
	slots, err := newTestEngine(30 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) < 2 {
		t.Fatalf("expected slots for both staff, got %d", len(slots))
	}
	if slots[0].StaffID != "1" || slots[1].StaffID != "2" || !slots[0].LocalStart.Equal(slots[1].LocalStart) {
		t.Fatalf("unexpected ordering: %+v %+v", slots[0], slots[1])
	}
	if !slices.IsSortedFunc(slots, compareSlots) {
		t.Fatalf("slots not sorted")
	}
}

func TestSlots_StaffIDsCompareAsStrings(t *testing.T) {
	req := baseRequest()
	req.Store.Staff = []Staff{{ID: "2", Name: "Ben"}, {ID: "10", Name: "Cy"}}
	req.Staff = AllStaff()
	slots, err := newTestEngine(30 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) < 2 || slots[0].StaffID != "10" || slots[1].StaffID != "2" {
		t.Fatalf("expected staff 10 before 2 at 09:00, got %+v", slots[:min(2, len(slots))])
	}
}

func TestSlots_Deterministic(t *testing.T) {
	e := newTestEngine(15 * time.Minute)
	req := baseRequest()
	req.Staff = AllStaff()
	req.Appointments = []Appointment{
		{StaffID: "2", Start: mustInstant(t, june1.At(13*60), la), End: mustInstant(t, june1.At(14*60), la)},
		{StaffID: "1", Start: mustInstant(t, june1.At(11*60), la), End: mustInstant(t, june1.At(11*60+45), la)},
	}
	first, err := e.Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Slots(req)
		if err != nil {
			t.Fatalf("Slots: %v", err)
		}
		if !slices.EqualFunc(first, again, func(a, b Slot) bool {
			return a.StaffID == b.StaffID && a.Start.Equal(b.Start) && a.LocalStart.Equal(b.LocalStart)
		}) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestSlots_Invariants(t *testing.T) {
	e := newTestEngine(15 * time.Minute)
	req := baseRequest()
	req.Staff = AllStaff()
	req.Duration = 45 * time.Minute
	req.Appointments = []Appointment{
		{StaffID: "1", Start: mustInstant(t, june1.At(9*60+20), la), End: mustInstant(t, june1.At(10*60+5), la)},
		{StaffID: "2", Start: mustInstant(t, june1.At(16*60), la), End: mustInstant(t, june1.At(17*60), la)},
	}
	slots, err := e.Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	open := mustInstant(t, june1.At(9*60), la)
	closing := mustInstant(t, june1.At(17*60), la)
	for _, s := range slots {
		end := s.Start.Add(req.Duration)
		if s.Start.Before(open) || end.After(closing) {
			t.Fatalf("slot %s escapes the working window", s.LocalStart)
		}
		for _, a := range req.Appointments {
			if a.StaffID == s.StaffID && s.Start.Before(a.End) && a.Start.Before(end) {
				t.Fatalf("slot %s for staff %s overlaps an appointment", s.LocalStart, s.StaffID)
			}
		}
	}
}

func TestSlots_TimeOffKeepsGrid(t *testing.T) {
	req := baseRequest()
	req.TimeOff = []Appointment{{
		StaffID: "1",
		Start:   mustInstant(t, june1.At(12*60+5), la),
		End:     mustInstant(t, june1.At(13*60), la),
	}}
	slots, err := newTestEngine(15 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	starts := localStarts(slots)
	if !slices.Contains(starts, "2024-06-01T11:30:00") || !slices.Contains(starts, "2024-06-01T13:00:00") {
		t.Fatalf("expected slots around the time off, got %v", starts)
	}
	for _, s := range starts {
		if s > "2024-06-01T11:35:00" && s < "2024-06-01T13:00:00" {
			t.Fatalf("slot %s falls in time off", s)
		}
		if s[14:16] != "00" && s[14:16] != "15" && s[14:16] != "30" && s[14:16] != "45" {
			t.Fatalf("slot %s is off the grid", s)
		}
	}
}

func TestSlots_StaffFilter(t *testing.T) {
	e := newTestEngine(30 * time.Minute)
	req := baseRequest()
	req.Staff = OnlyStaff("2")
	slots, err := e.Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	for _, s := range slots {
		if s.StaffID != "2" {
			t.Fatalf("unexpected staff %s", s.StaffID)
		}
	}

	req.Staff = OnlyStaff("ghost")
	if _, err := e.Slots(req); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for unknown staff, got %v", err)
	}

	if !FilterFor("").allows("anyone") || FilterFor("2").allows("1") {
		t.Fatalf("FilterFor mapping is wrong")
	}
}

func TestSlots_StaffHoursOverrideStore(t *testing.T) {
	req := baseRequest()
	req.Store.Staff = append(req.Store.Staff, Staff{
		ID:    "3",
		Name:  "Cy",
		Hours: []OperatingWindow{{Weekday: time.Saturday, StartMinute: 12 * 60, EndMinute: 13 * 60}},
	})
	req.Staff = OnlyStaff("3")
	slots, err := newTestEngine(15 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []string{"2024-06-01T12:00:00", "2024-06-01T12:15:00", "2024-06-01T12:30:00"}
	if got := localStarts(slots); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// No store hours on Sunday, so inheriting staff have nothing.
	req.Date = june1.AddDays(1)
	req.Staff = OnlyStaff("1")
	slots, err = newTestEngine(15 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no Sunday slots, got %v", localStarts(slots))
	}
}

func TestSlots_DefaultTimeZone(t *testing.T) {
	req := baseRequest()
	req.Store.TimeZone = ""

	if _, err := newTestEngine(30 * time.Minute).Slots(req); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference without a default zone, got %v", err)
	}

	e := NewEngine(tz.NewConverter(nil), Config{GridInterval: 30 * time.Minute, DefaultTimeZone: la})
	slots, err := e.Slots(req)
	if err != nil {
		t.Fatalf("Slots with default zone: %v", err)
	}
	if len(slots) != 16 || slots[0].LocalStart.String() != "2024-06-01T09:00:00" {
		t.Fatalf("default zone not applied: %v", localStarts(slots))
	}
}

func TestSlots_UnknownTimeZone(t *testing.T) {
	req := baseRequest()
	req.Store.TimeZone = "Mars/Olympus_Mons"
	if _, err := newTestEngine(30 * time.Minute).Slots(req); !errors.Is(err, tz.ErrUnknownTimeZone) {
		t.Fatalf("expected ErrUnknownTimeZone, got %v", err)
	}
}

func TestSlots_NonPositiveDuration(t *testing.T) {
	req := baseRequest()
	req.Duration = 0
	slots, err := newTestEngine(15 * time.Minute).Slots(req)
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected no slots and no error, got %d, %v", len(slots), err)
	}
}

func TestSlots_SkipsPast(t *testing.T) {
	req := baseRequest()
	// 10:05 PDT.
	req.Now = time.Date(2024, 6, 1, 17, 5, 0, 0, time.UTC)
	slots, err := newTestEngine(15 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if got := slots[0].LocalStart.String(); got != "2024-06-01T10:15:00" {
		t.Fatalf("expected first future slot 10:15, got %s", got)
	}

	req.Now = time.Date(2024, 6, 2, 17, 0, 0, 0, time.UTC)
	slots, err = newTestEngine(15 * time.Minute).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected nothing for a date already past, got %d", len(slots))
	}

	e := NewEngine(tz.NewConverter(nil), Config{GridInterval: 15 * time.Minute, AllowPastSlots: true})
	slots, err = e.Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if got := slots[0].LocalStart.String(); got != "2024-06-01T09:00:00" {
		t.Fatalf("expected past slots when allowed, got %s", got)
	}
}

func TestSlots_SpringForwardDay(t *testing.T) {
	const ny = tz.ID("America/New_York")
	// 2024-03-10 is a Sunday; clocks jump 02:00 -> 03:00.
	req := Request{
		Store: Store{
			ID:       "store-ny",
			TimeZone: ny,
			Hours:    []OperatingWindow{{Weekday: time.Sunday, StartMinute: 60, EndMinute: 5 * 60}},
			Staff:    []Staff{{ID: "1", Name: "Ana"}},
		},
		Date:     tz.NewLocalDate(2024, 3, 10),
		Duration: time.Hour,
		Now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	slots, err := newTestEngine(time.Hour).Slots(req)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []string{"2024-03-10T01:00:00", "2024-03-10T03:00:00", "2024-03-10T04:00:00"}
	if got := localStarts(slots); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSlots_FallBackDay(t *testing.T) {
	const ny = tz.ID("America/New_York")
	// 2024-11-03 is a Sunday; 01:00-02:00 repeats, first as EDT then as EST.
	store := Store{
		ID:       "store-ny",
		TimeZone: ny,
		Hours:    []OperatingWindow{{Weekday: time.Sunday, StartMinute: 0, EndMinute: 3 * 60}},
		Staff:    []Staff{{ID: "1", Name: "Ana"}, {ID: "2", Name: "Ben"}},
	}
	cases := []struct {
		name  string
		staff StaffFilter
		grid  time.Duration
		want  []string
	}{
		{
			name:  "repeated hour yields both instants",
			staff: OnlyStaff("1"),
			grid:  30 * time.Minute,
			want: []string{
				"00:00 04:00Z 1",
				"00:30 04:30Z 1",
				"01:00 05:00Z 1",
				"01:00 06:00Z 1",
				"01:30 05:30Z 1",
				"01:30 06:30Z 1",
				"02:00 07:00Z 1",
				"02:30 07:30Z 1",
			},
		},
		{
			name:  "same local start ordered by staff then instant",
			staff: AllStaff(),
			grid:  time.Hour,
			want: []string{
				"00:00 04:00Z 1",
				"00:00 04:00Z 2",
				"01:00 05:00Z 1",
				"01:00 06:00Z 1",
				"01:00 05:00Z 2",
				"01:00 06:00Z 2",
				"02:00 07:00Z 1",
				"02:00 07:00Z 2",
			},
		},
	}
	for _, tc := range cases {
		slots, err := newTestEngine(tc.grid).Slots(Request{
			Store:    store,
			Date:     tz.NewLocalDate(2024, 11, 3),
			Duration: 30 * time.Minute,
			Staff:    tc.staff,
			Now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		got := make([]string, 0, len(slots))
		for _, s := range slots {
			got = append(got, fmt.Sprintf("%02d:%02d %s %s",
				s.LocalStart.Hour(), s.LocalStart.Minute(), s.Start.UTC().Format("15:04Z"), s.StaffID))
		}
		if !slices.Equal(got, tc.want) {
			t.Errorf("%s:\n got %v\nwant %v", tc.name, got, tc.want)
		}
	}
}

func TestBookable(t *testing.T) {
	e := newTestEngine(15 * time.Minute)
	req := baseRequest()
	req.Appointments = []Appointment{{
		StaffID: "1",
		Start:   mustInstant(t, june1.At(10*60), la),
		End:     mustInstant(t, june1.At(10*60+30), la),
	}}

	ok, err := e.Bookable(req, "1", mustInstant(t, june1.At(11*60), la))
	if err != nil || !ok {
		t.Fatalf("expected 11:00 bookable, got %v, %v", ok, err)
	}
	ok, err = e.Bookable(req, "1", mustInstant(t, june1.At(10*60+15), la))
	if err != nil || ok {
		t.Fatalf("expected 10:15 not bookable, got %v, %v", ok, err)
	}
	ok, err = e.Bookable(req, "1", mustInstant(t, june1.At(11*60+5), la))
	if err != nil || ok {
		t.Fatalf("expected off-grid start not bookable, got %v, %v", ok, err)
	}
}
