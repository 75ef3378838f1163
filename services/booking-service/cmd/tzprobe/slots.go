package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/md-rashed-zaman/apptzone/services/booking-service/internal/availability"
	"github.com/spf13/cobra"
)

// fixture is a self-contained slot query.
type fixture struct {
	Store           availability.Store         `json:"store"`
	Date            tz.LocalDate               `json:"date"`
	DurationMinutes int                        `json:"duration_minutes"`
	GridMinutes     int                        `json:"grid_minutes"`
	AllowPast       bool                       `json:"allow_past"`
	Now             time.Time                  `json:"now"`
	DefaultTimeZone tz.ID                      `json:"default_timezone"`
	StaffID         string                     `json:"staff_id"`
	Appointments    []availability.Appointment `json:"appointments"`
	TimeOff         []availability.Appointment `json:"time_off"`
}

func loadFixture(path string) (fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, err
	}
	var f fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return fixture{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func runFixture(conv *tz.Converter, f fixture) ([]availability.Slot, error) {
	engine := availability.NewEngine(conv, availability.Config{
		GridInterval:    time.Duration(f.GridMinutes) * time.Minute,
		AllowPastSlots:  f.AllowPast,
		DefaultTimeZone: f.DefaultTimeZone,
	})
	return engine.Slots(availability.Request{
		Store:        f.Store,
		Date:         f.Date,
		Duration:     time.Duration(f.DurationMinutes) * time.Minute,
		Appointments: f.Appointments,
		TimeOff:      f.TimeOff,
		Staff:        availability.FilterFor(f.StaffID),
		Now:          f.Now,
	})
}

func newSlotsCmd(conv *tz.Converter) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Run the availability engine on a JSON fixture and print the slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadFixture(file)
			if err != nil {
				return err
			}
			slots, err := runFixture(conv, f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LOCAL\tUTC\tSTAFF")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.LocalStart, s.Start.Format(time.RFC3339), s.StaffID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to fixture JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
