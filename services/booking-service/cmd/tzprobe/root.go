package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptzone/libs/tz"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tzprobe",
		Short:         "Inspect time zone offsets, conversions and slot grids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	conv := tz.NewConverter(tz.NewResolver(tz.SystemDatabase()))

	root.AddCommand(newOffsetCmd(conv))
	root.AddCommand(newToUTCCmd(conv))
	root.AddCommand(newToLocalCmd(conv))
	root.AddCommand(newSlotsCmd(conv))
	return root
}

func parseInstant(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not RFC3339", tz.ErrInvalidDateFormat, raw)
	}
	return t.UTC(), nil
}

func newOffsetCmd(conv *tz.Converter) *cobra.Command {
	var zone, at string
	cmd := &cobra.Command{
		Use:   "offset",
		Short: "Print the UTC offset and abbreviation in effect at an instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			instant, err := parseInstant(at)
			if err != nil {
				return err
			}
			offset, err := conv.Resolver().OffsetFor(tz.ID(zone), instant)
			if err != nil {
				return err
			}
			abbr, err := conv.Resolver().AbbreviationFor(tz.ID(zone), instant)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", zone, tz.FormatOffset(offset), abbr)
			return nil
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "IANA zone id")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant (default now)")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}

func newToUTCCmd(conv *tz.Converter) *cobra.Command {
	var zone, local string
	cmd := &cobra.Command{
		Use:   "to-utc",
		Short: "Convert a local wall-clock time to a UTC instant",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := tz.ParseLocalDateTime(local)
			if err != nil {
				return err
			}
			instant, err := conv.ToInstant(l, tz.ID(zone))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), instant.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "IANA zone id")
	cmd.Flags().StringVar(&local, "local", "", "local time, 2006-01-02T15:04:05")
	_ = cmd.MarkFlagRequired("zone")
	_ = cmd.MarkFlagRequired("local")
	return cmd
}

func newToLocalCmd(conv *tz.Converter) *cobra.Command {
	var zone, at string
	cmd := &cobra.Command{
		Use:   "to-local",
		Short: "Convert a UTC instant to local wall-clock time",
		RunE: func(cmd *cobra.Command, args []string) error {
			instant, err := parseInstant(at)
			if err != nil {
				return err
			}
			l, err := conv.ToLocal(instant, tz.ID(zone))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "IANA zone id")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant (default now)")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}
