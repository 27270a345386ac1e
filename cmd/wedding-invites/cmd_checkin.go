package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"wedding-invites/internal/checkin"
	"wedding-invites/internal/incident"
	"wedding-invites/internal/models"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Manage RSVP events",
}

var eventTimelineCmd = &cobra.Command{
	Use:   "timeline [event-id]",
	Short: "Show RSVPs and check-ins recorded for an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventTimeline,
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Register guest arrivals",
	Long: `Registers arrivals at the venue or at one event. Registering the same
guest twice for the same event returns the first check-in.

Examples:
  wedding-invites checkin scan "WEDQR1:..." --event <event-id> --device gate-1
  wedding-invites checkin record <guest-id> --event <event-id>
  wedding-invites checkin list --search silva`,
}

var checkinRecordCmd = &cobra.Command{
	Use:   "record [guest-id]",
	Short: "Check a guest in by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckinRecord,
}

var checkinScanCmd = &cobra.Command{
	Use:   "scan [code]",
	Short: "Check a guest in from a scanned QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckinScan,
}

var checkinListCmd = &cobra.Command{
	Use:   "list",
	Short: "List check-ins with totals",
	RunE:  runCheckinList,
}

var (
	checkinEvent  string
	checkinMethod string
	checkinDevice string
	checkinNotes  string
	checkinSearch string
	listMethod    string
	checkinLimit  int
)

func init() {
	eventCmd.AddCommand(eventTimelineCmd)
	eventTimelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Print entries as JSON")

	for _, c := range []*cobra.Command{checkinRecordCmd, checkinScanCmd, checkinListCmd} {
		c.Flags().StringVar(&checkinEvent, "event", "", "Event id")
	}
	for _, c := range []*cobra.Command{checkinRecordCmd, checkinScanCmd} {
		c.Flags().StringVar(&checkinDevice, "device", "", "Scanning device id")
		c.Flags().StringVar(&checkinNotes, "notes", "", "Notes")
	}
	checkinRecordCmd.Flags().StringVar(&checkinMethod, "method", string(models.MethodManual), "qr or manual")
	checkinListCmd.Flags().StringVar(&listMethod, "method", "", "Only qr or manual check-ins")
	checkinListCmd.Flags().StringVar(&checkinSearch, "search", "", "Guest name contains")
	checkinListCmd.Flags().IntVar(&checkinLimit, "limit", 50, "Maximum rows to show")

	checkinCmd.AddCommand(checkinRecordCmd)
	checkinCmd.AddCommand(checkinScanCmd)
	checkinCmd.AddCommand(checkinListCmd)
}

func runEventTimeline(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.incident.EventTimeline(cmd.Context(), a.tenant, args[0])
	if err != nil {
		return err
	}
	if timelineJSON {
		return printJSON(cmd, entries)
	}
	fmt.Fprint(cmd.OutOrStdout(), incident.FormatTimeline(entries))
	return nil
}

func runCheckinRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.checkin.Record(cmd.Context(), checkin.Request{
		TenantID:   a.tenant,
		GuestID:    args[0],
		EventID:    checkinEvent,
		Method:     models.Method(checkinMethod),
		DeviceID:   checkinDevice,
		Notes:      checkinNotes,
		OperatorID: actorFlag,
	})
	if err != nil {
		return err
	}
	return reportCheckin(cmd, out)
}

func runCheckinScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.checkin.RecordScan(cmd.Context(), checkin.ScanRequest{
		TenantID:   a.tenant,
		Code:       args[0],
		EventID:    checkinEvent,
		DeviceID:   checkinDevice,
		Notes:      checkinNotes,
		OperatorID: actorFlag,
	})
	if err != nil {
		return err
	}
	return reportCheckin(cmd, out)
}

func reportCheckin(cmd *cobra.Command, out *checkin.Outcome) error {
	w := cmd.OutOrStdout()
	at := out.CheckIn.CheckedInAt.Format("15:04:05")
	if out.Duplicate {
		fmt.Fprintf(w, "↺ %s already checked in at %s\n", out.Guest.Name, at)
	} else {
		fmt.Fprintf(w, "✅ %s checked in at %s\n", out.Guest.Name, at)
	}
	return nil
}

func runCheckinList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	l, err := a.checkin.ListForWedding(cmd.Context(), a.tenant, checkin.Filter{
		EventID: checkinEvent,
		Method:  models.Method(listMethod),
		Search:  checkinSearch,
		Limit:   checkinLimit,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n📋 Check-ins: %d total, %d today, %d duplicate scans in the last 24h\n", l.Total, l.Today, l.DuplicatesLast24h)
	fmt.Fprintf(w, "By method: qr %d, manual %d\n", l.ByMethod[models.MethodQR], l.ByMethod[models.MethodManual])
	for _, ec := range l.ByEvent {
		name := ec.Name
		if name == "" {
			name = "(venue)"
		}
		fmt.Fprintf(w, "  %-24s %d\n", name, ec.Count)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, row := range l.CheckIns {
		event := "(venue)"
		if row.EventName != nil {
			event = *row.EventName
		}
		fmt.Fprintf(w, "%s  %-24s %-16s %s\n", row.CheckedInAt.In(a.cfg.Location()).Format("2006-01-02 15:04"), row.GuestName, event, row.Method)
	}
	return nil
}
