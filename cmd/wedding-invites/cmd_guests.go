package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wedding-invites/internal/contact"
	"wedding-invites/internal/models"
)

var householdCmd = &cobra.Command{
	Use:   "household",
	Short: "Manage households",
}

var householdAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a household",
	Args:  cobra.ExactArgs(1),
	RunE:  runHouseholdAdd,
}

var guestCmd = &cobra.Command{
	Use:   "guest",
	Short: "Manage guests",
}

var guestAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a guest, optionally to a household",
	Args:  cobra.ExactArgs(1),
	RunE:  runGuestAdd,
}

var eventAddCmd = &cobra.Command{
	Use:   "add [slug]",
	Short: "Add an RSVP event",
	Long: `Adds an event guests can RSVP to.

Questions are read from a JSON file holding a list of
{"key", "label", "type", "required", "options"} objects.

Example:
  wedding-invites event add ceremony --name "Ceremony" --access restricted --questions questions.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEventAdd,
}

var eventActiveCmd = &cobra.Command{
	Use:   "active [event-id] [true|false]",
	Short: "Open or close an event for RSVPs and new check-ins",
	Args:  cobra.ExactArgs(2),
	RunE:  runEventActive,
}

var (
	householdMaxGuests int
	householdTable     string

	guestHousehold string
	guestEmail     string
	guestPhone     string
	guestChild     bool

	eventName      string
	eventAccess    string
	eventQuestions string
	eventOpens     string
	eventCloses    string
)

func init() {
	householdAddCmd.Flags().IntVar(&householdMaxGuests, "max-guests", 0, "Maximum guests in the household (0: unlimited)")
	householdAddCmd.Flags().StringVar(&householdTable, "table", "", "Table label")
	householdCmd.AddCommand(householdAddCmd)

	guestAddCmd.Flags().StringVar(&guestHousehold, "household", "", "Household id")
	guestAddCmd.Flags().StringVar(&guestEmail, "email", "", "Email address")
	guestAddCmd.Flags().StringVar(&guestPhone, "phone", "", "Phone number")
	guestAddCmd.Flags().BoolVar(&guestChild, "child", false, "Guest is a child")
	guestCmd.AddCommand(guestAddCmd)

	eventAddCmd.Flags().StringVar(&eventName, "name", "", "Display name (default: slug)")
	eventAddCmd.Flags().StringVar(&eventAccess, "access", string(models.AccessRestricted), "Access mode without an invite: restricted or open")
	eventAddCmd.Flags().StringVar(&eventQuestions, "questions", "", "JSON file with the RSVP questions")
	eventAddCmd.Flags().StringVar(&eventOpens, "opens", "", "RSVPs open at (RFC 3339)")
	eventAddCmd.Flags().StringVar(&eventCloses, "closes", "", "RSVPs close at (RFC 3339)")
	eventCmd.AddCommand(eventAddCmd)
	eventCmd.AddCommand(eventActiveCmd)
}

func runHouseholdAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now().UTC()
	h := &models.Household{
		ID:         uuid.NewString(),
		TenantID:   a.tenant,
		Name:       strings.TrimSpace(args[0]),
		TableLabel: householdTable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if householdMaxGuests > 0 {
		h.MaxGuests = &householdMaxGuests
	}
	if err := a.store.InsertHousehold(cmd.Context(), h); err != nil {
		return err
	}
	return printJSON(cmd, h)
}

func runGuestAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now().UTC()
	g := &models.Guest{
		ID:                uuid.NewString(),
		TenantID:          a.tenant,
		Name:              strings.TrimSpace(args[0]),
		Email:             contact.NormalizeEmail(guestEmail),
		Phone:             contact.NormalizePhone(guestPhone, a.cfg.Wedding.DefaultCountryCode),
		IsChild:           guestChild,
		OverallRSVPStatus: models.RSVPNoResponse,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if guestHousehold != "" {
		h, err := a.store.GetHousehold(cmd.Context(), guestHousehold)
		if err != nil || h.TenantID != a.tenant {
			return fmt.Errorf("household %s not found", guestHousehold)
		}
		g.HouseholdID = &h.ID
	}
	if err := a.store.InsertGuest(cmd.Context(), g); err != nil {
		return err
	}
	return printJSON(cmd, g)
}

func runEventAdd(cmd *cobra.Command, args []string) error {
	mode := models.AccessMode(eventAccess)
	if mode != models.AccessRestricted && mode != models.AccessOpen {
		return fmt.Errorf("access must be restricted or open, got %q", eventAccess)
	}

	var qs models.Questions
	if eventQuestions != "" {
		data, err := os.ReadFile(eventQuestions)
		if err != nil {
			return fmt.Errorf("failed to read questions: %w", err)
		}
		if err := json.Unmarshal(data, &qs); err != nil {
			return fmt.Errorf("failed to parse questions: %w", err)
		}
	}
	opens, err := parseTime(eventOpens)
	if err != nil {
		return err
	}
	closes, err := parseTime(eventCloses)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	name := eventName
	if name == "" {
		name = args[0]
	}
	e := &models.Event{
		ID:         uuid.NewString(),
		TenantID:   a.tenant,
		Slug:       args[0],
		Name:       name,
		Active:     true,
		AccessMode: mode,
		Questions:  qs,
		OpensAt:    opens,
		ClosesAt:   closes,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.InsertEvent(cmd.Context(), e); err != nil {
		return err
	}
	return printJSON(cmd, e)
}

func runEventActive(cmd *cobra.Command, args []string) error {
	active, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("active must be true or false, got %q", args[1])
	}
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	e, err := a.store.GetEvent(cmd.Context(), args[0])
	if err != nil || e.TenantID != a.tenant {
		return fmt.Errorf("event %s not found", args[0])
	}
	if err := a.store.SetEventActive(cmd.Context(), e.ID, active); err != nil {
		return err
	}
	a.log.Info().Str("event_id", e.ID).Bool("active", active).Msg("Event updated")
	e.Active = active
	return printJSON(cmd, e)
}

// parseTime reads an optional RFC 3339 flag value
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q, want RFC 3339: %w", s, err)
	}
	t = t.UTC()
	return &t, nil
}
