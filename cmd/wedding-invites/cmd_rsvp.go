package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wedding-invites/internal/handler"
	"wedding-invites/internal/models"
	"wedding-invites/internal/rsvp"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/token"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Guest QR codes for check-in",
}

var qrIssueCmd = &cobra.Command{
	Use:   "issue [guest-id]",
	Short: "Issue a guest's check-in QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runQRIssue,
}

var rsvpCmd = &cobra.Command{
	Use:   "rsvp",
	Short: "Submit RSVPs",
}

var rsvpSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an RSVP for a known guest or through the public form",
	Long: `With --guest the RSVP is stored for that guest. Otherwise it goes
through the public form: --token uses an invite, and without one the
event's access mode decides whether --name/--email/--phone may answer.

Examples:
  wedding-invites rsvp submit --event ceremony --guest <guest-id> --status confirmed
  wedding-invites rsvp submit --event ceremony --token <invite-token> --name "Rita" --status confirmed --answer meal=Vegan`,
	RunE: runRSVPSubmit,
}

var whatsappCmd = &cobra.Command{
	Use:   "whatsapp",
	Short: "WhatsApp device",
}

var whatsappServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Link WhatsApp and record guests' YES/NO replies as RSVPs",
	RunE:  runWhatsAppServe,
}

var (
	qrOut  string
	qrSize int

	rsvpEvent     string
	rsvpGuest     string
	rsvpToken     string
	rsvpName      string
	rsvpEmail     string
	rsvpPhone     string
	rsvpHousehold string
	rsvpChild     bool
	rsvpStatus    string
	rsvpAnswers   map[string]string
)

func init() {
	qrIssueCmd.Flags().StringVarP(&qrOut, "out", "o", "", "Write the QR code PNG to this file")
	qrIssueCmd.Flags().IntVar(&qrSize, "size", 256, "PNG size in pixels")
	qrCmd.AddCommand(qrIssueCmd)

	rsvpSubmitCmd.Flags().StringVar(&rsvpEvent, "event", "", "Event id or slug (required)")
	rsvpSubmitCmd.Flags().StringVar(&rsvpGuest, "guest", "", "Known guest id")
	rsvpSubmitCmd.Flags().StringVar(&rsvpToken, "token", "", "Invite token")
	rsvpSubmitCmd.Flags().StringVar(&rsvpName, "name", "", "Guest name")
	rsvpSubmitCmd.Flags().StringVar(&rsvpEmail, "email", "", "Guest email")
	rsvpSubmitCmd.Flags().StringVar(&rsvpPhone, "phone", "", "Guest phone")
	rsvpSubmitCmd.Flags().BoolVar(&rsvpChild, "child", false, "Guest is a child")
	rsvpSubmitCmd.Flags().StringVar(&rsvpHousehold, "household", "", "Household name for open events")
	rsvpSubmitCmd.Flags().StringVar(&rsvpStatus, "status", string(models.RSVPConfirmed), "confirmed, declined or maybe")
	rsvpSubmitCmd.Flags().StringToStringVar(&rsvpAnswers, "answer", nil, "Answer as key=value (repeatable)")
	rsvpSubmitCmd.MarkFlagRequired("event")
	rsvpCmd.AddCommand(rsvpSubmitCmd)

	whatsappCmd.AddCommand(whatsappServeCmd)
}

func runQRIssue(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if a.codec == nil {
		return errors.New("qr.key is not configured")
	}
	guest, err := a.store.GetGuest(cmd.Context(), args[0])
	if err != nil || guest.TenantID != a.tenant {
		return fmt.Errorf("guest %s not found", args[0])
	}
	issued, err := a.codec.Issue(guest)
	if err != nil {
		return err
	}

	if qrOut != "" {
		png, err := token.RenderQR(issued.QRPayload, qrSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(qrOut, png, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", qrOut, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ QR code for %s written to %s\n", guest.Name, qrOut)
	}
	return printJSON(cmd, issued)
}

func runRSVPSubmit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	event, err := a.store.GetEventBySlug(ctx, a.tenant, rsvpEvent)
	if errors.Is(err, storage.ErrNotFound) {
		event, err = a.store.GetEvent(ctx, rsvpEvent)
	}
	if err != nil || event.TenantID != a.tenant {
		return fmt.Errorf("event %s not found", rsvpEvent)
	}

	answers := make(map[string]any, len(rsvpAnswers))
	for k, v := range rsvpAnswers {
		answers[k] = v
	}
	status := models.RSVPStatus(rsvpStatus)

	var res *rsvp.Result
	if rsvpGuest != "" {
		res, err = a.rsvp.SubmitAuthenticated(ctx, a.tenant, event.ID, rsvpGuest, status, answers, actorFlag)
	} else {
		res, err = a.rsvp.SubmitPublic(ctx, a.tenant, rsvp.PublicSubmission{
			EventID: event.ID,
			Token:   rsvpToken,
			Guest: rsvp.GuestData{
				Name:    rsvpName,
				Email:   rsvpEmail,
				Phone:   rsvpPhone,
				IsChild: rsvpChild,
			},
			HouseholdName: rsvpHousehold,
			Status:        status,
			Answers:       answers,
		})
	}
	if err != nil {
		return err
	}
	if res.AlreadyUsed {
		fmt.Fprintln(cmd.ErrOrStderr(), "⚠️  The invite was used up by another submission; nothing was stored.")
	}
	return printJSON(cmd, res)
}

func runWhatsAppServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintln(cmd.OutOrStdout(), "🎉 Wedding WhatsApp RSVP Bot")
	fmt.Fprintln(cmd.OutOrStdout(), "Connecting to WhatsApp...")
	wa, err := a.whatsApp(ctx)
	if err != nil {
		return err
	}

	h := handler.NewRSVPHandler(wa, a.store, a.rsvp, handler.Config{
		TenantID:           a.tenant,
		EventSlug:          a.cfg.Wedding.DefaultEvent,
		CoupleNames:        a.cfg.Wedding.CoupleNames,
		WeddingDate:        a.cfg.Wedding.Date,
		DefaultCountryCode: a.cfg.Wedding.DefaultCountryCode,
	}, a.log)
	wa.SetMessageHandler(h.HandleText)

	fmt.Fprintln(cmd.OutOrStdout(), "✅ Connected. Listening for RSVP replies, Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	return nil
}
