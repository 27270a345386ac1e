package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	tenantFlag string
	actorFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "wedding-invites",
	Short: "Guest invites, RSVPs and check-ins for a wedding",
	Long: `Manages invite tokens, RSVP submissions and arrival check-ins.

Configuration is read from --config (YAML) and then from environment
variables such as DATABASE_DSN, WEDDING_TENANT_ID and QR_KEY.

Examples:
  wedding-invites migrate
  wedding-invites invite create <household-id> --channel email --max-uses 2
  wedding-invites checkin scan "WEDQR1:..." --event <event-id>
  wedding-invites whatsapp serve`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and add optional invite columns",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "Wedding tenant id (default: wedding.tenant_id)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "cli", "Actor id recorded in the audit log")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(householdCmd)
	rootCmd.AddCommand(guestCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(qrCmd)
	rootCmd.AddCommand(rsvpCmd)
	rootCmd.AddCommand(whatsappCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{migrate: true})
	if err != nil {
		return err
	}
	defer a.close()

	caps := a.store.Capabilities()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Schema ready (invite limits: %t, revocation: %t)\n", caps.InviteLimits, caps.InviteRevocation)
	return nil
}
