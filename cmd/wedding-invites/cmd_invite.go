package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wedding-invites/internal/incident"
	"wedding-invites/internal/invites"
	"wedding-invites/internal/models"
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create, send and troubleshoot invites",
	Long: `Invites are bearer tokens that let a household (or one guest) RSVP.

Examples:
  wedding-invites invite create <household-id> --channel whatsapp --max-uses 2
  wedding-invites invite send <invite-id>
  wedding-invites invite revoke <invite-id> --reason "sent to wrong number"
  wedding-invites invite reissue <invite-id>
  wedding-invites invite retry-failed --channel email --limit 50
  wedding-invites invite timeline <invite-id>`,
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create [household-id]",
	Short: "Create an invite for a household",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteCreate,
}

var inviteReissueCmd = &cobra.Command{
	Use:   "reissue [invite-id]",
	Short: "Give an invite a fresh token and reset its uses",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteReissue,
}

var inviteRevokeCmd = &cobra.Command{
	Use:   "revoke [invite-id]",
	Short: "Revoke an invite",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteRevoke,
}

var inviteStatusCmd = &cobra.Command{
	Use:   "status [invite-id] [delivered|opened|expired]",
	Short: "Move an invite along its lifecycle",
	Args:  cobra.ExactArgs(2),
	RunE:  runInviteStatus,
}

var inviteSendCmd = &cobra.Command{
	Use:   "send [invite-id]",
	Short: "Deliver an invite over its channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteSend,
}

var inviteRetryCmd = &cobra.Command{
	Use:   "retry [invite-id]",
	Short: "Redeliver an invite unless it is revoked, expired or exhausted",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteRetry,
}

var inviteRetryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Retry the most recent failed deliveries over one channel",
	RunE:  runInviteRetryFailed,
}

var inviteListCmd = &cobra.Command{
	Use:   "list [household-id]",
	Short: "List a household's invites",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteList,
}

var inviteTimelineCmd = &cobra.Command{
	Use:   "timeline [invite-id]",
	Short: "Show everything recorded about an invite",
	Args:  cobra.ExactArgs(1),
	RunE:  runInviteTimeline,
}

var (
	inviteGuest   string
	inviteChannel string
	inviteMaxUses int
	inviteExpires string
	inviteReason  string
	retryChannel  string
	retryFrom     string
	retryTo       string
	retryLimit    int
	timelineJSON  bool
)

func init() {
	inviteCreateCmd.Flags().StringVar(&inviteGuest, "guest", "", "Pin the invite to one guest")
	inviteCreateCmd.Flags().StringVar(&inviteChannel, "channel", string(models.ChannelWhatsApp), "Delivery channel: email, whatsapp or sms")
	for _, c := range []*cobra.Command{inviteCreateCmd, inviteReissueCmd} {
		c.Flags().IntVar(&inviteMaxUses, "max-uses", 0, "Maximum number of uses (0: unlimited, or unchanged on reissue)")
		c.Flags().StringVar(&inviteExpires, "expires", "", "Expiry (RFC 3339)")
	}
	inviteRevokeCmd.Flags().StringVar(&inviteReason, "reason", "", "Why the invite is revoked")

	inviteRetryFailedCmd.Flags().StringVar(&retryChannel, "channel", "", "Channel to retry (required)")
	inviteRetryFailedCmd.Flags().StringVar(&retryFrom, "from", "", "Only failures at or after (RFC 3339)")
	inviteRetryFailedCmd.Flags().StringVar(&retryTo, "to", "", "Only failures at or before (RFC 3339)")
	inviteRetryFailedCmd.Flags().IntVar(&retryLimit, "limit", 100, "Maximum failed deliveries to read")
	inviteRetryFailedCmd.MarkFlagRequired("channel")

	inviteTimelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Print entries as JSON")

	inviteCmd.AddCommand(inviteCreateCmd)
	inviteCmd.AddCommand(inviteReissueCmd)
	inviteCmd.AddCommand(inviteRevokeCmd)
	inviteCmd.AddCommand(inviteStatusCmd)
	inviteCmd.AddCommand(inviteSendCmd)
	inviteCmd.AddCommand(inviteRetryCmd)
	inviteCmd.AddCommand(inviteRetryFailedCmd)
	inviteCmd.AddCommand(inviteListCmd)
	inviteCmd.AddCommand(inviteTimelineCmd)
}

// issuedInvite shows the bearer token, which is hidden from an invite's JSON
type issuedInvite struct {
	*models.Invite
	Token string `json:"token"`
}

func maxUsesFlag() *int {
	if inviteMaxUses <= 0 {
		return nil
	}
	n := inviteMaxUses
	return &n
}

func runInviteCreate(cmd *cobra.Command, args []string) error {
	expires, err := parseTime(inviteExpires)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	inv, err := a.invites.Create(cmd.Context(), a.tenant, args[0], invites.CreateData{
		GuestID:   inviteGuest,
		Channel:   models.Channel(inviteChannel),
		MaxUses:   maxUsesFlag(),
		ExpiresAt: expires,
	}, actorFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, issuedInvite{Invite: inv, Token: inv.Token})
}

func runInviteReissue(cmd *cobra.Command, args []string) error {
	expires, err := parseTime(inviteExpires)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	inv, err := a.invites.Reissue(cmd.Context(), a.tenant, args[0], invites.ReissueData{
		MaxUses:   maxUsesFlag(),
		ExpiresAt: expires,
	}, actorFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, issuedInvite{Invite: inv, Token: inv.Token})
}

func runInviteRevoke(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	inv, err := a.invites.Revoke(cmd.Context(), a.tenant, args[0], inviteReason, actorFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, inv)
}

func runInviteStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	inv, err := a.invites.Transition(cmd.Context(), a.tenant, args[0], models.InviteStatus(args[1]), actorFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, inv)
}

func runInviteSend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.incident.Send(cmd.Context(), a.tenant, args[0], actorFlag)
	if err != nil {
		return err
	}
	return reportOutcome(cmd, out)
}

func runInviteRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.incident.RetryInvite(cmd.Context(), a.tenant, args[0], actorFlag)
	if err != nil {
		return err
	}
	return reportOutcome(cmd, out)
}

func reportOutcome(cmd *cobra.Command, out *incident.Outcome) error {
	w := cmd.OutOrStdout()
	switch {
	case out.Blocked:
		fmt.Fprintf(w, "⛔ Invite %s not sent: %s\n", out.InviteID, out.Reason)
	case out.Sent:
		fmt.Fprintf(w, "✅ Invite %s sent: %s\n", out.InviteID, out.Message)
	default:
		fmt.Fprintf(w, "❌ Invite %s failed: %s\n", out.InviteID, out.Message)
	}
	return nil
}

func runInviteRetryFailed(cmd *cobra.Command, args []string) error {
	from, err := parseTime(retryFrom)
	if err != nil {
		return err
	}
	to, err := parseTime(retryTo)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	f := incident.BatchFilter{Channel: models.Channel(retryChannel), Limit: retryLimit}
	if from != nil {
		f.From = *from
	}
	if to != nil {
		f.To = *to
	}
	res, err := a.incident.RetryFailedByChannel(cmd.Context(), a.tenant, f, actorFlag)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runInviteList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.invites.List(cmd.Context(), a.tenant, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(w, "No invites found.")
		return nil
	}
	now := time.Now()
	for _, inv := range list {
		uses := fmt.Sprintf("%d", inv.UsesCount)
		if inv.MaxUses != nil {
			uses = fmt.Sprintf("%d/%d", inv.UsesCount, *inv.MaxUses)
		}
		state := string(inv.Status)
		if reason := inv.BlockReason(now); reason != "" {
			state += " (" + reason + ")"
		}
		fmt.Fprintf(w, "%s  %-9s %-22s uses %s\n", inv.ID, inv.Channel, state, uses)
	}
	return nil
}

func runInviteTimeline(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.incident.InviteTimeline(cmd.Context(), a.tenant, args[0])
	if err != nil {
		return err
	}
	if timelineJSON {
		return printJSON(cmd, entries)
	}
	fmt.Fprint(cmd.OutOrStdout(), incident.FormatTimeline(entries))
	return nil
}
