package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
)

// Entry sources
const (
	SourceInvite   = "invite"
	SourceAudit    = "audit"
	SourceDelivery = "delivery"
)

// TimelineEntry is one line of a timeline
type TimelineEntry struct {
	At      time.Time      `json:"at"`
	Source  string         `json:"source"`
	Action  string         `json:"action"`
	ActorID string         `json:"actor_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// InviteTimeline returns everything recorded about an invite, oldest first
func (s *Service) InviteTimeline(ctx context.Context, tenantID, inviteID string) ([]TimelineEntry, error) {
	inv, err := s.invites.Get(ctx, tenantID, inviteID)
	if err != nil {
		return nil, err
	}

	entries := []TimelineEntry{{
		At:     inv.CreatedAt,
		Source: SourceInvite,
		Action: "created",
		Details: map[string]any{
			"channel":      string(inv.Channel),
			"household_id": inv.HouseholdID,
			"status":       string(inv.Status),
			"uses_count":   inv.UsesCount,
		},
	}}

	logs, err := s.store.ListAuditByInvite(ctx, tenantID, inv.ID)
	if err != nil {
		return nil, err
	}
	entries = append(entries, fromAudit(logs)...)

	deliveries, err := s.store.ListDeliveriesByInvite(ctx, tenantID, inv.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range deliveries {
		details := map[string]any{
			"channel":   string(d.Channel),
			"recipient": d.Recipient,
		}
		if d.Error != "" {
			details["error"] = d.Error
		}
		entries = append(entries, TimelineEntry{
			At:      d.CreatedAt,
			Source:  SourceDelivery,
			Action:  string(d.Status),
			Details: details,
		})
	}

	sortTimeline(entries)
	return entries, nil
}

// EventTimeline returns the audit entries of an event (RSVPs, check-ins),
// oldest first
func (s *Service) EventTimeline(ctx context.Context, tenantID, eventID string) ([]TimelineEntry, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && event.TenantID != tenantID) {
		return nil, apperr.NotFound(apperr.ReasonNotFound, "event not found")
	}
	if err != nil {
		return nil, err
	}

	logs, err := s.store.ListAuditByEvent(ctx, tenantID, event.ID)
	if err != nil {
		return nil, err
	}
	entries := fromAudit(logs)
	sortTimeline(entries)
	return entries, nil
}

func fromAudit(logs []models.AuditEntry) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(logs))
	for _, l := range logs {
		e := TimelineEntry{
			At:      l.CreatedAt,
			Source:  SourceAudit,
			Action:  l.Action,
			Details: map[string]any(l.Context),
		}
		if l.ActorID != nil {
			e.ActorID = *l.ActorID
		}
		entries = append(entries, e)
	}
	return entries
}

// sortTimeline orders by time; the invite's own creation line sorts first
// among entries sharing its timestamp.
func sortTimeline(entries []TimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].At.Equal(entries[j].At) {
			return entries[i].At.Before(entries[j].At)
		}
		return entries[i].Source == SourceInvite && entries[j].Source != SourceInvite
	})
}

// FormatTimeline renders a timeline as text, one entry per line
func FormatTimeline(entries []TimelineEntry) string {
	if len(entries) == 0 {
		return "no entries\n"
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-8s  %s", e.At.UTC().Format(time.RFC3339), e.Source, e.Action)
		if e.ActorID != "" {
			fmt.Fprintf(&b, "  by %s", e.ActorID)
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s=%v", k, e.Details[k])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
