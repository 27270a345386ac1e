// Package delivery hands invite messages to an outbound transport. The
// engine never retries on its own; a failed Result is logged and left for an
// operator to retry.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"wedding-invites/internal/models"
)

// Request is one outbound invite message
type Request struct {
	MessageID string         `json:"message_id"`
	TenantID  string         `json:"tenant_id"`
	InviteID  string         `json:"invite_id"`
	Channel   models.Channel `json:"channel"`
	Recipient string         `json:"recipient"`
	Name      string         `json:"name"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Link      string         `json:"link,omitempty"`
}

// Result is what a transport reports back
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Queued means the message was accepted for later delivery, not delivered.
	Queued bool `json:"queued,omitempty"`
}

// Channel delivers invite messages
type Channel interface {
	Deliver(ctx context.Context, req Request) Result
}

// ChannelFunc adapts a function to Channel
type ChannelFunc func(ctx context.Context, req Request) Result

func (f ChannelFunc) Deliver(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Router picks a transport by invite channel
type Router struct {
	routes map[models.Channel]Channel
}

// NewRouter creates a router. Channels without a route fail delivery.
func NewRouter(routes map[models.Channel]Channel) *Router {
	r := &Router{routes: map[models.Channel]Channel{}}
	for ch, t := range routes {
		if t != nil {
			r.routes[ch] = t
		}
	}
	return r
}

// Deliver implements Channel
func (r *Router) Deliver(ctx context.Context, req Request) Result {
	t, ok := r.routes[req.Channel]
	if !ok {
		return Result{OK: false, Message: fmt.Sprintf("no transport configured for %s", req.Channel)}
	}
	return t.Deliver(ctx, req)
}

// Wedding is the text shared by every invite message of a tenant
type Wedding struct {
	CoupleNames string
	Date        string
	Location    string
	// LinkBase is the public RSVP page; the invite token is appended.
	LinkBase string
}

// Compose builds the message for an invite addressed to name
func (w Wedding) Compose(inv *models.Invite, name string) (subject, body, link string) {
	if w.LinkBase != "" {
		sep := "?"
		if strings.Contains(w.LinkBase, "?") {
			sep = "&"
		}
		link = w.LinkBase + sep + "token=" + inv.Token
	}

	subject = fmt.Sprintf("Wedding invitation: %s", w.CoupleNames)

	var b strings.Builder
	fmt.Fprintf(&b, "🎉 *Wedding Invitation*\n\nDear %s,\n\n", name)
	fmt.Fprintf(&b, "You are cordially invited to celebrate the wedding of\n\n*%s*\n\n", w.CoupleNames)
	if w.Date != "" {
		fmt.Fprintf(&b, "📅 Date: %s\n", w.Date)
	}
	if w.Location != "" {
		fmt.Fprintf(&b, "📍 Location: %s\n", w.Location)
	}
	if link != "" {
		fmt.Fprintf(&b, "\nPlease confirm your attendance here:\n%s", link)
	} else if inv.Channel == models.ChannelWhatsApp {
		b.WriteString("\nReply with:\n✅ *YES* to accept\n❌ *NO* to decline")
	}
	return subject, b.String(), link
}
