package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
)

// WebhookConfig configures an HTTP message gateway
type WebhookConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// Webhook posts messages to an HTTP gateway that sends email or SMS
type Webhook struct {
	client *resty.Client
	log    zerolog.Logger
}

type gatewayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// NewWebhook creates a gateway transport
func NewWebhook(cfg WebhookConfig, log zerolog.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Webhook{
		client: client,
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

// Deliver implements Channel
func (w *Webhook) Deliver(ctx context.Context, req Request) Result {
	var out gatewayResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.MessageID).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/messages")
	if err != nil {
		terr := &apperr.TransientError{Op: "webhook delivery", Err: err}
		w.log.Warn().Err(terr).Str("invite_id", req.InviteID).Msg("Gateway unreachable")
		return Result{OK: false, Message: terr.Error()}
	}

	if resp.IsError() {
		msg := out.Error
		if msg == "" {
			msg = resp.Status()
		}
		w.log.Warn().
			Int("status_code", resp.StatusCode()).
			Str("invite_id", req.InviteID).
			Str("error", msg).
			Msg("Gateway rejected message")
		return Result{OK: false, Message: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode(), msg)}
	}

	w.log.Debug().Str("invite_id", req.InviteID).Str("gateway_id", out.ID).Msg("Gateway accepted message")
	if out.Status == "queued" {
		return Result{OK: true, Queued: true, Message: fmt.Sprintf("queued by gateway as %s", out.ID)}
	}
	return Result{OK: true, Message: fmt.Sprintf("sent by gateway as %s", out.ID)}
}
