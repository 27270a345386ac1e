package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-invites/internal/models"
)

func sampleRequest() Request {
	return Request{
		MessageID: "m-1",
		TenantID:  "w-1",
		InviteID:  "inv-1",
		Channel:   models.ChannelEmail,
		Recipient: "ana@example.com",
		Name:      "Ana",
		Subject:   "Wedding invitation",
		Body:      "hello",
	}
}

func TestRouter(t *testing.T) {
	var got Request
	r := NewRouter(map[models.Channel]Channel{
		models.ChannelEmail: ChannelFunc(func(_ context.Context, req Request) Result {
			got = req
			return Result{OK: true, Message: "ok"}
		}),
		models.ChannelSMS: nil,
	})

	res := r.Deliver(context.Background(), sampleRequest())
	assert.True(t, res.OK)
	assert.Equal(t, "inv-1", got.InviteID)

	req := sampleRequest()
	req.Channel = models.ChannelSMS
	res = r.Deliver(context.Background(), req)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "no transport configured for sms")
}

func TestWebhook_Delivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "m-1", r.Header.Get("Idempotency-Key"))

		var body Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ana@example.com", body.Recipient)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gw-7","status":"sent"}`))
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{BaseURL: srv.URL, APIKey: "secret"}, zerolog.Nop())
	res := wh.Deliver(context.Background(), sampleRequest())
	assert.True(t, res.OK)
	assert.False(t, res.Queued)
	assert.Equal(t, "sent by gateway as gw-7", res.Message)
}

func TestWebhook_Queued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"gw-8","status":"queued"}`))
	}))
	defer srv.Close()

	res := NewWebhook(WebhookConfig{BaseURL: srv.URL}, zerolog.Nop()).Deliver(context.Background(), sampleRequest())
	assert.True(t, res.OK)
	assert.True(t, res.Queued)
}

func TestWebhook_Rejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mailbox unavailable"}`))
	}))
	defer srv.Close()

	res := NewWebhook(WebhookConfig{BaseURL: srv.URL}, zerolog.Nop()).Deliver(context.Background(), sampleRequest())
	assert.False(t, res.OK)
	assert.Equal(t, "gateway returned 400: mailbox unavailable", res.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhook_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewWebhook(WebhookConfig{BaseURL: url, Timeout: time.Second}, zerolog.Nop()).Deliver(context.Background(), sampleRequest())
	assert.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Message, "webhook delivery: "), res.Message)
}

func TestStream_Enqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewStream(client, "wedding:invites", zerolog.Nop())
	res := s.Deliver(context.Background(), sampleRequest())
	require.True(t, res.OK, res.Message)
	assert.True(t, res.Queued)

	entries, err := client.XRange(context.Background(), "wedding:invites", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inv-1", entries[0].Values["invite_id"])
	assert.Equal(t, "email", entries[0].Values["channel"])

	var body Request
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &body))
	assert.Equal(t, sampleRequest(), body)
}

func TestStream_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	res := NewStream(client, "wedding:invites", zerolog.Nop()).Deliver(context.Background(), sampleRequest())
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "stream enqueue")
}

func TestCompose(t *testing.T) {
	w := Wedding{CoupleNames: "Ana & Leo", Date: "2026-06-20", Location: "Lisbon", LinkBase: "https://rsvp.example.com/r"}
	inv := &models.Invite{Token: "tok", Channel: models.ChannelEmail}

	subject, body, link := w.Compose(inv, "Tamar")
	assert.Equal(t, "Wedding invitation: Ana & Leo", subject)
	assert.Equal(t, "https://rsvp.example.com/r?token=tok", link)
	assert.Contains(t, body, "Dear Tamar")
	assert.Contains(t, body, "📍 Location: Lisbon")
	assert.Contains(t, body, link)

	w.LinkBase = "https://rsvp.example.com/r?lang=pt"
	_, _, link = w.Compose(inv, "Tamar")
	assert.Equal(t, "https://rsvp.example.com/r?lang=pt&token=tok", link)

	w.LinkBase = ""
	inv.Channel = models.ChannelWhatsApp
	_, body, link = w.Compose(inv, "Tamar")
	assert.Empty(t, link)
	assert.Contains(t, body, "*YES* to accept")
}
