package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
)

// Stream enqueues messages on a Redis stream for an external sender
type Stream struct {
	client *redis.Client
	stream string
	log    zerolog.Logger
}

// NewStream creates a queue transport
func NewStream(client *redis.Client, stream string, log zerolog.Logger) *Stream {
	return &Stream{
		client: client,
		stream: stream,
		log:    log.With().Str("component", "stream").Logger(),
	}
}

// Deliver implements Channel. Success means queued.
func (s *Stream) Deliver(ctx context.Context, req Request) Result {
	data, err := json.Marshal(req)
	if err != nil {
		return Result{OK: false, Message: fmt.Sprintf("failed to encode message: %v", err)}
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"message_id": req.MessageID,
			"tenant_id":  req.TenantID,
			"invite_id":  req.InviteID,
			"channel":    string(req.Channel),
			"recipient":  req.Recipient,
			"data":       string(data),
			"timestamp":  time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		terr := &apperr.TransientError{Op: "stream enqueue", Err: err}
		s.log.Warn().Err(terr).Str("invite_id", req.InviteID).Msg("Failed to enqueue message")
		return Result{OK: false, Message: terr.Error()}
	}

	s.log.Debug().Str("invite_id", req.InviteID).Str("entry_id", id).Msg("Message enqueued")
	return Result{OK: true, Queued: true, Message: fmt.Sprintf("queued on %s as %s", s.stream, id)}
}
