package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/contact"
	"wedding-invites/internal/delivery"
)

// MessageHandler receives inbound text messages keyed by the sender's phone
type MessageHandler func(ctx context.Context, phone, text string) error

// ErrNotOnWhatsApp is returned when a number has no WhatsApp account
var ErrNotOnWhatsApp = errors.New("number is not registered on WhatsApp")

type Config struct {
	DataDir            string
	DefaultCountryCode string
}

// Service is a linked WhatsApp device used to send invites and receive
// replies
type Service struct {
	client         *whatsmeow.Client
	cfg            Config
	log            zerolog.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
}

// NewService opens the device session stored under cfg.DataDir
func NewService(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(cfg.DataDir, "whatsmeow.db"))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	service := &Service{
		client: whatsmeow.NewClient(deviceStore, nil),
		cfg:    cfg,
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
	service.client.AddEventHandler(service.eventHandler)
	return service, nil
}

// Connect connects to WhatsApp. An unpaired device prints a pairing QR code
// to out and waits for the scan.
func (s *Service) Connect(ctx context.Context, out io.Writer) error {
	if s.client.Store.ID != nil {
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, err := s.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pairing channel: %w", err)
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			s.log.Info().Str("event", evt.Event).Msg("Login event")
			continue
		}
		q, err := qrcode.New(evt.Code, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(out, "QR Code: %s\n", evt.Code)
			continue
		}
		fmt.Fprintln(out, "\n"+q.ToSmallString(false))
		fmt.Fprintln(out, "📱 Scan the QR code above in WhatsApp > Settings > Linked Devices > Link a Device")
	}
	return nil
}

// Disconnect disconnects from WhatsApp
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// SendMessage sends a text message to a phone number
func (s *Service) SendMessage(ctx context.Context, phone, text string) error {
	jid, err := s.resolve(ctx, phone)
	if err != nil {
		return err
	}

	s.log.Debug().Str("jid", jid.String()).Msg("Attempting to send message")
	sent, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: &text})
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid.User, err)
	}
	s.log.Info().Str("jid", jid.String()).Str("message_id", sent.ID).Msg("Message sent")
	return nil
}

// Deliver implements delivery.Channel
func (s *Service) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	err := s.SendMessage(ctx, req.Recipient, req.Body)
	switch {
	case err == nil:
		return delivery.Result{OK: true, Message: "sent via whatsapp"}
	case errors.Is(err, ErrNotOnWhatsApp):
		return delivery.Result{OK: false, Message: err.Error()}
	default:
		terr := &apperr.TransientError{Op: "whatsapp delivery", Err: err}
		s.log.Warn().Err(terr).Str("invite_id", req.InviteID).Msg("WhatsApp delivery failed")
		return delivery.Result{OK: false, Message: terr.Error()}
	}
}

// resolve asks WhatsApp for the account JID of a phone number
func (s *Service) resolve(ctx context.Context, phone string) (types.JID, error) {
	number := contact.NormalizePhone(phone, s.cfg.DefaultCountryCode)
	if number == "" {
		return types.EmptyJID, fmt.Errorf("invalid phone number %q", phone)
	}

	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return types.EmptyJID, fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.EmptyJID, fmt.Errorf("%w: %s", ErrNotOnWhatsApp, number)
	}
	return resp[0].JID, nil
}

// eventHandler handles incoming WhatsApp events
func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Warn().Msg("Logged out from WhatsApp")
	}
}

func (s *Service) handleMessage(msg *events.Message) {
	phone, text, ok := inbound(msg)
	if !ok {
		return
	}

	s.mu.RLock()
	handle := s.messageHandler
	s.mu.RUnlock()
	if handle == nil {
		s.log.Info().Str("sender", phone).Msg("Received message")
		return
	}
	if err := handle(context.Background(), phone, text); err != nil {
		s.log.Error().Err(err).Str("sender", phone).Msg("Error handling message")
	}
}

// inbound extracts the sender's phone and the text of a direct message.
// Own messages, group messages and non-text messages are skipped.
func inbound(msg *events.Message) (phone, text string, ok bool) {
	if msg == nil || msg.Message == nil || msg.Info.IsFromMe || msg.Info.IsGroup {
		return "", "", false
	}
	text = msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", false
	}
	return msg.Info.Sender.User, text, true
}

// SetMessageHandler sets the handler for inbound messages
func (s *Service) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}
