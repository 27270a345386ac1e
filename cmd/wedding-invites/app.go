package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wedding-invites/internal/audit"
	"wedding-invites/internal/checkin"
	"wedding-invites/internal/config"
	"wedding-invites/internal/delivery"
	"wedding-invites/internal/incident"
	"wedding-invites/internal/invites"
	"wedding-invites/internal/logging"
	"wedding-invites/internal/models"
	"wedding-invites/internal/rsvp"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/token"
	"wedding-invites/internal/whatsapp"
)

type appOptions struct {
	// migrate applies the schema and optional columns regardless of config
	migrate bool
}

// app wires the engine from configuration for one command
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	tenant string

	store    *storage.Store
	codec    *token.Codec
	invites  *invites.Manager
	rsvp     *rsvp.Pipeline
	checkin  *checkin.Recorder
	incident *incident.Service

	mu    sync.Mutex
	wa    *whatsapp.Service
	redis *redis.Client
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, "wedding-invites")

	if cfg.Database.Driver == string(storage.DialectSQLite) {
		dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(cfg.Database.DSN, "?", 2)[0], "file:"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.DSN,
		Migrate:       cfg.Database.Migrate || opts.migrate,
		UpgradeSchema: cfg.Database.UpgradeSchema || opts.migrate,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store, tenant: cfg.Wedding.TenantID}
	if tenantFlag != "" {
		a.tenant = tenantFlag
	}

	if cfg.QR.Key != "" {
		key, err := token.ParseKey(cfg.QR.Key)
		if err != nil {
			store.Close()
			return nil, err
		}
		if a.codec, err = token.NewCodec(key, log); err != nil {
			store.Close()
			return nil, err
		}
	}

	auditor := audit.NewWriter(log)
	a.invites = invites.NewManager(store, auditor, store.Capabilities(), log)
	a.rsvp = rsvp.NewPipeline(store, a.invites, auditor, rsvp.Options{DefaultCountryCode: cfg.Wedding.DefaultCountryCode}, log)
	a.checkin = checkin.NewRecorder(store, a.codec, auditor, checkin.Options{Location: cfg.Location()}, log)
	a.incident = incident.NewService(store, a.invites, auditor, a.router(), incident.Options{
		Wedding: delivery.Wedding{
			CoupleNames: cfg.Wedding.CoupleNames,
			Date:        cfg.Wedding.Date,
			Location:    cfg.Wedding.Location,
			LinkBase:    cfg.Invites.LinkBase,
		},
		RatePerSecond: cfg.Retry.RatePerSecond,
		Burst:         cfg.Retry.Burst,
	}, log)
	return a, nil
}

func (a *app) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wa != nil {
		a.wa.Disconnect()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
}

// router maps each invite channel to its configured transport. Transports
// are built on first use, so a command that only sends email never links
// WhatsApp.
func (a *app) router() *delivery.Router {
	routes := map[models.Channel]delivery.Channel{}
	for ch, name := range map[models.Channel]string{
		models.ChannelEmail:    a.cfg.Delivery.Email,
		models.ChannelSMS:      a.cfg.Delivery.SMS,
		models.ChannelWhatsApp: a.cfg.Delivery.WhatsApp,
	} {
		if name == "" || name == config.TransportNone {
			continue
		}
		name := name
		routes[ch] = &lazyTransport{build: func(ctx context.Context) (delivery.Channel, error) {
			return a.transport(ctx, name)
		}}
	}
	return delivery.NewRouter(routes)
}

func (a *app) transport(ctx context.Context, name string) (delivery.Channel, error) {
	switch name {
	case config.TransportWebhook:
		if a.cfg.Webhook.BaseURL == "" {
			return nil, fmt.Errorf("webhook.base_url is not configured")
		}
		return delivery.NewWebhook(delivery.WebhookConfig{
			BaseURL:    a.cfg.Webhook.BaseURL,
			APIKey:     a.cfg.Webhook.APIKey,
			Timeout:    a.cfg.Webhook.Timeout,
			RetryCount: a.cfg.Webhook.RetryCount,
		}, a.log), nil
	case config.TransportStream:
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return delivery.NewStream(client, a.cfg.Redis.Stream, a.log), nil
	case config.TransportWhatsApp:
		wa, err := a.whatsApp(ctx)
		if err != nil {
			return nil, err
		}
		return wa, nil
	}
	return nil, fmt.Errorf("unknown transport %q", name)
}

func (a *app) redisClient(ctx context.Context) (*redis.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.redis != nil {
		return a.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	return client, nil
}

// whatsApp links and connects the WhatsApp device, printing a pairing code
// the first time
func (a *app) whatsApp(ctx context.Context) (*whatsapp.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wa != nil {
		return a.wa, nil
	}
	if err := os.MkdirAll(a.cfg.WhatsApp.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create whatsapp data directory: %w", err)
	}
	wa, err := whatsapp.NewService(ctx, whatsapp.Config{
		DataDir:            a.cfg.WhatsApp.DataDir,
		DefaultCountryCode: a.cfg.Wedding.DefaultCountryCode,
	}, a.log)
	if err != nil {
		return nil, err
	}
	if err := wa.Connect(ctx, os.Stdout); err != nil {
		return nil, err
	}
	a.wa = wa
	return wa, nil
}

// lazyTransport builds its transport on the first delivery. A transport
// that cannot be built fails every delivery with the build error.
type lazyTransport struct {
	once  sync.Once
	build func(ctx context.Context) (delivery.Channel, error)
	ch    delivery.Channel
	err   error
}

func (l *lazyTransport) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	l.once.Do(func() { l.ch, l.err = l.build(ctx) })
	if l.err != nil {
		return delivery.Result{OK: false, Message: l.err.Error()}
	}
	return l.ch.Deliver(ctx, req)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
