package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Wedding  WeddingConfig  `yaml:"wedding"`
	QR       QRConfig       `yaml:"qr"`
	Invites  InvitesConfig  `yaml:"invites"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Redis    RedisConfig    `yaml:"redis"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Retry    RetryConfig    `yaml:"retry"`
}

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	Migrate       bool   `yaml:"migrate"`
	UpgradeSchema bool   `yaml:"upgrade_schema"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WeddingConfig struct {
	TenantID           string `yaml:"tenant_id"`
	DefaultEvent       string `yaml:"default_event"`
	CoupleNames        string `yaml:"couple_names"`
	Date               string `yaml:"date"`
	Location           string `yaml:"location"`
	Timezone           string `yaml:"timezone"`
	DefaultCountryCode string `yaml:"default_country_code"`
}

type QRConfig struct {
	// Key is 32 bytes, hex or base64 encoded. QR codes are disabled without it.
	Key string `yaml:"key"`
}

type InvitesConfig struct {
	LinkBase string `yaml:"link_base"`
}

type WhatsAppConfig struct {
	DataDir string `yaml:"data_dir"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

type WebhookConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// Transport names accepted in DeliveryConfig
const (
	TransportWhatsApp = "whatsapp"
	TransportWebhook  = "webhook"
	TransportStream   = "stream"
	TransportNone     = "none"
)

// DeliveryConfig picks the transport of each invite channel
type DeliveryConfig struct {
	Email    string `yaml:"email"`
	SMS      string `yaml:"sms"`
	WhatsApp string `yaml:"whatsapp"`
}

type RetryConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "data/wedding.db", Migrate: true},
		Log:      LogConfig{Level: "info", Format: "console"},
		Wedding: WeddingConfig{
			TenantID:     "default",
			DefaultEvent: "wedding",
			CoupleNames:  "Bride & Groom",
			Date:         "Saturday, January 1, 2025",
			Location:     "Venue TBD",
			Timezone:     "UTC",
		},
		WhatsApp: WhatsAppConfig{DataDir: "data"},
		Redis:    RedisConfig{Addr: "localhost:6379", Stream: "wedding:invites:outbound"},
		Webhook:  WebhookConfig{Timeout: 10 * time.Second, RetryCount: 2},
		Delivery: DeliveryConfig{Email: TransportWebhook, SMS: TransportWebhook, WhatsApp: TransportWhatsApp},
		Retry:    RetryConfig{RatePerSecond: 1, Burst: 1},
	}
}

// LoadConfig loads defaults, then the YAML file at path if given, then
// environment variables
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Database.Migrate = getEnvBool("DATABASE_MIGRATE", c.Database.Migrate)
	c.Database.UpgradeSchema = getEnvBool("DATABASE_UPGRADE_SCHEMA", c.Database.UpgradeSchema)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Wedding.TenantID = getEnv("WEDDING_TENANT_ID", c.Wedding.TenantID)
	c.Wedding.DefaultEvent = getEnv("WEDDING_DEFAULT_EVENT", c.Wedding.DefaultEvent)
	c.Wedding.CoupleNames = getEnv("WEDDING_COUPLE_NAMES", c.Wedding.CoupleNames)
	c.Wedding.Date = getEnv("WEDDING_DATE", c.Wedding.Date)
	c.Wedding.Location = getEnv("WEDDING_LOCATION", c.Wedding.Location)
	c.Wedding.Timezone = getEnv("WEDDING_TIMEZONE", c.Wedding.Timezone)
	c.Wedding.DefaultCountryCode = getEnv("WEDDING_COUNTRY_CODE", c.Wedding.DefaultCountryCode)

	c.QR.Key = getEnv("QR_KEY", c.QR.Key)
	c.Invites.LinkBase = getEnv("INVITES_LINK_BASE", c.Invites.LinkBase)
	c.WhatsApp.DataDir = getEnv("WHATSAPP_DATA_DIR", c.WhatsApp.DataDir)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnv("REDIS_STREAM", c.Redis.Stream)

	c.Webhook.BaseURL = getEnv("WEBHOOK_BASE_URL", c.Webhook.BaseURL)
	c.Webhook.APIKey = getEnv("WEBHOOK_API_KEY", c.Webhook.APIKey)
	c.Webhook.Timeout = getEnvDuration("WEBHOOK_TIMEOUT", c.Webhook.Timeout)

	c.Delivery.Email = getEnv("DELIVERY_EMAIL", c.Delivery.Email)
	c.Delivery.SMS = getEnv("DELIVERY_SMS", c.Delivery.SMS)
	c.Delivery.WhatsApp = getEnv("DELIVERY_WHATSAPP", c.Delivery.WhatsApp)
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if c.Wedding.TenantID == "" {
		return fmt.Errorf("wedding.tenant_id is required")
	}
	if _, err := time.LoadLocation(c.Wedding.Timezone); err != nil {
		return fmt.Errorf("invalid wedding.timezone %q: %w", c.Wedding.Timezone, err)
	}
	for name, t := range map[string]string{"email": c.Delivery.Email, "sms": c.Delivery.SMS, "whatsapp": c.Delivery.WhatsApp} {
		switch t {
		case "", TransportWhatsApp, TransportWebhook, TransportStream, TransportNone:
		default:
			return fmt.Errorf("invalid delivery.%s transport %q", name, t)
		}
	}
	return nil
}

// Location returns the wedding's time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Wedding.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
