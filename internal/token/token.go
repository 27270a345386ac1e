// Package token issues invite bearer tokens and the encrypted guest codes
// printed as QR images for check-in.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/chacha20poly1305"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/models"
)

// QRPrefix marks payloads produced by this codec so scanners can tell them
// apart from other QR codes.
const QRPrefix = "WEDQR1:"

const envelopeVersion = 1

var errMalformed = errors.New("malformed code")

// envelope is the plaintext sealed into a guest code
type envelope struct {
	V        int    `json:"v"`
	TenantID string `json:"tenant_id"`
	GuestID  string `json:"guest_id"`
	IssuedAt int64  `json:"issued_at"`
}

// Issued is a freshly issued guest code
type Issued struct {
	Token     string `json:"token"`
	QRPayload string `json:"qr_payload"`
}

// Codec seals and opens guest codes with XChaCha20-Poly1305
type Codec struct {
	key []byte
	log zerolog.Logger
	now func() time.Time
}

// NewCodec creates a codec from a 32-byte key
func NewCodec(key []byte, log zerolog.Logger) (*Codec, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("qr key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Codec{
		key: append([]byte(nil), key...),
		log: log.With().Str("component", "token").Logger(),
		now: time.Now,
	}, nil
}

// ParseKey decodes a key given as hex or base64
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("qr key is empty")
	}
	if len(s) == hex.EncodedLen(chacha20poly1305.KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("qr key must be %d bytes encoded as hex or base64", chacha20poly1305.KeySize)
}

// Issue seals a code identifying guest within its tenant
func (c *Codec) Issue(guest *models.Guest) (*Issued, error) {
	if guest == nil || guest.ID == "" || guest.TenantID == "" {
		return nil, errors.New("guest must have an id and a tenant")
	}

	plaintext, err := json.Marshal(envelope{
		V:        envelopeVersion,
		TenantID: guest.TenantID,
		GuestID:  guest.ID,
		IssuedAt: c.now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal code: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	tok := base64.RawURLEncoding.EncodeToString(sealed)
	return &Issued{Token: tok, QRPayload: QRPrefix + tok}, nil
}

// Resolve opens a scanned code and returns the guest id it names. The prefix
// is optional. Malformed codes and codes of another tenant fail alike.
func (c *Codec) Resolve(raw, tenantID string) (string, error) {
	env, err := c.open(raw)
	if err != nil {
		c.log.Debug().Err(err).Str("tenant_id", tenantID).Msg("Rejected malformed code")
		return "", apperr.Invalid(apperr.ReasonInvalidCode, "invalid check-in code")
	}
	if env.TenantID != tenantID {
		c.log.Warn().
			Str("tenant_id", tenantID).
			Str("code_tenant_id", env.TenantID).
			Str("guest_id", env.GuestID).
			Msg("Rejected code issued for another wedding")
		return "", apperr.Invalid(apperr.ReasonInvalidCode, "invalid check-in code")
	}
	return env.GuestID, nil
}

func (c *Codec) open(raw string) (*envelope, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), QRPrefix)
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", errMalformed)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.GuestID == "" || env.TenantID == "" {
		return nil, fmt.Errorf("%w: missing ids", errMalformed)
	}
	return &env, nil
}

// GenerateInviteToken returns a random URL-safe bearer token
func GenerateInviteToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is the lookup key stored for a bearer token
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// RenderQR encodes payload as a PNG of size pixels
func RenderQR(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}
