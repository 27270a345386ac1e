package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInviteBlockReason(t *testing.T) {
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	one := 1

	tests := []struct {
		name string
		inv  *Invite
		want string
	}{
		{"nil", nil, BlockNotFound},
		{"usable", &Invite{Status: InviteSent, ExpiresAt: &future}, ""},
		{"revoked_at", &Invite{Status: InviteSent, RevokedAt: &past}, BlockRevoked},
		{"revoked status only", &Invite{Status: InviteRevoked}, BlockRevoked},
		{"expiry passed", &Invite{Status: InviteDelivered, ExpiresAt: &now}, BlockExpired},
		{"expired status only", &Invite{Status: InviteExpired}, BlockExpired},
		{"exhausted", &Invite{Status: InviteOpened, UsesCount: 1, MaxUses: &one}, BlockExhausted},
		{"revoked wins over exhausted", &Invite{Status: InviteRevoked, UsesCount: 1, MaxUses: &one}, BlockRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inv.BlockReason(now))
			assert.Equal(t, tt.want == "", tt.inv.Usable(now))
		})
	}
}
