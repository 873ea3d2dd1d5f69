package service

import (
	"testing"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret")

	token, err := v.Issue(models.Identity{UserID: 42, Tier: models.TierPro}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: 42, Tier: models.TierPro}, id)
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier("secret")

	other, err := NewTokenVerifier("other").Issue(models.Identity{UserID: 1, Tier: models.TierFree}, time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue(models.Identity{UserID: 1, Tier: models.TierFree}, -time.Minute)
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":     "not-a-jwt",
		"wrong key":   other,
		"expired":     expired,
		"bad subject": badSubject,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenVerifier_UnknownTierIsFree(t *testing.T) {
	v := NewTokenVerifier("secret")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Tier:             "platinum",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "9"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, id.Tier)
	assert.EqualValues(t, 30_000, id.MonthlyTokenLimit())
}
