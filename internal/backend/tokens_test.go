package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{Secret: []byte("secret"), Issuer: "test", Audience: "wirechat", TTL: time.Hour}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testTokenConfig()
	now := time.Now()

	token, err := GenerateToken(cfg, "u1", "u1@example.com", now)
	require.NoError(t, err)

	claims, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	other, err := GenerateToken(cfg, "u1", "u1@example.com", now)
	require.NoError(t, err)
	assert.NotEqual(t, token, other, "tokens carry unique ids")

	// The client reads the same expiry without the secret.
	exp, ok := auth.ExpiresAt(token)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(time.Hour), exp, time.Second)
}

func TestParseTokenRejects(t *testing.T) {
	cfg := testTokenConfig()

	expired, err := GenerateToken(cfg, "u1", "", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = ParseToken(cfg, expired)
	assert.Error(t, err)

	token, err := GenerateToken(cfg, "u1", "", time.Now())
	require.NoError(t, err)

	wrongSecret := cfg
	wrongSecret.Secret = []byte("other")
	_, err = ParseToken(wrongSecret, token)
	assert.Error(t, err)

	wrongAudience := cfg
	wrongAudience.Audience = "elsewhere"
	_, err = ParseToken(wrongAudience, token)
	assert.Error(t, err)

	wrongIssuer := cfg
	wrongIssuer.Issuer = "someone-else"
	_, err = ParseToken(wrongIssuer, token)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "hunter22"))
	assert.Error(t, ComparePassword(hash, "hunter23"))
}
