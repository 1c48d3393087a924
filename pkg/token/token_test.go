package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	SetSecret("unit-test-secret")

	tok, err := GenerateJWT("u-1", RoleMember, "escrow_service")
	require.NoError(t, err)

	claims, err := ParseJWT(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "member", claims.Role)
	assert.Equal(t, "escrow_service", claims.Issuer)
	assert.Greater(t, RemainingTTL(claims), 59*time.Minute)
}

func TestParseInvalid(t *testing.T) {
	SetSecret("unit-test-secret")

	_, err := ParseJWT("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	tok, err := GenerateJWT("u-1", "member", "x")
	require.NoError(t, err)
	SetSecret("another-secret")
	_, err = ParseJWT(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer "))
	assert.Equal(t, "", BearerToken(""))
}

func TestRemainingTTLExpired(t *testing.T) {
	assert.Zero(t, RemainingTTL(nil))
	assert.Zero(t, RemainingTTL(&Claims{}))
}
